package sdfat32

import (
	"encoding/binary"
	"time"

	"github.com/soypat/sdfat32/sdspi"
)

// Attribute bits for the directory-entry attribute byte (spec §3).
const (
	AttrReadOnly  byte = 0x01
	AttrHidden    byte = 0x02
	AttrSystem    byte = 0x04
	AttrVolumeID  byte = 0x08
	AttrDirectory byte = 0x10
	AttrArchive   byte = 0x20
	// attrLongName is the combination (RO|H|S|VID) that flags a long-name
	// entry (spec §3).
	attrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	entryFree     = 0x00
	entryDeleted  = 0xE5
	entrySize     = 32
	lastLongFlag  = 0x40 // bit 6 of the ordinal byte
	longNameMaxLen = 256 // LONG_NAME_LEN_MAX, spec §4.5
)

// Short-name entry field offsets within a 32-byte entry (spec §3, §6).
const (
	offShortNameBytes  = 0
	offAttr            = 11
	offCreateTimeTenth = 13
	offCreateTime      = 14
	offCreateDate      = 16
	offLastAccessDate  = 18
	offFirstClusterHi  = 20
	offWriteTime       = 22
	offWriteDate       = 24
	offFirstClusterLo  = 26
	offFileSize        = 28
)

// Long-name entry field offsets (spec §3).
const (
	offLongOrdinal = 0
	offLongChars1  = 1  // 5 chars
	offLongChars2  = 14 // 6 chars
	offLongChars3  = 28 // 2 chars
)

// rawEntry is a 32-byte directory slot.
type rawEntry []byte

func (e rawEntry) isFree() bool     { return e[0] == entryFree }
func (e rawEntry) isDeleted() bool  { return e[0] == entryDeleted }
func (e rawEntry) attr() byte       { return e[offAttr] }
func (e rawEntry) isLongName() bool { return e.attr()&attrLongName == attrLongName }

func (e rawEntry) isDirAttr() bool { return e.attr()&AttrDirectory != 0 }
func (e rawEntry) isHidden() bool  { return e.attr()&AttrHidden != 0 }

func (e rawEntry) shortNameField() (name [8]byte, ext [3]byte) {
	copy(name[:], e[offShortNameBytes:offShortNameBytes+8])
	copy(ext[:], e[offShortNameBytes+8:offShortNameBytes+11])
	return name, ext
}

func (e rawEntry) cluster() uint32 {
	hi := binary.LittleEndian.Uint16(e[offFirstClusterHi:])
	lo := binary.LittleEndian.Uint16(e[offFirstClusterLo:])
	return uint32(hi)<<16 | uint32(lo)
}

func (e rawEntry) size() uint32 { return binary.LittleEndian.Uint32(e[offFileSize:]) }

func (e rawEntry) createDateTime() (date, clock uint16) {
	return binary.LittleEndian.Uint16(e[offCreateDate:]), binary.LittleEndian.Uint16(e[offCreateTime:])
}
func (e rawEntry) lastAccessDate() uint16 {
	return binary.LittleEndian.Uint16(e[offLastAccessDate:])
}
func (e rawEntry) modifiedDateTime() (date, clock uint16) {
	return binary.LittleEndian.Uint16(e[offWriteDate:]), binary.LittleEndian.Uint16(e[offWriteTime:])
}

// lfnSlot is a 32-byte long-name directory slot.
type lfnSlot []byte

func (l lfnSlot) ordinalByte() byte { return l[offLongOrdinal] }
func (l lfnSlot) isLast() bool      { return l.ordinalByte()&lastLongFlag != 0 }
func (l lfnSlot) ordinal() int      { return int(l.ordinalByte() & 0x3F) }

// appendChars extracts the printable 7-bit subset of this slot's 13 UTF-16LE
// code units (offsets 1..10, 14..25, 28..31) and appends them to dst. A
// code unit whose low byte is 0x00 or whose low byte is > 126 is skipped
// rather than terminating the scan, reproducing Open Question 4 (spec §9):
// the source filters on the low byte of each UTF-16 code unit, which
// silently corrupts names containing legitimate high code points. This is
// preserved for compatibility, not fixed.
func (l lfnSlot) appendChars(dst []byte) []byte {
	appendRange := func(dst []byte, off, n int) []byte {
		for i := 0; i < n; i++ {
			b := l[off+2*i]
			if b == 0x00 || b > 126 {
				continue
			}
			dst = append(dst, b)
		}
		return dst
	}
	dst = appendRange(dst, offLongChars1, 5)
	dst = appendRange(dst, offLongChars2, 6)
	dst = appendRange(dst, offLongChars3, 2)
	return dst
}

// DateTime decodes the FAT date/time bit-packed encoding from spec §6:
// date bits 15-9 year-since-1980, 8-5 month, 4-0 day; time bits 15-11 hour,
// 10-5 minute, 4-0 seconds/2.
func DateTime(date, clock uint16) time.Time {
	year := 1980 + int(date>>9)
	month := time.Month((date >> 5) & 0xF)
	day := int(date & 0x1F)
	hour := int(clock >> 11)
	min := int((clock >> 5) & 0x3F)
	sec := 2 * int(clock&0x1F)
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

// DirEntry is one resolved directory entry as yielded by ForEachEntry:
// the short-name entry plus its assembled long name, if any. This is the
// "single iterator that yields (entry, longName, shortName, isDir) tuples"
// refactor spec §9 calls for; SetCurrentDirectory/ListCurrentDirectory/
// PrintFile are each a filter+action over it.
type DirEntry struct {
	ShortName    ShortName
	LongName     string
	IsDir        bool
	Hidden       bool
	FirstCluster uint32
	Size         uint32
	CreatedAt    time.Time
	AccessedAt   time.Time
	ModifiedAt   time.Time
}

// MatchesName reports whether name (a user-supplied path element) matches
// this entry's long name (byte-exact) or short name (per spec §4.5's 8.3
// matching rule).
func (d DirEntry) MatchesName(name string) bool {
	if d.LongName != "" && d.LongName == name {
		return true
	}
	return d.ShortName.Matches(name)
}

// ShortName is the packed 8.3 name (8 name bytes + 3 extension bytes,
// space-padded) of a short-name directory entry.
type ShortName struct {
	Name [8]byte
	Ext  [3]byte
}

// String renders the short name in "NAME.EXT" form (no extension if Ext is
// all spaces).
func (s ShortName) String() string {
	name := trimTrailingSpaces(s.Name[:])
	ext := trimTrailingSpaces(s.Ext[:])
	if len(ext) == 0 {
		return string(name)
	}
	return string(name) + "." + string(ext)
}

func trimTrailingSpaces(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return b[:i]
}

// Matches implements the short-name matching rule of spec §4.5: a
// user-supplied name with no dot, ≤ 8 chars, compared byte-exact against
// bytes 0..len with the remaining name bytes required to be spaces; a
// user-supplied name with a dot splits at the dot, the name portion is
// space-padded to 8, and the extension is compared against bytes 8..10.
func (s ShortName) Matches(name string) bool {
	dot := -1
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		if len(name) > 8 {
			return false
		}
		for i := 0; i < len(name); i++ {
			if s.Name[i] != name[i] {
				return false
			}
		}
		for i := len(name); i < 8; i++ {
			if s.Name[i] != ' ' {
				return false
			}
		}
		return true
	}
	namePart, extPart := name[:dot], name[dot+1:]
	if len(namePart) > 8 || len(extPart) > 3 {
		return false
	}
	var padded [8]byte
	for i := range padded {
		padded[i] = ' '
	}
	copy(padded[:], namePart)
	if padded != s.Name {
		return false
	}
	var paddedExt [3]byte
	for i := range paddedExt {
		paddedExt[i] = ' '
	}
	copy(paddedExt[:], extPart)
	return paddedExt == s.Ext
}

// sectorWalker tracks the current position (cluster, sector-within-cluster,
// loaded bytes, read offset) of a directory traversal. It holds exactly one
// sector buffer; a long name that crosses a sector boundary survives the
// reload because its characters are copied out of each slot as it is read
// — never a cache of more than that (spec's non-goal: "caching of FAT or
// directory sectors beyond one in-flight buffer").
type sectorWalker struct {
	dev     sdspi.BlockDevice
	bpb     BPB
	cluster uint32
	within  uint16 // sector index within cluster
	buf     [512]byte
	pos     int // next unread byte offset within buf, step 32
}

func newSectorWalker(dev sdspi.BlockDevice, bpb BPB, firstCluster uint32) (*sectorWalker, error) {
	w := &sectorWalker{dev: dev, bpb: bpb, cluster: firstCluster}
	if err := w.load(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *sectorWalker) load() error {
	sector := w.bpb.ClusterSector(w.cluster) + uint32(w.within)
	_, err := w.dev.ReadBlocks(w.buf[:], int64(sector))
	return err
}

// advance moves to the next sector in the chain, following the FAT when
// the current sector is the last of its cluster (spec §4.5). It returns
// false once the chain is exhausted (end-of-chain reached).
func (w *sectorWalker) advance() (bool, error) {
	nc, _, nw, err := nextSectorInChain(w.dev, w.bpb, w.cluster, w.within)
	if err != nil {
		return false, err
	}
	if IsEndOfChain(nc) {
		return false, nil
	}
	w.cluster, w.within = nc, nw
	if err := w.load(); err != nil {
		return false, err
	}
	w.pos = 0
	return true, nil
}

// nextSlot returns the next 32-byte directory slot, transparently crossing
// into the next sector (following the FAT chain via advance) when the
// current sector is exhausted. This is what makes the three boundary
// cases of spec §4.5 (short-name position inside, exactly at, or past the
// current sector) fall out of a single sequential consumer instead of
// needing distinct code paths per case: a long-name group that crosses a
// sector boundary just keeps calling nextSlot like any other.
func (w *sectorWalker) nextSlot() (rawEntry, error) {
	if w.pos >= 512 {
		more, err := w.advance()
		if err != nil {
			return nil, err
		}
		if !more {
			return nil, errKind(EndOfDirectory)
		}
	}
	slot := rawEntry(w.buf[w.pos : w.pos+entrySize])
	w.pos += entrySize
	return slot, nil
}

// ForEachEntry walks the directory cluster chain starting at firstCluster,
// classifying entries and assembling long names per spec §4.5/§4.6, and
// calls fn for each live (non-deleted) entry. fn returns cont=false to
// stop early (e.g. once a match is found); ForEachEntry returns nil in
// that case. If the chain is exhausted — either the 0x00 terminator is
// reached or the cluster chain ends without one — ForEachEntry returns an
// *FatError wrapping EndOfDirectory.
func ForEachEntry(dev sdspi.BlockDevice, bpb BPB, firstCluster uint32, fn func(DirEntry) (bool, error)) error {
	w, err := newSectorWalker(dev, bpb, firstCluster)
	if err != nil {
		return errWrap(EndOfDirectory, err)
	}
	// lfnChunks accumulates long-name slot characters in the order they're
	// read off disk: ordinal N (LAST) first, descending to ordinal 1
	// immediately before the short-name entry. Reversed before use, since
	// spec §4.5 assembles the name ordinal-1-first.
	var lfnChunks [][]byte
	lastOrdinalSeen := 0

	for {
		slot, err := w.nextSlot()
		if err != nil {
			return err
		}
		switch {
		case slot.isFree():
			return errKind(EndOfDirectory)
		case slot.isDeleted():
			lfnChunks, lastOrdinalSeen = lfnChunks[:0], 0
			continue
		case slot.isLongName():
			lf := lfnSlot(slot)
			if lf.isLast() {
				lfnChunks = lfnChunks[:0]
			}
			lfnChunks = append(lfnChunks, lf.appendChars(nil))
			lastOrdinalSeen = lf.ordinal()
			continue
		default:
			var name string
			if len(lfnChunks) > 0 {
				if lastOrdinalSeen != 1 {
					return errKind(CorruptFatEntry)
				}
				name = assembleLongName(lfnChunks)
			}
			de := buildDirEntry(slot, name)
			lfnChunks, lastOrdinalSeen = lfnChunks[:0], 0
			cont, err := fn(de)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	}
}

// assembleLongName reverses chunks (collected LAST-first, ordinal
// descending) into ordinal-ascending order and concatenates them, capped
// at LONG_NAME_LEN_MAX bytes (spec §4.5).
func assembleLongName(chunks [][]byte) string {
	var out []byte
	for i := len(chunks) - 1; i >= 0; i-- {
		out = append(out, chunks[i]...)
	}
	if len(out) > longNameMaxLen {
		out = out[:longNameMaxLen]
	}
	return string(out)
}

func buildDirEntry(slot rawEntry, longName string) DirEntry {
	name, ext := slot.shortNameField()
	cDate, cClock := slot.createDateTime()
	mDate, mClock := slot.modifiedDateTime()
	return DirEntry{
		ShortName:    ShortName{Name: name, Ext: ext},
		LongName:     longName,
		IsDir:        slot.isDirAttr(),
		Hidden:       slot.isHidden(),
		FirstCluster: slot.cluster(),
		Size:         slot.size(),
		CreatedAt:    DateTime(cDate, cClock),
		AccessedAt:   DateTime(slot.lastAccessDate(), 0),
		ModifiedAt:   DateTime(mDate, mClock),
	}
}
