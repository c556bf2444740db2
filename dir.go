package sdfat32

import (
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"github.com/soypat/sdfat32/sdspi"
)

// discardLogger mirrors sdspi.discardLogger: a no-op *slog.Logger used as
// the default when a Volume isn't given one via WithLogger.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// illegalNameChars are the characters spec §4.6 forbids in a name passed to
// SetCurrentDirectory or PrintFile.
const illegalNameChars = `\/:*?"<>|`

// Filter is the entry-filter bitmask ListCurrentDirectory accepts, selecting
// which columns are printed for each entry (spec §3's "entry-filter
// bitmask").
type Filter uint8

const (
	FilterShortName Filter = 1 << iota
	FilterLongName
	FilterHidden
	FilterCreation
	FilterLastAccess
	FilterLastModified
)

// DefaultFilter matches the source's default listing: both name forms,
// hidden entries excluded.
const DefaultFilter = FilterShortName | FilterLongName

// Cursor is the current-directory handle (spec §3's "current-directory
// cursor"), an explicit value passed to operations instead of process-wide
// state (spec §9's first re-architecture flag). The zero Cursor is not
// valid; use RootCursor.
type Cursor struct {
	FirstCluster uint32

	ShortName string
	LongName  string

	ShortParentPath string
	LongParentPath  string
}

// RootCursor returns the cursor for the volume root, per spec §3's
// invariant that firstCluster == rootCluster implies both name fields are
// "/" and both parent paths are empty.
func RootCursor(bpb BPB) Cursor {
	return Cursor{
		FirstCluster: bpb.RootCluster,
		ShortName:    "/",
		LongName:     "/",
	}
}

// Volume bundles a mounted BPB, its block device, and a logger, and is the
// receiver for the directory-engine operations (C6). Grouping them here
// keeps SetCurrentDirectory/ListCurrentDirectory/PrintFile's signatures
// down to (cursor, name) the way spec §6 specifies, while still giving each
// operation access to geometry and the device without reaching for a
// package-level global (spec §9's redesign of process-wide state).
type Volume struct {
	Dev sdspi.BlockDevice
	BPB BPB
	log *slog.Logger
}

// Mount implements the mount(bpb_out) -> code external interface (spec §6):
// it locates and validates the boot sector via Load, and on success
// returns a Volume plus the root Cursor ready for cd/ls/cat.
func Mount(dev sdspi.BlockDevice) (*Volume, Cursor, error) {
	bpb, err := Load(dev)
	if err != nil {
		return nil, Cursor{}, err
	}
	return &Volume{Dev: dev, BPB: bpb, log: discardLogger()}, RootCursor(bpb), nil
}

// WithLogger returns a copy of v logging through log instead of discarding.
func (v *Volume) WithLogger(log *slog.Logger) *Volume {
	cp := *v
	cp.log = log
	return &cp
}

func (v *Volume) logger() *slog.Logger {
	if v.log == nil {
		return discardLogger()
	}
	return v.log
}

// validName reports whether name passes the common validation spec §4.6
// requires of both SetCurrentDirectory and PrintFile: non-empty, no leading
// space, not all spaces, and none of the characters in illegalNameChars.
func validName(name string) bool {
	if name == "" || name[0] == ' ' {
		return false
	}
	allSpace := true
	for i := 0; i < len(name); i++ {
		if name[i] != ' ' {
			allSpace = false
		}
		if strings.IndexByte(illegalNameChars, name[i]) >= 0 {
			return false
		}
	}
	return !allSpace
}

// SetCurrentDirectory implements cd (spec §4.6). On success cursor is
// mutated in place to the resolved subdirectory; on failure cursor is left
// unchanged and a *FatError is returned.
func (v *Volume) SetCurrentDirectory(cursor *Cursor, name string) error {
	if !validName(name) {
		return errPath(InvalidDirName, name)
	}
	if name == "." {
		return nil
	}
	if name == ".." {
		return v.cdParent(cursor)
	}

	var matched *DirEntry
	err := ForEachEntry(v.Dev, v.BPB, cursor.FirstCluster, func(de DirEntry) (bool, error) {
		if !de.IsDir || !de.MatchesName(name) {
			return true, nil
		}
		found := de
		matched = &found
		return false, nil
	})
	if err != nil {
		if fe, ok := err.(*FatError); ok && fe.Kind == EndOfDirectory {
			return errPath(DirNotFound, name)
		}
		return err
	}
	if matched == nil {
		v.logger().Warn("cd: directory not found", slog.String("name", name))
		return errPath(DirNotFound, name)
	}

	newParentShort, newParentLong := appendPath(cursor.ShortParentPath, cursor.ShortName), appendPath(cursor.LongParentPath, cursor.LongName)
	cursor.FirstCluster = matched.FirstCluster
	cursor.ShortName = matched.ShortName.String()
	cursor.LongName = matched.LongName
	if cursor.LongName == "" {
		cursor.LongName = cursor.ShortName
	}
	cursor.ShortParentPath = newParentShort
	cursor.LongParentPath = newParentLong
	return nil
}

func appendPath(parent, name string) string {
	if name == "/" {
		// Appending the root's own name ("/") to anything just yields the
		// root path itself: this is the root cursor's parent/self pair
		// being extended, not a real path element.
		return "/"
	}
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

// cdParent implements the ".." short-circuit of spec §4.6: it reads the
// cursor's first sector directly (the "." and ".." entries are always the
// first two entries of a non-root directory) and extracts the parent's
// first-cluster field from offsets 52..53 (high word) and 58..59 (low
// word) of the ".." short-name entry, rather than resolving it through
// ForEachEntry's name matching.
func (v *Volume) cdParent(cursor *Cursor) error {
	if cursor.FirstCluster == v.BPB.RootCluster {
		return nil
	}
	sector := v.BPB.ClusterSector(cursor.FirstCluster)
	var buf [512]byte
	if _, err := v.Dev.ReadBlocks(buf[:], int64(sector)); err != nil {
		return errWrap(CorruptFatEntry, err)
	}
	// Entry 0 is ".", entry 1 (bytes 32..63) is "..".
	dotdot := rawEntry(buf[32:64])
	parentCluster := dotdot.cluster()

	if parentCluster == 0 || parentCluster == v.BPB.RootCluster {
		*cursor = RootCursor(v.BPB)
		return nil
	}

	// Resolve the parent's own name/parent-path by looking it up from its
	// own parent — walk up one level using the already-known parent paths
	// on cursor, trimming the last path element.
	shortParent, shortName := splitParentPath(cursor.ShortParentPath)
	longParent, longName := splitParentPath(cursor.LongParentPath)
	cursor.FirstCluster = parentCluster
	cursor.ShortName = shortName
	cursor.LongName = longName
	cursor.ShortParentPath = shortParent
	cursor.LongParentPath = longParent
	return nil
}

// splitParentPath splits a slash-delimited path into its parent portion and
// final element, e.g. "/a/b" -> ("/a", "b"). An empty or "/" path returns
// ("", "/"), the root's own name.
func splitParentPath(path string) (parent, name string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "/"
	}
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return "/", trimmed
	}
	return "/" + trimmed[:idx], trimmed[idx+1:]
}

// listRow is one printed/CSV-exported row of ListCurrentDirectory, shaped
// by the requested Filter.
type listRow struct {
	Name     string `csv:"name"`
	Type     string `csv:"type"`
	Size     string `csv:"size"`
	Created  string `csv:"created"`
	Accessed string `csv:"accessed"`
	Modified string `csv:"modified"`
}

func buildRows(dev sdspi.BlockDevice, bpb BPB, firstCluster uint32, filter Filter) ([]listRow, error) {
	var rows []listRow
	err := ForEachEntry(dev, bpb, firstCluster, func(de DirEntry) (bool, error) {
		if de.Hidden && filter&FilterHidden == 0 {
			return true, nil
		}
		row := listRow{Type: "<FILE>"}
		if de.IsDir {
			row.Type = "<DIR>"
		}
		switch {
		case filter&FilterLongName != 0 && de.LongName != "":
			row.Name = de.LongName
		case filter&FilterShortName != 0:
			row.Name = de.ShortName.String()
		default:
			row.Name = de.ShortName.String()
		}
		if !de.IsDir {
			row.Size = humanize.Bytes(uint64(de.Size))
		}
		if filter&FilterCreation != 0 {
			row.Created = de.CreatedAt.Format("2006-01-02 15:04:05")
		}
		if filter&FilterLastAccess != 0 {
			row.Accessed = de.AccessedAt.Format("2006-01-02")
		}
		if filter&FilterLastModified != 0 {
			row.Modified = de.ModifiedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, row)
		return true, nil
	})
	if err != nil {
		if fe, ok := err.(*FatError); ok && fe.Kind == EndOfDirectory {
			return rows, nil
		}
		return rows, err
	}
	return rows, nil
}

// ListCurrentDirectory implements ls (spec §4.6): it walks cursor's
// clusters, writes a header row for the requested columns, then one line
// per live entry (skipping hidden entries unless FilterHidden is set),
// through sink. It always terminates cleanly at end-of-directory — that is
// not surfaced as an error to the caller, matching the source's contract
// that exhausting the chain is the normal way a listing ends.
func (v *Volume) ListCurrentDirectory(cursor Cursor, filter Filter, sink Sink) error {
	rows, err := buildRows(v.Dev, v.BPB, cursor.FirstCluster, filter)
	if err != nil {
		return err
	}
	header := " SIZE, TYPE, NAME\n"
	if filter&FilterLastModified != 0 {
		header = " MODIFIED," + header
	}
	if filter&FilterLastAccess != 0 {
		header = " ACCESSED," + header
	}
	if filter&FilterCreation != 0 {
		header = " CREATED," + header
	}
	sink.WriteString(header)
	for _, row := range rows {
		for _, col := range [...]string{row.Created, row.Accessed, row.Modified} {
			if col != "" {
				sink.WriteString(col + ", ")
			}
		}
		sink.WriteString(row.Size)
		sink.WriteString(", ")
		sink.WriteString(row.Type)
		sink.WriteString(", ")
		sink.WriteString(row.Name)
		sink.WriteString("\n")
	}
	return nil
}

// ListCurrentDirectoryCSV is a CSV-formatted sibling of
// ListCurrentDirectory (supplemental feature, SPEC_FULL §12): same
// traversal and filter semantics, written as CSV rows through gocsv instead
// of the comma-separated text layout ListCurrentDirectory writes.
func (v *Volume) ListCurrentDirectoryCSV(cursor Cursor, filter Filter, w StringWriter) error {
	rows, err := buildRows(v.Dev, v.BPB, cursor.FirstCluster, filter)
	if err != nil {
		return err
	}
	csv, err := gocsv.MarshalString(&rows)
	if err != nil {
		return err
	}
	_, werr := w.WriteString(csv)
	return werr
}

// StringWriter is the minimal interface ListCurrentDirectoryCSV needs;
// *os.File and *bytes.Buffer both satisfy it.
type StringWriter interface {
	WriteString(s string) (int, error)
}

// PrintFile implements cat (spec §4.6): validate name, find a non-directory
// entry matching it, then stream its clusters to sink with LF replaced by
// CRLF and NUL bytes skipped.
//
// This reproduces Open Question 3 (spec §9) deliberately: the source caps
// streaming at 5 clusters regardless of the file's actual size, truncating
// anything larger. maxStreamedClusters below names that cap as a named
// constant rather than a silent magic number; its value matches the
// source's behavior. See DESIGN.md for why this is kept
// rather than fixed.
const maxStreamedClusters = 5

func (v *Volume) PrintFile(cursor Cursor, name string, sink Sink) error {
	if !validName(name) {
		return errPath(InvalidFileName, name)
	}

	var matched *DirEntry
	err := ForEachEntry(v.Dev, v.BPB, cursor.FirstCluster, func(de DirEntry) (bool, error) {
		if de.IsDir || !de.MatchesName(name) {
			return true, nil
		}
		found := de
		matched = &found
		return false, nil
	})
	if err != nil {
		if fe, ok := err.(*FatError); ok && fe.Kind == EndOfDirectory {
			return errPath(FileNotFound, name)
		}
		return err
	}
	if matched == nil {
		return errPath(FileNotFound, name)
	}
	if matched.Size == 0 {
		return nil
	}

	cluster := matched.FirstCluster
	var buf [512]byte
	for clusterCount := 0; clusterCount < maxStreamedClusters; clusterCount++ {
		sector := v.BPB.ClusterSector(cluster)
		for s := uint32(0); s < uint32(v.BPB.SectorsPerCluster); s++ {
			if _, err := v.Dev.ReadBlocks(buf[:], int64(sector+s)); err != nil {
				return errWrap(CorruptFatEntry, err)
			}
			streamSector(sink, buf[:])
		}
		next, err := NextCluster(v.Dev, v.BPB, cluster)
		if err != nil {
			return err
		}
		if IsEndOfChain(next) {
			return nil
		}
		cluster = next
	}
	return nil
}

// streamSector writes buf to sink, skipping NUL bytes and expanding LF to
// CRLF, per spec §4.6.
func streamSector(sink Sink, buf []byte) {
	for _, b := range buf {
		switch b {
		case 0x00:
			continue
		case '\n':
			sink.WriteByte('\r')
			sink.WriteByte('\n')
		default:
			sink.WriteByte(b)
		}
	}
}
