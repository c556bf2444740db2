package sdfat32

import (
	"encoding/binary"
	"errors"
)

// fakeDevice is a map-backed sdspi.BlockDevice, following the teacher's
// BlockMap fake (vfs_test.go) so fixtures can be built as a sparse set of
// 512-byte sectors keyed by LBA instead of a giant contiguous image.
type fakeDevice struct {
	data map[int64][512]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{data: make(map[int64][512]byte)}
}

func (d *fakeDevice) setSector(lba int64, b []byte) {
	var block [512]byte
	copy(block[:], b)
	d.data[lba] = block
}

func (d *fakeDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if len(dst)%512 != 0 {
		return 0, errors.New("dst size not multiple of block size")
	}
	n := len(dst) / 512
	for i := 0; i < n; i++ {
		block := d.data[startBlock+int64(i)]
		copy(dst[i*512:(i+1)*512], block[:])
	}
	return len(dst), nil
}

func (d *fakeDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if len(data)%512 != 0 {
		return 0, errors.New("data size not multiple of block size")
	}
	n := len(data) / 512
	for i := 0; i < n; i++ {
		var block [512]byte
		copy(block[:], data[i*512:(i+1)*512])
		d.data[startBlock+int64(i)] = block
	}
	return len(data), nil
}

func (d *fakeDevice) EraseBlocks(startBlock, numBlocks int64) error {
	for i := int64(0); i < numBlocks; i++ {
		delete(d.data, startBlock+i)
	}
	return nil
}

// testBPB is a small, self-consistent geometry shared across the root
// package's tests: one reserved sector holding the boot sector, a single
// one-sector FAT (128 entries per 512-byte sector, so every test cluster's
// entry lands in sector 1), 4 sectors per cluster, root at cluster 2.
var testBPB = BPB{
	BootSectorLBA:       0,
	BytesPerSector:      512,
	SectorsPerCluster:   4,
	ReservedSectorCount: 1,
	NumberOfFATs:        1,
	FATSize32:           1,
	RootCluster:         2,
}

// writeBootSector renders bpb into a 512-byte boot sector fixture matching
// the offsets bpb.go reads.
func writeBootSector(bpb BPB) []byte {
	buf := make([]byte, 512)
	binary.LittleEndian.PutUint16(buf[offBytesPerSector:], bpb.BytesPerSector)
	buf[offSectorsPerCluster] = bpb.SectorsPerCluster
	binary.LittleEndian.PutUint16(buf[offReservedSectors:], bpb.ReservedSectorCount)
	buf[offNumberOfFATs] = bpb.NumberOfFATs
	binary.LittleEndian.PutUint32(buf[offFATSize32:], bpb.FATSize32)
	binary.LittleEndian.PutUint32(buf[offRootCluster:], bpb.RootCluster)
	binary.LittleEndian.PutUint16(buf[offSignature:], bootSignature)
	return buf
}

// setFATEntry writes cluster's next-cluster value into dev's FAT sector per
// bpb's geometry.
func setFATEntry(dev *fakeDevice, bpb BPB, cluster, next uint32) {
	sector, byteOffset := bpb.FATSectorForCluster(cluster)
	block := dev.data[int64(sector)]
	binary.LittleEndian.PutUint32(block[byteOffset:], next&clusterMask)
	dev.data[int64(sector)] = block
}

// shortNameFixture packs name (<=8) and ext (<=3) into the 11 raw bytes of
// an 8.3 name, space-padded.
func shortNameFixture(name, ext string) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[0:8], name)
	copy(raw[8:11], ext)
	return raw
}

// writeShortEntry renders a short-name directory entry at byte offset off of
// buf.
func writeShortEntry(buf []byte, off int, name, ext string, attr byte, firstCluster, size uint32) {
	raw := shortNameFixture(name, ext)
	copy(buf[off+offShortNameBytes:], raw[:])
	buf[off+offAttr] = attr
	binary.LittleEndian.PutUint16(buf[off+offFirstClusterHi:], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(buf[off+offFirstClusterLo:], uint16(firstCluster))
	binary.LittleEndian.PutUint32(buf[off+offFileSize:], size)
}

// writeLongSlot renders one long-name slot at byte offset off of buf holding
// up to 13 runes of name (ASCII only, for test simplicity), with the given
// 1-based ordinal and last flag.
func writeLongSlot(buf []byte, off int, ordinal int, last bool, name string) {
	ord := byte(ordinal)
	if last {
		ord |= lastLongFlag
	}
	buf[off+offLongOrdinal] = ord
	buf[off+offAttr] = attrLongName

	chars := make([]rune, 13)
	for i := range chars {
		chars[i] = 0xFFFF // unused-slot filler per VFAT convention
	}
	for i, r := range name {
		if i >= 13 {
			break
		}
		chars[i] = r
	}
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(buf[off+offLongChars1+2*i:], uint16(chars[i]))
	}
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(buf[off+offLongChars2+2*i:], uint16(chars[5+i]))
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(buf[off+offLongChars3+2*i:], uint16(chars[11+i]))
	}
}
