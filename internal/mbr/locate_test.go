package mbr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// writePTE renders a partition table entry at the idx'th slot of sector
// (a 512-byte MBR fixture), matching the byte layout PartitionTable reads.
func writePTE(sector []byte, idx int, typ PartitionType, startLBA, numLBA uint32) {
	off := pteOffset + idx*pteLen
	sector[off+4] = byte(typ)
	binary.LittleEndian.PutUint32(sector[off+8:], startLBA)
	binary.LittleEndian.PutUint32(sector[off+12:], numLBA)
}

func TestFindFAT32BootSector(t *testing.T) {
	sector := make([]byte, 512)
	binary.LittleEndian.PutUint16(sector[bootSignatureOff:], BootSignature)
	writePTE(sector, 1, PartitionTypeFAT32LBA, 8192, 1_000_000)

	lba, err := FindFAT32BootSector(sector)
	require.NoError(t, err)
	require.EqualValues(t, 8192, lba)
}

func TestFindFAT32BootSector_NoSignature(t *testing.T) {
	sector := make([]byte, 512)
	_, err := FindFAT32BootSector(sector)
	require.Error(t, err)
}

func TestFindFAT32BootSector_NoFAT32Entry(t *testing.T) {
	sector := make([]byte, 512)
	binary.LittleEndian.PutUint16(sector[bootSignatureOff:], BootSignature)
	writePTE(sector, 0, PartitionTypeLinux, 2048, 4096)

	lba, err := FindFAT32BootSector(sector)
	require.Error(t, err)
	require.EqualValues(t, NoFAT32Partition, lba)
}
