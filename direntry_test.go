package sdfat32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortNameMatchesNoDot(t *testing.T) {
	var sn ShortName
	name := shortNameFixture("README", "")
	copy(sn.Name[:], name[0:8])
	copy(sn.Ext[:], name[8:11])
	require.True(t, sn.Matches("README"))
	require.False(t, sn.Matches("readme"))
	require.False(t, sn.Matches("README.TXT"))
}

func TestShortNameMatchesWithExtension(t *testing.T) {
	var sn ShortName
	name := shortNameFixture("README", "TXT")
	copy(sn.Name[:], name[0:8])
	copy(sn.Ext[:], name[8:11])
	require.True(t, sn.Matches("README.TXT"))
	require.False(t, sn.Matches("README.DOC"))
	// A dot-less query compares the name bytes only; the extension bytes
	// are not consulted.
	require.True(t, sn.Matches("README"))
}

func TestShortNameString(t *testing.T) {
	var sn ShortName
	name := shortNameFixture("A", "B")
	copy(sn.Name[:], name[0:8])
	copy(sn.Ext[:], name[8:11])
	require.Equal(t, "A.B", sn.String())
}

// buildRootSectorWithLongName builds a single-sector directory fixture
// listing one short-name file entry preceded by one long-name slot spelling
// "notes.txt".
func buildRootSectorWithLongName(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 512)
	// "notes.txt" is 9 chars, fits in one 13-char slot, so use a single
	// long-name slot (ordinal 1, LAST).
	writeLongSlot(buf, 0, 1, true, "notes.txt")
	writeShortEntry(buf, 32, "NOTES", "TXT", AttrArchive, 10, 123)
	return buf
}

func TestForEachEntryAssemblesLongName(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	dev.setSector(int64(bpb.ClusterSector(2)), buildRootSectorWithLongName(t))

	var got []DirEntry
	err := ForEachEntry(dev, bpb, 2, func(de DirEntry) (bool, error) {
		got = append(got, de)
		return true, nil
	})
	require.Error(t, err) // EndOfDirectory once the sector's free terminator is hit
	var fe *FatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, EndOfDirectory, fe.Kind)

	require.Len(t, got, 1)
	require.Equal(t, "notes.txt", got[0].LongName)
	require.Equal(t, "NOTES.TXT", got[0].ShortName.String())
	require.EqualValues(t, 10, got[0].FirstCluster)
	require.EqualValues(t, 123, got[0].Size)
}

func TestForEachEntryStopsAtFreeTerminator(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	buf := make([]byte, 512)
	writeShortEntry(buf, 0, "A", "", AttrArchive, 10, 1)
	// buf[32] stays 0x00: terminator.
	dev.setSector(int64(bpb.ClusterSector(2)), buf)

	count := 0
	err := ForEachEntry(dev, bpb, 2, func(de DirEntry) (bool, error) {
		count++
		return true, nil
	})
	require.Error(t, err)
	require.Equal(t, 1, count)
}

func TestForEachEntrySkipsDeleted(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	buf := make([]byte, 512)
	buf[0] = entryDeleted
	writeShortEntry(buf, 32, "B", "", AttrArchive, 10, 1)
	dev.setSector(int64(bpb.ClusterSector(2)), buf)

	var names []string
	err := ForEachEntry(dev, bpb, 2, func(de DirEntry) (bool, error) {
		names = append(names, de.ShortName.String())
		return true, nil
	})
	require.Error(t, err)
	require.Equal(t, []string{"B"}, names)
}

func TestForEachEntryEarlyStop(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	buf := make([]byte, 512)
	writeShortEntry(buf, 0, "A", "", AttrArchive, 10, 1)
	writeShortEntry(buf, 32, "B", "", AttrArchive, 11, 2)
	dev.setSector(int64(bpb.ClusterSector(2)), buf)

	count := 0
	err := ForEachEntry(dev, bpb, 2, func(de DirEntry) (bool, error) {
		count++
		return false, nil // stop after first entry
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestForEachEntryCorruptFatEntry(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	buf := make([]byte, 512)
	// ordinal 2 is LAST but no ordinal-1 slot directly precedes the short
	// entry: the short entry follows immediately, violating the invariant.
	writeLongSlot(buf, 0, 2, true, "broken")
	writeShortEntry(buf, 32, "BROKEN", "", AttrArchive, 10, 1)
	dev.setSector(int64(bpb.ClusterSector(2)), buf)

	err := ForEachEntry(dev, bpb, 2, func(de DirEntry) (bool, error) {
		return true, nil
	})
	require.Error(t, err)
	var fe *FatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, CorruptFatEntry, fe.Kind)
}

func TestForEachEntryLongNameCrossesSectorBoundary(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	sector0 := make([]byte, 512)
	// Slots 0..14 are deleted entries so the walk reaches offset 480
	// instead of stopping at a 0x00 terminator.
	for off := 0; off < 480; off += entrySize {
		sector0[off] = entryDeleted
	}
	// LAST long-name slot (ordinal 1) occupies the final 32 bytes of the
	// sector: shortPos = 480 + 32*1 = 512, the "== secLen" boundary case.
	writeLongSlot(sector0, 480, 1, true, "boundary.txt")
	sector1 := make([]byte, 512)
	writeShortEntry(sector1, 0, "BOUND", "TXT", AttrArchive, 20, 5)

	base := int64(bpb.ClusterSector(2))
	dev.setSector(base, sector0)
	dev.setSector(base+1, sector1)

	var got []DirEntry
	err := ForEachEntry(dev, bpb, 2, func(de DirEntry) (bool, error) {
		got = append(got, de)
		return true, nil
	})
	require.Error(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "boundary.txt", got[0].LongName)
}
