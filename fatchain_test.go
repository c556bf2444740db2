package sdfat32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextClusterAndEndOfChain(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	setFATEntry(dev, bpb, 2, 3)
	setFATEntry(dev, bpb, 3, EndOfCluster)

	next, err := NextCluster(dev, bpb, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, next)
	require.False(t, IsEndOfChain(next))

	next, err = NextCluster(dev, bpb, 3)
	require.NoError(t, err)
	require.True(t, IsEndOfChain(next))
}

func TestNextSectorInChainWithinCluster(t *testing.T) {
	bpb := testBPB // SectorsPerCluster = 4
	nc, sector, within, err := nextSectorInChain(nil, bpb, 2, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, nc)
	require.EqualValues(t, bpb.ClusterSector(2)+1, sector)
	require.EqualValues(t, 1, within)
}

func TestNextSectorInChainCrossesCluster(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	setFATEntry(dev, bpb, 2, 5)

	nc, sector, within, err := nextSectorInChain(dev, bpb, 2, uint16(bpb.SectorsPerCluster)-1)
	require.NoError(t, err)
	require.EqualValues(t, 5, nc)
	require.EqualValues(t, bpb.ClusterSector(5), sector)
	require.EqualValues(t, 0, within)
}

func TestNextSectorInChainEndOfChain(t *testing.T) {
	dev := newFakeDevice()
	bpb := testBPB
	setFATEntry(dev, bpb, 2, EndOfCluster)

	nc, _, _, err := nextSectorInChain(dev, bpb, 2, uint16(bpb.SectorsPerCluster)-1)
	require.NoError(t, err)
	require.True(t, IsEndOfChain(nc))
}
