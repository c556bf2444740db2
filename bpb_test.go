package sdfat32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWholeDiskVolume(t *testing.T) {
	dev := newFakeDevice()
	dev.setSector(0, writeBootSector(testBPB))

	bpb, err := Load(dev)
	require.NoError(t, err)
	require.Equal(t, testBPB, bpb)
}

func TestLoadNotBootSector(t *testing.T) {
	dev := newFakeDevice()
	dev.setSector(0, make([]byte, 512))

	_, err := Load(dev)
	require.Error(t, err)
	var fe *FatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, NotBootSector, fe.Kind)
}

func TestLoadInvalidBytesPerSector(t *testing.T) {
	bad := testBPB
	bad.BytesPerSector = 1024
	dev := newFakeDevice()
	dev.setSector(0, writeBootSector(bad))

	_, err := Load(dev)
	require.Error(t, err)
	var fe *FatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, InvalidBytesPerSector, fe.Kind)
}

func TestLoadInvalidSectorsPerCluster(t *testing.T) {
	bad := testBPB
	bad.SectorsPerCluster = 3
	dev := newFakeDevice()
	dev.setSector(0, writeBootSector(bad))

	_, err := Load(dev)
	require.Error(t, err)
	var fe *FatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, InvalidSectorsPerCluster, fe.Kind)
}

func TestDataRegionFirstSectorAndClusterSector(t *testing.T) {
	bpb := BPB{
		BootSectorLBA:       8192,
		ReservedSectorCount: 32,
		NumberOfFATs:        2,
		FATSize32:           1024,
		SectorsPerCluster:   8,
	}
	require.EqualValues(t, 10272, bpb.DataRegionFirstSector())
	require.EqualValues(t, 10272, bpb.ClusterSector(2))
	require.EqualValues(t, 10280, bpb.ClusterSector(3))
}

func TestDiagnosticsAggregatesAllFailures(t *testing.T) {
	buf := make([]byte, 512)
	err := Diagnostics(buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), NotBootSector.String())
	require.Contains(t, err.Error(), InvalidBytesPerSector.String())
	require.Contains(t, err.Error(), InvalidSectorsPerCluster.String())
}

func TestDiagnosticsOK(t *testing.T) {
	buf := writeBootSector(testBPB)
	require.NoError(t, Diagnostics(buf))
}
