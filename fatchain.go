package sdfat32

import (
	"encoding/binary"

	"github.com/soypat/sdfat32/sdspi"
)

// NextCluster is the FAT chain walker (C4). Given currentCluster and the
// mounted volume's geometry, it reads the FAT sector holding that
// cluster's entry via dev and returns the entry's low 28 bits: the next
// cluster in the chain, or a value ≥ EndOfCluster (see IsEndOfChain) if
// currentCluster is the last in its chain.
//
// This reproduces Open Question 1 (spec §9): BPB.FATSectorForCluster omits
// BootSectorLBA, so on media where the FAT32 volume does not start at LBA
// 0 this reads the wrong sector. See DESIGN.md for why this is preserved.
func NextCluster(dev sdspi.BlockDevice, bpb BPB, currentCluster uint32) (uint32, error) {
	sector, byteOffset := bpb.FATSectorForCluster(currentCluster)
	var buf [512]byte
	if _, err := dev.ReadBlocks(buf[:], int64(sector)); err != nil {
		return 0, errWrap(CorruptFatEntry, err)
	}
	raw := binary.LittleEndian.Uint32(buf[byteOffset:]) & clusterMask
	return raw, nil
}

// IsEndOfChain reports whether a raw FAT entry value denotes end-of-chain,
// per spec §3.
func IsEndOfChain(entry uint32) bool {
	return entry&clusterMask >= EndOfCluster
}

// nextSectorInChain advances from (cluster, withinCluster) to the next
// sector of a cluster chain, following the FAT via NextCluster when
// withinCluster is the last sector of the current cluster (spec §4.5,
// "Fetching the next sector").
func nextSectorInChain(dev sdspi.BlockDevice, bpb BPB, cluster uint32, withinCluster uint16) (nextCluster uint32, nextSector uint32, nextWithin uint16, err error) {
	if withinCluster == uint16(bpb.SectorsPerCluster)-1 {
		nc, err := NextCluster(dev, bpb, cluster)
		if err != nil {
			return 0, 0, 0, err
		}
		if IsEndOfChain(nc) {
			return nc, 0, 0, nil
		}
		return nc, bpb.ClusterSector(nc), 0, nil
	}
	return cluster, bpb.ClusterSector(cluster) + uint32(withinCluster) + 1, withinCluster + 1, nil
}
