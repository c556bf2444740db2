package sdfat32

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"
	"github.com/soypat/sdfat32/internal/mbr"
	"github.com/soypat/sdfat32/sdspi"
)

// EndOfCluster is the sentinel FAT32 entry value (and above) marking the
// last cluster of a chain, per spec §3 ("An entry value ≥ 0x0FFFFFF8
// denotes end-of-chain").
const EndOfCluster uint32 = 0x0FFFFFF8

// clusterMask keeps only the low 28 bits of a FAT32 entry; the top 4 bits
// are reserved (spec §3).
const clusterMask uint32 = 0x0FFFFFFF

// NoBootSector is the sentinel all-ones LBA spec §3 specifies for "boot
// sector not found".
const NoBootSector uint32 = 0xFFFFFFFF

// bootSectorOffsets are the boot-sector byte offsets spec §6 names.
const (
	offBytesPerSector     = 11
	offSectorsPerCluster  = 13
	offReservedSectors    = 14
	offNumberOfFATs       = 16
	offFATSize32          = 36
	offRootCluster        = 44
	offSignature          = 510
)

// bootSignature is the 16-bit little-endian read of the trailing 0x55, 0xAA
// signature bytes at offsets 510, 511 (spec §4.3/§6): byte 510 is the low
// byte of this value, so the constant is 0xAA55, not 0x55AA.
const bootSignature = 0xAA55

// BPB is the geometry record populated once from the boot sector at mount
// and immutable thereafter (spec §3).
type BPB struct {
	BootSectorLBA       uint32
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumberOfFATs        uint8
	FATSize32           uint32
	RootCluster         uint32
}

// DataRegionFirstSector returns dataRegionFirstSector, the derived field
// from spec §3: bootSectorLba + reservedSectorCount + numberOfFats*fatSize32.
func (b BPB) DataRegionFirstSector() uint32 {
	return b.BootSectorLBA + uint32(b.ReservedSectorCount) + uint32(b.NumberOfFATs)*b.FATSize32
}

// ClusterSector returns the first absolute LBA occupied by cluster n
// (n must be ≥ 2), per spec §3's cluster-to-sector mapping.
func (b BPB) ClusterSector(n uint32) uint32 {
	return b.DataRegionFirstSector() + (n-2)*uint32(b.SectorsPerCluster)
}

// FATSectorForCluster returns the FAT-relative sector LBA holding the FAT
// entry for cluster c, and the byte offset of that entry within the
// sector, per spec §4.4 (C4, FAT chain walker).
//
// This preserves Open Question 1 from spec §9 verbatim: the source omits
// BootSectorLBA from this computation, so the returned sector number is
// relative to the start of the partition, while NextCluster reads it as an
// absolute disk LBA; on partitioned media (boot sector not at LBA 0) that
// is the wrong sector. See DESIGN.md for the
// decision to preserve rather than silently fix this.
func (b BPB) FATSectorForCluster(c uint32) (sector uint32, byteOffset int) {
	entriesPerSector := uint32(b.BytesPerSector) / 4
	fatSectorOffset := c / entriesPerSector
	byteOffset = int(4 * (c % entriesPerSector))
	sector = uint32(b.ReservedSectorCount) + fatSectorOffset
	return sector, byteOffset
}

// Load locates the FAT32 boot sector via dev (scanning the MBR partition
// table for a FAT32 partition, per spec §4.3/§6's findBootSector
// collaborator) and validates it, populating a BPB. It fails fast: the
// first validation failure aborts with that FatError. Use Diagnostics for
// an all-failures report instead.
func Load(dev sdspi.BlockDevice) (BPB, error) {
	var sector0 [512]byte
	if _, err := dev.ReadBlocks(sector0[:], 0); err != nil {
		return BPB{}, errWrap(BootSectorNotFound, err)
	}

	lba, mbrErr := mbr.FindFAT32BootSector(sector0[:])
	if mbrErr != nil {
		// No partition table entry: the volume may itself start at LBA 0
		// (whole-disk FAT32), so fall back to treating sector0 as the boot
		// sector directly.
		lba = 0
	}

	var buf [512]byte
	if lba == 0 {
		buf = sector0
	} else {
		if _, err := dev.ReadBlocks(buf[:], int64(lba)); err != nil {
			return BPB{}, errWrap(BootSectorNotFound, err)
		}
	}

	bpb, err := parseBootSector(buf[:], lba)
	if err != nil {
		return BPB{}, err
	}
	return bpb, nil
}

func parseBootSector(buf []byte, lba uint32) (BPB, error) {
	if binary.LittleEndian.Uint16(buf[offSignature:]) != bootSignature {
		return BPB{}, errKind(NotBootSector)
	}
	bps := binary.LittleEndian.Uint16(buf[offBytesPerSector:])
	if bps != 512 {
		return BPB{}, errKind(InvalidBytesPerSector)
	}
	spc := buf[offSectorsPerCluster]
	if !validSectorsPerCluster(spc) {
		return BPB{}, errKind(InvalidSectorsPerCluster)
	}
	return BPB{
		BootSectorLBA:       lba,
		BytesPerSector:      bps,
		SectorsPerCluster:   spc,
		ReservedSectorCount: binary.LittleEndian.Uint16(buf[offReservedSectors:]),
		NumberOfFATs:        buf[offNumberOfFATs],
		FATSize32:           binary.LittleEndian.Uint32(buf[offFATSize32:]),
		RootCluster:         binary.LittleEndian.Uint32(buf[offRootCluster:]),
	}, nil
}

func validSectorsPerCluster(spc uint8) bool {
	switch spc {
	case 1, 2, 4, 8, 16, 32, 64, 128:
		return true
	default:
		return false
	}
}

// Diagnostics runs every validation check §4.3 performs (signature, bytes
// per sector, sectors per cluster) against buf, an already-located 512-byte
// boot sector, and aggregates every failure instead of stopping at the
// first (supplemental feature, spec_full §12). It does not change Load's
// fail-fast contract; a failed Diagnostics report still means the caller
// must not proceed to mount.
func Diagnostics(buf []byte) error {
	var result *multierror.Error
	if len(buf) < 512 {
		return multierror.Append(result, errKind(NotBootSector)).ErrorOrNil()
	}
	if binary.LittleEndian.Uint16(buf[offSignature:]) != bootSignature {
		result = multierror.Append(result, errKind(NotBootSector))
	}
	if binary.LittleEndian.Uint16(buf[offBytesPerSector:]) != 512 {
		result = multierror.Append(result, errKind(InvalidBytesPerSector))
	}
	if !validSectorsPerCluster(buf[offSectorsPerCluster]) {
		result = multierror.Append(result, errKind(InvalidSectorsPerCluster))
	}
	return result.ErrorOrNil()
}
