package sdfat32

import (
	"io"

	"github.com/soypat/sdfat32/sdspi"
	"github.com/xaionaro-go/bytesextra"
)

// ImageDevice adapts a flat in-memory disk image ([]byte, one 512-byte
// sector per block) to sdspi.BlockDevice, via bytesextra's
// io.ReadWriteSeeker wrapper around a plain byte slice. This is what backs
// cmd/sdfatctl's -image flag for mount/ls/cat/diagnose, mounting a FAT32
// image file without a real card.
type ImageDevice struct {
	rw io.ReadWriteSeeker
}

// NewImageDevice wraps image (its length need not be a multiple of 512;
// reads/writes past the end behave as io.ReadWriteSeeker normally does).
func NewImageDevice(image []byte) *ImageDevice {
	return &ImageDevice{rw: bytesextra.NewReadWriteSeeker(image)}
}

const sectorSize = 512

func (d *ImageDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if _, err := d.rw.Seek(startBlock*sectorSize, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(d.rw, dst)
}

func (d *ImageDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if _, err := d.rw.Seek(startBlock*sectorSize, io.SeekStart); err != nil {
		return 0, err
	}
	return d.rw.Write(data)
}

func (d *ImageDevice) EraseBlocks(startBlock, numBlocks int64) error {
	zero := make([]byte, sectorSize)
	for i := int64(0); i < numBlocks; i++ {
		if _, err := d.WriteBlocks(zero, startBlock+i); err != nil {
			return err
		}
	}
	return nil
}

var _ sdspi.BlockDevice = (*ImageDevice)(nil)
