package sdspi

// BlockDevice is the minimal block-device interface the sdfat32 package
// consumes to read sectors. It mirrors the teacher's BlockDevice shape
// (ReadBlocks/WriteBlocks/EraseBlocks over int64 block indices) so the FAT
// engine's single-sector reads and a simulated in-memory card (CardDevice
// over a SimBus) are interchangeable behind the same interface.
type BlockDevice interface {
	ReadBlocks(dst []byte, startBlock int64) (int, error)
	WriteBlocks(data []byte, startBlock int64) (int, error)
	EraseBlocks(startBlock, numBlocks int64) error
}

// CardDevice adapts a *Card (real SD-in-SPI protocol driver) to
// BlockDevice, one 512-byte block per call. Multi-block ranges are read or
// written one ReadSingleBlock/WriteSingleBlock at a time: the protocol
// layer's WriteMultipleBlock is exposed separately (see WriteMulti) for
// callers that want the CMD25 streamed form.
type CardDevice struct {
	Card *Card
}

func (d CardDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	n := len(dst) / 512
	var buf [512]byte
	for i := 0; i < n; i++ {
		if err := d.Card.ReadSingleBlock(uint32(startBlock)+uint32(i), &buf); err != nil {
			return i * 512, err
		}
		copy(dst[i*512:(i+1)*512], buf[:])
	}
	return n * 512, nil
}

func (d CardDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	n := len(data) / 512
	var buf [512]byte
	for i := 0; i < n; i++ {
		copy(buf[:], data[i*512:(i+1)*512])
		if err := d.Card.WriteSingleBlock(uint32(startBlock)+uint32(i), &buf); err != nil {
			return i * 512, err
		}
	}
	return n * 512, nil
}

func (d CardDevice) EraseBlocks(startBlock, numBlocks int64) error {
	return d.Card.EraseBlocks(uint32(startBlock), uint32(startBlock+numBlocks-1))
}

// WriteMulti streams n blocks through CMD25/WriteMultipleBlock instead of
// n individual CMD24 calls.
func (d CardDevice) WriteMulti(startBlock int64, n int, data []byte) error {
	return d.Card.WriteMultipleBlock(uint32(startBlock), n, data)
}
