package sdspi

import "errors"

// SimBus is an in-memory SD-in-SPI card simulator implementing Bus. It
// exists so sdfat32 and sdspi tests can exercise the full command framing,
// token, and busy-wait state machine without real hardware, in the style
// of the teacher's BlockMap/BlockByteSlice fakes.
//
// SimBus only understands the command set this package issues
// (CMD17/24/25/32/33/38/12/55/22) and always responds immediately (busy
// waits observe "not busy" on the first poll) unless BusyFor is set.
type SimBus struct {
	blocks map[uint32][512]byte

	// BusyFor, if > 0, makes the next busy-wait (post data-response,
	// post-erase, post-stop-transmission) hold DO low for this many polls
	// before releasing, for exercising CARD_BUSY_TIMEOUT/ERASE_BUSY_TIMEOUT.
	BusyFor int
	// FailCRC, if true, makes the next write data-phase respond with the
	// CRC-error data-response token instead of accepting the block.
	FailCRC bool
	// WellWritten is returned by GetWellWrittenBlockCount.
	WellWritten uint32

	cs    bool
	out   []byte // pending bytes queued to shift out, consumed by RecvByte
	phase simPhase
	frame []byte // partially assembled 6-byte command frame
	data  []byte // partially assembled write data phase (token+512+2 CRC)
	lba   uint32
	multi bool

	eraseStart, eraseEnd uint32
}

type simPhase int

const (
	phaseCommand simPhase = iota
	phaseWriteData
)

// NewSimBus returns a simulator with no blocks allocated; reads of unset
// blocks return all-zero 512-byte sectors.
func NewSimBus() *SimBus {
	return &SimBus{blocks: make(map[uint32][512]byte)}
}

// Block returns the current contents of block lba (for test assertions).
func (s *SimBus) Block(lba uint32) [512]byte { return s.blocks[lba] }

// SetBlock seeds block lba with data (for test fixtures).
func (s *SimBus) SetBlock(lba uint32, data [512]byte) { s.blocks[lba] = data }

func (s *SimBus) CSAssert() error {
	s.cs = true
	s.phase = phaseCommand
	s.frame = s.frame[:0]
	return nil
}

func (s *SimBus) CSDeassert() error {
	s.cs = false
	return nil
}

func (s *SimBus) SendByte(b byte) error {
	if !s.cs {
		return errors.New("sdspi: sim: SendByte with CS deasserted")
	}
	switch s.phase {
	case phaseWriteData:
		if len(s.data) == 0 && b == TokenStopTransmission {
			s.phase = phaseCommand
			s.out = append(s.out, s.busyBytes()...)
			return nil
		}
		s.data = append(s.data, b)
		if len(s.data) == 1+512+2 {
			s.out = append(s.out, s.finishWriteData()...)
		}
	default:
		s.frame = append(s.frame, b)
		if len(s.frame) == 6 && s.frame[0]&0xC0 == 0x40 {
			cmd := s.frame[0] &^ 0x40
			arg := uint32(s.frame[1])<<24 | uint32(s.frame[2])<<16 | uint32(s.frame[3])<<8 | uint32(s.frame[4])
			s.frame = s.frame[:0]
			s.out = append(s.out, s.handleCommand(cmd, arg)...)
		} else if len(s.frame) > 6 {
			s.frame = s.frame[:0]
		}
	}
	return nil
}

func (s *SimBus) RecvByte() (byte, error) {
	if !s.cs {
		return 0xFF, errors.New("sdspi: sim: RecvByte with CS deasserted")
	}
	if len(s.out) == 0 {
		return 0xFF, nil
	}
	b := s.out[0]
	s.out = s.out[1:]
	return b, nil
}

func (s *SimBus) handleCommand(cmd byte, arg uint32) []byte {
	switch cmd {
	case cmdReadSingleBlock:
		block := s.blocks[arg]
		out := []byte{0x00, TokenStartBlockSingle}
		out = append(out, block[:]...)
		out = append(out, 0xFF, 0xFF, 0xFF) // CRC + drain
		return out
	case cmdWriteBlock:
		s.lba, s.multi, s.phase, s.data = arg, false, phaseWriteData, nil
		return []byte{0x00}
	case cmdWriteMultipleBlock:
		s.lba, s.multi, s.phase, s.data = arg, true, phaseWriteData, nil
		return []byte{0x00}
	case cmdEraseWrBlkStart:
		s.eraseStart = arg
		return []byte{0x00}
	case cmdEraseWrBlkEnd:
		s.eraseEnd = arg
		return []byte{0x00}
	case cmdErase:
		for l := s.eraseStart; l <= s.eraseEnd; l++ {
			delete(s.blocks, l)
		}
		return append([]byte{0x00}, s.busyBytes()...)
	case cmdStopTransmission:
		return append([]byte{0x00}, s.busyBytes()...)
	case cmdAppCmd:
		return []byte{0x00}
	case acmdSendNumWrBlocks:
		out := []byte{0x00, TokenStartBlockSingle}
		out = append(out, byte(s.WellWritten>>24), byte(s.WellWritten>>16), byte(s.WellWritten>>8), byte(s.WellWritten))
		out = append(out, 0xFF, 0xFF)
		return out
	default:
		return []byte{0x04} // illegal command
	}
}

// finishWriteData is called once a full token+512-byte+2-CRC data phase has
// been shifted in; it stores the block (unless FailCRC is set) and returns
// the data-response token followed by the busy-wait bytes. For multi-block
// writes it stays in phaseWriteData so the next block's Start Block Token
// can follow immediately, matching CMD25's back-to-back block framing; see
// SendByte's phaseWriteData case for how the Stop Transmission Token breaks
// out of that loop.
func (s *SimBus) finishWriteData() []byte {
	tok, block := s.data[0], s.data[1:513]
	resp := byte(DataResponseAccepted)
	if s.FailCRC {
		resp = DataResponseCRCError
		s.FailCRC = false
	} else if tok == TokenStartBlockSingle || tok == TokenStartBlockMulti {
		var b [512]byte
		copy(b[:], block)
		s.blocks[s.lba] = b
		s.lba++
	}
	s.data = nil
	if !s.multi {
		s.phase = phaseCommand
	}
	return append([]byte{resp}, s.busyBytes()...)
}

func (s *SimBus) busyBytes() []byte {
	if s.BusyFor <= 0 {
		return []byte{0xFF}
	}
	out := make([]byte, s.BusyFor)
	for i := range out {
		out[i] = 0x00
	}
	s.BusyFor = 0
	return append(out, 0xFF)
}
