package sdspi

import (
	"context"
	"io"
	"log/slog"
)

// Card is the block-access layer (C2) driving single/multi-block read,
// write, erase and the well-written-block count query over a Bus (C1). It
// owns no hardware state itself beyond the Bus handle and Policy, matching
// the "exclusively owned handle threaded through calls" redesign (spec §5,
// §9) rather than the source's process-wide globals.
type Card struct {
	Bus    Bus
	Policy Policy
	log    *slog.Logger
}

// lvlTrace is a custom level below slog.LevelDebug. ReadSingleBlock logs
// its successful completion at this level; protocol anomalies (R1 errors,
// CRC/write error tokens, multi-block aborts) log at Warn.
const lvlTrace = slog.LevelDebug - 2

// NewCard wraps bus with DefaultPolicy and a no-op logger. Use WithLogger
// to attach one.
func NewCard(bus Bus) *Card {
	return &Card{Bus: bus, Policy: DefaultPolicy, log: discardLogger()}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithLogger returns a copy of c logging to log.
func (c *Card) WithLogger(log *slog.Logger) *Card {
	c2 := *c
	c2.log = log
	return &c2
}

func (c *Card) logger() *slog.Logger {
	if c.log == nil {
		return discardLogger()
	}
	return c.log
}

// ReadSingleBlock issues CMD17 and reads one 512-byte block into buf.
func (c *Card) ReadSingleBlock(lba uint32, buf *[512]byte) error {
	scope, err := beginCS(c.Bus)
	defer scope.release()
	if err != nil {
		return err
	}
	if err := sendCommand(c.Bus, cmdReadSingleBlock, lba); err != nil {
		return err
	}
	r1, err := readR1(c.Bus, c.Policy.R1Timeout)
	if err != nil {
		return wrapBlockErr(OutcomeR1Error, r1, err)
	}
	if r1 != 0 {
		c.logger().Warn("sdspi: read single block R1 error", "lba", lba, "r1", r1)
		return blockErr(OutcomeR1Error, r1)
	}
	if _, err := waitToken(c.Bus, TokenStartBlockSingle, 0xFF, c.Policy.StartTokenTimeout); err != nil {
		return wrapBlockErr(OutcomeStartTokenTimeout, r1, err)
	}
	data, err := readBytes(c.Bus, 512)
	if err != nil {
		return err
	}
	copy(buf[:], data)
	if _, err := readBytes(c.Bus, 2); err != nil { // CRC bytes, discarded
		return err
	}
	if _, err := readByte(c.Bus); err != nil { // drain byte
		return err
	}
	c.logger().Log(context.Background(), lvlTrace, "sdspi: read single block ok", "lba", lba)
	return nil
}

// WriteSingleBlock issues CMD24 and writes 512 bytes of data.
func (c *Card) WriteSingleBlock(lba uint32, data *[512]byte) error {
	scope, err := beginCS(c.Bus)
	defer scope.release()
	if err != nil {
		return err
	}
	if err := sendCommand(c.Bus, cmdWriteBlock, lba); err != nil {
		return err
	}
	r1, err := readR1(c.Bus, c.Policy.R1Timeout)
	if err != nil {
		return wrapBlockErr(OutcomeR1Error, r1, err)
	}
	if r1 != 0 {
		return blockErr(OutcomeR1Error, r1)
	}
	if err := c.Bus.SendByte(TokenStartBlockSingle); err != nil {
		return err
	}
	if err := writeBytes(c.Bus, data[:]); err != nil {
		return err
	}
	if err := writeBytes(c.Bus, []byte{0xFF, 0xFF}); err != nil { // dummy CRC
		return err
	}
	return c.dataResponseAndBusy(r1)
}

// dataResponseAndBusy polls the data-response token then the busy-wait,
// shared by WriteSingleBlock and each block of WriteMultipleBlock. It
// returns nil only on DATA_ACCEPTED_TOKEN_RECEIVED followed by a clean
// busy-wait; every other terminal code, including the recognized-but-bad
// CRC/write-error tokens, comes back as a *BlockError so callers can
// recover the exact outcome via errors.As.
func (c *Card) dataResponseAndBusy(r1 R1) error {
	var resp byte
	var err error
	for i := 0; i < c.Policy.DataResponseTimeout; i++ {
		resp, err = readByte(c.Bus)
		if err != nil {
			return err
		}
		masked := resp & dataResponseMask
		if masked == DataResponseAccepted || masked == DataResponseCRCError || masked == DataResponseWriteErr {
			break
		}
		resp = 0
	}
	switch resp & dataResponseMask {
	case DataResponseAccepted:
		if err := waitNotBusy(c.Bus, c.Policy.BusyTimeout); err != nil {
			return wrapBlockErr(OutcomeCardBusyTimeout, r1, err)
		}
		return nil
	case DataResponseCRCError:
		c.logger().Warn("sdspi: write CRC error token")
		return blockErr(OutcomeCRCErrorTokenReceived, r1)
	case DataResponseWriteErr:
		c.logger().Warn("sdspi: write error token")
		return blockErr(OutcomeWriteErrorTokenReceived, r1)
	case 0:
		return wrapBlockErr(OutcomeDataResponseTimeout, r1, errTimeout)
	default:
		return blockErr(OutcomeInvalidDataResponse, r1)
	}
}

// WriteMultipleBlock issues CMD25 and streams n blocks from data
// (len(data) must be 512*n). It always terminates by sending the Stop
// Transmission Token and busy-waiting, even if a block fails mid-stream;
// the returned error is the outcome of the last processed block.
func (c *Card) WriteMultipleBlock(lba uint32, n int, data []byte) error {
	if len(data) < 512*n {
		panic("sdspi: WriteMultipleBlock: data shorter than 512*n")
	}
	scope, err := beginCS(c.Bus)
	defer scope.release()
	if err != nil {
		return err
	}
	if err := sendCommand(c.Bus, cmdWriteMultipleBlock, lba); err != nil {
		return err
	}
	r1, err := readR1(c.Bus, c.Policy.R1Timeout)
	if err != nil {
		return wrapBlockErr(OutcomeR1Error, r1, err)
	}
	if r1 != 0 {
		return blockErr(OutcomeR1Error, r1)
	}

	var last error
	for i := 0; i < n; i++ {
		block := data[i*512 : (i+1)*512]
		if err := c.Bus.SendByte(TokenStartBlockMulti); err != nil {
			return err
		}
		if err := writeBytes(c.Bus, block); err != nil {
			return err
		}
		if err := writeBytes(c.Bus, []byte{0xFF, 0xFF}); err != nil {
			return err
		}
		last = c.dataResponseAndBusy(r1)
		var be *BlockError
		if asBlockError(last, &be) && (be.Outcome == OutcomeCRCErrorTokenReceived || be.Outcome == OutcomeWriteErrorTokenReceived) {
			c.logger().Warn("sdspi: aborting multi-block write", "block", i, "outcome", be.Outcome)
			break
		}
	}
	if err := c.Bus.SendByte(TokenStopTransmission); err != nil {
		return err
	}
	if err := waitNotBusy(c.Bus, c.Policy.BusyTimeout); err != nil {
		return wrapBlockErr(OutcomeCardBusyTimeout, r1, err)
	}
	return last
}

func asBlockError(err error, target **BlockError) bool {
	be, ok := err.(*BlockError)
	if !ok {
		return false
	}
	*target = be
	return true
}

// EraseBlocks issues CMD32/CMD33/CMD38 to erase the inclusive block range
// [start, end].
func (c *Card) EraseBlocks(start, end uint32) error {
	scope, err := beginCS(c.Bus)
	defer scope.release()
	if err != nil {
		return err
	}
	r1, err := c.sendAndCheckR1(cmdEraseWrBlkStart, start)
	if err != nil {
		return wrapBlockErr(OutcomeSetEraseStartAddrError, r1, err)
	}
	if r1 != 0 {
		return blockErr(OutcomeSetEraseStartAddrError, r1)
	}
	r1, err = c.sendAndCheckR1(cmdEraseWrBlkEnd, end)
	if err != nil {
		return wrapBlockErr(OutcomeSetEraseEndAddrError, r1, err)
	}
	if r1 != 0 {
		return blockErr(OutcomeSetEraseEndAddrError, r1)
	}
	r1, err = c.sendAndCheckR1(cmdErase, 0)
	if err != nil {
		return wrapBlockErr(OutcomeEraseError, r1, err)
	}
	if r1 != 0 {
		return blockErr(OutcomeEraseError, r1)
	}
	if err := waitNotBusy(c.Bus, c.Policy.BusyTimeout); err != nil {
		return wrapBlockErr(OutcomeEraseBusyTimeout, r1, err)
	}
	return nil
}

func (c *Card) sendAndCheckR1(cmd byte, arg uint32) (R1, error) {
	if err := sendCommand(c.Bus, cmd, arg); err != nil {
		return 0, err
	}
	return readR1(c.Bus, c.Policy.R1Timeout)
}

// GetWellWrittenBlockCount issues CMD55+ACMD22 and returns the number of
// well-written blocks from the last (possibly aborted) multi-block write.
func (c *Card) GetWellWrittenBlockCount() (uint32, error) {
	scope, err := beginCS(c.Bus)
	defer scope.release()
	if err != nil {
		return 0, err
	}
	r1, err := c.sendAndCheckR1(cmdAppCmd, 0)
	if err != nil {
		return 0, wrapBlockErr(OutcomeR1Error, r1, err)
	}
	if r1 != 0 {
		return 0, blockErr(OutcomeR1Error, r1)
	}
	r1, err = c.sendAndCheckR1(acmdSendNumWrBlocks, 0)
	if err != nil {
		return 0, wrapBlockErr(OutcomeR1Error, r1, err)
	}
	if r1 != 0 {
		return 0, blockErr(OutcomeR1Error, r1)
	}
	if _, err := waitToken(c.Bus, TokenStartBlockSingle, 0xFF, c.Policy.StartTokenTimeout); err != nil {
		return 0, wrapBlockErr(OutcomeStartTokenTimeout, r1, err)
	}
	data, err := readBytes(c.Bus, 4)
	if err != nil {
		return 0, err
	}
	if _, err := readBytes(c.Bus, 2); err != nil { // CRC bytes, discarded
		return 0, err
	}
	count := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return count, nil
}
