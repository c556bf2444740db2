// Package sdspi implements the SD Physical Layer Simplified Specification's
// SPI-mode command framing, data tokens and busy-wait semantics: single and
// multi-block read/write, range erase, and the well-written-block count
// query. It knows nothing about FAT32; package sdfat32 and cmd/sdfatctl
// consume it.
package sdspi

import (
	"fmt"

	"github.com/pkg/errors"
)

// R1 is the one-byte status response every SD command returns in SPI mode.
type R1 byte

// R1 flag bits, per the SD Physical Layer Simplified Specification.
const (
	R1InIdleState        R1 = 1 << 0
	R1EraseReset         R1 = 1 << 1
	R1IllegalCommand     R1 = 1 << 2
	R1CRCError           R1 = 1 << 3
	R1EraseSequenceError R1 = 1 << 4
	R1AddressError       R1 = 1 << 5
	R1ParameterError     R1 = 1 << 6
)

func (r R1) String() string {
	if r == 0 {
		return "ready"
	}
	var flags []string
	add := func(bit R1, name string) {
		if r&bit != 0 {
			flags = append(flags, name)
		}
	}
	add(R1InIdleState, "idle")
	add(R1EraseReset, "erase-reset")
	add(R1IllegalCommand, "illegal-cmd")
	add(R1CRCError, "crc-error")
	add(R1EraseSequenceError, "erase-seq-error")
	add(R1AddressError, "addr-error")
	add(R1ParameterError, "param-error")
	s := flags[0]
	for _, f := range flags[1:] {
		s += "|" + f
	}
	return s
}

// Outcome is the operation-level outcome of a block I/O call: the upper-byte
// "flag" half of the source's packed 16-bit return code. Where the source
// OR'd multiple one-hot bits together, Outcome keeps exactly one of these
// per returned error so callers can switch on it directly; the R1 byte
// (when relevant) travels alongside it on BlockError.
type Outcome uint16

const (
	OutcomeNone Outcome = iota
	OutcomeR1Error
	OutcomeReadSuccess
	OutcomeStartTokenTimeout
	OutcomeDataAcceptedTokenReceived
	OutcomeCRCErrorTokenReceived
	OutcomeWriteErrorTokenReceived
	OutcomeInvalidDataResponse
	OutcomeDataResponseTimeout
	OutcomeCardBusyTimeout
	OutcomeEraseSuccessful
	OutcomeSetEraseStartAddrError
	OutcomeSetEraseEndAddrError
	OutcomeEraseError
	OutcomeEraseBusyTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeR1Error:
		return "R1 error"
	case OutcomeReadSuccess:
		return "read success"
	case OutcomeStartTokenTimeout:
		return "start token timeout"
	case OutcomeDataAcceptedTokenReceived:
		return "data accepted"
	case OutcomeCRCErrorTokenReceived:
		return "CRC error token received"
	case OutcomeWriteErrorTokenReceived:
		return "write error token received"
	case OutcomeInvalidDataResponse:
		return "invalid data response"
	case OutcomeDataResponseTimeout:
		return "data response timeout"
	case OutcomeCardBusyTimeout:
		return "card busy timeout"
	case OutcomeEraseSuccessful:
		return "erase successful"
	case OutcomeSetEraseStartAddrError:
		return "set erase start address error"
	case OutcomeSetEraseEndAddrError:
		return "set erase end address error"
	case OutcomeEraseError:
		return "erase error"
	case OutcomeEraseBusyTimeout:
		return "erase busy timeout"
	default:
		return "unknown outcome"
	}
}

// BlockError is the tagged-variant replacement for the source's packed
// 16-bit (upper-byte flag, lower-byte R1) return code: it carries the
// operation-level Outcome and, where the card produced one, the raw R1
// response, as distinct fields instead of bit-packed ones.
type BlockError struct {
	Outcome Outcome
	R1      R1
	// Cause, when non-nil, is the lower-level transport failure (a SPI
	// exchange or timeout) that produced this outcome.
	Cause error
}

func (e *BlockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sdspi: %s (r1=%s): %s", e.Outcome, e.R1, e.Cause)
	}
	return fmt.Sprintf("sdspi: %s (r1=%s)", e.Outcome, e.R1)
}

func (e *BlockError) Unwrap() error { return e.Cause }

func (e *BlockError) Is(target error) bool {
	t, ok := target.(*BlockError)
	if !ok {
		return false
	}
	return e.Outcome == t.Outcome
}

// errTimeout is the sentinel cause attached to every bounded-poll expiry
// before it is wrapped into the operation-specific BlockError outcome.
var errTimeout = errors.New("sdspi: bounded poll timed out")

func blockErr(o Outcome, r1 R1) *BlockError { return &BlockError{Outcome: o, R1: r1} }

func wrapBlockErr(o Outcome, r1 R1, cause error) *BlockError {
	return &BlockError{Outcome: o, R1: r1, Cause: errors.Wrap(cause, o.String())}
}

// Code packs outcome and R1 into the 16-bit (upper-byte flag, lower-byte R1)
// form the protocol contract in spec §4.2/§4.7 describes, for callers that
// still want the compact wire-level representation.
type Code uint16

// Code returns the packed 16-bit representation of e, upper byte the
// Outcome's sequential enum value (not a one-hot flag bit), lower byte the
// raw R1 response. A nil e packs as OutcomeReadSuccess with R1 zero.
func (e *BlockError) Code() Code {
	if e == nil {
		return Code(OutcomeReadSuccess) << 8
	}
	return Code(e.Outcome)<<8 | Code(e.R1)
}

// Start Block / Stop Transmission tokens, SD Physical Layer spec.
const (
	TokenStartBlockSingle byte = 0xFE
	TokenStartBlockMulti  byte = 0xFC
	TokenStopTransmission byte = 0xFD
)

// Data-response token values (low 5 bits of the byte the card sends after
// each written block).
const (
	DataResponseAccepted byte = 0x05
	DataResponseCRCError byte = 0x0B
	DataResponseWriteErr byte = 0x0D
	dataResponseMask     byte = 0x1F
)

// SD command indices used by this package (SD spec CMD numbers).
const (
	cmdReadSingleBlock    = 17
	cmdReadMultipleBlock  = 18
	cmdWriteBlock         = 24
	cmdWriteMultipleBlock = 25
	cmdEraseWrBlkStart    = 32
	cmdEraseWrBlkEnd      = 33
	cmdErase              = 38
	cmdStopTransmission   = 12
	cmdAppCmd             = 55
	acmdSendNumWrBlocks   = 22
)
