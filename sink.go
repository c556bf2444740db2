package sdfat32

import (
	"io"
	"strconv"

	"github.com/noxer/bytewriter"
)

// Sink is the pluggable diagnostic byte sink operations stream output
// through, per the external interface contract: writeString, writeByte,
// writeHex, writeDec.
type Sink interface {
	WriteString(s string)
	WriteByte(b byte)
	WriteHex(x uint32)
	WriteDec(x uint32)
}

// WriterSink adapts any io.Writer into a Sink. Write errors are swallowed,
// matching the source's treatment of the diagnostic channel as best-effort.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) WriteString(str string) { io.WriteString(s.W, str) }
func (s WriterSink) WriteByte(b byte)        { s.W.Write([]byte{b}) }
func (s WriterSink) WriteHex(x uint32)       { io.WriteString(s.W, strconv.FormatUint(uint64(x), 16)) }
func (s WriterSink) WriteDec(x uint32)       { io.WriteString(s.W, strconv.FormatUint(uint64(x), 10)) }

// FixedSink is a diagnostic sink backed by a fixed-capacity buffer, for use
// on a host with no heap to spare for diagnostic output. Writes past
// capacity are silently truncated, the same way the source's fixed UART
// ring buffer behaves under overflow.
type FixedSink struct {
	buf []byte
	w   io.Writer
	n   int
}

// NewFixedSink wraps buf (capacity fixed at creation) as a Sink.
func NewFixedSink(buf []byte) *FixedSink {
	return &FixedSink{buf: buf, w: bytewriter.New(buf)}
}

// Bytes returns the portion of the underlying buffer written so far.
func (s *FixedSink) Bytes() []byte {
	return s.buf[:s.n]
}

// Reset rewinds the sink to the beginning of its buffer.
func (s *FixedSink) Reset() {
	s.n = 0
	s.w = bytewriter.New(s.buf)
}

func (s *FixedSink) write(b []byte) {
	n, _ := s.w.Write(b)
	s.n += n
}

func (s *FixedSink) WriteString(str string) { s.write([]byte(str)) }
func (s *FixedSink) WriteByte(b byte)        { s.write([]byte{b}) }
func (s *FixedSink) WriteHex(x uint32)       { s.write([]byte(strconv.FormatUint(uint64(x), 16))) }
func (s *FixedSink) WriteDec(x uint32)       { s.write([]byte(strconv.FormatUint(uint64(x), 10))) }
