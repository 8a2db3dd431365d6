package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrUnknownMessageType is returned by Decode when the wire-level tag byte
// does not match any message the stable type set declares (spec.md §6:
// "unknown types must be rejected and counted").
var ErrUnknownMessageType = errors.New("protocol: unknown message type")

// ErrMalformed is returned when a frame's length prefix or internal
// length-prefixed field is inconsistent with the bytes actually present.
var ErrMalformed = errors.New("protocol: malformed frame")

// writer accumulates a little-endian, length-prefixed wire encoding.
// Every method records the first error it sees and becomes a no-op after
// that, so call sites can chain writes without checking each one.
type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) u16(v uint16) {
	if w.err != nil {
		return
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u64(v uint64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) f64(v float64) {
	w.u64(math.Float64bits(v))
}

// bytes32 writes a u32-length-prefixed byte slice: keys, values.
func (w *writer) bytes32(v []byte) {
	w.u32(uint32(len(v)))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v...)
}

// str16 writes a u16-length-prefixed string: network addresses.
func (w *writer) str16(v string) {
	w.u16(uint16(len(v)))
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v...)
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// reader consumes a little-endian wire encoding produced by writer. Like
// writer, it latches the first error and every subsequent call becomes a
// zero-value no-op.
type reader struct {
	buf []byte
	pos int
	err error
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = ErrMalformed
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) boolean() bool { return r.u8() != 0 }

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) bytes32() []byte {
	n := r.u32()
	if !r.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v
}

func (r *reader) str16() string {
	n := r.u16()
	if !r.need(int(n)) {
		return ""
	}
	v := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return v
}

// writeFrame writes a u32 length prefix followed by body to w.
func writeFrame(w io.Writer, body []byte) error {
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
