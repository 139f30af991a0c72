// Package wire implements the length-prefixed binary framing used for
// artifact signing payloads and content digests, plus a framing helper for
// byte-stream transports. It knows nothing about the artifact types themselves: callers
// build up a canonical byte sequence field-by-field with a *Writer, which
// keeps this package a leaf with no import cycles.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrTruncated is returned when a Reader runs out of bytes mid-field.
var ErrTruncated = errors.New("wire: truncated input")

// Writer appends fields to an internal byte buffer using a stable,
// self-describing length-prefixed encoding: variable-length fields (strings,
// byte slices) are prefixed with a big-endian uint32 length; fixed-width
// integers are written directly in big-endian order.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer, optionally pre-sized.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) PutUint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) PutUint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutBytes appends a uint32-length-prefixed byte string.
func (w *Writer) PutBytes(b []byte) *Writer {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// PutString appends a uint32-length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) *Writer {
	return w.PutBytes([]byte(s))
}

// PutFixed appends raw bytes with no length prefix; only safe for
// fixed-width fields whose length is implied by the schema (hashes, sigs).
func (w *Writer) PutFixed(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Reader consumes fields written by a Writer in the same order.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d have %d", ErrTruncated, n, r.Remaining())
	}
	return nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) Fixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// WriteFramed writes a length-prefixed message to w: a uint32 length
// followed by payload. Nothing in this module calls it; it is available
// to a propagation transport to keep artifact boundaries unambiguous over
// a byte stream.
func WriteFramed(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFramed reads one length-prefixed message written by WriteFramed.
func ReadFramed(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
