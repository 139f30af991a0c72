package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.PutUint16(0xBEEF)
	w.PutUint32(7)
	w.PutUint64(1 << 40)
	w.PutString("fdg1qalice")
	w.PutBytes([]byte{1, 2, 3})
	w.PutFixed([]byte{9, 9, 9, 9})

	r := NewReader(w.Bytes())
	if v, err := r.Uint16(); err != nil || v != 0xBEEF {
		t.Fatalf("uint16 = %x err=%v", v, err)
	}
	if v, err := r.Uint32(); err != nil || v != 7 {
		t.Fatalf("uint32 = %d err=%v", v, err)
	}
	if v, err := r.Uint64(); err != nil || v != 1<<40 {
		t.Fatalf("uint64 = %d err=%v", v, err)
	}
	if s, err := r.String(); err != nil || s != "fdg1qalice" {
		t.Fatalf("string = %q err=%v", s, err)
	}
	if b, err := r.Bytes(); err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("bytes = %v err=%v", b, err)
	}
	if b, err := r.Fixed(4); err != nil || !bytes.Equal(b, []byte{9, 9, 9, 9}) {
		t.Fatalf("fixed = %v err=%v", b, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected reader drained, %d bytes remain", r.Remaining())
	}
}

func TestReaderTruncatedInput(t *testing.T) {
	w := NewWriter(8)
	w.PutString("hello")
	full := w.Bytes()

	r := NewReader(full[:len(full)-2])
	if _, err := r.String(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestFramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("NewBlock payload bytes")
	if err := WriteFramed(&buf, payload); err != nil {
		t.Fatalf("write framed: %v", err)
	}
	if err := WriteFramed(&buf, nil); err != nil {
		t.Fatalf("write empty frame: %v", err)
	}

	got, err := ReadFramed(&buf)
	if err != nil {
		t.Fatalf("read framed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	empty, err := ReadFramed(&buf)
	if err != nil {
		t.Fatalf("read empty frame: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(empty))
	}
}

func TestDeterministicEncoding(t *testing.T) {
	build := func() []byte {
		w := NewWriter(0)
		w.PutString("from")
		w.PutString("to")
		w.PutUint64(100)
		return w.Bytes()
	}
	if !bytes.Equal(build(), build()) {
		t.Fatalf("identical field sequences must encode to identical bytes")
	}
}
