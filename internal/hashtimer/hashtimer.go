// Package hashtimer implements the FinDAG Time encoding and the HashTimer
// artifact-ordering primitive. Everything here is a pure function: no
// constructors, no injected logger, no shared state.
package hashtimer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

// slotsPerSecond is the number of 100-nanosecond slots in one second, and
// the clamp applied to the lower 24 bits of a FinDAGTime value.
const slotsPerSecond = 10_000_000

// FinDAGTime is a 64-bit logical timestamp: the upper 40 bits hold seconds
// since the Unix epoch, the lower 24 bits hold a count of 100-nanosecond
// slots within that second (capped at slotsPerSecond-1).
type FinDAGTime uint64

// NewFinDAGTime packs seconds-since-epoch and a within-second slot count
// into the 40/24-bit layout. The slot count is clamped to the
// representable range.
func NewFinDAGTime(seconds uint64, slot uint32) FinDAGTime {
	if slot >= slotsPerSecond {
		slot = slotsPerSecond - 1
	}
	seconds &= (1 << 40) - 1
	return FinDAGTime(seconds<<24 | uint64(slot))
}

// Split returns the seconds and slot components of t.
func (t FinDAGTime) Split() (seconds uint64, slot uint32) {
	return uint64(t) >> 24, uint32(uint64(t) & 0xFFFFFF)
}

// Bytes returns the big-endian 8-byte encoding of t.
func (t FinDAGTime) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t))
	return b
}

// HashTimer is a fixed 32-byte value: a 7-byte prefix derived from a
// FinDAGTime followed by a 25-byte content digest, byte-lex totally
// orderable because the time prefix dominates the comparison.
type HashTimer [32]byte

// Compute derives a HashTimer from findag_time, the pre-HashTimer canonical
// artifact bytes, and a nonce. content MUST be the encoding of the artifact
// with its own HashTimer field zeroed or omitted; callers never feed a
// HashTimer back into its own computation.
func Compute(t FinDAGTime, content []byte, nonce uint32) HashTimer {
	tb := t.Bytes()

	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], nonce)

	h := sha256.New()
	h.Write(tb[:])
	h.Write(content)
	h.Write(nb[:])
	digest := h.Sum(nil) // 32 bytes

	var out HashTimer
	copy(out[:7], tb[0:7]) // 7-byte prefix: high-order 56 bits of findag_time
	copy(out[7:], digest[:25])
	return out
}

// Compare implements the byte-lex total order over HashTimers: negative if
// a < b, zero if equal, positive if a > b.
func Compare(a, b HashTimer) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts strictly before b.
func Less(a, b HashTimer) bool { return Compare(a, b) < 0 }

// IsZero reports whether h is the zero value (never produced by Compute).
func (h HashTimer) IsZero() bool { return h == HashTimer{} }

func (h HashTimer) Bytes() []byte { return h[:] }
