// Package addressutil derives the bech32-style "fdg1q..." textual account
// addresses from Ed25519 verifying keys. An address encodes a zero version
// character ("q") followed by the full 32-byte verifying key, so every
// address starts "fdg1q" and the key is recoverable from the address alone.
package addressutil

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// HRP is the bech32 human-readable part for every FinDAG address.
const HRP = "fdg"

// ErrInvalidAddress is returned when a textual address fails to decode or
// does not carry exactly one Ed25519 public key's worth of data.
var ErrInvalidAddress = errors.New("addressutil: invalid address")

// FromPublicKey derives the bech32 address for an Ed25519 verifying key.
func FromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: public key must be %d bytes", ErrInvalidAddress, ed25519.PublicKeySize)
	}
	conv, err := bech32.ConvertBits(pub, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("addressutil: convert bits: %w", err)
	}
	return bech32.Encode(HRP, append([]byte{0}, conv...))
}

// PublicKey recovers the Ed25519 verifying key encoded in a textual address.
func PublicKey(address string) (ed25519.PublicKey, error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}
	if hrp != HRP {
		return nil, fmt.Errorf("%w: unexpected hrp %q", ErrInvalidAddress, hrp)
	}
	if len(data) == 0 || data[0] != 0 {
		return nil, fmt.Errorf("%w: unexpected address version", ErrInvalidAddress)
	}
	raw, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: convert bits: %s", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: decoded key length %d", ErrInvalidAddress, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Validate reports whether address is a syntactically well-formed FinDAG
// address.
func Validate(address string) bool {
	_, err := PublicKey(address)
	return err == nil
}
