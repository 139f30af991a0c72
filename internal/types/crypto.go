// SPDX-License-Identifier: Apache-2.0
package types

// crypto.go – Ed25519 signing/verification and address derivation shared by
// transactions, blocks and rounds.

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/findag-network/findag-core/internal/addressutil"
)

// ErrBadSignature is returned by Verify when a signature fails to validate.
var ErrBadSignature = errors.New("types: signature verification failed")

// NewKeypair generates a fresh Ed25519 signing key and its bech32 address.
func NewKeypair() (priv ed25519.PrivateKey, pub ed25519.PublicKey, addr Address, err error) {
	pub, priv, err = ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("types: generate keypair: %w", err)
	}
	a, err := addressutil.FromPublicKey(pub)
	if err != nil {
		return nil, nil, "", err
	}
	return priv, pub, Address(a), nil
}

// AddressFromPublicKey derives the bech32 address bound to pub.
func AddressFromPublicKey(pub ed25519.PublicKey) (Address, error) {
	a, err := addressutil.FromPublicKey(pub)
	if err != nil {
		return "", err
	}
	return Address(a), nil
}

// Sign produces an Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VerifyOrError is Verify with the taxonomy-named error on failure.
func VerifyOrError(pub ed25519.PublicKey, msg, sig []byte) error {
	if !Verify(pub, msg, sig) {
		return ErrBadSignature
	}
	return nil
}
