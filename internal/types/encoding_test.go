package types

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/findag-network/findag-core/internal/hashtimer"
)

func testKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey, Address) {
	t.Helper()
	priv, pub, addr, err := NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return priv, pub, addr
}

func testSignedTx(t *testing.T, nonce uint32) Transaction {
	t.Helper()
	priv, pub, addr := testKeypair(t)
	tx := Transaction{
		From:    addr,
		To:      "fdg1qbob",
		Amount:  100,
		Asset:   "USD",
		ShardId: 3,
		Payload: []byte("MT103 reference"),
	}
	SignTransaction(&tx, hashtimer.NewFinDAGTime(1_700_000_000, 42), nonce, func(b []byte) []byte { return Sign(priv, b) }, pub)
	return tx
}

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	tx := testSignedTx(t, 1)
	srcShard, dstShard := ShardId(2), ShardId(5)
	tx.SourceShard = &srcShard
	tx.DestShard = &dstShard
	tx.TargetChain = "corda-mainnet"
	tx.BridgeProtocol = BridgeCorda

	enc, err := EncodeArtifact(&tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTransaction(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reenc, err := EncodeArtifact(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, reenc) {
		t.Fatalf("re-encoded transaction differs from original bytes")
	}
	if got.From != tx.From || got.Amount != tx.Amount || got.HashTimer != tx.HashTimer {
		t.Fatalf("decoded transaction fields mismatch: %+v", got)
	}
	if got.SourceShard == nil || *got.SourceShard != srcShard || got.BridgeProtocol != BridgeCorda {
		t.Fatalf("bridge fields lost in round trip: %+v", got)
	}
	if !VerifyTransactionSignature(got) {
		t.Fatalf("signature must still verify after a decode round trip")
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	priv, pub, addr := testKeypair(t)
	tx := testSignedTx(t, 2)
	blk, err := BuildBlock(nil, []Transaction{tx}, hashtimer.NewFinDAGTime(1_700_000_001, 0), 7, addr, priv, pub, 10)
	if err != nil {
		t.Fatalf("build block: %v", err)
	}

	enc, err := EncodeArtifact(blk)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeBlock(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reenc, err := EncodeArtifact(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, reenc) {
		t.Fatalf("re-encoded block differs from original bytes")
	}
	if err := VerifyBlock(got, 10); err != nil {
		t.Fatalf("decoded block must still verify: %v", err)
	}
}

func TestRoundEncodeDecodeRoundTrip(t *testing.T) {
	priv, pub, addr := testKeypair(t)
	blk := &Block{BlockId: [32]byte{1}, HashTimer: hashtimer.Compute(hashtimer.NewFinDAGTime(1_700_000_002, 0), []byte{1}, 0)}
	round := BuildRound(1, 0, []*Block{blk}, hashtimer.NewFinDAGTime(1_700_000_003, 0), addr, priv, pub)

	enc, err := EncodeArtifact(round)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRound(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reenc, err := EncodeArtifact(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, reenc) {
		t.Fatalf("re-encoded round differs from original bytes")
	}
	if err := VerifyRound(got, 0, map[[32]byte]struct{}{blk.BlockId: {}}); err != nil {
		t.Fatalf("decoded round must still verify: %v", err)
	}
}

// Signing the same pre-HashTimer content at the same findag_time and nonce
// must always stamp the same HashTimer, so an evicted-then-readmitted
// transaction keeps its identity.
func TestSignTransactionHashTimerDeterministic(t *testing.T) {
	priv, pub, addr := testKeypair(t)
	mk := func() Transaction {
		tx := Transaction{From: addr, To: "fdg1qbob", Amount: 50, Asset: "EUR", ShardId: 1}
		SignTransaction(&tx, hashtimer.NewFinDAGTime(1_700_000_004, 9), 77, func(b []byte) []byte { return Sign(priv, b) }, pub)
		return tx
	}
	a, b := mk(), mk()
	if a.HashTimer != b.HashTimer {
		t.Fatalf("identical inputs produced different HashTimers: %x != %x", a.HashTimer, b.HashTimer)
	}
}

func TestVerifyTransactionSignatureDetectsTamper(t *testing.T) {
	tx := testSignedTx(t, 3)
	tx.Amount++
	if VerifyTransactionSignature(&tx) {
		t.Fatalf("tampered amount must invalidate the signature")
	}
}

func TestVerifyBlockDetectsTransactionSwap(t *testing.T) {
	priv, pub, addr := testKeypair(t)
	tx1 := testSignedTx(t, 4)
	blk, err := BuildBlock(nil, []Transaction{tx1}, hashtimer.NewFinDAGTime(1_700_000_005, 0), 1, addr, priv, pub, 10)
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	blk.Transactions[0] = testSignedTx(t, 5)
	if err := VerifyBlock(blk, 10); err == nil {
		t.Fatalf("swapped transaction must break block_id verification")
	}
}

func TestValidatorEncodeDecodeRoundTrip(t *testing.T) {
	v := &Validator{
		Address:   "fdg1qv0",
		PublicKey: bytes.Repeat([]byte{7}, ed25519.PublicKeySize),
		Status:    ValidatorSlashed,
		Stake:     12_345,
		Metadata:  []MetadataEntry{{Key: "region", Value: "eu-west"}},
	}
	enc, err := EncodeArtifact(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeValidator(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Address != v.Address || got.Status != ValidatorSlashed || got.Stake != v.Stake {
		t.Fatalf("decoded validator mismatch: %+v", got)
	}
	if len(got.Metadata) != 1 || got.Metadata[0].Value != "eu-west" {
		t.Fatalf("metadata lost in round trip: %+v", got.Metadata)
	}
}
