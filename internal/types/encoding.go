package types

// encoding.go – canonical byte encodings for signing, HashTimer content, and
// full artifact (de)serialization.
//
// Two encodings serve two different jobs:
//
//   - Signing / HashTimer-content bytes: a field-by-field concatenation
//     built with internal/wire.Writer. Ambiguous concatenation (no length
//     prefixes) would let a crafted payload field boundary forge a
//     different logical message with the same bytes, so every variable
//     field is length-prefixed.
//   - Full artifact wire encoding (storage + propagation): RLP, via
//     github.com/ethereum/go-ethereum/rlp, deterministic and byte-stable
//     with no schema compiler.

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/findag-network/findag-core/internal/hashtimer"
	"github.com/findag-network/findag-core/internal/wire"
)

// txSigningBytes returns the exact byte sequence signed by the submitter
// and verified at admission/validation time: from, to, amount, asset,
// shard_id, payload, findag_time, hashtimer, in that order.
func txSigningBytes(tx *Transaction) []byte {
	w := wire.NewWriter(64 + len(tx.Payload))
	w.PutString(string(tx.From))
	w.PutString(string(tx.To))
	w.PutUint64(tx.Amount)
	w.PutString(tx.Asset)
	w.PutUint16(uint16(tx.ShardId))
	w.PutBytes(tx.Payload)
	w.PutUint64(uint64(tx.FinDAGTime))
	w.PutFixed(tx.HashTimer[:])
	return w.Bytes()
}

// txPreHashTimerBytes is the content digested into the transaction's
// HashTimer. It excludes the HashTimer field itself, and excludes
// Signature/PublicKey, which are produced only after signing over
// txSigningBytes (which itself embeds the HashTimer). HashTimer is
// therefore always computed first, from a strictly smaller field set.
func txPreHashTimerBytes(tx *Transaction) []byte {
	w := wire.NewWriter(64 + len(tx.Payload))
	w.PutString(string(tx.From))
	w.PutString(string(tx.To))
	w.PutUint64(tx.Amount)
	w.PutString(tx.Asset)
	w.PutUint16(uint16(tx.ShardId))
	w.PutBytes(tx.Payload)
	return w.Bytes()
}

// SignTransaction computes tx's HashTimer over the pre-HashTimer fields,
// stamps FinDAGTime/HashTimer, and signs the full signing payload.
func SignTransaction(tx *Transaction, findagTime FinDAGTime, nonce uint32, sign func([]byte) []byte, pub []byte) {
	tx.FinDAGTime = findagTime
	tx.HashTimer = hashtimer.Compute(findagTime, txPreHashTimerBytes(tx), nonce)
	tx.PublicKey = pub
	tx.Signature = sign(txSigningBytes(tx))
}

// VerifyTransactionSignature checks tx.Signature over its signing bytes.
func VerifyTransactionSignature(tx *Transaction) bool {
	return Verify(tx.PublicKey, txSigningBytes(tx), tx.Signature)
}

// blockPreHashTimerBytes concatenates parents, ordered transaction
// HashTimers, findag_time and proposer: the content digested into a
// block's HashTimer and into its block_id.
func blockPreHashTimerBytes(parents [][32]byte, txHashTimers []HashTimer, findagTime FinDAGTime, proposer Address) []byte {
	w := wire.NewWriter(32*len(parents) + 32*len(txHashTimers) + 32)
	w.PutUint32(uint32(len(parents)))
	for _, p := range parents {
		w.PutFixed(p[:])
	}
	w.PutUint32(uint32(len(txHashTimers)))
	for _, h := range txHashTimers {
		w.PutFixed(h[:])
	}
	w.PutUint64(uint64(findagTime))
	w.PutString(string(proposer))
	return w.Bytes()
}

// roundContentBytes concatenates constituent block ids and the current
// FinDAGTime: the content digested into a round's HashTimer.
func roundContentBytes(blockIds [][32]byte, findagTime FinDAGTime) []byte {
	w := wire.NewWriter(32*len(blockIds) + 8)
	w.PutUint32(uint32(len(blockIds)))
	for _, id := range blockIds {
		w.PutFixed(id[:])
	}
	w.PutUint64(uint64(findagTime))
	return w.Bytes()
}

// roundSigningBytes is the payload a finalizer signs: the round id plus
// the round's full HashTimer, so the signature binds the round's block set
// and timestamp rather than the bare sequence number.
func roundSigningBytes(round *Round) []byte {
	w := wire.NewWriter(40)
	w.PutUint64(round.RoundId)
	w.PutFixed(round.HashTimer[:])
	return w.Bytes()
}

// EncodeArtifact serializes any of *Transaction, *Block, *Round to a
// byte-stable RLP encoding for persistence and propagation.
func EncodeArtifact(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, v); err != nil {
		return nil, fmt.Errorf("types: encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTransaction decodes an RLP-encoded Transaction.
func DecodeTransaction(b []byte) (*Transaction, error) {
	var tx Transaction
	if err := rlp.DecodeBytes(b, &tx); err != nil {
		return nil, fmt.Errorf("types: decode transaction: %w", err)
	}
	return &tx, nil
}

// DecodeBlock decodes an RLP-encoded Block.
func DecodeBlock(b []byte) (*Block, error) {
	var blk Block
	if err := rlp.DecodeBytes(b, &blk); err != nil {
		return nil, fmt.Errorf("types: decode block: %w", err)
	}
	return &blk, nil
}

// DecodeRound decodes an RLP-encoded Round.
func DecodeRound(b []byte) (*Round, error) {
	var rnd Round
	if err := rlp.DecodeBytes(b, &rnd); err != nil {
		return nil, fmt.Errorf("types: decode round: %w", err)
	}
	return &rnd, nil
}

// DecodeValidator decodes an RLP-encoded Validator record.
func DecodeValidator(b []byte) (*Validator, error) {
	var v Validator
	if err := rlp.DecodeBytes(b, &v); err != nil {
		return nil, fmt.Errorf("types: decode validator: %w", err)
	}
	return &v, nil
}
