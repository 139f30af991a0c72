package types

// block.go – Block construction and validation.

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/findag-network/findag-core/internal/hashtimer"
)

// ErrParentMissing, ErrBlockTooLarge and ErrBlockBadSignature name the
// validation failures that apply to blocks.
var (
	ErrParentMissing     = errors.New("types: parent block missing from DAG")
	ErrBlockTooLarge     = errors.New("types: block exceeds max_block_txs")
	ErrBlockBadSignature = errors.New("types: block signature invalid")
)

// BuildBlock assembles a signed Block from a surviving, revalidated
// transaction set and the current DAG tips. Transactions are sorted by
// HashTimer ascending before the block id and block HashTimer are
// computed.
func BuildBlock(parents [][32]byte, txs []Transaction, findagTime FinDAGTime, nonce uint32, proposer Address, priv ed25519.PrivateKey, pub ed25519.PublicKey, maxBlockTxs int) (*Block, error) {
	if len(txs) > maxBlockTxs {
		return nil, fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, len(txs), maxBlockTxs)
	}
	ordered := make([]Transaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool {
		return hashtimer.Less(ordered[i].HashTimer, ordered[j].HashTimer)
	})

	txHashTimers := make([]HashTimer, len(ordered))
	for i, tx := range ordered {
		txHashTimers[i] = tx.HashTimer
	}

	content := blockPreHashTimerBytes(parents, txHashTimers, findagTime, proposer)
	ht := hashtimer.Compute(findagTime, content, nonce)

	blk := &Block{
		Parents:      parents,
		Transactions: ordered,
		FinDAGTime:   findagTime,
		HashTimer:    ht,
		Proposer:     proposer,
		PublicKey:    pub,
	}
	blk.BlockId = computeBlockId(parents, txHashTimers, findagTime, proposer)
	blk.Signature = Sign(priv, blockSigningBytes(blk))
	return blk, nil
}

// computeBlockId hashes parents, ordered tx hashtimers, findag_time and
// proposer with SHA-256. A plain digest, distinct from the 32-byte
// HashTimer whose leading bytes carry a time prefix.
func computeBlockId(parents [][32]byte, txHashTimers []HashTimer, findagTime FinDAGTime, proposer Address) [32]byte {
	return sha256.Sum256(blockPreHashTimerBytes(parents, txHashTimers, findagTime, proposer))
}

func blockSigningBytes(blk *Block) []byte {
	return blk.BlockId[:]
}

// VerifyBlock re-derives block_id from the block's own contents and checks
// the proposer signature. Per-transaction signature verification is the
// caller's responsibility.
func VerifyBlock(blk *Block, maxBlockTxs int) error {
	if len(blk.Transactions) > maxBlockTxs {
		return fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, len(blk.Transactions), maxBlockTxs)
	}
	txHashTimers := make([]HashTimer, len(blk.Transactions))
	for i, tx := range blk.Transactions {
		txHashTimers[i] = tx.HashTimer
	}
	wantId := computeBlockId(blk.Parents, txHashTimers, blk.FinDAGTime, blk.Proposer)
	if wantId != blk.BlockId {
		return fmt.Errorf("types: block_id mismatch")
	}
	if !Verify(blk.PublicKey, blockSigningBytes(blk), blk.Signature) {
		return ErrBlockBadSignature
	}
	return nil
}
