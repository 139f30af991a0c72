package types

// round.go – Round construction and validation.

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"github.com/findag-network/findag-core/internal/hashtimer"
)

var (
	ErrNonSequentialRound    = errors.New("types: round_id is not previous+1")
	ErrRoundCollision        = errors.New("types: round_id already finalized")
	ErrRoundBadSignature     = errors.New("types: round signature invalid")
	ErrRoundBlockSetMismatch = errors.New("types: round block set does not match locally known blocks")
)

// BuildRound assembles a Round from the set of blocks produced since the
// previous round, sorted by HashTimer ascending.
func BuildRound(roundId uint64, parentRound uint64, blocks []*Block, findagTime FinDAGTime, proposer Address, priv ed25519.PrivateKey, pub ed25519.PublicKey) *Round {
	ordered := make([]*Block, len(blocks))
	copy(ordered, blocks)
	sort.Slice(ordered, func(i, j int) bool {
		return hashtimer.Less(ordered[i].HashTimer, ordered[j].HashTimer)
	})

	blockIds := make([][32]byte, len(ordered))
	for i, b := range ordered {
		blockIds[i] = b.BlockId
	}

	ht := hashtimer.Compute(findagTime, roundContentBytes(blockIds, findagTime), 0)

	round := &Round{
		RoundId:      roundId,
		ParentRounds: []uint64{parentRound},
		BlockIds:     blockIds,
		FinDAGTime:   findagTime,
		HashTimer:    ht,
		Proposer:     proposer,
		PublicKey:    pub,
	}
	round.Signature = Sign(priv, roundSigningBytes(round))
	return round
}

// VerifyRound checks a received round against the locally expected
// sequence number, the finalizer's signature, and (if knownBlocks is
// non-nil) that every block id in the round is known locally. The check
// runs once: it does not wait for missing blocks to arrive, and a nil
// knownBlocks skips the block-set check.
func VerifyRound(round *Round, previousRoundId uint64, knownBlocks map[[32]byte]struct{}) error {
	if round.RoundId != previousRoundId+1 {
		return fmt.Errorf("%w: got %d want %d", ErrNonSequentialRound, round.RoundId, previousRoundId+1)
	}
	if !Verify(round.PublicKey, roundSigningBytes(round), round.Signature) {
		return ErrRoundBadSignature
	}
	if knownBlocks != nil {
		for _, id := range round.BlockIds {
			if _, ok := knownBlocks[id]; !ok {
				return ErrRoundBlockSetMismatch
			}
		}
	}
	return nil
}
