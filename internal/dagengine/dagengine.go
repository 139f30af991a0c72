// Package dagengine implements the in-memory DAG of blocks: a flat map
// keyed by block id plus a tip set, guarded by one single-writer/
// multi-reader lock. Parent edges are ids resolved by lookup rather than
// owning pointers, so parent/child cycles cannot form.
package dagengine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/findag-network/findag-core/internal/hashtimer"
	"github.com/findag-network/findag-core/internal/types"
)

// ValidationError names a DAG-level validation failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "dagengine: " + e.Reason }

// Engine holds the block map and tip set.
type Engine struct {
	mu     sync.RWMutex
	blocks map[[32]byte]*types.Block
	tips   map[[32]byte]struct{}
	bound  map[[32]byte]uint64 // block id -> round id it was finalized into
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{
		blocks: make(map[[32]byte]*types.Block),
		tips:   make(map[[32]byte]struct{}),
		bound:  make(map[[32]byte]uint64),
	}
}

// Append validates that every parent exists, removes parents from the tip
// set, and inserts block into both the map and the tip set.
func (e *Engine) Append(block *types.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range block.Parents {
		if _, ok := e.blocks[p]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("parent %x missing", p)}
		}
	}
	for _, p := range block.Parents {
		delete(e.tips, p)
	}
	e.blocks[block.BlockId] = block
	e.tips[block.BlockId] = struct{}{}
	return nil
}

// Tips returns a snapshot of current DAG tip block ids.
func (e *Engine) Tips() [][32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][32]byte, 0, len(e.tips))
	for id := range e.tips {
		out = append(out, id)
	}
	return out
}

// Get returns the block stored under id, or nil if absent.
func (e *Engine) Get(id [32]byte) *types.Block {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blocks[id]
}

// BlocksSince returns every block in the DAG not already bound to a round,
// additionally excluding every id present in alreadyBound.
func (e *Engine) BlocksSince(alreadyBound map[[32]byte]struct{}) []*types.Block {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.Block, 0)
	for id, blk := range e.blocks {
		if _, done := e.bound[id]; done {
			continue
		}
		if _, skip := alreadyBound[id]; skip {
			continue
		}
		out = append(out, blk)
	}
	return out
}

// BindToRound marks every block id as finalized into roundId. A bound
// block is never offered to a later round, so each finalized block belongs
// to exactly one round.
func (e *Engine) BindToRound(roundId uint64, blockIds [][32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range blockIds {
		e.bound[id] = roundId
	}
}

// RebindRound replaces roundId's bindings: block ids previously bound to
// roundId are released, then blockIds are bound to it. Used when a
// competing round with a lower HashTimer supersedes the one first bound
// under the same id.
func (e *Engine) RebindRound(roundId uint64, blockIds [][32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.bound {
		if r == roundId {
			delete(e.bound, id)
		}
	}
	for _, id := range blockIds {
		e.bound[id] = roundId
	}
}

// RoundOf reports which round id a block was bound to, if any.
func (e *Engine) RoundOf(id [32]byte) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.bound[id]
	return r, ok
}

// Rebuild replays a sequence of blocks (in any order such that parents
// precede children) into a fresh Engine state, used on crash recovery to
// restore the DAG and tip set from persisted blocks.
func (e *Engine) Rebuild(blocks []*types.Block) error {
	e.mu.Lock()
	e.blocks = make(map[[32]byte]*types.Block)
	e.tips = make(map[[32]byte]struct{})
	e.bound = make(map[[32]byte]uint64)
	e.mu.Unlock()

	for _, b := range blocks {
		if err := e.Append(b); err != nil {
			return err
		}
	}
	return nil
}

// SortByHashTimer returns blocks sorted ascending by HashTimer, the
// deterministic linear order used by the round finalizer.
func SortByHashTimer(blocks []*types.Block) []*types.Block {
	out := make([]*types.Block, len(blocks))
	copy(out, blocks)
	sort.Slice(out, func(i, j int) bool { return hashtimer.Less(out[i].HashTimer, out[j].HashTimer) })
	return out
}
