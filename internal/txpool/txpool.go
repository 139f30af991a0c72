// Package txpool implements the sharded transaction pool: independent
// per-shard FIFO admission pipelines validated against the authoritative
// state store, with a replay-guard LRU and asset whitelist. Each shard's
// FIFO carries its own lock; the shard map and the replay guard are shared
// by all shards and guarded by pool-wide locks.
package txpool

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/findag-network/findag-core/internal/types"
)

// Code names the stable admission-rejection reasons returned verbatim to
// the submitter.
type Code string

const (
	CodeMalformed           Code = "malformed"
	CodeUnsupportedAsset    Code = "unsupported_asset"
	CodeBadSignature        Code = "bad_signature"
	CodeReplay              Code = "replay"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeMempoolFull         Code = "mempool_full"
)

// AdmissionError is returned by Submit; it names the failing admission step
// and a stable Code so callers can surface the textual reason and code
// verbatim.
type AdmissionError struct {
	Code   Code
	Reason string
}

func (e *AdmissionError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Reason) }

func reject(code Code, reason string) error {
	return &AdmissionError{Code: code, Reason: reason}
}

// BalanceReader is the admission preflight dependency on the state store.
// Final debit happens at block application, not here.
type BalanceReader interface {
	GetBalance(shard types.ShardId, address types.Address, asset string) (uint64, error)
}

// Config controls admission back-pressure and replay-guard sizing.
type Config struct {
	Whitelist          map[string]struct{}
	MaxMempoolPerShard int
	ReplayWindow       int
}

type shard struct {
	mu    sync.Mutex
	items []types.Transaction
}

// Pool is the sharded transaction pool.
type Pool struct {
	cfg    Config
	state  BalanceReader
	verify func(tx *types.Transaction) bool

	mu     sync.RWMutex
	shards map[types.ShardId]*shard

	replayMu sync.Mutex
	replay   *lru.Cache[types.HashTimer, struct{}]
}

// New constructs a Pool. verify defaults to types.VerifyTransactionSignature
// if nil (tests may inject a stub).
func New(cfg Config, state BalanceReader, verify func(tx *types.Transaction) bool) (*Pool, error) {
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = 100_000
	}
	if verify == nil {
		verify = types.VerifyTransactionSignature
	}
	cache, err := lru.New[types.HashTimer, struct{}](cfg.ReplayWindow)
	if err != nil {
		return nil, fmt.Errorf("txpool: replay cache: %w", err)
	}
	return &Pool{
		cfg:    cfg,
		state:  state,
		verify: verify,
		shards: make(map[types.ShardId]*shard),
		replay: cache,
	}, nil
}

func (p *Pool) shardFor(id types.ShardId) *shard {
	p.mu.Lock()
	defer p.mu.Unlock()
	sh, ok := p.shards[id]
	if !ok {
		sh = &shard{}
		p.shards[id] = sh
	}
	return sh
}

// Submit runs the admission contract: syntax, authentication, replay
// guard, balance preflight, admit.
func (p *Pool) Submit(tx types.Transaction) error {
	// 1. Syntax.
	if tx.Amount == 0 {
		return reject(CodeMalformed, "amount must be > 0")
	}
	if tx.From == "" || tx.To == "" {
		return reject(CodeMalformed, "from/to address required")
	}
	if _, ok := p.cfg.Whitelist[tx.Asset]; !ok {
		return reject(CodeUnsupportedAsset, fmt.Sprintf("asset %q not whitelisted", tx.Asset))
	}

	// 2. Authentication.
	wantFrom, err := types.AddressFromPublicKey(tx.PublicKey)
	if err != nil || wantFrom != tx.From {
		return reject(CodeBadSignature, "from does not match public_key")
	}
	if !p.verify(&tx) {
		return reject(CodeBadSignature, "signature verification failed")
	}

	// 3. Replay guard.
	p.replayMu.Lock()
	if p.replay.Contains(tx.HashTimer) {
		p.replayMu.Unlock()
		return reject(CodeReplay, "hashtimer already seen")
	}
	p.replayMu.Unlock()

	// 4. Balance preflight.
	bal, err := p.state.GetBalance(tx.ShardId, tx.From, tx.Asset)
	if err != nil {
		return fmt.Errorf("txpool: balance preflight: %w", err)
	}
	if bal < tx.Amount {
		return reject(CodeInsufficientBalance, "balance below requested amount")
	}

	// 5. Admit.
	sh := p.shardFor(tx.ShardId)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if p.cfg.MaxMempoolPerShard > 0 && len(sh.items) >= p.cfg.MaxMempoolPerShard {
		return reject(CodeMempoolFull, "shard mempool at capacity")
	}
	sh.items = append(sh.items, tx)

	p.replayMu.Lock()
	p.replay.Add(tx.HashTimer, struct{}{})
	p.replayMu.Unlock()
	return nil
}

// TakeBatch removes up to max transactions from the head of shard's FIFO.
// It never commits state.
func (p *Pool) TakeBatch(id types.ShardId, max int) []types.Transaction {
	sh := p.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if max > len(sh.items) {
		max = len(sh.items)
	}
	batch := make([]types.Transaction, max)
	copy(batch, sh.items[:max])
	sh.items = sh.items[max:]
	return batch
}

// Return puts transactions back at the head of a shard's FIFO, used for
// transactions that lose a balance race at block application time.
func (p *Pool) Return(id types.ShardId, txs []types.Transaction) {
	if len(txs) == 0 {
		return
	}
	sh := p.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.items = append(append([]types.Transaction{}, txs...), sh.items...)
}

// Len reports the current queue depth of a shard (for tests/metrics).
func (p *Pool) Len(id types.ShardId) int {
	sh := p.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.items)
}

// Shards returns the set of shard ids with at least one queued
// transaction, snapshotted at call time.
func (p *Pool) Shards() []types.ShardId {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.ShardId, 0, len(p.shards))
	for id, sh := range p.shards {
		sh.mu.Lock()
		queued := len(sh.items)
		sh.mu.Unlock()
		if queued > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Evict removes a transaction's hashtimer from the replay guard, allowing
// a readmit to reuse the same HashTimer value.
func (p *Pool) Evict(ht types.HashTimer) {
	p.replayMu.Lock()
	defer p.replayMu.Unlock()
	p.replay.Remove(ht)
}
