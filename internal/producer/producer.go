// Package producer implements the block producer loop: a cooperative
// timer loop that pulls transactions from the pool per shard, revalidates
// them against current state, assembles and signs a Block, and hands it to
// the DAG engine and propagation layer.
package producer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/findag-network/findag-core/internal/statestore"
	"github.com/findag-network/findag-core/internal/types"
	"github.com/findag-network/findag-core/internal/workerpool"
)

// Pool is the subset of txpool.Pool the producer depends on.
type Pool interface {
	Shards() []types.ShardId
	TakeBatch(id types.ShardId, max int) []types.Transaction
	Return(id types.ShardId, txs []types.Transaction)
}

// DAG is the subset of dagengine.Engine the producer depends on.
type DAG interface {
	Tips() [][32]byte
	Append(block *types.Block) error
}

// State is the subset of statestore.Store the producer depends on.
type State interface {
	GetBalance(shard types.ShardId, address types.Address, asset string) (uint64, error)
	ApplyBlock(block *types.Block, ops []statestore.BlockTransferOp) error
}

// TimeSource supplies the current FinDAG Time (internal/timeservice.Service).
type TimeSource interface {
	FinDAGTime() types.FinDAGTime
}

// Handoff announces newly produced blocks outward, best-effort.
type Handoff interface {
	NewBlock(blk *types.Block)
}

// Metrics observes block production (pkg/metrics.Prometheus satisfies
// this).
type Metrics interface {
	BlockProduced(txCount int)
}

// Config controls loop cadence and batch sizing.
type Config struct {
	BlockInterval time.Duration // default 50ms
	MaxBlockTxs   int           // default 5000
	Heartbeat     bool          // if true, produce empty blocks on idle ticks
}

func (c Config) withDefaults() Config {
	if c.BlockInterval <= 0 {
		c.BlockInterval = 50 * time.Millisecond
	}
	if c.MaxBlockTxs <= 0 {
		c.MaxBlockTxs = 5000
	}
	return c
}

// Producer runs the block production loop for one node identity.
type Producer struct {
	cfg      Config
	pool     Pool
	dag      DAG
	state    State
	time     TimeSource
	handoff  Handoff
	proposer types.Address
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	logger   *logrus.Logger
	metrics  Metrics
	sigPool  *workerpool.Pool
}

// New constructs a Producer. A nil logger falls back to a default
// logger.
func New(cfg Config, pool Pool, dag DAG, state State, ts TimeSource, handoff Handoff, proposer types.Address, priv ed25519.PrivateKey, pub ed25519.PublicKey, logger *logrus.Logger) *Producer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Producer{
		cfg:      cfg.withDefaults(),
		pool:     pool,
		dag:      dag,
		state:    state,
		time:     ts,
		handoff:  handoff,
		proposer: proposer,
		priv:     priv,
		pub:      pub,
		logger:   logger,
	}
}

// WithMetrics attaches an optional metrics sink.
func (p *Producer) WithMetrics(m Metrics) *Producer {
	p.metrics = m
	return p
}

// WithSigPool dispatches revalidation's signature re-checks across a
// bounded worker pool instead of the tick goroutine. Useful once batches
// approach max_block_txs, where serial Ed25519 verification would
// otherwise dominate tick latency.
func (p *Producer) WithSigPool(pool *workerpool.Pool) *Producer {
	p.sigPool = pool
	return p
}

// Start launches the cooperative producer loop; it returns immediately
// and stops once ctx is cancelled. The returned channel closes once the
// loop goroutine has actually exited, so callers can wait for a clean stop
// before tearing down dependencies (e.g. closing the state store).
func (p *Producer) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.BlockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.logger.Info("producer: stopped")
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
	return done
}

// tick produces one block per shard with queued transactions; each
// successive block references the tips left by the previous one, so within
// a tick the blocks chain. Failures skip the affected shard and resume
// next cycle.
func (p *Producer) tick() {
	shards := p.pool.Shards()
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

	produced := 0
	for _, shard := range shards {
		batch := p.pool.TakeBatch(shard, p.cfg.MaxBlockTxs)
		if len(batch) == 0 {
			continue
		}
		if p.produce(shard, batch) {
			produced++
		}
	}
	if produced == 0 && p.cfg.Heartbeat {
		p.produceEmpty()
	}
}

// produce assembles, applies and appends one block over a single shard's
// batch. Transactions that lose the balance race are returned to the pool;
// permanently invalid ones (bad signature) are dropped.
func (p *Producer) produce(shard types.ShardId, batch []types.Transaction) bool {
	findagTime := p.time.FinDAGTime()
	parents := p.dag.Tips()

	batch, sigRejectCount := p.verifySignatures(batch)
	if sigRejectCount > 0 {
		p.logger.Warnf("producer: dropped %d transaction(s) failing signature revalidation", sigRejectCount)
	}

	surviving, ops, rejected := p.revalidate(batch)
	if len(rejected) > 0 {
		p.pool.Return(shard, rejected)
	}
	if len(surviving) == 0 {
		return false
	}

	nonce := rand.Uint32()
	blk, err := types.BuildBlock(parents, surviving, findagTime, nonce, p.proposer, p.priv, p.pub, p.cfg.MaxBlockTxs)
	if err != nil {
		p.logger.WithError(err).Warn("producer: build block failed, returning txs to pool")
		p.pool.Return(shard, surviving)
		return false
	}

	if err := p.state.ApplyBlock(blk, ops); err != nil {
		p.logger.WithError(err).Warn("producer: apply block failed")
		p.pool.Return(shard, surviving)
		return false
	}

	if err := p.dag.Append(blk); err != nil {
		p.logger.WithError(err).Error("producer: append to dag failed after state commit")
		return false
	}

	if p.metrics != nil {
		p.metrics.BlockProduced(len(blk.Transactions))
	}
	if p.handoff != nil {
		p.handoff.NewBlock(blk)
	}
	return true
}

// produceEmpty emits a transaction-less heartbeat block on an otherwise
// idle tick.
func (p *Producer) produceEmpty() {
	findagTime := p.time.FinDAGTime()
	parents := p.dag.Tips()
	blk, err := types.BuildBlock(parents, nil, findagTime, rand.Uint32(), p.proposer, p.priv, p.pub, p.cfg.MaxBlockTxs)
	if err != nil {
		p.logger.WithError(err).Warn("producer: build heartbeat block failed")
		return
	}
	if err := p.state.ApplyBlock(blk, nil); err != nil {
		p.logger.WithError(err).Warn("producer: apply heartbeat block failed")
		return
	}
	if err := p.dag.Append(blk); err != nil {
		p.logger.WithError(err).Error("producer: append heartbeat block failed after state commit")
		return
	}
	if p.metrics != nil {
		p.metrics.BlockProduced(0)
	}
	if p.handoff != nil {
		p.handoff.NewBlock(blk)
	}
}

// verifySignatures re-checks each transaction's signature, splitting out
// permanently invalid transactions (dropped rather than returned to the
// pool, since a bad signature can never become valid). When a worker pool
// is attached, verification fans out across it; otherwise it runs serially
// on the tick goroutine.
func (p *Producer) verifySignatures(txs []types.Transaction) ([]types.Transaction, int) {
	if len(txs) == 0 {
		return txs, 0
	}
	var ok []bool
	if p.sigPool != nil {
		ok = workerpool.VerifyAll(p.sigPool, txs, func(tx types.Transaction) bool {
			return types.VerifyTransactionSignature(&tx)
		})
	} else {
		ok = make([]bool, len(txs))
		for i := range txs {
			ok[i] = types.VerifyTransactionSignature(&txs[i])
		}
	}
	surviving := txs[:0:0]
	rejected := 0
	for i, tx := range txs {
		if ok[i] {
			surviving = append(surviving, tx)
		} else {
			rejected++
		}
	}
	return surviving, rejected
}

// revalidate re-checks each transaction's balance against current state
// (the admission preflight may have raced with other blocks), building the
// tentative debit/credit batch and splitting out transactions that would
// violate the non-negative invariant so they can be returned to the pool.
// Within the batch, earlier debits and credits count toward later
// transactions' available balance.
func (p *Producer) revalidate(txs []types.Transaction) (surviving []types.Transaction, ops []statestore.BlockTransferOp, rejected []types.Transaction) {
	pending := make(map[string]int64) // shard:address:asset -> net delta so far this batch

	balanceKey := func(shard types.ShardId, addr types.Address, asset string) string {
		return fmt.Sprintf("%d:%s:%s", shard, addr, asset)
	}

	for _, tx := range txs {
		fromKey := balanceKey(tx.ShardId, tx.From, tx.Asset)
		bal, err := p.state.GetBalance(tx.ShardId, tx.From, tx.Asset)
		if err != nil {
			p.logger.WithError(err).Warn("producer: revalidate balance read failed")
			rejected = append(rejected, tx)
			continue
		}
		available := int64(bal) + pending[fromKey]
		if available < int64(tx.Amount) {
			rejected = append(rejected, tx)
			continue
		}
		pending[fromKey] -= int64(tx.Amount)
		pending[balanceKey(tx.ShardId, tx.To, tx.Asset)] += int64(tx.Amount)
		surviving = append(surviving, tx)
		ops = append(ops, statestore.BlockTransferOp{
			Shard:  tx.ShardId,
			From:   tx.From,
			To:     tx.To,
			Asset:  tx.Asset,
			Amount: tx.Amount,
		})
	}
	return surviving, ops, rejected
}
