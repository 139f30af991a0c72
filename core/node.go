package core

// node.go – the programmatic API façade: submit transaction, fetch
// block/round, list recent blocks/rounds, query balance, add/remove
// validator, health/status. Node wires the time service, state store,
// pool, DAG, producer, finalizer and propagation layer into one
// cooperating unit and owns startup/shutdown ordering.
//
// core only imports downward into the component packages it wires
// (internal/dagengine, internal/producer, internal/propagation,
// internal/roundchain, internal/statestore, internal/timeservice,
// internal/txpool, internal/workerpool) plus the shared domain types in
// internal/types; none of those packages import core, so this wiring never
// closes a cycle back on itself.

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/findag-network/findag-core/internal/dagengine"
	"github.com/findag-network/findag-core/internal/producer"
	"github.com/findag-network/findag-core/internal/propagation"
	"github.com/findag-network/findag-core/internal/roundchain"
	"github.com/findag-network/findag-core/internal/statestore"
	"github.com/findag-network/findag-core/internal/timeservice"
	"github.com/findag-network/findag-core/internal/txpool"
	"github.com/findag-network/findag-core/internal/types"
	"github.com/findag-network/findag-core/internal/workerpool"
)

// NodeConfig collects every consensus tunable plus node identity.
type NodeConfig struct {
	Producer  producer.Config
	Finalizer roundchain.Config
	Pool      txpool.Config
	Time      timeservice.Config
	DedupSize int

	// SigWorkers sizes the bounded worker pool the producer dispatches
	// batch signature re-verification to. 0 selects a single-worker pool.
	SigWorkers int
}

// Node wires every component (A time, C state, D pool, E producer, F dag,
// G finalizer, H propagation) into one cooperating unit.
type Node struct {
	self addrHolder

	Time        *timeservice.Service
	State       *statestore.Store
	Validators  *types.ValidatorSet
	Pool        *txpool.Pool
	DAG         *dagengine.Engine
	Producer    *producer.Producer
	Finalizer   *roundchain.Finalizer
	Propagation *propagation.Layer

	logger      *logrus.Logger
	maxBlockTxs int
	sigPool     *workerpool.Pool

	done []<-chan struct{}
}

type addrHolder struct {
	Address types.Address
	Priv    ed25519.PrivateKey
	Pub     ed25519.PublicKey
}

// NewNode constructs and wires a complete Node. transport may be nil (no
// outward propagation, useful for single-node tests).
func NewNode(cfg NodeConfig, dbPath string, proposer types.Address, priv ed25519.PrivateKey, pub ed25519.PublicKey, assetWhitelist []string, transport propagation.Transport, logger *logrus.Logger) (*Node, error) {
	if logger == nil {
		logger = logrus.New()
	}

	store, err := statestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("core: open state store: %w", err)
	}

	validators := types.NewValidatorSet(store)
	if err := validators.LoadFrom(store); err != nil {
		return nil, fmt.Errorf("core: load validators: %w", err)
	}

	whitelist := make(map[string]struct{}, len(assetWhitelist))
	for _, a := range assetWhitelist {
		whitelist[a] = struct{}{}
	}
	poolCfg := cfg.Pool
	poolCfg.Whitelist = whitelist
	pool, err := txpool.New(poolCfg, store, nil)
	if err != nil {
		return nil, fmt.Errorf("core: construct pool: %w", err)
	}

	dag := dagengine.New()
	ts := timeservice.New(cfg.Time, logger)

	maxBlockTxs := cfg.Producer.MaxBlockTxs
	if maxBlockTxs <= 0 {
		maxBlockTxs = 5000
	}

	n := &Node{
		self:        addrHolder{Address: proposer, Priv: priv, Pub: pub},
		Time:        ts,
		State:       store,
		Validators:  validators,
		Pool:        pool,
		DAG:         dag,
		logger:      logger,
		maxBlockTxs: maxBlockTxs,
	}

	sink := &nodeSink{node: n}
	layer, err := propagation.New(transport, sink, cfg.DedupSize, logger)
	if err != nil {
		return nil, fmt.Errorf("core: construct propagation: %w", err)
	}
	n.Propagation = layer

	n.sigPool = workerpool.New(cfg.SigWorkers, 0)
	n.Producer = producer.New(cfg.Producer, pool, dag, store, ts, layer, proposer, priv, pub, logger).WithSigPool(n.sigPool)
	n.Finalizer = roundchain.New(cfg.Finalizer, dag, store, validators, ts, layer, proposer, priv, pub, logger)

	return n, nil
}

// nodeSink adapts Node's component methods to propagation.Sink.
type nodeSink struct{ node *Node }

func (s *nodeSink) AdmitTransaction(tx types.Transaction) error { return s.node.Pool.Submit(tx) }

// AppendBlock re-derives block_id and checks the proposer signature
// before handing an inbound block to the DAG, so an invalid artifact is
// dropped at the boundary; locally produced blocks get the same block_id
// derivation and signature from BuildBlock.
func (s *nodeSink) AppendBlock(blk *types.Block) error {
	if err := types.VerifyBlock(blk, s.node.maxBlockTxs); err != nil {
		return err
	}
	return s.node.DAG.Append(blk)
}
func (s *nodeSink) AcceptRound(round *types.Round) error {
	return s.node.Finalizer.Accept(round, nil)
}

// Start launches the time service, producer and finalizer loops. Call
// Wait after cancelling ctx to block until all three loops have actually
// exited before calling Close, so the producer stops, the finalizer
// flushes a final round, and only then do network and state close.
func (n *Node) Start(ctx context.Context) {
	timeDone := n.Time.Run(ctx, func() []timeservice.Peer { return nil })
	producerDone := n.Producer.Start(ctx)
	finalizerDone := n.Finalizer.Start(ctx)
	n.done = []<-chan struct{}{timeDone, producerDone, finalizerDone}
}

// Wait blocks until every loop started by Start has exited. It is a no-op
// if Start was never called. Callers should cancel the Start(ctx) context
// before calling Wait so the loops actually have a reason to return.
func (n *Node) Wait() {
	for _, d := range n.done {
		<-d
	}
}

// SubmitTransaction runs a transaction through the admission contract
// and, on success, the outbound propagation hook.
func (n *Node) SubmitTransaction(tx types.Transaction) error {
	if err := n.Pool.Submit(tx); err != nil {
		return err
	}
	n.Propagation.NewTransaction(&tx)
	return nil
}

// GetBlock fetches a block by id.
func (n *Node) GetBlock(id [32]byte) (*types.Block, error) { return n.State.GetBlock(id) }

// LatestBlock returns the most recently applied block.
func (n *Node) LatestBlock() (*types.Block, error) { return n.State.LatestBlock() }

// GetRound fetches a round by number.
func (n *Node) GetRound(roundId uint64) (*types.Round, error) { return n.State.GetRound(roundId) }

// LatestRound returns the most recently finalized round.
func (n *Node) LatestRound() (*types.Round, error) { return n.State.LatestRound() }

// ListRecentBlocks returns up to limit of the most recently applied
// blocks, newest last.
func (n *Node) ListRecentBlocks(limit int) ([]*types.Block, error) {
	blocks, err := n.State.ListBlocks()
	if err != nil {
		return nil, err
	}
	return tailBlocks(blocks, limit), nil
}

// ListRecentRounds returns up to limit of the most recently finalized
// rounds, newest last.
func (n *Node) ListRecentRounds(limit int) ([]*types.Round, error) {
	rounds, err := n.State.ListRounds()
	if err != nil {
		return nil, err
	}
	return tailRounds(rounds, limit), nil
}

func tailBlocks(blocks []*types.Block, limit int) []*types.Block {
	if limit <= 0 || limit >= len(blocks) {
		return blocks
	}
	return blocks[len(blocks)-limit:]
}

func tailRounds(rounds []*types.Round, limit int) []*types.Round {
	if limit <= 0 || limit >= len(rounds) {
		return rounds
	}
	return rounds[len(rounds)-limit:]
}

// GetBalance queries a (shard, address, asset) balance.
func (n *Node) GetBalance(shard types.ShardId, address types.Address, asset string) (uint64, error) {
	return n.State.GetBalance(shard, address, asset)
}

// AddValidator registers a new Active validator.
func (n *Node) AddValidator(addr types.Address, pub []byte, stake uint64) error {
	return n.Validators.Register(addr, pub, stake)
}

// RemoveValidator deactivates a validator, removing it from the finalizer
// rotation without the punitive effects of slashing.
func (n *Node) RemoveValidator(addr types.Address) error {
	return n.Validators.Deactivate(addr)
}

// SlashValidator slashes a misbehaving validator: a fixed fraction of its
// stake is forfeited and it is permanently removed from the finalizer
// rotation. The forfeited amount is returned.
func (n *Node) SlashValidator(addr types.Address) (uint64, error) {
	return n.Validators.Slash(addr)
}

// Status is the node's health/status snapshot.
type Status struct {
	LatestBlockId    [32]byte
	LatestRoundId    uint64
	ActiveValidators int
}

// Status reports the node's current health/status.
func (n *Node) Status() (Status, error) {
	blk, err := n.State.LatestBlock()
	if err != nil {
		return Status{}, err
	}
	round, err := n.State.LatestRound()
	if err != nil {
		return Status{}, err
	}
	st := Status{ActiveValidators: len(n.Validators.ActiveSorted())}
	if blk != nil {
		st.LatestBlockId = blk.BlockId
	}
	if round != nil {
		st.LatestRoundId = round.RoundId
	}
	return st, nil
}

// Recover replays persisted blocks forward to rebuild the in-memory DAG
// and tip set after a restart or crash.
func (n *Node) Recover(ctx context.Context) error {
	if err := n.Validators.LoadFrom(n.State); err != nil {
		return fmt.Errorf("core: recover: load validators: %w", err)
	}
	blocks, err := n.State.ListBlocks()
	if err != nil {
		return fmt.Errorf("core: recover: list blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil
	}
	if err := n.DAG.Rebuild(blocks); err != nil {
		return fmt.Errorf("core: recover: rebuild dag: %w", err)
	}

	// Rebind every persisted round's blocks, not just the latest one: the
	// in-memory bound set is rebuilt empty by DAG.Rebuild, and leaving
	// earlier rounds' blocks unbound would let BlocksSince hand them back
	// to the next round, binding a block twice.
	rounds, err := n.State.ListRounds()
	if err != nil {
		return fmt.Errorf("core: recover: list rounds: %w", err)
	}
	for _, r := range rounds {
		n.DAG.BindToRound(r.RoundId, r.BlockIds)
	}
	return nil
}

// Close shuts down the signature worker pool and the durable state store.
// Callers should cancel the Start(ctx) context first so the producer and
// finalizer loops drain before Close runs.
func (n *Node) Close() error {
	if n.sigPool != nil {
		n.sigPool.Close()
	}
	return n.State.Close()
}
