// Package roundchain implements the round finalizer: a cooperative timer
// loop that determines the next round id, checks whether this node is the
// deterministic finalizer, and if so assembles, signs and broadcasts a
// Round over every DAG block not yet bound to a round.
package roundchain

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/findag-network/findag-core/internal/hashtimer"
	"github.com/findag-network/findag-core/internal/types"
)

// State names the per-round_id state machine:
// Open -> Proposing -> Broadcast -> Final, or Open -> Awaiting -> Final.
type State string

const (
	StateOpen      State = "Open"
	StateProposing State = "Proposing"
	StateBroadcast State = "Broadcast"
	StateAwaiting  State = "Awaiting"
	StateFinal     State = "Final"
)

// ErrNotFinalizer is returned when a round's proposer does not match the
// deterministic selection for its id.
var ErrNotFinalizer = errors.New("roundchain: node is not the finalizer for this round")

// DAG is the subset of dagengine.Engine the finalizer depends on.
type DAG interface {
	BlocksSince(alreadyBound map[[32]byte]struct{}) []*types.Block
	BindToRound(roundId uint64, blockIds [][32]byte)
	RebindRound(roundId uint64, blockIds [][32]byte)
}

// Ledger is the subset of statestore.Store the finalizer depends on.
type Ledger interface {
	LatestRound() (*types.Round, error)
	PutRound(round *types.Round) error
}

// Validators exposes the canonical active set and deterministic finalizer
// lookup (types.ValidatorSet satisfies this).
type Validators interface {
	FinalizerFor(roundId uint64) (types.Address, bool)
}

// TimeSource supplies the current FinDAG Time.
type TimeSource interface {
	FinDAGTime() types.FinDAGTime
}

// Handoff announces a newly finalized round outward, best-effort.
type Handoff interface {
	NewRound(round *types.Round)
}

// Metrics observes round finalization (pkg/metrics.Prometheus satisfies
// this).
type Metrics interface {
	RoundFinalized(blockCount int)
}

// Config controls loop cadence and the missing-finalizer deadline.
type Config struct {
	RoundInterval time.Duration // default 250ms

	// FinalizerDeadline is how long a round may sit unfinalized with
	// pending blocks before selection deterministically advances to the
	// next validator index. Defaults to 4x RoundInterval.
	FinalizerDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.RoundInterval <= 0 {
		c.RoundInterval = 250 * time.Millisecond
	}
	if c.FinalizerDeadline <= 0 {
		c.FinalizerDeadline = 4 * c.RoundInterval
	}
	return c
}

// Finalizer runs the round finalization loop for one node identity.
type Finalizer struct {
	cfg        Config
	dag        DAG
	ledger     Ledger
	validators Validators
	time       TimeSource
	handoff    Handoff
	self       types.Address
	priv       ed25519.PrivateKey
	pub        ed25519.PublicKey
	logger     *logrus.Logger
	metrics    Metrics

	state State

	// Missing-finalizer tracking: pendingRound is the round id currently
	// awaiting finalization, pendingSince when blocks for it were first
	// seen, and skips how many validator indices have been advanced past
	// since then.
	pendingRound uint64
	pendingSince time.Time
	skips        uint64
}

// New constructs a Finalizer.
func New(cfg Config, dag DAG, ledger Ledger, validators Validators, ts TimeSource, handoff Handoff, self types.Address, priv ed25519.PrivateKey, pub ed25519.PublicKey, logger *logrus.Logger) *Finalizer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Finalizer{
		cfg:        cfg.withDefaults(),
		dag:        dag,
		ledger:     ledger,
		validators: validators,
		time:       ts,
		handoff:    handoff,
		self:       self,
		priv:       priv,
		pub:        pub,
		logger:     logger,
		state:      StateOpen,
	}
}

// WithMetrics attaches an optional metrics sink.
func (f *Finalizer) WithMetrics(m Metrics) *Finalizer {
	f.metrics = m
	return f
}

// Start launches the cooperative finalizer loop; the finalizer flushes
// one last round over whatever is pending before it exits on cancellation.
// The returned channel closes once that final tick has run and the loop
// goroutine has exited.
func (f *Finalizer) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(f.cfg.RoundInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				f.tick()
				f.logger.Info("roundchain: stopped")
				return
			case <-ticker.C:
				f.tick()
			}
		}
	}()
	return done
}

// tick runs one finalization attempt for the next round id.
func (f *Finalizer) tick() {
	latest, err := f.ledger.LatestRound()
	if err != nil {
		f.logger.WithError(err).Warn("roundchain: read latest round failed")
		return
	}
	var previousId uint64
	if latest != nil {
		previousId = latest.RoundId
	}
	roundId := previousId + 1

	newBlocks := f.dag.BlocksSince(nil)
	if len(newBlocks) == 0 {
		f.state = StateOpen
		f.pendingRound = 0
		f.skips = 0
		return
	}

	// Blocks are waiting on this round. If the selected finalizer has not
	// produced it within the deadline, advance deterministically to the
	// next validator index so the chain keeps making progress.
	if f.pendingRound != roundId {
		f.pendingRound = roundId
		f.pendingSince = time.Now()
		f.skips = 0
	} else if time.Since(f.pendingSince) > f.cfg.FinalizerDeadline {
		f.skips++
		f.pendingSince = time.Now()
		f.logger.WithFields(logrus.Fields{"round_id": roundId, "skips": f.skips}).Warn("roundchain: finalizer deadline passed, advancing to next validator index")
	}

	finalizer, ok := f.validators.FinalizerFor(roundId + f.skips)
	if !ok {
		f.logger.Warn("roundchain: no active validators, skipping round")
		return
	}
	if finalizer != f.self {
		f.state = StateAwaiting
		return
	}

	f.state = StateProposing
	round := types.BuildRound(roundId, previousId, newBlocks, f.time.FinDAGTime(), f.self, f.priv, f.pub)
	if err := f.ledger.PutRound(round); err != nil {
		f.logger.WithError(err).Error("roundchain: persist round failed")
		return
	}

	blockIds := make([][32]byte, len(newBlocks))
	for i, b := range newBlocks {
		blockIds[i] = b.BlockId
	}
	f.dag.BindToRound(roundId, blockIds)

	f.state = StateBroadcast
	if f.metrics != nil {
		f.metrics.RoundFinalized(len(blockIds))
	}
	if f.handoff != nil {
		f.handoff.NewRound(round)
	}
	f.state = StateFinal
}

// Accept validates and binds a round received from another node, rejecting
// non-sequential ids, wrong finalizers, bad signatures, or a block set
// mismatch against the locally known DAG. Competing rounds for the same id
// resolve in favor of the lower-HashTimer artifact: a validly signed rival
// with a strictly lower HashTimer than the round currently bound under
// that id replaces it, so every node converges on the same round
// regardless of arrival order; any other duplicate is rejected.
func (f *Finalizer) Accept(round *types.Round, knownBlocks map[[32]byte]struct{}) error {
	latest, err := f.ledger.LatestRound()
	if err != nil {
		return err
	}
	var previousId uint64
	if latest != nil {
		previousId = latest.RoundId
	}

	if latest != nil && round.RoundId == latest.RoundId {
		return f.acceptRival(round, latest, knownBlocks)
	}
	if round.RoundId <= previousId {
		return fmt.Errorf("%w: round %d already finalized", types.ErrRoundCollision, round.RoundId)
	}
	if !f.proposerAllowed(round) {
		return ErrNotFinalizer
	}
	if err := types.VerifyRound(round, previousId, knownBlocks); err != nil {
		return err
	}
	if err := f.ledger.PutRound(round); err != nil {
		return err
	}
	f.dag.BindToRound(round.RoundId, round.BlockIds)
	f.state = StateFinal
	return nil
}

// acceptRival resolves a collision on the most recently bound round id.
// The rival replaces the bound round only if it is valid and its HashTimer
// is strictly lower; once a later round has been built on top, the
// collision path no longer applies and duplicates are rejected outright.
func (f *Finalizer) acceptRival(round, bound *types.Round, knownBlocks map[[32]byte]struct{}) error {
	if hashtimer.Compare(round.HashTimer, bound.HashTimer) >= 0 {
		return fmt.Errorf("%w: round %d already finalized", types.ErrRoundCollision, round.RoundId)
	}
	if !f.proposerAllowed(round) {
		return ErrNotFinalizer
	}
	var parentId uint64
	if len(bound.ParentRounds) > 0 {
		parentId = bound.ParentRounds[0]
	}
	if err := types.VerifyRound(round, parentId, knownBlocks); err != nil {
		return err
	}
	if err := f.ledger.PutRound(round); err != nil {
		return err
	}
	f.dag.RebindRound(round.RoundId, round.BlockIds)
	f.state = StateFinal
	return nil
}

// proposerAllowed checks the round's proposer against the deterministic
// selection for its id, tolerating any validator index this node has
// already advanced past under the missing-finalizer deadline.
func (f *Finalizer) proposerAllowed(round *types.Round) bool {
	maxSkips := uint64(0)
	if round.RoundId == f.pendingRound {
		maxSkips = f.skips
	}
	for k := uint64(0); k <= maxSkips; k++ {
		want, ok := f.validators.FinalizerFor(round.RoundId + k)
		if !ok {
			return false
		}
		if round.Proposer == want {
			return true
		}
	}
	return false
}
