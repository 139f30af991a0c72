package roundchain

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/findag-network/findag-core/internal/hashtimer"
	"github.com/findag-network/findag-core/internal/types"
)

type fakeDAG struct {
	unbound []*types.Block
	bound   map[uint64][][32]byte
}

func (d *fakeDAG) BlocksSince(already map[[32]byte]struct{}) []*types.Block { return d.unbound }
func (d *fakeDAG) BindToRound(roundId uint64, blockIds [][32]byte) {
	if d.bound == nil {
		d.bound = make(map[uint64][][32]byte)
	}
	d.bound[roundId] = blockIds
	d.unbound = nil
}
func (d *fakeDAG) RebindRound(roundId uint64, blockIds [][32]byte) {
	d.BindToRound(roundId, blockIds)
}

type fakeLedger struct {
	latest *types.Round
	put    []*types.Round
}

func (l *fakeLedger) LatestRound() (*types.Round, error) { return l.latest, nil }
func (l *fakeLedger) PutRound(round *types.Round) error {
	l.put = append(l.put, round)
	l.latest = round
	return nil
}

type fixedValidators struct{ addr types.Address }

func (v fixedValidators) FinalizerFor(roundId uint64) (types.Address, bool) { return v.addr, true }

type noValidators struct{}

func (noValidators) FinalizerFor(roundId uint64) (types.Address, bool) { return "", false }

type fixedTime struct{ t types.FinDAGTime }

func (f fixedTime) FinDAGTime() types.FinDAGTime { return f.t }

type captureHandoff struct{ rounds []*types.Round }

func (c *captureHandoff) NewRound(r *types.Round) { c.rounds = append(c.rounds, r) }

func mkBlock(id byte) *types.Block {
	return &types.Block{BlockId: [32]byte{id}, HashTimer: hashtimer.Compute(hashtimer.NewFinDAGTime(1_700_000_000, uint32(id)), []byte{id}, 0)}
}

func TestTickSkipsWhenNotFinalizer(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{unbound: []*types.Block{mkBlock(1)}}
	ledger := &fakeLedger{}
	f := New(Config{}, dag, ledger, fixedValidators{addr: "fdg1qother"}, fixedTime{}, nil, addr, priv, pub, nil)
	f.tick()
	if len(ledger.put) != 0 {
		t.Fatalf("expected no round persisted when not finalizer, got %d", len(ledger.put))
	}
	if f.state != StateAwaiting {
		t.Fatalf("expected StateAwaiting, got %s", f.state)
	}
}

func TestTickSkipsWhenNoBlocksSinceLastRound(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{}
	ledger := &fakeLedger{}
	f := New(Config{}, dag, ledger, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)
	f.tick()
	if len(ledger.put) != 0 {
		t.Fatalf("expected no round persisted with no new blocks")
	}
}

func TestTickSkipsWithNoActiveValidators(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{unbound: []*types.Block{mkBlock(1)}}
	ledger := &fakeLedger{}
	f := New(Config{}, dag, ledger, noValidators{}, fixedTime{}, nil, addr, priv, pub, nil)
	f.tick()
	if len(ledger.put) != 0 {
		t.Fatalf("expected no round persisted with no active validators")
	}
}

func TestTickFinalizesAndBroadcastsRound(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	b1 := mkBlock(1)
	dag := &fakeDAG{unbound: []*types.Block{b1}}
	ledger := &fakeLedger{}
	handoff := &captureHandoff{}
	f := New(Config{}, dag, ledger, fixedValidators{addr: addr}, fixedTime{hashtimer.NewFinDAGTime(1_700_000_500, 0)}, handoff, addr, priv, pub, nil)
	f.tick()

	if len(ledger.put) != 1 {
		t.Fatalf("expected 1 round persisted, got %d", len(ledger.put))
	}
	round := ledger.put[0]
	if round.RoundId != 1 {
		t.Fatalf("expected round_id 1, got %d", round.RoundId)
	}
	if err := types.VerifyRound(round, 0, map[[32]byte]struct{}{b1.BlockId: {}}); err != nil {
		t.Fatalf("verify round: %v", err)
	}
	if len(handoff.rounds) != 1 {
		t.Fatalf("expected handoff to receive the new round")
	}
	if f.state != StateFinal {
		t.Fatalf("expected StateFinal, got %s", f.state)
	}
	if dag.bound[1][0] != b1.BlockId {
		t.Fatalf("expected b1 bound to round 1")
	}
}

func TestAcceptRejectsNonSequentialRound(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{}
	ledger := &fakeLedger{latest: &types.Round{RoundId: 5}}
	f := New(Config{}, dag, ledger, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)

	bad := types.BuildRound(7, 5, nil, hashtimer.NewFinDAGTime(1_700_000_600, 0), addr, priv, pub)
	if err := f.Accept(bad, nil); err == nil {
		t.Fatalf("expected rejection of non-sequential round")
	}
}

func TestAcceptBindsValidRound(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{}
	ledger := &fakeLedger{}
	f := New(Config{}, dag, ledger, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)

	b1 := mkBlock(1)
	round := types.BuildRound(1, 0, []*types.Block{b1}, hashtimer.NewFinDAGTime(1_700_000_700, 0), addr, priv, pub)
	if err := f.Accept(round, map[[32]byte]struct{}{b1.BlockId: {}}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if dag.bound[1][0] != b1.BlockId {
		t.Fatalf("expected b1 bound to round 1 after accept")
	}
}

type rotatingValidators struct{ order []types.Address }

func (v rotatingValidators) FinalizerFor(roundId uint64) (types.Address, bool) {
	if len(v.order) == 0 {
		return "", false
	}
	return v.order[roundId%uint64(len(v.order))], true
}

func TestTickAdvancesToNextValidatorAfterFinalizerDeadline(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{unbound: []*types.Block{mkBlock(1)}}
	ledger := &fakeLedger{}
	// Round 1 selects the other validator; index 2 selects this node.
	vals := rotatingValidators{order: []types.Address{addr, "fdg1qother"}}
	f := New(Config{FinalizerDeadline: time.Millisecond}, dag, ledger, vals, fixedTime{hashtimer.NewFinDAGTime(1_700_000_800, 0)}, nil, addr, priv, pub, nil)

	f.tick()
	if len(ledger.put) != 0 {
		t.Fatalf("expected no round while awaiting the selected finalizer")
	}
	if f.state != StateAwaiting {
		t.Fatalf("expected StateAwaiting, got %s", f.state)
	}

	time.Sleep(5 * time.Millisecond)
	f.tick()
	if len(ledger.put) != 1 {
		t.Fatalf("expected this node to finalize after the deadline advanced selection, got %d rounds", len(ledger.put))
	}
	if ledger.put[0].RoundId != 1 {
		t.Fatalf("advancement must not change the round id, got %d", ledger.put[0].RoundId)
	}
}

func TestAcceptRejectsRoundIdCollision(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	dag := &fakeDAG{}
	ledger := &fakeLedger{latest: &types.Round{RoundId: 3}}
	f := New(Config{}, dag, ledger, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)

	dup := types.BuildRound(3, 2, nil, hashtimer.NewFinDAGTime(1_700_000_900, 0), addr, priv, pub)
	if err := f.Accept(dup, nil); !errors.Is(err, types.ErrRoundCollision) {
		t.Fatalf("expected ErrRoundCollision for an already-finalized id, got %v", err)
	}
}

// Two validly-signed rounds racing for the same not-yet-built-upon id must
// converge on the lower-HashTimer artifact on every node, whichever
// arrives first.
func TestAcceptConvergesOnLowerHashTimerRound(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	b1 := mkBlock(1)
	known := map[[32]byte]struct{}{b1.BlockId: {}}
	lower := types.BuildRound(1, 0, []*types.Block{b1}, hashtimer.NewFinDAGTime(1_700_001_000, 0), addr, priv, pub)
	higher := types.BuildRound(1, 0, []*types.Block{b1}, hashtimer.NewFinDAGTime(1_700_001_050, 0), addr, priv, pub)
	if !hashtimer.Less(lower.HashTimer, higher.HashTimer) {
		t.Fatalf("test setup: expected lower < higher by HashTimer")
	}

	// Higher arrives first: the lower rival replaces it.
	ledger := &fakeLedger{}
	f := New(Config{}, &fakeDAG{}, ledger, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)
	if err := f.Accept(higher, known); err != nil {
		t.Fatalf("accept higher: %v", err)
	}
	if err := f.Accept(lower, known); err != nil {
		t.Fatalf("accept lower rival: %v", err)
	}
	if ledger.latest.HashTimer != lower.HashTimer {
		t.Fatalf("expected the lower-HashTimer round to survive, got %x", ledger.latest.HashTimer)
	}

	// Lower arrives first: the higher rival is rejected.
	ledger2 := &fakeLedger{}
	f2 := New(Config{}, &fakeDAG{}, ledger2, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)
	if err := f2.Accept(lower, known); err != nil {
		t.Fatalf("accept lower: %v", err)
	}
	if err := f2.Accept(higher, known); !errors.Is(err, types.ErrRoundCollision) {
		t.Fatalf("expected ErrRoundCollision for the higher rival, got %v", err)
	}
	if ledger2.latest.HashTimer != lower.HashTimer {
		t.Fatalf("expected the lower-HashTimer round to survive, got %x", ledger2.latest.HashTimer)
	}
}

// Once a later round has been built on top, a rival for an earlier id is
// rejected regardless of its HashTimer.
func TestAcceptRejectsRivalForDeepHistory(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	ledger := &fakeLedger{latest: &types.Round{RoundId: 5, ParentRounds: []uint64{4}}}
	f := New(Config{}, &fakeDAG{}, ledger, fixedValidators{addr: addr}, fixedTime{}, nil, addr, priv, pub, nil)

	rival := types.BuildRound(4, 3, nil, hashtimer.NewFinDAGTime(1, 0), addr, priv, pub)
	if err := f.Accept(rival, nil); !errors.Is(err, types.ErrRoundCollision) {
		t.Fatalf("expected ErrRoundCollision for a superseded id, got %v", err)
	}
}
