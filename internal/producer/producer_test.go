package producer

import (
	"crypto/ed25519"
	"testing"

	"github.com/findag-network/findag-core/internal/hashtimer"
	"github.com/findag-network/findag-core/internal/statestore"
	"github.com/findag-network/findag-core/internal/types"
	"github.com/findag-network/findag-core/internal/workerpool"
)

type fakePool struct {
	batches  map[types.ShardId][]types.Transaction
	returned map[types.ShardId][]types.Transaction
}

func (f *fakePool) Shards() []types.ShardId {
	var out []types.ShardId
	for id := range f.batches {
		out = append(out, id)
	}
	return out
}

func (f *fakePool) TakeBatch(id types.ShardId, max int) []types.Transaction {
	b := f.batches[id]
	if max < len(b) {
		b = b[:max]
	}
	delete(f.batches, id)
	return b
}

func (f *fakePool) Return(id types.ShardId, txs []types.Transaction) {
	if f.returned == nil {
		f.returned = make(map[types.ShardId][]types.Transaction)
	}
	f.returned[id] = append(f.returned[id], txs...)
}

type fakeDAG struct {
	tips     [][32]byte
	appended []*types.Block
}

func (d *fakeDAG) Tips() [][32]byte { return d.tips }
func (d *fakeDAG) Append(blk *types.Block) error {
	d.appended = append(d.appended, blk)
	return nil
}

type fakeState struct {
	balances map[string]uint64
	applied  []*types.Block
}

func key(shard types.ShardId, addr types.Address, asset string) string {
	return string(addr) + ":" + asset
}

func (s *fakeState) GetBalance(shard types.ShardId, address types.Address, asset string) (uint64, error) {
	return s.balances[key(shard, address, asset)], nil
}

func (s *fakeState) ApplyBlock(blk *types.Block, ops []statestore.BlockTransferOp) error {
	for _, op := range ops {
		k := key(op.Shard, op.From, op.Asset)
		if s.balances[k] < op.Amount {
			return statestore.ErrInsufficientBalance
		}
		s.balances[k] -= op.Amount
		s.balances[key(op.Shard, op.To, op.Asset)] += op.Amount
	}
	s.applied = append(s.applied, blk)
	return nil
}

type fixedTime struct{ t types.FinDAGTime }

func (f fixedTime) FinDAGTime() types.FinDAGTime { return f.t }

type captureHandoff struct{ blocks []*types.Block }

func (c *captureHandoff) NewBlock(blk *types.Block) { c.blocks = append(c.blocks, blk) }

func signedTx(t *testing.T, priv ed25519.PrivateKey, pub ed25519.PublicKey, from, to types.Address, amount uint64, asset string, nonce uint32) types.Transaction {
	t.Helper()
	tx := types.Transaction{From: from, To: to, Amount: amount, Asset: asset, ShardId: 0}
	ft := hashtimer.NewFinDAGTime(1_700_000_100, nonce)
	types.SignTransaction(&tx, ft, nonce, func(b []byte) []byte { return types.Sign(priv, b) }, pub)
	return tx
}

func TestTickSkipsEmptyBatchWithoutHeartbeat(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	pool := &fakePool{batches: map[types.ShardId][]types.Transaction{}}
	dag := &fakeDAG{}
	state := &fakeState{balances: map[string]uint64{}}
	p := New(Config{}, pool, dag, state, fixedTime{}, nil, addr, priv, pub, nil)
	p.tick()
	if len(dag.appended) != 0 {
		t.Fatalf("expected no block produced on empty tick, got %d", len(dag.appended))
	}
}

func TestTickProducesBlockFromSurvivingTransactions(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	tx := signedTx(t, priv, pub, addr, "fdg1qbob", 100, "USD", 1)
	pool := &fakePool{batches: map[types.ShardId][]types.Transaction{0: {tx}}}
	dag := &fakeDAG{}
	state := &fakeState{balances: map[string]uint64{key(0, addr, "USD"): 1_000}}
	handoff := &captureHandoff{}
	p := New(Config{MaxBlockTxs: 10}, pool, dag, state, fixedTime{hashtimer.NewFinDAGTime(1_700_000_200, 0)}, handoff, addr, priv, pub, nil)
	p.tick()

	if len(dag.appended) != 1 {
		t.Fatalf("expected 1 block appended, got %d", len(dag.appended))
	}
	blk := dag.appended[0]
	if len(blk.Transactions) != 1 {
		t.Fatalf("expected 1 transaction in block, got %d", len(blk.Transactions))
	}
	if err := types.VerifyBlock(blk, 10); err != nil {
		t.Fatalf("verify block: %v", err)
	}
	if state.balances[key(0, addr, "USD")] != 900 {
		t.Fatalf("expected balance debited to 900, got %d", state.balances[key(0, addr, "USD")])
	}
	if len(handoff.blocks) != 1 {
		t.Fatalf("expected handoff to receive the new block")
	}
}

func TestTickDropsForgedSignatureViaSigPool(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	tx := signedTx(t, priv, pub, addr, "fdg1qbob", 100, "USD", 1)
	tx.Amount = 999 // mutate after signing, invalidating the signature
	pool := &fakePool{batches: map[types.ShardId][]types.Transaction{0: {tx}}}
	dag := &fakeDAG{}
	state := &fakeState{balances: map[string]uint64{key(0, addr, "USD"): 1_000}}
	sigPool := workerpool.New(2, 0)
	defer sigPool.Close()
	p := New(Config{MaxBlockTxs: 10}, pool, dag, state, fixedTime{hashtimer.NewFinDAGTime(1_700_000_400, 0)}, nil, addr, priv, pub, nil).WithSigPool(sigPool)
	p.tick()

	if len(dag.appended) != 0 {
		t.Fatalf("expected no block since the sole tx had a forged signature, got %d", len(dag.appended))
	}
	if len(pool.returned[0]) != 0 {
		t.Fatalf("expected forged-signature tx dropped, not returned to pool, got %d", len(pool.returned[0]))
	}
}

func TestTickReturnsOverdraftTransactionToPool(t *testing.T) {
	priv, _, addr, _ := types.NewKeypair()
	pub := priv.Public().(ed25519.PublicKey)
	tx := signedTx(t, priv, pub, addr, "fdg1qbob", 500, "USD", 1)
	pool := &fakePool{batches: map[types.ShardId][]types.Transaction{0: {tx}}}
	dag := &fakeDAG{}
	state := &fakeState{balances: map[string]uint64{key(0, addr, "USD"): 10}} // raced below tx amount
	p := New(Config{MaxBlockTxs: 10}, pool, dag, state, fixedTime{hashtimer.NewFinDAGTime(1_700_000_300, 0)}, nil, addr, priv, pub, nil)
	p.tick()

	if len(dag.appended) != 0 {
		t.Fatalf("expected no block since sole tx was overdrawn, got %d", len(dag.appended))
	}
	if len(pool.returned[0]) != 1 {
		t.Fatalf("expected overdrawn tx returned to pool, got %d", len(pool.returned[0]))
	}
}
