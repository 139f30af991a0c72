package dagengine

import (
	"testing"

	"github.com/findag-network/findag-core/internal/types"
)

func mkBlock(id byte, parents ...[32]byte) *types.Block {
	return &types.Block{BlockId: [32]byte{id}, Parents: parents}
}

func TestAppendRequiresKnownParents(t *testing.T) {
	e := New()
	orphan := mkBlock(2, [32]byte{9})
	if err := e.Append(orphan); err == nil {
		t.Fatalf("expected error appending block with missing parent")
	}
}

func TestAppendUpdatesTips(t *testing.T) {
	e := New()
	genesis := mkBlock(1)
	if err := e.Append(genesis); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	tips := e.Tips()
	if len(tips) != 1 || tips[0] != genesis.BlockId {
		t.Fatalf("expected genesis as sole tip, got %v", tips)
	}

	child := mkBlock(2, genesis.BlockId)
	if err := e.Append(child); err != nil {
		t.Fatalf("append child: %v", err)
	}
	tips = e.Tips()
	if len(tips) != 1 || tips[0] != child.BlockId {
		t.Fatalf("expected child to replace parent as tip, got %v", tips)
	}
}

func TestBlocksSinceExcludesBound(t *testing.T) {
	e := New()
	b1 := mkBlock(1)
	b2 := mkBlock(2, b1.BlockId)
	_ = e.Append(b1)
	_ = e.Append(b2)

	e.BindToRound(1, [][32]byte{b1.BlockId})
	since := e.BlocksSince(nil)
	if len(since) != 1 || since[0].BlockId != b2.BlockId {
		t.Fatalf("expected only b2 unbound, got %d blocks", len(since))
	}
}

func TestRebuildRestoresTipsFromPersistedBlocks(t *testing.T) {
	e := New()
	b1 := mkBlock(1)
	b2 := mkBlock(2, b1.BlockId)
	if err := e.Rebuild([]*types.Block{b1, b2}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	tips := e.Tips()
	if len(tips) != 1 || tips[0] != b2.BlockId {
		t.Fatalf("expected rebuilt tips to contain only b2, got %v", tips)
	}
}

func TestRebindRoundReleasesSupersededBindings(t *testing.T) {
	e := New()
	b1 := mkBlock(1)
	b2 := mkBlock(2, b1.BlockId)
	_ = e.Append(b1)
	_ = e.Append(b2)

	e.BindToRound(1, [][32]byte{b1.BlockId, b2.BlockId})
	e.RebindRound(1, [][32]byte{b1.BlockId})

	if _, ok := e.RoundOf(b2.BlockId); ok {
		t.Fatalf("expected b2 released from round 1 after rebind")
	}
	since := e.BlocksSince(nil)
	if len(since) != 1 || since[0].BlockId != b2.BlockId {
		t.Fatalf("expected only released b2 offered to the next round, got %d blocks", len(since))
	}
}
