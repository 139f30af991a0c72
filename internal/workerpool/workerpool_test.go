package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestSubmitRunsTask(t *testing.T) {
	p := New(2, 0)
	defer p.Close()

	var ran int32
	done := make(chan struct{})
	ok := p.Submit(context.Background(), func() {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})
	if !ok {
		t.Fatalf("expected submit to succeed")
	}
	<-done
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected task to run")
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := New(1, 0)
	p.Close()
	ok := p.Submit(context.Background(), func() {})
	if ok {
		t.Fatalf("expected submit after close to fail")
	}
}

func TestVerifyAllReportsPerItemResult(t *testing.T) {
	p := New(4, 0)
	defer p.Close()

	items := []int{1, 2, 3, 4, 5}
	results := VerifyAll(p, items, func(n int) bool { return n%2 == 0 })
	want := []bool{false, true, false, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("item %d: got %v want %v", items[i], results[i], want[i])
		}
	}
}

func TestVerifyAllEmpty(t *testing.T) {
	p := New(2, 0)
	defer p.Close()
	results := VerifyAll[int](p, nil, func(int) bool { return true })
	if len(results) != 0 {
		t.Fatalf("expected empty result slice")
	}
}
