package orders

import (
	"testing"

	"tradecoord/pkg/types"
)

func newTestSnapshot(clientID string) *types.OrderSnapshot {
	return &types.OrderSnapshot{
		Header: types.OrderHeader{ClientOrderID: clientID},
		Props:  types.OrderProps{Status: types.StatusCreating},
	}
}

func TestPoolAddInitialIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPool()
	ref1 := p.AddInitial(newTestSnapshot("c1"))
	ref2 := p.AddInitial(newTestSnapshot("c1"))

	if ref1 != ref2 {
		t.Fatal("AddInitial must return the existing ref for a known client_order_id")
	}
	if !p.IsNotFinished("c1") {
		t.Fatal("freshly added order must be in not_finished")
	}
}

func TestPoolBindExchangeID(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.AddInitial(newTestSnapshot("c1"))

	if _, err := p.BindExchangeID("c1", "e1"); err != nil {
		t.Fatalf("BindExchangeID: %v", err)
	}
	ref, ok := p.GetByExchange("e1")
	if !ok {
		t.Fatal("expected lookup by exchange id to succeed")
	}
	if ref.ClientOrderID() != "c1" {
		t.Fatalf("bound ref has client id %q, want c1", ref.ClientOrderID())
	}

	// idempotent rebind to the same id
	if _, err := p.BindExchangeID("c1", "e1"); err != nil {
		t.Fatalf("idempotent rebind failed: %v", err)
	}

	// conflicting rebind is rejected
	if _, err := p.BindExchangeID("c1", "e2"); err == nil {
		t.Fatal("expected conflicting rebind to be rejected")
	}
}

func TestPoolRemoveFromNotFinished(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.AddInitial(newTestSnapshot("c1"))
	p.RemoveFromNotFinished("c1")

	if p.IsNotFinished("c1") {
		t.Fatal("expected c1 to no longer be in not_finished")
	}
	if _, ok := p.GetByClient("c1"); !ok {
		t.Fatal("order must remain retrievable by client id after leaving not_finished")
	}
}

func TestPoolNotFinishedClientIDs(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.AddInitial(newTestSnapshot("c1"))
	p.AddInitial(newTestSnapshot("c2"))
	p.RemoveFromNotFinished("c2")

	ids := p.NotFinishedClientIDs()
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("NotFinishedClientIDs = %v, want [c1]", ids)
	}
}

func TestPoolEvictRespectsNotFinishedAndMax(t *testing.T) {
	t.Parallel()

	p := NewPool()
	for _, id := range []string{"c1", "c2", "c3"} {
		p.AddInitial(newTestSnapshot(id))
	}
	// c1, c2 are terminal; c3 is still open.
	p.RemoveFromNotFinished("c1")
	p.RemoveFromNotFinished("c2")

	if n := p.Evict([]string{"c1", "c2", "c3"}, 3); n != 0 {
		t.Fatalf("Evict with maxTerminal >= count should evict nothing, evicted %d", n)
	}

	n := p.Evict([]string{"c1", "c2", "c3"}, 2)
	if n != 1 {
		t.Fatalf("Evict = %d, want 1 (c1 only, oldest terminal)", n)
	}
	if _, ok := p.GetByClient("c1"); ok {
		t.Fatal("expected c1 to be evicted")
	}
	if _, ok := p.GetByClient("c2"); !ok {
		t.Fatal("expected c2 to remain")
	}
	if _, ok := p.GetByClient("c3"); !ok {
		t.Fatal("expected not_finished c3 to never be evicted")
	}
}

func TestPoolCount(t *testing.T) {
	t.Parallel()

	p := NewPool()
	if p.Count() != 0 {
		t.Fatalf("Count = %d, want 0", p.Count())
	}
	p.AddInitial(newTestSnapshot("c1"))
	if p.Count() != 1 {
		t.Fatalf("Count = %d, want 1", p.Count())
	}
}
