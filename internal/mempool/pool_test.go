package mempool

import (
	"fmt"
	"testing"
	"time"

	"github.com/tidechain-net/tidechain/pkg/tx"
)

func makeTxs(n int, seed string) []*tx.Transaction {
	txs := make([]*tx.Transaction, n)
	for i := 0; i < n; i++ {
		txs[i] = tx.New([]byte(fmt.Sprintf("%s-%d", seed, i)))
	}
	return txs
}

func TestAddAndGet(t *testing.T) {
	p := New(10)
	transaction := tx.New([]byte("t1"))

	if err := p.Add(transaction); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(transaction); err != ErrAlreadyExists {
		t.Fatalf("duplicate Add = %v, want ErrAlreadyExists", err)
	}
	if got := p.Get(transaction.Hash()); got == nil || got.Hash() != transaction.Hash() {
		t.Fatal("Get did not return the added transaction")
	}
	if !p.Has(transaction.Hash()) {
		t.Fatal("Has = false for pending transaction")
	}
	if p.Size() != 1 {
		t.Fatalf("Size = %d, want 1", p.Size())
	}
}

func TestAddRejectsOversized(t *testing.T) {
	p := New(10)
	big := tx.New(make([]byte, DefaultMaxTxSize+1))
	if err := p.Add(big); err != ErrTooLarge {
		t.Fatalf("Add = %v, want ErrTooLarge", err)
	}
}

func TestAddRejectsWhenFull(t *testing.T) {
	p := New(2)
	for _, transaction := range makeTxs(2, "fill") {
		if err := p.Add(transaction); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := p.Add(tx.New([]byte("overflow"))); err != ErrPoolFull {
		t.Fatalf("Add = %v, want ErrPoolFull", err)
	}
}

func TestRequeueSkipsDuplicates(t *testing.T) {
	p := New(10)
	txs := makeTxs(3, "r")
	if err := p.Add(txs[0]); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n := p.Requeue(txs)
	if n != 2 {
		t.Fatalf("Requeue inserted %d, want 2 (one duplicate)", n)
	}
	if p.Size() != 3 {
		t.Fatalf("Size = %d, want 3", p.Size())
	}
}

func TestRemoveAll(t *testing.T) {
	p := New(10)
	txs := makeTxs(3, "rm")
	p.Requeue(txs)

	p.RemoveAll(txs[:2])
	if p.Size() != 1 {
		t.Fatalf("Size = %d, want 1", p.Size())
	}
	if p.Has(txs[0].Hash()) {
		t.Fatal("removed transaction still pending")
	}
	if !p.Has(txs[2].Hash()) {
		t.Fatal("unrelated transaction removed")
	}
}

func TestAllOldestFirst(t *testing.T) {
	p := New(10)
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	txs := makeTxs(3, "ord")
	for _, transaction := range txs {
		if err := p.Add(transaction); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	all := p.All()
	if len(all) != 3 {
		t.Fatalf("All returned %d, want 3", len(all))
	}
	for i := range txs {
		if all[i].Hash() != txs[i].Hash() {
			t.Fatalf("All[%d] out of order", i)
		}
	}
}

func TestEvictOldest(t *testing.T) {
	p := New(10)
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	txs := makeTxs(5, "ev")
	for _, transaction := range txs {
		if err := p.Add(transaction); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	// Shrink the cap and evict down to it.
	p.maxSize = 3
	if n := p.Evict(); n != 2 {
		t.Fatalf("Evict removed %d, want 2", n)
	}
	if p.Has(txs[0].Hash()) || p.Has(txs[1].Hash()) {
		t.Fatal("oldest transactions survived eviction")
	}
	if !p.Has(txs[4].Hash()) {
		t.Fatal("newest transaction evicted")
	}
}
