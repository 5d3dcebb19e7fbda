// Package mempool manages pending transactions waiting for block inclusion.
//
// The chain core hands back the transactions of discarded microblocks and
// dropped liquid blocks; the pool requeues them for the next block.
package mempool

import (
	"errors"
	"sync"
	"time"

	"github.com/tidechain-net/tidechain/pkg/tx"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrPoolFull      = errors.New("mempool is full")
	ErrTooLarge      = errors.New("transaction payload too large")
)

// DefaultMaxTxSize is the maximum transaction payload size in bytes.
const DefaultMaxTxSize = 100_000

// entry wraps a transaction with its arrival time.
type entry struct {
	tx      *tx.Transaction
	added   time.Time
	requeue bool // Came back from a discarded microblock suffix.
}

// Pool holds unconfirmed transactions.
type Pool struct {
	mu        sync.RWMutex
	txs       map[types.Hash]*entry
	maxSize   int
	maxTxSize int
	now       func() time.Time
}

// New creates a new mempool with the given max size.
func New(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:       make(map[types.Hash]*entry),
		maxSize:   maxSize,
		maxTxSize: DefaultMaxTxSize,
		now:       time.Now,
	}
}

// Add inserts a transaction. Rejects duplicates, oversized payloads, and
// inserts beyond capacity.
func (p *Pool) Add(transaction *tx.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(transaction, false)
}

// Requeue re-inserts transactions returned by the chain core after a
// microblock fork or a block discard. Duplicates and overflow are skipped,
// not errors: a requeued transaction may legitimately already be pending.
// Returns the number actually inserted.
func (p *Pool) Requeue(txs []*tx.Transaction) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, transaction := range txs {
		if err := p.addLocked(transaction, true); err == nil {
			n++
		}
	}
	return n
}

func (p *Pool) addLocked(transaction *tx.Transaction, requeue bool) error {
	if len(transaction.Payload) > p.maxTxSize {
		return ErrTooLarge
	}
	hash := transaction.Hash()
	if _, ok := p.txs[hash]; ok {
		return ErrAlreadyExists
	}
	if len(p.txs) >= p.maxSize {
		return ErrPoolFull
	}
	p.txs[hash] = &entry{tx: transaction, added: p.now(), requeue: requeue}
	return nil
}

// Remove deletes a transaction by hash (typically after block inclusion).
func (p *Pool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.txs, hash)
}

// RemoveAll deletes every transaction carried by a finalized block.
func (p *Pool) RemoveAll(txs []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, transaction := range txs {
		delete(p.txs, transaction.Hash())
	}
}

// Get returns a transaction by hash, or nil.
func (p *Pool) Get(hash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.txs[hash]; ok {
		return e.tx
	}
	return nil
}

// Has checks if a transaction is pending.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.txs[hash]
	return ok
}

// Size returns the number of pending transactions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// All returns every pending transaction, oldest first.
func (p *Pool) All() []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sortByAge(entries)

	out := make([]*tx.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}
