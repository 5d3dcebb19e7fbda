package mempool

import "sort"

// sortByAge orders entries oldest first.
func sortByAge(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].added.Before(entries[j].added)
	})
}

// Evict removes the oldest transactions until the pool is at or below
// maxSize. Returns the number evicted.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.txs) <= p.maxSize {
		return 0
	}

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sortByAge(entries)

	evicted := 0
	for len(p.txs) > p.maxSize && evicted < len(entries) {
		delete(p.txs, entries[evicted].tx.Hash())
		evicted++
	}
	return evicted
}
