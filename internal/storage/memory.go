package storage

import (
	"errors"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map. Used in tests and as the
// backing store for throwaway chains.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.data))
	p := string(prefix)
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			snapshot[k] = v
		}
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// NewBatch creates a batch applied under one lock acquisition.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryBatch struct {
	db  *MemoryDB
	ops []batchOp
}

func (mb *memoryBatch) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	mb.ops = append(mb.ops, batchOp{key: k, value: v})
	return nil
}

func (mb *memoryBatch) Delete(key []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	mb.ops = append(mb.ops, batchOp{key: k})
	return nil
}

func (mb *memoryBatch) Commit() error {
	mb.db.mu.Lock()
	defer mb.db.mu.Unlock()
	for _, op := range mb.ops {
		if op.value == nil {
			delete(mb.db.data, string(op.key))
		} else {
			mb.db.data[string(op.key)] = op.value
		}
	}
	mb.ops = nil
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}
