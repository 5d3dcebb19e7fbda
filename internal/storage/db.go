// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key; the value slice may be shared
	// with the store and is only valid for the duration of the callback.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch buffers writes and deletes for a single atomic commit.
// Partial updates from a batch must never be observable.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that support atomic batches.
type Batcher interface {
	NewBatch() Batch
}
