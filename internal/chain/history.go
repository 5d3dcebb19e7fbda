// Package chain implements the NG chain head: the persistent history store,
// the liquid head, and the writer composing them.
package chain

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/tidechain-net/tidechain/internal/storage"
	"github.com/tidechain-net/tidechain/pkg/block"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// Key prefixes for the four history maps. Heights are 1-based; integer key
// bytes are big-endian so lexicographic key order equals height order.
var (
	prefixBlocks  = []byte("b/") // b/<height(8)> -> block JSON
	prefixSigs    = []byte("s/") // s/<height(8)> -> block ID (32)
	prefixSigsRev = []byte("r/") // r/<id(32)> -> height(8)
	prefixScore   = []byte("c/") // c/<height(8)> -> cumulative score(8)
	keyHeight     = []byte("m/height")
)

// HistoryStore is the durable append-only log of finalized blocks.
// Every mutation commits as one batch; the four maps always agree.
// Callers serialize access (the NG writer holds its lock around all calls).
type HistoryStore struct {
	db     storage.Batcher
	kv     storage.DB
	height uint64
	last   *block.Block // cached tip, nil when empty
}

// OpenHistory opens a history store over db, recovering the height and tip
// and refusing to open if the four maps have diverged.
func OpenHistory(db storage.DB) (*HistoryStore, error) {
	batcher, ok := db.(storage.Batcher)
	if !ok {
		return nil, fmt.Errorf("history store requires a batching database")
	}
	hs := &HistoryStore{db: batcher, kv: db}

	if data, err := db.Get(keyHeight); err == nil {
		if len(data) != 8 {
			return nil, fmt.Errorf("corrupt height key: got %d bytes", len(data))
		}
		hs.height = binary.BigEndian.Uint64(data)
	}

	if err := hs.checkConsistency(); err != nil {
		return nil, err
	}

	if hs.height > 0 {
		last, err := hs.BlockAt(hs.height)
		if err != nil {
			return nil, fmt.Errorf("recover tip: %w", err)
		}
		hs.last = last
	}
	return hs, nil
}

// checkConsistency verifies that the four maps have identical cardinality
// and that it matches the recorded height.
func (hs *HistoryStore) checkConsistency() error {
	counts := make(map[string]uint64, 4)
	for _, p := range [][]byte{prefixBlocks, prefixSigs, prefixSigsRev, prefixScore} {
		var n uint64
		err := hs.kv.ForEach(p, func(_, _ []byte) error {
			n++
			return nil
		})
		if err != nil {
			return fmt.Errorf("count %q: %w", p, err)
		}
		counts[string(p)] = n
	}
	for p, n := range counts {
		if n != hs.height {
			return fmt.Errorf("%w: map %q has %d entries, height is %d",
				ErrStoreInconsistent, p, n, hs.height)
		}
	}
	return nil
}

// Height returns the number of persisted blocks.
func (hs *HistoryStore) Height() uint64 {
	return hs.height
}

// LastBlock returns the persisted tip, or nil when the store is empty.
func (hs *HistoryStore) LastBlock() *block.Block {
	return hs.last
}

// Score returns the cumulative chain score at the tip (0 when empty).
func (hs *HistoryStore) Score() uint64 {
	if hs.height == 0 {
		return 0
	}
	score, err := hs.scoreAt(hs.height)
	if err != nil {
		return 0
	}
	return score
}

// Append persists blk as the new tip. The block must reference the current
// tip's unique ID (or the store must be empty). All five writes commit in
// one batch.
func (hs *HistoryStore) Append(blk *block.Block) error {
	id := blk.UniqueID()
	if hs.height > 0 {
		lastID := hs.last.UniqueID()
		if !bytes.Equal(lastID[:], blk.Reference[:]) {
			return fmt.Errorf("%w: tip %s, reference %s", ErrParentMismatch, lastID, blk.Reference)
		}
	}

	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}

	newHeight := hs.height + 1
	cum := hs.Score() + blk.BlockScore

	batch := hs.db.NewBatch()
	if err := batch.Put(heightKey(prefixBlocks, newHeight), data); err != nil {
		return err
	}
	if err := batch.Put(heightKey(prefixSigs, newHeight), id[:]); err != nil {
		return err
	}
	var hbuf [8]byte
	binary.BigEndian.PutUint64(hbuf[:], newHeight)
	if err := batch.Put(idKey(id), hbuf[:]); err != nil {
		return err
	}
	var sbuf [8]byte
	binary.BigEndian.PutUint64(sbuf[:], cum)
	if err := batch.Put(heightKey(prefixScore, newHeight), sbuf[:]); err != nil {
		return err
	}
	if err := batch.Put(keyHeight, hbuf[:]); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("append commit: %w", err)
	}

	hs.height = newHeight
	hs.last = blk
	return nil
}

// DiscardLast removes the tuple at the current height in one batch.
func (hs *HistoryStore) DiscardLast() error {
	if hs.height == 0 {
		return ErrEmptyStore
	}
	id := hs.last.UniqueID()

	batch := hs.db.NewBatch()
	if err := batch.Delete(heightKey(prefixBlocks, hs.height)); err != nil {
		return err
	}
	if err := batch.Delete(heightKey(prefixSigs, hs.height)); err != nil {
		return err
	}
	if err := batch.Delete(idKey(id)); err != nil {
		return err
	}
	if err := batch.Delete(heightKey(prefixScore, hs.height)); err != nil {
		return err
	}
	var hbuf [8]byte
	binary.BigEndian.PutUint64(hbuf[:], hs.height-1)
	if err := batch.Put(keyHeight, hbuf[:]); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("discard commit: %w", err)
	}

	hs.height--
	hs.last = nil
	if hs.height > 0 {
		last, err := hs.BlockAt(hs.height)
		if err != nil {
			return fmt.Errorf("reload tip after discard: %w", err)
		}
		hs.last = last
	}
	return nil
}

// BlockAt retrieves the block at the given height.
func (hs *HistoryStore) BlockAt(height uint64) (*block.Block, error) {
	data, err := hs.BlockBytes(height)
	if err != nil {
		return nil, err
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// BlockBytes retrieves the stored block bytes at the given height.
func (hs *HistoryStore) BlockBytes(height uint64) ([]byte, error) {
	if height == 0 || height > hs.height {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	data, err := hs.kv.Get(heightKey(prefixBlocks, height))
	if err != nil {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return data, nil
}

// HeightOf returns the height of the block with the given ID.
func (hs *HistoryStore) HeightOf(id types.BlockID) (uint64, error) {
	data, err := hs.kv.Get(idKey(id))
	if err != nil {
		return 0, fmt.Errorf("%w: id %s", ErrBlockNotFound, id)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt reverse index: got %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// ScoreOf returns the cumulative chain score at the block with the given ID.
func (hs *HistoryStore) ScoreOf(id types.BlockID) (uint64, error) {
	h, err := hs.HeightOf(id)
	if err != nil {
		return 0, err
	}
	return hs.scoreAt(h)
}

func (hs *HistoryStore) scoreAt(height uint64) (uint64, error) {
	data, err := hs.kv.Get(heightKey(prefixScore, height))
	if err != nil {
		return 0, fmt.Errorf("%w: score at height %d", ErrBlockNotFound, height)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt score index: got %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// IDAt returns the block ID at the given height.
func (hs *HistoryStore) IDAt(height uint64) (types.BlockID, error) {
	if height == 0 || height > hs.height {
		return types.BlockID{}, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	data, err := hs.kv.Get(heightKey(prefixSigs, height))
	if err != nil {
		return types.BlockID{}, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if len(data) != types.HashSize {
		return types.BlockID{}, fmt.Errorf("corrupt signature index: got %d bytes, want %d", len(data), types.HashSize)
	}
	var id types.BlockID
	copy(id[:], data)
	return id, nil
}

// LastBlockIDs returns up to n block IDs from the tip downward.
func (hs *HistoryStore) LastBlockIDs(n int) ([]types.BlockID, error) {
	ids := make([]types.BlockID, 0, n)
	for h := hs.height; h > 0 && len(ids) < n; h-- {
		id, err := hs.IDAt(h)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GeneratedBy returns the IDs of blocks generated by account in the height
// range [from, to], ascending.
func (hs *HistoryStore) GeneratedBy(account types.PublicKey, from, to uint64) ([]types.BlockID, error) {
	if from == 0 {
		from = 1
	}
	if to > hs.height {
		to = hs.height
	}
	var ids []types.BlockID
	for h := from; h <= to; h++ {
		blk, err := hs.BlockAt(h)
		if err != nil {
			return nil, err
		}
		if blk.SignerData.Generator == account {
			ids = append(ids, blk.UniqueID())
		}
	}
	return ids, nil
}

func heightKey(prefix []byte, height uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], height)
	return key
}

func idKey(id types.BlockID) []byte {
	key := make([]byte, len(prefixSigsRev)+types.HashSize)
	copy(key, prefixSigsRev)
	copy(key[len(prefixSigsRev):], id[:])
	return key
}
