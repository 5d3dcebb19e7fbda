package matcher

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidechain-net/tidechain/internal/storage"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// OrderHistory is the per-account order projection: order state, reserved
// balances, and the active/all indexes, all under one key-value store.
//
// Reads are safe concurrent with the event processor only if the backing
// store snapshots (badger does); writes go through the processor's batches.
type OrderHistory struct {
	db storage.DB
}

// NewOrderHistory creates the projection over db.
func NewOrderHistory(db storage.DB) *OrderHistory {
	return &OrderHistory{db: db}
}

// OrderInfo returns the stored state of an order, or nil if unknown.
func (h *OrderHistory) OrderInfo(id types.Hash) (*OrderInfo, error) {
	data, err := h.db.Get(orderInfoKey(id))
	if err != nil {
		return nil, nil // Unknown order.
	}
	var info OrderInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("order info unmarshal: %w", err)
	}
	return &info, nil
}

// Order returns the stored order by ID, or nil if unknown.
func (h *OrderHistory) Order(id types.Hash) (*Order, error) {
	data, err := h.db.Get(orderMetaKey(id))
	if err != nil {
		return nil, nil
	}
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("order unmarshal: %w", err)
	}
	return &o, nil
}

// Status derives the lifecycle state of an order by ID.
func (h *OrderHistory) Status(id types.Hash) (OrderStatus, error) {
	info, err := h.OrderInfo(id)
	if err != nil {
		return StatusNotFound, err
	}
	return info.Status(), nil
}

// ReservedBalanceOf returns the locked amount of one asset for an account.
func (h *OrderHistory) ReservedBalanceOf(sender types.PublicKey, asset types.OptionalAsset) (int64, error) {
	data, err := h.db.Get(reservedKey(sender, asset))
	if err != nil {
		return 0, nil // No reservation.
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt reserved entry: %d bytes", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// ReservedBalance returns all non-zero locked amounts for an account.
func (h *OrderHistory) ReservedBalance(sender types.PublicKey) (map[types.OptionalAsset]int64, error) {
	out := make(map[types.OptionalAsset]int64)
	prefix := reservedScanPrefix(sender)
	err := h.db.ForEach(prefix, func(key, value []byte) error {
		if len(value) != 8 {
			return fmt.Errorf("corrupt reserved entry: %d bytes", len(value))
		}
		asset, err := types.AssetFromKey(key[len(prefix):])
		if err != nil {
			return err
		}
		if v := int64(binary.BigEndian.Uint64(value)); v != 0 {
			out[asset] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// indexEntry is a decoded index row used for in-memory sorting.
type indexEntry struct {
	id   types.Hash
	ts   int64
	rank byte
}

func sortEntries(entries []indexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.rank != b.rank {
			return a.rank < b.rank // Active before terminal.
		}
		if a.ts != b.ts {
			return a.ts > b.ts // Newest first.
		}
		return a.id.String() > b.id.String()
	})
}

// ActiveOrderIDs returns the account's active orders, newest first.
func (h *OrderHistory) ActiveOrderIDs(sender types.PublicKey) ([]types.Hash, error) {
	return h.activeScan(activeScanPrefix(sender))
}

// ActiveOrderIDsByPair returns the account's active orders on one pair,
// newest first.
func (h *OrderHistory) ActiveOrderIDsByPair(sender types.PublicKey, pair AssetPair) ([]types.Hash, error) {
	return h.activeScan(activePairScanPrefix(sender, pair))
}

func (h *OrderHistory) activeScan(prefix []byte) ([]types.Hash, error) {
	var entries []indexEntry
	err := h.db.ForEach(prefix, func(key, _ []byte) error {
		// The trailing timestamp and ID sit after the side byte.
		ts, id, err := parseTailTsID(key, len(key)-8-types.HashSize)
		if err != nil {
			return err
		}
		entries = append(entries, indexEntry{id: id, ts: ts})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	ids := make([]types.Hash, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// AllOrderIDs returns every order of the account: active orders first,
// then terminal ones, newest first within each group.
func (h *OrderHistory) AllOrderIDs(sender types.PublicKey) ([]types.Hash, error) {
	prefix := allScanPrefix(sender)
	var entries []indexEntry
	err := h.db.ForEach(prefix, func(key, value []byte) error {
		ts, id, err := parseTailTsID(key, len(prefix))
		if err != nil {
			return err
		}
		rank := rankTerminal
		if len(value) == 1 {
			rank = value[0]
		}
		entries = append(entries, indexEntry{id: id, ts: ts, rank: rank})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	ids := make([]types.Hash, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// DeleteOrder removes a terminal order from the projection. Returns false
// without changes if the order is still active.
func (h *OrderHistory) DeleteOrder(sender types.PublicKey, id types.Hash) (bool, error) {
	info, err := h.OrderInfo(id)
	if err != nil {
		return false, err
	}
	if !info.Status().Terminal() {
		return false, nil
	}
	o, err := h.Order(id)
	if err != nil {
		return false, err
	}

	batch := h.newBatch()
	if err := batch.Delete(orderInfoKey(id)); err != nil {
		return false, err
	}
	if o != nil {
		if err := batch.Delete(allKey(sender, o.Timestamp, id)); err != nil {
			return false, err
		}
		if err := batch.Delete(orderMetaKey(id)); err != nil {
			return false, err
		}
	}
	if err := batch.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// newBatch returns an atomic batch when the store supports one.
func (h *OrderHistory) newBatch() storage.Batch {
	if b, ok := h.db.(storage.Batcher); ok {
		return b.NewBatch()
	}
	return &fallbackBatch{db: h.db}
}

// fallbackBatch applies operations directly for stores without batching.
type fallbackBatch struct {
	db  storage.DB
	ops []func() error
}

func (f *fallbackBatch) Put(key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	f.ops = append(f.ops, func() error { return f.db.Put(k, v) })
	return nil
}

func (f *fallbackBatch) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	f.ops = append(f.ops, func() error { return f.db.Delete(k) })
	return nil
}

func (f *fallbackBatch) Commit() error {
	for _, op := range f.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}
