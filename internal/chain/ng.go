package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidechain-net/tidechain/internal/metrics"
	"github.com/tidechain-net/tidechain/pkg/block"
	"github.com/tidechain-net/tidechain/pkg/tx"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// NG presents the persisted history and the liquid head as one chain and
// makes block appends atomic.
//
// One reader/writer lock covers both: the liquid head must never diverge
// from the store under a concurrent reader. Reads take the shared mode;
// AppendBlock, AppendMicroBlock, and DiscardBlock take the exclusive mode.
// The store commit inside the exclusive region is synchronous; the liquid
// head is in-memory and stays authoritative over anything not yet
// committed.
type NG struct {
	mu      sync.RWMutex
	history *HistoryStore
	liquid  LiquidHead
	rec     metrics.Recorder
	log     zerolog.Logger
}

// NewNG creates an NG writer over an opened history store.
func NewNG(history *HistoryStore, rec metrics.Recorder, log zerolog.Logger) *NG {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &NG{history: history, rec: rec, log: log}
}

// AppendBlock classifies and applies an incoming block.
//
// With an empty liquid head, the block must reference the persisted tip
// (or the chain must be empty) and simply becomes the new liquid base.
//
// With a liquid block present, the block's reference selects a prefix of
// microblocks to retroactively finalize: the prefix is forged into a
// persisted block, the suffix's transactions are returned as discarded so
// the caller can requeue them, and the incoming block becomes the new base.
func (ng *NG) AppendBlock(blk *block.Block, validator Validator) (Diff, []*tx.Transaction, error) {
	ng.mu.Lock()
	defer ng.mu.Unlock()

	if err := blk.Validate(); err != nil {
		return nil, nil, fmt.Errorf("block structure: %w", err)
	}

	if !ng.liquid.HasBase() {
		if ng.history.Height() > 0 {
			lastID := ng.history.LastBlock().UniqueID()
			if blk.Reference != lastID {
				return nil, nil, fmt.Errorf("%w: tip %s, reference %s",
					ErrParentMismatch, lastID, blk.Reference)
			}
		}
		diff, err := validator()
		if err != nil {
			return nil, nil, err
		}
		ng.liquid.SetBase(blk)
		ng.log.Debug().Stringer("id", blk.UniqueID()).Uint64("height", ng.history.Height()+1).
			Msg("new liquid base")
		return diff, nil, nil
	}

	start := time.Now()
	forgedBlock, discardedMicros, ok := ng.liquid.ForgePrefixEndingAt(blk.Reference)
	ng.rec.ForgeBlockTime(time.Since(start))
	if !ok {
		return nil, nil, fmt.Errorf("%w: reference %s", ErrReferenceUnknown, blk.Reference)
	}

	// Self-check the synthesized signature. A failure here means the liquid
	// head no longer matches what the generator signed — fatal.
	if !forgedBlock.VerifySignature() {
		ng.log.Error().Stringer("reference", blk.Reference).Msg("forged block failed signature self-check")
		return nil, nil, fmt.Errorf("%w: reference %s", ErrForgedSignature, blk.Reference)
	}

	diff, err := validator()
	if err != nil {
		return nil, nil, err
	}

	if err := ng.history.Append(forgedBlock); err != nil {
		return nil, nil, err
	}

	var discardedTxs []*tx.Transaction
	if len(discardedMicros) > 0 {
		// Chronological order, for mempool re-insertion.
		for i := len(discardedMicros) - 1; i >= 0; i-- {
			discardedTxs = append(discardedTxs, discardedMicros[i].Transactions...)
		}
		ng.rec.MicroblockFork(len(discardedMicros))
		ng.log.Info().
			Int("discarded_micros", len(discardedMicros)).
			Int("discarded_txs", len(discardedTxs)).
			Stringer("forged", forgedBlock.UniqueID()).
			Msg("microblock fork resolved by forging")
	}

	ng.liquid.SetBase(blk)
	return diff, discardedTxs, nil
}

// AppendMicroBlock extends the liquid block with a microblock.
func (ng *NG) AppendMicroBlock(mb *block.MicroBlock, validator MicroValidator) (Diff, error) {
	ng.mu.Lock()
	defer ng.mu.Unlock()

	diff, err := ng.liquid.AppendMicro(mb, validator)
	if err != nil {
		switch {
		case errors.Is(err, ErrBlockMicroFork):
			ng.rec.BlockMicroFork()
		case errors.Is(err, ErrMicroMicroFork):
			ng.rec.MicroMicroFork()
		}
		return nil, err
	}
	ng.log.Debug().Stringer("tip", mb.TotalResBlockSig).
		Int("txs", len(mb.Transactions)).Msg("microblock appended")
	return diff, nil
}

// DiscardBlock drops the liquid block if present, returning its base
// transactions; otherwise it removes the last persisted block.
func (ng *NG) DiscardBlock() ([]*tx.Transaction, error) {
	ng.mu.Lock()
	defer ng.mu.Unlock()

	if ng.liquid.HasBase() {
		txs := ng.liquid.Base().Transactions
		ng.liquid.Clear()
		return txs, nil
	}
	if err := ng.history.DiscardLast(); err != nil {
		return nil, err
	}
	return nil, nil
}

// Height returns the chain height including the liquid block.
func (ng *NG) Height() uint64 {
	ng.mu.RLock()
	defer ng.mu.RUnlock()

	h := ng.history.Height()
	if ng.liquid.HasBase() {
		h++
	}
	return h
}

// ScoreOf returns the cumulative score at the block with the given ID,
// covering both persisted blocks and the liquid states.
func (ng *NG) ScoreOf(id types.BlockID) (uint64, error) {
	ng.mu.RLock()
	defer ng.mu.RUnlock()

	if score, err := ng.history.ScoreOf(id); err == nil {
		return score, nil
	}
	if ng.liquid.ContainsID(id) {
		return ng.history.Score() + ng.liquid.Base().BlockScore, nil
	}
	return 0, fmt.Errorf("%w: id %s", ErrBlockNotFound, id)
}

// HeightOf returns the height of the block with the given ID, counting the
// liquid block at one past the persisted height.
func (ng *NG) HeightOf(id types.BlockID) (uint64, error) {
	ng.mu.RLock()
	defer ng.mu.RUnlock()

	if h, err := ng.history.HeightOf(id); err == nil {
		return h, nil
	}
	if ng.liquid.ContainsID(id) {
		return ng.history.Height() + 1, nil
	}
	return 0, fmt.Errorf("%w: id %s", ErrBlockNotFound, id)
}

// LastBlockIDs returns up to n block IDs from the tip downward, starting at
// the liquid tip when present.
func (ng *NG) LastBlockIDs(n int) ([]types.BlockID, error) {
	ng.mu.RLock()
	defer ng.mu.RUnlock()

	if tip, ok := ng.liquid.TipID(); ok {
		rest, err := ng.history.LastBlockIDs(n - 1)
		if err != nil {
			return nil, err
		}
		return append([]types.BlockID{tip}, rest...), nil
	}
	return ng.history.LastBlockIDs(n)
}

// LastBlockID returns the chain tip's ID. ok is false on an empty chain.
func (ng *NG) LastBlockID() (types.BlockID, bool) {
	ng.mu.RLock()
	defer ng.mu.RUnlock()

	if tip, ok := ng.liquid.TipID(); ok {
		return tip, true
	}
	if last := ng.history.LastBlock(); last != nil {
		return last.UniqueID(), true
	}
	return types.BlockID{}, false
}

// BestLiquidBlock returns the materialized liquid block, or nil when the
// liquid head is empty.
func (ng *NG) BestLiquidBlock() *block.Block {
	ng.mu.RLock()
	defer ng.mu.RUnlock()
	return ng.liquid.BestLiquidBlock()
}

// BlockAt retrieves a persisted block by height.
func (ng *NG) BlockAt(height uint64) (*block.Block, error) {
	ng.mu.RLock()
	defer ng.mu.RUnlock()
	return ng.history.BlockAt(height)
}

// History exposes the underlying store for read-only callers that hold no
// liquid-state assumptions (sync, archival).
func (ng *NG) History() *HistoryStore {
	return ng.history
}
