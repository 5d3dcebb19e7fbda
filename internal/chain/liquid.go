package chain

import (
	"fmt"

	"github.com/tidechain-net/tidechain/pkg/block"
	"github.com/tidechain-net/tidechain/pkg/tx"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// LiquidHead holds the mutable tip: at most one base block plus a chain of
// microblocks extending it. Microblocks are stored newest-first for O(1)
// tip access; the chaining contract is chronological.
//
// The zero value is the empty head. LiquidHead is not safe for concurrent
// use — the NG writer serializes access under its lock.
type LiquidHead struct {
	base   *block.Block
	micros []*block.MicroBlock // newest-first
}

// SetBase replaces any prior state with a fresh base block and no micros.
func (l *LiquidHead) SetBase(blk *block.Block) {
	l.base = blk
	l.micros = nil
}

// Clear empties the head.
func (l *LiquidHead) Clear() {
	l.base = nil
	l.micros = nil
}

// HasBase reports whether a base block is set.
func (l *LiquidHead) HasBase() bool {
	return l.base != nil
}

// Base returns the base block, or nil when empty.
func (l *LiquidHead) Base() *block.Block {
	return l.base
}

// MicroCount returns the number of appended microblocks.
func (l *LiquidHead) MicroCount() int {
	return len(l.micros)
}

// TipID returns the ID of the liquid tip: the newest microblock's total
// signature, or the base's unique ID with no micros. ok is false when empty.
func (l *LiquidHead) TipID() (types.BlockID, bool) {
	if l.base == nil {
		return types.BlockID{}, false
	}
	if len(l.micros) > 0 {
		return l.micros[0].TotalResBlockSig, true
	}
	return l.base.UniqueID(), true
}

// ContainsID reports whether id names the base or any microblock state.
func (l *LiquidHead) ContainsID(id types.BlockID) bool {
	if l.base == nil {
		return false
	}
	if l.base.UniqueID() == id {
		return true
	}
	for _, m := range l.micros {
		if m.TotalResBlockSig == id {
			return true
		}
	}
	return false
}

// AppendMicro validates mb against the chaining rules and the consensus
// callback, then makes it the new tip. Returns the validator's diff.
func (l *LiquidHead) AppendMicro(mb *block.MicroBlock, validator MicroValidator) (Diff, error) {
	if l.base == nil {
		return nil, ErrNoBase
	}
	if mb.Generator != l.base.SignerData.Generator {
		return nil, fmt.Errorf("%w: base %s, micro %s",
			ErrWrongGenerator, l.base.SignerData.Generator, mb.Generator)
	}
	if len(l.micros) == 0 {
		if baseID := l.base.UniqueID(); mb.PrevResBlockSig != baseID {
			return nil, fmt.Errorf("%w: base %s, referenced %s",
				ErrBlockMicroFork, baseID, mb.PrevResBlockSig)
		}
	} else if tip := l.micros[0].TotalResBlockSig; mb.PrevResBlockSig != tip {
		return nil, fmt.Errorf("%w: tip %s, referenced %s",
			ErrMicroMicroFork, tip, mb.PrevResBlockSig)
	}

	if err := mb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicroSignature, err)
	}

	// The total signature must verify over the accumulated body the forged
	// block would carry, and produce exactly the declared total ID. This is
	// what the forge self-check later relies on.
	accumulated := append(l.allMicroTxs(), mb.Transactions...)
	candidate := l.forged(mb.TotalSignature, accumulated)
	if candidate.UniqueID() != mb.TotalResBlockSig {
		return nil, fmt.Errorf("%w: total ID mismatch", ErrMicroSignature)
	}
	if !candidate.VerifySignature() {
		return nil, fmt.Errorf("%w: total signature does not verify", ErrMicroSignature)
	}

	diff, err := validator(l.base.Timestamp)
	if err != nil {
		return nil, err
	}

	l.micros = append([]*block.MicroBlock{mb}, l.micros...)
	return diff, nil
}

// BestLiquidBlock materializes the liquid block value: the base with the
// signature overridden to the newest total signature and all microblock
// transactions appended in order. Returns nil when empty.
func (l *LiquidHead) BestLiquidBlock() *block.Block {
	if l.base == nil {
		return nil
	}
	if len(l.micros) == 0 {
		blk := *l.base
		return &blk
	}
	return l.forged(l.micros[0].TotalSignature, l.allMicroTxs())
}

// ForgePrefixEndingAt synthesizes the finalized block for the prefix of
// microblocks ending at id. Returns the forged block value and the
// discarded suffix (newest-first). ok is false when id names no liquid
// state.
func (l *LiquidHead) ForgePrefixEndingAt(id types.BlockID) (forgedBlock *block.Block, discarded []*block.MicroBlock, ok bool) {
	if l.base == nil {
		return nil, nil, false
	}
	if l.base.UniqueID() == id {
		blk := *l.base
		return &blk, l.micros, true
	}

	// Walk chronologically, accumulating transactions until the referenced
	// state is reached; everything newer is the discarded suffix.
	var txs []*tx.Transaction
	for i := len(l.micros) - 1; i >= 0; i-- {
		m := l.micros[i]
		txs = append(txs, m.Transactions...)
		if m.TotalResBlockSig == id {
			return l.forged(m.TotalSignature, txs), l.micros[:i], true
		}
	}
	return nil, nil, false
}

// forged builds the block value the base becomes with signature substituted
// and extraTxs appended. The base itself is never mutated.
func (l *LiquidHead) forged(signature []byte, extraTxs []*tx.Transaction) *block.Block {
	blk := *l.base
	blk.SignerData = block.SignerData{
		Generator: l.base.SignerData.Generator,
		Signature: signature,
	}
	txs := make([]*tx.Transaction, 0, len(l.base.Transactions)+len(extraTxs))
	txs = append(txs, l.base.Transactions...)
	txs = append(txs, extraTxs...)
	blk.Transactions = txs
	return &blk
}

// allMicroTxs returns every microblock transaction in chronological order.
func (l *LiquidHead) allMicroTxs() []*tx.Transaction {
	var txs []*tx.Transaction
	for i := len(l.micros) - 1; i >= 0; i-- {
		txs = append(txs, l.micros[i].Transactions...)
	}
	return txs
}
