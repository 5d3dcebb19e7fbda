package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidechain-net/tidechain/internal/storage"
	"github.com/tidechain-net/tidechain/pkg/block"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// captureRecorder records metric events for assertions.
type captureRecorder struct {
	blockMicroForks int
	microMicroForks int
	microblockForks int
	forkDepths      []int
	forgeTimings    int
}

func (r *captureRecorder) BlockMicroFork() { r.blockMicroForks++ }
func (r *captureRecorder) MicroMicroFork() { r.microMicroForks++ }
func (r *captureRecorder) MicroblockFork(discarded int) {
	r.microblockForks++
	r.forkDepths = append(r.forkDepths, discarded)
}
func (r *captureRecorder) ForgeBlockTime(time.Duration) { r.forgeTimings++ }

// okValidator accepts every block with an opaque diff.
func okValidator() (Diff, error) {
	return "diff", nil
}

func newTestNG(t *testing.T) (*NG, *captureRecorder) {
	t.Helper()
	hs, err := OpenHistory(storage.NewMemory())
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	rec := &captureRecorder{}
	return NewNG(hs, rec, zerolog.Nop()), rec
}

func TestNGAppendBlockOnEmptyChain(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	blk := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, makeTxs(1, "b0"))
	diff, discarded, err := ng.AppendBlock(blk, okValidator)
	if err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	if diff != "diff" {
		t.Fatalf("diff = %v, want validator diff passed through", diff)
	}
	if len(discarded) != 0 {
		t.Fatalf("discarded = %d txs, want 0", len(discarded))
	}
	if ng.Height() != 1 {
		t.Fatalf("height = %d, want 1 (liquid counts)", ng.Height())
	}
	if ng.History().Height() != 0 {
		t.Fatalf("persisted height = %d, want 0", ng.History().Height())
	}
}

func TestNGAppendBlockParentMismatch(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock(b0): %v", err)
	}
	// Persist b0 by appending b1 on top, then drop the liquid b1.
	b1 := signedBlock(t, priv, gen, b0.UniqueID(), 1, 1700000010, nil)
	if _, _, err := ng.AppendBlock(b1, okValidator); err != nil {
		t.Fatalf("AppendBlock(b1): %v", err)
	}
	if _, err := ng.DiscardBlock(); err != nil {
		t.Fatalf("DiscardBlock: %v", err)
	}

	// Liquid is now empty and the persisted tip is b0; a block referencing
	// something else is a parent mismatch.
	var wrong types.BlockID
	wrong[0] = 0x77
	stray := signedBlock(t, priv, gen, wrong, 1, 1700000020, nil)
	if _, _, err := ng.AppendBlock(stray, okValidator); !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("AppendBlock = %v, want ErrParentMismatch", err)
	}
}

func TestNGValidationErrorSurfaced(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	rejection := errors.New("consensus says no")
	blk := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	_, _, err := ng.AppendBlock(blk, func() (Diff, error) { return nil, rejection })
	if !errors.Is(err, rejection) {
		t.Fatalf("AppendBlock = %v, want validator error surfaced verbatim", err)
	}
	if ng.Height() != 0 {
		t.Fatal("rejected block changed the chain")
	}
}

// TestNGForgePrefixOnAppend covers the microblock-fork resolution: a block
// referencing the middle microblock finalizes the prefix and discards the
// suffix.
func TestNGForgePrefixOnAppend(t *testing.T) {
	ng, rec := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, makeTxs(2, "b0"))
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock(b0): %v", err)
	}

	var micros []*block.MicroBlock
	for _, name := range []string{"m1", "m2", "m3"} {
		mb := buildMicro(t, priv, gen, b0, micros, makeTxs(2, name))
		if _, err := ng.AppendMicroBlock(mb, okMicroValidator); err != nil {
			t.Fatalf("AppendMicroBlock(%s): %v", name, err)
		}
		micros = append(micros, mb)
	}

	// X references m2's total signature: m1+m2 are finalized, m3 discarded.
	x := signedBlock(t, priv, gen, micros[1].TotalResBlockSig, 2, 1700000060, makeTxs(1, "x"))
	_, discarded, err := ng.AppendBlock(x, okValidator)
	if err != nil {
		t.Fatalf("AppendBlock(x): %v", err)
	}

	if len(discarded) != len(micros[2].Transactions) {
		t.Fatalf("discarded %d txs, want %d", len(discarded), len(micros[2].Transactions))
	}
	for i, transaction := range micros[2].Transactions {
		if discarded[i].Hash() != transaction.Hash() {
			t.Fatalf("discarded tx %d is not m3's", i)
		}
	}

	hs := ng.History()
	if hs.Height() != 1 {
		t.Fatalf("persisted height = %d, want 1", hs.Height())
	}
	forged, err := hs.BlockAt(1)
	if err != nil {
		t.Fatalf("BlockAt(1): %v", err)
	}
	if forged.UniqueID() != micros[1].TotalResBlockSig {
		t.Fatal("forged block ID is not m2's total signature")
	}
	wantTxs := len(b0.Transactions) + len(micros[0].Transactions) + len(micros[1].Transactions)
	if len(forged.Transactions) != wantTxs {
		t.Fatalf("forged block has %d txs, want %d", len(forged.Transactions), wantTxs)
	}
	if !forged.VerifySignature() {
		t.Fatal("persisted forged block fails signature verification")
	}

	// The new block is the liquid base with no micros.
	best := ng.BestLiquidBlock()
	if best == nil || best.UniqueID() != x.UniqueID() {
		t.Fatal("liquid base is not the appended block")
	}

	if rec.microblockForks != 1 {
		t.Fatalf("microblock-fork count = %d, want 1", rec.microblockForks)
	}
	if len(rec.forkDepths) != 1 || rec.forkDepths[0] != 1 {
		t.Fatalf("fork depths = %v, want [1]", rec.forkDepths)
	}
	if rec.forgeTimings == 0 {
		t.Fatal("forge timing not recorded")
	}
}

func TestNGForgeAtTipDiscardsNothing(t *testing.T) {
	ng, rec := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock(b0): %v", err)
	}
	m1 := buildMicro(t, priv, gen, b0, nil, makeTxs(2, "m1"))
	if _, err := ng.AppendMicroBlock(m1, okMicroValidator); err != nil {
		t.Fatalf("AppendMicroBlock: %v", err)
	}

	x := signedBlock(t, priv, gen, m1.TotalResBlockSig, 2, 1700000030, nil)
	_, discarded, err := ng.AppendBlock(x, okValidator)
	if err != nil {
		t.Fatalf("AppendBlock(x): %v", err)
	}
	if len(discarded) != 0 {
		t.Fatalf("discarded %d txs, want 0", len(discarded))
	}
	if rec.microblockForks != 0 {
		t.Fatalf("microblock-fork count = %d, want 0", rec.microblockForks)
	}
}

func TestNGAppendBlockReferenceUnknown(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock(b0): %v", err)
	}

	var unknown types.BlockID
	unknown[0] = 0x42
	stray := signedBlock(t, priv, gen, unknown, 1, 1700000010, nil)
	if _, _, err := ng.AppendBlock(stray, okValidator); !errors.Is(err, ErrReferenceUnknown) {
		t.Fatalf("AppendBlock = %v, want ErrReferenceUnknown", err)
	}
}

func TestNGMicroForkMetrics(t *testing.T) {
	ng, rec := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	other := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000001, makeTxs(1, "other"))
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	// First micro referencing the wrong base.
	bad := buildMicro(t, priv, gen, other, nil, makeTxs(1, "bad"))
	if _, err := ng.AppendMicroBlock(bad, okMicroValidator); !errors.Is(err, ErrBlockMicroFork) {
		t.Fatalf("AppendMicroBlock = %v, want ErrBlockMicroFork", err)
	}
	if rec.blockMicroForks != 1 {
		t.Fatalf("block-micro-fork count = %d, want 1", rec.blockMicroForks)
	}

	m1 := buildMicro(t, priv, gen, b0, nil, makeTxs(1, "m1"))
	if _, err := ng.AppendMicroBlock(m1, okMicroValidator); err != nil {
		t.Fatalf("AppendMicroBlock(m1): %v", err)
	}
	forked := buildMicro(t, priv, gen, b0, nil, makeTxs(1, "forked"))
	if _, err := ng.AppendMicroBlock(forked, okMicroValidator); !errors.Is(err, ErrMicroMicroFork) {
		t.Fatalf("AppendMicroBlock = %v, want ErrMicroMicroFork", err)
	}
	if rec.microMicroForks != 1 {
		t.Fatalf("micro-micro-fork count = %d, want 1", rec.microMicroForks)
	}
}

func TestNGDiscardBlock(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, makeTxs(3, "b0"))
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	txs, err := ng.DiscardBlock()
	if err != nil {
		t.Fatalf("DiscardBlock: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("discarded %d txs, want 3", len(txs))
	}
	if ng.Height() != 0 {
		t.Fatalf("height = %d, want 0", ng.Height())
	}

	// Rebuild: persist b0 via a child block, then discard twice — first the
	// liquid child, then the persisted b0 through the store.
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	b1 := signedBlock(t, priv, gen, b0.UniqueID(), 1, 1700000010, nil)
	if _, _, err := ng.AppendBlock(b1, okValidator); err != nil {
		t.Fatalf("AppendBlock(b1): %v", err)
	}
	if _, err := ng.DiscardBlock(); err != nil {
		t.Fatalf("DiscardBlock(liquid): %v", err)
	}
	if ng.History().Height() != 1 {
		t.Fatalf("persisted height = %d, want 1", ng.History().Height())
	}
	txs, err = ng.DiscardBlock()
	if err != nil {
		t.Fatalf("DiscardBlock(persisted): %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("store discard returned %d txs, want 0", len(txs))
	}
	if ng.History().Height() != 0 {
		t.Fatalf("persisted height = %d, want 0", ng.History().Height())
	}
}

func TestNGHeightsAndScores(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 10, 1700000000, nil)
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock(b0): %v", err)
	}
	b1 := signedBlock(t, priv, gen, b0.UniqueID(), 5, 1700000010, nil)
	if _, _, err := ng.AppendBlock(b1, okValidator); err != nil {
		t.Fatalf("AppendBlock(b1): %v", err)
	}
	m1 := buildMicro(t, priv, gen, b1, nil, makeTxs(1, "m1"))
	if _, err := ng.AppendMicroBlock(m1, okMicroValidator); err != nil {
		t.Fatalf("AppendMicroBlock: %v", err)
	}

	if ng.Height() != 2 {
		t.Fatalf("height = %d, want 2", ng.Height())
	}

	h, err := ng.HeightOf(b0.UniqueID())
	if err != nil || h != 1 {
		t.Fatalf("HeightOf(b0) = %d, %v; want 1", h, err)
	}
	// Both liquid states sit at the liquid height.
	for _, id := range []types.BlockID{b1.UniqueID(), m1.TotalResBlockSig} {
		h, err := ng.HeightOf(id)
		if err != nil || h != 2 {
			t.Fatalf("HeightOf(liquid %s) = %d, %v; want 2", id, h, err)
		}
	}

	score, err := ng.ScoreOf(b0.UniqueID())
	if err != nil || score != 10 {
		t.Fatalf("ScoreOf(b0) = %d, %v; want 10", score, err)
	}
	score, err = ng.ScoreOf(m1.TotalResBlockSig)
	if err != nil || score != 15 {
		t.Fatalf("ScoreOf(liquid tip) = %d, %v; want 15", score, err)
	}

	// Liquid tip leads the last-IDs listing.
	ids, err := ng.LastBlockIDs(3)
	if err != nil {
		t.Fatalf("LastBlockIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	if ids[0] != m1.TotalResBlockSig || ids[1] != b0.UniqueID() {
		t.Fatalf("LastBlockIDs = %v, want [liquid tip, b0]", ids)
	}

	tip, ok := ng.LastBlockID()
	if !ok || tip != m1.TotalResBlockSig {
		t.Fatalf("LastBlockID = %s, want liquid tip", tip)
	}
}

func TestNGBestLiquidInvariant(t *testing.T) {
	ng, _ := newTestNG(t)
	priv, gen := newTestKey(t)

	b0 := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	if _, _, err := ng.AppendBlock(b0, okValidator); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}
	if best := ng.BestLiquidBlock(); best.UniqueID() != b0.UniqueID() {
		t.Fatal("best liquid without micros is not the base")
	}

	var micros []*block.MicroBlock
	for i := 0; i < 3; i++ {
		mb := buildMicro(t, priv, gen, b0, micros, makeTxs(1, "m"))
		if _, err := ng.AppendMicroBlock(mb, okMicroValidator); err != nil {
			t.Fatalf("AppendMicroBlock: %v", err)
		}
		micros = append(micros, mb)
		if best := ng.BestLiquidBlock(); best.UniqueID() != mb.TotalResBlockSig {
			t.Fatalf("best liquid after micro %d is not the newest total signature", i)
		}
	}
}
