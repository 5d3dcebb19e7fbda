package chain

import (
	"errors"
	"testing"

	"github.com/tidechain-net/tidechain/pkg/block"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// okMicroValidator accepts every microblock.
func okMicroValidator(baseTimestamp int64) (Diff, error) {
	return nil, nil
}

// liquidWithMicros builds a liquid head with a signed base and n chained
// microblocks of 2 transactions each.
func liquidWithMicros(t *testing.T, n int) (*LiquidHead, *block.Block, []*block.MicroBlock) {
	t.Helper()
	priv, gen := newTestKey(t)

	base := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, makeTxs(2, "base"))
	l := &LiquidHead{}
	l.SetBase(base)

	micros := make([]*block.MicroBlock, 0, n)
	for i := 0; i < n; i++ {
		mb := buildMicro(t, priv, gen, base, micros, makeTxs(2, "m"+string(rune('1'+i))))
		if _, err := l.AppendMicro(mb, okMicroValidator); err != nil {
			t.Fatalf("AppendMicro %d: %v", i, err)
		}
		micros = append(micros, mb)
	}
	return l, base, micros
}

func TestLiquidAppendMicroNoBase(t *testing.T) {
	priv, gen := newTestKey(t)
	base := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	mb := buildMicro(t, priv, gen, base, nil, makeTxs(1, "m"))

	l := &LiquidHead{}
	if _, err := l.AppendMicro(mb, okMicroValidator); !errors.Is(err, ErrNoBase) {
		t.Fatalf("AppendMicro = %v, want ErrNoBase", err)
	}
}

func TestLiquidAppendMicroWrongGenerator(t *testing.T) {
	priv, gen := newTestKey(t)
	otherPriv, otherGen := newTestKey(t)

	base := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	l := &LiquidHead{}
	l.SetBase(base)

	mb := buildMicro(t, otherPriv, otherGen, base, nil, makeTxs(1, "m"))
	if _, err := l.AppendMicro(mb, okMicroValidator); !errors.Is(err, ErrWrongGenerator) {
		t.Fatalf("AppendMicro = %v, want ErrWrongGenerator", err)
	}
}

func TestLiquidAppendMicroBlockMicroFork(t *testing.T) {
	priv, gen := newTestKey(t)

	base := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	other := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000001, makeTxs(1, "other"))

	l := &LiquidHead{}
	l.SetBase(base)

	// Micro chained on a different base: first-micro fork.
	mb := buildMicro(t, priv, gen, other, nil, makeTxs(1, "m"))
	if _, err := l.AppendMicro(mb, okMicroValidator); !errors.Is(err, ErrBlockMicroFork) {
		t.Fatalf("AppendMicro = %v, want ErrBlockMicroFork", err)
	}
}

func TestLiquidAppendMicroMicroMicroFork(t *testing.T) {
	priv, gen := newTestKey(t)

	base := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	l := &LiquidHead{}
	l.SetBase(base)

	m1 := buildMicro(t, priv, gen, base, nil, makeTxs(1, "m1"))
	if _, err := l.AppendMicro(m1, okMicroValidator); err != nil {
		t.Fatalf("AppendMicro(m1): %v", err)
	}

	// A second micro chained directly on the base, ignoring m1.
	forked := buildMicro(t, priv, gen, base, nil, makeTxs(1, "forked"))
	if _, err := l.AppendMicro(forked, okMicroValidator); !errors.Is(err, ErrMicroMicroFork) {
		t.Fatalf("AppendMicro = %v, want ErrMicroMicroFork", err)
	}
}

func TestLiquidAppendMicroValidatorRejects(t *testing.T) {
	priv, gen := newTestKey(t)

	base := signedBlock(t, priv, gen, types.BlockID{}, 1, 1700000000, nil)
	l := &LiquidHead{}
	l.SetBase(base)

	mb := buildMicro(t, priv, gen, base, nil, makeTxs(1, "m"))
	rejection := errors.New("consensus says no")
	_, err := l.AppendMicro(mb, func(int64) (Diff, error) { return nil, rejection })
	if !errors.Is(err, rejection) {
		t.Fatalf("AppendMicro = %v, want validator rejection surfaced verbatim", err)
	}
	if l.MicroCount() != 0 {
		t.Fatal("rejected micro was appended")
	}
}

func TestLiquidBestLiquidBlock(t *testing.T) {
	l, base, micros := liquidWithMicros(t, 3)

	best := l.BestLiquidBlock()
	if best.UniqueID() != micros[2].TotalResBlockSig {
		t.Fatal("best liquid ID is not the newest total signature")
	}
	if !best.VerifySignature() {
		t.Fatal("best liquid block signature does not verify")
	}
	wantTxs := len(base.Transactions) + 6
	if len(best.Transactions) != wantTxs {
		t.Fatalf("best liquid has %d txs, want %d", len(best.Transactions), wantTxs)
	}

	// With no micros, the best liquid block is the base itself.
	l2 := &LiquidHead{}
	l2.SetBase(base)
	if l2.BestLiquidBlock().UniqueID() != base.UniqueID() {
		t.Fatal("best liquid without micros is not the base")
	}
}

func TestLiquidForgeRoundTrip(t *testing.T) {
	l, base, micros := liquidWithMicros(t, 4)

	for k, m := range micros {
		forged, discarded, ok := l.ForgePrefixEndingAt(m.TotalResBlockSig)
		if !ok {
			t.Fatalf("ForgePrefixEndingAt(micro %d) not found", k)
		}
		gotExtra := len(forged.Transactions) - len(base.Transactions)
		wantExtra := 0
		for i := 0; i <= k; i++ {
			wantExtra += len(micros[i].Transactions)
		}
		if gotExtra != wantExtra {
			t.Fatalf("forged at micro %d carries %d extra txs, want %d", k, gotExtra, wantExtra)
		}
		if len(discarded) != len(micros)-k-1 {
			t.Fatalf("forged at micro %d discarded %d micros, want %d", k, len(discarded), len(micros)-k-1)
		}
		if forged.UniqueID() != m.TotalResBlockSig {
			t.Fatalf("forged ID at micro %d does not equal the total signature", k)
		}
		if !forged.VerifySignature() {
			t.Fatalf("forged block at micro %d fails signature self-check", k)
		}
	}
}

func TestLiquidForgeAtBase(t *testing.T) {
	l, base, micros := liquidWithMicros(t, 3)

	forged, discarded, ok := l.ForgePrefixEndingAt(base.UniqueID())
	if !ok {
		t.Fatal("ForgePrefixEndingAt(base) not found")
	}
	if forged.UniqueID() != base.UniqueID() {
		t.Fatal("forging at the base must return the base itself")
	}
	if len(discarded) != len(micros) {
		t.Fatalf("discarded %d micros, want %d", len(discarded), len(micros))
	}
}

func TestLiquidForgeUnknownID(t *testing.T) {
	l, _, _ := liquidWithMicros(t, 2)

	var unknown types.BlockID
	unknown[0] = 0xab
	if _, _, ok := l.ForgePrefixEndingAt(unknown); ok {
		t.Fatal("forged at an unknown ID")
	}
}
