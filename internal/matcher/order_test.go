package matcher

import (
	"testing"

	"github.com/tidechain-net/tidechain/pkg/types"
)

func TestCorrectedAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		price  int64
		want   int64
	}{
		{"exact at unit price", 1000, PriceConstant, 1000},
		{"rounds to whole price units", 425532, 238, 420169},
		{"large sell side", 840340, 238, 840337},
		{"exact multiple", 2100000000, 80000, 2100000000},
		{"below one price unit", 100, 238, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CorrectedAmount(tt.amount, tt.price); got != tt.want {
				t.Fatalf("CorrectedAmount(%d, %d) = %d, want %d", tt.amount, tt.price, got, tt.want)
			}
		})
	}
}

func TestMinAmountOfAmountAsset(t *testing.T) {
	tests := []struct {
		price int64
		want  int64
	}{
		{PriceConstant, 1},
		{238, 420169},
		{70000, 1429},
		{80000, 1250},
	}
	for _, tt := range tests {
		if got := MinAmountOfAmountAsset(tt.price); got != tt.want {
			t.Fatalf("MinAmountOfAmountAsset(%d) = %d, want %d", tt.price, got, tt.want)
		}
	}
}

func TestProratedFee(t *testing.T) {
	tests := []struct {
		name      string
		fee       int64
		remaining int64
		amount    int64
		want      int64
	}{
		{"untouched", 300000, 840340, 840340, 300000},
		{"half rounds up", 300000, 420171, 840340, 150001},
		{"dust remainder", 300000, 5363, 425532, 3781},
		{"fully filled", 300000, 0, 840340, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProratedFee(tt.fee, tt.remaining, tt.amount); got != tt.want {
				t.Fatalf("ProratedFee(%d, %d, %d) = %d, want %d", tt.fee, tt.remaining, tt.amount, got, tt.want)
			}
		})
	}
}

func TestAmountOfPriceAsset(t *testing.T) {
	// No overflow on int64-scale inputs: the intermediate is 128-bit.
	if got := AmountOfPriceAsset(2100000000, 80000); got != 1680000 {
		t.Fatalf("AmountOfPriceAsset = %d, want 1680000", got)
	}
	if got := AmountOfPriceAsset(10000, 70000); got != 7 {
		t.Fatalf("AmountOfPriceAsset = %d, want 7", got)
	}
	huge := int64(1) << 62
	if got := AmountOfPriceAsset(huge, PriceConstant); got != huge {
		t.Fatalf("AmountOfPriceAsset(1<<62, unit) = %d, want %d", got, huge)
	}
}

func TestOrderStatusDerivation(t *testing.T) {
	tests := []struct {
		name string
		info *OrderInfo
		want OrderStatus
	}{
		{"nil", nil, StatusNotFound},
		{"zero amount", &OrderInfo{}, StatusNotFound},
		{"fresh", &OrderInfo{Amount: 100}, StatusAccepted},
		{"partial", &OrderInfo{Amount: 100, Filled: 40}, StatusPartiallyFilled},
		{"full", &OrderInfo{Amount: 100, Filled: 100}, StatusFilled},
		{"dust remainder", &OrderInfo{Amount: 100, Filled: 95, MinAmount: 10}, StatusFilled},
		{"cancelled wins", &OrderInfo{Amount: 100, Filled: 100, Canceled: true}, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Status(); got != tt.want {
				t.Fatalf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObligationsBuySide(t *testing.T) {
	pair := AssetPair{AmountAsset: asset("WCT"), PriceAsset: asset("BTC")}
	o := &Order{
		ID: orderID("o"), SenderPK: account("Alice"), Pair: pair,
		Side: Buy, Price: 70000, Amount: 10000, MatcherFee: 300000,
	}
	info := &OrderInfo{Amount: 10000, MinAmount: 1429, RemainingFee: 300000}

	obl := Obligations(o, info)
	if obl[asset("BTC")] != 7 {
		t.Fatalf("BTC obligation = %d, want 7", obl[asset("BTC")])
	}
	if obl[types.NativeAsset()] != 300000 {
		t.Fatalf("native obligation = %d, want 300000", obl[types.NativeAsset()])
	}
	if _, ok := obl[asset("WCT")]; ok {
		t.Fatal("unexpected WCT obligation")
	}
}

func TestObligationsTerminalOrderIsFree(t *testing.T) {
	pair := AssetPair{AmountAsset: asset("WCT"), PriceAsset: asset("BTC")}
	o := &Order{
		ID: orderID("o"), SenderPK: account("Alice"), Pair: pair,
		Side: Sell, Price: 70000, Amount: 10000, MatcherFee: 300000,
	}
	info := &OrderInfo{Amount: 10000, Filled: 10000}
	if obl := Obligations(o, info); len(obl) != 0 {
		t.Fatalf("terminal order obligations = %v, want empty", obl)
	}
	info = &OrderInfo{Amount: 10000, Canceled: true}
	if obl := Obligations(o, info); len(obl) != 0 {
		t.Fatalf("cancelled order obligations = %v, want empty", obl)
	}
}

func TestObligationsSellNativeSpendAndFeeShareKey(t *testing.T) {
	// Sell with a native amount asset: the spend and the (un-netted) fee
	// both land on the native key.
	pair := AssetPair{AmountAsset: types.NativeAsset(), PriceAsset: asset("BTC")}
	o := &Order{
		ID: orderID("o"), SenderPK: account("Alice"), Pair: pair,
		Side: Sell, Price: 70000, Amount: 100000, MatcherFee: 1000,
	}
	info := &OrderInfo{Amount: 100000, MinAmount: 1429, RemainingFee: 1000}
	obl := Obligations(o, info)
	if obl[types.NativeAsset()] != 101000 {
		t.Fatalf("native obligation = %d, want 101000", obl[types.NativeAsset()])
	}
}

func TestOrderValidate(t *testing.T) {
	pair := AssetPair{AmountAsset: asset("WCT"), PriceAsset: asset("BTC")}
	good := &Order{ID: orderID("o"), Pair: pair, Price: 1, Amount: 1}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := *good
	bad.Price = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("accepted zero price")
	}
	bad = *good
	bad.Amount = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("accepted negative amount")
	}
	bad = *good
	bad.MatcherFee = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("accepted negative fee")
	}
}
