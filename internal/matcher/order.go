// Package matcher implements the order history and reserved-balance engine:
// per-account projections of limit orders through their lifecycle and the
// exact amounts locked against open obligations.
package matcher

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tidechain-net/tidechain/pkg/types"
)

// PriceConstant scales order prices: a price of p means p/PriceConstant
// price-asset units per amount-asset unit.
const PriceConstant = 100_000_000

// Side is the direction of a limit order.
type Side byte

const (
	Buy Side = iota
	Sell
)

// String returns "buy" or "sell".
func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// AssetPair names the traded pair. Amounts are denominated in AmountAsset,
// prices in PriceAsset per AmountAsset.
type AssetPair struct {
	AmountAsset types.OptionalAsset `json:"amount_asset"`
	PriceAsset  types.OptionalAsset `json:"price_asset"`
}

// Order is a limit order as accepted by the matching engine.
type Order struct {
	ID         types.Hash      `json:"id"`
	SenderPK   types.PublicKey `json:"sender"`
	Pair       AssetPair       `json:"pair"`
	Side       Side            `json:"side"`
	Price      int64           `json:"price"`
	Amount     int64           `json:"amount"`
	MatcherFee int64           `json:"matcher_fee"`
	Timestamp  int64           `json:"timestamp"`
}

// Order validation errors.
var (
	ErrBadPrice  = errors.New("order price must be positive")
	ErrBadAmount = errors.New("order amount must be positive")
	ErrBadFee    = errors.New("order fee must not be negative")
)

// Validate checks the order's numeric fields.
func (o *Order) Validate() error {
	if o.Price <= 0 {
		return fmt.Errorf("%w: %d", ErrBadPrice, o.Price)
	}
	if o.Amount <= 0 {
		return fmt.Errorf("%w: %d", ErrBadAmount, o.Amount)
	}
	if o.MatcherFee < 0 {
		return fmt.Errorf("%w: %d", ErrBadFee, o.MatcherFee)
	}
	return nil
}

// SpendAsset is the asset this order pays out of.
func (o *Order) SpendAsset() types.OptionalAsset {
	if o.Side == Buy {
		return o.Pair.PriceAsset
	}
	return o.Pair.AmountAsset
}

// ReceiveAsset is the asset this order is paid in.
func (o *Order) ReceiveAsset() types.OptionalAsset {
	if o.Side == Buy {
		return o.Pair.AmountAsset
	}
	return o.Pair.PriceAsset
}

// OrderStatus is the derived lifecycle state of an order.
type OrderStatus int

const (
	StatusNotFound OrderStatus = iota
	StatusAccepted
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

// String returns the status name.
func (s OrderStatus) String() string {
	switch s {
	case StatusAccepted:
		return "Accepted"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFilled:
		return "Filled"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "NotFound"
	}
}

// Active reports whether the order can still trade.
func (s OrderStatus) Active() bool {
	return s == StatusAccepted || s == StatusPartiallyFilled
}

// Terminal reports whether the order is finished.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// OrderInfo is the stored mutable state of an order.
//
// MinAmount is the smallest amount step the order's price allows; a
// remainder below it can never execute. UnsafeTotalSpend accumulates the
// actual spend-asset outflow across fills (executions settle at the counter
// price, so it is not derivable from the order's own price).
type OrderInfo struct {
	Amount           int64 `json:"amount"`
	Filled           int64 `json:"filled"`
	Canceled         bool  `json:"canceled,omitempty"`
	MinAmount        int64 `json:"min_amount,omitempty"`
	RemainingFee     int64 `json:"remaining_fee"`
	UnsafeTotalSpend int64 `json:"unsafe_total_spend,omitempty"`
}

// Remaining returns the unfilled amount.
func (i *OrderInfo) Remaining() int64 {
	return i.Amount - i.Filled
}

// minStep returns MinAmount, defaulting to 1.
func (i *OrderInfo) minStep() int64 {
	if i.MinAmount > 0 {
		return i.MinAmount
	}
	return 1
}

// Status derives the lifecycle state. A remainder too small to ever
// execute counts as filled.
func (i *OrderInfo) Status() OrderStatus {
	switch {
	case i == nil || i.Amount == 0:
		return StatusNotFound
	case i.Canceled:
		return StatusCancelled
	case i.Remaining() < i.minStep():
		return StatusFilled
	case i.Filled > 0:
		return StatusPartiallyFilled
	default:
		return StatusAccepted
	}
}

// mulDivFloor returns floor(a*b/div) using a 128-bit intermediate.
func mulDivFloor(a, b, div int64) int64 {
	var p big.Int
	p.Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(&p, big.NewInt(div))
	return p.Int64()
}

// mulDivCeil returns ceil(a*b/div) using a 128-bit intermediate.
func mulDivCeil(a, b, div int64) int64 {
	var p, m big.Int
	p.Mul(big.NewInt(a), big.NewInt(b))
	p.DivMod(&p, big.NewInt(div), &m)
	if m.Sign() != 0 {
		p.Add(&p, big.NewInt(1))
	}
	return p.Int64()
}

// AmountOfPriceAsset converts an amount-asset quantity to price-asset
// units at the given price, rounding down.
func AmountOfPriceAsset(amount, price int64) int64 {
	return mulDivFloor(amount, price, PriceConstant)
}

// CorrectedAmount rounds amount down to the smallest quantity that settles
// to the same whole number of price-asset units: floor to settled price
// units, then ceil back to amount units. The result never exceeds amount.
func CorrectedAmount(amount, price int64) int64 {
	settled := mulDivFloor(amount, price, PriceConstant)
	return mulDivCeil(settled, PriceConstant, price)
}

// MinAmountOfAmountAsset is the smallest amount that settles to at least
// one price-asset unit at the given price.
func MinAmountOfAmountAsset(price int64) int64 {
	return mulDivCeil(1, PriceConstant, price)
}

// ProratedFee returns the fee still owed on the unfilled remainder,
// rounded up so the matcher never under-collects.
func ProratedFee(matcherFee, remaining, amount int64) int64 {
	if remaining <= 0 {
		return 0
	}
	return mulDivCeil(matcherFee, remaining, amount)
}

// Obligations returns, per asset, the outstanding spend plus fee this
// order locks. Empty for terminal or absent orders.
//
// The fee is owed in the native asset, but when the order's receive side is
// also native the incoming amount is netted against it: only the part of
// the outstanding fee not covered by the pending receive stays reserved.
func Obligations(o *Order, info *OrderInfo) map[types.OptionalAsset]int64 {
	out := make(map[types.OptionalAsset]int64)
	if info == nil || !info.Status().Active() {
		return out
	}
	remaining := info.Remaining()

	var spend int64
	if o.Side == Buy {
		spend = AmountOfPriceAsset(remaining, o.Price)
	} else {
		spend = remaining
	}
	if spend > 0 {
		out[o.SpendAsset()] += spend
	}

	fee := info.RemainingFee
	if o.ReceiveAsset().IsNative() {
		var receive int64
		if o.Side == Buy {
			receive = remaining
		} else {
			receive = AmountOfPriceAsset(remaining, o.Price)
		}
		fee -= receive
	}
	if fee > 0 {
		out[types.NativeAsset()] += fee
	}

	return out
}
