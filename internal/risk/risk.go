// Package risk encodes guard-rails for how much size the bot may take on,
// and the normalization that turns a cash amount into an exchange-valid
// order quantity.
package risk

import (
	"errors"
	"math"
)

// ErrQtyBelowMinimum marks a quantity that normalized to zero or less; the
// order must not be submitted.
var ErrQtyBelowMinimum = errors.New("quantity below exchange minimum")

// Limits caps the notional value of a single trade.
type Limits struct {
	MaxNotionalPerTrade float64
}

// Allow reports whether a trade of the given notional is within limits.
// A zero cap means unlimited.
func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Precision describes how a symbol's order quantity must be quantized.
type Precision struct {
	StepSize float64
	Decimals int
}

// DefaultPrecision is the conservative fallback when the instrument lookup
// fails: two decimals, the coarsest step Bybit uses for liquid USDT pairs.
func DefaultPrecision() Precision { return Precision{StepSize: 0.01, Decimals: 2} }

// PrecisionForStep derives the decimal digit count from a step size.
func PrecisionForStep(step float64) Precision {
	if step <= 0 {
		return DefaultPrecision()
	}
	return Precision{StepSize: step, Decimals: int(math.Floor(math.Log10(1 / step)))}
}

// NormalizeQty converts a notional trade size and leverage into an order
// quantity quantized to the step size, always rounding down; overshooting
// the intended exposure is never allowed. Returns ErrQtyBelowMinimum when
// the floored quantity is not positive.
func NormalizeQty(notionalUSD, leverage, price, step float64) (float64, error) {
	if price <= 0 || notionalUSD <= 0 || leverage <= 0 {
		return 0, ErrQtyBelowMinimum
	}
	if step <= 0 {
		step = DefaultPrecision().StepSize
	}
	raw := notionalUSD * leverage / price
	factor := math.Pow(10, math.Floor(-math.Log10(step)))
	qty := math.Floor(raw*factor) / factor
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0, ErrQtyBelowMinimum
	}
	return qty, nil
}

// NormalizeCloseQty floors an existing position quantity to the step size
// for a reduce-only close. The same never-round-up rule applies.
func NormalizeCloseQty(qty, step float64) (float64, error) {
	if step <= 0 {
		step = DefaultPrecision().StepSize
	}
	factor := math.Pow(10, math.Floor(-math.Log10(step)))
	out := math.Floor(qty*factor) / factor
	if out <= 0 || math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, ErrQtyBelowMinimum
	}
	return out, nil
}
