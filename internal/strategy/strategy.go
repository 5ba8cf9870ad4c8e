// Package strategy turns candle history into directional trade verdicts.
package strategy

import (
	"strings"
	"time"

	"github.com/sebaoww/bybit-futures-bot/internal/market"
)

// Verdict is the outcome of one evaluation. Signal is empty when no entry
// condition fired; Reentry reports a direction whose condition held but was
// blocked by the re-entry gate, informational only.
type Verdict struct {
	Signal     market.Side
	Reentry    market.Side
	Indicators map[string]float64
}

// Input bundles everything an evaluator may consume for one symbol.
type Input struct {
	Candles []market.Candle // primary timeframe, oldest first
	Confirm []market.Candle // optional higher timeframe confirmation
	Volumes []float64       // optional volume series, aligned to Candles

	LastSide    market.Side // direction of the most recent trade, if any
	LastTrade   time.Time   // zero when the symbol has never traded
	Now         time.Time
	BarDuration time.Duration
	MinBarsGap  int
}

// Evaluator maps an Input to a Verdict. Implementations are pure: no I/O,
// no stored state between calls. MinHistory is the candle count below which
// Evaluate always returns an empty verdict; callers must fetch at least
// that much.
type Evaluator interface {
	Name() string
	MinHistory() int
	Evaluate(in Input) Verdict
}

// canTrade applies the anti-spam gate: a fresh entry is allowed only once
// enough bars have passed since the last trade on the symbol.
func canTrade(in Input) bool {
	if in.LastTrade.IsZero() {
		return true
	}
	gap := in.MinBarsGap
	if gap <= 0 {
		gap = 3
	}
	return in.Now.Sub(in.LastTrade) >= time.Duration(gap)*in.BarDuration
}

// resolve applies the gate to the raw directional conditions and fills the
// verdict. A blocked condition matching the previous trade direction is
// surfaced as a re-entry hint, never acted on automatically.
func resolve(longCond, shortCond bool, in Input, indicators map[string]float64) Verdict {
	v := Verdict{Indicators: indicators}
	if canTrade(in) {
		switch {
		case longCond:
			v.Signal = market.SideLong
		case shortCond:
			v.Signal = market.SideShort
		}
		return v
	}
	if in.LastSide == market.SideLong && longCond {
		v.Reentry = market.SideLong
	} else if in.LastSide == market.SideShort && shortCond {
		v.Reentry = market.SideShort
	}
	return v
}

// Build returns the evaluator for the configured mode. Unknown modes fall
// back to the Bollinger variant, the canonical rule set.
func Build(mode string) Evaluator {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "bollinger":
		return Bollinger{}
	case "supertrend", "trend":
		return SuperTrend{}
	default:
		return Bollinger{}
	}
}
