package strategy

import (
	"testing"
	"time"

	"github.com/sebaoww/bybit-futures-bot/internal/market"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// trendCandles builds a steady linear series; positive step trends up.
func trendCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		o := c - step
		out[i] = market.Candle{
			Open:   o,
			High:   max(o, c) + 0.2,
			Low:    min(o, c) - 0.2,
			Close:  c,
			Volume: 100,
			Ts:     testNow.Add(time.Duration(i-n) * 5 * time.Minute),
		}
	}
	return out
}

func baseInput(candles []market.Candle) Input {
	return Input{
		Candles:     candles,
		Now:         testNow,
		BarDuration: 5 * time.Minute,
		MinBarsGap:  3,
	}
}

func TestBollingerLongOnUptrend(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0.5))
	v := Bollinger{}.Evaluate(in)
	if v.Signal != market.SideLong {
		t.Fatalf("expected LONG, got %q (indicators: %v)", v.Signal, v.Indicators)
	}
	if v.Reentry != "" {
		t.Fatalf("unexpected reentry alongside a signal")
	}
}

func TestBollingerShortOnDowntrend(t *testing.T) {
	in := baseInput(trendCandles(100, 200, -0.5))
	v := Bollinger{}.Evaluate(in)
	if v.Signal != market.SideShort {
		t.Fatalf("expected SHORT, got %q (indicators: %v)", v.Signal, v.Indicators)
	}
}

func TestBollingerNeverBothDirections(t *testing.T) {
	for _, step := range []float64{0.5, -0.5, 0} {
		in := baseInput(trendCandles(100, 150, step))
		v := Bollinger{}.Evaluate(in)
		long := v.Signal == market.SideLong || v.Reentry == market.SideLong
		short := v.Signal == market.SideShort || v.Reentry == market.SideShort
		if long && short {
			t.Fatalf("both directions fired for step %v", step)
		}
	}
}

func TestBollingerFlatMarketNoSignal(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0))
	v := Bollinger{}.Evaluate(in)
	if v.Signal != "" {
		t.Fatalf("expected no signal on a flat series, got %q", v.Signal)
	}
}

func TestBollingerInsufficientHistory(t *testing.T) {
	in := baseInput(trendCandles(20, 100, 0.5))
	v := Bollinger{}.Evaluate(in)
	if v.Signal != "" || v.Reentry != "" {
		t.Fatalf("expected empty verdict on short history, got %+v", v)
	}
}

func TestBollingerGateBlocksRecentTrade(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0.5))
	in.LastTrade = testNow.Add(-10 * time.Minute) // gate needs 3 bars = 15m
	in.LastSide = market.SideLong
	v := Bollinger{}.Evaluate(in)
	if v.Signal != "" {
		t.Fatalf("expected the gate to block, got signal %q", v.Signal)
	}
	if v.Reentry != market.SideLong {
		t.Fatalf("expected LONG reentry hint, got %q", v.Reentry)
	}
}

func TestBollingerGateOpensAfterEnoughBars(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0.5))
	in.LastTrade = testNow.Add(-15 * time.Minute)
	in.LastSide = market.SideLong
	v := Bollinger{}.Evaluate(in)
	if v.Signal != market.SideLong {
		t.Fatalf("expected signal once the gate opens, got %q", v.Signal)
	}
}

func TestBollingerNoReentryForOppositeSide(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0.5))
	in.LastTrade = testNow.Add(-time.Minute)
	in.LastSide = market.SideShort // held direction is LONG; no hint
	v := Bollinger{}.Evaluate(in)
	if v.Signal != "" || v.Reentry != "" {
		t.Fatalf("expected neither signal nor reentry, got %+v", v)
	}
}

func TestBollingerConfirmTimeframeMustAgree(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0.5))
	in.Confirm = trendCandles(100, 200, -0.5) // higher timeframe disagrees
	v := Bollinger{}.Evaluate(in)
	if v.Signal != "" {
		t.Fatalf("expected disagreeing confirmation to veto, got %q", v.Signal)
	}

	in.Confirm = trendCandles(100, 100, 0.5)
	v = Bollinger{}.Evaluate(in)
	if v.Signal != market.SideLong {
		t.Fatalf("expected agreement to pass, got %q", v.Signal)
	}
}

func TestBollingerShortConfirmSeriesVetoes(t *testing.T) {
	in := baseInput(trendCandles(100, 100, 0.5))
	in.Confirm = trendCandles(10, 100, 0.5) // present but unevaluable
	v := Bollinger{}.Evaluate(in)
	if v.Signal != "" {
		t.Fatalf("an unevaluable confirmation series must veto, got %q", v.Signal)
	}
}

func TestSuperTrendRequiresVolumeSpike(t *testing.T) {
	candles := trendCandles(260, 100, 0.5)
	in := baseInput(candles)
	in.Volumes = market.Volumes(candles) // flat volume, no spike
	v := SuperTrend{}.Evaluate(in)
	if v.Signal != "" {
		t.Fatalf("expected no signal without a volume spike, got %q", v.Signal)
	}

	in.Volumes[len(in.Volumes)-1] = 1000 // 10x the average
	v = SuperTrend{}.Evaluate(in)
	if v.Signal != market.SideLong {
		t.Fatalf("expected LONG with spike, got %q (indicators: %v)", v.Signal, v.Indicators)
	}
}

func TestSuperTrendMissingVolumesIsNotAnError(t *testing.T) {
	in := baseInput(trendCandles(260, 100, 0.5))
	v := SuperTrend{}.Evaluate(in)
	if v.Signal != "" {
		t.Fatalf("missing volumes must read as no-spike, got %q", v.Signal)
	}
}

func TestSuperTrendShortOnDowntrendWithSpike(t *testing.T) {
	candles := trendCandles(260, 400, -0.5)
	in := baseInput(candles)
	in.Volumes = market.Volumes(candles)
	in.Volumes[len(in.Volumes)-1] = 1000
	v := SuperTrend{}.Evaluate(in)
	if v.Signal != market.SideShort {
		t.Fatalf("expected SHORT, got %q (indicators: %v)", v.Signal, v.Indicators)
	}
}

func TestBuildSelectsVariant(t *testing.T) {
	if Build("").Name() != "bollinger" {
		t.Fatalf("empty mode should default to bollinger")
	}
	if Build("SuperTrend").Name() != "supertrend" {
		t.Fatalf("mode matching should be case-insensitive")
	}
	if Build("unknown").Name() != "bollinger" {
		t.Fatalf("unknown mode should fall back to bollinger")
	}
}

func TestMinHistoryMatchesEvaluateCutoff(t *testing.T) {
	for _, ev := range []Evaluator{Bollinger{}, SuperTrend{}} {
		n := ev.MinHistory()
		if v := ev.Evaluate(baseInput(trendCandles(n-1, 100, 0.5))); v.Signal != "" || v.Reentry != "" {
			t.Fatalf("%s: verdict below MinHistory must be empty, got %+v", ev.Name(), v)
		}
		in := baseInput(trendCandles(n, 100, 0.5))
		in.Volumes = make([]float64, n)
		ev.Evaluate(in) // at the cutoff it must evaluate, not panic
	}
}
