// Package ta wraps the talib indicator library with the handful of helpers
// the strategies need. All outputs are aligned to the input length; indices
// inside an indicator's warmup window are NaN so that comparisons against
// them are false instead of silently using seed values.
package ta

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/sebaoww/bybit-futures-bot/internal/market"
)

// EMA returns the n-period exponential moving average of values.
func EMA(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return allNaN(len(values))
	}
	return nanWarmup(talib.Ema(values, period), period-1)
}

// RSI returns the n-period relative strength index (Wilder smoothing).
func RSI(values []float64, period int) []float64 {
	if len(values) < period+1 || period <= 0 {
		return allNaN(len(values))
	}
	return nanWarmup(talib.Rsi(values, period), period)
}

// ADX returns the n-period average directional index.
func ADX(highs, lows, closes []float64, period int) []float64 {
	if len(closes) < 2*period || period <= 0 {
		return allNaN(len(closes))
	}
	return nanWarmup(talib.Adx(highs, lows, closes, period), 2*period-1)
}

// Bollinger returns the upper and lower bands of an n-period SMA envelope
// at dev standard deviations.
func Bollinger(values []float64, period int, dev float64) (upper, lower []float64) {
	if len(values) < period || period <= 0 {
		nan := allNaN(len(values))
		return nan, append([]float64(nil), nan...)
	}
	u, _, l := talib.BBands(values, period, dev, dev, talib.SMA)
	return nanWarmup(u, period-1), nanWarmup(l, period-1)
}

// MACDHistogram returns the MACD histogram for the given fast/slow/signal
// periods.
func MACDHistogram(values []float64, fast, slow, signal int) []float64 {
	lookback := slow + signal - 2
	if len(values) <= lookback || fast <= 0 || slow <= fast || signal <= 0 {
		return allNaN(len(values))
	}
	_, _, hist := talib.Macd(values, fast, slow, signal)
	return nanWarmup(hist, lookback)
}

// SuperTrend returns the per-bar trend direction (true = uptrend) of the
// ATR channel with latched bands: in an uptrend the lower band only ratchets
// up, and the trend flips once the close crosses the latched opposite band.
// Bars inside the ATR warmup report an uptrend, the seed direction.
func SuperTrend(candles []market.Candle, atrPeriod int, multiplier float64) []bool {
	n := len(candles)
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	if atrPeriod <= 0 || n < atrPeriod+2 {
		return out
	}

	tr := make([]float64, n-1)
	for i := 1; i < n; i++ {
		h, l, pc := candles[i].High, candles[i].Low, candles[i-1].Close
		tr[i-1] = math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
	}
	atr := talib.Ema(tr, atrPeriod)

	start := atrPeriod + 1
	finalUpper := (candles[start].High+candles[start].Low)/2 + multiplier*atr[start-1]
	finalLower := (candles[start].High+candles[start].Low)/2 - multiplier*atr[start-1]
	for i := start + 1; i < n; i++ {
		a := atr[i-1]
		hl2 := (candles[i].High + candles[i].Low) / 2
		basicUpper := hl2 + multiplier*a
		basicLower := hl2 - multiplier*a
		prevClose := candles[i-1].Close

		if basicUpper < finalUpper || prevClose > finalUpper {
			finalUpper = basicUpper
		}
		if basicLower > finalLower || prevClose < finalLower {
			finalLower = basicLower
		}

		if out[i-1] {
			out[i] = candles[i].Close >= finalLower
		} else {
			out[i] = candles[i].Close > finalUpper
		}
	}
	return out
}

// VolumeSpike reports whether the latest volume exceeds multiplier times the
// mean of the preceding period volumes. Too-short series never spike.
func VolumeSpike(volumes []float64, period int, multiplier float64) bool {
	if period <= 0 || len(volumes) < period+1 {
		return false
	}
	window := volumes[len(volumes)-period-1 : len(volumes)-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(period)
	return volumes[len(volumes)-1] > avg*multiplier
}

// Last returns the final element of a series, or NaN for an empty one.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

func nanWarmup(values []float64, lookback int) []float64 {
	if lookback > len(values) {
		lookback = len(values)
	}
	for i := 0; i < lookback; i++ {
		values[i] = math.NaN()
	}
	return values
}

func allNaN(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
