package strategy

import (
	"github.com/sebaoww/bybit-futures-bot/internal/market"
	"github.com/sebaoww/bybit-futures-bot/internal/ta"
)

// SuperTrend is the trend-filtered variant: the same EMA/RSI/ADX core,
// gated by a long EMA trend filter, the SuperTrend channel direction, MACD
// histogram sign, and a volume spike. Stricter than Bollinger, so it fires
// less often.
type SuperTrend struct{}

const (
	supertrendMinHistory = 210 // EMA200 needs most of it

	trendEMAPeriod       = 200
	supertrendATRPeriod  = 10
	supertrendMultiplier = 3.0
	macdFast             = 12
	macdSlow             = 26
	macdSignal           = 9
	volumeSpikePeriod    = 20
	volumeSpikeFactor    = 2.0
)

func (SuperTrend) Name() string { return "supertrend" }

func (SuperTrend) MinHistory() int { return supertrendMinHistory }

func (SuperTrend) Evaluate(in Input) Verdict {
	if len(in.Candles) < supertrendMinHistory {
		return Verdict{}
	}

	closes := market.Closes(in.Candles)
	price := closes[len(closes)-1]

	emaShort := ta.Last(ta.EMA(closes, emaShortPeriod))
	emaLong := ta.Last(ta.EMA(closes, emaLongPeriod))
	emaTrend := ta.Last(ta.EMA(closes, trendEMAPeriod))
	rsi := ta.Last(ta.RSI(closes, rsiPeriod))
	adx := ta.Last(ta.ADX(market.Highs(in.Candles), market.Lows(in.Candles), closes, adxPeriod))
	macdHist := ta.Last(ta.MACDHistogram(closes, macdFast, macdSlow, macdSignal))

	trend := ta.SuperTrend(in.Candles, supertrendATRPeriod, supertrendMultiplier)
	uptrend := trend[len(trend)-1]

	// A missing volume series simply means the spike condition can never be
	// satisfied; it is not an error.
	spike := ta.VolumeSpike(in.Volumes, volumeSpikePeriod, volumeSpikeFactor)

	trendUp := price > emaTrend
	longCond := emaShort > emaLong && rsi > rsiLongFloor && adx > adxTrendStrength &&
		uptrend && macdHist > 0 && trendUp && spike
	shortCond := emaShort < emaLong && rsi < rsiShortCeil && adx > adxTrendStrength &&
		!uptrend && macdHist < 0 && !trendUp && spike

	indicators := map[string]float64{
		"ema9":        emaShort,
		"ema25":       emaLong,
		"ema200":      emaTrend,
		"rsi":         rsi,
		"adx":         adx,
		"macdHist":    macdHist,
		"supertrend":  boolIndicator(uptrend),
		"volumeSpike": boolIndicator(spike),
	}

	return resolve(longCond, shortCond, in, indicators)
}

func boolIndicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
