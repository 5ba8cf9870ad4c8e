package strategy

import (
	"github.com/sebaoww/bybit-futures-bot/internal/market"
	"github.com/sebaoww/bybit-futures-bot/internal/ta"
)

// Bollinger is the canonical rule set: EMA crossover with RSI and ADX
// filters, bounded by a Bollinger envelope so entries are not taken into an
// overextended move. When a higher-timeframe series is supplied, it must
// agree on trend, momentum, and strength.
type Bollinger struct{}

const (
	bollingerMinHistory = 35

	emaShortPeriod = 9
	emaLongPeriod  = 25
	rsiPeriod      = 14
	adxPeriod      = 14
	bbPeriod       = 20
	bbDeviation    = 2.0

	rsiLongFloor     = 53.0
	rsiShortCeil     = 47.0
	rsiConfirmMid    = 50.0
	adxTrendStrength = 18.0
)

func (Bollinger) Name() string { return "bollinger" }

func (Bollinger) MinHistory() int { return bollingerMinHistory }

func (Bollinger) Evaluate(in Input) Verdict {
	if len(in.Candles) < bollingerMinHistory {
		return Verdict{}
	}

	closes := market.Closes(in.Candles)
	price := closes[len(closes)-1]

	emaShort := ta.Last(ta.EMA(closes, emaShortPeriod))
	emaLong := ta.Last(ta.EMA(closes, emaLongPeriod))
	rsi := ta.Last(ta.RSI(closes, rsiPeriod))
	adx := ta.Last(ta.ADX(market.Highs(in.Candles), market.Lows(in.Candles), closes, adxPeriod))
	upperBand, lowerBand := ta.Bollinger(closes, bbPeriod, bbDeviation)
	bbUpper := ta.Last(upperBand)
	bbLower := ta.Last(lowerBand)

	// NaN indicators fail every comparison below, which reads as "condition
	// not met" rather than propagating NaN into a decision.
	longCond := emaShort > emaLong && rsi > rsiLongFloor && adx > adxTrendStrength && price < bbUpper
	shortCond := emaShort < emaLong && rsi < rsiShortCeil && adx > adxTrendStrength && price > bbLower

	indicators := map[string]float64{
		"ema9":    emaShort,
		"ema25":   emaLong,
		"rsi":     rsi,
		"adx":     adx,
		"bbUpper": bbUpper,
		"bbLower": bbLower,
	}

	if len(in.Confirm) > 0 && len(in.Confirm) < bollingerMinHistory {
		// A confirmation series that exists but cannot be evaluated must
		// veto, the same way a NaN indicator fails its condition.
		longCond, shortCond = false, false
	} else if len(in.Confirm) >= bollingerMinHistory {
		confirmCloses := market.Closes(in.Confirm)
		cEmaShort := ta.Last(ta.EMA(confirmCloses, emaShortPeriod))
		cEmaLong := ta.Last(ta.EMA(confirmCloses, emaLongPeriod))
		cRsi := ta.Last(ta.RSI(confirmCloses, rsiPeriod))
		cAdx := ta.Last(ta.ADX(market.Highs(in.Confirm), market.Lows(in.Confirm), confirmCloses, adxPeriod))

		indicators["ema9Confirm"] = cEmaShort
		indicators["ema25Confirm"] = cEmaLong
		indicators["rsiConfirm"] = cRsi
		indicators["adxConfirm"] = cAdx

		longCond = longCond && cEmaShort > cEmaLong && cRsi > rsiConfirmMid && cAdx > adxTrendStrength
		shortCond = shortCond && cEmaShort < cEmaLong && cRsi < rsiConfirmMid && cAdx > adxTrendStrength
	}

	return resolve(longCond, shortCond, in, indicators)
}
