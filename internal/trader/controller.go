// Package trader holds the position lifecycle state machine and the cycle
// scheduler that drives it.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebaoww/bybit-futures-bot/internal/config"
	"github.com/sebaoww/bybit-futures-bot/internal/exchange"
	"github.com/sebaoww/bybit-futures-bot/internal/ledger"
	"github.com/sebaoww/bybit-futures-bot/internal/market"
	"github.com/sebaoww/bybit-futures-bot/internal/metrics"
	"github.com/sebaoww/bybit-futures-bot/internal/notify"
	"github.com/sebaoww/bybit-futures-bot/internal/risk"
	"github.com/sebaoww/bybit-futures-bot/internal/strategy"
)

// Close reasons carried into notifications and metrics labels.
const (
	ReasonTrailing   = "trailing"
	ReasonTakeProfit = "take-profit"
	ReasonStopLoss   = "stop-loss"
)

// Gateway is the slice of the exchange client the controller needs.
type Gateway interface {
	CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
	SetTradingStop(ctx context.Context, symbol string, trailingDistance float64) error
	InstrumentStep(ctx context.Context, symbol string) (float64, error)
}

// CycleParams is everything the controller needs for one symbol iteration,
// resolved fresh per cycle so operator overrides take effect immediately.
type CycleParams struct {
	Tuning      config.Tuning
	NotionalUSD float64
	Leverage    float64
	Live        bool
	Verbose     bool
}

// Controller runs the per-symbol state machine: flat symbols open on a
// signal, open positions track their trailing peak and close on a trailing
// cross, take-profit, or stop-loss.
type Controller struct {
	log      zerolog.Logger
	gateway  Gateway
	book     *ledger.Book
	stats    *ledger.StatsFile
	trades   *ledger.TradeLog
	notifier *notify.Notifier
	limits   risk.Limits
	now      func() time.Time
}

// NewController wires the controller. stats, trades, and notifier may be
// nil; the respective side effects are skipped.
func NewController(logger zerolog.Logger, gw Gateway, book *ledger.Book, stats *ledger.StatsFile, trades *ledger.TradeLog, notifier *notify.Notifier, limits risk.Limits) *Controller {
	return &Controller{
		log:      logger,
		gateway:  gw,
		book:     book,
		stats:    stats,
		trades:   trades,
		notifier: notifier,
		limits:   limits,
		now:      time.Now,
	}
}

// Process runs one state-machine step for the symbol at the given price.
func (c *Controller) Process(ctx context.Context, symbol string, price float64, v strategy.Verdict, p CycleParams) error {
	if rec, ok := c.book.Get(symbol); ok {
		return c.manageOpen(ctx, symbol, rec, price, p)
	}
	if v.Signal == "" {
		if v.Reentry != "" {
			c.log.Info().Str("symbol", symbol).Str("direction", string(v.Reentry)).
				Msg("re-entry condition held but blocked by the trade gap")
		}
		return nil
	}
	return c.open(ctx, symbol, v.Signal, price, p)
}

func (c *Controller) open(ctx context.Context, symbol string, side market.Side, price float64, p CycleParams) error {
	if !c.limits.Allow(p.NotionalUSD) {
		c.log.Warn().Str("symbol", symbol).Float64("notional", p.NotionalUSD).Msg("notional above per-trade cap, entry skipped")
		return nil
	}

	step, err := c.gateway.InstrumentStep(ctx, symbol)
	if err != nil {
		// Lookup failures must not block the cycle; size conservatively.
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("step lookup failed, using default precision")
		step = risk.DefaultPrecision().StepSize
	}
	qty, err := risk.NormalizeQty(p.NotionalUSD, p.Leverage, price, step)
	if err != nil {
		if errors.Is(err, risk.ErrQtyBelowMinimum) {
			c.log.Warn().Str("symbol", symbol).Float64("price", price).Msg("normalized quantity below minimum, entry skipped")
			metrics.ErrorsTotal.WithLabelValues("sizing").Inc()
			return nil
		}
		return fmt.Errorf("size order for %s: %w", symbol, err)
	}

	var takeProfit, stopLoss float64
	if side == market.SideLong {
		takeProfit = price * (1 + p.Tuning.TakeProfitPct/100)
		stopLoss = price * (1 - p.Tuning.StopLossPct/100)
	} else {
		takeProfit = price * (1 - p.Tuning.TakeProfitPct/100)
		stopLoss = price * (1 + p.Tuning.StopLossPct/100)
	}

	if !p.Live {
		c.log.Info().Str("symbol", symbol).Str("side", string(side)).Float64("qty", qty).Float64("price", price).Msg("simulated entry")
		c.notifier.Notifyf("[SIM] %s %s qty=%v @ %.4f (TP %.4f / SL %.4f)", side, symbol, qty, price, takeProfit, stopLoss)
		return nil
	}

	res, err := c.gateway.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
	})
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("order").Inc()
		c.notifier.Notifyf("❌ %s %s entry rejected: %v", side, symbol, err)
		return fmt.Errorf("open %s %s: %w", side, symbol, err)
	}

	rec := ledger.Record{
		EntryPrice:   price,
		Quantity:     qty,
		Side:         side,
		TrailingPeak: price,
		OpenedAt:     c.now(),
	}
	if err := c.book.Put(symbol, rec); err != nil {
		// The order is live but unrecorded: the worst state we can be in.
		c.log.Error().Err(err).Str("symbol", symbol).Str("orderId", res.OrderID).Msg("position opened but not persisted")
		return fmt.Errorf("persist open for %s: %w", symbol, err)
	}

	if err := c.gateway.SetTradingStop(ctx, symbol, price*p.Tuning.TrailingStopPct/100); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("exchange trailing stop not registered")
		c.notifier.Notifyf("⚠️ %s: exchange trailing stop not set: %v", symbol, err)
	}

	if c.stats != nil {
		if err := c.stats.RecordOpen(side); err != nil {
			c.log.Warn().Err(err).Msg("stats update failed")
		}
	}
	c.appendTrade(fmt.Sprintf("OPEN %s %s qty=%v entry=%.4f", side, symbol, qty, price))
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
	metrics.OpenPositions.Set(float64(c.book.Len()))

	c.log.Info().Str("symbol", symbol).Str("side", string(side)).Float64("qty", qty).
		Float64("entry", price).Str("orderId", res.OrderID).Msg("position opened")
	c.notifier.Notifyf("🚀 %s %s\nqty: %v\nentry: %.4f\nTP: %.4f | SL: %.4f", side, symbol, qty, price, takeProfit, stopLoss)
	return nil
}

func (c *Controller) manageOpen(ctx context.Context, symbol string, rec ledger.Record, price float64, p CycleParams) error {
	if !rec.Side.Valid() {
		// Bad local data over real exchange exposure: never delete, never act.
		c.log.Warn().Str("symbol", symbol).Str("side", string(rec.Side)).Msg("corrupt position record, symbol skipped until corrected")
		metrics.SymbolsSkipped.WithLabelValues("corrupt-record").Inc()
		return nil
	}

	if rec.Side == market.SideLong && price > rec.TrailingPeak ||
		rec.Side == market.SideShort && price < rec.TrailingPeak {
		rec.TrailingPeak = price
		if err := c.book.Put(symbol, rec); err != nil {
			return fmt.Errorf("persist trailing peak for %s: %w", symbol, err)
		}
	}

	var trigger, pnlPct float64
	var crossed bool
	if rec.Side == market.SideLong {
		trigger = rec.TrailingPeak * (1 - p.Tuning.TrailingStopPct/100)
		crossed = price <= trigger
		pnlPct = (price - rec.EntryPrice) / rec.EntryPrice * 100 * p.Leverage
	} else {
		trigger = rec.TrailingPeak * (1 + p.Tuning.TrailingStopPct/100)
		crossed = price >= trigger
		pnlPct = (rec.EntryPrice - price) / rec.EntryPrice * 100 * p.Leverage
	}

	var reason string
	switch {
	case crossed:
		reason = ReasonTrailing
	case pnlPct >= p.Tuning.TakeProfitPct:
		reason = ReasonTakeProfit
	case pnlPct <= -p.Tuning.StopLossPct:
		reason = ReasonStopLoss
	default:
		if p.Verbose {
			c.log.Debug().Str("symbol", symbol).Float64("price", price).
				Float64("trigger", trigger).Float64("pnlPct", pnlPct).Msg("holding")
		}
		return nil
	}
	return c.close(ctx, symbol, rec, price, pnlPct, reason, p)
}

func (c *Controller) close(ctx context.Context, symbol string, rec ledger.Record, price, pnlPct float64, reason string, p CycleParams) error {
	if !p.Live {
		c.log.Info().Str("symbol", symbol).Str("side", string(rec.Side)).Str("reason", reason).
			Float64("exit", price).Float64("pnlPct", pnlPct).Msg("simulated close")
		c.notifier.Notifyf("[SIM] close %s %s (%s) exit=%.4f pnl=%.2f%%", rec.Side, symbol, reason, price, pnlPct)
		return nil
	}

	qty := rec.Quantity
	if step, err := c.gateway.InstrumentStep(ctx, symbol); err == nil {
		// Step sizes can change while a position is open; re-quantize so
		// the reduce-only order is still exchange-valid.
		if q, err := risk.NormalizeCloseQty(rec.Quantity, step); err == nil {
			qty = q
		}
	}
	_, err := c.gateway.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       rec.Side,
		Qty:        qty,
		ReduceOnly: true,
	})
	switch {
	case err == nil:
	case errors.Is(err, exchange.ErrPositionZero):
		// The exchange-side stop beat us to it; converge local state.
		c.log.Info().Str("symbol", symbol).Msg("position already flat on exchange")
	default:
		metrics.ErrorsTotal.WithLabelValues("close").Inc()
		c.notifier.Notifyf("❌ close %s failed: %v", symbol, err)
		return fmt.Errorf("close %s: %w", symbol, err)
	}

	if err := c.book.Remove(symbol); err != nil {
		return fmt.Errorf("persist close for %s: %w", symbol, err)
	}

	if c.stats != nil {
		if err := c.stats.RecordClose(pnlPct); err != nil {
			c.log.Warn().Err(err).Msg("stats update failed")
		}
	}
	c.appendTrade(fmt.Sprintf("CLOSE %s %s qty=%v entry=%.4f exit=%.4f pnl=%.2f%% reason=%s",
		rec.Side, symbol, rec.Quantity, rec.EntryPrice, price, pnlPct, reason))
	metrics.ClosesTotal.WithLabelValues(symbol, reason).Inc()
	metrics.OpenPositions.Set(float64(c.book.Len()))

	c.log.Info().Str("symbol", symbol).Str("side", string(rec.Side)).Str("reason", reason).
		Float64("entry", rec.EntryPrice).Float64("exit", price).Float64("pnlPct", pnlPct).Msg("position closed")
	c.notifier.Notifyf("🏁 closed %s %s (%s)\nentry: %.4f\nexit: %.4f\nqty: %v\npnl: %.2f%%",
		rec.Side, symbol, reason, rec.EntryPrice, price, rec.Quantity, pnlPct)
	return nil
}

func (c *Controller) appendTrade(line string) {
	if c.trades == nil {
		return
	}
	if err := c.trades.Append(line); err != nil {
		c.log.Warn().Err(err).Msg("trade log append failed")
	}
}
