package trader

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebaoww/bybit-futures-bot/internal/config"
	"github.com/sebaoww/bybit-futures-bot/internal/exchange"
	"github.com/sebaoww/bybit-futures-bot/internal/ledger"
	"github.com/sebaoww/bybit-futures-bot/internal/market"
	"github.com/sebaoww/bybit-futures-bot/internal/metrics"
	"github.com/sebaoww/bybit-futures-bot/internal/notify"
	"github.com/sebaoww/bybit-futures-bot/internal/strategy"
)

// MarketData is the read-only slice of the exchange client the scheduler
// needs each tick.
type MarketData interface {
	Tickers(ctx context.Context) (map[string]exchange.Ticker, error)
	Klines(ctx context.Context, symbol string, interval market.Interval, limit int) ([]market.Candle, error)
}

// Scheduler drives the controller on a fixed interval. Ticks never overlap:
// if a tick is still running when the next fires, the new one is skipped
// and counted.
type Scheduler struct {
	log        zerolog.Logger
	cfg        *config.Config
	controller *Controller
	data       MarketData
	stream     *exchange.PriceStream // optional live price cache
	disc       *exchange.Discovery   // optional, nil means manual symbols only
	book       *ledger.Book
	notifier   *notify.Notifier

	inFlight  atomic.Bool
	lastState config.BotState
	trades    map[string]tradeMark
}

type tradeMark struct {
	side market.Side
	at   time.Time
}

// NewScheduler wires the cycle loop. stream and disc may be nil.
func NewScheduler(logger zerolog.Logger, cfg *config.Config, ctrl *Controller, data MarketData, stream *exchange.PriceStream, disc *exchange.Discovery, book *ledger.Book, notifier *notify.Notifier) *Scheduler {
	return &Scheduler{
		log:        logger,
		cfg:        cfg,
		controller: ctrl,
		data:       data,
		stream:     stream,
		disc:       disc,
		book:       book,
		notifier:   notifier,
		lastState:  config.DefaultBotState(),
		trades:     make(map[string]tradeMark),
	}
}

// Run executes cycles until ctx is cancelled. The first cycle runs
// immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.announceStartup()

	interval := time.Duration(s.cfg.Trading.CycleSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Warn().Msg("previous cycle still running, tick skipped")
		metrics.CyclesSkipped.Inc()
		return
	}
	defer s.inFlight.Store(false)
	s.runCycle(ctx)
	metrics.CyclesTotal.Inc()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	state, err := config.LoadBotState(s.cfg.Paths.BotState)
	if err != nil {
		// A corrupt state file must not flip the bot on or off; keep the
		// last view we trusted.
		s.log.Warn().Err(err).Msg("bot state unreadable, keeping previous state")
		state = s.lastState
	}
	s.lastState = state

	symbols := s.symbols()
	// Keep the websocket subscription in step with the discovered universe.
	s.stream.SetSymbols(symbols)
	if !state.Active {
		s.log.Info().Int("symbols", len(symbols)).Msg("bot inactive, cycle skipped")
		metrics.SymbolsSkipped.WithLabelValues("inactive").Add(float64(len(symbols)))
		return
	}

	tuning := s.cfg.ResolveTuning()
	eval := strategy.Build(tuning.Mode)
	params := CycleParams{
		Tuning:      tuning,
		NotionalUSD: s.cfg.Trading.NotionalUSD,
		Leverage:    s.cfg.Trading.Leverage,
		Live:        s.cfg.Trading.Live,
		Verbose:     state.Verbose,
	}

	prices := s.fetchPrices(ctx, symbols)
	interval := market.Interval(s.cfg.Trading.Interval)

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		price, ok := prices[symbol]
		if !ok {
			s.log.Warn().Str("symbol", symbol).Msg("no price this cycle, symbol skipped")
			metrics.SymbolsSkipped.WithLabelValues("no-price").Inc()
			continue
		}
		if err := s.processSymbol(ctx, symbol, price, interval, eval, params); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("symbol cycle failed")
		}
	}
}

func (s *Scheduler) processSymbol(ctx context.Context, symbol string, price float64, interval market.Interval, eval strategy.Evaluator, params CycleParams) error {
	// The variant dictates how much history it needs; fetching only the
	// configured limit would leave a stricter variant permanently starved.
	limit := max(s.cfg.Trading.CandleLimit, eval.MinHistory())
	candles, err := s.data.Klines(ctx, symbol, interval, limit)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("candles").Inc()
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) > 0 && len(candles) < eval.MinHistory() {
		s.log.Warn().Str("symbol", symbol).Int("candles", len(candles)).Int("required", eval.MinHistory()).
			Msg("insufficient candle history for the active strategy")
	}

	var confirm []market.Candle
	if s.cfg.Trading.ConfirmInterval != "" {
		confirm, err = s.data.Klines(ctx, symbol, market.Interval(s.cfg.Trading.ConfirmInterval), limit)
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("candles").Inc()
			return fmt.Errorf("fetch confirmation candles: %w", err)
		}
	}

	mark := s.trades[symbol]
	verdict := eval.Evaluate(strategy.Input{
		Candles:     candles,
		Confirm:     confirm,
		Volumes:     market.Volumes(candles),
		LastSide:    mark.side,
		LastTrade:   mark.at,
		Now:         time.Now(),
		BarDuration: interval.Duration(),
		MinBarsGap:  s.cfg.Trading.MinBarsGap,
	})

	if params.Verbose && len(verdict.Indicators) > 0 {
		s.log.Debug().Str("symbol", symbol).Interface("indicators", verdict.Indicators).Msg("evaluated")
	}

	_, wasOpen := s.book.Get(symbol)
	err = s.controller.Process(ctx, symbol, price, verdict, params)
	rec, isOpen := s.book.Get(symbol)
	switch {
	case !wasOpen && isOpen:
		s.trades[symbol] = tradeMark{side: rec.Side, at: time.Now()}
	case wasOpen && !isOpen:
		s.trades[symbol] = tradeMark{side: mark.side, at: time.Now()}
	}
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("controller").Inc()
		return err
	}
	return nil
}

// fetchPrices prefers the websocket cache and falls back to one REST
// tickers call for whatever the cache cannot serve.
func (s *Scheduler) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	missing := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if s.stream != nil {
			if price, ok := s.stream.Price(symbol); ok {
				out[symbol] = price
				continue
			}
		}
		missing = append(missing, symbol)
	}
	if len(missing) == 0 {
		return out
	}
	tickers, err := s.data.Tickers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Strs("symbols", missing).Msg("ticker fetch failed")
		metrics.ErrorsTotal.WithLabelValues("prices").Inc()
		return out
	}
	for _, symbol := range missing {
		if t, ok := tickers[symbol]; ok {
			out[symbol] = t.LastPrice
		}
	}
	return out
}

func (s *Scheduler) symbols() []string {
	if discovered := s.disc.Symbols(); len(discovered) > 0 {
		return discovered
	}
	return s.cfg.Exchange.Symbols
}

func (s *Scheduler) announceStartup() {
	tuning := s.cfg.ResolveTuning()
	mode := "SIMULATION"
	if s.cfg.Trading.Live {
		mode = "LIVE"
	}
	s.notifier.Notifyf("🤖 bot started (%s)\nstrategy: %s\nTP %.2f%% | SL %.2f%% | trailing %.2f%%\nnotional %.2f USD x%v",
		mode, tuning.Mode, tuning.TakeProfitPct, tuning.StopLossPct, tuning.TrailingStopPct,
		s.cfg.Trading.NotionalUSD, s.cfg.Trading.Leverage)

	open := s.book.Snapshot()
	metrics.OpenPositions.Set(float64(len(open)))
	if len(open) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("📒 open positions:\n")
	for symbol, rec := range open {
		fmt.Fprintf(&b, "%s %s qty=%v entry=%.4f peak=%.4f\n", rec.Side, symbol, rec.Quantity, rec.EntryPrice, rec.TrailingPeak)
	}
	s.notifier.Notify(b.String())
	s.log.Info().Int("count", len(open)).Msg("resuming with open positions")
}
