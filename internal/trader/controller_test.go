package trader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sebaoww/bybit-futures-bot/internal/config"
	"github.com/sebaoww/bybit-futures-bot/internal/exchange"
	"github.com/sebaoww/bybit-futures-bot/internal/ledger"
	"github.com/sebaoww/bybit-futures-bot/internal/market"
	"github.com/sebaoww/bybit-futures-bot/internal/risk"
	"github.com/sebaoww/bybit-futures-bot/internal/strategy"
)

type fakeGateway struct {
	step     float64
	stepErr  error
	orderErr error
	stopErr  error

	orders []exchange.OrderRequest
	stops  []float64
}

func (f *fakeGateway) CreateOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return exchange.OrderResult{}, f.orderErr
	}
	return exchange.OrderResult{OrderID: "oid-1", OrderLinkID: "lid-1"}, nil
}

func (f *fakeGateway) SetTradingStop(_ context.Context, _ string, dist float64) error {
	f.stops = append(f.stops, dist)
	return f.stopErr
}

func (f *fakeGateway) InstrumentStep(_ context.Context, _ string) (float64, error) {
	if f.stepErr != nil {
		return 0, f.stepErr
	}
	return f.step, nil
}

func newTestController(t *testing.T, gw *fakeGateway) (*Controller, *ledger.Book) {
	t.Helper()
	book, err := ledger.Open(filepath.Join(t.TempDir(), "entries.json"))
	require.NoError(t, err)
	c := NewController(zerolog.Nop(), gw, book, nil, nil, nil, risk.Limits{})
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c, book
}

func liveParams() CycleParams {
	return CycleParams{
		Tuning:      config.Tuning{TakeProfitPct: 3, StopLossPct: 1.5, TrailingStopPct: 2},
		NotionalUSD: 10,
		Leverage:    3,
		Live:        true,
	}
}

func longVerdict() strategy.Verdict { return strategy.Verdict{Signal: market.SideLong} }

func TestOpenCreatesNormalizedPosition(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)

	err := c.Process(context.Background(), "BTCUSDT", 100, longVerdict(), liveParams())
	require.NoError(t, err)

	require.Len(t, gw.orders, 1)
	order := gw.orders[0]
	require.Equal(t, market.SideLong, order.Side)
	require.InDelta(t, 0.30, order.Qty, 1e-12)
	require.False(t, order.ReduceOnly)
	require.InDelta(t, 103, order.TakeProfit, 1e-9)
	require.InDelta(t, 98.5, order.StopLoss, 1e-9)

	rec, ok := book.Get("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, 100.0, rec.EntryPrice)
	require.InDelta(t, 0.30, rec.Quantity, 1e-12)
	require.Equal(t, market.SideLong, rec.Side)
	require.Equal(t, 100.0, rec.TrailingPeak)

	require.Len(t, gw.stops, 1)
	require.InDelta(t, 2.0, gw.stops[0], 1e-9) // 100 * 2%
}

func TestOpenRejectedLeavesNoState(t *testing.T) {
	gw := &fakeGateway{step: 0.01, orderErr: errors.New("insufficient balance")}
	c, book := newTestController(t, gw)

	err := c.Process(context.Background(), "BTCUSDT", 100, longVerdict(), liveParams())
	require.Error(t, err)
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok, "rejected order must leave the symbol flat")
}

func TestOpenQuantityBelowMinimumSkips(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)

	p := liveParams()
	p.NotionalUSD = 0.0001 // rounds to zero at this price
	err := c.Process(context.Background(), "BTCUSDT", 65000, longVerdict(), p)
	require.NoError(t, err)
	require.Empty(t, gw.orders, "no order may be submitted for a zero quantity")
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok)
}

func TestOpenStepLookupFailureFallsBack(t *testing.T) {
	gw := &fakeGateway{stepErr: errors.New("timeout")}
	c, book := newTestController(t, gw)

	err := c.Process(context.Background(), "BTCUSDT", 100, longVerdict(), liveParams())
	require.NoError(t, err)
	require.Len(t, gw.orders, 1)
	require.InDelta(t, 0.30, gw.orders[0].Qty, 1e-12) // default 0.01 step
	_, ok := book.Get("BTCUSDT")
	require.True(t, ok)
}

func TestSimulatedModePersistsNothing(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)

	p := liveParams()
	p.Live = false
	err := c.Process(context.Background(), "BTCUSDT", 100, longVerdict(), p)
	require.NoError(t, err)
	require.Empty(t, gw.orders)
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok)
}

func TestSimulatedModeNeverSubmitsCloses(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 110,
	}))

	// Trailing trigger 107.8 is crossed at 107.5, but the bot is not live:
	// the position on the exchange must stay untouched, and so must the
	// record that describes it.
	p := liveParams()
	p.Live = false
	err := c.Process(context.Background(), "BTCUSDT", 107.5, strategy.Verdict{}, p)
	require.NoError(t, err)
	require.Empty(t, gw.orders, "simulated mode must not submit a close order")
	rec, ok := book.Get("BTCUSDT")
	require.True(t, ok, "simulated mode must not remove the record")
	require.Equal(t, 110.0, rec.TrailingPeak)
}

func TestTrailingPeakIsMonotonic(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 100,
	}))

	// Exit thresholds wide open so only peak tracking is exercised.
	p := liveParams()
	p.Tuning = config.Tuning{TakeProfitPct: 1000, StopLossPct: 1000, TrailingStopPct: 50}

	expected := 100.0
	for _, price := range []float64{102, 105, 103, 104, 101.5} {
		require.NoError(t, c.Process(context.Background(), "BTCUSDT", price, strategy.Verdict{}, p))
		expected = max(expected, price)
		rec, ok := book.Get("BTCUSDT")
		require.True(t, ok)
		require.Equal(t, expected, rec.TrailingPeak, "peak must never decrease")
	}
}

func TestTrailingStopClosesLong(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 110,
	}))

	// trigger = 110 * 0.98 = 107.8
	err := c.Process(context.Background(), "BTCUSDT", 107.5, strategy.Verdict{}, liveParams())
	require.NoError(t, err)

	require.Len(t, gw.orders, 1)
	require.True(t, gw.orders[0].ReduceOnly)
	require.InDelta(t, 0.30, gw.orders[0].Qty, 1e-12)
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok, "closed position must leave the ledger")
}

func TestTrailingStopClosesShort(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("ETHUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 1, Side: market.SideShort, TrailingPeak: 95,
	}))

	// trigger = 95 * 1.02 = 96.9
	err := c.Process(context.Background(), "ETHUSDT", 97, strategy.Verdict{}, liveParams())
	require.NoError(t, err)
	require.Len(t, gw.orders, 1)
	require.True(t, gw.orders[0].ReduceOnly)
	_, ok := book.Get("ETHUSDT")
	require.False(t, ok)
}

func TestTakeProfitCloses(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 100,
	}))

	// pnl = 1.2% * 3x = 3.6% >= 3%; trailing trigger not crossed
	err := c.Process(context.Background(), "BTCUSDT", 101.2, strategy.Verdict{}, liveParams())
	require.NoError(t, err)
	require.Len(t, gw.orders, 1)
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok)
}

func TestStopLossCloses(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 100,
	}))

	// pnl = -0.6% * 3x = -1.8% <= -1.5%; trigger 98 not crossed at 99.4
	err := c.Process(context.Background(), "BTCUSDT", 99.4, strategy.Verdict{}, liveParams())
	require.NoError(t, err)
	require.Len(t, gw.orders, 1)
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok)
}

func TestHoldBetweenThresholds(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 100,
	}))

	// pnl = 0.9%, inside every threshold
	err := c.Process(context.Background(), "BTCUSDT", 100.3, strategy.Verdict{}, liveParams())
	require.NoError(t, err)
	require.Empty(t, gw.orders)
	rec, ok := book.Get("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, 100.3, rec.TrailingPeak)
}

func TestAlreadyFlatCloseIsIdempotent(t *testing.T) {
	gw := &fakeGateway{step: 0.01, orderErr: exchange.ErrPositionZero}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 110,
	}))

	err := c.Process(context.Background(), "BTCUSDT", 107.5, strategy.Verdict{}, liveParams())
	require.NoError(t, err, "already-flat must read as a successful close")
	_, ok := book.Get("BTCUSDT")
	require.False(t, ok)
}

func TestCloseFailureKeepsRecord(t *testing.T) {
	gw := &fakeGateway{step: 0.01, orderErr: errors.New("exchange 502")}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 110,
	}))

	err := c.Process(context.Background(), "BTCUSDT", 107.5, strategy.Verdict{}, liveParams())
	require.Error(t, err)
	_, ok := book.Get("BTCUSDT")
	require.True(t, ok, "failed close must keep the record for a retry next cycle")
}

func TestCorruptRecordIsSkippedNotDeleted(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.Side("SIDEWAYS"), TrailingPeak: 110,
	}))

	err := c.Process(context.Background(), "BTCUSDT", 50, strategy.Verdict{}, liveParams())
	require.NoError(t, err)
	require.Empty(t, gw.orders, "a corrupt record must never trigger orders")
	_, ok := book.Get("BTCUSDT")
	require.True(t, ok, "a corrupt record must never be deleted")
}

func TestOpenSymbolIgnoresNewSignals(t *testing.T) {
	gw := &fakeGateway{step: 0.01}
	c, book := newTestController(t, gw)
	require.NoError(t, book.Put("BTCUSDT", ledger.Record{
		EntryPrice: 100, Quantity: 0.30, Side: market.SideLong, TrailingPeak: 100,
	}))

	// A fresh signal on an already-open symbol must not double-open.
	err := c.Process(context.Background(), "BTCUSDT", 100.3, longVerdict(), liveParams())
	require.NoError(t, err)
	require.Empty(t, gw.orders)
	require.Equal(t, 1, book.Len())
}
