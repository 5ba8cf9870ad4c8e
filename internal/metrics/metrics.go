// Package metrics registers the bot's prometheus collectors and serves them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_cycles_total", Help: "Completed evaluation cycles"},
	)
	CyclesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_cycles_skipped_total", Help: "Ticks skipped because the previous cycle was still running"},
	)
	SymbolsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_symbols_skipped_total", Help: "Per-symbol iterations skipped (no price, bot inactive, bad data)"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_orders_total", Help: "Entry orders submitted"},
		[]string{"symbol", "side"},
	)
	ClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_closes_total", Help: "Positions closed"},
		[]string{"symbol", "reason"},
	)
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_errors_total", Help: "Errors by processing stage"},
		[]string{"stage"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_open_positions", Help: "Currently open positions"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, CyclesSkipped, SymbolsSkipped,
		OrdersTotal, ClosesTotal, ErrorsTotal, OpenPositions,
	)
}

// Serve starts the metrics endpoint in the background and returns the server
// so callers can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
