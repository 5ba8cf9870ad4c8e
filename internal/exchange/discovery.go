package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebaoww/bybit-futures-bot/internal/config"
)

// Discovery keeps the traded symbol universe current: manually configured
// symbols plus the top USDT perpetuals ranked by 24h turnover.
type Discovery struct {
	log    zerolog.Logger
	client *Client
	manual []string
	cfg    config.Discovery

	mu      sync.Mutex
	current []string
}

// NewDiscovery returns nil when discovery is disabled; callers must treat a
// nil Discovery as "manual symbols only".
func NewDiscovery(logger zerolog.Logger, client *Client, manual []string, cfg config.Discovery) *Discovery {
	if !cfg.Enabled {
		return nil
	}
	return &Discovery{
		log:     logger,
		client:  client,
		manual:  append([]string(nil), manual...),
		cfg:     cfg,
		current: mergeSymbols(manual, nil),
	}
}

// Start launches the refresh loop in a goroutine.
func (d *Discovery) Start(ctx context.Context) {
	if d == nil {
		return
	}
	go d.loop(ctx)
}

func (d *Discovery) loop(ctx context.Context) {
	interval := time.Duration(d.cfg.RefreshIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	if err := d.Refresh(ctx); err != nil {
		d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.log.Warn().Err(err).Msg("symbol discovery refresh failed")
			}
		}
	}
}

// Symbols returns the latest merged universe.
func (d *Discovery) Symbols() []string {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.current...)
}

// Refresh ranks linear tickers by turnover and rebuilds the universe.
func (d *Discovery) Refresh(ctx context.Context) error {
	if d == nil {
		return nil
	}
	tickers, err := d.client.Tickers(ctx)
	if err != nil {
		return fmt.Errorf("discovery tickers: %w", err)
	}

	topN := d.cfg.TopN
	if topN <= 0 {
		topN = 20
	}
	ranked := make([]Ticker, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		if d.cfg.MinTurnoverUSD > 0 && t.Turnover24h < d.cfg.MinTurnoverUSD {
			continue
		}
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Turnover24h > ranked[j].Turnover24h })
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	discovered := make([]string, len(ranked))
	for i, t := range ranked {
		discovered[i] = t.Symbol
	}

	combined := mergeSymbols(d.manual, discovered)
	d.mu.Lock()
	changed := !slicesEqual(combined, d.current)
	prev := d.current
	d.current = combined
	d.mu.Unlock()
	if changed {
		d.log.Info().Strs("symbols", combined).Strs("previous", prev).Msg("updated symbol universe")
	}
	return nil
}

func mergeSymbols(manual, discovered []string) []string {
	set := make(map[string]struct{}, len(manual)+len(discovered))
	for _, sym := range manual {
		if sym = strings.TrimSpace(sym); sym != "" {
			set[sym] = struct{}{}
		}
	}
	for _, sym := range discovered {
		if sym = strings.TrimSpace(sym); sym != "" {
			set[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
