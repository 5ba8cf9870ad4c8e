package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sebaoww/bybit-futures-bot/internal/market"
)

// Stats accumulates lifetime trade counters across restarts.
type Stats struct {
	LongCount   int     `json:"longCount"`
	ShortCount  int     `json:"shortCount"`
	ClosedCount int     `json:"closedCount"`
	TotalGain   float64 `json:"totalGain"`
}

// StatsFile persists Stats with the same atomic-write discipline as the
// position book. Failures here must never block trading; callers log and
// move on.
type StatsFile struct {
	mu   sync.Mutex
	path string
}

// NewStatsFile binds a stats file at path.
func NewStatsFile(path string) *StatsFile { return &StatsFile{path: path} }

// Load reads the current counters; a missing file is an empty Stats.
func (s *StatsFile) Load() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// RecordOpen bumps the counter for a freshly opened position.
func (s *StatsFile) RecordOpen(side market.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	switch side {
	case market.SideLong:
		st.LongCount++
	case market.SideShort:
		st.ShortCount++
	}
	return s.saveLocked(st)
}

// RecordClose bumps the close counter and folds in the realized PnL percent.
func (s *StatsFile) RecordClose(pnlPct float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	st.ClosedCount++
	st.TotalGain += pnlPct
	return s.saveLocked(st)
}

func (s *StatsFile) loadLocked() (Stats, error) {
	var st Stats
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read stats: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}

func (s *StatsFile) saveLocked(st Stats) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return atomicWrite(s.path, data)
}

// TradeLog appends human-readable one-liners for every open and close, the
// operator's audit trail next to the structured logs.
type TradeLog struct {
	mu   sync.Mutex
	path string
}

// NewTradeLog binds a trade log at path.
func NewTradeLog(path string) *TradeLog { return &TradeLog{path: path} }

// Append writes one timestamped line.
func (t *TradeLog) Append(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("mkdir trade log dir: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), line)
	return err
}
