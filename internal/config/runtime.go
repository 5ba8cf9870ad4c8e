package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// Tuning is the per-cycle view of the operator-adjustable parameters,
// resolved once at cycle start so every symbol in the cycle sees the same
// values.
type Tuning struct {
	TakeProfitPct   float64
	StopLossPct     float64
	TrailingStopPct float64
	Mode            string
}

// overlay mirrors the dynamic override file. Fields are pointers so that
// "absent" and "zero" stay distinguishable.
type overlay struct {
	TakeProfit   *float64 `json:"TAKE_PROFIT"`
	StopLoss     *float64 `json:"STOP_LOSS"`
	TrailingStop *float64 `json:"TRAILING_STOP"`
	Strategy     *string  `json:"STRATEGY"`
}

// ResolveTuning builds the cycle tuning with a single precedence rule per
// field: dynamic overlay value (when present and finite) → static config →
// hard-coded default. A missing or unreadable overlay file is not an error;
// it simply contributes nothing.
func (c *Config) ResolveTuning() Tuning {
	t := Tuning{
		TakeProfitPct:   pickFloat(nil, c.Trading.TakeProfitPct, 3),
		StopLossPct:     pickFloat(nil, c.Trading.StopLossPct, 1.5),
		TrailingStopPct: pickFloat(nil, c.Trading.TrailingStopPct, 2),
		Mode:            pickMode(nil, c.Strategy.Mode),
	}

	data, err := os.ReadFile(c.Paths.Dynamic)
	if err != nil {
		return t
	}
	var o overlay
	if err := json.Unmarshal(data, &o); err != nil {
		return t
	}

	t.TakeProfitPct = pickFloat(o.TakeProfit, c.Trading.TakeProfitPct, 3)
	t.StopLossPct = pickFloat(o.StopLoss, c.Trading.StopLossPct, 1.5)
	t.TrailingStopPct = pickFloat(o.TrailingStop, c.Trading.TrailingStopPct, 2)
	t.Mode = pickMode(o.Strategy, c.Strategy.Mode)
	return t
}

func pickFloat(dynamic *float64, static, fallback float64) float64 {
	if dynamic != nil && !math.IsNaN(*dynamic) && !math.IsInf(*dynamic, 0) {
		return *dynamic
	}
	if static > 0 {
		return static
	}
	return fallback
}

func pickMode(dynamic *string, static string) string {
	if dynamic != nil && strings.TrimSpace(*dynamic) != "" {
		return strings.ToLower(strings.TrimSpace(*dynamic))
	}
	if static != "" {
		return strings.ToLower(static)
	}
	return "bollinger"
}

// BotState is the operator enable/disable flag, toggled outside the process
// and read fresh at every cycle start.
type BotState struct {
	Active  bool `json:"active"`
	Verbose bool `json:"verbose"`
}

// DefaultBotState is what a missing state file means: running, quiet.
func DefaultBotState() BotState { return BotState{Active: true} }

// LoadBotState reads the flag file. A missing file yields the default; a
// corrupt file yields the default plus an error so callers can decide to
// keep their previous view instead.
func LoadBotState(path string) (BotState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultBotState(), nil
	}
	if err != nil {
		return DefaultBotState(), fmt.Errorf("read bot state: %w", err)
	}
	var st BotState
	if err := json.Unmarshal(data, &st); err != nil {
		return DefaultBotState(), fmt.Errorf("decode bot state: %w", err)
	}
	return st, nil
}

// SaveBotState writes the flag file; used by the CLI tooling, never by the
// trading loop itself.
func SaveBotState(path string, st BotState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bot state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bot state: %w", err)
	}
	return nil
}
