package util

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	if got := NewLogger("debug").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", got)
	}
	if got := NewLogger("WARN").GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", got)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	if got := NewLogger("not-a-level").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", got)
	}
	if got := NewLogger("").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info for empty level, got %s", got)
	}
}
