// Package ledger is the single source of truth for open positions. Records
// live in a JSON file keyed by symbol; every mutation is persisted with an
// atomic write before it returns, so a crash between cycles never loses a
// confirmed open or close.
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

// Record is one open position. Field names in the persisted file are fixed:
// entryPrice, quantity, type, trailingPeak, timestamp.
type Record struct {
	EntryPrice   float64     `json:"entryPrice"`
	Quantity     float64     `json:"quantity"`
	Side         market.Side `json:"type"`
	TrailingPeak float64     `json:"trailingPeak"`
	OpenedAt     time.Time   `json:"timestamp"`
}

// Book is the file-backed position map. All methods are safe for concurrent
// use; writes are serialized under the mutex.
type Book struct {
	mu      sync.Mutex
	path    string
	entries map[string]Record
}

// Open loads the book from path. A missing file means every symbol starts
// flat; a present but unreadable file is an error, because trading over
// unknown exposure is worse than refusing to start.
func Open(path string) (*Book, error) {
	b := &Book{path: path, entries: make(map[string]Record)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &b.entries); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return b, nil
}

// Get returns the record for symbol and whether one exists.
func (b *Book) Get(symbol string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.entries[symbol]
	return rec, ok
}

// Put stores the record and persists the book before returning.
func (b *Book) Put(symbol string, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[symbol] = rec
	return b.persistLocked()
}

// Remove deletes the record and persists the book before returning.
// Removing an absent symbol is a no-op.
func (b *Book) Remove(symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[symbol]; !ok {
		return nil
	}
	delete(b.entries, symbol)
	return b.persistLocked()
}

// Snapshot returns a copy of the current map.
func (b *Book) Snapshot() map[string]Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Record, len(b.entries))
	for sym, rec := range b.entries {
		out[sym] = rec
	}
	return out
}

// Len reports the number of open positions.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Book) persistLocked() error {
	data, err := json.MarshalIndent(b.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	return atomicWrite(b.path, data)
}

// atomicWrite lands data at path via a temp file in the same directory,
// fsynced before the rename, so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
