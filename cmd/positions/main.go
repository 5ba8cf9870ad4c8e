// Command positions prints the persisted position ledger and running stats,
// for inspecting bot state without touching the exchange.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/sebaoww/bybit-futures-bot/internal/config"
	"github.com/sebaoww/bybit-futures-bot/internal/ledger"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	book, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		os.Exit(1)
	}

	open := book.Snapshot()
	if len(open) == 0 {
		fmt.Println("no open positions")
	} else {
		symbols := make([]string, 0, len(open))
		for sym := range open {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			rec := open[sym]
			fmt.Printf("%-12s %-5s qty=%-10v entry=%-12.4f peak=%-12.4f opened=%s\n",
				sym, rec.Side, rec.Quantity, rec.EntryPrice, rec.TrailingPeak,
				rec.OpenedAt.Format("2006-01-02 15:04:05"))
		}
	}

	stats, err := ledger.NewStatsFile(cfg.Paths.Stats).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nlongs=%d shorts=%d closed=%d totalGain=%.2f%%\n",
		stats.LongCount, stats.ShortCount, stats.ClosedCount, stats.TotalGain)
}
