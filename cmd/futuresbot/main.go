package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sebaoww/bybit-futures-bot/internal/config"
	"github.com/sebaoww/bybit-futures-bot/internal/exchange"
	"github.com/sebaoww/bybit-futures-bot/internal/ledger"
	"github.com/sebaoww/bybit-futures-bot/internal/metrics"
	"github.com/sebaoww/bybit-futures-bot/internal/notify"
	"github.com/sebaoww/bybit-futures-bot/internal/risk"
	"github.com/sebaoww/bybit-futures-bot/internal/trader"
	"github.com/sebaoww/bybit-futures-bot/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fallback := util.NewLogger("info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if cfg.App.Env == "dev" {
		log = util.NewConsoleLogger(cfg.App.LogLevel)
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = notify.New(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram init")
		}
	}

	book, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Paths.Ledger).Msg("open position ledger")
	}

	client := exchange.New(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret, log)

	var stream *exchange.PriceStream
	if cfg.Exchange.WSEnabled {
		stream = exchange.NewPriceStream(cfg.Exchange.WSUrl, cfg.Exchange.Symbols, 0, log)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("price stream stopped")
			}
		}()
	}

	disc := exchange.NewDiscovery(log, client, cfg.Exchange.Symbols, cfg.Exchange.Discovery)
	disc.Start(ctx)

	stats := ledger.NewStatsFile(cfg.Paths.Stats)
	trades := ledger.NewTradeLog(cfg.Paths.TradeLog)
	limits := risk.Limits{MaxNotionalPerTrade: cfg.Trading.NotionalUSD * cfg.Trading.Leverage}

	ctrl := trader.NewController(log, client, book, stats, trades, notifier, limits)
	sched := trader.NewScheduler(log, cfg, ctrl, client, stream, disc, book, notifier)

	log.Info().Bool("live", cfg.Trading.Live).Strs("symbols", cfg.Exchange.Symbols).Msg("bot started")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("scheduler stopped")
	}
	log.Info().Msg("shutting down")
}
