// Package config exposes strongly typed application configuration loaded
// from YAML, with exchange and Telegram credentials taken from the
// environment and operator-adjustable overrides layered on top at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Discovery configures automatic selection of the most liquid perpetuals.
type Discovery struct {
	Enabled            bool    `yaml:"enabled"`
	TopN               int     `yaml:"top_n"`
	MinTurnoverUSD     float64 `yaml:"min_turnover_usd"`
	RefreshIntervalMin int     `yaml:"refresh_interval_min"`
}

// Exchange describes Bybit connectivity.
type Exchange struct {
	BaseURL   string    `yaml:"base_url"`
	WSUrl     string    `yaml:"ws_url"`
	WSEnabled bool      `yaml:"ws_enabled"`
	Testnet   bool      `yaml:"testnet"`
	Symbols   []string  `yaml:"symbols"`
	Discovery Discovery `yaml:"discovery"`

	// Populated from the environment, never from YAML.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Telegram holds notifier settings; token and chat id come from the
// environment.
type Telegram struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"-"`
	ChatID  int64  `yaml:"-"`
}

// Trading groups the sizing and exit parameters of the position lifecycle.
type Trading struct {
	Interval        string  `yaml:"interval"`
	ConfirmInterval string  `yaml:"confirm_interval"`
	CandleLimit     int     `yaml:"candle_limit"`
	NotionalUSD     float64 `yaml:"notional_usd"`
	Leverage        float64 `yaml:"leverage"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
	MinBarsGap      int     `yaml:"min_bars_gap"`
	Live            bool    `yaml:"live"`
	CycleSeconds    int     `yaml:"cycle_seconds"`
}

// Strategy selects the evaluator variant and its tunables.
type Strategy struct {
	Mode string `yaml:"mode"`
}

// Paths collects every file the bot persists or watches.
type Paths struct {
	Ledger   string `yaml:"ledger"`
	Stats    string `yaml:"stats"`
	TradeLog string `yaml:"trade_log"`
	Dynamic  string `yaml:"dynamic"`
	BotState string `yaml:"bot_state"`
}

// Config collects every configuration leaf for easy unmarshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Telegram Telegram `yaml:"telegram"`
	Trading  Trading  `yaml:"trading"`
	Strategy Strategy `yaml:"strategy"`
	Paths    Paths    `yaml:"paths"`
}

// Load reads a YAML file from disk, hydrates a Config, applies defaults,
// and overlays credentials from the environment.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Save persists a Config struct to disk as YAML. Credentials are never
// written back.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.MetricsAddr == "" {
		c.App.MetricsAddr = ":9109"
	}
	if c.Exchange.BaseURL == "" {
		if c.Exchange.Testnet {
			c.Exchange.BaseURL = "https://api-testnet.bybit.com"
		} else {
			c.Exchange.BaseURL = "https://api.bybit.com"
		}
	}
	if c.Exchange.WSUrl == "" {
		if c.Exchange.Testnet {
			c.Exchange.WSUrl = "wss://stream-testnet.bybit.com/v5/public/linear"
		} else {
			c.Exchange.WSUrl = "wss://stream.bybit.com/v5/public/linear"
		}
	}
	if c.Exchange.Discovery.TopN <= 0 {
		c.Exchange.Discovery.TopN = 20
	}
	if c.Exchange.Discovery.MinTurnoverUSD <= 0 {
		c.Exchange.Discovery.MinTurnoverUSD = 100_000
	}
	if c.Exchange.Discovery.RefreshIntervalMin <= 0 {
		c.Exchange.Discovery.RefreshIntervalMin = 12 * 60
	}
	if c.Trading.Interval == "" {
		c.Trading.Interval = "5"
	}
	if c.Trading.CandleLimit <= 0 {
		c.Trading.CandleLimit = 100
	}
	if c.Trading.NotionalUSD <= 0 {
		c.Trading.NotionalUSD = 10
	}
	if c.Trading.Leverage <= 0 {
		c.Trading.Leverage = 3
	}
	if c.Trading.TakeProfitPct <= 0 {
		c.Trading.TakeProfitPct = 3
	}
	if c.Trading.StopLossPct <= 0 {
		c.Trading.StopLossPct = 1.5
	}
	if c.Trading.TrailingStopPct <= 0 {
		c.Trading.TrailingStopPct = 2
	}
	if c.Trading.MinBarsGap <= 0 {
		c.Trading.MinBarsGap = 3
	}
	if c.Trading.CycleSeconds <= 0 {
		c.Trading.CycleSeconds = 300
	}
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "bollinger"
	}
	if c.Paths.Ledger == "" {
		c.Paths.Ledger = "data/entries.json"
	}
	if c.Paths.Stats == "" {
		c.Paths.Stats = "data/stats.json"
	}
	if c.Paths.TradeLog == "" {
		c.Paths.TradeLog = "data/trades.log"
	}
	if c.Paths.Dynamic == "" {
		c.Paths.Dynamic = "data/dynamic.json"
	}
	if c.Paths.BotState == "" {
		c.Paths.BotState = "data/botstate.json"
	}
}

func (c *Config) applyEnv() {
	c.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
	c.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")
	c.Telegram.Token = os.Getenv("BOT_TOKEN")
	if chat, err := strconv.ParseInt(os.Getenv("CHAT_ID"), 10, 64); err == nil {
		c.Telegram.ChatID = chat
	}
}
