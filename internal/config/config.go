package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Cooldown  CooldownConfig  `yaml:"cooldown"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RecvWindow time.Duration `yaml:"recv_window"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StrategyConfig holds the static strategy settings. Tunable parameters
// (periods, thresholds, exit percentages) may be overridden at runtime
// through the state store; see strategy.ParamCache.
type StrategyConfig struct {
	Mode                  string        `yaml:"mode"`
	Symbols               []string      `yaml:"symbols"`
	QuoteAsset            string        `yaml:"quote_asset"`
	AutoDiscover          bool          `yaml:"auto_discover"`
	DiscoverLimit         int           `yaml:"discover_limit"`
	SymbolRefreshInterval time.Duration `yaml:"symbol_refresh_interval"`
	LoopInterval          time.Duration `yaml:"loop_interval"`
	InterOrderDelay       time.Duration `yaml:"inter_order_delay"`
	CandleInterval        string        `yaml:"candle_interval"`
	CandleLimit           int           `yaml:"candle_limit"`
	BiasInterval          string        `yaml:"bias_interval"`
	TriggerInterval       string        `yaml:"trigger_interval"`
	ConfirmInterval       string        `yaml:"confirm_interval"`
	ParamRefreshInterval  time.Duration `yaml:"param_refresh_interval"`
}

type RiskConfig struct {
	MaxOpenPositions      int     `yaml:"max_open_positions"`
	RiskPerTradePct       float64 `yaml:"risk_per_trade_pct"`
	MaxCapitalPct         float64 `yaml:"max_capital_pct"`
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	TakeProfitPct         float64 `yaml:"take_profit_pct"`
	TrailingEnabled       bool    `yaml:"trailing_enabled"`
	TrailingActivationPct float64 `yaml:"trailing_activation_pct"`
	TrailingDistancePct   float64 `yaml:"trailing_distance_pct"`
	MinNotionalBuffer     float64 `yaml:"min_notional_buffer"`
}

type CooldownConfig struct {
	StopLoss   time.Duration `yaml:"stop_loss"`
	TakeProfit time.Duration `yaml:"take_profit"`
	ManualSell time.Duration `yaml:"manual_sell"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.binance.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindow == 0 {
		cfg.REST.RecvWindow = 5 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/spot-trend-bot.db"
	}
	if cfg.Strategy.Mode == "" {
		cfg.Strategy.Mode = "threshold"
	}
	if cfg.Strategy.QuoteAsset == "" {
		cfg.Strategy.QuoteAsset = "USDT"
	}
	if cfg.Strategy.DiscoverLimit == 0 {
		cfg.Strategy.DiscoverLimit = 10
	}
	if cfg.Strategy.SymbolRefreshInterval == 0 {
		cfg.Strategy.SymbolRefreshInterval = 15 * time.Minute
	}
	if cfg.Strategy.LoopInterval == 0 {
		cfg.Strategy.LoopInterval = time.Minute
	}
	if cfg.Strategy.InterOrderDelay == 0 {
		cfg.Strategy.InterOrderDelay = 500 * time.Millisecond
	}
	if cfg.Strategy.CandleInterval == "" {
		cfg.Strategy.CandleInterval = "15m"
	}
	if cfg.Strategy.CandleLimit == 0 {
		cfg.Strategy.CandleLimit = 200
	}
	if cfg.Strategy.BiasInterval == "" {
		cfg.Strategy.BiasInterval = "4h"
	}
	if cfg.Strategy.TriggerInterval == "" {
		cfg.Strategy.TriggerInterval = "1h"
	}
	if cfg.Strategy.ConfirmInterval == "" {
		cfg.Strategy.ConfirmInterval = "15m"
	}
	if cfg.Strategy.ParamRefreshInterval == 0 {
		cfg.Strategy.ParamRefreshInterval = 5 * time.Minute
	}
	if cfg.Risk.MaxOpenPositions == 0 {
		cfg.Risk.MaxOpenPositions = 1
	}
	if cfg.Risk.RiskPerTradePct == 0 {
		cfg.Risk.RiskPerTradePct = 1
	}
	if cfg.Risk.MaxCapitalPct == 0 {
		cfg.Risk.MaxCapitalPct = 50
	}
	if cfg.Risk.StopLossPct == 0 {
		cfg.Risk.StopLossPct = 2
	}
	if cfg.Risk.TakeProfitPct == 0 {
		cfg.Risk.TakeProfitPct = 4
	}
	if cfg.Risk.TrailingActivationPct == 0 {
		cfg.Risk.TrailingActivationPct = 1.5
	}
	if cfg.Risk.TrailingDistancePct == 0 {
		cfg.Risk.TrailingDistancePct = 1
	}
	if cfg.Risk.MinNotionalBuffer == 0 {
		cfg.Risk.MinNotionalBuffer = 1.1
	}
	if cfg.Cooldown.StopLoss == 0 {
		cfg.Cooldown.StopLoss = 4 * time.Hour
	}
	if cfg.Cooldown.TakeProfit == 0 {
		cfg.Cooldown.TakeProfit = time.Hour
	}
	if cfg.Cooldown.ManualSell == 0 {
		cfg.Cooldown.ManualSell = 2 * time.Hour
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9180"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.Strategy.Mode {
	case "threshold", "macd_mtf":
	default:
		return fmt.Errorf("strategy.mode must be threshold or macd_mtf, got %q", cfg.Strategy.Mode)
	}
	if len(cfg.Strategy.Symbols) == 0 && !cfg.Strategy.AutoDiscover {
		return errors.New("strategy.symbols is required unless strategy.auto_discover is set")
	}
	if cfg.Risk.RiskPerTradePct <= 0 || cfg.Risk.RiskPerTradePct > 100 {
		return errors.New("risk.risk_per_trade_pct must be in (0, 100]")
	}
	if cfg.Risk.MaxCapitalPct <= 0 || cfg.Risk.MaxCapitalPct > 100 {
		return errors.New("risk.max_capital_pct must be in (0, 100]")
	}
	if cfg.Risk.StopLossPct <= 0 {
		return errors.New("risk.stop_loss_pct must be > 0")
	}
	if cfg.Risk.TakeProfitPct <= 0 {
		return errors.New("risk.take_profit_pct must be > 0")
	}
	if cfg.Risk.MinNotionalBuffer <= 1 {
		return errors.New("risk.min_notional_buffer must be > 1")
	}
	return nil
}
