// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/broker/paper"
	"github.com/tathienbao/ocogrid/internal/comment"
	"github.com/tathienbao/ocogrid/internal/engine"
	"github.com/tathienbao/ocogrid/internal/execution"
	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/risk"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Entry       EntryConfig       `yaml:"entry"`
	Execution   ExecutionConfig   `yaml:"execution"`
	History     HistoryConfig     `yaml:"history"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Paper       PaperConfig       `yaml:"paper"`
}

// InstrumentConfig selects the traded symbol.
type InstrumentConfig struct {
	Symbol string `yaml:"symbol"`
}

// StrategyConfig holds grid and sizing settings.
type StrategyConfig struct {
	Systems       []SystemConfig `yaml:"systems"`
	GridPips      float64        `yaml:"grid_pips"`
	BaseLot       float64        `yaml:"base_lot"`
	MaxLot        float64        `yaml:"max_lot"` // 0 disables the user cap
	CommentPrefix string         `yaml:"comment_prefix"`
	CommentMaxLen int            `yaml:"comment_max_len"`
	OCOOffsetPips float64        `yaml:"oco_offset_pips"`
	RepricePips   float64        `yaml:"reprice_threshold_pips"`
	InitialEntry  bool           `yaml:"initial_entry"`
	Magic         int            `yaml:"magic"`
}

// SystemConfig describes one logical system.
type SystemConfig struct {
	Tag         string `yaml:"tag"`
	InitialSide string `yaml:"initial_side"` // buy | sell
}

// EntryConfig holds entry gate settings.
type EntryConfig struct {
	SpreadCheck        bool    `yaml:"spread_check"`
	MaxSpreadPips      float64 `yaml:"max_spread_pips"`
	MarketDistanceBand bool    `yaml:"market_distance_band"`
	ShadowDistanceBand bool    `yaml:"shadow_distance_band"`
	MinDistancePips    float64 `yaml:"min_distance_pips"`
	MaxDistancePips    float64 `yaml:"max_distance_pips"`
}

// ExecutionConfig holds execution settings.
type ExecutionConfig struct {
	MaxRetries         int     `yaml:"max_retries"`
	RetryDelayMs       int     `yaml:"retry_delay_ms"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	ProtectedLimit     bool    `yaml:"protected_limit"`
	SlippagePips       float64 `yaml:"slippage_pips"`
	Unprotected        string  `yaml:"unprotected_slippage"` // unlimited | zero
	OrderTimeoutSec    int     `yaml:"order_timeout_sec"`
}

// HistoryConfig holds closed-trade processing settings.
type HistoryConfig struct {
	Tolerance   string `yaml:"tolerance"` // half_pip | full_pip
	LookbackMin int    `yaml:"lookback_min"`
}

// CycleConfig holds cycle loop settings.
type CycleConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec               int  `yaml:"timeout_sec"`
	ClosePositionsOnShutdown bool `yaml:"close_positions_on_shutdown"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Port              int    `yaml:"port"`
	Path              string `yaml:"path"`
	StaleThresholdSec int    `yaml:"stale_threshold_sec"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug | info | warn | error
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// PaperConfig holds paper venue settings.
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	StartPrice     float64 `yaml:"start_price"`
	SpreadPips     float64 `yaml:"spread_pips"`
	VolatilityPips float64 `yaml:"volatility_pips"` // Random walk step per tick
	TickMs         int     `yaml:"tick_ms"`
	CommentLimit   int     `yaml:"comment_limit"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate fills defaults and validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Instrument
	if c.Instrument.Symbol == "" {
		c.Instrument.Symbol = types.InstrumentEURUSD.Symbol
	}
	if _, ok := types.GetInstrument(c.Instrument.Symbol); !ok {
		errs = append(errs, fmt.Sprintf("instrument.symbol '%s' is not supported", c.Instrument.Symbol))
	}

	// Strategy
	if len(c.Strategy.Systems) == 0 {
		c.Strategy.Systems = []SystemConfig{
			{Tag: "A", InitialSide: "buy"},
			{Tag: "B", InitialSide: "sell"},
		}
	}
	seen := make(map[string]bool, len(c.Strategy.Systems))
	for i, sys := range c.Strategy.Systems {
		if err := strategy.ValidateSystemTag(sys.Tag); err != nil {
			errs = append(errs, fmt.Sprintf("strategy.systems[%d]: %v", i, err))
		}
		if seen[sys.Tag] {
			errs = append(errs, fmt.Sprintf("strategy.systems[%d]: tag '%s' is configured twice", i, sys.Tag))
		}
		seen[sys.Tag] = true
		if _, ok := parseSide(sys.InitialSide); !ok {
			errs = append(errs, fmt.Sprintf("strategy.systems[%d].initial_side must be 'buy' or 'sell'", i))
		}
	}
	if c.Strategy.GridPips <= 0 {
		errs = append(errs, "strategy.grid_pips must be positive")
	}
	if c.Strategy.BaseLot <= 0 {
		errs = append(errs, "strategy.base_lot must be positive")
	}
	if c.Strategy.MaxLot < 0 {
		errs = append(errs, "strategy.max_lot must not be negative")
	}
	if c.Strategy.OCOOffsetPips <= 0 {
		c.Strategy.OCOOffsetPips = 10 // default
	}
	if c.Strategy.RepricePips < 0 {
		errs = append(errs, "strategy.reprice_threshold_pips must not be negative")
	}
	if c.Strategy.CommentMaxLen < 0 {
		errs = append(errs, "strategy.comment_max_len must not be negative")
	}
	if c.Strategy.CommentPrefix == "" {
		c.Strategy.CommentPrefix = comment.DefaultPrefix
	}
	if strings.Contains(c.Strategy.CommentPrefix, "_") {
		errs = append(errs, "strategy.comment_prefix must not contain '_'")
	}

	// Entry
	if c.Entry.MaxSpreadPips < 0 {
		errs = append(errs, "entry.max_spread_pips must not be negative")
	}
	if c.Entry.MinDistancePips < 0 || c.Entry.MaxDistancePips < 0 {
		errs = append(errs, "entry distance band bounds must not be negative")
	}
	if c.Entry.MaxDistancePips > 0 && c.Entry.MaxDistancePips < c.Entry.MinDistancePips {
		errs = append(errs, "entry.max_distance_pips must not be below min_distance_pips")
	}

	// Execution
	if c.Execution.MaxRetries < 0 {
		c.Execution.MaxRetries = 2 // default
	}
	if c.Execution.RetryDelayMs < 0 {
		errs = append(errs, "execution.retry_delay_ms must not be negative")
	}
	if c.Execution.OrderTimeoutSec <= 0 {
		c.Execution.OrderTimeoutSec = 5 // default
	}
	if c.Execution.SlippagePips < 0 {
		errs = append(errs, "execution.slippage_pips must not be negative")
	}
	if c.Execution.Unprotected == "" {
		c.Execution.Unprotected = string(execution.UnprotectedUnlimited)
	}
	if !execution.UnprotectedMode(c.Execution.Unprotected).Valid() {
		errs = append(errs, "execution.unprotected_slippage must be 'unlimited' or 'zero'")
	}

	// History
	if c.History.Tolerance == "" {
		c.History.Tolerance = string(history.ToleranceHalfPip)
	}
	if !history.ToleranceMode(c.History.Tolerance).Valid() {
		errs = append(errs, "history.tolerance must be 'half_pip' or 'full_pip'")
	}
	if c.History.LookbackMin < 0 {
		errs = append(errs, "history.lookback_min must not be negative")
	}

	// Cycle
	if c.Cycle.IntervalMs <= 0 {
		c.Cycle.IntervalMs = 1000 // default
	}

	// Shutdown
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30 // default
	}

	// Persistence
	if c.Persistence.Enabled {
		if c.Persistence.Type == "" {
			c.Persistence.Type = "sqlite"
		}
		if c.Persistence.Type != "sqlite" {
			errs = append(errs, "persistence.type must be 'sqlite'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	}

	// Alerting
	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram needs bot_token and chat_id", i))
			}
		case "console":
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type '%s' is not supported", i, ch.Type))
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, "metrics.port must be between 1 and 65535")
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}
	if c.Metrics.StaleThresholdSec <= 0 {
		c.Metrics.StaleThresholdSec = 30 // default
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB <= 0 {
			c.Logging.MaxSizeMB = 100
		}
		if c.Logging.MaxBackups <= 0 {
			c.Logging.MaxBackups = 5
		}
		if c.Logging.MaxAgeDays <= 0 {
			c.Logging.MaxAgeDays = 30
		}
	}

	// Paper
	if c.Paper.InitialBalance <= 0 {
		c.Paper.InitialBalance = 10000
	}
	if c.Paper.StartPrice <= 0 {
		c.Paper.StartPrice = 1.1
	}
	if c.Paper.SpreadPips <= 0 {
		c.Paper.SpreadPips = 1
	}
	if c.Paper.VolatilityPips <= 0 {
		c.Paper.VolatilityPips = 2
	}
	if c.Paper.TickMs <= 0 {
		c.Paper.TickMs = 500
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func parseSide(s string) (types.Side, bool) {
	side, ok := types.ParseSide(strings.ToUpper(s))
	if !ok || side == types.SideFlat {
		return types.SideFlat, false
	}
	return side, true
}

// InstrumentSpec returns the configured instrument.
func (c *Config) InstrumentSpec() types.Instrument {
	inst, _ := types.GetInstrument(c.Instrument.Symbol)
	return inst
}

// ToCodec builds the comment codec.
func (c *Config) ToCodec() *comment.Codec {
	return comment.NewCodec(c.Strategy.CommentPrefix, c.Strategy.CommentMaxLen)
}

// ToLotSizer builds the lot sizer for the configured instrument.
func (c *Config) ToLotSizer() *risk.LotSizer {
	limits := risk.LimitsForInstrument(c.InstrumentSpec(), decimal.NewFromFloat(c.Strategy.MaxLot))
	return risk.NewLotSizer(decimal.NewFromFloat(c.Strategy.BaseLot), limits)
}

// ToGateConfig converts to strategy.GateConfig.
func (c *Config) ToGateConfig() strategy.GateConfig {
	return strategy.GateConfig{
		SpreadCheck:        c.Entry.SpreadCheck,
		MaxSpreadPips:      decimal.NewFromFloat(c.Entry.MaxSpreadPips),
		MarketDistanceBand: c.Entry.MarketDistanceBand,
		ShadowDistanceBand: c.Entry.ShadowDistanceBand,
		MinDistancePips:    decimal.NewFromFloat(c.Entry.MinDistancePips),
		MaxDistancePips:    decimal.NewFromFloat(c.Entry.MaxDistancePips),
	}
}

// ToSlippagePolicy converts to execution.SlippagePolicy.
func (c *Config) ToSlippagePolicy() execution.SlippagePolicy {
	return execution.SlippagePolicy{
		ProtectedLimit: c.Execution.ProtectedLimit,
		SlippagePips:   decimal.NewFromFloat(c.Execution.SlippagePips),
		Unprotected:    execution.UnprotectedMode(c.Execution.Unprotected),
	}
}

// ToRetryConfig converts to execution.RetryConfig.
func (c *Config) ToRetryConfig() execution.RetryConfig {
	burst := int(c.Execution.RateLimitPerSecond)
	if burst < 1 {
		burst = 1
	}
	return execution.RetryConfig{
		MaxRetries:        c.Execution.MaxRetries,
		RetryDelay:        c.RetryDelay(),
		RequestsPerSecond: c.Execution.RateLimitPerSecond,
		Burst:             burst,
		OrderTimeout:      c.OrderTimeout(),
	}
}

// ToEngineConfig converts to engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	systems := make([]engine.SystemConfig, 0, len(c.Strategy.Systems))
	for _, sys := range c.Strategy.Systems {
		side, _ := parseSide(sys.InitialSide)
		systems = append(systems, engine.SystemConfig{Tag: sys.Tag, InitialSide: side})
	}

	return engine.Config{
		Systems:         systems,
		GridPips:        decimal.NewFromFloat(c.Strategy.GridPips),
		OCOOffsetPips:   decimal.NewFromFloat(c.Strategy.OCOOffsetPips),
		RepricePips:     decimal.NewFromFloat(c.Strategy.RepricePips),
		Tolerance:       history.ToleranceMode(c.History.Tolerance),
		HistoryLookback: time.Duration(c.History.LookbackMin) * time.Minute,
		CycleInterval:   c.CycleInterval(),
		InitialEntry:    c.Strategy.InitialEntry,
		CloseOnShutdown: c.Shutdown.ClosePositionsOnShutdown,
		Magic:           c.Strategy.Magic,
	}
}

// ToPaperConfig converts to paper.Config.
func (c *Config) ToPaperConfig() paper.Config {
	cfg := paper.DefaultConfig()
	cfg.Instrument = c.InstrumentSpec()
	cfg.InitialBalance = decimal.NewFromFloat(c.Paper.InitialBalance)
	if c.Paper.CommentLimit > 0 {
		cfg.CommentLimit = c.Paper.CommentLimit
	}
	return cfg
}

// OrderTimeout returns the order timeout duration.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Execution.OrderTimeoutSec) * time.Second
}

// RetryDelay returns the retry delay duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Execution.RetryDelayMs) * time.Millisecond
}

// CycleInterval returns the cycle interval duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Cycle.IntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// StaleThreshold returns how long without a cycle the bot reports unhealthy.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Metrics.StaleThresholdSec) * time.Second
}

// TickInterval returns the paper quote tick interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Paper.TickMs) * time.Millisecond
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
