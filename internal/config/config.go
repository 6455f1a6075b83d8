// Package config loads the validated configuration object the engine and
// backtest binaries receive at startup, in a three-step
// Load/applyEnvOverrides/setDefaults pattern: read YAML, let a handful of
// environment variables override it, fill in defaults, then validate.
// Invalid configuration fails startup rather than limping along with
// guessed values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete, validated configuration for one engine instance.
type Config struct {
	Account    AccountConfig    `yaml:"account"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Queue      QueueConfig      `yaml:"queue"`
	Feeds      []FeedConfig     `yaml:"feeds"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Risk       RiskConfig       `yaml:"risk"`
	RiskOverrides RiskOverridesConfig `yaml:"risk_overrides"`
	Intent     IntentPolicy     `yaml:"intent"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Log        LogConfig        `yaml:"log"`
}

// AccountConfig identifies the account the engine trades under and seeds
// its ledger so the pre-trade risk engine's AccountExposureGuard has
// something to check available balance against.
type AccountConfig struct {
	ID           string                        `yaml:"id"`
	Venue        string                        `yaml:"venue"`
	SeedBalances map[string]map[string]float64 `yaml:"seed_balances"` // venue -> asset -> available
}

// PersistenceConfig selects and configures the event store backend, plus
// the optional snapshot-to-cold-storage cycle: when snapshot_interval_ms
// and archive_bucket are both set, the engine periodically folds the log
// into a compressed snapshot and ships it to the configured S3-compatible
// bucket. Credentials come from S3_ACCESS_KEY / S3_SECRET_KEY in the
// environment, never the config file.
type PersistenceConfig struct {
	Driver                string `yaml:"driver"` // memory | sqlite | duckdb
	DSN                   string `yaml:"dsn"`
	WorkerShutdownTimeoutMs int  `yaml:"worker_shutdown_timeout_ms"`
	SnapshotIntervalMs    int    `yaml:"snapshot_interval_ms"` // 0 disables snapshots
	ArchiveBucket         string `yaml:"archive_bucket"`       // empty disables archiving
	ArchivePrefix         string `yaml:"archive_prefix"`
	ArchiveRegion         string `yaml:"archive_region"`
	ArchiveEndpoint       string `yaml:"archive_endpoint"` // set for S3-compatible stores (MinIO etc.)
}

// ShutdownTimeout returns the worker drain deadline as a time.Duration.
func (p PersistenceConfig) ShutdownTimeout() time.Duration {
	return time.Duration(p.WorkerShutdownTimeoutMs) * time.Millisecond
}

// SnapshotInterval returns the snapshot cadence as a time.Duration.
func (p PersistenceConfig) SnapshotInterval() time.Duration {
	return time.Duration(p.SnapshotIntervalMs) * time.Millisecond
}

// QueueConfig sizes the shared-memory ring buffer and its watermarks.
type QueueConfig struct {
	Capacity        int     `yaml:"capacity"`
	SlotSizeBytes   int     `yaml:"slot_size_bytes"`
	HighWatermark   float64 `yaml:"high_watermark"` // fraction of capacity, e.g. 0.8
	LowWatermark    float64 `yaml:"low_watermark"`  // fraction of capacity, e.g. 0.56
	DequeueBatchMax int     `yaml:"dequeue_batch_max"`
	DequeueWaitMs   int     `yaml:"dequeue_wait_ms"`
}

// FeedConfig describes one market data adapter to construct.
type FeedConfig struct {
	ID             string            `yaml:"id"`
	Kind           string            `yaml:"kind"` // ws | historical
	URL            string            `yaml:"url"`
	Symbols        []string          `yaml:"symbols"`
	ReconnectBase  time.Duration     `yaml:"reconnect_base"`
	ReconnectMax   time.Duration     `yaml:"reconnect_max"`
	ReconnectJitter float64          `yaml:"reconnect_jitter"`
	MaxAttempts    int               `yaml:"max_attempts"` // 0 = unbounded
	Extra          map[string]string `yaml:"extra"`
}

// StrategyConfig is one strategy definition: id, type, trade symbol, feeds,
// params, priority, mode, budget, and exit rules.
type StrategyConfig struct {
	ID                string            `yaml:"id"`
	Type              string            `yaml:"type"` // momentum | pair | arbitrage
	TradeSymbol       string            `yaml:"trade_symbol"`
	Feeds             []string          `yaml:"feeds"`
	Params            map[string]any    `yaml:"params"`
	Priority          int               `yaml:"priority"`
	Mode              string            `yaml:"mode"` // live | sandbox
	BudgetNotionalUsd float64           `yaml:"budget_notional_usd"`
	Exit              ExitRulesConfig   `yaml:"exit"`
}

// ExitRulesConfig configures the exit engine for one strategy.
type ExitRulesConfig struct {
	TPSigma           float64 `yaml:"tp_sigma"`
	SLSigma           float64 `yaml:"sl_sigma"`
	Asymmetric        bool    `yaml:"asymmetric"`
	SigmaLookbackSec  int     `yaml:"sigma_lookback_sec"`
	EpsilonBps        float64 `yaml:"epsilon_bps"`
	CloseOnSignalFlip bool    `yaml:"close_on_signal_flip"`
	MaxHoldMs         int64   `yaml:"max_hold_ms"`
	MinHoldMs         int64   `yaml:"min_hold_ms"`
	InitArmPnLSigma   float64 `yaml:"init_arm_pnl_sigma"`
	RetracePct        float64 `yaml:"retrace_pct"`
}

// RiskConfig is the pre-trade risk engine's limit set.
type RiskConfig struct {
	Notional     float64                 `yaml:"notional"`
	MaxPosition  float64                 `yaml:"max_position"`
	PriceBands   map[string]PriceBand    `yaml:"price_bands"`
	Throttle     ThrottleConfig          `yaml:"throttle"`
	SymbolAssets map[string]SymbolAssets `yaml:"symbol_assets"`
}

// SymbolAssets names the quote and base asset a symbol settles in, so the
// pre-trade risk engine's AccountExposureGuard check knows which ledger
// balance a BUY (quote) or SELL (base) order draws down.
type SymbolAssets struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
}

// PriceBand bounds the reference price a risk-checked order may use.
type PriceBand struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ThrottleConfig limits non-exit approvals per rolling window.
type ThrottleConfig struct {
	WindowMs int `yaml:"window_ms"`
	MaxCount int `yaml:"max_count"`
}

// RiskOverridesConfig gives the exit engine's portfolio-level risk-override
// rule the thresholds beyond which it emits a flatten
// intent rather than waiting for a strategy's own TP/SL/time/trailing
// rules to fire.
type RiskOverridesConfig struct {
	MaxGrossExposure    float64 `yaml:"max_gross_exposure"`
	MaxSymbolExposure   map[string]float64 `yaml:"max_symbol_exposure"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
}

// IntentPolicy configures reference-price selection, fees, cooldowns,
// post-only, and time-in-force for the intent builder.
type IntentPolicy struct {
	Mode            string  `yaml:"mode"` // market | limit | makerPreferred | takerOnDrift
	MinEdgeBps      float64 `yaml:"min_edge_bps"`
	TakerFeeBps     float64 `yaml:"taker_fee_bps"`
	MakerFeeBps     float64 `yaml:"maker_fee_bps"`
	TakerSlipBps    float64 `yaml:"taker_slip_bps"`
	AdverseSelectionBps float64 `yaml:"adverse_selection_bps"`
	LimitOffsetBps  float64 `yaml:"limit_offset_bps"`
	TickSize        float64 `yaml:"tick_size"`
	LotSize         float64 `yaml:"lot_size"`
	NotionalUsd     float64 `yaml:"notional_usd"`
	DefaultQty      float64 `yaml:"default_qty"`
	PostOnly        bool    `yaml:"post_only"`
	TimeInForce     string  `yaml:"time_in_force"` // IOC | FOK | DAY
	CooldownMs      int64   `yaml:"cooldown_ms"`
	DedupeWindowMs  int64   `yaml:"dedupe_window_ms"`
}

// ExecutionConfig configures the retry+circuit-breaker policy wrapper and
// the ack/fill reconciliation loop.
type ExecutionConfig struct {
	Adapter        string               `yaml:"adapter"` // paper | rest
	BaseURL        string               `yaml:"base_url"` // required for adapter=rest
	PaperFeeBps    float64              `yaml:"paper_fee_bps"`
	Retry          RetryConfig          `yaml:"retry"`
	Circuit        CircuitConfig        `yaml:"circuit"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
}

// RetryConfig is the exponential-backoff-with-jitter retry schedule.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	Jitter      float64 `yaml:"jitter"`
}

// CircuitConfig configures the closed/open/half-open breaker.
type CircuitConfig struct {
	FailureThreshold     int `yaml:"failure_threshold"`
	CooldownMs           int `yaml:"cooldown_ms"`
	HalfOpenMaxSuccesses int `yaml:"half_open_max_successes"`
}

// ReconciliationConfig bounds how long an order may sit unacknowledged or
// unfilled before being flagged stale. AutoCancelStale is parsed but not
// read by the execution policy: stale orders are only counted and logged,
// never cancelled, whatever its value.
type ReconciliationConfig struct {
	AckTimeoutMs    int64 `yaml:"ack_timeout_ms"`
	FillTimeoutMs   int64 `yaml:"fill_timeout_ms"`
	AutoCancelStale bool  `yaml:"auto_cancel_stale"`
}

// BacktestConfig overrides engine behavior when running under the
// deterministic replay harness.
type BacktestConfig struct {
	FixturePath      string  `yaml:"fixture_path"`
	StartTimeRFC3339 string  `yaml:"start_time"`
	StartingCapital  float64 `yaml:"starting_capital"`
	PaperFeeBps      float64 `yaml:"paper_fee_bps"`
}

// LogConfig controls the format and level of the process-wide logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, applies .env overrides (if a .env file
// is present) and defaults, validates the result, and returns it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PERSISTENCE_DRIVER"); v != "" {
		cfg.Persistence.Driver = v
	}
	if v := os.Getenv("PERSISTENCE_DSN"); v != "" {
		cfg.Persistence.DSN = v
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		cfg.Account.ID = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = "memory"
	}
	if cfg.Persistence.DSN == "" && cfg.Persistence.Driver == "sqlite" {
		cfg.Persistence.DSN = "tradeflow.db"
	}
	if cfg.Persistence.WorkerShutdownTimeoutMs <= 0 {
		cfg.Persistence.WorkerShutdownTimeoutMs = 2000
	}
	if cfg.Persistence.ArchiveRegion == "" {
		cfg.Persistence.ArchiveRegion = "us-east-1"
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 4096
	}
	if cfg.Queue.SlotSizeBytes <= 0 {
		cfg.Queue.SlotSizeBytes = 2048
	}
	if cfg.Queue.HighWatermark <= 0 {
		cfg.Queue.HighWatermark = 0.8
	}
	if cfg.Queue.LowWatermark <= 0 {
		cfg.Queue.LowWatermark = 0.56
	}
	if cfg.Queue.DequeueBatchMax <= 0 {
		cfg.Queue.DequeueBatchMax = 128
	}
	if cfg.Queue.DequeueWaitMs <= 0 {
		cfg.Queue.DequeueWaitMs = 50
	}
	for i := range cfg.Feeds {
		f := &cfg.Feeds[i]
		if f.ReconnectBase <= 0 {
			f.ReconnectBase = 500 * time.Millisecond
		}
		if f.ReconnectMax <= 0 {
			f.ReconnectMax = 30 * time.Second
		}
		if f.ReconnectJitter <= 0 {
			f.ReconnectJitter = 0.2
		}
	}
	if cfg.Risk.Throttle.WindowMs <= 0 {
		cfg.Risk.Throttle.WindowMs = 1000
	}
	if cfg.Risk.Throttle.MaxCount <= 0 {
		cfg.Risk.Throttle.MaxCount = 10
	}
	if cfg.Intent.Mode == "" {
		cfg.Intent.Mode = "market"
	}
	if cfg.Intent.TickSize <= 0 {
		cfg.Intent.TickSize = 0.0001
	}
	if cfg.Intent.LotSize <= 0 {
		cfg.Intent.LotSize = 0.0001
	}
	if cfg.Intent.TimeInForce == "" {
		cfg.Intent.TimeInForce = "IOC"
	}
	if cfg.Execution.Adapter == "" {
		cfg.Execution.Adapter = "paper"
	}
	if cfg.Account.Venue == "" {
		cfg.Account.Venue = "primary"
	}
	if cfg.Execution.Retry.MaxAttempts <= 0 {
		cfg.Execution.Retry.MaxAttempts = 5
	}
	if cfg.Execution.Retry.BaseDelayMs <= 0 {
		cfg.Execution.Retry.BaseDelayMs = 200
	}
	if cfg.Execution.Retry.MaxDelayMs <= 0 {
		cfg.Execution.Retry.MaxDelayMs = 10000
	}
	if cfg.Execution.Retry.Jitter <= 0 {
		cfg.Execution.Retry.Jitter = 0.2
	}
	if cfg.Execution.Circuit.FailureThreshold <= 0 {
		cfg.Execution.Circuit.FailureThreshold = 5
	}
	if cfg.Execution.Circuit.CooldownMs <= 0 {
		cfg.Execution.Circuit.CooldownMs = 5000
	}
	if cfg.Execution.Circuit.HalfOpenMaxSuccesses <= 0 {
		cfg.Execution.Circuit.HalfOpenMaxSuccesses = 3
	}
	if cfg.Execution.Reconciliation.AckTimeoutMs <= 0 {
		cfg.Execution.Reconciliation.AckTimeoutMs = 5000
	}
	if cfg.Execution.Reconciliation.FillTimeoutMs <= 0 {
		cfg.Execution.Reconciliation.FillTimeoutMs = 30000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate rejects a configuration whose values would produce undefined
// behavior downstream instead of letting each component guess.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	switch c.Persistence.Driver {
	case "memory", "sqlite", "duckdb":
	default:
		return fmt.Errorf("persistence.driver %q is not one of memory|sqlite|duckdb", c.Persistence.Driver)
	}
	if c.Persistence.Driver != "memory" && c.Persistence.DSN == "" {
		return fmt.Errorf("persistence.dsn is required for driver %q", c.Persistence.Driver)
	}
	if c.Persistence.SnapshotIntervalMs < 0 {
		return fmt.Errorf("persistence.snapshot_interval_ms must be >= 0")
	}
	if c.Persistence.ArchiveBucket != "" && c.Persistence.SnapshotIntervalMs == 0 {
		return fmt.Errorf("persistence.archive_bucket requires persistence.snapshot_interval_ms > 0")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be > 0")
	}
	if c.Queue.SlotSizeBytes <= 4 {
		return fmt.Errorf("queue.slot_size_bytes must be > 4 (length prefix overhead)")
	}
	for _, f := range c.Feeds {
		if f.ID == "" {
			return fmt.Errorf("feed with empty id")
		}
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		switch s.Type {
		case "momentum", "pair", "arbitrage":
		default:
			return fmt.Errorf("strategy %q: unknown type %q", s.ID, s.Type)
		}
		if s.Mode != "" && s.Mode != "live" && s.Mode != "sandbox" {
			return fmt.Errorf("strategy %q: mode must be live|sandbox, got %q", s.ID, s.Mode)
		}
	}
	switch c.Intent.Mode {
	case "market", "limit", "makerPreferred", "takerOnDrift":
	default:
		return fmt.Errorf("intent.mode %q is not one of market|limit|makerPreferred|takerOnDrift", c.Intent.Mode)
	}
	switch c.Intent.TimeInForce {
	case "IOC", "FOK", "DAY":
	default:
		return fmt.Errorf("intent.time_in_force %q is not one of IOC|FOK|DAY", c.Intent.TimeInForce)
	}
	if c.Risk.MaxPosition < 0 || c.Risk.Notional < 0 {
		return fmt.Errorf("risk.notional and risk.max_position must be >= 0")
	}
	switch c.Execution.Adapter {
	case "paper", "rest":
	default:
		return fmt.Errorf("execution.adapter %q is not one of paper|rest", c.Execution.Adapter)
	}
	if c.Execution.Adapter == "rest" && c.Execution.BaseURL == "" {
		return fmt.Errorf("execution.base_url is required for adapter=rest")
	}
	return nil
}
