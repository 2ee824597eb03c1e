package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for palisade.
type Config struct {
	Logging    Logging    `yaml:"logging"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Trading    Trading    `yaml:"trading"`
	Indicators Indicators `yaml:"indicators"`
	Risk       Risk       `yaml:"risk"`
	Adaptive   Adaptive   `yaml:"adaptive"`
	Recorder   Recorder   `yaml:"recorder"`
	Export     Export     `yaml:"export"`
	Databricks Databricks `yaml:"databricks"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed" validate:"oneof=iex sip"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"gte=0"`
}

// Trading defines the ticker universe and execution parameters for the
// stop-loss run.
type Trading struct {
	Tickers        []string `yaml:"tickers"`
	DryRun         bool     `yaml:"dry_run"`
	Schedule       string   `yaml:"schedule"`
	LookbackDays   int      `yaml:"lookback_days" validate:"gt=0"`
	MaxRetries     int      `yaml:"max_retries" validate:"gte=1"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
}

// Indicators holds the periods for the indicator engine.
type Indicators struct {
	SMAPeriod            int     `yaml:"sma_period" validate:"gt=0"`
	EMAPeriod            int     `yaml:"ema_period" validate:"gt=0"`
	ATRPeriod            int     `yaml:"atr_period" validate:"gt=0"`
	ChandelierPeriod     int     `yaml:"chandelier_period" validate:"gt=0"`
	ChandelierMultiplier float64 `yaml:"chandelier_multiplier" validate:"gt=0"`
}

// Risk defines the hard caps applied before any order action is finalized.
type Risk struct {
	MaxPositionSize float64 `yaml:"max_position_size" validate:"gt=0"`
	MaxDailyTrades  int     `yaml:"max_daily_trades" validate:"gte=0"`
	MinPrice        float64 `yaml:"min_price" validate:"gte=0"`
}

// Adaptive tunes the optional profit/loss-aware stop refinement.
type Adaptive struct {
	Enabled            bool    `yaml:"enabled"`
	BreakevenEMAPeriod int     `yaml:"breakeven_ema_period" validate:"gt=0"`
	ProfitThreshold    float64 `yaml:"profit_threshold" validate:"gte=0"`
	LossThreshold      float64 `yaml:"loss_threshold" validate:"lte=0"`
	MaxLossPercent     float64 `yaml:"max_loss_percent" validate:"gte=0,lte=1"`
	BreakevenBuffer    float64 `yaml:"breakeven_buffer" validate:"gte=0"`
}

// Recorder configures run bookkeeping. An empty path disables recording.
type Recorder struct {
	Path string `yaml:"path"`
}

// Export configures the filled-order export pipeline.
type Export struct {
	OutputDir        string `yaml:"output_dir"`
	CutoffDate       string `yaml:"cutoff_date" validate:"omitempty,datetime=2006-01-02"`
	IncludeCancelled bool   `yaml:"include_cancelled"`
	MaxOrdersPerFile int    `yaml:"max_orders_per_file" validate:"gt=0"`
	ArchiveDir       string `yaml:"archive_dir"`
}

// Databricks holds the warehouse upload target. JobID 0 disables the job
// trigger; an empty host disables uploads entirely.
type Databricks struct {
	Host       string `yaml:"host"`
	Token      string `yaml:"token"`
	VolumePath string `yaml:"volume_path"`
	JobID      int64  `yaml:"job_id" validate:"gte=0"`
}

// Duration wraps time.Duration so YAML values like "2s" decode cleanly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Load reads the YAML configuration file at the given path, fills defaults,
// applies environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills zero-valued fields with working defaults so a minimal
// config file stays minimal.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.DataURL == "" {
		cfg.Alpaca.DataURL = "https://data.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 180
	}

	if cfg.Trading.LookbackDays == 0 {
		cfg.Trading.LookbackDays = 60
	}
	if cfg.Trading.MaxRetries == 0 {
		cfg.Trading.MaxRetries = 3
	}
	if cfg.Trading.RetryBaseDelay == 0 {
		cfg.Trading.RetryBaseDelay = Duration(2 * time.Second)
	}

	if cfg.Indicators.SMAPeriod == 0 {
		cfg.Indicators.SMAPeriod = 20
	}
	if cfg.Indicators.EMAPeriod == 0 {
		cfg.Indicators.EMAPeriod = 10
	}
	if cfg.Indicators.ATRPeriod == 0 {
		cfg.Indicators.ATRPeriod = 14
	}
	if cfg.Indicators.ChandelierPeriod == 0 {
		cfg.Indicators.ChandelierPeriod = 22
	}
	if cfg.Indicators.ChandelierMultiplier == 0 {
		cfg.Indicators.ChandelierMultiplier = 3.0
	}

	if cfg.Risk.MaxPositionSize == 0 {
		cfg.Risk.MaxPositionSize = 10000
	}
	if cfg.Risk.MaxDailyTrades == 0 {
		cfg.Risk.MaxDailyTrades = 10
	}
	if cfg.Risk.MinPrice == 0 {
		cfg.Risk.MinPrice = 1.0
	}

	if cfg.Adaptive.BreakevenEMAPeriod == 0 {
		cfg.Adaptive.BreakevenEMAPeriod = 5
	}
	if cfg.Adaptive.ProfitThreshold == 0 {
		cfg.Adaptive.ProfitThreshold = 0.05
	}
	if cfg.Adaptive.LossThreshold == 0 {
		cfg.Adaptive.LossThreshold = -0.03
	}
	if cfg.Adaptive.MaxLossPercent == 0 {
		cfg.Adaptive.MaxLossPercent = 0.05
	}
	if cfg.Adaptive.BreakevenBuffer == 0 {
		cfg.Adaptive.BreakevenBuffer = 0.01
	}

	if cfg.Export.OutputDir == "" {
		cfg.Export.OutputDir = "output"
	}
	if cfg.Export.MaxOrdersPerFile == 0 {
		cfg.Export.MaxOrdersPerFile = 1000
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("PALISADE_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.DryRun = b
		}
	}
	if v := os.Getenv("PALISADE_DB"); v != "" {
		cfg.Recorder.Path = v
	}

	if v := os.Getenv("DATABRICKS_HOST"); v != "" {
		cfg.Databricks.Host = v
	}
	if v := os.Getenv("DATABRICKS_TOKEN"); v != "" {
		cfg.Databricks.Token = v
	}

	// Canonical Alpaca env var names win over everything else.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Per-binary validation
// ---------------------------------------------------------------------------

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateTrading checks the fields the stop-loss run depends on. Kept out of
// Load so the export and history binaries can run without a ticker universe.
func (c *Config) ValidateTrading() error {
	if len(c.Trading.Tickers) == 0 {
		return fmt.Errorf("trading.tickers must list at least one symbol")
	}
	for _, t := range c.Trading.Tickers {
		if t == "" {
			return fmt.Errorf("trading.tickers contains an empty symbol")
		}
	}
	if c.Trading.Schedule != "" {
		if _, err := cronParser.Parse(c.Trading.Schedule); err != nil {
			return fmt.Errorf("invalid trading.schedule %q: %w", c.Trading.Schedule, err)
		}
	}
	if c.Trading.LookbackDays <= c.Indicators.ChandelierPeriod {
		return fmt.Errorf("trading.lookback_days (%d) must exceed indicators.chandelier_period (%d)",
			c.Trading.LookbackDays, c.Indicators.ChandelierPeriod)
	}
	return nil
}

// ValidateExport checks the fields the export pipeline depends on.
func (c *Config) ValidateExport() error {
	if c.Export.OutputDir == "" {
		return fmt.Errorf("export.output_dir must be set")
	}
	if c.Databricks.Host != "" && c.Databricks.Token == "" {
		return fmt.Errorf("databricks.host is set but databricks.token is empty")
	}
	return nil
}
