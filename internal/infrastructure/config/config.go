package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/zono819/hyperliquid-dryrun/internal/usecase/paper"
	"github.com/zono819/hyperliquid-dryrun/internal/usecase/risk"
)

// Config represents application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Paper    PaperConfig    `yaml:"paper"`
	Risk     RiskConfig     `yaml:"risk"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// AppConfig represents application settings
type AppConfig struct {
	Name        string        `yaml:"name"`
	Environment string        `yaml:"environment"`
	Debug       bool          `yaml:"debug"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// ExchangeConfig represents exchange connection settings
type ExchangeConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	WSURL   string        `yaml:"ws_url"`
	Testnet bool          `yaml:"testnet"`
	Timeout time.Duration `yaml:"timeout"`
}

// PaperConfig represents the simulated venue settings
type PaperConfig struct {
	Symbols        []string      `yaml:"symbols"`
	Feed           string        `yaml:"feed"` // "poll" or "ws"
	PollInterval   time.Duration `yaml:"poll_interval"`
	InitialBalance float64       `yaml:"initial_balance"`
	Leverage       float64       `yaml:"leverage"`
	FeeRate        float64       `yaml:"fee_rate"`
	SlippageRate   float64       `yaml:"slippage_rate"`
}

// RiskConfig represents risk management settings
type RiskConfig struct {
	MaxDailyLoss       float64       `yaml:"max_daily_loss"`
	MaxConsecutiveLoss int           `yaml:"max_consecutive_loss"`
	Cooldown           time.Duration `yaml:"cooldown"`
}

// JournalConfig represents trade journal settings
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// MetricsConfig represents Prometheus exporter settings
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// LogConfig represents logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // file path; stdout only when empty
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the settings used for keys the YAML file leaves out.
// Zero is a valid balance and fee rate, so those defaults are applied
// before parsing rather than by validate.
func Default() *Config {
	return &Config{
		Paper: PaperConfig{
			InitialBalance: 10000,
			FeeRate:        0.0005,
		},
	}
}

// Load loads configuration from YAML file with .env and env overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// Load from YAML file
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	cfg.loadEnvOverrides()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides overrides config with environment variables
func (c *Config) loadEnvOverrides() {
	// Exchange settings
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		c.Exchange.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_WS_URL"); v != "" {
		c.Exchange.WSURL = v
	}
	if v := os.Getenv("EXCHANGE_TESTNET"); v != "" {
		c.Exchange.Testnet = v == "true" || v == "1"
	}

	// App settings
	if v := os.Getenv("APP_ENVIRONMENT"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		c.App.Debug = v == "true" || v == "1"
	}

	// Log settings
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	// Paper settings
	if v := os.Getenv("PAPER_SYMBOLS"); v != "" {
		c.Paper.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("PAPER_FEED"); v != "" {
		c.Paper.Feed = v
	}
	envFloat("PAPER_INITIAL_BALANCE", &c.Paper.InitialBalance)
	envFloat("PAPER_LEVERAGE", &c.Paper.Leverage)
	envFloat("PAPER_FEE_RATE", &c.Paper.FeeRate)
	envFloat("PAPER_SLIPPAGE_RATE", &c.Paper.SlippageRate)

	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// validate validates configuration and fills defaults
func (c *Config) validate() error {
	if c.App.Name == "" {
		c.App.Name = "hyperliquid-dryrun"
	}
	if c.App.GracePeriod <= 0 {
		c.App.GracePeriod = 5 * time.Second
	}
	if c.Exchange.Timeout <= 0 {
		c.Exchange.Timeout = 30 * time.Second
	}

	for i, s := range c.Paper.Symbols {
		c.Paper.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.Paper.Symbols) == 0 {
		return fmt.Errorf("paper.symbols is required")
	}
	switch c.Paper.Feed {
	case "":
		c.Paper.Feed = "poll"
	case "poll", "ws":
	default:
		return fmt.Errorf("paper.feed must be poll or ws, got %q", c.Paper.Feed)
	}
	if c.Paper.PollInterval <= 0 {
		c.Paper.PollInterval = 5 * time.Second
	}
	if c.Paper.Leverage <= 0 {
		c.Paper.Leverage = 1.0 // default
	}
	if err := c.PaperEngine().Validate(); err != nil {
		return fmt.Errorf("paper: %w", err)
	}

	if c.Risk.MaxConsecutiveLoss <= 0 {
		c.Risk.MaxConsecutiveLoss = 3
	}
	if c.Risk.Cooldown <= 0 {
		c.Risk.Cooldown = 5 * time.Minute
	}
	return nil
}

// LogLevel returns the configured level, forced to debug by app.debug
func (c *Config) LogLevel() string {
	if c.App.Debug {
		return "debug"
	}
	return c.Log.Level
}

// PaperEngine converts the paper section into engine parameters
func (c *Config) PaperEngine() *paper.Config {
	return &paper.Config{
		InitialBalance: decimal.NewFromFloat(c.Paper.InitialBalance),
		Leverage:       decimal.NewFromFloat(c.Paper.Leverage),
		FeeRate:        decimal.NewFromFloat(c.Paper.FeeRate),
		SlippageRate:   decimal.NewFromFloat(c.Paper.SlippageRate),
	}
}

// RiskChecker converts the risk section into checker parameters
func (c *Config) RiskChecker() *risk.Config {
	return &risk.Config{
		MaxDailyLoss:       decimal.NewFromFloat(c.Risk.MaxDailyLoss),
		MaxConsecutiveLoss: c.Risk.MaxConsecutiveLoss,
		CooldownDuration:   c.Risk.Cooldown,
	}
}
