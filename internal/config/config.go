// Package config provides configuration management for the simulator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig       `mapstructure:"database"`
	Account  AccountConfig        `mapstructure:"account"`
	Fno      FnoConfig            `mapstructure:"fno"`
	Logging  LoggingConfig        `mapstructure:"logging"`
	Kite     KiteConfig           `mapstructure:"kite"`
	Quotes   map[string]float64   `mapstructure:"quotes"` // demo-mode seed quotes
	Indexes  map[string]IndexSpec `mapstructure:"indexes"`
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AccountConfig holds the fixed starting balances granted at signup.
type AccountConfig struct {
	StartingEquityBalance float64 `mapstructure:"starting_equity_balance"`
	StartingFnoBalance    float64 `mapstructure:"starting_fno_balance"`
}

// FnoConfig holds option-trading parameters shared across indexes.
type FnoConfig struct {
	MarginPercent float64 `mapstructure:"margin_percent"` // fraction of premium value
	MinPremium    float64 `mapstructure:"min_premium"`    // floor, no contract prices at zero
	StrikeCount   int     `mapstructure:"strike_count"`   // strikes each side of ATM
}

// IndexSpec holds per-index contract parameters.
type IndexSpec struct {
	StrikeInterval  float64 `mapstructure:"strike_interval"`
	TimeValue       float64 `mapstructure:"time_value"`
	LotSize         int     `mapstructure:"lot_size"`
	MinMarginPerLot float64 `mapstructure:"min_margin_per_lot"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// KiteConfig holds optional Kite Connect credentials for a live price
// feed. When empty the simulator runs on seeded quotes.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tradesim"
	}
	return filepath.Join(home, ".config", "tradesim")
}

func setDefaults(v *viper.Viper) {
	dir := DefaultConfigDir()

	v.SetDefault("database.path", filepath.Join(dir, "tradesim.db"))

	v.SetDefault("account.starting_equity_balance", 100000.0)
	v.SetDefault("account.starting_fno_balance", 200000.0)

	v.SetDefault("fno.margin_percent", 0.20)
	v.SetDefault("fno.min_premium", 0.05)
	v.SetDefault("fno.strike_count", 10)

	v.SetDefault("indexes", map[string]interface{}{
		"NIFTY": map[string]interface{}{
			"strike_interval":    50.0,
			"time_value":         20.0,
			"lot_size":           50,
			"min_margin_per_lot": 1500.0,
		},
		"BANKNIFTY": map[string]interface{}{
			"strike_interval":    100.0,
			"time_value":         40.0,
			"lot_size":           15,
			"min_margin_per_lot": 2500.0,
		},
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(dir, "logs", "tradesim.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("quotes", map[string]interface{}{
		"RELIANCE":  2500.0,
		"TCS":       3650.0,
		"INFY":      1480.0,
		"HDFCBANK":  1610.0,
		"ICICIBANK": 1120.0,
		"SBIN":      810.0,
		"NIFTY":     19500.0,
		"BANKNIFTY": 44800.0,
	})
}

// Load reads configuration from the config directory, falling back to
// defaults when no file is present.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(DefaultConfigDir())
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRADESIM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Account.StartingEquityBalance < 0 || c.Account.StartingFnoBalance < 0 {
		return fmt.Errorf("starting balances must be non-negative")
	}
	if c.Fno.MarginPercent <= 0 || c.Fno.MarginPercent >= 1 {
		return fmt.Errorf("fno.margin_percent must be in (0, 1), got %.2f", c.Fno.MarginPercent)
	}
	if c.Fno.MinPremium <= 0 {
		return fmt.Errorf("fno.min_premium must be positive")
	}
	for name, idx := range c.Indexes {
		if idx.StrikeInterval <= 0 {
			return fmt.Errorf("index %s: strike_interval must be positive", name)
		}
		if idx.LotSize <= 0 {
			return fmt.Errorf("index %s: lot_size must be positive", name)
		}
	}
	return nil
}

// IndexFor returns the spec for an index, if configured.
func (c *Config) IndexFor(underlying string) (IndexSpec, bool) {
	spec, ok := c.Indexes[underlying]
	return spec, ok
}
