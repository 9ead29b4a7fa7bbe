package config

import (
	"testing"

	"github.com/spf13/viper"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshaling defaults: %v", err)
	}
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Account.StartingEquityBalance != 100000 {
		t.Errorf("starting equity balance = %v, want 100000", cfg.Account.StartingEquityBalance)
	}
	if cfg.Account.StartingFnoBalance != 200000 {
		t.Errorf("starting fno balance = %v, want 200000", cfg.Account.StartingFnoBalance)
	}

	nifty, ok := cfg.IndexFor("NIFTY")
	if !ok {
		t.Fatal("NIFTY index missing from defaults")
	}
	if nifty.StrikeInterval != 50 || nifty.LotSize != 50 || nifty.TimeValue != 20 {
		t.Errorf("NIFTY spec = %+v", nifty)
	}
	if _, ok := cfg.IndexFor("BANKNIFTY"); !ok {
		t.Error("BANKNIFTY index missing from defaults")
	}
	if _, ok := cfg.IndexFor("FINNIFTY"); ok {
		t.Error("unexpected FINNIFTY index")
	}

	if cfg.Quotes["RELIANCE"] != 2500 {
		t.Errorf("demo quote for RELIANCE = %v, want 2500", cfg.Quotes["RELIANCE"])
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative starting balance", func(c *Config) { c.Account.StartingEquityBalance = -1 }},
		{"margin percent zero", func(c *Config) { c.Fno.MarginPercent = 0 }},
		{"margin percent one", func(c *Config) { c.Fno.MarginPercent = 1 }},
		{"min premium zero", func(c *Config) { c.Fno.MinPremium = 0 }},
		{"zero strike interval", func(c *Config) {
			c.Indexes["NIFTY"] = IndexSpec{StrikeInterval: 0, LotSize: 50}
		}},
		{"zero lot size", func(c *Config) {
			c.Indexes["NIFTY"] = IndexSpec{StrikeInterval: 50, LotSize: 0}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
