// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package config loads run configuration from a YAML file and environment
// variables via Viper. The file path comes from the CLI's --config flag;
// KRYPTOSTEUER_-prefixed environment variables overlay file values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is every setting the engine's run needs beyond what a single CLI
// invocation's flags supply directly.
type Config struct {
	FromYear int `mapstructure:"from_year" yaml:"from_year"`
	ToYear   int `mapstructure:"to_year" yaml:"to_year"`

	OutputDir    string `mapstructure:"output_dir" yaml:"output_dir"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"` // csv | human | json

	KrakenBaseURL    string        `mapstructure:"kraken_base_url" yaml:"kraken_base_url"`
	CoinGeckoBaseURL string        `mapstructure:"coingecko_base_url" yaml:"coingecko_base_url"`
	PriceCacheTTL    time.Duration `mapstructure:"price_cache_ttl" yaml:"price_cache_ttl"`

	// OtherIncomeThresholdEUR overrides the statutory §22 Nr. 3 Freigrenze
	// when non-empty.
	OtherIncomeThresholdEUR string `mapstructure:"other_income_threshold_eur" yaml:"other_income_threshold_eur"`

	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
}

// Default returns the engine's built-in defaults, used when no config file
// is present.
func Default() *Config {
	now := time.Now().Year()
	return &Config{
		FromYear:         now - 1,
		ToYear:           now,
		OutputDir:        ".",
		OutputFormat:     "csv",
		KrakenBaseURL:    "https://api.kraken.com",
		CoinGeckoBaseURL: "https://api.coingecko.com",
		PriceCacheTTL:    24 * time.Hour,
	}
}

// Load reads configuration from the given file path (if non-empty), then
// overlays environment variables prefixed KRYPTOSTEUER_, matching Viper's
// precedence order: explicit Set > flag > env > config file > default.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KRYPTOSTEUER")
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("from_year", cfg.FromYear)
	v.SetDefault("to_year", cfg.ToYear)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("output_format", cfg.OutputFormat)
	v.SetDefault("kraken_base_url", cfg.KrakenBaseURL)
	v.SetDefault("coingecko_base_url", cfg.CoinGeckoBaseURL)
	v.SetDefault("price_cache_ttl", cfg.PriceCacheTTL)
	v.SetDefault("other_income_threshold_eur", "")
	v.SetDefault("verbose", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as a YAML file Load can read back. The TTL
// is rendered in duration notation ("24h0m0s") rather than raw nanoseconds
// so the file stays hand-editable.
func (c *Config) Save(path string) error {
	doc := struct {
		FromYear                int    `yaml:"from_year"`
		ToYear                  int    `yaml:"to_year"`
		OutputDir               string `yaml:"output_dir"`
		OutputFormat            string `yaml:"output_format"`
		KrakenBaseURL           string `yaml:"kraken_base_url"`
		CoinGeckoBaseURL        string `yaml:"coingecko_base_url"`
		PriceCacheTTL           string `yaml:"price_cache_ttl"`
		OtherIncomeThresholdEUR string `yaml:"other_income_threshold_eur,omitempty"`
		Verbose                 bool   `yaml:"verbose"`
	}{
		FromYear:                c.FromYear,
		ToYear:                  c.ToYear,
		OutputDir:               c.OutputDir,
		OutputFormat:            c.OutputFormat,
		KrakenBaseURL:           c.KrakenBaseURL,
		CoinGeckoBaseURL:        c.CoinGeckoBaseURL,
		PriceCacheTTL:           c.PriceCacheTTL.String(),
		OtherIncomeThresholdEUR: c.OtherIncomeThresholdEUR,
		Verbose:                 c.Verbose,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
