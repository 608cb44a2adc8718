// Package config loads exchange settings from an optional YAML file
// with environment variables layered on top, the same precedence
// chycee-CryptoGo's infra.LoadConfig uses for its exchange credentials
// (env overrides file, never the reverse — so a secret committed to a
// config file can still be rotated without a redeploy).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every setting cmd/server needs to boot. Field names
// mirror AMOORCHING-ATMX/cmd/server/main.go's env reads
// (DATABASE_URL, REDIS_URL, PORT) plus the exchange-specific knobs
// the teacher hard-coded inline (fee bps, default tick size).
type Config struct {
	Host             string `yaml:"host"`
	Port             string `yaml:"port"`
	DatabaseURL      string `yaml:"database_url"`
	RedisURL         string `yaml:"redis_url"`
	LogLevel         string `yaml:"log_level"`
	TakerFeeBps      int    `yaml:"taker_fee_bps"`
	DefaultTickCents int    `yaml:"default_tick_cents"`
}

func defaults() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             "8080",
		LogLevel:         "info",
		TakerFeeBps:      100,
		DefaultTickCents: 1,
	}
}

// Load reads path if it exists (a missing file is not an error — the
// exchange runs fine on env vars and defaults alone, same as the
// teacher's main.go which never required a config file), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TAKER_FEE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TakerFeeBps = n
		}
	}
	if v := os.Getenv("DEFAULT_TICK_CENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTickCents = n
		}
	}
}

// Validate rejects settings that would make every market unplaceable.
func (c *Config) Validate() error {
	if c.TakerFeeBps < 0 || c.TakerFeeBps > 10_000 {
		return fmt.Errorf("taker_fee_bps must be 0-10000, got %d", c.TakerFeeBps)
	}
	if c.DefaultTickCents < 1 || c.DefaultTickCents > 98 {
		return fmt.Errorf("default_tick_cents must be 1-98, got %d", c.DefaultTickCents)
	}
	return nil
}
