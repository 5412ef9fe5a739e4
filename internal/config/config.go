// Package config consolidates all environment configuration into a single
// immutable struct built once in main and passed by reference.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/openfeeds/feedprovider/internal/engine"
)

// Provider implementation selectors for VALUE_PROVIDER_IMPL.
const (
	ImplCcxt   = "ccxt"
	ImplFixed  = "fixed"
	ImplRandom = "random"
)

// Config is the process configuration.
type Config struct {
	// Impl selects the value provider implementation (ccxt, fixed, random).
	Impl string
	// Port is the HTTP listen port.
	Port int
	// Network switches the feed catalog file (prod, local-test).
	Network string
	// MedianDecay is the weighted-median lambda per millisecond.
	MedianDecay float64
	// TradesHistorySize bounds per-adapter in-memory trade buffers.
	TradesHistorySize int
	// LogLevel is the zerolog level name.
	LogLevel string
	// ConfigDir holds feeds.json / test-feeds.json / exchanges.yaml.
	ConfigDir string
}

// FromEnv builds the configuration from environment variables, applying
// defaults for anything unset or unparsable.
func FromEnv() Config {
	return Config{
		Impl:              envString("VALUE_PROVIDER_IMPL", ImplCcxt),
		Port:              envInt("VALUE_PROVIDER_CLIENT_PORT", 3101),
		Network:           envString("NETWORK", "prod"),
		MedianDecay:       envFloat("MEDIAN_DECAY", engine.DefaultLambda),
		TradesHistorySize: envInt("TRADES_HISTORY_SIZE", engine.DefaultTradesHistorySize),
		LogLevel:          envString("LOG_LEVEL", "info"),
		ConfigDir:         envString("CONFIG_DIR", "config"),
	}
}

// FeedCatalogPath returns the feed catalog file for the selected network.
func (c Config) FeedCatalogPath() string {
	name := "feeds.json"
	if c.Network == "local-test" {
		name = "test-feeds.json"
	}
	return filepath.Join(c.ConfigDir, name)
}

// ExchangeConfigPath returns the exchange endpoint configuration file.
func (c Config) ExchangeConfigPath() string {
	return filepath.Join(c.ConfigDir, "exchanges.yaml")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
