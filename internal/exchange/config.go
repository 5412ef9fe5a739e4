package exchange

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Supported adapter drivers.
const (
	// DriverStream speaks a binance-compatible websocket trade stream with a
	// REST API for markets, trades and tickers.
	DriverStream = "stream"
	// DriverRest has no stream support; trades are polled over REST.
	DriverRest = "rest"
)

// Settings configures one exchange endpoint.
type Settings struct {
	Driver  string `yaml:"driver"`
	WSURL   string `yaml:"ws_url"`
	RestURL string `yaml:"rest_url"`
	// WatchMulti overrides multi-symbol stream capability. Some venues
	// misbehave on combined streams, so it can be forced off per exchange,
	// which routes them to the per-symbol strategy.
	WatchMulti *bool `yaml:"watch_multi"`
}

// Config is the exchange endpoint catalog loaded from exchanges.yaml.
type Config struct {
	Exchanges map[string]Settings `yaml:"exchanges"`
}

// LoadConfig reads and validates the exchange endpoint configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse exchange config %s: %w", path, err)
	}

	for name, settings := range cfg.Exchanges {
		switch settings.Driver {
		case DriverStream:
			if settings.WSURL == "" || settings.RestURL == "" {
				return nil, fmt.Errorf("exchange %s: stream driver requires ws_url and rest_url", name)
			}
		case DriverRest:
			if settings.RestURL == "" {
				return nil, fmt.Errorf("exchange %s: rest driver requires rest_url", name)
			}
		default:
			return nil, fmt.Errorf("exchange %s: unknown driver %q", name, settings.Driver)
		}
	}

	return &cfg, nil
}

// Lookup returns the settings for an exchange, if configured.
func (c *Config) Lookup(name string) (Settings, bool) {
	s, ok := c.Exchanges[name]
	return s, ok
}
