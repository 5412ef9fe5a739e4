package feed

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Source is one exchange+symbol pair contributing samples to a feed. Symbol is
// exchange-native, e.g. "BTC/USDT".
type Source struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// Config maps a feed to its ordered, non-empty source list.
type Config struct {
	Feed    ID       `json:"feed"`
	Sources []Source `json:"sources"`
}

// Registry holds the feed catalog, loaded once at startup and immutable after.
type Registry struct {
	configs []Config
	byKey   map[string]Config
}

// LoadRegistry reads the JSON catalog at path and validates it. The catalog
// must contain an entry for USDT/USD, which anchors quote conversion.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed catalog: %w", err)
	}

	var configs []Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse feed catalog %s: %w", path, err)
	}

	reg, err := NewRegistry(configs)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(configs))
	for _, cfg := range configs {
		names = append(names, cfg.Feed.Name)
	}
	log.Info().Strs("feeds", names).Msg("Feed catalog loaded")

	return reg, nil
}

// NewRegistry builds a registry from in-memory configs, applying the same
// validation as LoadRegistry.
func NewRegistry(configs []Config) (*Registry, error) {
	reg := &Registry{
		configs: configs,
		byKey:   make(map[string]Config, len(configs)),
	}

	hasUsdt := false
	for _, cfg := range configs {
		if len(cfg.Sources) == 0 {
			return nil, fmt.Errorf("feed %s has no sources", cfg.Feed)
		}
		if cfg.Feed == UsdtToUsd {
			hasUsdt = true
		}
		reg.byKey[cfg.Feed.Key()] = cfg
	}
	if !hasUsdt {
		return nil, fmt.Errorf("catalog must provide %s sources, used for USD conversion", UsdtToUsd.Name)
	}
	return reg, nil
}

// Lookup returns the config for a feed id, if present.
func (r *Registry) Lookup(id ID) (Config, bool) {
	cfg, ok := r.byKey[id.Key()]
	return cfg, ok
}

// Configs returns all feed configs in catalog order.
func (r *Registry) Configs() []Config {
	return r.configs
}
