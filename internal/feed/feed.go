// Package feed defines the feed identifiers, value/volume result types and the
// ValueProvider interface served by the HTTP layer. Concrete providers are the
// live exchange engine plus the fixed and random test feeds.
package feed

import (
	"context"
	"fmt"
)

// Feed categories as used in the catalog file.
const (
	CategoryNone = iota
	CategoryCrypto
	CategoryFX
	CategoryCommodity
	CategoryStock
)

// ID identifies a logical feed, e.g. {1, "BTC/USD"}. Equality is structural.
type ID struct {
	Category int    `json:"category"`
	Name     string `json:"name"`
}

// UsdtToUsd is the reserved feed used for USDT quote conversion. The catalog
// must always contain sources for it.
var UsdtToUsd = ID{Category: CategoryCrypto, Name: "USDT/USD"}

// Key returns the registry key for the feed.
func (id ID) Key() string {
	return fmt.Sprintf("%d:%s", id.Category, id.Name)
}

func (id ID) String() string {
	return id.Key()
}

// ValueData is a single feed value result. Value is nil when no viable samples
// exist; absence is a structural result, not an error.
type ValueData struct {
	Feed  ID       `json:"feed"`
	Value *float64 `json:"value"`
}

// ExchangeVolume is the rolling traded volume contributed by one exchange,
// denominated in the quote currency.
type ExchangeVolume struct {
	Exchange string  `json:"exchange"`
	Volume   float64 `json:"volume"`
}

// VolumeData holds the per-exchange volumes for one feed.
type VolumeData struct {
	Feed    ID               `json:"feed"`
	Volumes []ExchangeVolume `json:"volumes"`
}

// ValueProvider is the query surface consumed by the HTTP layer.
type ValueProvider interface {
	// GetValue returns the current aggregated value for one feed.
	GetValue(ctx context.Context, id ID) (ValueData, error)
	// GetValues returns values for all feeds, in input order.
	GetValues(ctx context.Context, ids []ID) ([]ValueData, error)
	// GetVolumes returns per-exchange rolling volumes over the given window.
	GetVolumes(ctx context.Context, ids []ID, windowSec int) ([]VolumeData, error)
}
