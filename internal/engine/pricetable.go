package engine

import (
	"sync"
	"time"
)

// PriceSample is one (value, time, exchange) observation.
type PriceSample struct {
	Value    float64
	TimeMS   int64
	Exchange string
}

// PriceTable maps symbol -> exchange -> latest price sample. Writes for a
// given (symbol, exchange) come from a single ingestor goroutine; readers are
// the aggregator query paths.
type PriceTable struct {
	mu       sync.RWMutex
	bySymbol map[string]map[string]PriceSample
}

func NewPriceTable() *PriceTable {
	return &PriceTable{bySymbol: make(map[string]map[string]PriceSample)}
}

// Set records the latest price for (symbol, exchange). Callers have already
// checked timestamp monotonicity; a non-positive tsMS defaults to now.
func (t *PriceTable) Set(exchangeName, symbol string, price float64, tsMS int64) {
	if tsMS <= 0 {
		tsMS = time.Now().UnixMilli()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prices, ok := t.bySymbol[symbol]
	if !ok {
		prices = make(map[string]PriceSample)
		t.bySymbol[symbol] = prices
	}
	prices[exchangeName] = PriceSample{Value: price, TimeMS: tsMS, Exchange: exchangeName}
}

// Get returns the latest sample for (symbol, exchange), if any.
func (t *PriceTable) Get(symbol, exchangeName string) (PriceSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sample, ok := t.bySymbol[symbol][exchangeName]
	return sample, ok
}
