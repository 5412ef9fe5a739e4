// Package engine implements the live price/volume aggregation engine: one
// trade ingestor per exchange feeding a price table and per-second volume
// rings, and a read path computing time-decayed weighted medians on demand.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfeeds/feedprovider/internal/exchange"
	"github.com/openfeeds/feedprovider/internal/feed"
	"github.com/openfeeds/feedprovider/internal/metrics"
	"github.com/openfeeds/feedprovider/internal/retry"
)

const (
	// DefaultLambda is the weighted-median decay per millisecond of staleness.
	DefaultLambda = 5e-5
	// DefaultTradesHistorySize bounds per-adapter in-memory trade buffers.
	DefaultTradesHistorySize = 1000

	marketLoadRetries = 2
	marketLoadBackoff = 10 * time.Second
)

// AdapterFactory builds the adapter for a named exchange.
type AdapterFactory func(name string) (exchange.Adapter, error)

// Options configures an Engine. Registry and Adapters are required.
type Options struct {
	Registry *feed.Registry
	Adapters AdapterFactory
	// Lambda overrides the median decay; zero means DefaultLambda.
	Lambda float64
	// NowMS overrides the wall clock, for tests.
	NowMS func() int64
}

// Engine owns the price table, volume rings and exchange adapters, and serves
// the feed.ValueProvider query surface.
type Engine struct {
	log      zerolog.Logger
	registry *feed.Registry
	factory  AdapterFactory
	lambda   float64
	nowMS    func() int64

	prices  *PriceTable
	volumes *volumeMap

	mu             sync.Mutex
	adapters       map[string]exchange.Adapter
	fetchAttempted map[string]struct{}

	runCtx      context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	initialized atomic.Bool
}

func New(opts Options) *Engine {
	lambda := opts.Lambda
	if lambda == 0 {
		lambda = DefaultLambda
	}
	nowMS := opts.NowMS
	if nowMS == nil {
		nowMS = func() int64 { return time.Now().UnixMilli() }
	}

	return &Engine{
		log:            log.With().Str("component", "engine").Logger(),
		registry:       opts.Registry,
		factory:        opts.Adapters,
		lambda:         lambda,
		nowMS:          nowMS,
		prices:         NewPriceTable(),
		volumes:        newVolumeMap(),
		adapters:       make(map[string]exchange.Adapter),
		fetchAttempted: make(map[string]struct{}),
	}
}

// Start connects the configured exchanges, loads their markets and spawns one
// trade ingestor per surviving adapter. Exchanges that fail to construct or to
// load markets are dropped with a warning; they never abort startup.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx = ctx
	e.cancel = cancel

	exchangeSymbols := e.collectSymbols()

	names := make([]string, 0, len(exchangeSymbols))
	for name := range exchangeSymbols {
		names = append(names, name)
	}
	e.log.Info().Strs("exchanges", names).Msg("Connecting to exchanges")

	for name := range exchangeSymbols {
		adapter, err := e.factory(name)
		if err != nil {
			e.log.Warn().Err(err).Str("exchange", name).Msg("Failed to initialize exchange, ignoring")
			delete(exchangeSymbols, name)
			continue
		}
		e.mu.Lock()
		e.adapters[name] = adapter
		e.mu.Unlock()
	}

	e.loadAllMarkets(ctx, exchangeSymbols)

	live := 0
	for name, symbols := range exchangeSymbols {
		e.mu.Lock()
		adapter := e.adapters[name]
		e.mu.Unlock()
		if adapter == nil {
			continue
		}

		watchable := make([]string, 0, len(symbols))
		markets := adapter.Markets()
		for _, symbol := range symbols {
			if _, ok := markets[symbol]; !ok {
				e.log.Warn().Str("exchange", name).Str("symbol", symbol).Msg("Market not found, skipping symbol")
				continue
			}
			watchable = append(watchable, symbol)
		}
		if len(watchable) == 0 {
			e.log.Warn().Str("exchange", name).Msg("No watchable symbols, skipping exchange")
			continue
		}

		in := &ingestor{engine: e, adapter: adapter, symbols: watchable}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			in.run(ctx)
		}()
		live++
	}
	metrics.LiveExchanges.Set(float64(live))

	e.initialized.Store(true)
	e.log.Info().Int("exchanges", live).Msg("Initialization done, watching trades")
	return nil
}

// Stop cancels all ingestors and closes adapter connections. Queries after
// Stop return absent values.
func (e *Engine) Stop() {
	e.initialized.Store(false)
	if e.cancel != nil {
		e.cancel()
	}

	e.mu.Lock()
	for name, adapter := range e.adapters {
		if err := adapter.Close(); err != nil {
			e.log.Warn().Err(err).Str("exchange", name).Msg("Failed to close adapter")
		}
	}
	e.mu.Unlock()

	e.wg.Wait()
	metrics.LiveExchanges.Set(0)
	e.log.Info().Msg("Engine stopped")
}

// collectSymbols merges the catalog's source lists into exchange -> symbols.
func (e *Engine) collectSymbols() map[string][]string {
	seen := make(map[string]map[string]struct{})
	for _, cfg := range e.registry.Configs() {
		for _, source := range cfg.Sources {
			symbols, ok := seen[source.Exchange]
			if !ok {
				symbols = make(map[string]struct{})
				seen[source.Exchange] = symbols
			}
			symbols[source.Symbol] = struct{}{}
		}
	}

	out := make(map[string][]string, len(seen))
	for name, symbols := range seen {
		list := make([]string, 0, len(symbols))
		for symbol := range symbols {
			list = append(list, symbol)
		}
		out[name] = list
	}
	return out
}

// loadAllMarkets loads market catalogs concurrently with bounded retry and
// drops adapters that fail.
func (e *Engine) loadAllMarkets(ctx context.Context, exchangeSymbols map[string][]string) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := make([]string, 0)

	e.mu.Lock()
	adapters := make(map[string]exchange.Adapter, len(e.adapters))
	for name, adapter := range e.adapters {
		adapters[name] = adapter
	}
	e.mu.Unlock()

	for name, adapter := range adapters {
		wg.Add(1)
		go func(name string, adapter exchange.Adapter) {
			defer wg.Done()
			err := retry.Do(ctx, marketLoadRetries, marketLoadBackoff, adapter.LoadMarkets)
			if err != nil {
				e.log.Warn().Err(err).Str("exchange", name).Msg("Failed to load markets, dropping exchange")
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
				return
			}
			e.log.Info().Str("exchange", name).Msg("Exchange initialized successfully")
		}(name, adapter)
	}
	wg.Wait()

	for _, name := range failed {
		delete(exchangeSymbols, name)
		e.mu.Lock()
		if adapter := e.adapters[name]; adapter != nil {
			adapter.Close()
			delete(e.adapters, name)
		}
		e.mu.Unlock()
	}
}

// setPrice records the latest trade price for (symbol, exchange).
func (e *Engine) setPrice(exchangeName, symbol string, price float64, tsMS int64) {
	e.prices.Set(exchangeName, symbol, price, tsMS)
}

// processVolume drives a batch of new trades into the matching volume ring.
func (e *Engine) processVolume(exchangeName, symbol string, trades []exchange.Trade) {
	e.volumes.ring(symbol, exchangeName).ProcessTrades(trades)
}
