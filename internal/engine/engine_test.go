package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfeeds/feedprovider/internal/exchange"
	"github.com/openfeeds/feedprovider/internal/feed"
)

// fakeAdapter implements exchange.Adapter with pluggable behavior. Watch and
// fetch functions left nil block until the context is cancelled, imitating a
// quiet stream.
type fakeAdapter struct {
	name      string
	markets   map[string]exchange.Market
	multi     bool
	perSymbol bool

	watchMultiFn  func(ctx context.Context, symbols []string) ([]exchange.Trade, error)
	watchFn       func(ctx context.Context, symbol string, sinceMS int64) ([]exchange.Trade, error)
	fetchTradesFn func(ctx context.Context, symbol string) ([]exchange.Trade, error)
	fetchTickerFn func(ctx context.Context, marketID string) (exchange.Ticker, error)
}

func (f *fakeAdapter) Name() string                         { return f.name }
func (f *fakeAdapter) LoadMarkets(context.Context) error    { return nil }
func (f *fakeAdapter) Markets() map[string]exchange.Market  { return f.markets }
func (f *fakeAdapter) HasWatchMulti() bool                  { return f.multi }
func (f *fakeAdapter) HasWatch() bool                       { return f.perSymbol }
func (f *fakeAdapter) Close() error                         { return nil }

func (f *fakeAdapter) WatchTradesForSymbols(ctx context.Context, symbols []string) ([]exchange.Trade, error) {
	if f.watchMultiFn != nil {
		return f.watchMultiFn(ctx, symbols)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeAdapter) WatchTrades(ctx context.Context, symbol string, sinceMS int64) ([]exchange.Trade, error) {
	if f.watchFn != nil {
		return f.watchFn(ctx, symbol, sinceMS)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeAdapter) FetchTrades(ctx context.Context, symbol string) ([]exchange.Trade, error) {
	if f.fetchTradesFn != nil {
		return f.fetchTradesFn(ctx, symbol)
	}
	return nil, errors.New("fetch trades not supported")
}

func (f *fakeAdapter) FetchTicker(ctx context.Context, marketID string) (exchange.Ticker, error) {
	if f.fetchTickerFn != nil {
		return f.fetchTickerFn(ctx, marketID)
	}
	return exchange.Ticker{}, errors.New("fetch ticker not supported")
}

func marketsFor(symbols ...string) map[string]exchange.Market {
	markets := make(map[string]exchange.Market, len(symbols))
	for _, symbol := range symbols {
		markets[symbol] = exchange.Market{ID: strings.ReplaceAll(symbol, "/", ""), Symbol: symbol}
	}
	return markets
}

func mustRegistry(t *testing.T, configs ...feed.Config) *feed.Registry {
	t.Helper()
	reg, err := feed.NewRegistry(configs)
	require.NoError(t, err)
	return reg
}

func usdtConfig(exchangeName string) feed.Config {
	return feed.Config{
		Feed:    feed.UsdtToUsd,
		Sources: []feed.Source{{Exchange: exchangeName, Symbol: "USDT/USD"}},
	}
}

func adapterFactory(adapters map[string]exchange.Adapter) AdapterFactory {
	return func(name string) (exchange.Adapter, error) {
		adapter, ok := adapters[name]
		if !ok {
			return nil, errors.New("unknown exchange " + name)
		}
		return adapter, nil
	}
}

// newQueryEngine builds an engine for read-path tests without running Start:
// prices are injected directly and the engine is marked initialized.
func newQueryEngine(t *testing.T, nowMS int64, configs ...feed.Config) *Engine {
	t.Helper()
	e := New(Options{
		Registry: mustRegistry(t, configs...),
		Adapters: adapterFactory(nil),
		NowMS:    func() int64 { return nowMS },
	})
	e.initialized.Store(true)
	return e
}

func TestEngine_StartSpawnsIngestorsAndStopHaltsQueries(t *testing.T) {
	nowMS := time.Now().UnixMilli()
	btc := feed.Config{
		Feed:    feed.ID{Category: feed.CategoryCrypto, Name: "BTC/USD"},
		Sources: []feed.Source{{Exchange: "alpha", Symbol: "BTC/USD"}},
	}

	var delivered atomic.Bool
	alpha := &fakeAdapter{
		name:    "alpha",
		markets: marketsFor("BTC/USD", "USDT/USD"),
		multi:   true,
		watchMultiFn: func(ctx context.Context, _ []string) ([]exchange.Trade, error) {
			if delivered.CompareAndSwap(false, true) {
				return []exchange.Trade{{Symbol: "BTC/USD", Price: 50000, Amount: 1, TimestampMS: nowMS}}, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	e := New(Options{
		Registry: mustRegistry(t, btc, usdtConfig("alpha")),
		Adapters: adapterFactory(map[string]exchange.Adapter{"alpha": alpha}),
	})
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		v, err := e.GetValue(context.Background(), btc.Feed)
		return err == nil && v.Value != nil && *v.Value == 50000
	}, 2*time.Second, 10*time.Millisecond)

	e.Stop()

	v, err := e.GetValue(context.Background(), btc.Feed)
	require.NoError(t, err)
	assert.Nil(t, v.Value, "queries after stop must return absent")
}

func TestEngine_VolumesAfterStopAreEmpty(t *testing.T) {
	now := time.Now()
	btc := feed.Config{
		Feed:    feed.ID{Category: feed.CategoryCrypto, Name: "BTC/USD"},
		Sources: []feed.Source{{Exchange: "binanceus", Symbol: "BTC/USD"}},
	}
	e := newQueryEngine(t, now.UnixMilli(), btc, usdtConfig("binanceus"))
	e.processVolume("binanceus", "BTC/USD", []exchange.Trade{
		{Symbol: "BTC/USD", Price: 100, Amount: 1, TimestampMS: (now.Unix() - 2) * 1000},
		{Symbol: "BTC/USD", Price: 1, Amount: 0, TimestampMS: now.Unix() * 1000},
	})

	before, err := e.GetVolumes(context.Background(), []feed.ID{btc.Feed}, 60)
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.NotEmpty(t, before[0].Volumes)

	e.Stop()

	after, err := e.GetVolumes(context.Background(), []feed.ID{btc.Feed}, 60)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, btc.Feed, after[0].Feed)
	assert.Empty(t, after[0].Volumes, "volume queries after stop must not serve ring data")
}

func TestEngine_FailedAdapterConstructionIsIgnored(t *testing.T) {
	btc := feed.Config{
		Feed:    feed.ID{Category: feed.CategoryCrypto, Name: "BTC/USD"},
		Sources: []feed.Source{{Exchange: "broken", Symbol: "BTC/USD"}},
	}

	e := New(Options{
		Registry: mustRegistry(t, btc, usdtConfig("broken")),
		Adapters: adapterFactory(nil), // every construction fails
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	v, err := e.GetValue(context.Background(), btc.Feed)
	require.NoError(t, err)
	assert.Nil(t, v.Value)
}

// TestEngine_BackfillRunsOncePerFeed: consecutive queries on an empty feed
// trigger exactly one REST ticker backfill, whose result serves later polls.
func TestEngine_BackfillRunsOncePerFeed(t *testing.T) {
	nowMS := time.Now().UnixMilli()
	eth := feed.Config{
		Feed:    feed.ID{Category: feed.CategoryCrypto, Name: "ETH/USD"},
		Sources: []feed.Source{{Exchange: "alpha", Symbol: "ETH/USD"}},
	}

	var tickerCalls atomic.Int32
	alpha := &fakeAdapter{
		name:    "alpha",
		markets: marketsFor("ETH/USD", "USDT/USD"),
		multi:   true,
		fetchTickerFn: func(_ context.Context, marketID string) (exchange.Ticker, error) {
			if marketID == "ETHUSD" {
				tickerCalls.Add(1)
			}
			return exchange.Ticker{Symbol: "ETH/USD", Last: 3000, TimestampMS: nowMS}, nil
		},
	}

	e := New(Options{
		Registry: mustRegistry(t, eth, usdtConfig("alpha")),
		Adapters: adapterFactory(map[string]exchange.Adapter{"alpha": alpha}),
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	first, err := e.GetValue(context.Background(), eth.Feed)
	require.NoError(t, err)
	assert.Nil(t, first.Value, "query triggering the backfill still returns absent")

	_, err = e.GetValue(context.Background(), eth.Feed)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := e.GetValue(context.Background(), eth.Feed)
		return err == nil && v.Value != nil && *v.Value == 3000
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), tickerCalls.Load(), "backfill must run at most once per feed")
}

// TestEngine_BackfillAfterStopDoesNotSpawn: once the run context is cancelled,
// a backfill trigger must not add work the stopped engine would never wait on.
func TestEngine_BackfillAfterStopDoesNotSpawn(t *testing.T) {
	eth := feed.Config{
		Feed:    feed.ID{Category: feed.CategoryCrypto, Name: "ETH/USD"},
		Sources: []feed.Source{{Exchange: "alpha", Symbol: "ETH/USD"}},
	}

	var tickerCalls atomic.Int32
	alpha := &fakeAdapter{
		name:    "alpha",
		markets: marketsFor("ETH/USD", "USDT/USD"),
		multi:   true,
		fetchTickerFn: func(context.Context, string) (exchange.Ticker, error) {
			tickerCalls.Add(1)
			return exchange.Ticker{Symbol: "ETH/USD", Last: 3000}, nil
		},
	}

	e := New(Options{
		Registry: mustRegistry(t, eth, usdtConfig("alpha")),
		Adapters: adapterFactory(map[string]exchange.Adapter{"alpha": alpha}),
	})
	require.NoError(t, e.Start(context.Background()))
	e.Stop()

	e.spawnBackfill(eth)

	assert.Equal(t, int32(0), tickerCalls.Load())

	e.mu.Lock()
	_, attempted := e.fetchAttempted[eth.Feed.Key()]
	e.mu.Unlock()
	assert.True(t, attempted, "the trigger is still recorded as attempted")
}
