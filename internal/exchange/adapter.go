// Package exchange provides capability-typed adapters over individual
// exchanges: market metadata, live trade streams over websocket and REST
// fallbacks for trades and tickers.
package exchange

import (
	"context"
	"fmt"
)

// Trade is a single executed trade as reported by an exchange. Symbol is the
// unified form ("BTC/USDT"); TimestampMS is zero when the exchange omitted it.
type Trade struct {
	Symbol      string
	Price       float64
	Amount      float64
	TimestampMS int64
}

// Ticker is a REST ticker snapshot used for cold-start backfill.
type Ticker struct {
	Symbol      string
	Last        float64
	TimestampMS int64
}

// Market describes one tradable market on an exchange.
type Market struct {
	ID     string // exchange-native id, e.g. "BTCUSDT"
	Symbol string // unified symbol, e.g. "BTC/USDT"
}

// Adapter is a handle over a single exchange. Watch calls block until new
// trades arrive or ctx is done; capability flags tell the ingestor which
// strategy applies.
type Adapter interface {
	Name() string

	// LoadMarkets populates the market catalog. Must be called before any
	// watch or fetch call.
	LoadMarkets(ctx context.Context) error
	// Markets returns the catalog keyed by unified symbol.
	Markets() map[string]Market

	// HasWatchMulti reports support for a single stream covering many symbols.
	HasWatchMulti() bool
	// HasWatch reports support for per-symbol trade streams.
	HasWatch() bool

	// WatchTradesForSymbols returns new trades across the given symbols since
	// the prior invocation.
	WatchTradesForSymbols(ctx context.Context, symbols []string) ([]Trade, error)
	// WatchTrades returns new trades for one symbol. sinceMS is advisory; the
	// caller filters by timestamp regardless.
	WatchTrades(ctx context.Context, symbol string, sinceMS int64) ([]Trade, error)
	// FetchTrades returns recent trades over REST.
	FetchTrades(ctx context.Context, symbol string) ([]Trade, error)
	// FetchTicker returns the last-price ticker for an exchange-native market id.
	FetchTicker(ctx context.Context, marketID string) (Ticker, error)

	// Close tears down any open connections.
	Close() error
}

// New builds an adapter for the named exchange from its settings.
func New(name string, settings Settings, tradesLimit int) (Adapter, error) {
	switch settings.Driver {
	case DriverStream:
		return newStreamAdapter(name, settings, tradesLimit), nil
	case DriverRest:
		return newRestAdapter(name, settings), nil
	default:
		return nil, fmt.Errorf("exchange %s: unknown driver %q", name, settings.Driver)
	}
}
