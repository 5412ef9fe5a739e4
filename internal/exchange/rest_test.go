package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMarketServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"symbols": [
			{"symbol": "BTCUSDT", "baseAsset": "BTC", "quoteAsset": "USDT"},
			{"symbol": "ETHUSDT", "baseAsset": "ETH", "quoteAsset": "USDT"},
			{"symbol": "BROKEN", "baseAsset": "", "quoteAsset": "USDT"}
		]}`))
	})
	mux.HandleFunc("/api/v3/trades", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[
			{"price": "50000.5", "qty": "0.25", "time": 1700000001000},
			{"price": "50001.0", "qty": "0.10", "time": 1700000002000}
		]`))
	})
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			w.Write([]byte(`{"symbol": "BTCUSDT", "price": "50123.45"}`))
		default:
			w.Write([]byte(`{"symbol": "?"}`))
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRestAdapter_LoadMarketsBuildsUnifiedSymbols(t *testing.T) {
	server := newMarketServer(t)
	adapter := newRestAdapter("testex", Settings{Driver: DriverRest, RestURL: server.URL})

	require.NoError(t, adapter.LoadMarkets(context.Background()))

	markets := adapter.Markets()
	require.Len(t, markets, 2, "entries with missing assets are dropped")
	assert.Equal(t, Market{ID: "BTCUSDT", Symbol: "BTC/USDT"}, markets["BTC/USDT"])
	assert.Equal(t, Market{ID: "ETHUSDT", Symbol: "ETH/USDT"}, markets["ETH/USDT"])
}

func TestRestAdapter_FetchTradesMapsFields(t *testing.T) {
	server := newMarketServer(t)
	adapter := newRestAdapter("testex", Settings{Driver: DriverRest, RestURL: server.URL})
	require.NoError(t, adapter.LoadMarkets(context.Background()))

	trades, err := adapter.FetchTrades(context.Background(), "BTC/USDT")

	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, Trade{Symbol: "BTC/USDT", Price: 50000.5, Amount: 0.25, TimestampMS: 1700000001000}, trades[0])
}

func TestRestAdapter_FetchTradesUnknownMarket(t *testing.T) {
	server := newMarketServer(t)
	adapter := newRestAdapter("testex", Settings{Driver: DriverRest, RestURL: server.URL})
	require.NoError(t, adapter.LoadMarkets(context.Background()))

	_, err := adapter.FetchTrades(context.Background(), "XRP/USDT")
	assert.ErrorContains(t, err, "unknown market")
}

func TestRestAdapter_FetchTickerResolvesUnifiedSymbol(t *testing.T) {
	server := newMarketServer(t)
	adapter := newRestAdapter("testex", Settings{Driver: DriverRest, RestURL: server.URL})
	require.NoError(t, adapter.LoadMarkets(context.Background()))

	ticker, err := adapter.FetchTicker(context.Background(), "BTCUSDT")

	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.Equal(t, 50123.45, ticker.Last)
}

func TestRestAdapter_FetchTickerWithoutPriceFails(t *testing.T) {
	server := newMarketServer(t)
	adapter := newRestAdapter("testex", Settings{Driver: DriverRest, RestURL: server.URL})
	require.NoError(t, adapter.LoadMarkets(context.Background()))

	_, err := adapter.FetchTicker(context.Background(), "NOPE")
	assert.ErrorContains(t, err, "no price")
}

func TestRestAdapter_EmptyMarketCatalogRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"symbols": []}`))
	}))
	t.Cleanup(server.Close)

	adapter := newRestAdapter("testex", Settings{Driver: DriverRest, RestURL: server.URL})
	err := adapter.LoadMarkets(context.Background())
	assert.ErrorContains(t, err, "no markets")
}
