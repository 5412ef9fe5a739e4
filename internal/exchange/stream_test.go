package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamAdapter() *streamAdapter {
	a := newStreamAdapter("testex", Settings{Driver: DriverStream, WSURL: "wss://x", RestURL: "https://x"}, 100)
	a.markets = map[string]Market{"BTC/USDT": {ID: "BTCUSDT", Symbol: "BTC/USDT"}}
	a.marketsByID = map[string]Market{"BTCUSDT": {ID: "BTCUSDT", Symbol: "BTC/USDT"}}
	return a
}

func TestParseTrade_MapsNativeIDToUnifiedSymbol(t *testing.T) {
	a := newTestStreamAdapter()

	trade, ok := a.parseTrade([]byte(`{"e":"trade","E":1700000001001,"s":"BTCUSDT","p":"50000.5","q":"0.25","T":1700000001000}`))

	require.True(t, ok)
	assert.Equal(t, Trade{Symbol: "BTC/USDT", Price: 50000.5, Amount: 0.25, TimestampMS: 1700000001000}, trade)
}

func TestParseTrade_UnmappedIDKeepsNativeSymbol(t *testing.T) {
	a := newTestStreamAdapter()

	trade, ok := a.parseTrade([]byte(`{"e":"trade","s":"ETHUSDT","p":"3000","q":"1","T":1700000001000}`))

	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", trade.Symbol)
}

func TestParseTrade_IgnoresNonTradeEvents(t *testing.T) {
	a := newTestStreamAdapter()

	_, ok := a.parseTrade([]byte(`{"result":null,"id":1}`))
	assert.False(t, ok)

	_, ok = a.parseTrade([]byte(`{"e":"kline","s":"BTCUSDT"}`))
	assert.False(t, ok)
}

func TestParseTrade_RejectsUnparsableNumbers(t *testing.T) {
	a := newTestStreamAdapter()

	_, ok := a.parseTrade([]byte(`{"e":"trade","s":"BTCUSDT","p":"not-a-price","q":"1","T":1}`))
	assert.False(t, ok)
}

func TestStreamName_RequiresKnownMarket(t *testing.T) {
	a := newTestStreamAdapter()

	name, err := a.streamName("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "btcusdt@trade", name)

	_, err = a.streamName("XRP/USDT")
	assert.ErrorContains(t, err, "unknown market")
}

func TestStreamAdapter_WatchAfterCloseFails(t *testing.T) {
	a := newTestStreamAdapter()
	require.NoError(t, a.Close())

	_, err := a.WatchTrades(context.Background(), "BTC/USDT", 0)
	assert.ErrorContains(t, err, "adapter closed")
}

func TestCapTrades_KeepsNewestTail(t *testing.T) {
	a := newTestStreamAdapter()
	a.tradesLimit = 2

	trades := []Trade{{TimestampMS: 1}, {TimestampMS: 2}, {TimestampMS: 3}}
	capped := a.capTrades(trades)

	require.Len(t, capped, 2)
	assert.Equal(t, int64(2), capped[0].TimestampMS)
	assert.Equal(t, int64(3), capped[1].TimestampMS)
}
