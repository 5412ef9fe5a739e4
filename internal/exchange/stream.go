package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsCombinedMessage is the envelope for combined multi-symbol streams:
// {"stream":"btcusdt@trade","data":{...}}
type wsCombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsTrade is a trade event. Price and quantity arrive as strings.
type wsTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// streamAdapter speaks a binance-compatible websocket trade stream, with the
// shared REST client covering markets, polled trades and tickers.
//
// Connections are dialed lazily on the first watch call and re-dialed after
// any read failure; the ingestor owns the backoff between attempts. Close
// tears down open sockets, which unblocks pending reads during shutdown.
type streamAdapter struct {
	*restClient
	settings    Settings
	tradesLimit int

	mu        sync.Mutex
	multiConn *websocket.Conn
	symbConns map[string]*websocket.Conn
	closed    bool
}

func newStreamAdapter(name string, settings Settings, tradesLimit int) *streamAdapter {
	return &streamAdapter{
		restClient:  newRestClient(name, settings.RestURL),
		settings:    settings,
		tradesLimit: tradesLimit,
		symbConns:   make(map[string]*websocket.Conn),
	}
}

func (a *streamAdapter) Name() string { return a.name }

func (a *streamAdapter) LoadMarkets(ctx context.Context) error { return a.loadMarkets(ctx) }

func (a *streamAdapter) Markets() map[string]Market { return a.marketList() }

func (a *streamAdapter) HasWatchMulti() bool {
	if a.settings.WatchMulti != nil {
		return *a.settings.WatchMulti
	}
	return true
}

func (a *streamAdapter) HasWatch() bool { return true }

func (a *streamAdapter) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: websocket dial %s failed: %w", a.name, url, err)
	}
	log.Debug().Str("exchange", a.name).Str("url", url).Msg("Websocket connected")
	return conn, nil
}

// streamName returns the per-market stream identifier, e.g. "btcusdt@trade".
func (a *streamAdapter) streamName(symbol string) (string, error) {
	market, ok := a.marketBySymbol(symbol)
	if !ok {
		return "", fmt.Errorf("%s: unknown market %s", a.name, symbol)
	}
	return strings.ToLower(market.ID) + "@trade", nil
}

func (a *streamAdapter) WatchTradesForSymbols(ctx context.Context, symbols []string) ([]Trade, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, fmt.Errorf("%s: adapter closed", a.name)
	}
	conn := a.multiConn
	a.mu.Unlock()

	if conn == nil {
		streams := make([]string, 0, len(symbols))
		for _, symbol := range symbols {
			name, err := a.streamName(symbol)
			if err != nil {
				log.Warn().Str("exchange", a.name).Str("symbol", symbol).Msg("Skipping unknown market in stream subscription")
				continue
			}
			streams = append(streams, name)
		}
		if len(streams) == 0 {
			return nil, fmt.Errorf("%s: no known markets to watch", a.name)
		}

		dialed, err := a.dial(ctx, a.settings.WSURL+"/stream?streams="+strings.Join(streams, "/"))
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.multiConn = dialed
		a.mu.Unlock()
		conn = dialed
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		a.mu.Lock()
		a.multiConn = nil
		a.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%s: websocket read failed: %w", a.name, err)
	}

	var msg wsCombinedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%s: malformed stream message: %w", a.name, err)
	}
	trade, ok := a.parseTrade(msg.Data)
	if !ok {
		return nil, nil
	}
	return a.capTrades([]Trade{trade}), nil
}

func (a *streamAdapter) WatchTrades(ctx context.Context, symbol string, _ int64) ([]Trade, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, fmt.Errorf("%s: adapter closed", a.name)
	}
	conn := a.symbConns[symbol]
	a.mu.Unlock()

	if conn == nil {
		name, err := a.streamName(symbol)
		if err != nil {
			return nil, err
		}
		dialed, err := a.dial(ctx, a.settings.WSURL+"/ws/"+name)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.symbConns[symbol] = dialed
		a.mu.Unlock()
		conn = dialed
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		a.mu.Lock()
		delete(a.symbConns, symbol)
		a.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%s: websocket read failed for %s: %w", a.name, symbol, err)
	}

	trade, ok := a.parseTrade(payload)
	if !ok {
		return nil, nil
	}
	return a.capTrades([]Trade{trade}), nil
}

// parseTrade converts a trade event into the unified form. Non-trade events
// (subscription acks, heartbeats) are ignored.
func (a *streamAdapter) parseTrade(payload []byte) (Trade, bool) {
	var event wsTrade
	if err := json.Unmarshal(payload, &event); err != nil || event.EventType != "trade" {
		return Trade{}, false
	}

	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return Trade{}, false
	}
	amount, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		return Trade{}, false
	}

	symbol := event.Symbol
	if market, ok := a.marketByID(event.Symbol); ok {
		symbol = market.Symbol
	}
	return Trade{
		Symbol:      symbol,
		Price:       price,
		Amount:      amount,
		TimestampMS: event.TradeTime,
	}, true
}

func (a *streamAdapter) capTrades(trades []Trade) []Trade {
	if a.tradesLimit > 0 && len(trades) > a.tradesLimit {
		return trades[len(trades)-a.tradesLimit:]
	}
	return trades
}

func (a *streamAdapter) FetchTrades(ctx context.Context, symbol string) ([]Trade, error) {
	return a.fetchTrades(ctx, symbol, a.tradesLimit)
}

func (a *streamAdapter) FetchTicker(ctx context.Context, marketID string) (Ticker, error) {
	return a.fetchTicker(ctx, marketID)
}

func (a *streamAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.multiConn != nil {
		a.multiConn.Close()
		a.multiConn = nil
	}
	for symbol, conn := range a.symbConns {
		conn.Close()
		delete(a.symbConns, symbol)
	}
	return nil
}
