package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const defaultFetchLimit = 500

// restClient wraps the binance-compatible REST API surface shared by both
// adapter drivers: markets, recent trades and last-price tickers.
type restClient struct {
	name    string
	baseURL string
	client  *retryablehttp.Client

	mu          sync.RWMutex
	markets     map[string]Market // by unified symbol
	marketsByID map[string]Market
}

func newRestClient(name, baseURL string) *restClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &restClient{
		name:        name,
		baseURL:     baseURL,
		client:      client,
		markets:     make(map[string]Market),
		marketsByID: make(map[string]Market),
	}
}

func (c *restClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request %s failed: %w", c.name, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading %s response: %w", c.name, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: request %s returned status %d", c.name, path, resp.StatusCode)
	}
	return body, nil
}

func (c *restClient) loadMarkets(ctx context.Context) error {
	body, err := c.get(ctx, "/api/v3/exchangeInfo")
	if err != nil {
		return err
	}

	markets := make(map[string]Market)
	byID := make(map[string]Market)
	for _, entry := range gjson.GetBytes(body, "symbols").Array() {
		id := entry.Get("symbol").String()
		base := entry.Get("baseAsset").String()
		quote := entry.Get("quoteAsset").String()
		if id == "" || base == "" || quote == "" {
			continue
		}
		m := Market{ID: id, Symbol: base + "/" + quote}
		markets[m.Symbol] = m
		byID[m.ID] = m
	}
	if len(markets) == 0 {
		return fmt.Errorf("%s: no markets in exchangeInfo response", c.name)
	}

	c.mu.Lock()
	c.markets = markets
	c.marketsByID = byID
	c.mu.Unlock()
	return nil
}

func (c *restClient) marketList() map[string]Market {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Market, len(c.markets))
	for k, v := range c.markets {
		out[k] = v
	}
	return out
}

func (c *restClient) marketBySymbol(symbol string) (Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[symbol]
	return m, ok
}

func (c *restClient) marketByID(id string) (Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.marketsByID[id]
	return m, ok
}

func (c *restClient) fetchTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	market, ok := c.marketBySymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("%s: unknown market %s", c.name, symbol)
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	body, err := c.get(ctx, "/api/v3/trades?symbol="+market.ID+"&limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}

	var trades []Trade
	for _, entry := range gjson.ParseBytes(body).Array() {
		trades = append(trades, Trade{
			Symbol:      market.Symbol,
			Price:       entry.Get("price").Float(),
			Amount:      entry.Get("qty").Float(),
			TimestampMS: entry.Get("time").Int(),
		})
	}
	return trades, nil
}

func (c *restClient) fetchTicker(ctx context.Context, marketID string) (Ticker, error) {
	body, err := c.get(ctx, "/api/v3/ticker/price?symbol="+marketID)
	if err != nil {
		return Ticker{}, err
	}

	parsed := gjson.ParseBytes(body)
	price := parsed.Get("price")
	if !price.Exists() {
		return Ticker{}, fmt.Errorf("%s: ticker for %s has no price", c.name, marketID)
	}

	symbol := marketID
	if m, ok := c.marketByID(marketID); ok {
		symbol = m.Symbol
	}
	return Ticker{
		Symbol:      symbol,
		Last:        price.Float(),
		TimestampMS: parsed.Get("time").Int(),
	}, nil
}

// restAdapter polls trades over REST; it has no stream capabilities and is
// driven by the polled-fetch ingestion strategy.
type restAdapter struct {
	*restClient
}

func newRestAdapter(name string, settings Settings) *restAdapter {
	return &restAdapter{restClient: newRestClient(name, settings.RestURL)}
}

func (a *restAdapter) Name() string { return a.name }

func (a *restAdapter) LoadMarkets(ctx context.Context) error { return a.loadMarkets(ctx) }

func (a *restAdapter) Markets() map[string]Market { return a.marketList() }

func (a *restAdapter) HasWatchMulti() bool { return false }

func (a *restAdapter) HasWatch() bool { return false }

func (a *restAdapter) WatchTradesForSymbols(context.Context, []string) ([]Trade, error) {
	return nil, fmt.Errorf("%s: trade streams not supported", a.name)
}

func (a *restAdapter) WatchTrades(context.Context, string, int64) ([]Trade, error) {
	return nil, fmt.Errorf("%s: trade streams not supported", a.name)
}

func (a *restAdapter) FetchTrades(ctx context.Context, symbol string) ([]Trade, error) {
	return a.fetchTrades(ctx, symbol, defaultFetchLimit)
}

func (a *restAdapter) FetchTicker(ctx context.Context, marketID string) (Ticker, error) {
	return a.fetchTicker(ctx, marketID)
}

func (a *restAdapter) Close() error { return nil }
