package engine

import (
	"context"

	"github.com/openfeeds/feedprovider/internal/feed"
	"github.com/openfeeds/feedprovider/internal/metrics"
)

// spawnBackfill starts a one-shot REST ticker backfill for a feed with no
// samples. At most one backfill ever runs per feed key; the query that
// triggered it still returns absent and the next poll benefits.
func (e *Engine) spawnBackfill(config feed.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := config.Feed.Key()
	if _, attempted := e.fetchAttempted[key]; attempted {
		return
	}
	e.fetchAttempted[key] = struct{}{}

	// Stop cancels before it takes e.mu, so a cancelled context is always
	// observed here and wg.Add never races wg.Wait.
	ctx := e.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	metrics.TickerBackfills.Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fetchLastPrices(ctx, config)
	}()
}

// fetchLastPrices fetches REST tickers for every source of a feed and writes
// any last prices found into the price table. Individual ticker failures are
// logged and ignored.
func (e *Engine) fetchLastPrices(ctx context.Context, config feed.Config) {
	for _, source := range config.Sources {
		e.mu.Lock()
		adapter := e.adapters[source.Exchange]
		e.mu.Unlock()
		if adapter == nil {
			continue
		}

		market, ok := adapter.Markets()[source.Symbol]
		if !ok {
			continue
		}

		e.log.Info().Str("market", market.ID).Str("exchange", source.Exchange).Msg("Fetching last price")
		ticker, err := adapter.FetchTicker(ctx, market.ID)
		if err != nil {
			e.log.Warn().Err(err).Str("market", market.ID).Str("exchange", source.Exchange).Msg("Failed to fetch ticker")
			continue
		}
		if ticker.Last <= 0 {
			e.log.Info().Str("market", market.ID).Str("exchange", source.Exchange).Msg("No last price in ticker")
			continue
		}

		symbol := ticker.Symbol
		if symbol == "" {
			symbol = source.Symbol
		}
		e.prices.Set(source.Exchange, symbol, ticker.Last, ticker.TimestampMS)
	}
}
