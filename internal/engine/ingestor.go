package engine

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/openfeeds/feedprovider/internal/exchange"
	"github.com/openfeeds/feedprovider/internal/metrics"
	"github.com/openfeeds/feedprovider/internal/retry"
)

const (
	watchIdleWait          = 1 * time.Second
	multiWatchRetryWait    = 10 * time.Second
	symbolWatchRetryBase   = 5 * time.Second
	symbolWatchRetryJitter = 10 * time.Second

	pollSweepWait     = 1 * time.Second
	pollRetryAttempts = 5
	pollRetryBackoff  = 2 * time.Second
	pollCooldown      = 5 * time.Minute
	pollPace          = 200 * time.Millisecond
)

// ingestor drives trade ingestion for one exchange. The strategy depends on
// adapter capability: one stream for all symbols, one stream per symbol, or
// polled REST fetches. Failures are isolated to the exchange; the loops
// self-heal with sleep and retry and never surface errors to the query path.
type ingestor struct {
	engine  *Engine
	adapter exchange.Adapter
	symbols []string
}

func (in *ingestor) run(ctx context.Context) {
	name := in.adapter.Name()
	in.engine.log.Info().Str("exchange", name).Strs("symbols", in.symbols).Msg("Watching trades")

	switch {
	case in.adapter.HasWatchMulti():
		in.watchMulti(ctx)
	case in.adapter.HasWatch():
		var wg sync.WaitGroup
		for _, symbol := range in.symbols {
			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				in.watchSymbol(ctx, symbol)
			}(symbol)
		}
		wg.Wait()
	default:
		in.engine.log.Warn().Str("exchange", name).Msg("Exchange does not support watching trades, polling instead")
		in.pollTrades(ctx)
	}
}

// watchMulti consumes a single stream covering all symbols. The latest price
// comes from the newest trade in each batch; every trade feeds the volume
// rings.
func (in *ingestor) watchMulti(ctx context.Context) {
	name := in.adapter.Name()
	since := make(map[string]int64)

	for ctx.Err() == nil {
		trades, err := in.adapter.WatchTradesForSymbols(ctx, in.symbols)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			in.engine.log.Debug().Err(err).Str("exchange", name).Msg("Failed to watch trades, will retry")
			metrics.StreamRestarts.WithLabelValues(name).Inc()
			if retry.Sleep(ctx, multiWatchRetryWait) != nil {
				return
			}
			continue
		}

		fresh := make([]exchange.Trade, 0, len(trades))
		for _, trade := range trades {
			if trade.TimestampMS > since[trade.Symbol] {
				fresh = append(fresh, trade)
			}
		}
		if len(fresh) == 0 {
			if retry.Sleep(ctx, watchIdleWait) != nil {
				return
			}
			continue
		}

		sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].TimestampMS < fresh[j].TimestampMS })
		last := fresh[len(fresh)-1]
		in.engine.setPrice(name, last.Symbol, last.Price, last.TimestampMS)
		since[last.Symbol] = last.TimestampMS

		in.recordVolumes(fresh)
		metrics.TradesIngested.WithLabelValues(name).Add(float64(len(fresh)))
	}
}

// watchSymbol consumes a per-symbol stream. Retries are jittered so many
// symbol loops failing together do not reconnect in lockstep.
func (in *ingestor) watchSymbol(ctx context.Context, symbol string) {
	name := in.adapter.Name()
	var since int64

	for ctx.Err() == nil {
		trades, err := in.adapter.WatchTrades(ctx, symbol, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			in.engine.log.Debug().Err(err).Str("exchange", name).Str("symbol", symbol).Msg("Failed to watch trades, will retry")
			metrics.StreamRestarts.WithLabelValues(name).Inc()
			wait := symbolWatchRetryBase + time.Duration(rand.Int63n(int64(symbolWatchRetryJitter)))
			if retry.Sleep(ctx, wait) != nil {
				return
			}
			continue
		}
		if len(trades) == 0 {
			if retry.Sleep(ctx, watchIdleWait) != nil {
				return
			}
			continue
		}

		sort.SliceStable(trades, func(i, j int) bool { return trades[i].TimestampMS < trades[j].TimestampMS })
		last := trades[len(trades)-1]
		in.engine.setPrice(name, last.Symbol, last.Price, last.TimestampMS)
		since = last.TimestampMS + 1

		in.engine.processVolume(name, symbol, trades)
		metrics.TradesIngested.WithLabelValues(name).Add(float64(len(trades)))
	}
}

// pollTrades sweeps REST trade fetches for exchanges with no stream support.
// Sweeps run under a bounded-retry wrapper; exhaustion triggers a long
// cool-down, any other error terminates this exchange's ingestor.
func (in *ingestor) pollTrades(ctx context.Context) {
	name := in.adapter.Name()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name + "-fetch-trades",
		Timeout: 30 * time.Second,
	})
	limiter := rate.NewLimiter(rate.Every(pollPace), 1)

	for ctx.Err() == nil {
		err := retry.Do(ctx, pollRetryAttempts, pollRetryBackoff, func(ctx context.Context) error {
			return in.sweep(ctx, breaker, limiter)
		})

		var retryErr *retry.Error
		switch {
		case err == nil:
			if retry.Sleep(ctx, pollSweepWait) != nil {
				return
			}
		case errors.As(err, &retryErr):
			in.engine.log.Debug().Err(err).Str("exchange", name).
				Dur("cooldown", pollCooldown).Msg("Failed to fetch trades after retries, cooling down")
			if retry.Sleep(ctx, pollCooldown) != nil {
				return
			}
		case ctx.Err() != nil:
			return
		default:
			in.engine.log.Error().Err(err).Str("exchange", name).Msg("Trade polling aborted")
			return
		}
	}
}

// sweep fetches recent trades for every symbol once and records the newest
// trade's price when it advances the stored sample.
func (in *ingestor) sweep(ctx context.Context, breaker *gobreaker.CircuitBreaker, limiter *rate.Limiter) error {
	name := in.adapter.Name()
	for _, symbol := range in.symbols {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := breaker.Execute(func() (interface{}, error) {
			return in.adapter.FetchTrades(ctx, symbol)
		})
		if err != nil {
			return err
		}
		trades := result.([]exchange.Trade)
		if len(trades) == 0 {
			in.engine.log.Warn().Str("exchange", name).Str("symbol", symbol).Msg("No trades found")
			continue
		}

		sort.SliceStable(trades, func(i, j int) bool { return trades[i].TimestampMS > trades[j].TimestampMS })
		latest := trades[0]

		var lastTime int64
		if sample, ok := in.engine.prices.Get(latest.Symbol, name); ok {
			lastTime = sample.TimeMS
		}
		if latest.TimestampMS > lastTime {
			in.engine.setPrice(name, latest.Symbol, latest.Price, latest.TimestampMS)
			metrics.TradesIngested.WithLabelValues(name).Inc()
		}
	}
	return nil
}

// recordVolumes feeds a batch of trades into the rings, grouped per symbol so
// each (symbol, exchange) ring sees only its own trades, in arrival order.
func (in *ingestor) recordVolumes(trades []exchange.Trade) {
	name := in.adapter.Name()
	grouped := make(map[string][]exchange.Trade)
	for _, trade := range trades {
		grouped[trade.Symbol] = append(grouped[trade.Symbol], trade)
	}
	for symbol, batch := range grouped {
		in.engine.processVolume(name, symbol, batch)
	}
}
