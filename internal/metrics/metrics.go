// Package metrics exposes prometheus instrumentation for the feed engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesIngested counts trades accepted into the price/volume pipeline.
	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedprovider_trades_ingested_total",
		Help: "Trades ingested into the price and volume pipeline",
	}, []string{"exchange"})

	// StreamRestarts counts watch-loop iterations that failed and backed off.
	StreamRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedprovider_stream_restarts_total",
		Help: "Trade stream failures followed by backoff and retry",
	}, []string{"exchange"})

	// TickerBackfills counts one-shot REST ticker backfill runs.
	TickerBackfills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedprovider_ticker_backfills_total",
		Help: "Cold-start REST ticker backfills triggered by empty feeds",
	})

	// AbsentValues counts queries answered with an absent value.
	AbsentValues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedprovider_absent_values_total",
		Help: "Feed value queries answered with no viable samples",
	})

	// LiveExchanges tracks adapters with a running ingestor.
	LiveExchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedprovider_live_exchanges",
		Help: "Exchanges currently contributing trade data",
	})
)
