package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/openfeeds/feedprovider/internal/feed"
	"github.com/openfeeds/feedprovider/internal/metrics"
)

// GetValue returns the aggregated value for one feed, or an absent value when
// no viable samples exist.
func (e *Engine) GetValue(_ context.Context, id feed.ID) (feed.ValueData, error) {
	if !e.initialized.Load() {
		metrics.AbsentValues.Inc()
		return feed.ValueData{Feed: id}, nil
	}

	value, ok := e.feedPrice(id, 0)
	if !ok {
		metrics.AbsentValues.Inc()
		return feed.ValueData{Feed: id}, nil
	}
	return feed.ValueData{Feed: id, Value: &value}, nil
}

// GetValues resolves all feeds concurrently; the result order matches the
// input order.
func (e *Engine) GetValues(ctx context.Context, ids []feed.ID) ([]feed.ValueData, error) {
	results := make([]feed.ValueData, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id feed.ID) {
			defer wg.Done()
			results[i], _ = e.GetValue(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return results, nil
}

// GetVolumes returns per-exchange rolling volumes for each feed over the last
// windowSec seconds. For "/USD" feeds the parallel "/USDT" market's volume is
// added, converted at the USDT/USD rate; when that rate is unavailable the
// addend is silently skipped. On a stopped engine every feed comes back with
// an empty volume list.
func (e *Engine) GetVolumes(_ context.Context, ids []feed.ID, windowSec int) ([]feed.VolumeData, error) {
	if windowSec > HistorySec {
		return nil, ErrBadWindow
	}

	results := make([]feed.VolumeData, 0, len(ids))
	if !e.initialized.Load() {
		for _, id := range ids {
			results = append(results, feed.VolumeData{Feed: id, Volumes: []feed.ExchangeVolume{}})
		}
		return results, nil
	}

	usdtToUsd, usdtOK := e.feedPrice(feed.UsdtToUsd, 0)

	for _, id := range ids {
		volMap := make(map[string]float64)
		for exchangeName, ring := range e.volumes.byExchange(id.Name) {
			v, err := ring.Volume(windowSec)
			if err != nil {
				return nil, err
			}
			volMap[exchangeName] = v
		}

		if strings.HasSuffix(id.Name, "/USD") && usdtOK {
			usdtName := strings.TrimSuffix(id.Name, "/USD") + "/USDT"
			for exchangeName, ring := range e.volumes.byExchange(usdtName) {
				v, err := ring.Volume(windowSec)
				if err != nil {
					return nil, err
				}
				volMap[exchangeName] += math.Round(v * usdtToUsd)
			}
		}

		volumes := make([]feed.ExchangeVolume, 0, len(volMap))
		for exchangeName, v := range volMap {
			volumes = append(volumes, feed.ExchangeVolume{Exchange: exchangeName, Volume: v})
		}
		results = append(results, feed.VolumeData{Feed: id, Volumes: volumes})
	}
	return results, nil
}

// feedPrice assembles cross-exchange samples for a feed and computes the
// time-weighted median. Sources quoted in USDT are converted at the USDT/USD
// rate, resolved at most once per call. depth guards against a miswritten
// catalog making USDT/USD resolution recurse into itself.
func (e *Engine) feedPrice(id feed.ID, depth int) (float64, bool) {
	config, ok := e.registry.Lookup(id)
	if !ok {
		e.log.Warn().Stringer("feed", id).Msg("No config found for feed")
		return 0, false
	}

	var usdtToUsd float64
	usdtResolved, usdtOK := false, false

	samples := make([]PriceSample, 0, len(config.Sources))
	for _, source := range config.Sources {
		info, ok := e.prices.Get(source.Symbol, source.Exchange)
		if !ok {
			continue
		}

		price := info.Value
		if strings.HasSuffix(source.Symbol, "USDT") {
			if depth > 0 {
				// Already resolving USDT/USD; a second level would recurse.
				continue
			}
			if !usdtResolved {
				usdtToUsd, usdtOK = e.feedPrice(feed.UsdtToUsd, depth+1)
				usdtResolved = true
			}
			if !usdtOK {
				e.log.Warn().
					Str("symbol", source.Symbol).
					Str("exchange", source.Exchange).
					Msg("Unable to retrieve USDT to USD conversion rate")
				continue
			}
			price *= usdtToUsd
		}

		samples = append(samples, PriceSample{Value: price, TimeMS: info.TimeMS, Exchange: info.Exchange})
	}

	if len(samples) == 0 {
		e.log.Warn().Stringer("feed", id).Msg("No prices found for feed")
		e.spawnBackfill(config)
		return 0, false
	}

	e.log.Debug().Stringer("feed", id).Int("samples", len(samples)).Msg("Calculating weighted median")
	return e.weightedMedian(samples)
}

// weightedMedian computes the exponentially time-decayed weighted median:
// samples are weighted by exp(-lambda * staleness_ms), weights normalized,
// and the first value whose cumulative weight reaches one half wins.
func (e *Engine) weightedMedian(samples []PriceSample) (float64, bool) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].TimeMS < samples[j].TimeMS })

	now := e.nowMS()
	weights := make([]float64, len(samples))
	var weightSum float64
	for i, s := range samples {
		w := math.Exp(-e.lambda * float64(now-s.TimeMS))
		weights[i] = w
		weightSum += w
	}

	// All weights underflowed; fall back to the time-earliest sample.
	if weightSum == 0 {
		return samples[0].Value, true
	}

	type weightedPrice struct {
		value     float64
		weight    float64
		exchange  string
		staleness int64
	}
	prices := make([]weightedPrice, len(samples))
	for i, s := range samples {
		prices[i] = weightedPrice{
			value:     s.Value,
			weight:    weights[i] / weightSum,
			exchange:  s.Exchange,
			staleness: now - s.TimeMS,
		}
	}
	sort.SliceStable(prices, func(i, j int) bool { return prices[i].value < prices[j].value })

	var cumulative float64
	for _, wp := range prices {
		cumulative += wp.weight
		if cumulative >= 0.5 {
			e.log.Debug().
				Float64("value", wp.value).
				Float64("weight", wp.weight).
				Int64("staleness_ms", wp.staleness).
				Str("exchange", wp.exchange).
				Msg("Weighted median")
			return wp.value, true
		}
	}

	e.log.Warn().Msg("Unable to calculate weighted median")
	return 0, false
}
