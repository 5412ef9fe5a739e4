package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfeeds/feedprovider/internal/exchange"
)

// HistorySec is the depth of the per-(symbol, exchange) volume history.
const HistorySec = 3600

// ErrBadWindow is returned when a volume window exceeds the ring history.
var ErrBadWindow = errors.New("requested volume window exceeds history size")

// VolumeRing accumulates quote-denominated traded volume at one-second
// resolution over the last HistorySec seconds for one (symbol, exchange).
//
// Buckets are keyed by absolute wall-second modulo HistorySec: writes are
// O(1) and reads O(window). Slots for idle seconds between the previous and
// the current trade are zeroed lazily on advance, so no sweeper is needed.
// A single ingestor writes; readers take the same mutex briefly.
type VolumeRing struct {
	mu      sync.Mutex
	buckets [HistorySec]float64
	lastTS  int64 // ms of the newest processed trade, 0 = none yet
}

func NewVolumeRing() *VolumeRing {
	return &VolumeRing{}
}

// ProcessTrades folds a batch of trades into the ring in arrival order.
// Trades without a timestamp are skipped, as are trades older than the newest
// one already processed.
func (r *VolumeRing) ProcessTrades(trades []exchange.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, trade := range trades {
		if trade.TimestampMS == 0 {
			log.Warn().Str("symbol", trade.Symbol).Msg("Trade with missing timestamp, skipping")
			continue
		}
		if r.lastTS != 0 && trade.TimestampMS < r.lastTS {
			log.Debug().
				Int64("trade_ts", trade.TimestampMS).
				Int64("last_ts", r.lastTS).
				Str("symbol", trade.Symbol).
				Msg("Trade older than last processed trade, skipping")
			continue
		}

		tSec := trade.TimestampMS / 1000
		prevSec := tSec
		if r.lastTS != 0 {
			prevSec = r.lastTS / 1000
		}

		// Zero the idle seconds in (prevSec, tSec]. A gap wider than the ring
		// wipes every slot exactly once.
		steps := tSec - prevSec
		if steps > HistorySec {
			steps = HistorySec
		}
		for s := tSec - steps + 1; s <= tSec; s++ {
			r.buckets[ringIndex(s)] = 0
		}

		r.buckets[ringIndex(tSec)] += trade.Amount * trade.Price
		r.lastTS = trade.TimestampMS
	}
}

// Volume sums the traded volume over the last windowSec seconds.
func (r *VolumeRing) Volume(windowSec int) (float64, error) {
	return r.volumeAt(time.Now().UnixMilli(), windowSec)
}

// volumeAt is Volume with an explicit clock. The window starts at wall-clock
// now but ends (exclusively) at the last observed trade second, so buckets
// lazily zeroed by a stale writer are never counted.
func (r *VolumeRing) volumeAt(nowMS int64, windowSec int) (float64, error) {
	if windowSec > HistorySec {
		return 0, ErrBadWindow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastTS == 0 {
		return 0, nil
	}

	startSec := nowMS/1000 - int64(windowSec)
	endSec := r.lastTS / 1000

	var volume float64
	for t := startSec; t < endSec; t++ {
		volume += r.buckets[ringIndex(t)]
	}
	return volume, nil
}

// ringIndex maps an absolute second onto a bucket slot. Seconds can go
// negative in tests with synthetic clocks; Go's % keeps the sign.
func ringIndex(sec int64) int64 {
	i := sec % HistorySec
	if i < 0 {
		i += HistorySec
	}
	return i
}
