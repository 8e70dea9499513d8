// Package candles aggregates ticks into fixed-duration bars; completed bars
// feed the indicator ring.
package candles

import (
	"time"

	"github.com/palmoil/agent/internal/model"
)

// Aggregator builds successive Candles of a fixed duration from a stream of
// (price, time) ticks. Not safe for concurrent use; the control loop owns
// one per symbol.
type Aggregator struct {
	duration time.Duration
	current  *model.Candle
	bucketAt time.Time
}

// NewAggregator constructs an Aggregator with the given bar duration.
func NewAggregator(duration time.Duration) *Aggregator {
	return &Aggregator{duration: duration}
}

// Add feeds one tick. It returns the just-completed Candle and true if this
// tick closed the previous bucket; the tick itself starts the next bucket.
func (a *Aggregator) Add(price float64, at time.Time) (model.Candle, bool) {
	bucket := at.Truncate(a.duration)

	if a.current == nil {
		a.startBucket(bucket, price, at)
		return model.Candle{}, false
	}

	if bucket.Equal(a.bucketAt) {
		a.update(price, at)
		return model.Candle{}, false
	}

	completed := *a.current
	a.startBucket(bucket, price, at)
	return completed, true
}

func (a *Aggregator) startBucket(bucket time.Time, price float64, at time.Time) {
	a.bucketAt = bucket
	a.current = &model.Candle{Open: price, High: price, Low: price, Close: price, Volume: 0, CloseTime: at}
}

func (a *Aggregator) update(price float64, at time.Time) {
	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Close = price
	a.current.CloseTime = at
}

// Flush returns the in-progress bucket as a Candle without waiting for the
// next tick to close it (used on shutdown so the last partial bar is not
// silently discarded).
func (a *Aggregator) Flush() (model.Candle, bool) {
	if a.current == nil {
		return model.Candle{}, false
	}
	return *a.current, true
}
