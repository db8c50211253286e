// Package agg folds a tick stream into fixed-width OHLC candles.
//
// Candle creation is tick-driven: a bucket that receives no ticks produces no
// candle, so the sequence may have gaps but its bucket times are always
// strictly increasing and aligned to the interval.
package agg

import (
	"fmt"
	"math"

	"signalengine/internal/model"
)

// Outcome describes what Append did with a tick.
type Outcome int

const (
	OutcomeOpened          Outcome = iota // new bucket started
	OutcomeUpdated                        // open candle updated in place
	OutcomeLate                           // tick behind the open bucket, dropped
	OutcomeInvalid                        // non-finite or non-positive price, dropped
	OutcomeInvalidInterval                // interval <= 0, dropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpened:
		return "opened"
	case OutcomeUpdated:
		return "updated"
	case OutcomeLate:
		return "late"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeInvalidInterval:
		return "invalid_interval"
	default:
		return "unknown"
	}
}

// Accepted reports whether the tick changed the candle sequence.
func (o Outcome) Accepted() bool {
	return o == OutcomeOpened || o == OutcomeUpdated
}

// Bucket returns the start of the interval containing ts.
// Uses floor division so negative timestamps land in the right bucket.
func Bucket(ts, intervalMs int64) int64 {
	b := ts / intervalMs
	if ts%intervalMs != 0 && ts < 0 {
		b--
	}
	return b * intervalMs
}

// Append incorporates tick into candles and returns the resulting sequence.
// Rejected ticks return the input slice untouched. The last candle may be
// updated in place.
func Append(candles []model.Candle, tick model.Tick, intervalMs int64) ([]model.Candle, Outcome) {
	if intervalMs <= 0 {
		return candles, OutcomeInvalidInterval
	}
	if tick.Validate() != nil {
		return candles, OutcomeInvalid
	}

	bucket := Bucket(tick.TS, intervalMs)
	p := tick.Price

	if len(candles) == 0 || bucket > candles[len(candles)-1].Time {
		return append(candles, model.Candle{Time: bucket, Open: p, High: p, Low: p, Close: p}), OutcomeOpened
	}

	last := &candles[len(candles)-1]
	if bucket < last.Time {
		// Late tick — its bucket is already closed
		return candles, OutcomeLate
	}

	last.High = math.Max(last.High, p)
	last.Low = math.Min(last.Low, p)
	last.Close = p
	return candles, OutcomeUpdated
}

// Verify checks the sequence invariant: strictly increasing, interval-aligned
// bucket times. A failure means the sequence was corrupted by a bug.
func Verify(candles []model.Candle, intervalMs int64) error {
	for i := range candles {
		if candles[i].Time%intervalMs != 0 {
			return fmt.Errorf("candle %d: time %d not aligned to %dms", i, candles[i].Time, intervalMs)
		}
		if i > 0 && candles[i].Time <= candles[i-1].Time {
			return fmt.Errorf("candle %d: time %d not after %d", i, candles[i].Time, candles[i-1].Time)
		}
	}
	return nil
}

// Aggregator owns the candle sequence of one instrument.
// Not safe for concurrent use; the pipeline serializes access.
type Aggregator struct {
	intervalMs int64
	maxCandles int
	candles    []model.Candle

	// Optional hook, called for every rejected tick.
	OnDroppedTick func(o Outcome)
}

// New creates an Aggregator with a fixed bucket width. maxCandles bounds the
// retained history (oldest closed candles are trimmed); 0 means unbounded.
func New(intervalMs int64, maxCandles int) (*Aggregator, error) {
	if intervalMs <= 0 {
		return nil, fmt.Errorf("agg: interval must be > 0, got %d", intervalMs)
	}
	if maxCandles < 0 {
		maxCandles = 0
	}
	return &Aggregator{
		intervalMs: intervalMs,
		maxCandles: maxCandles,
		candles:    make([]model.Candle, 0, 256),
	}, nil
}

// Interval returns the bucket width in milliseconds.
func (a *Aggregator) Interval() int64 { return a.intervalMs }

// Add folds one tick into the sequence.
func (a *Aggregator) Add(tick model.Tick) Outcome {
	var out Outcome
	a.candles, out = Append(a.candles, tick, a.intervalMs)
	if !out.Accepted() {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick(out)
		}
		return out
	}
	if out == OutcomeOpened && a.maxCandles > 0 && len(a.candles) > a.maxCandles {
		n := len(a.candles) - a.maxCandles
		a.candles = append(a.candles[:0], a.candles[n:]...)
	}
	return out
}

// Candles returns the live sequence. Callers must not retain or mutate it
// outside the owning goroutine; use Snapshot for that.
func (a *Aggregator) Candles() []model.Candle { return a.candles }

// Len returns the number of candles held.
func (a *Aggregator) Len() int { return len(a.candles) }

// Last returns the open candle.
func (a *Aggregator) Last() (model.Candle, bool) {
	if len(a.candles) == 0 {
		return model.Candle{}, false
	}
	return a.candles[len(a.candles)-1], true
}

// Snapshot returns a copy of the sequence.
func (a *Aggregator) Snapshot() []model.Candle {
	out := make([]model.Candle, len(a.candles))
	copy(out, a.candles)
	return out
}

// Closes returns the close-price view of the sequence.
func (a *Aggregator) Closes() []float64 {
	return model.Closes(a.candles)
}

// Reset drops all candles.
func (a *Aggregator) Reset() {
	a.candles = a.candles[:0]
}
