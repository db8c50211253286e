package strategy

import (
	"math"
	"sync"
	"sync/atomic"

	"signalengine/internal/model"
)

// FireState remembers the last (candle, side) pair a Detector fired on.
type FireState struct {
	Fired          bool       `json:"fired"`
	LastCandleTime int64      `json:"last_candle_time"`
	LastSide       model.Side `json:"last_side"`
}

// Detector is the per-instrument, edge-triggered signal source.
// The threshold may be changed from any goroutine; Evaluate is meant to be
// called from the single pipeline goroutine.
type Detector struct {
	symbol     string
	minCandles int
	threshold  atomic.Uint64 // math.Float64bits

	mu    sync.Mutex
	state FireState

	// Optional hooks.
	OnSuppressed func(t Trigger)
}

// NewDetector creates a Detector. minCandles is the warm-up floor
// (indicator.Engine.MinCandles); threshold must be > 0.
func NewDetector(symbol string, minCandles int, threshold float64) (*Detector, error) {
	d := &Detector{symbol: symbol, minCandles: minCandles}
	if err := d.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return d, nil
}

// SetThreshold replaces the momentum threshold. Takes effect on the next Evaluate.
func (d *Detector) SetThreshold(th float64) error {
	if !ValidThreshold(th) {
		return ErrInvalidThreshold
	}
	d.threshold.Store(math.Float64bits(th))
	return nil
}

// Threshold returns the current momentum threshold.
func (d *Detector) Threshold() float64 {
	return math.Float64frombits(d.threshold.Load())
}

// Evaluate runs Detect on the latest candle and applies the fire-state:
// a trigger for the same candle time and side as the last emitted signal
// is suppressed.
func (d *Detector) Evaluate(candles []model.Candle, series model.IndicatorSeries) *model.Signal {
	t := detect(candles, series.MACD, series.Signal, series.Momentum, d.Threshold(), d.minCandles)
	if t == nil {
		return nil
	}

	d.mu.Lock()
	if d.state.Fired && d.state.LastCandleTime == t.CandleTime && d.state.LastSide == t.Side {
		d.mu.Unlock()
		if d.OnSuppressed != nil {
			d.OnSuppressed(*t)
		}
		return nil
	}
	d.state = FireState{Fired: true, LastCandleTime: t.CandleTime, LastSide: t.Side}
	d.mu.Unlock()

	sig := model.NewSignal(d.symbol, t.Side, t.CandleTime, t.Reason)
	return &sig
}

// State returns a copy of the fire-state.
func (d *Detector) State() FireState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset clears the fire-state.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.state = FireState{}
	d.mu.Unlock()
}
