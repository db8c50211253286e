package indicator

import "signalengine/internal/model"

// Tracker maintains the indicator series incrementally, one candle at a
// time. Closed candles are folded into streaming MACD and momentum state;
// the open candle is evaluated with Peek so it can be re-quoted freely.
//
// Values are bit-identical to Engine.Compute over the full close history,
// including after Trim: trimming drops retained positions but never re-seeds
// the EMAs.
type Tracker struct {
	cfg  Config
	macd *MACD
	mom  Indicator

	line, sig, hist, momv []float64 // aligned to the retained window

	total     int     // candles ever opened
	openClose float64 // latest close of the open candle
}

// NewTracker creates an empty Tracker with the engine's spans.
func (e *Engine) NewTracker() *Tracker {
	return &Tracker{
		cfg:  e.cfg,
		macd: NewMACD(e.cfg.FastSpan, e.cfg.SlowSpan, e.cfg.SignalSpan),
		mom:  NewMomentum(e.cfg.Lookback),
	}
}

// Open starts a new candle with its first close, committing the previous
// open candle's final close.
func (t *Tracker) Open(close float64) {
	if t.total > 0 {
		t.macd.Update(t.openClose)
		t.mom.Update(t.openClose)
	}
	t.total++
	t.line = append(t.line, 0)
	t.sig = append(t.sig, 0)
	t.hist = append(t.hist, 0)
	t.momv = append(t.momv, 0)
	t.Quote(close)
}

// Quote re-evaluates the open candle with its latest close.
func (t *Tracker) Quote(close float64) {
	n := len(t.line)
	if n == 0 {
		return
	}
	t.openClose = close
	p := t.macd.PeekPoint(close)
	t.line[n-1], t.sig[n-1], t.hist[n-1] = p.MACD, p.Signal, p.Histogram
	// Momentum.Peek is zero until lookback closes are committed.
	t.momv[n-1] = t.mom.Peek(close)
}

// Trim drops the n oldest retained positions.
func (t *Tracker) Trim(n int) {
	if n <= 0 {
		return
	}
	if n > len(t.line) {
		n = len(t.line)
	}
	t.line = append(t.line[:0], t.line[n:]...)
	t.sig = append(t.sig[:0], t.sig[n:]...)
	t.hist = append(t.hist[:0], t.hist[n:]...)
	t.momv = append(t.momv[:0], t.momv[n:]...)
}

// Len returns the number of retained positions.
func (t *Tracker) Len() int { return len(t.line) }

// Dropped returns how many positions have been trimmed so far.
func (t *Tracker) Dropped() int { return t.total - len(t.line) }

// Ready reports whether the most recent closed candle has defined MACD,
// signal and momentum values.
func (t *Tracker) Ready() bool {
	return t.macd.Ready() && t.mom.Ready()
}

// Names lists the tracked oscillators.
func (t *Tracker) Names() []string {
	return []string{t.macd.Name(), t.mom.Name()}
}

// Series returns the retained window. The slices alias tracker state and
// are only valid until the next Open, Quote or Trim; use Copy to keep them.
func (t *Tracker) Series() model.IndicatorSeries {
	d := t.Dropped()
	start := func(abs int) int {
		if abs-d < 0 {
			return 0
		}
		return abs - d
	}
	return model.IndicatorSeries{
		MACD:      model.Series{Values: t.line, Start: start(t.cfg.MACDStart())},
		Signal:    model.Series{Values: t.sig, Start: start(t.cfg.SignalStart())},
		Histogram: model.Series{Values: t.hist, Start: start(t.cfg.SignalStart())},
		Momentum:  model.Series{Values: t.momv, Start: start(t.cfg.Lookback)},
	}
}

// Copy returns a deep copy of s.
func Copy(s model.IndicatorSeries) model.IndicatorSeries {
	cp := func(x model.Series) model.Series {
		return model.Series{Values: append([]float64(nil), x.Values...), Start: x.Start}
	}
	return model.IndicatorSeries{
		MACD:      cp(s.MACD),
		Signal:    cp(s.Signal),
		Histogram: cp(s.Histogram),
		Momentum:  cp(s.Momentum),
	}
}
