package indicator

import (
	"fmt"

	"signalengine/internal/model"
)

// Default spans and lookback.
const (
	DefaultFastSpan   = 12
	DefaultSlowSpan   = 26
	DefaultSignalSpan = 9
	DefaultLookback   = 10
)

// Config specifies the MACD spans and the momentum lookback.
type Config struct {
	FastSpan   int
	SlowSpan   int
	SignalSpan int
	Lookback   int
}

// DefaultConfig returns the standard 12/26/9 MACD with a 10-period momentum.
func DefaultConfig() Config {
	return Config{
		FastSpan:   DefaultFastSpan,
		SlowSpan:   DefaultSlowSpan,
		SignalSpan: DefaultSignalSpan,
		Lookback:   DefaultLookback,
	}
}

// Validate checks spans are positive and fast < slow.
func (c Config) Validate() error {
	if c.FastSpan <= 0 || c.SlowSpan <= 0 || c.SignalSpan <= 0 || c.Lookback <= 0 {
		return fmt.Errorf("indicator: spans must be > 0, got %d/%d/%d lookback %d",
			c.FastSpan, c.SlowSpan, c.SignalSpan, c.Lookback)
	}
	if c.FastSpan >= c.SlowSpan {
		return fmt.Errorf("indicator: fast span %d must be < slow span %d", c.FastSpan, c.SlowSpan)
	}
	return nil
}

// MACDStart is the first position where the MACD line is defined.
func (c Config) MACDStart() int { return c.SlowSpan - 1 }

// SignalStart is the first position where the signal line and histogram are defined.
func (c Config) SignalStart() int { return c.SlowSpan - 1 + c.SignalSpan - 1 }

// MinCandles is the warm-up floor for crossover detection: the previous
// position must have a defined signal line, and the latest a defined momentum.
func (c Config) MinCandles() int {
	n := c.SignalStart() + 2
	if c.Lookback+1 > n {
		n = c.Lookback + 1
	}
	return n
}

// Engine computes the aligned indicator series for a close sequence.
// Compute is stateless and recomputes from the full history; NewTracker
// gives the incremental equivalent.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine after validating cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// MinCandles returns the detection warm-up floor for this engine.
func (e *Engine) MinCandles() int { return e.cfg.MinCandles() }

// Compute returns MACD line, signal line, histogram and momentum aligned to closes.
func (e *Engine) Compute(closes []float64) model.IndicatorSeries {
	n := len(closes)
	line := make([]float64, n)
	sig := make([]float64, n)
	hist := make([]float64, n)

	m := NewMACD(e.cfg.FastSpan, e.cfg.SlowSpan, e.cfg.SignalSpan)
	for i, c := range closes {
		m.Update(c)
		p := m.Point()
		line[i], sig[i], hist[i] = p.MACD, p.Signal, p.Histogram
	}

	return model.IndicatorSeries{
		MACD:      model.Series{Values: line, Start: e.cfg.MACDStart()},
		Signal:    model.Series{Values: sig, Start: e.cfg.SignalStart()},
		Histogram: model.Series{Values: hist, Start: e.cfg.SignalStart()},
		Momentum:  model.Series{Values: MomentumValues(closes, e.cfg.Lookback), Start: e.cfg.Lookback},
	}
}

var defaultEngine = &Engine{cfg: DefaultConfig()}

// Compute runs the default 12/26/9 + momentum(10) engine.
func Compute(closes []float64) model.IndicatorSeries {
	return defaultEngine.Compute(closes)
}

// MinCandles is the default warm-up floor (35 candles).
func MinCandles() int { return defaultEngine.MinCandles() }
