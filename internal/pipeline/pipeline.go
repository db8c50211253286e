// Package pipeline runs the per-instrument tick → candle → indicator →
// signal chain and fans its outputs out to sinks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalengine/internal/indicator"
	"signalengine/internal/logger"
	"signalengine/internal/marketdata/agg"
	"signalengine/internal/marketdata/bus"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/ringbuf"
	"signalengine/internal/strategy"
)

// SignalLogCapacity is the number of recent signals retained in memory.
const SignalLogCapacity = 200

// Config holds the construction parameters of one pipeline.
type Config struct {
	Symbol            string
	IntervalMs        int64
	MomentumThreshold float64
	MaxCandles        int // 0 = unbounded
	SignalLogCapacity int
	SinkBuffer        int // per-subscriber channel size
	Indicators        indicator.Config
}

// DefaultConfig returns the default settings for symbol.
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:            symbol,
		IntervalMs:        5000,
		MomentumThreshold: 0.5,
		SignalLogCapacity: SignalLogCapacity,
		SinkBuffer:        256,
		Indicators:        indicator.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("pipeline: symbol is required")
	}
	if c.IntervalMs <= 0 {
		return fmt.Errorf("pipeline: interval must be > 0, got %d", c.IntervalMs)
	}
	if !strategy.ValidThreshold(c.MomentumThreshold) {
		return fmt.Errorf("pipeline: %w: %v", strategy.ErrInvalidThreshold, c.MomentumThreshold)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.MaxCandles > 0 && c.MaxCandles < c.Indicators.MinCandles() {
		return fmt.Errorf("pipeline: max candles %d below warm-up floor %d", c.MaxCandles, c.Indicators.MinCandles())
	}
	return nil
}

// Snapshot is a point-in-time copy of pipeline state for readers.
type Snapshot struct {
	Symbol     string                `json:"symbol"`
	IntervalMs int64                 `json:"interval_ms"`
	Threshold  float64               `json:"momentum_threshold"`
	Candles    []model.Candle        `json:"candles"`
	Signals    []model.Signal        `json:"signals"` // newest first
	Latest     *model.Signal         `json:"latest,omitempty"`
	Series     model.IndicatorSeries `json:"-"`
	Ready      bool                  `json:"indicators_ready"`
	FireState  strategy.FireState    `json:"fire_state"`
}

// Pipeline owns the candle sequence, indicator series, detector and signal
// log of one instrument. Process must be called from a single goroutine;
// Snapshot and SetThreshold are safe from any goroutine.
type Pipeline struct {
	cfg Config
	log *slog.Logger
	m   *metrics.Metrics // nil disables metrics

	mu       sync.RWMutex
	agg      *agg.Aggregator
	engine   *indicator.Engine
	tracker  *indicator.Tracker
	detector *strategy.Detector
	signals  *ringbuf.Ring[model.Signal]

	candleBus *bus.FanOut[model.CandleUpdate]
	signalBus *bus.FanOut[model.Signal]
}

// New builds a pipeline. m may be nil.
func New(cfg Config, log *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if cfg.SignalLogCapacity <= 0 {
		cfg.SignalLogCapacity = SignalLogCapacity
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = 256
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := agg.New(cfg.IntervalMs, cfg.MaxCandles)
	if err != nil {
		return nil, err
	}
	eng, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return nil, err
	}
	det, err := strategy.NewDetector(cfg.Symbol, eng.MinCandles(), cfg.MomentumThreshold)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		log:       log.With("component", "pipeline", "symbol", cfg.Symbol),
		m:         m,
		agg:       a,
		engine:    eng,
		tracker:   eng.NewTracker(),
		detector:  det,
		signals:   ringbuf.New[model.Signal](cfg.SignalLogCapacity),
		candleBus: bus.New[model.CandleUpdate](cfg.SinkBuffer),
		signalBus: bus.New[model.Signal](cfg.SinkBuffer),
	}

	a.OnDroppedTick = p.onDropped
	det.OnSuppressed = func(t strategy.Trigger) {
		if m != nil {
			m.SignalsSuppressed.Inc()
		}
		p.log.Debug("repeat trigger suppressed", "side", t.Side, "candle_time", t.CandleTime)
	}
	p.candleBus.OnDrop = p.onSinkDrop
	p.signalBus.OnDrop = p.onSinkDrop

	if m != nil {
		m.MomentumThreshold.Set(cfg.MomentumThreshold)
	}
	return p, nil
}

func (p *Pipeline) onDropped(o agg.Outcome) {
	if p.m != nil {
		switch o {
		case agg.OutcomeLate:
			p.m.LateTicks.Inc()
		default:
			p.m.InvalidTicks.Inc()
		}
	}
	p.log.Debug("tick dropped", "reason", o.String())
}

func (p *Pipeline) onSinkDrop(sink string) {
	if p.m != nil {
		p.m.SinkDropsTotal.WithLabelValues(sink).Inc()
	}
}

// Symbol returns the instrument this pipeline serves.
func (p *Pipeline) Symbol() string { return p.cfg.Symbol }

// IntervalMs returns the candle width.
func (p *Pipeline) IntervalMs() int64 { return p.cfg.IntervalMs }

// MinCandles returns the detection warm-up floor.
func (p *Pipeline) MinCandles() int { return p.engine.MinCandles() }

// SubscribeCandles registers a named candle consumer. Subscribe before Run.
func (p *Pipeline) SubscribeCandles(name string) <-chan model.CandleUpdate {
	return p.candleBus.Subscribe(name)
}

// SubscribeSignals registers a named signal consumer. Subscribe before Run.
func (p *Pipeline) SubscribeSignals(name string) <-chan model.Signal {
	return p.signalBus.Subscribe(name)
}

// SinkStats reports the fill level of every subscriber channel.
func (p *Pipeline) SinkStats() []bus.ChannelStat {
	return append(p.candleBus.ChannelStats(), p.signalBus.ChannelStats()...)
}

// Process runs one tick through aggregate → compute → detect.
// It returns the emitted signal, if any, and what the aggregator did with
// the tick.
func (p *Pipeline) Process(tick model.Tick) (*model.Signal, agg.Outcome) {
	start := time.Now()
	if p.m != nil {
		p.m.TicksTotal.Inc()
	}
	if tick.Symbol != "" && tick.Symbol != p.cfg.Symbol {
		p.onDropped(agg.OutcomeInvalid)
		return nil, agg.OutcomeInvalid
	}

	p.mu.Lock()
	prev, hadPrev := p.agg.Last()
	out := p.agg.Add(tick)
	if !out.Accepted() {
		p.mu.Unlock()
		return nil, out
	}

	candles := p.agg.Candles()
	last := candles[len(candles)-1]
	if out == agg.OutcomeOpened {
		p.tracker.Open(last.Close)
		// Keep the indicator window aligned with the trimmed candle window.
		p.tracker.Trim(p.tracker.Len() - len(candles))
	} else {
		p.tracker.Quote(last.Close)
	}
	sig := p.detector.Evaluate(candles, p.tracker.Series())
	if sig != nil {
		p.signals.Push(*sig)
	}

	upd := model.CandleUpdate{
		Symbol:  p.cfg.Symbol,
		Candle:  last,
		Opened:  out == agg.OutcomeOpened,
		Candles: len(candles),
	}
	if upd.Opened && hadPrev {
		closed := prev
		upd.Closed = &closed
	}
	p.mu.Unlock()

	p.candleBus.Publish(upd)
	if sig != nil {
		p.signalBus.Publish(*sig)
		ctx := logger.WithTraceID(context.Background(), logger.GenerateTraceID(sig.Symbol, sig.CandleTime))
		p.log.Info("signal emitted",
			append(logger.LogWithTrace(ctx),
				"id", sig.ID, "side", sig.Side, "candle_time", sig.CandleTime, "reason", sig.Reason)...)
	}

	if p.m != nil {
		p.m.PipelineStepDur.Observe(time.Since(start).Seconds())
		p.m.CandleCount.Set(float64(upd.Candles))
		if upd.Opened {
			p.m.CandlesTotal.Inc()
		}
		if sig != nil {
			p.m.SignalsTotal.WithLabelValues(string(sig.Side)).Inc()
		}
	}
	return sig, out
}

// Run consumes ticks until ctx is cancelled or ticks is closed, then
// closes every subscriber channel.
func (p *Pipeline) Run(ctx context.Context, ticks <-chan model.Tick) {
	defer p.candleBus.Close()
	defer p.signalBus.Close()

	p.log.Info("pipeline started",
		"interval_ms", p.cfg.IntervalMs,
		"threshold", p.Threshold(),
		"min_candles", p.MinCandles(),
		"indicators", p.tracker.Names(),
	)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("pipeline stopped", "reason", ctx.Err())
			return
		case t, ok := <-ticks:
			if !ok {
				p.log.Info("pipeline stopped", "reason", "tick source closed")
				return
			}
			p.Process(t)
		}
	}
}

// SetThreshold changes the momentum threshold for subsequent detections.
func (p *Pipeline) SetThreshold(th float64) error {
	if err := p.detector.SetThreshold(th); err != nil {
		return err
	}
	if p.m != nil {
		p.m.MomentumThreshold.Set(th)
	}
	p.log.Info("momentum threshold updated", "threshold", th)
	return nil
}

// Threshold returns the current momentum threshold.
func (p *Pipeline) Threshold() float64 { return p.detector.Threshold() }

// Signals returns up to n recent signals, newest first. n <= 0 returns all.
func (p *Pipeline) Signals(n int) []model.Signal {
	if n <= 0 {
		return p.signals.Snapshot()
	}
	return p.signals.Head(n)
}

// Snapshot copies the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Symbol:     p.cfg.Symbol,
		IntervalMs: p.cfg.IntervalMs,
		Threshold:  p.detector.Threshold(),
		Candles:    p.agg.Snapshot(),
		Signals:    p.signals.Snapshot(),
		Series:     indicator.Copy(p.tracker.Series()),
		Ready:      p.tracker.Ready(),
		FireState:  p.detector.State(),
	}
	if latest, ok := p.signals.Latest(); ok {
		s.Latest = &latest
	}
	return s
}

// Verify checks the candle sequence invariant and, while no candle has
// been trimmed, that the incremental indicator series equals a full
// recompute.
func (p *Pipeline) Verify() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	candles := p.agg.Candles()
	if err := agg.Verify(candles, p.cfg.IntervalMs); err != nil {
		return err
	}
	if p.tracker.Len() != len(candles) {
		return fmt.Errorf("pipeline: indicator window %d != candle window %d", p.tracker.Len(), len(candles))
	}
	if p.tracker.Dropped() > 0 {
		return nil
	}
	want := p.engine.Compute(model.Closes(candles))
	got := p.tracker.Series()
	for i := range candles {
		if got.MACD.Values[i] != want.MACD.Values[i] ||
			got.Signal.Values[i] != want.Signal.Values[i] ||
			got.Momentum.Values[i] != want.Momentum.Values[i] {
			return fmt.Errorf("pipeline: indicator drift at candle %d", i)
		}
	}
	return nil
}
