// Package mockfeed generates a synthetic tick stream in-process, for running
// the engine without a market data connection.
package mockfeed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"signalengine/internal/model"
)

// Defaults reproduce a slow sine wave around 100 with small noise.
const (
	DefaultInterval  = 100 * time.Millisecond
	DefaultBase      = 100.0
	DefaultAmplitude = 2.0
	DefaultPeriod    = 4 * time.Second // divisor of elapsed time inside sin()
	DefaultNoise     = 0.1             // half-width of the uniform noise
)

// Config controls the waveform.
type Config struct {
	Symbol    string
	Interval  time.Duration
	Base      float64
	Amplitude float64
	Period    time.Duration
	Noise     float64
	Seed      int64 // 0 = time-seeded
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Base == 0 {
		c.Base = DefaultBase
	}
	if c.Amplitude == 0 {
		c.Amplitude = DefaultAmplitude
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Noise == 0 {
		c.Noise = DefaultNoise
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Feed emits ticks on a fixed cadence.
type Feed struct {
	cfg Config
	rng *rand.Rand

	// Optional hook, called when tickCh is full and a tick is dropped.
	OnDrop func()
}

// New creates a Feed.
func New(cfg Config) *Feed {
	cfg.defaults()
	return &Feed{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// PriceAt returns the waveform value elapsed after start with noise u in
// [-1, 1) scaled by Noise.
func (f *Feed) PriceAt(elapsed time.Duration, u float64) float64 {
	x := float64(elapsed) / float64(f.cfg.Period)
	return f.cfg.Base + f.cfg.Amplitude*math.Sin(x) + u*f.cfg.Noise
}

// Next produces the tick for the given instant.
func (f *Feed) Next(start, now time.Time) model.Tick {
	u := f.rng.Float64()*2 - 1
	return model.Tick{
		Symbol: f.cfg.Symbol,
		Price:  f.PriceAt(now.Sub(start), u),
		TS:     now.UnixMilli(),
	}
}

// Start emits ticks into tickCh until ctx is cancelled.
func (f *Feed) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			select {
			case tickCh <- f.Next(start, now):
			default:
				if f.OnDrop != nil {
					f.OnDrop()
				}
			}
		}
	}
}
