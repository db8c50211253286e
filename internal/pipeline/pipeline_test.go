package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"signalengine/internal/marketdata/agg"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

const sym = "OTC-EURUSD"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ascendingCloses rises 100 -> 110 over 50 candles with a flat stretch
// after candle 14; the MACD line recrosses its signal line at candle 46.
func ascendingCloses() []float64 {
	out := make([]float64, 0, 50)
	for i := 0; i < 15; i++ {
		out = append(out, 100+5*float64(i)/14)
	}
	base := out[len(out)-1]
	for i := 0; i < 6; i++ {
		out = append(out, base+0.2*float64(i+1)/6)
	}
	base = out[len(out)-1]
	for i := 0; i < 29; i++ {
		out = append(out, base+4.8*float64(i+1)/29)
	}
	return out
}

func newPipeline(t *testing.T, th float64, m *metrics.Metrics) *Pipeline {
	t.Helper()
	cfg := DefaultConfig(sym)
	cfg.MomentumThreshold = th
	p, err := New(cfg, quietLogger(), m)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// feed sends one tick per candle, mid-bucket.
func feed(p *Pipeline, closes []float64) map[int]*model.Signal {
	fired := make(map[int]*model.Signal)
	for i, c := range closes {
		sig, _ := p.Process(model.Tick{Symbol: sym, Price: c, TS: int64(i)*5000 + 1200})
		if sig != nil {
			fired[i] = sig
		}
	}
	return fired
}

func TestProcess_AscendingScenario(t *testing.T) {
	p := newPipeline(t, 0.3, nil)
	fired := feed(p, ascendingCloses())

	if len(fired) != 1 {
		t.Fatalf("expected one signal, got %d", len(fired))
	}
	sig := fired[46]
	if sig == nil {
		t.Fatalf("expected signal at candle 46, got %v", fired)
	}
	if sig.Side != model.SideUp || sig.CandleTime != 46*5000 || sig.Symbol != sym {
		t.Errorf("unexpected signal %+v", sig)
	}

	snap := p.Snapshot()
	if len(snap.Candles) != 50 {
		t.Fatalf("expected 50 candles, got %d", len(snap.Candles))
	}
	if len(snap.Signals) != 1 || snap.Latest == nil || snap.Latest.ID != sig.ID {
		t.Errorf("signal log not updated: %+v", snap.Signals)
	}
	if !snap.FireState.Fired || snap.FireState.LastSide != model.SideUp {
		t.Errorf("unexpected fire-state %+v", snap.FireState)
	}
	if snap.Series.MACD.Len() != 50 {
		t.Errorf("series not aligned to candles: %d", snap.Series.MACD.Len())
	}
	if err := p.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestProcess_RepeatTicksInSignalCandleDoNotRefire(t *testing.T) {
	p := newPipeline(t, 0.3, nil)
	closes := ascendingCloses()
	fired := feed(p, closes[:47])
	if fired[46] == nil {
		t.Fatalf("expected signal at candle 46, got %v", fired)
	}

	// Re-quoting the same price keeps the cross alive on candle 46.
	for i := 0; i < 5; i++ {
		sig, out := p.Process(model.Tick{Symbol: sym, Price: closes[46], TS: 46*5000 + 3000})
		if sig != nil || out != agg.OutcomeUpdated {
			t.Fatalf("re-quote %d: sig=%v out=%s", i, sig, out)
		}
	}
	if got := len(p.Signals(0)); got != 1 {
		t.Fatalf("expected one logged signal, got %d", got)
	}
}

func TestProcess_HighThresholdFiresNothing(t *testing.T) {
	p := newPipeline(t, 2.0, nil)
	if fired := feed(p, ascendingCloses()); len(fired) != 0 {
		t.Fatalf("expected no signals, got %v", fired)
	}
}

func TestProcess_DroppedTicksAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := newPipeline(t, 0.5, m)

	p.Process(model.Tick{Symbol: sym, Price: 100, TS: 10_000})
	if _, out := p.Process(model.Tick{Symbol: sym, Price: 101, TS: 1_000}); out != agg.OutcomeLate {
		t.Fatalf("expected late, got %s", out)
	}
	if _, out := p.Process(model.Tick{Symbol: sym, Price: math.NaN(), TS: 11_000}); out != agg.OutcomeInvalid {
		t.Fatalf("expected invalid, got %s", out)
	}
	if _, out := p.Process(model.Tick{Symbol: "OTHER", Price: 100, TS: 11_000}); out != agg.OutcomeInvalid {
		t.Fatalf("foreign symbol: expected invalid, got %s", out)
	}

	if got := testutil.ToFloat64(m.TicksTotal); got != 4 {
		t.Errorf("ticks: got %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.LateTicks); got != 1 {
		t.Errorf("late: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InvalidTicks); got != 2 {
		t.Errorf("invalid: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CandlesTotal); got != 1 {
		t.Errorf("candles: got %v, want 1", got)
	}
	if snap := p.Snapshot(); len(snap.Candles) != 1 || snap.Candles[0].Close != 100 {
		t.Errorf("dropped ticks changed state: %+v", snap.Candles)
	}
}

func TestProcess_EmptySymbolAccepted(t *testing.T) {
	p := newPipeline(t, 0.5, nil)
	if _, out := p.Process(model.Tick{Price: 100, TS: 0}); out != agg.OutcomeOpened {
		t.Fatalf("expected opened, got %s", out)
	}
}

func TestSubscribers_ReceiveUpdatesAndClosedCandles(t *testing.T) {
	p := newPipeline(t, 0.3, nil)
	candles := p.SubscribeCandles("test")
	signals := p.SubscribeSignals("test")

	closes := ascendingCloses()
	feed(p, closes)

	var updates []model.CandleUpdate
	for len(updates) < len(closes) {
		updates = append(updates, <-candles)
	}
	if updates[0].Closed != nil {
		t.Error("first candle should not close anything")
	}
	for i := 1; i < len(updates); i++ {
		u := updates[i]
		if !u.Opened || u.Closed == nil {
			t.Fatalf("update %d: expected opened with closed candle, got %+v", i, u)
		}
		if u.Closed.Time != int64(i-1)*5000 || u.Closed.Close != closes[i-1] {
			t.Fatalf("update %d: wrong closed candle %+v", i, u.Closed)
		}
	}

	select {
	case s := <-signals:
		if s.CandleTime != 46*5000 {
			t.Errorf("unexpected signal %+v", s)
		}
	default:
		t.Fatal("expected a signal on the subscriber channel")
	}
}

func TestSubscribers_SlowSinkDropsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	cfg := DefaultConfig(sym)
	cfg.SinkBuffer = 2
	p, err := New(cfg, quietLogger(), m)
	if err != nil {
		t.Fatal(err)
	}
	p.SubscribeCandles("slow")

	for i := 0; i < 5; i++ {
		p.Process(model.Tick{Symbol: sym, Price: 100, TS: int64(i) * 5000})
	}
	if got := testutil.ToFloat64(m.SinkDropsTotal.WithLabelValues("slow")); got != 3 {
		t.Fatalf("expected 3 drops, got %v", got)
	}
	stats := p.SinkStats()
	if len(stats) != 1 || stats[0].Len != 2 {
		t.Fatalf("unexpected sink stats %+v", stats)
	}
}

func TestRun_ClosesSubscribersWhenSourceEnds(t *testing.T) {
	p := newPipeline(t, 0.5, nil)
	out := p.SubscribeCandles("test")
	ticks := make(chan model.Tick, 3)
	ticks <- model.Tick{Symbol: sym, Price: 100, TS: 0}
	ticks <- model.Tick{Symbol: sym, Price: 101, TS: 5000}
	close(ticks)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), ticks)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after source closed")
	}
	n := 0
	for range out {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 updates before close, got %d", n)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := newPipeline(t, 0.5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan model.Tick))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestSetThreshold(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := newPipeline(t, 0.5, m)

	if err := p.SetThreshold(1.25); err != nil {
		t.Fatal(err)
	}
	if p.Threshold() != 1.25 || p.Snapshot().Threshold != 1.25 {
		t.Errorf("threshold not applied: %v", p.Threshold())
	}
	if got := testutil.ToFloat64(m.MomentumThreshold); got != 1.25 {
		t.Errorf("gauge: got %v", got)
	}
	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := p.SetThreshold(bad); !errors.Is(err, strategy.ErrInvalidThreshold) {
			t.Errorf("SetThreshold(%v): expected ErrInvalidThreshold, got %v", bad, err)
		}
	}
	if p.Threshold() != 1.25 {
		t.Errorf("rejected value changed threshold: %v", p.Threshold())
	}
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	p := newPipeline(t, 0.5, nil)
	p.Process(model.Tick{Symbol: sym, Price: 100, TS: 0})
	snap := p.Snapshot()
	p.Process(model.Tick{Symbol: sym, Price: 150, TS: 100})

	if snap.Candles[0].High != 100 {
		t.Fatalf("snapshot aliased live candle: %+v", snap.Candles[0])
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no symbol", func(c *Config) { c.Symbol = "" }},
		{"zero interval", func(c *Config) { c.IntervalMs = 0 }},
		{"zero threshold", func(c *Config) { c.MomentumThreshold = 0 }},
		{"nan threshold", func(c *Config) { c.MomentumThreshold = math.NaN() }},
		{"history below warm-up", func(c *Config) { c.MaxCandles = 20 }},
		{"bad spans", func(c *Config) { c.Indicators.FastSpan = 30 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(sym)
			tc.mutate(&cfg)
			if _, err := New(cfg, quietLogger(), nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	cfg := DefaultConfig(sym)
	cfg.MaxCandles = 35
	if _, err := New(cfg, quietLogger(), nil); err != nil {
		t.Fatalf("max candles at warm-up floor should be accepted: %v", err)
	}
}

type firedKey struct {
	side       model.Side
	candleTime int64
}

// runWalk feeds a seeded random walk with several ticks per bucket and
// returns the signals in emission order.
func runWalk(t *testing.T, maxCandles int) ([]firedKey, *Pipeline) {
	t.Helper()
	cfg := DefaultConfig(sym)
	cfg.MomentumThreshold = 0.05
	cfg.MaxCandles = maxCandles
	p, err := New(cfg, quietLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(7))
	price := 100.0
	var fired []firedKey
	for i := 0; i < 600; i++ {
		price += rng.NormFloat64() * 0.2
		if price < 1 {
			price = 1
		}
		// Three ticks per 5s bucket.
		ts := int64(i) * 5000 / 3
		if sig, _ := p.Process(model.Tick{Symbol: sym, Price: price, TS: ts}); sig != nil {
			fired = append(fired, firedKey{sig.Side, sig.CandleTime})
		}
	}
	return fired, p
}

func TestProcess_CandleCapKeepsSignals(t *testing.T) {
	full, pf := runWalk(t, 0)
	capped, pc := runWalk(t, 35)

	if len(full) == 0 {
		t.Fatal("walk produced no signals; the comparison is vacuous")
	}
	if got := len(pc.Snapshot().Candles); got != 35 {
		t.Fatalf("capped pipeline holds %d candles, want 35", got)
	}
	if len(capped) != len(full) {
		t.Fatalf("capped fired %d signals, uncapped %d", len(capped), len(full))
	}
	for i := range full {
		if capped[i] != full[i] {
			t.Errorf("signal %d: capped %+v, uncapped %+v", i, capped[i], full[i])
		}
	}

	// The retained tail of indicator values must match the uncapped run.
	fs, cs := pf.Snapshot().Series, pc.Snapshot().Series
	off := fs.MACD.Len() - cs.MACD.Len()
	for i := 0; i < cs.MACD.Len(); i++ {
		if cs.MACD.Values[i] != fs.MACD.Values[i+off] || cs.Signal.Values[i] != fs.Signal.Values[i+off] {
			t.Fatalf("indicator tail differs at %d", i)
		}
	}
	if err := pf.Verify(); err != nil {
		t.Fatalf("uncapped verify: %v", err)
	}
	if err := pc.Verify(); err != nil {
		t.Fatalf("capped verify: %v", err)
	}
}
