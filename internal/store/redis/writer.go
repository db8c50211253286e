// Package redis publishes pipeline output to Redis for live consumers:
// latest values as keys, history as capped streams, updates over Pub/Sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

const (
	// ~3h of 5s candles + buffer
	candleStreamMaxLen = 2500
	signalStreamMaxLen = 1000
	defaultLatestTTL   = 30 * time.Minute
	maxPendingSignals  = 200
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Circuit breaker: consecutive failures before writes are skipped, and
	// how long to wait before probing again.
	MaxFailures  int
	ResetTimeout time.Duration
}

// Writer writes candle updates and signals to Redis.
// Candle writes made while the breaker is open are skipped; signals are
// queued (bounded) and replayed once Redis recovers.
type Writer struct {
	client *goredis.Client
	cb     *CircuitBreaker
	log    *slog.Logger
	m      *metrics.Metrics

	mu      sync.Mutex
	pending []model.Signal
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server. m may be nil.
func New(cfg WriterConfig, log *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}

	w := &Writer{
		client: client,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:    log.With("component", "redis", "addr", cfg.Addr),
		m:      m,
	}
	w.cb.OnStateChange = func(from, to State) {
		w.log.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
	}
	w.log.Info("connected")
	return w, nil
}

// RunCandles implements model.CandleSink.
func (w *Writer) RunCandles(ctx context.Context, ch <-chan model.CandleUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			if err := w.WriteCandleUpdate(ctx, u); err != nil && !errors.Is(err, ErrCircuitOpen) {
				w.log.Error("candle write failed", "symbol", u.Symbol, "time", u.Candle.Time, "error", err)
			}
		}
	}
}

// RunSignals implements model.SignalSink.
func (w *Writer) RunSignals(ctx context.Context, ch <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := w.WriteSignal(ctx, s); err != nil {
				w.log.Error("signal write failed, queued", "id", s.ID, "error", err)
			}
		}
	}
}

// WriteCandleUpdate pipelines SET latest + PUBLISH for the open candle and
// XADD for the candle it closed, if any. A successful write also flushes
// signals queued during an outage.
func (w *Writer) WriteCandleUpdate(ctx context.Context, u model.CandleUpdate) error {
	err := w.exec(ctx, func(pipe goredis.Pipeliner) {
		jsonData := string(u.Candle.JSON())
		pipe.Set(ctx, LatestCandleKey(u.Symbol), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, CandleChannel(u.Symbol), jsonData)
		if u.Closed != nil {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: CandleStreamKey(u.Symbol),
				MaxLen: candleStreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": string(u.Closed.JSON())},
			})
		}
	})
	if err != nil {
		return err
	}
	if w.Pending() > 0 {
		if ferr := w.FlushPending(ctx); ferr != nil {
			w.log.Warn("queued signal flush failed", "error", ferr)
		}
	}
	return nil
}

// WriteSignal pipelines XADD + SET latest + PUBLISH for one signal, after
// replaying any signals queued during an outage. On failure the signal is
// queued.
func (w *Writer) WriteSignal(ctx context.Context, s model.Signal) error {
	return w.writeQueued(ctx, &s)
}

// FlushPending writes signals queued during an outage. They are requeued
// if the write fails.
func (w *Writer) FlushPending(ctx context.Context) error {
	return w.writeQueued(ctx, nil)
}

// writeQueued writes the queue plus s (if non-nil) in one pipeline.
func (w *Writer) writeQueued(ctx context.Context, s *model.Signal) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	queued := len(batch)
	if s != nil {
		batch = append(batch, *s)
	}
	if len(batch) == 0 {
		return nil
	}

	err := w.exec(ctx, func(pipe goredis.Pipeliner) {
		for i := range batch {
			addSignal(ctx, pipe, &batch[i])
		}
	})
	if err != nil {
		w.requeue(batch)
		return err
	}
	if queued > 0 {
		w.log.Info("flushed queued signals", "count", queued)
	}
	return nil
}

func addSignal(ctx context.Context, pipe goredis.Pipeliner, s *model.Signal) {
	jsonData := string(s.JSON())
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStreamKey(s.Symbol),
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, LatestSignalKey(s.Symbol), jsonData, 0)
	pipe.Publish(ctx, SignalChannel(s.Symbol), jsonData)
}

// requeue puts batch back in front of anything queued since, dropping the
// oldest beyond the cap.
func (w *Writer) requeue(batch []model.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(batch, w.pending...)
	if n := len(w.pending) - maxPendingSignals; n > 0 {
		w.pending = w.pending[n:]
		w.log.Warn("signal queue full, dropped oldest", "dropped", n)
	}
}

// Pending returns the number of queued signals.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Breaker exposes the circuit breaker state.
func (w *Writer) Breaker() *CircuitBreaker { return w.cb }

func (w *Writer) exec(ctx context.Context, fill func(goredis.Pipeliner)) error {
	return w.cb.Execute(func() error {
		start := time.Now()
		pipe := w.client.Pipeline()
		fill(pipe)
		_, err := pipe.Exec(ctx)
		if w.m != nil {
			w.m.RedisWriteDur.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return fmt.Errorf("redis pipeline: %w", err)
		}
		return nil
	})
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	if n := w.Pending(); n > 0 {
		w.log.Warn("closing with queued signals", "count", n)
	}
	return w.client.Close()
}
