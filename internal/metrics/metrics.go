package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	InvalidTicks prometheus.Counter
	LateTicks    prometheus.Counter
	CandlesTotal prometheus.Counter
	CandleCount  prometheus.Gauge

	// Signal detection
	SignalsTotal      *prometheus.CounterVec // labels: side
	SignalsSuppressed prometheus.Counter
	MomentumThreshold prometheus.Gauge

	// Per-tick aggregate + recompute + detect latency
	PipelineStepDur prometheus.Histogram

	// Sinks
	SinkDropsTotal  *prometheus.CounterVec // labels: sink
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	NotifyFailures  prometheus.Counter

	// Feed
	FeedReconnects prometheus.Counter
	GatewayClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_ticks_total",
			Help: "Total ticks received from the feed",
		}),
		InvalidTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_invalid_ticks_total",
			Help: "Ticks rejected for a missing, non-finite or non-positive price",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_late_ticks_total",
			Help: "Ticks dropped because their bucket was already closed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_candles_total",
			Help: "Total candle buckets opened",
		}),
		CandleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_candles_retained",
			Help: "Candles currently held by the pipeline",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_signals_total",
			Help: "Signals emitted (by side)",
		}, []string{"side"}),
		SignalsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_signals_suppressed_total",
			Help: "Repeat triggers suppressed by the fire-state",
		}),
		MomentumThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_momentum_threshold",
			Help: "Current momentum threshold",
		}),

		PipelineStepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_pipeline_step_duration_seconds",
			Help:    "Aggregate + indicator recompute + detect latency per accepted tick",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),

		SinkDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_sink_drops_total",
			Help: "Events dropped because a sink channel was full (by sink)",
		}, []string{"sink"}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_redis_write_duration_seconds",
			Help:    "Redis pipeline write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_notify_failures_total",
			Help: "Signal alerts that failed to deliver",
		}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_feed_reconnects_total",
			Help: "Tick feed reconnection attempts",
		}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_gateway_clients",
			Help: "Connected presentation WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.InvalidTicks,
		m.LateTicks,
		m.CandlesTotal,
		m.CandleCount,
		m.SignalsTotal,
		m.SignalsSuppressed,
		m.MomentumThreshold,
		m.PipelineStepDur,
		m.SinkDropsTotal,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.NotifyFailures,
		m.FeedReconnects,
		m.GatewayClients,
	)

	return m
}

// HealthStatus tracks the health of all pipeline components.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol        string
	IntervalMs    int64
	FeedConnected bool
	LastTickTime  time.Time
	Candles       int

	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool

	// Liveness check results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string, intervalMs int64) *HealthStatus {
	return &HealthStatus{
		Symbol:     symbol,
		IntervalMs: intervalMs,
		StartedAt:  time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTick(t time.Time, candles int) {
	h.mu.Lock()
	h.LastTickTime = t
	h.Candles = candles
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedis(enabled, connected bool) {
	h.mu.Lock()
	h.RedisEnabled = enabled
	h.RedisConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLite(enabled, ok bool) {
	h.mu.Lock()
	h.SQLiteEnabled = enabled
	h.SQLiteOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	Symbol          string  `json:"symbol"`
	IntervalMs      int64   `json:"interval_ms"`
	FeedConnected   bool    `json:"feed_connected"`
	LastTickTime    string  `json:"last_tick_time"`
	TickAge         string  `json:"tick_age"`
	Candles         int     `json:"candles"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteEnabled   bool    `json:"sqlite_enabled"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// status classifies overall health. Disabled stores never degrade it.
func (h *HealthStatus) status() (string, int) {
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	switch {
	case !h.FeedConnected && (redisDown || sqliteDown):
		return "unhealthy", http.StatusServiceUnavailable
	case !h.FeedConnected || redisDown || sqliteDown:
		return "degraded", http.StatusServiceUnavailable
	default:
		return "healthy", http.StatusOK
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.status()

	// Tick age
	tickAge := ""
	lastTick := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
		lastTick = h.LastTickTime.Format(time.RFC3339)
	}
	lastCheck := ""
	if !h.LastCheckAt.IsZero() {
		lastCheck = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(healthReport{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:          h.Symbol,
		IntervalMs:      h.IntervalMs,
		FeedConnected:   h.FeedConnected,
		LastTickTime:    lastTick,
		TickAge:         tickAge,
		Candles:         h.Candles,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     lastCheck,
	})
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		log:    log.With(slog.String("component", "metrics")),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", slog.Any("err", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
