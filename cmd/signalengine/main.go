// cmd/signalengine runs one instrument's tick → candle → MACD/momentum →
// signal pipeline and fans its output to Redis, SQLite, notifiers and the
// browser gateway.
//
// Config: see config.Load (.env, CONFIG_FILE YAML, env vars).
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"signalengine/config"
	"signalengine/internal/gateway"
	"signalengine/internal/logger"
	"signalengine/internal/marketdata/mockfeed"
	"signalengine/internal/marketdata/wssim"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/notification"
	"signalengine/internal/pipeline"
	redisstore "signalengine/internal/store/redis"
	sqlitestore "signalengine/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.Init("signalengine", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "symbol", cfg.Symbol, "interval_ms", cfg.IntervalMs, "feed", cfg.FeedURL)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.Symbol, cfg.IntervalMs)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg, log)
	metricsSrv.Start()

	// ---- Pipeline ----
	pcfg := pipeline.DefaultConfig(cfg.Symbol)
	pcfg.IntervalMs = cfg.IntervalMs
	pcfg.MomentumThreshold = cfg.MomentumThreshold
	pcfg.MaxCandles = cfg.MaxCandles
	p, err := pipeline.New(pcfg, log, prom)
	if err != nil {
		return err
	}

	// Every sink subscribes before the pipeline starts so none misses the
	// first candle. Sinks outlive ctx and stop when Run closes their channels.
	sinks := newSinkGroup()
	runCandles := func(name string, s model.CandleSink) {
		ch := p.SubscribeCandles(name)
		sinks.Go(func(sctx context.Context) { s.RunCandles(sctx, ch) })
	}
	runSignals := func(name string, s model.SignalSink) {
		ch := p.SubscribeSignals(name)
		sinks.Go(func(sctx context.Context) { s.RunSignals(sctx, ch) })
	}

	runCandles("health", healthSink{health})

	// ---- SQLite journal (optional) ----
	var journal gateway.SignalJournal
	var sqlWriter *sqlitestore.Writer
	if cfg.SQLitePath != "" {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}, log, prom)
		if err != nil {
			return err
		}
		defer sqlWriter.Close()
		health.SetSQLite(true, true)
		journal = sqlWriter
		runCandles("sqlite", sqlWriter)
		runSignals("sqlite", sqlWriter)
	}

	// ---- Redis (optional, non-fatal) ----
	var redisWriter *redisstore.Writer
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, log, prom)
		if err != nil {
			log.Warn("redis init failed, continuing without redis", "error", err)
			health.SetRedis(true, false)
		} else {
			defer redisWriter.Close()
			health.SetRedis(true, true)
			runCandles("redis", redisWriter)
			runSignals("redis", redisWriter)
		}
	}

	startLiveness(ctx, health, redisWriter, sqlWriter)

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	runSignals("notify", notification.NewDispatcher(notifiers, log, prom))

	// ---- Gateway ----
	hub := gateway.NewHub(p, log, prom)
	runCandles("gateway", hub)
	runSignals("gateway", hub)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, journal)
	gwSrv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("gateway listening", "addr", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server error", "error", err)
			stop()
		}
	}()

	// ---- Feed ----
	tickCh := make(chan model.Tick, 10000)
	if err := startFeed(ctx, cfg, log, prom, health, tickCh); err != nil {
		return err
	}

	go logSinkStats(ctx, log, p)

	// ---- Run until signalled ----
	p.Run(ctx, tickCh)
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gwSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	// Run closed every subscriber channel; sinks drain what is buffered.
	if !sinks.Stop(sinkDrainTimeout) {
		log.Warn("sinks did not drain in time, cancelled")
	}
	log.Info("stopped")
	return nil
}

const sinkDrainTimeout = 10 * time.Second

func startFeed(ctx context.Context, cfg *config.Config, log *slog.Logger, prom *metrics.Metrics,
	health *metrics.HealthStatus, tickCh chan<- model.Tick) error {
	if cfg.MockFeed() {
		feed := mockfeed.New(mockfeed.Config{Symbol: cfg.Symbol})
		feed.OnDrop = func() { prom.SinkDropsTotal.WithLabelValues("feed").Inc() }
		health.SetFeedConnected(true)
		log.Info("using mock feed")
		go feed.Start(ctx, tickCh)
		return nil
	}

	ingest, err := wssim.New(wssim.Config{URL: cfg.FeedURL, Symbol: cfg.Symbol}, log)
	if err != nil {
		return err
	}
	ingest.OnReconnect = func() { prom.FeedReconnects.Inc() }
	ingest.OnConnected = health.SetFeedConnected
	ingest.OnInvalid = func(n int) { prom.InvalidTicks.Add(float64(n)) }
	ingest.OnDroppedTicks = func(n int) { prom.SinkDropsTotal.WithLabelValues("feed").Add(float64(n)) }
	go func() {
		if err := ingest.Start(ctx, tickCh); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("feed stopped", "error", err)
			health.SetFeedConnected(false)
		}
	}()
	return nil
}

func startLiveness(ctx context.Context, health *metrics.HealthStatus, rw *redisstore.Writer, sw *sqlitestore.Writer) {
	var rdb *goredis.Client
	var db *sql.DB
	if rw != nil {
		rdb = rw.Client()
	}
	if sw != nil {
		db = sw.DB()
	}
	if rdb == nil && db == nil {
		return
	}
	health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)
}

// logSinkStats periodically reports subscriber channel fill.
func logSinkStats(ctx context.Context, log *slog.Logger, p *pipeline.Pipeline) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range p.SinkStats() {
				if s.Cap > 0 && s.Len*2 >= s.Cap {
					log.Warn("sink backlog", "sink", s.Name, "len", s.Len, "cap", s.Cap)
				}
			}
		}
	}
}

// healthSink records tick liveness from the candle stream.
type healthSink struct{ h *metrics.HealthStatus }

func (s healthSink) RunCandles(ctx context.Context, ch <-chan model.CandleUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			s.h.SetLastTick(time.Now(), u.Candles)
		}
	}
}
