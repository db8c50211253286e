// Package sqlite keeps a durable journal of closed candles and emitted
// signals. It is an audit trail only; nothing is read back into a pipeline.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath     string // path to SQLite database file, e.g. "data/signals.db"
	BatchSize  int
	FlushDelay time.Duration
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db         *sql.DB
	log        *slog.Logger
	m          *metrics.Metrics
	batchSize  int
	flushDelay time.Duration
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema. m may be nil.
func New(cfg WriterConfig, log *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{
		db:         db,
		log:        log.With("component", "sqlite", "path", cfg.DBPath),
		m:          m,
		batchSize:  cfg.BatchSize,
		flushDelay: cfg.FlushDelay,
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.flushDelay <= 0 {
		w.flushDelay = defaultFlushDelay
	}
	w.log.Info("opened database")
	return w, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id          TEXT    PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			side        TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			candle_time INTEGER NOT NULL,
			reason      TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals (symbol, ts);
	`)
	return err
}

// RunCandles implements model.CandleSink. Only closed candles are stored;
// the open candle is still changing.
func (w *Writer) RunCandles(ctx context.Context, ch <-chan model.CandleUpdate) {
	closed := make(chan closedCandle, cap(ch)+1)
	go func() {
		defer close(closed)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-ch:
				if !ok {
					return
				}
				if u.Closed == nil {
					continue
				}
				select {
				case closed <- closedCandle{symbol: u.Symbol, c: *u.Closed}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	runBatched(ctx, w, closed, "candles", w.insertCandles)
}

// RunSignals implements model.SignalSink.
func (w *Writer) RunSignals(ctx context.Context, ch <-chan model.Signal) {
	runBatched(ctx, w, ch, "signals", w.insertSignals)
}

type closedCandle struct {
	symbol string
	c      model.Candle
}

// runBatched drains ch into insert, flushing every batchSize items OR every
// flushDelay, whichever first. Pending items are flushed on exit.
func runBatched[T any](ctx context.Context, w *Writer, ch <-chan T, what string, insert func([]T) error) {
	batch := make([]T, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := insert(batch); err != nil {
			w.log.Error("batch insert failed", "table", what, "rows", len(batch), "error", err)
		} else {
			if w.m != nil {
				w.m.SQLiteCommitDur.Observe(time.Since(start).Seconds())
			}
			w.log.Debug("batch committed", "table", what, "rows", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case v, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, v)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

func (w *Writer) insertCandles(rows []closedCandle) error {
	return w.inTx(`
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?)
	`, len(rows), func(stmt *sql.Stmt, i int) error {
		r := rows[i]
		_, err := stmt.Exec(r.symbol, r.c.Time, r.c.Open, r.c.High, r.c.Low, r.c.Close)
		return err
	})
}

func (w *Writer) insertSignals(rows []model.Signal) error {
	return w.inTx(`
		INSERT OR IGNORE INTO signals (id, symbol, side, ts, candle_time, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, len(rows), func(stmt *sql.Stmt, i int) error {
		s := rows[i]
		_, err := stmt.Exec(s.ID, s.Symbol, string(s.Side), s.TS, s.CandleTime, s.Reason)
		return err
	})
}

// inTx executes query n times in a single transaction.
func (w *Writer) inTx(query string, n int, exec func(*sql.Stmt, int) error) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
