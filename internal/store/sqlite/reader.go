package sqlite

import (
	"context"
	"fmt"

	"signalengine/internal/model"
)

// RecentSignals returns up to limit journaled signals for symbol, newest first.
func (w *Writer) RecentSignals(ctx context.Context, symbol string, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, symbol, side, ts, candle_time, reason
		FROM signals
		WHERE symbol = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	out := make([]model.Signal, 0, limit)
	for rows.Next() {
		var s model.Signal
		var side string
		if err := rows.Scan(&s.ID, &s.Symbol, &side, &s.TS, &s.CandleTime, &s.Reason); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		s.Side = model.Side(side)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClosedCandles returns journaled candles for symbol with from <= ts < to,
// ordered by time ascending.
func (w *Writer) ClosedCandles(ctx context.Context, symbol string, from, to int64) ([]model.Candle, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close
		FROM candles
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
