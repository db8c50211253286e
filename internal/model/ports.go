package model

import "context"

// ── Sink Port Interfaces ──
// Pipelines publish through these interfaces so storage and transport
// adapters (Redis, SQLite, gateway, notifiers) stay out of the core.

// CandleSink consumes candle updates from a pipeline.
type CandleSink interface {
	// RunCandles reads updates until ctx is cancelled or ch is closed.
	RunCandles(ctx context.Context, ch <-chan CandleUpdate)
}

// SignalSink consumes emitted signals from a pipeline.
type SignalSink interface {
	// RunSignals reads signals until ctx is cancelled or ch is closed.
	RunSignals(ctx context.Context, ch <-chan Signal)
}
