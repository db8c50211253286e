package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	goredis "github.com/go-redis/redis/v8"

	"signalengine/internal/model"
)

// Integration tests run only when REDIS_TEST_ADDR points at a disposable
// Redis (e.g. "localhost:6379"); they use DB 15.
func testWriter(t *testing.T) *Writer {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	w, err := New(WriterConfig{Addr: addr, DB: 15}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Client().FlushDB(context.Background())
		w.Close()
	})
	return w
}

func TestKeys(t *testing.T) {
	cases := map[string]string{
		LatestCandleKey("X"): "candle:latest:X",
		CandleStreamKey("X"): "candle:X",
		CandleChannel("X"):   "pub:candle:X",
		SignalStreamKey("X"): "signal:X",
		LatestSignalKey("X"): "signal:latest:X",
		SignalChannel("X"):   "pub:signal:X",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
}

func TestNew_UnreachableRedis(t *testing.T) {
	_, err := New(WriterConfig{Addr: "127.0.0.1:1"}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err == nil {
		t.Fatal("expected ping error")
	}
}

func TestWriter_CandleUpdate(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()

	closed := model.Candle{Time: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	u := model.CandleUpdate{
		Symbol: "T", Candle: model.Candle{Time: 5000, Open: 1.5, High: 1.5, Low: 1.5, Close: 1.5},
		Opened: true, Closed: &closed, Candles: 2,
	}
	if err := w.WriteCandleUpdate(ctx, u); err != nil {
		t.Fatal(err)
	}

	raw, err := w.Client().Get(ctx, LatestCandleKey("T")).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	var latest model.Candle
	if err := json.Unmarshal(raw, &latest); err != nil || latest.Time != 5000 {
		t.Fatalf("latest candle: %s (%v)", raw, err)
	}

	msgs, err := w.Client().XRange(ctx, CandleStreamKey("T"), "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one closed candle in stream, got %d (%v)", len(msgs), err)
	}
}

func TestWriter_Signal(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()

	sig := model.NewSignal("T", model.SideUp, 5000, "MACD bullish cross + momentum 0.6200")
	if err := w.WriteSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	raw, err := w.Client().Get(ctx, LatestSignalKey("T")).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	var got model.Signal
	if err := json.Unmarshal(raw, &got); err != nil || got.ID != sig.ID {
		t.Fatalf("latest signal: %s (%v)", raw, err)
	}
	if w.Pending() != 0 {
		t.Errorf("expected empty queue, got %d", w.Pending())
	}
}

func TestWriter_QueuesSignalsWhileBreakerOpen(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()

	clk := &fakeClock{}
	w.cb.now = clk.now
	trip(w.cb, w.cb.maxFailures)

	for i := 0; i < 3; i++ {
		if err := w.WriteSignal(ctx, model.NewSignal("T", model.SideDown, int64(i)*5000, "r")); err == nil {
			t.Fatal("expected ErrCircuitOpen")
		}
	}
	if w.Pending() != 3 {
		t.Fatalf("expected 3 queued, got %d", w.Pending())
	}

	clk.advance(w.cb.resetTimeout + 1)
	if err := w.WriteSignal(ctx, model.NewSignal("T", model.SideUp, 20000, "r")); err != nil {
		t.Fatal(err)
	}
	if n, _ := w.Client().XLen(ctx, SignalStreamKey("T")).Result(); n != 4 {
		t.Fatalf("expected 4 signals after flush, got %d", n)
	}
}

func TestWriter_CandleWriteFailureKeepsQueue(t *testing.T) {
	cb, _ := newTestBreaker(1)
	w := &Writer{
		client: goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}),
		cb:     cb,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	defer w.client.Close()
	trip(cb, 1)
	w.requeue([]model.Signal{model.NewSignal("T", model.SideUp, 0, "r")})

	err := w.WriteCandleUpdate(context.Background(), model.CandleUpdate{Symbol: "T"})
	if err == nil {
		t.Fatal("expected ErrCircuitOpen")
	}
	if w.Pending() != 1 {
		t.Fatalf("queued signal lost on failed candle write: pending=%d", w.Pending())
	}
	if err := w.FlushPending(context.Background()); err == nil || w.Pending() != 1 {
		t.Fatalf("flush with open breaker: err=%v pending=%d", err, w.Pending())
	}
}

func TestWriter_CandleWriteFlushesQueuedSignals(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()

	clk := &fakeClock{}
	w.cb.now = clk.now
	trip(w.cb, w.cb.maxFailures)
	for i := 0; i < 2; i++ {
		w.WriteSignal(ctx, model.NewSignal("T", model.SideDown, int64(i)*5000, "r"))
	}
	if w.Pending() != 2 {
		t.Fatalf("expected 2 queued, got %d", w.Pending())
	}

	// Recovery is observed by a candle write; no new signal is needed.
	clk.advance(w.cb.resetTimeout + 1)
	u := model.CandleUpdate{Symbol: "T", Candle: model.Candle{Time: 5000, Open: 1, High: 1, Low: 1, Close: 1}}
	if err := w.WriteCandleUpdate(ctx, u); err != nil {
		t.Fatal(err)
	}
	if w.Pending() != 0 {
		t.Fatalf("expected queue drained, got %d", w.Pending())
	}
	if n, _ := w.Client().XLen(ctx, SignalStreamKey("T")).Result(); n != 2 {
		t.Fatalf("expected 2 flushed signals, got %d", n)
	}
}
