package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignal() model.Signal {
	return model.Signal{
		ID: "abc", Symbol: "OTC-EURUSD", Side: model.SideUp,
		TS: 1_700_000_001_000, CandleTime: 1_700_000_000_000,
		Reason: "MACD bullish cross + momentum 0.6200",
	}
}

func TestAlertFromSignal(t *testing.T) {
	a := AlertFromSignal(testSignal())
	if a.Title != "OTC-EURUSD UP" {
		t.Errorf("title: %q", a.Title)
	}
	want := "MACD bullish cross + momentum 0.6200 on candle 2023-11-14 22:13:20"
	if a.Message != want {
		t.Errorf("message: got %q, want %q", a.Message, want)
	}
	if a.Signal == nil || a.Signal.ID != "abc" {
		t.Error("signal not attached")
	}
}

func TestWebhookNotifier_PostsSignal(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), AlertFromSignal(testSignal())); err != nil {
		t.Fatal(err)
	}
	if got["title"] != "OTC-EURUSD UP" || got["level"] != "INFO" {
		t.Errorf("unexpected payload %v", got)
	}
	want := map[string]any{
		"signal_id":   "abc",
		"symbol":      "OTC-EURUSD",
		"side":        "UP",
		"candle_time": float64(1_700_000_000_000),
		"emitted_at":  float64(1_700_000_001_000),
		"reason":      "MACD bullish cross + momentum 0.6200",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %v, want %v", k, got[k], v)
		}
	}
	if _, nested := got["signal"]; nested {
		t.Error("signal should be flattened into the payload")
	}
	if _, ok := got["sent_at"].(string); !ok {
		t.Errorf("sent_at missing: %v", got)
	}
}

func TestWebhookNotifier_PlainAlertOmitsSignalFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	alert := Alert{Level: AlertWarning, Title: "feed down", Message: "reconnecting"}
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), alert); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"signal_id", "symbol", "side", "candle_time", "emitted_at", "reason"} {
		if _, ok := got[k]; ok {
			t.Errorf("unexpected %s in plain alert payload", k)
		}
	}
	if got["level"] != "WARNING" || got["message"] != "reconnecting" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTelegramNotifier_SendMessage(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42")
	tg.baseURL = srv.URL
	if err := tg.Send(context.Background(), AlertFromSignal(testSignal())); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path: %s", path)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "MarkdownV2" {
		t.Errorf("unexpected body %v", body)
	}
	text, _ := body["text"].(string)
	if !strings.HasPrefix(text, "🟢 *OTC\\-EURUSD UP*") || !strings.Contains(text, "0\\.6200") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b.c!"); got != `a\_b\.c\!` {
		t.Errorf("got %q", got)
	}
}

type fakeNotifier struct {
	err  error
	sent []Alert
}

func (f *fakeNotifier) Send(_ context.Context, a Alert) error {
	f.sent = append(f.sent, a)
	return f.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	a := &fakeNotifier{err: errA}
	b := &fakeNotifier{}

	err := Multi{a, b, NewLogNotifier(quietLogger())}.Send(context.Background(), Alert{Title: "t"})
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error containing errA, got %v", err)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatal("every notifier should receive the alert")
	}
}

func TestDispatcher_CountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	n := &fakeNotifier{err: errors.New("down")}

	ch := make(chan model.Signal, 2)
	ch <- testSignal()
	ch <- testSignal()
	close(ch)
	NewDispatcher(n, quietLogger(), m).RunSignals(context.Background(), ch)

	if len(n.sent) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(n.sent))
	}
	if got := testutil.ToFloat64(m.NotifyFailures); got != 2 {
		t.Errorf("failures: got %v, want 2", got)
	}
}
