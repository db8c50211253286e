package metrics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMetrics_RegistersOnIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TicksTotal.Inc()
	m.SignalsTotal.WithLabelValues("UP").Inc()
	m.SignalsTotal.WithLabelValues("UP").Inc()
	m.SinkDropsTotal.WithLabelValues("redis").Inc()

	if got := testutil.ToFloat64(m.TicksTotal); got != 1 {
		t.Errorf("ticks: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("UP")); got != 2 {
		t.Errorf("signals UP: got %v, want 2", got)
	}

	// A second registry must not collide with the first.
	NewMetrics(prometheus.NewRegistry())
}

func TestHealth_Status(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(h *HealthStatus)
		wantStatus string
		wantCode   int
	}{
		{"feed up, stores disabled", func(h *HealthStatus) { h.SetFeedConnected(true) }, "healthy", 200},
		{"feed down", func(h *HealthStatus) {}, "degraded", 503},
		{"redis down", func(h *HealthStatus) {
			h.SetFeedConnected(true)
			h.SetRedis(true, false)
		}, "degraded", 503},
		{"feed and sqlite down", func(h *HealthStatus) {
			h.SetSQLite(true, false)
		}, "unhealthy", 503},
		{"all up", func(h *HealthStatus) {
			h.SetFeedConnected(true)
			h.SetRedis(true, true)
			h.SetSQLite(true, true)
		}, "healthy", 200},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus("OTC-EURUSD", 5000)
			tc.setup(h)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("expected code %d, got %d", tc.wantCode, rec.Code)
			}
			var body healthReport
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("expected status %s, got %s", tc.wantStatus, body.Status)
			}
			if body.Symbol != "OTC-EURUSD" || body.IntervalMs != 5000 {
				t.Errorf("unexpected identity %s/%d", body.Symbol, body.IntervalMs)
			}
		})
	}
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.LateTicks.Add(3)

	srv := NewServer(":0", NewHealthStatus("X", 5000), reg, quietLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "signalengine_late_ticks_total 3") {
		t.Errorf("late ticks metric missing from exposition:\n%s", body)
	}
}
