package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SignalJournal serves signal history beyond the in-memory log.
type SignalJournal interface {
	RecentSignals(ctx context.Context, symbol string, limit int) ([]model.Signal, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorOut{Error: msg})
}

// queryLimit parses ?limit=, falling back to def and capping at max.
func queryLimit(r *http.Request, def, max int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			if l > max {
				return max
			}
			return l
		}
	}
	return def
}

func (h *Hub) snapshot() SnapshotOut {
	seq := h.Seq()
	s := h.engine.Snapshot()
	return SnapshotOut{
		Symbol:     s.Symbol,
		IntervalMs: s.IntervalMs,
		Threshold:  s.Threshold,
		Candles:    s.Candles,
		Signals:    s.Signals,
		Latest:     s.Latest,
		Ready:      s.Ready,
		FireState:  s.FireState,
		Seq:        seq,
	}
}

// RegisterRoutes registers all HTTP routes on the provided mux.
// journal may be nil.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, journal SignalJournal) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.HandleWSRequest(conn)
	})

	// REST: full state
	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, hub.snapshot())
	})

	// REST: candles, oldest first; ?limit= keeps the newest N
	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		candles := hub.engine.Snapshot().Candles
		if n := queryLimit(r, len(candles), len(candles)); n < len(candles) {
			candles = candles[len(candles)-n:]
		}
		writeJSON(w, http.StatusOK, candles)
	})

	// REST: signals, newest first; ?source=journal reads the SQLite journal
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		limit := queryLimit(r, 200, 1000)
		if r.URL.Query().Get("source") != "journal" {
			if limit > 200 {
				limit = 200
			}
			writeJSON(w, http.StatusOK, hub.engine.Signals(limit))
			return
		}
		if journal == nil {
			writeError(w, http.StatusNotFound, "signal journal not configured")
			return
		}
		sigs, err := journal.RecentSignals(r.Context(), hub.engine.Snapshot().Symbol, limit)
		if err != nil {
			hub.log.Error("journal query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "journal query failed")
			return
		}
		writeJSON(w, http.StatusOK, sigs)
	})

	// REST: indicator series aligned to candles
	mux.HandleFunc("/api/indicators", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, buildSeries(hub.engine))
	})

	// REST: GET/PUT /api/threshold
	mux.HandleFunc("/api/threshold", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			th := hub.engine.Threshold()
			writeJSON(w, http.StatusOK, ThresholdBody{MomentumThreshold: &th})
		case http.MethodPut, http.MethodPost:
			var req ThresholdBody
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MomentumThreshold == nil {
				writeError(w, http.StatusBadRequest, "expected {\"momentum_threshold\": number}")
				return
			}
			if err := hub.engine.SetThreshold(*req.MomentumThreshold); err != nil {
				if errors.Is(err, strategy.ErrInvalidThreshold) {
					writeError(w, http.StatusBadRequest, "momentum_threshold must be a finite number > 0")
					return
				}
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			th := hub.engine.Threshold()
			writeJSON(w, http.StatusOK, ThresholdBody{MomentumThreshold: &th})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// REST: envelopes missed by a client, by seq range
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if err1 != nil || err2 != nil || from > to {
			writeError(w, http.StatusBadRequest, "from and to seq are required")
			return
		}
		msgs := hub.Missed(from, to)
		out := make([]json.RawMessage, len(msgs))
		for i, m := range msgs {
			out[i] = m
		}
		writeJSON(w, http.StatusOK, out)
	})
}

func buildSeries(e Engine) SeriesOut {
	s := e.Snapshot()
	out := SeriesOut{
		Time:      make([]int64, len(s.Candles)),
		MACD:      make([]*float64, len(s.Candles)),
		Signal:    make([]*float64, len(s.Candles)),
		Histogram: make([]*float64, len(s.Candles)),
		Momentum:  make([]*float64, len(s.Candles)),
	}
	at := func(series model.Series, i int) *float64 {
		if v, ok := series.At(i); ok {
			return &v
		}
		return nil
	}
	for i, c := range s.Candles {
		out.Time[i] = c.Time
		out.MACD[i] = at(s.Series.MACD, i)
		out.Signal[i] = at(s.Series.Signal, i)
		out.Histogram[i] = at(s.Series.Histogram, i)
		out.Momentum[i] = at(s.Series.Momentum, i)
	}
	return out
}
