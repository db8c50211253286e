// Package gateway is the HTTP + WebSocket surface a presentation layer uses
// to read candles and signals and to adjust the momentum threshold.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/pipeline"
)

// Engine is the part of a pipeline the gateway reads and controls.
type Engine interface {
	Snapshot() pipeline.Snapshot
	Signals(n int) []model.Signal
	Threshold() float64
	SetThreshold(th float64) error
}

// Hub manages WebSocket clients and fans pipeline output out to them.
// It implements model.CandleSink and model.SignalSink.
type Hub struct {
	engine Engine
	log    *slog.Logger
	m      *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay      *ReplayBuffer
	broadcaster *Broadcaster
}

// NewHub creates a Hub serving engine. m may be nil.
func NewHub(engine Engine, log *slog.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		engine:  engine,
		log:     log.With("component", "gateway"),
		m:       m,
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(500),
	}
	h.broadcaster = NewBroadcaster(h)
	return h
}

// RunCandles broadcasts candle updates until ctx is cancelled or ch closes.
func (h *Hub) RunCandles(ctx context.Context, ch <-chan model.CandleUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			h.broadcaster.Broadcast(TypeCandle, mustJSON(u))
		}
	}
}

// RunSignals broadcasts signals until ctx is cancelled or ch closes.
func (h *Hub) RunSignals(ctx context.Context, ch <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			h.broadcaster.Broadcast(TypeSignal, s.JSON())
		}
	}
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	conn.EnableWriteCompression(true)

	// The snapshot is queued before registration so it is always the first
	// message; its seq tells the client where the live stream picks up.
	client.sendInitialState()

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.setClientGauge(count)

	h.log.Info("ws client connected", "clients", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.setClientGauge(count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Missed returns buffered envelopes with seq in [from, to], for clients
// that detected a gap.
func (h *Hub) Missed(from, to int64) [][]byte {
	entries := h.replay.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

func (h *Hub) setClientGauge(n int) {
	if h.m != nil {
		h.m.GatewayClients.Set(float64(n))
	}
}
