package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope types.
const (
	TypeCandle   = "candle"
	TypeSignal   = "signal"
	TypeSnapshot = "snapshot"
	TypePong     = "pong"
	TypeError    = "error"
)

// Broadcaster constructs envelope JSON and sends it to every client.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast wraps data in an envelope and queues it for all clients.
// Clients whose queue is full miss the message; the seq lets them notice
// and backfill from /api/missed.
//
// Seq assignment, replay and fan-out happen under one lock so every client
// queue and the replay buffer see envelopes in seq order.
func (b *Broadcaster) Broadcast(typ string, data []byte) {
	now := time.Now().UTC()

	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.hub.seq++
	seq := b.hub.seq

	buf := buildEnvelope(typ, data, now, seq)
	b.hub.replay.Push(seq, buf)

	for client := range b.hub.clients {
		select {
		case client.send <- buf:
		default:
		}
	}
}

// buildEnvelope hand-crafts {"type":..,"data":..,"ts":..,"seq":..}.
// data must already be valid JSON.
func buildEnvelope(typ string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(typ)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
