package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Side is the direction of an advisory signal.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Signal is an advisory directional event. It never results in an order.
type Signal struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Side       Side   `json:"side"`
	TS         int64  `json:"ts"`          // wall-clock emission, epoch ms
	CandleTime int64  `json:"candle_time"` // bucket of the triggering candle
	Reason     string `json:"reason"`
}

// NewSignal stamps a signal with a fresh ID and the current wall clock.
func NewSignal(symbol string, side Side, candleTime int64, reason string) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		TS:         NowMillis(),
		CandleTime: candleTime,
		Reason:     reason,
	}
}

// EmittedAt returns TS as a UTC time.Time.
func (s *Signal) EmittedAt() time.Time {
	return time.UnixMilli(s.TS).UTC()
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
