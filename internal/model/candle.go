package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLC summary of one fixed-width time bucket.
// Time is the bucket start in epoch milliseconds and is always a multiple of
// the aggregation interval.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Start returns the bucket start as a UTC time.Time.
func (c *Candle) Start() time.Time {
	return time.UnixMilli(c.Time).UTC()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close-price view of a candle sequence.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// CandleUpdate is emitted by a pipeline each time its candle sequence changes.
// Closed carries the candle that was superseded by a new bucket, if any.
type CandleUpdate struct {
	Symbol  string  `json:"symbol"`
	Candle  Candle  `json:"candle"`
	Opened  bool    `json:"opened"`
	Closed  *Candle `json:"closed,omitempty"`
	Candles int     `json:"candles"`
}
