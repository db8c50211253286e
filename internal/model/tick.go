package model

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidTick is returned for ticks whose price is missing, non-finite or
// not strictly positive.
var ErrInvalidTick = errors.New("invalid tick")

// Tick is a single price observation for one instrument.
// TS is milliseconds since the Unix epoch.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"`
}

// Validate reports ErrInvalidTick when the price cannot be aggregated.
func (t Tick) Validate() error {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return ErrInvalidTick
	}
	return nil
}

// Time returns TS as a UTC time.Time.
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.TS).UTC()
}

// NowMillis returns the current wall-clock time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
