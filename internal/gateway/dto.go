package gateway

import (
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

// SnapshotOut is the initial WS message and the /api/snapshot response.
type SnapshotOut struct {
	Symbol     string             `json:"symbol"`
	IntervalMs int64              `json:"interval_ms"`
	Threshold  float64            `json:"momentum_threshold"`
	Candles    []model.Candle     `json:"candles"`
	Signals    []model.Signal     `json:"signals"`
	Latest     *model.Signal      `json:"latest,omitempty"`
	Ready      bool               `json:"indicators_ready"`
	FireState  strategy.FireState `json:"fire_state"`
	Seq        int64              `json:"seq"` // last envelope seq covered
}

// ThresholdBody is the request and response body of /api/threshold.
type ThresholdBody struct {
	MomentumThreshold *float64 `json:"momentum_threshold"`
}

// SeriesOut is the /api/indicators response. Positions before warm-up are
// null.
type SeriesOut struct {
	Time      []int64    `json:"time"`
	MACD      []*float64 `json:"macd"`
	Signal    []*float64 `json:"signal"`
	Histogram []*float64 `json:"histogram"`
	Momentum  []*float64 `json:"momentum"`
}

// ErrorOut is the body of every non-2xx REST response.
type ErrorOut struct {
	Error string `json:"error"`
}
