// Package strategy turns indicator series into advisory directional signals.
//
// Detection is a two-step process: Detect applies the MACD crossover rule
// with a momentum filter to the latest candle, and Detector wraps it with
// the fire-state that keeps a crossover on the still-open candle from being
// reported more than once.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"signalengine/internal/indicator"
	"signalengine/internal/model"
)

// ErrInvalidThreshold is returned when a momentum threshold is not a finite number > 0.
var ErrInvalidThreshold = errors.New("momentum threshold must be a finite number > 0")

// Cross classifies the MACD/signal relationship between two consecutive positions.
type Cross int

const (
	CrossNone Cross = iota
	CrossBullish
	CrossBearish
)

func (c Cross) String() string {
	switch c {
	case CrossBullish:
		return "bullish"
	case CrossBearish:
		return "bearish"
	default:
		return "none"
	}
}

// Trigger is a qualifying crossover on a specific candle, before debouncing.
type Trigger struct {
	Side       model.Side
	Cross      Cross
	CandleTime int64
	Momentum   float64
	Reason     string
}

// ValidThreshold reports whether th can gate momentum.
func ValidThreshold(th float64) bool {
	return th > 0 && !math.IsInf(th, 1) && !math.IsNaN(th)
}

// Crossover compares positions i-1 and i. Undefined positions yield CrossNone.
func Crossover(macd, signal model.Series, i int) Cross {
	prevM, ok1 := macd.At(i - 1)
	prevS, ok2 := signal.At(i - 1)
	curM, ok3 := macd.At(i)
	curS, ok4 := signal.At(i)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return CrossNone
	}
	switch {
	case prevM <= prevS && curM > curS:
		return CrossBullish
	case prevM >= prevS && curM < curS:
		return CrossBearish
	default:
		return CrossNone
	}
}

// Detect evaluates the latest candle with the default warm-up floor.
// Returns nil for insufficient history, invalid threshold, or no qualifying cross.
func Detect(candles []model.Candle, macd, signal, momentum model.Series, threshold float64) *Trigger {
	return detect(candles, macd, signal, momentum, threshold, indicator.MinCandles())
}

func detect(candles []model.Candle, macd, signal, momentum model.Series, threshold float64, minCandles int) *Trigger {
	if len(candles) < minCandles || !ValidThreshold(threshold) {
		return nil
	}
	latest := len(candles) - 1
	mom, ok := momentum.At(latest)
	if !ok {
		return nil
	}

	switch Crossover(macd, signal, latest) {
	case CrossBullish:
		if mom >= threshold {
			return newTrigger(model.SideUp, CrossBullish, candles[latest].Time, mom)
		}
	case CrossBearish:
		if mom <= -threshold {
			return newTrigger(model.SideDown, CrossBearish, candles[latest].Time, mom)
		}
	}
	return nil
}

func newTrigger(side model.Side, cross Cross, candleTime int64, mom float64) *Trigger {
	return &Trigger{
		Side:       side,
		Cross:      cross,
		CandleTime: candleTime,
		Momentum:   mom,
		Reason:     fmt.Sprintf("MACD %s cross + momentum %s", cross, decimal.NewFromFloat(mom).StringFixed(4)),
	}
}
