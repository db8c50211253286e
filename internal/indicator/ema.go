package indicator

import "strconv"

// EMA calculates an Exponential Moving Average seeded with the first price.
// O(1) per update — no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(price float64) {
	e.current = e.next(price)
	e.count++
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Count returns how many prices have been fed.
func (e *EMA) Count() int { return e.count }

// Peek computes what Value() would be with an additional price without mutating state.
func (e *EMA) Peek(price float64) float64 {
	return e.next(price)
}

func (e *EMA) next(price float64) float64 {
	if e.count == 0 {
		return price
	}
	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	return price*e.multiplier + e.current*(1-e.multiplier)
}

// EMAValues returns the EMA of xs at every position, including the warm-up
// positions. It drives an EMA instance so batch and streaming agree exactly.
func EMAValues(xs []float64, period int) []float64 {
	e := NewEMA(period)
	out := make([]float64, len(xs))
	for i, x := range xs {
		e.Update(x)
		out[i] = e.Value()
	}
	return out
}
