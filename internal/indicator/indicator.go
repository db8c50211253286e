// Package indicator computes the MACD and momentum oscillators over a candle
// close series.
//
// Every EMA in this package is seeded with the first observed value and then
// follows ema = price*k + prev*(1-k) with k = 2/(period+1). Positions inside
// the warm-up window are still computed but reported as undefined, so early
// values never leak into signal decisions.
package indicator

// Indicator is the interface for streaming indicators fed one close at a time.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_12", "MOM_10").
	Name() string

	// Update feeds the next close price.
	Update(price float64)

	// Value returns the current value. Meaningful only when Ready.
	Value() float64

	// Ready returns true when the warm-up window has been filled.
	Ready() bool

	// Peek computes what Value() would be if price were fed next,
	// WITHOUT mutating internal state. Used for the still-open candle.
	Peek(price float64) float64
}

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*MACD)(nil)
	_ Indicator = (*Momentum)(nil)
)
