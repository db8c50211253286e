package model

// Series is a float64 sequence index-aligned with a candle sequence.
// Positions before Start are warm-up positions and hold no value.
type Series struct {
	Values []float64 `json:"values"`
	Start  int       `json:"start"`
}

// At returns the value at position i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < s.Start || i < 0 || i >= len(s.Values) {
		return 0, false
	}
	return s.Values[i], true
}

// Len returns the aligned length (defined or not).
func (s Series) Len() int { return len(s.Values) }

// Last returns the final value if defined.
func (s Series) Last() (float64, bool) {
	return s.At(len(s.Values) - 1)
}

// Defined returns a copy of the defined tail of the series.
func (s Series) Defined() []float64 {
	if s.Start >= len(s.Values) {
		return nil
	}
	out := make([]float64, len(s.Values)-s.Start)
	copy(out, s.Values[s.Start:])
	return out
}

// IndicatorSeries holds the aligned oscillator outputs for a close series.
type IndicatorSeries struct {
	MACD      Series `json:"macd"`
	Signal    Series `json:"signal"`
	Histogram Series `json:"histogram"`
	Momentum  Series `json:"momentum"`
}
