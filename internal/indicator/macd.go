package indicator

// MACD tracks the fast/slow EMA difference and its signal-line EMA.
// The signal EMA is seeded with the first MACD value.
type MACD struct {
	fast, slow, signal *EMA
}

// MACDPoint is one position of the MACD output.
type MACDPoint struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// NewMACD creates a MACD with the given spans (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

// Update feeds the next close price.
func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	m.signal.Update(m.fast.Value() - m.slow.Value())
}

// Point returns the current MACD, signal and histogram values.
func (m *MACD) Point() MACDPoint {
	line := m.fast.Value() - m.slow.Value()
	sig := m.signal.Value()
	return MACDPoint{MACD: line, Signal: sig, Histogram: line - sig}
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.fast.Value() - m.slow.Value() }

// Ready is true once the signal line has a full warm-up window on top of
// a ready slow EMA.
func (m *MACD) Ready() bool {
	return m.slow.Ready() && m.signal.Count() >= m.slow.period+m.signal.period-1
}

// Peek returns the MACD line as if price were fed next.
func (m *MACD) Peek(price float64) float64 {
	return m.fast.Peek(price) - m.slow.Peek(price)
}

// PeekPoint returns the full point as if price were fed next, without mutation.
func (m *MACD) PeekPoint(price float64) MACDPoint {
	line := m.Peek(price)
	sig := m.signal.Peek(line)
	return MACDPoint{MACD: line, Signal: sig, Histogram: line - sig}
}
