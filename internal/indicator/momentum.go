package indicator

import "strconv"

// Momentum is the rate-of-change oscillator close[i] - close[i-lookback].
// Keeps a circular buffer of the last lookback+1 prices.
type Momentum struct {
	lookback int
	buf      []float64
	idx      int // position of the oldest retained price
	count    int
}

// NewMomentum creates a Momentum indicator with the given lookback.
func NewMomentum(lookback int) *Momentum {
	return &Momentum{
		lookback: lookback,
		buf:      make([]float64, lookback+1),
	}
}

func (m *Momentum) Name() string { return "MOM_" + strconv.Itoa(m.lookback) }

func (m *Momentum) Update(price float64) {
	size := len(m.buf)
	if m.count < size {
		m.buf[m.count] = price
	} else {
		m.buf[m.idx] = price
		m.idx = (m.idx + 1) % size
	}
	m.count++
}

// Value returns the newest price minus the price lookback updates earlier.
func (m *Momentum) Value() float64 {
	if !m.Ready() {
		return 0
	}
	size := len(m.buf)
	newest := m.buf[(m.idx+size-1)%size]
	return newest - m.buf[m.idx]
}

func (m *Momentum) Ready() bool { return m.count > m.lookback }

// Peek computes what Value() would be with an additional price without mutating state.
func (m *Momentum) Peek(price float64) float64 {
	if m.count < m.lookback {
		return 0
	}
	size := len(m.buf)
	if m.count < size {
		// buffer not yet rotating: the price lookback back is buf[count-lookback]
		return price - m.buf[m.count-m.lookback]
	}
	// after the next write, the oldest retained price would be at idx+1
	return price - m.buf[(m.idx+1)%size]
}

// MomentumValues returns close[i]-close[i-lookback] for every position;
// positions below lookback are zero and must be treated as undefined.
func MomentumValues(xs []float64, lookback int) []float64 {
	out := make([]float64, len(xs))
	for i := lookback; i < len(xs); i++ {
		out[i] = xs[i] - xs[i-lookback]
	}
	return out
}
