package indicators

import "math"

// MACD defaults (12/26/9), used only for diagnostics/metrics, never for
// signal generation.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// MACD tracks fast/slow EMAs and a signal-line EMA of their difference.
type MACD struct {
	fast, slow, signal *EMA
}

// NewMACD constructs a MACD accumulator with the standard 12/26/9 periods.
func NewMACD() *MACD {
	return &MACD{fast: NewEMA(DefaultMACDFast), slow: NewEMA(DefaultMACDSlow), signal: NewEMA(DefaultMACDSignal)}
}

// Update feeds one close and returns (macd, signal, histogram).
func (m *MACD) Update(close float64) (macd, signal, histogram float64) {
	f := m.fast.Update(close)
	s := m.slow.Update(close)
	macd = f - s
	signal = m.signal.Update(macd)
	return macd, signal, macd - signal
}

// DefaultBBPeriod and DefaultBBStdDev match the conventional 20-bar, 2 std
// dev Bollinger Band configuration.
const (
	DefaultBBPeriod = 20
	DefaultBBStdDev = 2.0
)

// BollingerBands computes the (middle, upper, lower) band over the last
// DefaultBBPeriod entries of closes. Returns ok=false if fewer than
// DefaultBBPeriod closes are available.
func BollingerBands(closes []float64) (middle, upper, lower float64, ok bool) {
	if len(closes) < DefaultBBPeriod {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-DefaultBBPeriod:]

	sum := 0.0
	for _, c := range window {
		sum += c
	}
	mean := sum / float64(len(window))

	variance := 0.0
	for _, c := range window {
		d := c - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(window)))

	return mean, mean + DefaultBBStdDev*stddev, mean - DefaultBBStdDev*stddev, true
}
