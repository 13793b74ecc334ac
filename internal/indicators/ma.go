// Package indicators computes the moving averages and volatility measures the
// strategy reads from closed bars.
package indicators

// SMA is the simple mean of the first period values. It reports false when
// there are fewer than period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA seeds with the SMA of the first period closes and then applies
// ema = (close-prev)*2/(period+1) + prev over the rest of the series.
func EMA(closes []float64, period int) (float64, bool) {
	ema, ok := SMA(closes, period)
	if !ok {
		return 0, false
	}
	k := 2.0 / float64(period+1)
	for _, c := range closes[period:] {
		ema = (c-ema)*k + ema
	}
	return ema, true
}
