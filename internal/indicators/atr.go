package indicators

import (
	"math"

	"perp-core/pkg/exchanges/common"
)

// TrueRanges returns max(high-low, |high-prevClose|, |low-prevClose|) for
// every bar after the first.
func TrueRanges(bars []common.Kline) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - prevClose)
		lc := math.Abs(bars[i].Low - prevClose)
		out = append(out, math.Max(hl, math.Max(hc, lc)))
	}
	return out
}

// ATR smooths the true ranges with the EMA recurrence, seeded by the mean of
// the first period ranges. It needs at least period+1 bars.
func ATR(bars []common.Kline, period int) (float64, bool) {
	return EMA(TrueRanges(bars), period)
}
