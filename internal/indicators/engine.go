package indicators

import "perp-core/pkg/exchanges/common"

// Periods are the lookbacks of the trend filter, the pullback average and ATR.
type Periods struct {
	Trend    int
	Pullback int
	ATR      int
}

// Window is the number of bars requested so every indicator has enough
// history plus the two bars the pullback test reads.
func (p Periods) Window() int {
	n := p.Trend
	if p.Pullback > n {
		n = p.Pullback
	}
	if p.ATR > n {
		n = p.ATR
	}
	return n + 2
}

// Values are the indicator readings at the newest bar.
type Values struct {
	EMATrend    float64
	EMAPullback float64
	ATR         float64
}

// Compute evaluates all three indicators over bars. It reports false when any
// of them lacks history.
func Compute(bars []common.Kline, p Periods) (Values, bool) {
	closes := Closes(bars)
	trend, ok := EMA(closes, p.Trend)
	if !ok {
		return Values{}, false
	}
	pullback, ok := EMA(closes, p.Pullback)
	if !ok {
		return Values{}, false
	}
	atr, ok := ATR(bars, p.ATR)
	if !ok {
		return Values{}, false
	}
	return Values{EMATrend: trend, EMAPullback: pullback, ATR: atr}, true
}

// Closes extracts the close of every bar.
func Closes(bars []common.Kline) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
