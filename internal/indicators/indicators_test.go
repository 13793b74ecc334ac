package indicators

import (
	"math"
	"testing"

	"perp-core/pkg/exchanges/common"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEMA(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
		wantOK bool
	}{
		{name: "insufficient history", closes: []float64{1, 2}, period: 3, wantOK: false},
		{name: "seed only", closes: []float64{1, 2, 3}, period: 3, want: 2, wantOK: true},
		// seed 2, then (4-2)*0.5+2 = 3, then (6-3)*0.5+3 = 4.5
		{name: "recurrence", closes: []float64{1, 2, 3, 4, 6}, period: 3, want: 4.5, wantOK: true},
		{name: "flat series", closes: []float64{5, 5, 5, 5, 5, 5}, period: 4, want: 5, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EMA(tt.closes, tt.period)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !almostEqual(got, tt.want) {
				t.Fatalf("EMA = %v, want %v", got, tt.want)
			}
		})
	}
}

func bar(high, low, close float64) common.Kline {
	return common.Kline{Open: close, High: high, Low: low, Close: close}
}

func TestATR(t *testing.T) {
	bars := []common.Kline{
		bar(11, 9, 10),
		bar(12, 10, 11),  // TR 2
		bar(14, 11, 13),  // TR 3
		bar(13, 9, 10),   // TR max(4, 0, 4) = 4
		bar(10.5, 9, 10), // TR 1.5
	}

	if _, ok := ATR(bars[:3], 3); ok {
		t.Fatal("three bars give two true ranges; ATR(3) must be unavailable")
	}

	got, ok := ATR(bars, 3)
	if !ok {
		t.Fatal("expected ATR")
	}
	// seed (2+3+4)/3 = 3, then (1.5-3)*0.5+3 = 2.25
	if !almostEqual(got, 2.25) {
		t.Fatalf("ATR = %v, want 2.25", got)
	}

	flat := make([]common.Kline, 6)
	for i := range flat {
		flat[i] = bar(50, 50, 50)
	}
	got, ok = ATR(flat, 3)
	if !ok || got != 0 {
		t.Fatalf("flat ATR = %v (ok=%v), want 0", got, ok)
	}
}

func TestTrueRangeUsesPreviousClose(t *testing.T) {
	trs := TrueRanges([]common.Kline{bar(10, 10, 10), bar(15, 14, 14.5)})
	if len(trs) != 1 || !almostEqual(trs[0], 5) {
		t.Fatalf("true ranges = %v, want [5]", trs)
	}
}

func TestComputeAndWindow(t *testing.T) {
	p := Periods{Trend: 5, Pullback: 3, ATR: 4}
	if p.Window() != 7 {
		t.Fatalf("Window() = %d, want 7", p.Window())
	}

	var bars []common.Kline
	for i := 0; i < p.Window(); i++ {
		c := 100 + float64(i)
		bars = append(bars, bar(c+1, c-1, c))
	}
	v, ok := Compute(bars, p)
	if !ok {
		t.Fatal("expected values")
	}
	if v.EMAPullback <= v.EMATrend {
		t.Errorf("rising series: fast EMA %v should exceed slow EMA %v", v.EMAPullback, v.EMATrend)
	}
	if !almostEqual(v.ATR, 2) {
		t.Errorf("ATR = %v, want 2", v.ATR)
	}

	if _, ok := Compute(bars[:4], p); ok {
		t.Error("expected insufficient history")
	}
}
