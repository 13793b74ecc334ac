package strategy

import (
	"context"
	"math"
	"testing"

	"perp-core/internal/indicators"
	"perp-core/internal/market"
	"perp-core/pkg/exchanges/common"
	"perp-core/pkg/exchanges/fake"
)

var testParams = Params{
	Interval:        "1h",
	Periods:         indicators.Periods{Trend: 5, Pullback: 3, ATR: 3},
	MinATRMult:      1.0,
	RiskRewardRatio: 2.0,
}

func info(symbol, step string) common.SymbolInfo {
	return common.SymbolInfo{
		Symbol:        symbol,
		Status:        "TRADING",
		ContractType:  "PERPETUAL",
		QuoteAsset:    "USDT",
		LotSize:       &common.LotFilter{MinQty: step, MaxQty: "1000", StepSize: step},
		MarketLotSize: &common.LotFilter{MinQty: step, MaxQty: "500", StepSize: step},
		PriceFilter:   &common.PriceFilter{MinPrice: "0.01", MaxPrice: "100000", TickSize: "0.01"},
		MinNotional:   "5",
	}
}

// series builds bars with the given closes and a symmetric high/low spread.
func series(closes []float64, spread float64) []common.Kline {
	bars := make([]common.Kline, len(closes))
	for i, c := range closes {
		bars[i] = common.Kline{OpenTime: int64(i), Open: c, High: c + spread, Low: c - spread, Close: c}
	}
	return bars
}

var rising = []float64{100, 101, 102, 103, 104, 105, 106}

func newVenue(symbols ...common.SymbolInfo) (*fake.Gateway, *market.Catalog) {
	gw := fake.New()
	gw.Symbols = symbols
	return gw, market.NewCatalog(gw, nil)
}

func TestScannerSelectsUptrendsByAscendingATR(t *testing.T) {
	gw, catalog := newVenue(
		info("AAAUSDT", "0.001"),
		info("BBBUSDT", "0.001"),
		info("CCCUSDT", "0.001"),
		info("DDDUSDT", "1"),
		info("EEEUSDT", "0.001"),
	)
	gw.Bars["AAAUSDT"] = series(rising, 1)   // ATR 2
	gw.Bars["BBBUSDT"] = series(rising, 0.5) // ATR 1.5
	gw.Bars["CCCUSDT"] = series([]float64{106, 105, 104, 103, 102, 101, 100}, 1)
	gw.Bars["DDDUSDT"] = series(rising, 0.5) // below the 5-step floor
	gw.Bars["EEEUSDT"] = series(rising[:4], 1)

	ctx := context.Background()
	if err := catalog.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	s := NewScanner(gw, catalog, catalog, testParams, nil)

	got, err := s.Select(ctx, 5)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0] != "BBBUSDT" || got[1] != "AAAUSDT" {
		t.Fatalf("Select = %v, want [BBBUSDT AAAUSDT]", got)
	}

	got, err = s.Select(ctx, 1)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 1 || got[0] != "BBBUSDT" {
		t.Fatalf("truncated Select = %v", got)
	}

	for _, call := range gw.Calls {
		if call.Method == "Klines" && call.Symbol == "AAAUSDT" {
			return
		}
	}
	t.Fatal("klines never requested")
}

func TestScannerEmptyListing(t *testing.T) {
	gw, catalog := newVenue()
	s := NewScanner(gw, catalog, catalog, testParams, nil)
	if _, err := s.Select(context.Background(), 5); err == nil {
		t.Fatal("expected error for empty listing")
	}
}

func TestDetectorSignalsOnTouchOfTrendEMA(t *testing.T) {
	gw, catalog := newVenue(info("BTCUSDT", "0.001"))
	bars := series(rising, 1)
	// trend EMA ends at 104; the last bar dips to 103.5 and closes at 106
	bars[len(bars)-1].Low = 103.5
	gw.Bars["BTCUSDT"] = bars

	d := NewDetector(gw, catalog, testParams, nil)
	sig, err := d.Detect(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !sig.HasSignal {
		t.Fatal("expected a signal")
	}
	// ATR 2.75 -> stop distance 5.5, take distance 11
	if sig.EntryPrice != 106 || math.Abs(sig.StopLoss-100.5) > 1e-9 || math.Abs(sig.TakeProfit-117) > 1e-9 {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestDetectorNoSignal(t *testing.T) {
	steady := series(rising, 0.5) // lows stay above the trend EMA
	down := series([]float64{106, 105, 104, 103, 102, 101, 100}, 1)
	tests := []struct {
		name   string
		bars   []common.Kline
		symbol string
	}{
		{"no pullback", steady, "BTCUSDT"},
		{"downtrend", down, "BTCUSDT"},
		{"insufficient history", series(rising[:3], 1), "BTCUSDT"},
		{"unknown symbol", series(rising, 1), "XYZUSDT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, catalog := newVenue(info("BTCUSDT", "0.001"))
			gw.Bars[tt.symbol] = tt.bars
			sig, err := NewDetector(gw, catalog, testParams, nil).Detect(context.Background(), tt.symbol)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if sig.HasSignal {
				t.Fatalf("unexpected signal %+v", sig)
			}
		})
	}
}

func TestIsEntryDisjunction(t *testing.T) {
	v := indicators.Values{EMATrend: 100, EMAPullback: 102}
	tests := []struct {
		name string
		last common.Kline
		prev common.Kline
		want bool
	}{
		{
			name: "last bar touched trend EMA",
			last: common.Kline{Low: 99.5, Close: 103},
			prev: common.Kline{Low: 101, Close: 104},
			want: true,
		},
		{
			name: "previous bar touched and current closed higher",
			last: common.Kline{Low: 101, Close: 103},
			prev: common.Kline{Low: 100, Close: 101},
			want: true,
		},
		{
			name: "between averages is not yet resumed",
			last: common.Kline{Low: 100.5, Close: 101},
			prev: common.Kline{Low: 100.5, Close: 101.5},
			want: false,
		},
		{
			name: "below trend",
			last: common.Kline{Low: 98, Close: 99},
			prev: common.Kline{Low: 97, Close: 98},
			want: false,
		},
		{
			name: "no pullback",
			last: common.Kline{Low: 102.5, Close: 104},
			prev: common.Kline{Low: 101, Close: 103},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEntry(tt.last, tt.prev, v); got != tt.want {
				t.Fatalf("isEntry = %v, want %v", got, tt.want)
			}
		})
	}
}
