// Package strategy selects the watch-list and detects trend-pullback entries.
package strategy

import (
	"context"
	"fmt"

	"perp-core/internal/indicators"
	"perp-core/internal/market"
	"perp-core/pkg/exchanges/common"
)

// Signal is a long entry recommendation. Zero value means no signal.
type Signal struct {
	Symbol     string
	HasSignal  bool
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	ATR        float64
}

// Params are the strategy settings shared by the scanner and the detector.
type Params struct {
	Interval        string // exchange code, e.g. "1h"
	Periods         indicators.Periods
	MinATRMult      float64
	RiskRewardRatio float64
}

// RuleSource resolves instrument rules; market.Catalog implements it.
type RuleSource interface {
	Get(ctx context.Context, symbol string) (market.Rule, bool, error)
}

// volatilityFloor is the smallest ATR worth trading: five quantity steps
// scaled by the configured multiplier.
func volatilityFloor(rule market.Rule, mult float64) float64 {
	return rule.Step() * 5 * mult
}

func fetchWindow(ctx context.Context, gw common.Gateway, symbol string, p Params) ([]common.Kline, error) {
	want := p.Periods.Window()
	bars, err := gw.Klines(ctx, symbol, p.Interval, want)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	return bars, nil
}
