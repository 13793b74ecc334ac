package strategy

import (
	"context"

	"go.uber.org/zap"

	"perp-core/internal/indicators"
	"perp-core/internal/risk"
	"perp-core/pkg/exchanges/common"
)

// Detector evaluates the trend-pullback entry on one symbol.
type Detector struct {
	gw     common.Gateway
	rules  RuleSource
	params Params
	log    *zap.Logger
}

// NewDetector builds a detector reading the same bar window as the scanner.
func NewDetector(gw common.Gateway, rules RuleSource, params Params, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{gw: gw, rules: rules, params: params, log: log.Named("detector")}
}

// Detect returns a Signal with HasSignal set when all three conditions hold:
// uptrend, a recent pullback, and a close back above the pullback EMA.
func (d *Detector) Detect(ctx context.Context, symbol string) (Signal, error) {
	none := Signal{Symbol: symbol}

	rule, ok, err := d.rules.Get(ctx, symbol)
	if err != nil {
		return none, err
	}
	if !ok {
		d.log.Debug("no instrument rule", zap.String("symbol", symbol))
		return none, nil
	}
	bars, err := fetchWindow(ctx, d.gw, symbol, d.params)
	if err != nil {
		return none, err
	}
	if len(bars) < 2 {
		return none, nil
	}

	v, ok := indicators.Compute(bars, d.params.Periods)
	if !ok {
		return none, nil
	}
	if v.ATR < volatilityFloor(rule, d.params.MinATRMult) {
		return none, nil
	}

	last, prev := bars[len(bars)-1], bars[len(bars)-2]
	if !isEntry(last, prev, v) {
		return none, nil
	}

	entry := rule.RoundPrice(last.Close)
	levels := risk.ProtectiveLevels(entry, v.ATR, risk.Long, d.params.RiskRewardRatio, rule)
	if levels.StopLoss >= entry || levels.TakeProfit <= entry {
		d.log.Info("levels collapsed onto entry",
			zap.String("symbol", symbol), zap.Float64("entry", entry),
			zap.Float64("stop_loss", levels.StopLoss), zap.Float64("take_profit", levels.TakeProfit))
		return none, nil
	}

	sig := Signal{
		Symbol:     symbol,
		HasSignal:  true,
		EntryPrice: entry,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		ATR:        v.ATR,
	}
	d.log.Info("entry signal",
		zap.String("symbol", symbol),
		zap.Float64("entry", sig.EntryPrice),
		zap.Float64("stop_loss", sig.StopLoss),
		zap.Float64("take_profit", sig.TakeProfit),
		zap.Float64("ema_trend", v.EMATrend),
		zap.Float64("ema_pullback", v.EMAPullback),
		zap.Float64("atr", v.ATR))
	return sig, nil
}

// isEntry is the long entry rule. The pullback test is a three-way
// disjunction and also fires after sideways chop.
func isEntry(last, prev common.Kline, v indicators.Values) bool {
	uptrend := last.Close > v.EMATrend
	pullback := (last.Close < v.EMAPullback && last.Close > v.EMATrend) ||
		(last.Low <= v.EMATrend && last.Close > v.EMATrend) ||
		(prev.Low <= v.EMATrend && prev.Close < last.Close)
	resumed := last.Close > v.EMAPullback
	return uptrend && pullback && resumed
}
