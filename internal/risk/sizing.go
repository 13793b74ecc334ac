// Package risk turns a signal into an order quantity under the account's risk
// budget and the instrument's quantity rules.
package risk

import (
	"math"

	"go.uber.org/zap"
)

// RejectionRecorder counts rejections by reason.
type RejectionRecorder interface {
	RiskRejection(reason string)
}

// Engine sizes entries. It holds no state between calls.
type Engine struct {
	log     *zap.Logger
	metrics RejectionRecorder
}

// NewEngine returns a sizing engine; metrics may be nil.
func NewEngine(log *zap.Logger, metrics RejectionRecorder) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log.Named("risk"), metrics: metrics}
}

// Size returns the quantity to buy, or a *Rejection.
func (e *Engine) Size(in Input) (float64, error) {
	qty, err := e.size(in)
	if err != nil {
		if rej, ok := err.(*Rejection); ok && e.metrics != nil {
			e.metrics.RiskRejection(string(rej.Reason))
		}
		e.log.Info("entry rejected", zap.String("symbol", in.Rule.Symbol), zap.Error(err))
		return 0, err
	}
	return qty, nil
}

func (e *Engine) size(in Input) (float64, error) {
	rule := in.Rule
	step := rule.Step()
	if step <= 0 {
		return 0, reject(ReasonInvalidRule, "step size %v", step)
	}

	// 1. actionable stop
	if in.Entry <= 0 {
		return 0, reject(ReasonInvalidEntry, "entry %v", in.Entry)
	}
	if in.StopLoss <= 0 {
		return 0, reject(ReasonMissingStop, "no stop-loss price")
	}
	stopDist := math.Abs(in.Entry - in.StopLoss)
	if stopDist < step*2 {
		return 0, reject(ReasonStopTooClose, "stop distance %v below %v", stopDist, step*2)
	}

	// 2. budget
	budget := Budget(in.AvailableBalance, in.RiskPercent, in.MaxRiskAbs)
	if budget <= 0 {
		return 0, reject(ReasonNoRiskBudget, "budget %v", budget)
	}

	// 3-4. candidates
	qtyRisk := budget / stopDist
	qtyMinNotional := rule.CeilQty(rule.MinNotional / in.Entry)

	// 5. single floor-to-step rule
	qty := rule.FloorQty(math.Max(qtyRisk, qtyMinNotional))

	// 6. quantization must not drop below min notional
	if qty*in.Entry < rule.MinNotional {
		qty = qtyMinNotional
	}

	// 7. quantity bounds
	if qty < rule.MinQty {
		return 0, reject(ReasonBelowMinQty, "qty %v below min %v", qty, rule.MinQty)
	}
	if rule.MaxQty > 0 && qty > rule.MaxQty {
		e.log.Info("clamp qty to max",
			zap.String("symbol", rule.Symbol), zap.Float64("qty", qty), zap.Float64("max_qty", rule.MaxQty))
		qty = rule.FloorQty(rule.MaxQty)
	}
	if rule.MarketMaxQty > 0 && qty > rule.MarketMaxQty {
		e.log.Info("clamp qty to market max",
			zap.String("symbol", rule.Symbol), zap.Float64("qty", qty), zap.Float64("market_max_qty", rule.MarketMaxQty))
		qty = rule.FloorQty(rule.MarketMaxQty)
	}
	if qty*in.Entry < rule.MinNotional {
		return 0, reject(ReasonBelowMinNotional, "clamped notional %v below %v", qty*in.Entry, rule.MinNotional)
	}

	// 8. margin
	lev := in.Leverage
	if lev < 1 {
		lev = 1
	}
	if margin := in.Entry * qty / float64(lev); margin > in.AvailableBalance {
		return 0, reject(ReasonInsufficientMargin, "margin %v exceeds available %v", margin, in.AvailableBalance)
	}

	e.log.Debug("sized entry",
		zap.String("symbol", rule.Symbol),
		zap.Float64("budget", budget),
		zap.Float64("qty_risk", qtyRisk),
		zap.Float64("qty_min_notional", qtyMinNotional),
		zap.Float64("qty", qty))
	return qty, nil
}

// Budget is min(balance*percent/100, maxAbs).
func Budget(balance, percent, maxAbs float64) float64 {
	return math.Min(balance*percent/100, maxAbs)
}
