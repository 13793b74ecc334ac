package risk

import (
	"fmt"

	"perp-core/internal/market"
)

// Reason names why a signal could not be sized.
type Reason string

const (
	ReasonInvalidEntry       Reason = "invalid_entry"
	ReasonMissingStop        Reason = "missing_stop"
	ReasonStopTooClose       Reason = "stop_too_close"
	ReasonNoRiskBudget       Reason = "no_risk_budget"
	ReasonBelowMinQty        Reason = "below_min_qty"
	ReasonBelowMinNotional   Reason = "below_min_notional"
	ReasonInsufficientMargin Reason = "insufficient_margin"
	ReasonInvalidRule        Reason = "invalid_rule"
)

// Rejection is returned when a signal cannot be turned into a compliant order.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "risk rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("risk rejected: %s (%s)", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Input is everything the sizing steps read.
type Input struct {
	Entry            float64
	StopLoss         float64 // zero means absent
	AvailableBalance float64
	Leverage         int
	RiskPercent      float64
	MaxRiskAbs       float64
	Rule             market.Rule
}

// Side of a protected position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)
