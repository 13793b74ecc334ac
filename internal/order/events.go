package order

import (
	"time"

	"perp-core/internal/events"
	"perp-core/pkg/exchanges/common"
)

func orderEvent(req common.OrderRequest, res common.OrderResult, purpose string) events.OrderEvent {
	return events.OrderEvent{
		Symbol:      req.Symbol,
		OrderID:     res.OrderID,
		Side:        string(req.Side),
		Type:        string(req.Type),
		Qty:         req.Qty,
		Status:      string(res.Status),
		ExecutedQty: res.ExecutedQty,
		AvgPrice:    res.AvgPrice,
		Purpose:     purpose,
	}
}

// EmitCritical publishes a condition that needs an operator.
func EmitCritical(bus *events.Bus, symbol, msg string, err error) {
	ev := events.CriticalEvent{Symbol: symbol, Message: msg, At: time.Now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	bus.Publish(events.EventCritical, ev)
}

// EmitPositionClosed publishes the removal of a tracked position.
func EmitPositionClosed(bus *events.Bus, symbol string, qty float64, reason string) {
	bus.Publish(events.EventPositionClosed, events.PositionEvent{Symbol: symbol, Qty: qty, Reason: reason})
}
