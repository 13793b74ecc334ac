package events

import "time"

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventSignal         Event = "signal"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderFilled    Event = "order.filled"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventReconciliation Event = "reconciliation"
	EventConnectivity   Event = "connectivity"
	EventCritical       Event = "critical"
)

// All lists every topic, for subscribers that relay everything.
var All = []Event{
	EventSignal,
	EventOrderSubmitted,
	EventOrderFilled,
	EventPositionOpened,
	EventPositionClosed,
	EventReconciliation,
	EventConnectivity,
	EventCritical,
}

// OrderEvent describes a submitted or filled order.
type OrderEvent struct {
	Symbol      string  `json:"symbol"`
	OrderID     string  `json:"order_id"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Qty         float64 `json:"qty"`
	Status      string  `json:"status"`
	ExecutedQty float64 `json:"executed_qty"`
	AvgPrice    float64 `json:"avg_price"`
	Purpose     string  `json:"purpose"`
}

// PositionEvent reports a tracked position being opened or closed.
type PositionEvent struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price,omitempty"`
	Reason string  `json:"reason"`
}

// ReconciliationEvent reports a corrective action.
type ReconciliationEvent struct {
	Symbol  string  `json:"symbol"`
	Action  string  `json:"action"`
	LiveQty float64 `json:"live_qty"`
}

// ConnectivityEvent reports the loop entering or leaving the down state.
type ConnectivityEvent struct {
	Down  bool      `json:"down"`
	Since time.Time `json:"since"`
	Error string    `json:"error,omitempty"`
}

// CriticalEvent needs operator attention.
type CriticalEvent struct {
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
