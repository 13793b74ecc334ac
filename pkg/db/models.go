package db

import "time"

// Order purposes recorded in the journal.
const (
	PurposeEntry      = "entry"
	PurposeStopLoss   = "stop_loss"
	PurposeTakeProfit = "take_profit"
	PurposeUnwind     = "unwind"
	PurposeFlatten    = "flatten"
	PurposeSweep      = "sweep"
	PurposeManual     = "manual_close"
)

// OrderRecord is one submitted order as acknowledged by the venue.
type OrderRecord struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	StopPrice   float64   `json:"stop_price"`
	ReduceOnly  bool      `json:"reduce_only"`
	Status      string    `json:"status"`
	ExecutedQty float64   `json:"executed_qty"`
	AvgPrice    float64   `json:"avg_price"`
	Simulated   bool      `json:"simulated"`
	Purpose     string    `json:"purpose"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReconciliationRecord is one corrective action taken against the venue.
type ReconciliationRecord struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	LiveQty   float64   `json:"live_qty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
