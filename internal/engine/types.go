package engine

import (
	"fmt"
	"time"

	"perp-core/internal/monitor"
)

// Status is the runtime state reported by GET /api/status.
type Status struct {
	Running        bool       `json:"running"`
	TestMode       bool       `json:"test_mode"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	Uptime         string     `json:"uptime,omitempty"`
	WatchList      []string   `json:"watch_list"`
	Down           bool       `json:"connectivity_down"`
	LastCycle      *time.Time `json:"last_cycle,omitempty"`
	Cycles         int64      `json:"cycles"`
	PositionsCount int        `json:"positions_count"`
	LastError      string     `json:"last_error,omitempty"`

	LastAvailable float64               `json:"last_available_balance,omitempty"`
	CycleLatency  *monitor.LatencyStats `json:"cycle_latency_ms,omitempty"`
}

// PositionView is one live exchange position.
type PositionView struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Size         float64 `json:"size"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
	PnLPercent   float64 `json:"pnl_percent"`
	Leverage     int     `json:"leverage"`
	Margin       float64 `json:"margin"`
	Tracked      bool    `json:"tracked"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
}

// formatUptime renders d as "Xh Ym".
func formatUptime(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}
