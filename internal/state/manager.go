// Package state holds the in-process Position table. It is never persisted;
// after a restart it starts empty and reconciliation rebuilds the view from
// the exchange.
package state

import (
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a tracked position.
type Status string

const (
	StatusOpenProtected Status = "OPEN_PROTECTED"
)

// Position is a tracked entry together with its protective orders.
type Position struct {
	Symbol            string    `json:"symbol"`
	Status            Status    `json:"status"`
	Side              string    `json:"side"`
	Qty               float64   `json:"qty"`
	EntryPrice        float64   `json:"entry_price"`
	StopLoss          float64   `json:"stop_loss"`
	TakeProfit        float64   `json:"take_profit"`
	EntryOrderID      string    `json:"entry_order_id"`
	StopLossOrderID   string    `json:"stop_loss_order_id"`
	TakeProfitOrderID string    `json:"take_profit_order_id"`
	OpenedAt          time.Time `json:"opened_at"`
}

// Manager is the Position table: at most one Position per symbol. The
// trading loop is its only writer; the control API reads snapshots.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewManager() *Manager {
	return &Manager{positions: make(map[string]Position)}
}

// Get returns the tracked position for symbol.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// Put records p, replacing any earlier entry for the symbol.
func (m *Manager) Put(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// Remove forgets symbol; it reports whether anything was tracked.
func (m *Manager) Remove(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	delete(m.positions, symbol)
	return ok
}

// Symbols lists tracked symbols in name order.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of all positions in symbol order.
func (m *Manager) Snapshot() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}
