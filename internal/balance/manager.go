// Package balance reads the futures account once per cycle and shapes the
// balance view served by the control API.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

const quoteAsset = "USDT"

// Snapshot is the account state fetched for one cycle.
type Snapshot struct {
	Available     float64   `json:"available"`
	TotalMargin   float64   `json:"total_margin"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	MaintMargin   float64   `json:"maint_margin"`
	WalletBalance float64   `json:"wallet_balance"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// View is the balance breakdown shown to operators.
type View struct {
	Total       float64 `json:"total"`
	Available   float64 `json:"available"`
	Used        float64 `json:"used"`
	Unrealized  float64 `json:"unrealized"`
	Wallet      float64 `json:"wallet"`
	MarginRatio float64 `json:"margin_ratio"`
}

// Manager fetches snapshots and remembers the latest one.
type Manager struct {
	gw  common.Gateway
	log *zap.Logger

	mu   sync.RWMutex
	last Snapshot
}

func NewManager(gw common.Gateway, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{gw: gw, log: log.Named("balance")}
}

// Snapshot reads the USDT available balance and the account margin totals.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	rows, err := m.gw.AccountBalance(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("account balance: %w", err)
	}
	info, err := m.gw.AccountInfo(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("account info: %w", err)
	}

	s := Snapshot{
		TotalMargin:   info.TotalMarginBalance,
		UnrealizedPnL: info.TotalUnrealizedProfit,
		MaintMargin:   info.TotalMaintMargin,
		WalletBalance: info.TotalWalletBalance,
		FetchedAt:     time.Now(),
	}
	for _, r := range rows {
		if r.Asset == quoteAsset {
			s.Available = r.AvailableBalance
			break
		}
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()

	m.log.Debug("account snapshot",
		zap.Float64("available", s.Available),
		zap.Float64("total_margin", s.TotalMargin),
		zap.Float64("unrealized_pnl", s.UnrealizedPnL))
	return s, nil
}

// Last returns the most recent snapshot, zero before the first fetch.
func (m *Manager) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// View fetches a fresh snapshot and derives the operator view.
func (m *Manager) View(ctx context.Context) (View, error) {
	s, err := m.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// View derives used margin and the maintenance margin ratio.
func (s Snapshot) View() View {
	used := s.TotalMargin - s.Available
	if used < 0 {
		used = 0
	}
	ratio := 0.0
	if s.TotalMargin > 0 {
		ratio = s.MaintMargin / s.TotalMargin * 100
	}
	return View{
		Total:       s.TotalMargin,
		Available:   s.Available,
		Used:        used,
		Unrealized:  s.UnrealizedPnL,
		Wallet:      s.WalletBalance,
		MarginRatio: ratio,
	}
}
