// Package reconciliation keeps the Position table honest against the
// exchange: positions closed by the venue are forgotten, positions that lost
// a protective order are flattened, and untracked positions are swept.
package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"perp-core/internal/events"
	"perp-core/internal/order"
	"perp-core/internal/state"
	"perp-core/pkg/db"
	"perp-core/pkg/exchanges/common"
)

// Action names what reconciliation did for a symbol.
type Action string

const (
	ActionNone           Action = "none"
	ActionClosedOnVenue  Action = "closed_on_venue"
	ActionFlattened      Action = "flattened_unprotected"
	ActionSwept          Action = "swept_untracked"
	ActionFlattenFailed  Action = "flatten_failed"
	ActionNothingToSweep Action = "flat"
)

// Journal persists corrective actions.
type Journal interface {
	RecordReconciliation(ctx context.Context, r db.ReconciliationRecord) error
}

// Recorder counts corrective actions.
type Recorder interface {
	ReconciliationAction(action string)
}

// Report is the result for one symbol.
type Report struct {
	Symbol    string
	Action    Action
	LiveQty   float64
	Missing   []string // protective order ids the venue no longer lists
	Timestamp time.Time
}

// Service reconciles tracked positions one symbol at a time. It is driven by
// the control loop and is not safe for concurrent use.
type Service struct {
	gw        common.Gateway
	positions *state.Manager
	exec      *order.Executor
	log       *zap.Logger

	journal Journal
	bus     *events.Bus
	metrics Recorder

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*Service)

func WithJournal(j Journal) Option { return func(s *Service) { s.journal = j } }
func WithBus(b *events.Bus) Option { return func(s *Service) { s.bus = b } }
func WithMetrics(r Recorder) Option { return func(s *Service) { s.metrics = r } }

func NewService(gw common.Gateway, positions *state.Manager, exec *order.Executor, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		gw:        gw,
		positions: positions,
		exec:      exec,
		log:       log.Named("reconciliation"),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile compares the tracked position for symbol with the venue. Symbols
// without a tracked position are left alone. A failed flatten is reported as
// ActionFlattenFailed and a critical event rather than an error so the loop
// keeps running; errors are returned only when the venue state could not be
// read or orders could not be cancelled.
func (s *Service) Reconcile(ctx context.Context, symbol string) (Report, error) {
	rep := Report{Symbol: symbol, Action: ActionNone, Timestamp: time.Now().UTC()}
	pos, ok := s.positions.Get(symbol)
	if !ok {
		return rep, nil
	}
	log := s.log.With(zap.String("symbol", symbol))

	rows, err := s.gw.Positions(ctx, symbol)
	if err != nil {
		return rep, fmt.Errorf("positions %s: %w", symbol, err)
	}
	rep.LiveQty = common.LivePositionAmt(rows, symbol)

	open, err := s.gw.OpenOrders(ctx, symbol)
	if err != nil {
		return rep, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	if rep.LiveQty == 0 {
		if err := s.exec.CancelAll(ctx, symbol); err != nil {
			return rep, fmt.Errorf("cancel lingering orders %s: %w", symbol, err)
		}
		s.positions.Remove(symbol)
		rep.Action = ActionClosedOnVenue
		log.Info("position closed on venue, forgetting it", zap.Int("cancelled_orders", len(open)))
		order.EmitPositionClosed(s.bus, symbol, pos.Qty, string(rep.Action))
		s.record(ctx, rep, fmt.Sprintf("lingering_orders=%d", len(open)))
		return rep, nil
	}

	rep.Missing = missingProtection(pos, open)
	if len(rep.Missing) == 0 {
		return rep, nil
	}

	log.Warn("position lost protection, flattening",
		zap.Strings("missing_order_ids", rep.Missing), zap.Float64("live_qty", rep.LiveQty))
	if err := s.exec.CancelAll(ctx, symbol); err != nil {
		return rep, fmt.Errorf("cancel before flatten %s: %w", symbol, err)
	}
	if _, err := s.exec.Flatten(ctx, symbol, rep.LiveQty, db.PurposeFlatten); err != nil {
		if s.flatOnVenue(ctx, symbol) {
			s.positions.Remove(symbol)
			rep.Action = ActionClosedOnVenue
			log.Info("position closed on venue while flattening", zap.Error(err))
			order.EmitPositionClosed(s.bus, symbol, rep.LiveQty, string(rep.Action))
			s.record(ctx, rep, "closed before flatten: "+err.Error())
			return rep, nil
		}
		rep.Action = ActionFlattenFailed
		log.Error("CRITICAL: unprotected position could not be flattened, manual action required",
			zap.Float64("live_qty", rep.LiveQty), zap.Error(err))
		order.EmitCritical(s.bus, symbol, "unprotected position could not be flattened", err)
		s.record(ctx, rep, err.Error())
		return rep, nil
	}
	s.positions.Remove(symbol)
	rep.Action = ActionFlattened
	order.EmitPositionClosed(s.bus, symbol, rep.LiveQty, string(rep.Action))
	s.record(ctx, rep, "missing="+strings.Join(rep.Missing, ","))
	return rep, nil
}

// SweepUntracked flattens live positions on symbols the table does not
// track, pausing between symbols. Connectivity failures abort the sweep;
// other per-symbol failures are logged and the sweep moves on.
func (s *Service) SweepUntracked(ctx context.Context, symbols []string, pause time.Duration) ([]Report, error) {
	var out []Report
	for i, symbol := range symbols {
		if i > 0 && pause > 0 {
			if err := s.sleep(ctx, pause); err != nil {
				return out, err
			}
		}
		if _, tracked := s.positions.Get(symbol); tracked {
			continue
		}
		rep, err := s.sweep(ctx, symbol)
		if err != nil {
			if common.IsConnectivity(err) {
				return out, err
			}
			s.log.Warn("sweep failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if rep.Action != ActionNothingToSweep {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (s *Service) sweep(ctx context.Context, symbol string) (Report, error) {
	rep := Report{Symbol: symbol, Action: ActionNothingToSweep, Timestamp: time.Now().UTC()}
	rows, err := s.gw.Positions(ctx, symbol)
	if err != nil {
		return rep, fmt.Errorf("positions %s: %w", symbol, err)
	}
	rep.LiveQty = common.LivePositionAmt(rows, symbol)
	if rep.LiveQty == 0 {
		return rep, nil
	}

	log := s.log.With(zap.String("symbol", symbol))
	log.Warn("untracked position found, flattening", zap.Float64("live_qty", rep.LiveQty))
	if err := s.exec.CancelAll(ctx, symbol); err != nil {
		return rep, fmt.Errorf("cancel before sweep %s: %w", symbol, err)
	}
	if _, err := s.exec.Flatten(ctx, symbol, rep.LiveQty, db.PurposeSweep); err != nil {
		if s.flatOnVenue(ctx, symbol) {
			rep.Action = ActionNothingToSweep
			log.Info("untracked position closed on venue while flattening", zap.Error(err))
			return rep, nil
		}
		rep.Action = ActionFlattenFailed
		log.Error("CRITICAL: untracked position could not be flattened, manual action required",
			zap.Float64("live_qty", rep.LiveQty), zap.Error(err))
		order.EmitCritical(s.bus, symbol, "untracked position could not be flattened", err)
		s.record(ctx, rep, err.Error())
		return rep, nil
	}
	rep.Action = ActionSwept
	s.record(ctx, rep, "")
	return rep, nil
}

// flatOnVenue re-reads the live amount after a failed flatten. A protective
// order may have filled between the reads and the flatten.
func (s *Service) flatOnVenue(ctx context.Context, symbol string) bool {
	rows, err := s.gw.Positions(ctx, symbol)
	if err != nil {
		s.log.Warn("re-read position after failed flatten", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	return common.LivePositionAmt(rows, symbol) == 0
}

// record journals, counts and announces a corrective action.
func (s *Service) record(ctx context.Context, rep Report, detail string) {
	if s.metrics != nil {
		s.metrics.ReconciliationAction(string(rep.Action))
	}
	s.bus.Publish(events.EventReconciliation, events.ReconciliationEvent{
		Symbol:  rep.Symbol,
		Action:  string(rep.Action),
		LiveQty: rep.LiveQty,
	})
	if s.journal == nil {
		return
	}
	err := s.journal.RecordReconciliation(ctx, db.ReconciliationRecord{
		Symbol:    rep.Symbol,
		Action:    string(rep.Action),
		LiveQty:   rep.LiveQty,
		Detail:    detail,
		CreatedAt: rep.Timestamp,
	})
	if err != nil {
		s.log.Warn("journal reconciliation", zap.String("symbol", rep.Symbol), zap.Error(err))
	}
}

func missingProtection(pos state.Position, open []common.OpenOrder) []string {
	live := make(map[string]bool, len(open))
	for _, o := range open {
		live[o.OrderID] = true
	}
	var missing []string
	for _, id := range []string{pos.StopLossOrderID, pos.TakeProfitOrderID} {
		if !live[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
