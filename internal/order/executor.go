package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-core/internal/events"
	"perp-core/internal/state"
	"perp-core/pkg/db"
	"perp-core/pkg/exchanges/common"
)

// ErrNoOrderID is returned when the venue acknowledged an order without an id.
var ErrNoOrderID = errors.New("order acknowledged without order id")

// Executor submits orders, journals them and runs the protected-entry pipeline.
type Executor struct {
	gw        common.Gateway
	positions *state.Manager
	poller    *Poller
	log       *zap.Logger

	journal   Journal
	bus       *events.Bus
	metrics   Recorder
	simulated bool
}

// Option configures an Executor.
type Option func(*Executor)

func WithJournal(j Journal) Option { return func(e *Executor) { e.journal = j } }
func WithBus(b *events.Bus) Option { return func(e *Executor) { e.bus = b } }
func WithMetrics(r Recorder) Option { return func(e *Executor) { e.metrics = r } }
func WithPoller(p *Poller) Option { return func(e *Executor) { e.poller = p } }
func WithSimulated(sim bool) Option { return func(e *Executor) { e.simulated = sim } }

func NewExecutor(gw common.Gateway, positions *state.Manager, log *zap.Logger, opts ...Option) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{gw: gw, positions: positions, log: log.Named("executor")}
	for _, opt := range opts {
		opt(e)
	}
	if e.poller == nil {
		e.poller = NewPoller(gw, log)
	}
	return e
}

// Simulated reports whether orders go to the paper venue.
func (e *Executor) Simulated() bool { return e.simulated }

// OpenLong enters a long position at market and protects it with reduce-only
// stop-loss and take-profit orders. A Position is recorded only when both
// protective orders were accepted; every other path leaves the symbol flat.
// The returned error is non-nil only when the venue could not be reached or
// the symbol could not be returned to flat.
func (e *Executor) OpenLong(ctx context.Context, in Entry) (Attempt, error) {
	att := Attempt{Stage: StageNone}
	log := e.log.With(zap.String("symbol", in.Symbol))

	entryReq := common.OrderRequest{
		Symbol: in.Symbol,
		Side:   common.SideBuy,
		Type:   common.OrderTypeMarket,
		Qty:    in.Qty,
	}
	ack, err := e.Submit(ctx, entryReq, db.PurposeEntry)
	if err != nil {
		att.Stage = StageEntryFailed
		att.Cause = err
		return att, fmt.Errorf("submit entry %s: %w", in.Symbol, err)
	}
	att.Stage = StageEntrySubmitted

	if ack.Status == common.StatusFilled {
		att.Outcome = FillOutcome{Kind: Filled, Status: ack.Status, ExecutedQty: ack.ExecutedQty, AvgPrice: ack.AvgPrice}
		if ack.ExecutedQty > 0 && ack.ExecutedQty < in.Qty {
			att.Outcome.Kind = PartiallyFilled
		}
	} else {
		att.Outcome, err = e.poller.AwaitFill(ctx, in.Symbol, ack.OrderID, in.Qty)
		if err != nil {
			log.Warn("fill poll interrupted", zap.Error(err))
		}
		if k := att.Outcome.Kind; k == TimedOut || k == PartiallyFilled {
			att.Outcome = e.withdrawEntry(ctx, in.Symbol, ack.OrderID, att.Outcome)
		}
	}

	if att.Outcome.Kind != Filled {
		executed := att.Outcome.ExecutedQty
		if executed <= 0 {
			att.Stage = StageEntryFailed
			log.Warn("entry not filled",
				zap.String("outcome", att.Outcome.Kind.String()), zap.String("status", string(att.Outcome.Status)))
			return att, nil
		}
		log.Warn("entry partially filled, unwinding",
			zap.String("outcome", att.Outcome.Kind.String()), zap.Float64("executed_qty", executed))
		if _, err := e.Flatten(ctx, in.Symbol, executed, db.PurposeUnwind); err != nil {
			EmitCritical(e.bus, in.Symbol, "failed to unwind partial entry fill", err)
			return att, fmt.Errorf("unwind partial fill %s: %w", in.Symbol, err)
		}
		att.Stage = StageEntryPartialUnwound
		return att, nil
	}

	att.Stage = StageEntryFilled
	filled := att.Outcome.ExecutedQty
	if filled <= 0 {
		filled = in.Qty
	}
	entryPrice := att.Outcome.AvgPrice
	if entryPrice <= 0 {
		entryPrice = in.Price
	}
	e.bus.Publish(events.EventOrderFilled, orderEvent(entryReq, common.OrderResult{
		OrderID: ack.OrderID, Status: common.StatusFilled, ExecutedQty: filled, AvgPrice: entryPrice,
	}, db.PurposeEntry))

	sl, err := e.protect(ctx, in.Symbol, common.OrderTypeStopMarket, filled, in.StopLoss, db.PurposeStopLoss)
	if err != nil {
		return e.unprotected(ctx, att, in.Symbol, filled, false, err)
	}
	tp, err := e.protect(ctx, in.Symbol, common.OrderTypeTakeProfitMarket, filled, in.TakeProfit, db.PurposeTakeProfit)
	if err != nil {
		return e.unprotected(ctx, att, in.Symbol, filled, true, err)
	}

	pos := state.Position{
		Symbol:            in.Symbol,
		Status:            state.StatusOpenProtected,
		Side:              "LONG",
		Qty:               filled,
		EntryPrice:        entryPrice,
		StopLoss:          in.StopLoss,
		TakeProfit:        in.TakeProfit,
		EntryOrderID:      ack.OrderID,
		StopLossOrderID:   sl.OrderID,
		TakeProfitOrderID: tp.OrderID,
		OpenedAt:          time.Now().UTC(),
	}
	e.positions.Put(pos)
	att.Stage = StageProtected
	att.Position = &pos

	e.bus.Publish(events.EventPositionOpened, events.PositionEvent{
		Symbol: in.Symbol, Qty: filled, Price: entryPrice, Reason: "entry",
	})
	log.Info("position opened",
		zap.Float64("qty", filled), zap.Float64("entry", entryPrice),
		zap.Float64("stop_loss", in.StopLoss), zap.Float64("take_profit", in.TakeProfit),
		zap.String("sl_order_id", sl.OrderID), zap.String("tp_order_id", tp.OrderID))
	return att, nil
}

// withdrawEntry cancels an entry that may still be working and re-reads its
// executed quantity, which can grow until the cancel lands.
func (e *Executor) withdrawEntry(ctx context.Context, symbol, orderID string, last FillOutcome) FillOutcome {
	log := e.log.With(zap.String("symbol", symbol), zap.String("order_id", orderID))
	if err := e.CancelAll(ctx, symbol); err != nil {
		log.Warn("cancel unfilled entry", zap.Error(err))
		return last
	}
	res, err := e.gw.GetOrder(ctx, symbol, orderID)
	if err != nil {
		log.Warn("order status after cancel", zap.Error(err))
		return last
	}
	if res.ExecutedQty > last.ExecutedQty {
		last.ExecutedQty = res.ExecutedQty
		if res.AvgPrice > 0 {
			last.AvgPrice = res.AvgPrice
		}
	}
	return last
}

func (e *Executor) protect(ctx context.Context, symbol string, typ common.OrderType, qty, stop float64, purpose string) (common.OrderResult, error) {
	res, err := e.Submit(ctx, common.OrderRequest{
		Symbol:     symbol,
		Side:       common.SideSell,
		Type:       typ,
		Qty:        qty,
		StopPrice:  stop,
		ReduceOnly: true,
	}, purpose)
	if err != nil {
		return res, err
	}
	if res.OrderID == "" {
		return res, ErrNoOrderID
	}
	return res, nil
}

// unprotected returns a filled entry to flat after a protective order failed.
func (e *Executor) unprotected(ctx context.Context, att Attempt, symbol string, qty float64, cancel bool, cause error) (Attempt, error) {
	att.Cause = cause
	log := e.log.With(zap.String("symbol", symbol))
	log.Error("protective order failed, flattening", zap.Float64("qty", qty), zap.Error(cause))

	if cancel {
		if err := e.CancelAll(ctx, symbol); err != nil {
			log.Warn("cancel after protection failure", zap.Error(err))
		}
	}
	if _, err := e.Flatten(ctx, symbol, qty, db.PurposeUnwind); err != nil {
		EmitCritical(e.bus, symbol, "unprotected position could not be flattened", err)
		return att, fmt.Errorf("flatten unprotected %s: %w", symbol, errors.Join(cause, err))
	}
	att.Stage = StageProtectionFailedUnwound
	return att, nil
}

// Submit sends req, then journals and announces it. Journal failures are
// logged and never fail the order.
func (e *Executor) Submit(ctx context.Context, req common.OrderRequest, purpose string) (common.OrderResult, error) {
	if req.ClientID == "" {
		req.ClientID = clientID()
	}
	res, err := e.gw.CreateOrder(ctx, req)
	if err != nil {
		e.log.Error("order rejected",
			zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
			zap.String("type", string(req.Type)), zap.Float64("qty", req.Qty),
			zap.String("purpose", purpose), zap.Error(err))
		return res, err
	}

	if e.metrics != nil {
		e.metrics.Order(string(req.Type), e.simulated)
	}
	e.bus.Publish(events.EventOrderSubmitted, orderEvent(req, res, purpose))
	e.log.Info("order submitted",
		zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)), zap.Float64("qty", req.Qty),
		zap.Float64("stop_price", req.StopPrice), zap.Bool("reduce_only", req.ReduceOnly),
		zap.String("order_id", res.OrderID), zap.String("status", string(res.Status)),
		zap.String("purpose", purpose), zap.Bool("simulated", e.simulated))

	if e.journal != nil && res.OrderID != "" {
		rec := db.OrderRecord{
			ID:          res.OrderID,
			ClientID:    req.ClientID,
			Symbol:      req.Symbol,
			Side:        string(req.Side),
			Type:        string(req.Type),
			Qty:         req.Qty,
			Price:       req.Price,
			StopPrice:   req.StopPrice,
			ReduceOnly:  req.ReduceOnly,
			Status:      string(res.Status),
			ExecutedQty: res.ExecutedQty,
			AvgPrice:    res.AvgPrice,
			Simulated:   e.simulated,
			Purpose:     purpose,
			CreatedAt:   time.Now().UTC(),
		}
		if err := e.journal.RecordOrder(ctx, rec); err != nil {
			e.log.Warn("journal order", zap.String("order_id", res.OrderID), zap.Error(err))
		}
	}
	return res, nil
}

// Flatten closes a signed position amount with a reduce-only market order on
// the opposite side. A zero amount is a no-op.
func (e *Executor) Flatten(ctx context.Context, symbol string, amt float64, purpose string) (common.OrderResult, error) {
	if amt == 0 {
		return common.OrderResult{}, nil
	}
	side := common.SideSell
	if amt < 0 {
		side = common.SideBuy
	}
	return e.Submit(ctx, common.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Qty:        math.Abs(amt),
		ReduceOnly: true,
	}, purpose)
}

// CancelAll cancels every open order for symbol. Nothing to cancel is success.
func (e *Executor) CancelAll(ctx context.Context, symbol string) error {
	err := e.gw.CancelAllOpenOrders(ctx, symbol)
	if err != nil && !errors.Is(err, common.ErrOrderNotFound) {
		return err
	}
	return nil
}

func clientID() string {
	// Binance caps newClientOrderId at 36 characters.
	return "pc-" + uuid.NewString()[:32]
}
