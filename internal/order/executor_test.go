package order

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"perp-core/internal/events"
	"perp-core/internal/state"
	"perp-core/pkg/db"
	"perp-core/pkg/exchanges/common"
	"perp-core/pkg/exchanges/fake"
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps int
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps++
	return ctx.Err()
}

func newTestPoller(gw common.Gateway) (*Poller, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewPoller(gw, nil)
	p.now = clock.now
	p.sleep = clock.sleep
	return p, clock
}

func newTestJournal(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

// scripted answers CreateOrder like the venue, except for order types listed
// in fail, which get the paired result and error.
type scripted struct {
	mu     sync.Mutex
	nextID int
	fail   map[common.OrderType]scriptedFailure
	entry  *common.OrderResult
}

type scriptedFailure struct {
	res common.OrderResult
	err error
}

func (s *scripted) create(req common.OrderRequest) (common.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.fail[req.Type]; ok {
		return f.res, f.err
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	switch {
	case req.Type.IsTrigger():
		return common.OrderResult{OrderID: id, Symbol: req.Symbol, Status: common.StatusNew}, nil
	case !req.ReduceOnly && s.entry != nil:
		res := *s.entry
		res.OrderID = id
		return res, nil
	}
	return common.OrderResult{OrderID: id, Symbol: req.Symbol, Status: common.StatusFilled, ExecutedQty: req.Qty, AvgPrice: 100}, nil
}

func (s *scripted) failType(t common.OrderType, res common.OrderResult, err error) {
	if s.fail == nil {
		s.fail = make(map[common.OrderType]scriptedFailure)
	}
	s.fail[t] = scriptedFailure{res: res, err: err}
}

var btcEntry = Entry{Symbol: "BTCUSDT", Qty: 1, Price: 100, StopLoss: 96, TakeProfit: 108}

func TestOpenLongRecordsProtectedPosition(t *testing.T) {
	gw := fake.New()
	gw.Prices["BTCUSDT"] = 100
	positions := state.NewManager()
	journal := newTestJournal(t)
	bus := events.NewBus()
	opened, unsub := bus.Subscribe(events.EventPositionOpened, 1)
	defer unsub()

	exec := NewExecutor(gw, positions, nil, WithJournal(journal), WithBus(bus), WithSimulated(true))
	att, err := exec.OpenLong(context.Background(), btcEntry)
	if err != nil {
		t.Fatalf("OpenLong: %v", err)
	}
	if att.Stage != StageProtected || att.Position == nil {
		t.Fatalf("stage = %s, position = %v", att.Stage, att.Position)
	}

	pos, ok := positions.Get("BTCUSDT")
	if !ok {
		t.Fatal("position not recorded")
	}
	if pos.Status != state.StatusOpenProtected || pos.Qty != 1 || pos.EntryPrice != 100 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if pos.StopLossOrderID == "" || pos.TakeProfitOrderID == "" || pos.StopLossOrderID == pos.TakeProfitOrderID {
		t.Fatalf("protective ids not recorded: %+v", pos)
	}

	created := gw.CreatedOrders()
	if len(created) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(created))
	}
	wantTypes := []common.OrderType{common.OrderTypeMarket, common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket}
	for i, req := range created {
		if req.Type != wantTypes[i] {
			t.Fatalf("order %d type = %s, want %s", i, req.Type, wantTypes[i])
		}
		if i > 0 && (!req.ReduceOnly || req.Side != common.SideSell || req.Qty != 1) {
			t.Fatalf("protective order %d malformed: %+v", i, req)
		}
		if req.ClientID == "" || len(req.ClientID) > 36 {
			t.Fatalf("client id %q", req.ClientID)
		}
	}
	if created[1].StopPrice != 96 || created[2].StopPrice != 108 {
		t.Fatalf("trigger prices = %v / %v", created[1].StopPrice, created[2].StopPrice)
	}
	if gw.CallCount("GetOrder") != 0 {
		t.Fatal("filled acknowledgement should not be polled")
	}

	rows, err := journal.RecentOrders(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentOrders: %v", err)
	}
	if len(rows) != 3 || !rows[0].Simulated {
		t.Fatalf("journal rows = %+v", rows)
	}

	select {
	case ev := <-opened:
		if pe, ok := ev.(events.PositionEvent); !ok || pe.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected event %#v", ev)
		}
	default:
		t.Fatal("position.opened not published")
	}
}

func TestOpenLongFlattensWhenProtectionFails(t *testing.T) {
	tests := []struct {
		name       string
		failType   common.OrderType
		res        common.OrderResult
		err        error
		wantCancel bool
		wantOrders int
	}{
		{
			name:       "stop loss rejected",
			failType:   common.OrderTypeStopMarket,
			err:        &common.APIError{HTTPStatus: 400, Code: -2021, Message: "Order would immediately trigger."},
			wantOrders: 3, // entry, stop, flatten
		},
		{
			name:       "take profit without order id",
			failType:   common.OrderTypeTakeProfitMarket,
			res:        common.OrderResult{Status: common.StatusNew},
			wantCancel: true,
			wantOrders: 4, // entry, stop, take profit, flatten
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := fake.New()
			s := &scripted{}
			s.failType(tt.failType, tt.res, tt.err)
			gw.CreateOrderFunc = s.create
			positions := state.NewManager()
			bus := events.NewBus()
			critical, unsub := bus.Subscribe(events.EventCritical, 1)
			defer unsub()

			entry := btcEntry
			entry.Qty = 0.25
			att, err := NewExecutor(gw, positions, nil, WithBus(bus)).OpenLong(context.Background(), entry)
			if err != nil {
				t.Fatalf("OpenLong: %v", err)
			}
			if att.Stage != StageProtectionFailedUnwound {
				t.Fatalf("stage = %s", att.Stage)
			}
			if att.Cause == nil {
				t.Fatal("cause not reported")
			}
			if positions.Len() != 0 {
				t.Fatal("unprotected position recorded")
			}

			created := gw.CreatedOrders()
			if len(created) != tt.wantOrders {
				t.Fatalf("orders = %d, want %d", len(created), tt.wantOrders)
			}
			last := created[len(created)-1]
			if last.Type != common.OrderTypeMarket || last.Side != common.SideSell || !last.ReduceOnly || last.Qty != 0.25 {
				t.Fatalf("flatten order malformed: %+v", last)
			}
			if cancelled := len(gw.Cancelled) > 0; cancelled != tt.wantCancel {
				t.Fatalf("cancelled = %v, want %v", cancelled, tt.wantCancel)
			}
			select {
			case ev := <-critical:
				t.Fatalf("no critical event expected, got %#v", ev)
			default:
			}
		})
	}
}

func TestOpenLongCriticalWhenUnwindFails(t *testing.T) {
	gw := fake.New()
	s := &scripted{}
	s.failType(common.OrderTypeStopMarket, common.OrderResult{}, errors.New("rejected"))
	gw.CreateOrderFunc = func(req common.OrderRequest) (common.OrderResult, error) {
		if req.ReduceOnly && req.Type == common.OrderTypeMarket {
			return common.OrderResult{}, errors.New("flatten refused")
		}
		return s.create(req)
	}
	bus := events.NewBus()
	critical, unsub := bus.Subscribe(events.EventCritical, 1)
	defer unsub()

	_, err := NewExecutor(gw, state.NewManager(), nil, WithBus(bus)).OpenLong(context.Background(), btcEntry)
	if err == nil {
		t.Fatal("expected error")
	}
	select {
	case <-critical:
	default:
		t.Fatal("critical event not published")
	}
}

func TestOpenLongUnwindsPartialFill(t *testing.T) {
	tests := []struct {
		name       string
		status     common.OrderStatus
		executed   float64
		wantStage  Stage
		wantKind   FillKind
		wantCancel bool
	}{
		{name: "cancelled after partial", status: common.StatusCanceled, executed: 0.4, wantStage: StageEntryPartialUnwound, wantKind: Terminal},
		{name: "partial at timeout", status: common.StatusPartial, executed: 0.4, wantStage: StageEntryPartialUnwound, wantKind: PartiallyFilled, wantCancel: true},
		{name: "expired unfilled", status: common.StatusExpired, executed: 0, wantStage: StageEntryFailed, wantKind: Terminal},
		{name: "never filled", status: common.StatusNew, executed: 0, wantStage: StageEntryFailed, wantKind: TimedOut, wantCancel: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := fake.New()
			s := &scripted{entry: &common.OrderResult{Symbol: "BTCUSDT", Status: common.StatusNew}}
			gw.CreateOrderFunc = s.create
			gw.GetOrderFunc = func(symbol, orderID string) (common.OrderResult, error) {
				return common.OrderResult{OrderID: orderID, Symbol: symbol, Status: tt.status, ExecutedQty: tt.executed, AvgPrice: 100}, nil
			}
			poller, _ := newTestPoller(gw)
			positions := state.NewManager()

			att, err := NewExecutor(gw, positions, nil, WithPoller(poller)).OpenLong(context.Background(), btcEntry)
			if err != nil {
				t.Fatalf("OpenLong: %v", err)
			}
			if att.Stage != tt.wantStage || att.Outcome.Kind != tt.wantKind {
				t.Fatalf("stage = %s kind = %s", att.Stage, att.Outcome.Kind)
			}
			if positions.Len() != 0 {
				t.Fatal("position recorded for unfilled entry")
			}
			if cancelled := gw.CallCount("CancelAllOpenOrders") > 0; cancelled != tt.wantCancel {
				t.Fatalf("entry cancelled = %v, want %v", cancelled, tt.wantCancel)
			}

			created := gw.CreatedOrders()
			if tt.executed == 0 {
				if len(created) != 1 {
					t.Fatalf("expected only the entry order, got %d", len(created))
				}
				return
			}
			if len(created) != 2 {
				t.Fatalf("expected entry and unwind, got %d", len(created))
			}
			unwind := created[1]
			if unwind.Side != common.SideSell || !unwind.ReduceOnly || unwind.Qty != tt.executed || unwind.Type != common.OrderTypeMarket {
				t.Fatalf("unwind malformed: %+v", unwind)
			}
		})
	}
}

func TestOpenLongUnwindsShortFilledAck(t *testing.T) {
	gw := fake.New()
	s := &scripted{entry: &common.OrderResult{Symbol: "BTCUSDT", Status: common.StatusFilled, ExecutedQty: 0.6, AvgPrice: 100}}
	gw.CreateOrderFunc = s.create
	positions := state.NewManager()

	att, err := NewExecutor(gw, positions, nil).OpenLong(context.Background(), btcEntry)
	if err != nil {
		t.Fatalf("OpenLong: %v", err)
	}
	if att.Stage != StageEntryPartialUnwound || att.Outcome.Kind != PartiallyFilled {
		t.Fatalf("stage = %s kind = %s", att.Stage, att.Outcome.Kind)
	}
	if positions.Len() != 0 {
		t.Fatal("short fill must not be recorded")
	}
	created := gw.CreatedOrders()
	if len(created) != 2 {
		t.Fatalf("expected entry and unwind, got %d", len(created))
	}
	if unwind := created[1]; unwind.Type != common.OrderTypeMarket || !unwind.ReduceOnly || unwind.Qty != 0.6 {
		t.Fatalf("unwind malformed: %+v", unwind)
	}
}

func TestOpenLongUnwindsFillLandingBeforeCancel(t *testing.T) {
	gw := fake.New()
	s := &scripted{entry: &common.OrderResult{Symbol: "BTCUSDT", Status: common.StatusNew}}
	gw.CreateOrderFunc = s.create
	gw.GetOrderFunc = func(symbol, orderID string) (common.OrderResult, error) {
		if gw.CallCount("CancelAllOpenOrders") > 0 {
			return common.OrderResult{OrderID: orderID, Symbol: symbol, Status: common.StatusCanceled, ExecutedQty: 0.3, AvgPrice: 101}, nil
		}
		return common.OrderResult{OrderID: orderID, Symbol: symbol, Status: common.StatusNew}, nil
	}
	poller, _ := newTestPoller(gw)

	att, err := NewExecutor(gw, state.NewManager(), nil, WithPoller(poller)).OpenLong(context.Background(), btcEntry)
	if err != nil {
		t.Fatalf("OpenLong: %v", err)
	}
	if att.Stage != StageEntryPartialUnwound || att.Outcome.ExecutedQty != 0.3 {
		t.Fatalf("stage = %s executed = %v", att.Stage, att.Outcome.ExecutedQty)
	}
	created := gw.CreatedOrders()
	if len(created) != 2 || created[1].Qty != 0.3 || !created[1].ReduceOnly {
		t.Fatalf("orders = %+v", created)
	}
}

func TestOpenLongEntryRejected(t *testing.T) {
	gw := fake.New()
	gw.Fail("CreateOrder", &common.APIError{HTTPStatus: 400, Code: -2019, Message: "Margin is insufficient."}, 1)
	att, err := NewExecutor(gw, state.NewManager(), nil).OpenLong(context.Background(), btcEntry)
	if err == nil {
		t.Fatal("expected error")
	}
	if att.Stage != StageEntryFailed {
		t.Fatalf("stage = %s", att.Stage)
	}
}

func TestFlattenPicksOppositeSide(t *testing.T) {
	gw := fake.New()
	exec := NewExecutor(gw, state.NewManager(), nil)
	ctx := context.Background()

	if _, err := exec.Flatten(ctx, "ETHUSDT", 0, db.PurposeSweep); err != nil {
		t.Fatalf("Flatten zero: %v", err)
	}
	if _, err := exec.Flatten(ctx, "ETHUSDT", -2.5, db.PurposeSweep); err != nil {
		t.Fatalf("Flatten short: %v", err)
	}
	created := gw.CreatedOrders()
	if len(created) != 1 {
		t.Fatalf("orders = %d", len(created))
	}
	if created[0].Side != common.SideBuy || created[0].Qty != 2.5 || !created[0].ReduceOnly {
		t.Fatalf("flatten = %+v", created[0])
	}
}

func TestCancelAllTreatsNotFoundAsSuccess(t *testing.T) {
	gw := fake.New()
	gw.Fail("CancelAllOpenOrders", &common.APIError{HTTPStatus: 400, Code: common.CodeUnknownOrder, Message: "Unknown order sent."}, 1)
	exec := NewExecutor(gw, state.NewManager(), nil)
	if err := exec.CancelAll(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	gw.Fail("CancelAllOpenOrders", errors.New("boom"), 1)
	if err := exec.CancelAll(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected error")
	}
}
