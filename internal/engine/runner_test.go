package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"perp-core/internal/state"
	"perp-core/pkg/config"
	"perp-core/pkg/exchanges/common"
	"perp-core/pkg/exchanges/fake"
)

func newTestRunner(t *testing.T, gw *fake.Gateway) (*Runner, *state.Manager) {
	t.Helper()
	positions := state.NewManager()
	factory := func(s config.Settings) (*Loop, error) {
		l, err := Build(Components{Gateway: gw, Positions: positions, Simulated: s.TestMode}, s, nil)
		if err != nil {
			return nil, err
		}
		l.CycleSleep = time.Millisecond
		l.ReconnectInterval = time.Millisecond
		l.SweepPause = 0
		return l, nil
	}
	settings := func() (config.Settings, error) { return testSettings, nil }
	return NewRunner(factory, settings, nil), positions
}

func TestRunnerStartStop(t *testing.T) {
	r, _ := newTestRunner(t, newVenue(false))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}
	st := r.Status(context.Background())
	if !st.Running || !st.TestMode || st.StartTime == nil {
		t.Fatalf("status = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop = %v", err)
	}
	if st := r.Status(context.Background()); st.Running || st.Uptime != "" {
		t.Fatalf("status after stop = %+v", st)
	}
}

func TestRunnerReportsStartupFailure(t *testing.T) {
	gw := fake.New()
	gw.Fail("ServerTime", errors.New("bad clock"), -1)
	r, _ := newTestRunner(t, gw)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Wait()
	st := r.Status(context.Background())
	if st.Running || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestRunnerStatusBeforeStart(t *testing.T) {
	r, _ := newTestRunner(t, newVenue(false))
	st := r.Status(context.Background())
	if st.Running || !st.TestMode || st.WatchList == nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestRunnerPositionsView(t *testing.T) {
	gw := newVenue(false)
	gw.PositionAmts["ETHUSDT"] = -2
	gw.EntryPrices["ETHUSDT"] = 100
	gw.Prices["ETHUSDT"] = 90
	gw.PositionAmts["BTCUSDT"] = 1
	gw.EntryPrices["BTCUSDT"] = 100
	r, positions := newTestRunner(t, gw)
	positions.Put(state.Position{Symbol: "BTCUSDT", Status: state.StatusOpenProtected, Qty: 1, StopLoss: 95, TakeProfit: 110})

	views, err := r.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %+v", views)
	}
	bySymbol := make(map[string]PositionView)
	for _, v := range views {
		bySymbol[v.Symbol] = v
	}

	eth := bySymbol["ETHUSDT"]
	if eth.Side != "SHORT" || eth.Size != 2 || math.Abs(eth.PnLPercent-10) > 1e-9 || eth.Tracked {
		t.Fatalf("ETHUSDT = %+v", eth)
	}
	btc := bySymbol["BTCUSDT"]
	if btc.Side != "LONG" || math.Abs(btc.PnLPercent-6) > 1e-9 || !btc.Tracked || btc.StopLoss != 95 || btc.TakeProfit != 110 {
		t.Fatalf("BTCUSDT = %+v", btc)
	}
}

func TestRunnerClosePosition(t *testing.T) {
	gw := newVenue(false)
	gw.PositionAmts["BTCUSDT"] = 1.5
	r, positions := newTestRunner(t, gw)
	positions.Put(state.Position{Symbol: "BTCUSDT", Status: state.StatusOpenProtected, Qty: 1.5})

	if err := r.ClosePosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	created := gw.CreatedOrders()
	if len(created) != 1 || created[0].Side != common.SideSell || created[0].Qty != 1.5 || !created[0].ReduceOnly {
		t.Fatalf("orders = %+v", created)
	}
	if positions.Len() != 0 {
		t.Fatal("closed position still tracked")
	}
	if err := r.ClosePosition(context.Background(), "BTCUSDT"); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("second close = %v", err)
	}
}

func TestRunnerTestConnection(t *testing.T) {
	gw := newVenue(false)
	r, _ := newTestRunner(t, gw)
	if err := r.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	gw.Fail("Ping", errors.New("unreachable"), 1)
	if err := r.TestConnection(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0h 0m"},
		{90 * time.Minute, "1h 30m"},
		{26*time.Hour + 59*time.Second, "26h 0m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
