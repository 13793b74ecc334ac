package balance

import (
	"context"
	"errors"
	"testing"

	"perp-core/pkg/exchanges/common"
	"perp-core/pkg/exchanges/fake"
)

func TestSnapshotAndView(t *testing.T) {
	gw := fake.New()
	gw.Balances = []common.AssetBalance{
		{Asset: "BNB", Balance: 1, AvailableBalance: 1},
		{Asset: "USDT", Balance: 1200, AvailableBalance: 900},
	}
	gw.Account = common.AccountInfo{
		TotalMarginBalance:    1250,
		TotalWalletBalance:    1200,
		AvailableBalance:      900,
		TotalUnrealizedProfit: 50,
		TotalMaintMargin:      25,
	}
	m := NewManager(gw, nil)

	v, err := m.View(context.Background())
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	want := View{Total: 1250, Available: 900, Used: 350, Unrealized: 50, Wallet: 1200, MarginRatio: 2}
	if v != want {
		t.Fatalf("View = %+v, want %+v", v, want)
	}
	if m.Last().Available != 900 {
		t.Fatalf("Last not updated: %+v", m.Last())
	}
}

func TestViewClampsUsedAndRatio(t *testing.T) {
	v := Snapshot{Available: 100, TotalMargin: 0}.View()
	if v.Used != 0 || v.MarginRatio != 0 {
		t.Fatalf("View = %+v", v)
	}
}

func TestSnapshotPropagatesErrors(t *testing.T) {
	gw := fake.New()
	boom := errors.New("boom")
	gw.Fail("AccountInfo", boom, 1)
	if _, err := NewManager(gw, nil).Snapshot(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}
