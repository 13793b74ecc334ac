package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"perp-core/internal/balance"
	"perp-core/internal/engine"
	"perp-core/internal/events"
	"perp-core/internal/monitor"
	"perp-core/pkg/db"
)

// stubEngine is an engine.Service that only tracks whether it runs.
type stubEngine struct {
	mu        sync.Mutex
	running   bool
	positions []engine.PositionView
	closeErr  error
	connErr   error
}

func (e *stubEngine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return engine.ErrAlreadyRunning
	}
	e.running = true
	return nil
}

func (e *stubEngine) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return engine.ErrNotRunning
	}
	e.running = false
	return nil
}

func (e *stubEngine) Status(context.Context) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.Status{Running: e.running, TestMode: true, WatchList: []string{"BTCUSDT"}}
}

func (e *stubEngine) Positions(context.Context) ([]engine.PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions, nil
}

func (e *stubEngine) Balance(context.Context) (balance.View, error) {
	return balance.View{Total: 1000, Available: 900, Used: 100}, nil
}

func (e *stubEngine) ClosePosition(context.Context, string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

func (e *stubEngine) TestConnection(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connErr
}

func (e *stubEngine) set(fn func(e *stubEngine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

type testServer struct {
	*httptest.Server
	engine   *stubEngine
	bus      *events.Bus
	journal  *db.Database
	settings string
}

func newTestAPIServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	ts := &testServer{
		engine:   &stubEngine{},
		bus:      events.NewBus(),
		journal:  database,
		settings: filepath.Join(t.TempDir(), "settings.json"),
	}
	server := NewServer(Deps{
		Engine:       ts.engine,
		Bus:          ts.bus,
		Journal:      database,
		Metrics:      monitor.NewMetrics(),
		SettingsPath: ts.settings,
		JWTSecret:    jwtSecret,
		Version:      "test",
	}, nil)
	ts.Server = httptest.NewServer(server.Router)

	t.Cleanup(func() {
		ts.Close()
		_ = database.Close()
	})
	return ts
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	switch p := payload.(type) {
	case nil:
	case string:
		buf.WriteString(p)
	default:
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestAPIServer(t, "")
	client := ts.Client()

	var health map[string]string
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, &health); status != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health status=%d body=%v", status, health)
	}

	resp, err := client.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestStartTwiceConflicts(t *testing.T) {
	ts := newTestAPIServer(t, "")
	client := ts.Client()

	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/start", "", nil, nil); status != http.StatusOK {
		t.Fatalf("first start status=%d", status)
	}
	var resp errorBody
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/start", "", nil, &resp)
	if status != http.StatusConflict || resp.Code != "ALREADY_RUNNING" {
		t.Fatalf("second start status=%d resp=%+v", status, resp)
	}

	var st engine.Status
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/status", "", nil, &st); status != http.StatusOK || !st.Running {
		t.Fatalf("status=%d body=%+v", status, st)
	}
}

func TestStopWhenIdleConflicts(t *testing.T) {
	ts := newTestAPIServer(t, "")
	var resp errorBody
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/stop", "", nil, &resp)
	if status != http.StatusConflict || resp.Code != "NOT_RUNNING" {
		t.Fatalf("stop status=%d resp=%+v", status, resp)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ts := newTestAPIServer(t, "")
	client := ts.Client()

	var defaults map[string]any
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/config", "", nil, &defaults); status != http.StatusOK {
		t.Fatalf("get defaults status=%d", status)
	}
	if defaults["leverage"] != float64(15) {
		t.Fatalf("defaults = %v", defaults)
	}

	payload := `{"leverage": 7, "risk_per_trade_percent": 1, "max_risk_usdt_per_trade": 2, "test_mode": true, "kline_interval_minutes": 15}`
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/config", "", payload, nil); status != http.StatusOK {
		t.Fatalf("save status=%d", status)
	}

	var saved map[string]any
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/config", "", nil, &saved); status != http.StatusOK {
		t.Fatalf("get saved status=%d", status)
	}
	if saved["leverage"] != float64(7) || saved["kline_interval_minutes"] != float64(15) || saved["kline_trend_period"] != float64(50) {
		t.Fatalf("saved = %v", saved)
	}
}

func TestSaveConfigRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantSub string
	}{
		{"leverage out of range", `{"leverage": 500, "risk_per_trade_percent": 0.5, "max_risk_usdt_per_trade": 1, "test_mode": true}`, "leverage"},
		{"missing keys", `{"leverage": 5}`, "test_mode"},
		{"malformed", `{"leverage":`, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestAPIServer(t, "")
			var resp errorBody
			status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/config", "", tt.payload, &resp)
			if status != http.StatusBadRequest || resp.Code != "INVALID_SETTINGS" {
				t.Fatalf("status=%d resp=%+v", status, resp)
			}
			if !strings.Contains(resp.Details, tt.wantSub) {
				t.Fatalf("details %q do not mention %q", resp.Details, tt.wantSub)
			}
			if _, err := os.Stat(ts.settings); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("invalid settings were written: %v", err)
			}
		})
	}
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	const secret = "test-secret"
	ts := newTestAPIServer(t, secret)
	client := ts.Client()

	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/start", "", nil, &resp); status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("no token status=%d resp=%+v", status, resp)
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/start", "garbage", nil, &resp); status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("bad token status=%d resp=%+v", status, resp)
	}
	expired, err := IssueToken("ops", secret, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/start", expired, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expired token status=%d", status)
	}

	token, err := IssueToken("ops", secret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/start", token, nil, nil); status != http.StatusOK {
		t.Fatalf("authorized start status=%d", status)
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/status", "", nil, nil); status != http.StatusOK {
		t.Fatalf("reads must stay open, status=%d", status)
	}
}

func TestClosePosition(t *testing.T) {
	ts := newTestAPIServer(t, "")
	client := ts.Client()

	var ok map[string]string
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/positions/btcusdt/close", "", nil, &ok); status != http.StatusOK || ok["symbol"] != "BTCUSDT" {
		t.Fatalf("close status=%d body=%v", status, ok)
	}

	ts.engine.set(func(e *stubEngine) { e.closeErr = engine.ErrNoPosition })
	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/positions/BTCUSDT/close", "", nil, &resp); status != http.StatusNotFound || resp.Code != "NO_POSITION" {
		t.Fatalf("close flat status=%d resp=%+v", status, resp)
	}
}

func TestPositionsAndBalance(t *testing.T) {
	ts := newTestAPIServer(t, "")
	ts.engine.set(func(e *stubEngine) {
		e.positions = []engine.PositionView{{Symbol: "ETHUSDT", Side: "SHORT", Size: 2, PnLPercent: 10}}
	})
	client := ts.Client()

	var positions []map[string]any
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/positions", "", nil, &positions); status != http.StatusOK {
		t.Fatalf("positions status=%d", status)
	}
	if len(positions) != 1 || positions[0]["side"] != "SHORT" || positions[0]["pnl_percent"] != float64(10) || positions[0]["tracked"] != false {
		t.Fatalf("positions = %v", positions)
	}

	var view balance.View
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/balance", "", nil, &view); status != http.StatusOK || view.Available != 900 {
		t.Fatalf("balance status=%d view=%+v", status, view)
	}
}

func TestJournalListsRecentRows(t *testing.T) {
	ts := newTestAPIServer(t, "")
	ctx := context.Background()
	if err := ts.journal.RecordOrder(ctx, db.OrderRecord{ID: "1", Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Qty: 0.1, Status: "FILLED", Purpose: db.PurposeEntry}); err != nil {
		t.Fatalf("RecordOrder: %v", err)
	}
	if err := ts.journal.RecordReconciliation(ctx, db.ReconciliationRecord{Symbol: "BTCUSDT", Action: "swept_untracked", LiveQty: 0.1}); err != nil {
		t.Fatalf("RecordReconciliation: %v", err)
	}

	var body struct {
		Orders          []db.OrderRecord          `json:"orders"`
		Reconciliations []db.ReconciliationRecord `json:"reconciliations"`
	}
	if status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/journal?limit=10", "", nil, &body); status != http.StatusOK {
		t.Fatalf("journal status=%d", status)
	}
	if len(body.Orders) != 1 || body.Orders[0].Purpose != db.PurposeEntry {
		t.Fatalf("orders = %+v", body.Orders)
	}
	if len(body.Reconciliations) != 1 || body.Reconciliations[0].Action != "swept_untracked" {
		t.Fatalf("reconciliations = %+v", body.Reconciliations)
	}
}

func TestTestConnection(t *testing.T) {
	ts := newTestAPIServer(t, "")
	client := ts.Client()

	var body map[string]any
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/test-connection", "", nil, &body); status != http.StatusOK || body["ok"] != true {
		t.Fatalf("status=%d body=%v", status, body)
	}
	ts.engine.set(func(e *stubEngine) { e.connErr = errors.New("invalid api key") })
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/test-connection", "", nil, &body); status != http.StatusBadGateway || body["ok"] != false {
		t.Fatalf("status=%d body=%v", status, body)
	}
}

func TestWebsocketRelaysBusEvents(t *testing.T) {
	ts := newTestAPIServer(t, "")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The server subscribes after the upgrade, so publish until it lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ts.bus.Publish(events.EventCritical, events.CriticalEvent{Symbol: "BTCUSDT", Message: "unprotected"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env struct {
		Topic   string               `json:"topic"`
		Payload events.CriticalEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Topic != string(events.EventCritical) || env.Payload.Symbol != "BTCUSDT" {
		t.Fatalf("envelope = %+v", env)
	}
}
