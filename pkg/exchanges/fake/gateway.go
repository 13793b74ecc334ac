// Package fake provides a programmable in-memory Gateway for tests.
package fake

import (
	"context"
	"strconv"
	"sync"

	"perp-core/pkg/exchanges/common"
)

// Call records one Gateway invocation.
type Call struct {
	Method string
	Symbol string
}

type failure struct {
	err   error
	times int // <0 fails forever
}

// Gateway keeps venue state in maps that tests fill directly.
// Market orders fill at Prices[symbol] and move PositionAmts; trigger orders
// rest in Orders until cancelled.
type Gateway struct {
	mu sync.Mutex

	Symbols      []common.SymbolInfo
	Bars         map[string][]common.Kline
	Prices       map[string]float64
	Balances     []common.AssetBalance
	Account      common.AccountInfo
	PositionAmts map[string]float64
	EntryPrices  map[string]float64
	Orders       map[string][]common.OpenOrder

	// CreateOrderFunc overrides the default order behaviour when set.
	CreateOrderFunc func(req common.OrderRequest) (common.OrderResult, error)
	// GetOrderFunc overrides order status lookups when set.
	GetOrderFunc func(symbol, orderID string) (common.OrderResult, error)

	Calls     []Call
	Created   []common.OrderRequest
	Cancelled []string
	Leverage  map[string]int

	failures map[string]*failure
	results  map[string]common.OrderResult
	nextID   int
}

var _ common.Gateway = (*Gateway)(nil)

// New returns an empty venue.
func New() *Gateway {
	return &Gateway{
		Bars:         make(map[string][]common.Kline),
		Prices:       make(map[string]float64),
		PositionAmts: make(map[string]float64),
		EntryPrices:  make(map[string]float64),
		Orders:       make(map[string][]common.OpenOrder),
		Leverage:     make(map[string]int),
		failures:     make(map[string]*failure),
		results:      make(map[string]common.OrderResult),
	}
}

// Fail makes the next `times` calls of method return err; times<0 fails forever.
func (g *Gateway) Fail(method string, err error, times int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[method] = &failure{err: err, times: times}
}

// CallCount returns how often method was invoked.
func (g *Gateway) CallCount(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// CreatedOrders returns a copy of submitted order requests.
func (g *Gateway) CreatedOrders() []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.OrderRequest(nil), g.Created...)
}

// AddOpenOrder places a resting order and returns its id.
func (g *Gateway) AddOpenOrder(o common.OpenOrder) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o.OrderID == "" {
		g.nextID++
		o.OrderID = strconv.Itoa(g.nextID)
	}
	if o.Status == "" {
		o.Status = common.StatusNew
	}
	g.Orders[o.Symbol] = append(g.Orders[o.Symbol], o)
	return o.OrderID
}

func (g *Gateway) enter(method, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, Call{Method: method, Symbol: symbol})
	f, ok := g.failures[method]
	if !ok || f.times == 0 {
		return nil
	}
	if f.times > 0 {
		f.times--
	}
	return f.err
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.enter("Ping", "")
}

func (g *Gateway) ServerTime(ctx context.Context) (int64, error) {
	if err := g.enter("ServerTime", ""); err != nil {
		return 0, err
	}
	return 1_700_000_000_000, nil
}

func (g *Gateway) AccountBalance(ctx context.Context) ([]common.AssetBalance, error) {
	if err := g.enter("AccountBalance", ""); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.AssetBalance(nil), g.Balances...), nil
}

func (g *Gateway) AccountInfo(ctx context.Context) (common.AccountInfo, error) {
	if err := g.enter("AccountInfo", ""); err != nil {
		return common.AccountInfo{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Account, nil
}

func (g *Gateway) Positions(ctx context.Context, symbol string) ([]common.PositionRisk, error) {
	if err := g.enter("Positions", symbol); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []common.PositionRisk
	for sym, amt := range g.PositionAmts {
		if symbol != "" && sym != symbol {
			continue
		}
		out = append(out, common.PositionRisk{
			Symbol:      sym,
			PositionAmt: amt,
			EntryPrice:  g.EntryPrices[sym],
			MarkPrice:   g.Prices[sym],
			Leverage:    g.Leverage[sym],
		})
	}
	if symbol != "" && len(out) == 0 {
		out = append(out, common.PositionRisk{Symbol: symbol})
	}
	return out, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if err := g.enter("OpenOrders", symbol); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.OpenOrder(nil), g.Orders[symbol]...), nil
}

func (g *Gateway) ExchangeInfo(ctx context.Context) ([]common.SymbolInfo, error) {
	if err := g.enter("ExchangeInfo", ""); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.SymbolInfo(nil), g.Symbols...), nil
}

func (g *Gateway) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	if err := g.enter("Klines", symbol); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	bars := g.Bars[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]common.Kline(nil), bars...), nil
}

func (g *Gateway) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	if err := g.enter("TickerPrice", symbol); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Prices[symbol], nil
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := g.enter("SetLeverage", symbol); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Leverage[symbol] = leverage
	return nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := g.enter("CreateOrder", req.Symbol); err != nil {
		return common.OrderResult{}, err
	}
	g.mu.Lock()
	g.Created = append(g.Created, req)
	custom := g.CreateOrderFunc
	g.mu.Unlock()

	if custom != nil {
		res, err := custom(req)
		if err == nil && res.OrderID != "" {
			g.mu.Lock()
			g.results[res.OrderID] = res
			g.mu.Unlock()
		}
		return res, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := strconv.Itoa(g.nextID)
	if req.Type.IsTrigger() {
		g.Orders[req.Symbol] = append(g.Orders[req.Symbol], common.OpenOrder{
			OrderID:    id,
			Symbol:     req.Symbol,
			Status:     common.StatusNew,
			Side:       req.Side,
			Type:       req.Type,
			OrigQty:    req.Qty,
			StopPrice:  req.StopPrice,
			ReduceOnly: req.ReduceOnly,
		})
		res := common.OrderResult{OrderID: id, Symbol: req.Symbol, Status: common.StatusNew}
		g.results[id] = res
		return res, nil
	}
	price := g.Prices[req.Symbol]
	if req.Side == common.SideBuy {
		g.PositionAmts[req.Symbol] += req.Qty
		g.EntryPrices[req.Symbol] = price
	} else {
		g.PositionAmts[req.Symbol] -= req.Qty
	}
	if g.PositionAmts[req.Symbol] == 0 {
		delete(g.PositionAmts, req.Symbol)
	}
	res := common.OrderResult{OrderID: id, Symbol: req.Symbol, Status: common.StatusFilled, ExecutedQty: req.Qty, AvgPrice: price}
	g.results[id] = res
	return res, nil
}

func (g *Gateway) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	if err := g.enter("GetOrder", symbol); err != nil {
		return common.OrderResult{}, err
	}
	if g.GetOrderFunc != nil {
		return g.GetOrderFunc(symbol, orderID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.results[orderID]
	if !ok {
		return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: common.CodeNoSuchOrder, Message: "Order does not exist."}
	}
	return res, nil
}

func (g *Gateway) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if err := g.enter("CancelAllOpenOrders", symbol); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, symbol)
	delete(g.Orders, symbol)
	return nil
}
