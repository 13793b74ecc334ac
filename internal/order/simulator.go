package order

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

const (
	simQuoteAsset = "USDT"

	// Maintenance margin rate of the lowest Binance notional bracket.
	simMaintRate = 0.004

	// Binance answers a reduce-only order that would increase a position with -2022.
	codeReduceOnlyRejected = -2022
)

var _ common.Gateway = (*Simulator)(nil)

// Simulator is a paper venue in front of the live gateway. Market data passes
// through; orders, positions, leverage and the wallet live in memory. Market
// orders fill at the ticker price on acknowledgement and trigger orders rest
// until the ticker crosses their stop price.
type Simulator struct {
	inner common.Gateway
	log   *zap.Logger

	mu        sync.Mutex
	wallet    float64
	realized  float64
	positions map[string]*simPosition
	resting   map[string][]common.OpenOrder
	results   map[string]common.OrderResult
	leverage  map[string]int
	nextID    int64
}

type simPosition struct {
	amt   float64 // signed
	entry float64
}

// NewSimulator wraps inner with a paper wallet holding initialBalance USDT.
func NewSimulator(inner common.Gateway, initialBalance float64, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		inner:     inner,
		log:       log.Named("simulator"),
		wallet:    initialBalance,
		positions: make(map[string]*simPosition),
		resting:   make(map[string][]common.OpenOrder),
		results:   make(map[string]common.OrderResult),
		leverage:  make(map[string]int),
	}
}

func (s *Simulator) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *Simulator) ServerTime(ctx context.Context) (int64, error) { return s.inner.ServerTime(ctx) }

func (s *Simulator) ExchangeInfo(ctx context.Context) ([]common.SymbolInfo, error) {
	return s.inner.ExchangeInfo(ctx)
}

func (s *Simulator) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	return s.inner.Klines(ctx, symbol, interval, limit)
}

func (s *Simulator) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return s.inner.TickerPrice(ctx, symbol)
}

// AccountBalance reports the paper wallet as the only asset.
func (s *Simulator) AccountBalance(ctx context.Context) ([]common.AssetBalance, error) {
	info, err := s.AccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return []common.AssetBalance{{
		Asset:            simQuoteAsset,
		Balance:          info.TotalWalletBalance,
		AvailableBalance: info.AvailableBalance,
	}}, nil
}

// AccountInfo marks every open paper position to the ticker.
func (s *Simulator) AccountInfo(ctx context.Context) (common.AccountInfo, error) {
	marks, err := s.marks(ctx, s.heldSymbols())
	if err != nil {
		return common.AccountInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var unrealized, used, maint float64
	for sym, p := range s.positions {
		mark := marks[sym]
		unrealized += (mark - p.entry) * p.amt
		notional := math.Abs(p.amt) * mark
		used += notional / float64(s.leverageFor(sym))
		maint += notional * simMaintRate
	}
	margin := s.wallet + unrealized
	return common.AccountInfo{
		TotalMarginBalance:    margin,
		TotalWalletBalance:    s.wallet,
		AvailableBalance:      math.Max(0, margin-used),
		TotalUnrealizedProfit: unrealized,
		TotalMaintMargin:      maint,
	}, nil
}

// Positions settles triggered orders first so the view matches what the
// venue would report.
func (s *Simulator) Positions(ctx context.Context, symbol string) ([]common.PositionRisk, error) {
	symbols := []string{symbol}
	if symbol == "" {
		symbols = s.heldSymbols()
	}
	marks, err := s.settle(ctx, symbols)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []common.PositionRisk
	for _, sym := range symbols {
		p, ok := s.positions[sym]
		if !ok {
			continue
		}
		lev := s.leverageFor(sym)
		mark := marks[sym]
		out = append(out, common.PositionRisk{
			Symbol:           sym,
			PositionAmt:      p.amt,
			EntryPrice:       p.entry,
			MarkPrice:        mark,
			UnRealizedProfit: (mark - p.entry) * p.amt,
			Leverage:         lev,
			InitialMargin:    math.Abs(p.amt) * mark / float64(lev),
		})
	}
	if symbol != "" && len(out) == 0 {
		out = append(out, common.PositionRisk{Symbol: symbol, Leverage: s.leverageFor(symbol)})
	}
	return out, nil
}

func (s *Simulator) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if _, err := s.settle(ctx, []string{symbol}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.OpenOrder(nil), s.resting[symbol]...), nil
}

func (s *Simulator) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage[symbol] = leverage
	return nil
}

func (s *Simulator) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Type.IsTrigger() {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := s.newID()
		s.resting[req.Symbol] = append(s.resting[req.Symbol], common.OpenOrder{
			OrderID:       id,
			ClientOrderID: req.ClientID,
			Symbol:        req.Symbol,
			Status:        common.StatusNew,
			Side:          req.Side,
			Type:          req.Type,
			OrigQty:       req.Qty,
			StopPrice:     req.StopPrice,
			ReduceOnly:    req.ReduceOnly,
		})
		res := common.OrderResult{OrderID: id, ClientID: req.ClientID, Symbol: req.Symbol, Status: common.StatusNew}
		s.results[id] = res
		return res, nil
	}

	price := req.Price
	if req.Type != common.OrderTypeLimit || price <= 0 {
		p, err := s.inner.TickerPrice(ctx, req.Symbol)
		if err != nil {
			return common.OrderResult{}, err
		}
		price = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	qty, ok := s.fill(req.Symbol, req.Side, req.Qty, price, req.ReduceOnly)
	if !ok {
		return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: codeReduceOnlyRejected, Message: "ReduceOnly Order is rejected."}
	}
	id := s.newID()
	res := common.OrderResult{
		OrderID:     id,
		ClientID:    req.ClientID,
		Symbol:      req.Symbol,
		Status:      common.StatusFilled,
		ExecutedQty: qty,
		AvgPrice:    price,
	}
	s.results[id] = res
	return res, nil
}

func (s *Simulator) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[orderID]
	if !ok || res.Symbol != symbol {
		return common.OrderResult{}, &common.APIError{HTTPStatus: 400, Code: common.CodeNoSuchOrder, Message: "Order does not exist."}
	}
	return res, nil
}

func (s *Simulator) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.resting[symbol] {
		res := s.results[o.OrderID]
		res.Status = common.StatusCanceled
		s.results[o.OrderID] = res
	}
	delete(s.resting, symbol)
	return nil
}

// Wallet returns the paper balance and the realized PnL so far.
func (s *Simulator) Wallet() (balance, realized float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet, s.realized
}

// settle fires resting trigger orders whose stop price the ticker crossed and
// returns the prices it looked up.
func (s *Simulator) settle(ctx context.Context, symbols []string) (map[string]float64, error) {
	marks, err := s.marks(ctx, symbols)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		price, ok := marks[sym]
		if !ok {
			continue
		}
		var keep []common.OpenOrder
		for _, o := range s.resting[sym] {
			if !triggered(o, price) {
				keep = append(keep, o)
				continue
			}
			res := s.results[o.OrderID]
			qty, filled := s.fill(sym, o.Side, o.OrigQty, price, o.ReduceOnly)
			if filled {
				res.Status = common.StatusFilled
				res.ExecutedQty = qty
				res.AvgPrice = price
			} else {
				res.Status = common.StatusExpired
			}
			s.results[o.OrderID] = res
			s.log.Info("trigger order fired",
				zap.String("symbol", sym), zap.String("order_id", o.OrderID),
				zap.String("type", string(o.Type)), zap.Float64("stop_price", o.StopPrice),
				zap.Float64("price", price), zap.String("status", string(res.Status)))
		}
		if len(keep) == 0 {
			delete(s.resting, sym)
		} else {
			s.resting[sym] = keep
		}
	}
	return marks, nil
}

// marks fetches ticker prices only for symbols that need them.
func (s *Simulator) marks(ctx context.Context, symbols []string) (map[string]float64, error) {
	s.mu.Lock()
	var need []string
	for _, sym := range symbols {
		if _, held := s.positions[sym]; held || len(s.resting[sym]) > 0 {
			need = append(need, sym)
		}
	}
	s.mu.Unlock()

	out := make(map[string]float64, len(need))
	for _, sym := range need {
		p, err := s.inner.TickerPrice(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = p
	}
	return out, nil
}

// fill applies an execution to the paper book. Reduce-only fills are capped
// at the open amount and refused when they would not reduce it. Caller holds mu.
func (s *Simulator) fill(symbol string, side common.Side, qty, price float64, reduceOnly bool) (float64, bool) {
	delta := qty
	if side == common.SideSell {
		delta = -qty
	}
	p := s.positions[symbol]

	if reduceOnly {
		if p == nil || p.amt == 0 || math.Signbit(p.amt) == math.Signbit(delta) {
			return 0, false
		}
		if qty > math.Abs(p.amt) {
			qty = math.Abs(p.amt)
			delta = math.Copysign(qty, delta)
		}
	}

	if p == nil {
		s.positions[symbol] = &simPosition{amt: delta, entry: price}
		return qty, true
	}

	if math.Signbit(p.amt) == math.Signbit(delta) {
		total := p.amt*p.entry + delta*price
		p.amt += delta
		p.entry = total / p.amt
		return qty, true
	}

	closed := math.Min(math.Abs(delta), math.Abs(p.amt))
	pnl := (price - p.entry) * math.Copysign(closed, p.amt)
	s.wallet += pnl
	s.realized += pnl
	p.amt += delta
	switch {
	case math.Abs(p.amt) < 1e-12:
		delete(s.positions, symbol)
	case math.Signbit(p.amt) == math.Signbit(delta):
		// flipped through zero; the remainder opens at this price
		p.entry = price
	}
	return qty, true
}

func (s *Simulator) heldSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// leverageFor defaults to 1x for symbols never configured. Caller holds mu.
func (s *Simulator) leverageFor(symbol string) int {
	if l := s.leverage[symbol]; l > 0 {
		return l
	}
	return 1
}

// newID mints a unique paper order id. Caller holds mu.
func (s *Simulator) newID() string {
	s.nextID++
	return "sim-" + strconv.FormatInt(s.nextID, 10)
}

func triggered(o common.OpenOrder, price float64) bool {
	switch o.Type {
	case common.OrderTypeStopMarket:
		if o.Side == common.SideSell {
			return price <= o.StopPrice
		}
		return price >= o.StopPrice
	case common.OrderTypeTakeProfitMarket:
		if o.Side == common.SideSell {
			return price >= o.StopPrice
		}
		return price <= o.StopPrice
	}
	return false
}
