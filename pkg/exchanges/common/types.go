package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types the engine submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsTrigger reports whether the order rests until its stop price is crossed.
func (t OrderType) IsTrigger() bool {
	return t == OrderTypeStopMarket || t == OrderTypeTakeProfitMarket
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_MARKET/TAKE_PROFIT_MARKET
	TimeInForce TimeInForce
	ReduceOnly  bool
	ClientID    string // optional client order id
}

// OrderResult is the exchange view of a single order.
type OrderResult struct {
	OrderID     string
	ClientID    string
	Symbol      string
	Status      OrderStatus
	ExecutedQty float64
	AvgPrice    float64
}

// AssetBalance is one row of the futures wallet.
type AssetBalance struct {
	Asset            string
	Balance          float64
	AvailableBalance float64
}

// AccountInfo carries the account-wide margin totals.
type AccountInfo struct {
	TotalMarginBalance    float64
	TotalWalletBalance    float64
	AvailableBalance      float64
	TotalUnrealizedProfit float64
	TotalMaintMargin      float64
}

// PositionRisk is the live exchange position for one symbol.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64 // signed; negative for shorts
	EntryPrice       float64
	MarkPrice        float64
	UnRealizedProfit float64
	Leverage         int
	InitialMargin    float64
}

// OpenOrder is a resting order reported by the exchange.
type OpenOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        OrderStatus
	Side          Side
	Type          OrderType
	OrigQty       float64
	ExecutedQty   float64
	StopPrice     float64
	ReduceOnly    bool
}

// LotFilter mirrors LOT_SIZE and MARKET_LOT_SIZE. Values stay as the exchange
// sent them so precision can be derived from the literal step.
type LotFilter struct {
	MinQty   string
	MaxQty   string
	StepSize string
}

// PriceFilter mirrors PRICE_FILTER.
type PriceFilter struct {
	MinPrice string
	MaxPrice string
	TickSize string
}

// SymbolInfo is one instrument from the exchange metadata.
type SymbolInfo struct {
	Symbol        string
	Status        string
	ContractType  string
	QuoteAsset    string
	LotSize       *LotFilter
	MarketLotSize *LotFilter
	PriceFilter   *PriceFilter
	MinNotional   string // MIN_NOTIONAL.notional, empty when the filter is absent
}

// Kline is one OHLC bar.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}
