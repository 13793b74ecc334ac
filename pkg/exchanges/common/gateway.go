package common

import "context"

// Gateway abstracts the futures venue. Every call may be slow or fail.
type Gateway interface {
	Ping(ctx context.Context) error
	ServerTime(ctx context.Context) (int64, error)

	AccountBalance(ctx context.Context) ([]AssetBalance, error)
	AccountInfo(ctx context.Context) (AccountInfo, error)
	// Positions returns position risk rows; an empty symbol means all symbols.
	Positions(ctx context.Context, symbol string) ([]PositionRisk, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	ExchangeInfo(ctx context.Context) ([]SymbolInfo, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)
	// CancelAllOpenOrders returns an error matching ErrOrderNotFound when
	// there was nothing to cancel.
	CancelAllOpenOrders(ctx context.Context, symbol string) error
}

// LivePositionAmt sums the signed position amount reported for symbol.
func LivePositionAmt(rows []PositionRisk, symbol string) float64 {
	var amt float64
	for _, r := range rows {
		if r.Symbol == symbol {
			amt += r.PositionAmt
		}
	}
	return amt
}
