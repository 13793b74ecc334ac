package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

// RetryRecorder counts retries per operation.
type RetryRecorder interface {
	GatewayRetry(op string)
}

// Resilient decorates a Gateway so every call runs under a retry policy.
// CreateOrder uses the stricter write policy.
type Resilient struct {
	inner common.Gateway
	read  Policy
	write Policy
	log   *zap.Logger
}

var _ common.Gateway = (*Resilient)(nil)

// Option customizes a Resilient gateway.
type Option func(*Resilient)

// WithPolicies overrides the read and write policies.
func WithPolicies(read, write Policy) Option {
	return func(r *Resilient) {
		r.read = read
		r.write = write
	}
}

// WithRetryRecorder reports every retry to rec.
func WithRetryRecorder(rec RetryRecorder) Option {
	return func(r *Resilient) {
		if rec == nil {
			return
		}
		hook := func(op string, _ int, _ error) { rec.GatewayRetry(op) }
		r.read.OnRetry = hook
		r.write.OnRetry = hook
	}
}

// withSleep swaps the wait function; tests use it to skip delays.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *Resilient) {
		r.read.sleep = fn
		r.write.sleep = fn
	}
}

// NewResilient wraps inner with the default read and write policies.
func NewResilient(inner common.Gateway, log *zap.Logger, opts ...Option) *Resilient {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resilient{
		inner: inner,
		read:  DefaultPolicy(),
		write: WritePolicy(),
		log:   log.Named("gateway"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Inner returns the undecorated gateway.
func (r *Resilient) Inner() common.Gateway { return r.inner }

func (r *Resilient) Ping(ctx context.Context) error {
	return Do(ctx, r.read, r.log, "ping", r.inner.Ping)
}

func (r *Resilient) ServerTime(ctx context.Context) (int64, error) {
	return Call(ctx, r.read, r.log, "server_time", r.inner.ServerTime)
}

func (r *Resilient) AccountBalance(ctx context.Context) ([]common.AssetBalance, error) {
	return Call(ctx, r.read, r.log, "account_balance", r.inner.AccountBalance)
}

func (r *Resilient) AccountInfo(ctx context.Context) (common.AccountInfo, error) {
	return Call(ctx, r.read, r.log, "account_info", r.inner.AccountInfo)
}

func (r *Resilient) Positions(ctx context.Context, symbol string) ([]common.PositionRisk, error) {
	return Call(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "positions", func(ctx context.Context) ([]common.PositionRisk, error) {
		return r.inner.Positions(ctx, symbol)
	})
}

func (r *Resilient) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	return Call(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "open_orders", func(ctx context.Context) ([]common.OpenOrder, error) {
		return r.inner.OpenOrders(ctx, symbol)
	})
}

func (r *Resilient) ExchangeInfo(ctx context.Context) ([]common.SymbolInfo, error) {
	return Call(ctx, r.read, r.log, "exchange_info", r.inner.ExchangeInfo)
}

func (r *Resilient) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	return Call(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "klines", func(ctx context.Context) ([]common.Kline, error) {
		return r.inner.Klines(ctx, symbol, interval, limit)
	})
}

func (r *Resilient) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return Call(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "ticker_price", func(ctx context.Context) (float64, error) {
		return r.inner.TickerPrice(ctx, symbol)
	})
}

func (r *Resilient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return Do(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "set_leverage", func(ctx context.Context) error {
		return r.inner.SetLeverage(ctx, symbol, leverage)
	})
}

func (r *Resilient) CreateOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return Call(ctx, r.write, r.log.With(zap.String("symbol", req.Symbol)), "create_order", func(ctx context.Context) (common.OrderResult, error) {
		return r.inner.CreateOrder(ctx, req)
	})
}

func (r *Resilient) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	return Call(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "get_order", func(ctx context.Context) (common.OrderResult, error) {
		return r.inner.GetOrder(ctx, symbol, orderID)
	})
}

func (r *Resilient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return Do(ctx, r.read, r.log.With(zap.String("symbol", symbol)), "cancel_all_open_orders", func(ctx context.Context) error {
		return r.inner.CancelAllOpenOrders(ctx, symbol)
	})
}
