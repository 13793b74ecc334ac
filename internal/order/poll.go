package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"perp-core/pkg/exchanges/common"
)

// FillKind classifies how a fill poll ended.
type FillKind int

const (
	Filled FillKind = iota
	PartiallyFilled
	TimedOut
	Terminal
)

func (k FillKind) String() string {
	switch k {
	case Filled:
		return "filled"
	case PartiallyFilled:
		return "partially_filled"
	case TimedOut:
		return "timed_out"
	case Terminal:
		return "terminal"
	}
	return "unknown"
}

// FillOutcome is the last known state of a polled order.
type FillOutcome struct {
	Kind        FillKind
	Status      common.OrderStatus
	ExecutedQty float64
	AvgPrice    float64
}

const (
	DefaultPollInterval = 2 * time.Second
	DefaultFillTimeout  = 60 * time.Second
)

// Poller waits for an order to fill at a fixed interval up to a deadline.
type Poller struct {
	gw       common.Gateway
	log      *zap.Logger
	Interval time.Duration
	Timeout  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(gw common.Gateway, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		gw:       gw,
		log:      log.Named("poll"),
		Interval: DefaultPollInterval,
		Timeout:  DefaultFillTimeout,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// AwaitFill polls orderID until it is FILLED, reaches another terminal
// status, or the timeout passes. Status lookup errors are logged and the
// poll continues with the last known state.
func (p *Poller) AwaitFill(ctx context.Context, symbol, orderID string, qty float64) (FillOutcome, error) {
	last := FillOutcome{Kind: TimedOut, Status: common.StatusUnknown}
	deadline := p.now().Add(p.Timeout)

	for {
		res, err := p.gw.GetOrder(ctx, symbol, orderID)
		if err != nil {
			p.log.Warn("order status lookup failed",
				zap.String("symbol", symbol), zap.String("order_id", orderID), zap.Error(err))
		} else {
			last.Status = res.Status
			last.ExecutedQty = res.ExecutedQty
			last.AvgPrice = res.AvgPrice
			switch {
			case res.Status == common.StatusFilled:
				last.Kind = Filled
				return last, nil
			case res.Status.Terminal():
				last.Kind = Terminal
				p.log.Warn("order ended without full fill",
					zap.String("symbol", symbol), zap.String("order_id", orderID),
					zap.String("status", string(res.Status)), zap.Float64("executed_qty", res.ExecutedQty))
				return last, nil
			}
		}

		if !p.now().Before(deadline) {
			break
		}
		if err := p.sleep(ctx, p.Interval); err != nil {
			return p.expire(last, qty), err
		}
	}

	out := p.expire(last, qty)
	p.log.Warn("fill confirmation timed out",
		zap.String("symbol", symbol), zap.String("order_id", orderID),
		zap.String("status", string(out.Status)), zap.Float64("executed_qty", out.ExecutedQty),
		zap.Duration("timeout", p.Timeout))
	return out, nil
}

func (p *Poller) expire(last FillOutcome, qty float64) FillOutcome {
	if last.ExecutedQty > 0 && last.ExecutedQty < qty {
		last.Kind = PartiallyFilled
	} else {
		last.Kind = TimedOut
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
