package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-core/internal/balance"
	"perp-core/pkg/config"
)

// Factory builds a loop for the given settings.
type Factory func(s config.Settings) (*Loop, error)

// SettingsSource loads the settings a new run starts with.
type SettingsSource func() (config.Settings, error)

// Runner owns at most one running Loop and implements Service.
type Runner struct {
	factory  Factory
	settings SettingsSource
	log      *zap.Logger

	mu        sync.Mutex
	loop      *Loop
	testMode  bool
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
}

var _ Service = (*Runner)(nil)

func NewRunner(factory Factory, settings SettingsSource, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{factory: factory, settings: settings, log: log.Named("runner")}
}

// Start builds a loop from the current settings and runs it in the
// background. Settings saved while running apply on the next Start.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	s, err := r.settings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	loop, err := r.factory(s)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.loop = loop
	r.testMode = s.TestMode
	r.running = true
	r.startedAt = time.Now()
	r.cancel = cancel
	r.done = done
	r.runErr = nil

	go func() {
		defer close(done)
		err := loop.Run(runCtx)
		if err != nil {
			r.log.Error("control loop stopped", zap.Error(err))
		}
		r.mu.Lock()
		r.running = false
		r.runErr = err
		r.mu.Unlock()
	}()
	r.log.Info("control loop started", zap.Bool("test_mode", s.TestMode))
	return nil
}

// Stop cancels the running loop and waits for its orderly shutdown or for
// ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		r.log.Info("control loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current run, if any, has returned.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) Status(ctx context.Context) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{Running: r.running, TestMode: r.testMode, WatchList: []string{}}
	if r.loop == nil {
		if s, err := r.settings(); err == nil {
			st.TestMode = s.TestMode
		}
		return st
	}
	ls := r.loop.State()
	st.WatchList = ls.WatchList
	st.Down = ls.Down
	st.Cycles = ls.Cycles
	st.PositionsCount = r.loop.Positions().Len()
	st.LastError = ls.LastError
	if r.runErr != nil {
		st.LastError = r.runErr.Error()
	}
	if !ls.LastCycle.IsZero() {
		t := ls.LastCycle
		st.LastCycle = &t
	}
	st.LastAvailable = r.loop.Account().Last().Available
	if lat := r.loop.metrics.CycleLatency(); lat.Count > 0 {
		st.CycleLatency = &lat
	}
	if r.running {
		t := r.startedAt
		st.StartTime = &t
		st.Uptime = formatUptime(time.Since(r.startedAt))
	}
	return st
}

// Positions lists nonzero live positions on the venue of the current or
// next run.
func (r *Runner) Positions(ctx context.Context) ([]PositionView, error) {
	loop, err := r.currentLoop()
	if err != nil {
		return nil, err
	}
	rows, err := loop.Gateway().Positions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]PositionView, 0, len(rows))
	for _, p := range rows {
		if p.PositionAmt == 0 {
			continue
		}
		v := PositionView{
			Symbol:       p.Symbol,
			Side:         "LONG",
			Size:         math.Abs(p.PositionAmt),
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.MarkPrice,
			PnL:          p.UnRealizedProfit,
			Leverage:     p.Leverage,
			Margin:       p.InitialMargin,
		}
		if p.PositionAmt < 0 {
			v.Side = "SHORT"
		}
		if p.EntryPrice > 0 {
			v.PnLPercent = (p.MarkPrice - p.EntryPrice) / p.EntryPrice * 100
			if p.PositionAmt < 0 {
				v.PnLPercent = -v.PnLPercent
			}
		}
		if tracked, ok := loop.Positions().Get(p.Symbol); ok {
			v.Tracked = true
			v.StopLoss = tracked.StopLoss
			v.TakeProfit = tracked.TakeProfit
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Runner) Balance(ctx context.Context) (balance.View, error) {
	loop, err := r.currentLoop()
	if err != nil {
		return balance.View{}, err
	}
	return loop.Account().View(ctx)
}

func (r *Runner) ClosePosition(ctx context.Context, symbol string) error {
	loop, err := r.currentLoop()
	if err != nil {
		return err
	}
	return loop.ClosePosition(ctx, symbol)
}

func (r *Runner) TestConnection(ctx context.Context) error {
	loop, err := r.currentLoop()
	if err != nil {
		return err
	}
	if err := loop.Gateway().Ping(ctx); err != nil {
		return err
	}
	_, err = loop.Account().Snapshot(ctx)
	return err
}

// currentLoop returns the loop of the latest run, building an idle one from
// the saved settings before the first Start.
func (r *Runner) currentLoop() (*Loop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop != nil {
		return r.loop, nil
	}
	s, err := r.settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loop, err := r.factory(s)
	if err != nil {
		return nil, err
	}
	r.loop = loop
	r.testMode = s.TestMode
	return loop, nil
}
