package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"perp-core/internal/balance"
	"perp-core/internal/events"
	"perp-core/internal/indicators"
	"perp-core/internal/market"
	"perp-core/internal/monitor"
	"perp-core/internal/order"
	"perp-core/internal/reconciliation"
	"perp-core/internal/risk"
	"perp-core/internal/state"
	"perp-core/internal/strategy"
	"perp-core/pkg/config"
	"perp-core/pkg/db"
	"perp-core/pkg/exchanges/common"
)

const (
	DefaultCycleSleep        = 6 * time.Second
	DefaultReconnectInterval = 10 * time.Second
	DefaultSweepPause        = time.Second
)

// ErrEmptyWatchList aborts startup when the scanner finds nothing to trade.
var ErrEmptyWatchList = errors.New("no symbol qualified for monitoring")

// TimeSyncer aligns request timestamps with the venue clock.
type TimeSyncer interface {
	SyncTime(ctx context.Context) error
}

// Components are the collaborators shared by every loop run.
type Components struct {
	Gateway   common.Gateway
	Positions *state.Manager
	Journal   *db.Database // optional
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	TimeSync  TimeSyncer // optional; falls back to a ServerTime probe
	Simulated bool
}

// Loop is the single-threaded trading control loop.
type Loop struct {
	gw        common.Gateway
	catalog   *market.Catalog
	scanner   *strategy.Scanner
	detector  *strategy.Detector
	sizer     *risk.Engine
	exec      *order.Executor
	recon     *reconciliation.Service
	account   *balance.Manager
	positions *state.Manager
	leverage  *state.LeverageMemo
	timeSync  TimeSyncer
	settings  config.Settings
	simulated bool

	bus     *events.Bus
	metrics *monitor.Metrics
	log     *zap.Logger

	CycleSleep        time.Duration
	ReconnectInterval time.Duration
	SweepPause        time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// opMu serializes everything that trades: startup, cycles, shutdown and
	// operator closes.
	opMu sync.Mutex

	mu        sync.RWMutex
	watch     []string
	down      bool
	lastCycle time.Time
	lastScan  time.Time
	cycles    int64
	lastErr   string
}

// LoopState is a point-in-time view of a running loop.
type LoopState struct {
	WatchList []string
	Down      bool
	LastCycle time.Time
	Cycles    int64
	LastError string
}

// Build wires a loop for one run with the given settings.
func Build(c Components, s config.Settings, log *zap.Logger) (*Loop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	interval, err := market.Interval(s.KlineIntervalMinutes)
	if err != nil {
		return nil, err
	}
	params := strategy.Params{
		Interval: interval,
		Periods: indicators.Periods{
			Trend:    s.KlineTrendPeriod,
			Pullback: s.KlinePullbackPeriod,
			ATR:      s.KlineATRPeriod,
		},
		MinATRMult:      s.MinATRMultiplier,
		RiskRewardRatio: s.RiskRewardRatio,
	}

	positions := c.Positions
	if positions == nil {
		positions = state.NewManager()
	}
	catalog := market.NewCatalog(c.Gateway, log)

	execOpts := []order.Option{order.WithBus(c.Bus), order.WithMetrics(c.Metrics), order.WithSimulated(c.Simulated)}
	reconOpts := []reconciliation.Option{reconciliation.WithBus(c.Bus), reconciliation.WithMetrics(c.Metrics)}
	if c.Journal != nil {
		execOpts = append(execOpts, order.WithJournal(c.Journal))
		reconOpts = append(reconOpts, reconciliation.WithJournal(c.Journal))
	}
	exec := order.NewExecutor(c.Gateway, positions, log, execOpts...)

	return &Loop{
		gw:                c.Gateway,
		catalog:           catalog,
		scanner:           strategy.NewScanner(c.Gateway, catalog, catalog, params, log),
		detector:          strategy.NewDetector(c.Gateway, catalog, params, log),
		sizer:             risk.NewEngine(log, c.Metrics),
		exec:              exec,
		recon:             reconciliation.NewService(c.Gateway, positions, exec, log, reconOpts...),
		account:           balance.NewManager(c.Gateway, log),
		positions:         positions,
		leverage:          state.NewLeverageMemo(),
		timeSync:          c.TimeSync,
		settings:          s,
		simulated:         c.Simulated,
		bus:               c.Bus,
		metrics:           c.Metrics,
		log:               log.Named("loop"),
		CycleSleep:        DefaultCycleSleep,
		ReconnectInterval: DefaultReconnectInterval,
		SweepPause:        DefaultSweepPause,
		sleep:             sleepCtx,
		now:               time.Now,
	}, nil
}

// Run starts the loop and blocks until ctx is cancelled and the shutdown
// sequence has finished. Errors are returned only from the startup path.
// Gateway work runs detached from ctx so an in-flight cycle is never cut
// short; ctx is observed between cycles.
func (l *Loop) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	l.log.Info("starting control loop",
		zap.Int("leverage", l.settings.Leverage),
		zap.Float64("risk_per_trade_percent", l.settings.RiskPerTradePercent),
		zap.Float64("max_risk_usdt_per_trade", l.settings.MaxRiskUSDTPerTrade),
		zap.Bool("test_mode", l.simulated),
		zap.Int("kline_interval_minutes", l.settings.KlineIntervalMinutes),
		zap.Int("max_symbols_to_monitor", l.settings.MaxSymbolsToMonitor),
		zap.Float64("risk_reward_ratio", l.settings.RiskRewardRatio))

	if err := l.startup(work); err != nil {
		return err
	}

	first := true
	for ctx.Err() == nil {
		if l.isDown() {
			l.probe(work)
			if l.sleep(ctx, l.ReconnectInterval) != nil {
				break
			}
			continue
		}

		err := l.safeCycle(work, !first)
		pause := l.CycleSleep
		switch {
		case err == nil:
			first = false
			l.maybeRescan(work)
		case common.IsConnectivity(err):
			l.markDown(err)
			pause = l.ReconnectInterval
		default:
			l.log.Error("cycle failed", zap.Error(err))
			l.setLastErr(err)
		}
		if l.sleep(ctx, pause) != nil {
			break
		}
	}

	l.shutdown(work)
	return nil
}

func (l *Loop) startup(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.syncTime(ctx); err != nil {
		return fmt.Errorf("time sync: %w", err)
	}
	if err := l.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("load instrument catalog: %w", err)
	}
	watch, err := l.scanner.Select(ctx, l.settings.MaxSymbolsToMonitor)
	if err != nil {
		return fmt.Errorf("scan symbols: %w", err)
	}
	if len(watch) == 0 {
		return ErrEmptyWatchList
	}
	l.setWatch(watch)
	l.log.Info("watch-list selected", zap.Strings("symbols", watch))

	l.log.Info("sweeping untracked positions at startup")
	if _, err := l.recon.SweepUntracked(ctx, watch, l.SweepPause); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}
	return nil
}

func (l *Loop) syncTime(ctx context.Context) error {
	if l.timeSync != nil {
		return l.timeSync.SyncTime(ctx)
	}
	_, err := l.gw.ServerTime(ctx)
	return err
}

// safeCycle runs one cycle and turns a panic into an error.
func (l *Loop) safeCycle(ctx context.Context, sweep bool) (err error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return l.cycle(ctx, sweep)
}

func (l *Loop) cycle(ctx context.Context, sweep bool) error {
	start := l.now()
	snap, err := l.account.Snapshot(ctx)
	if err != nil {
		return err
	}
	l.log.Info("account",
		zap.Float64("available", snap.Available),
		zap.Float64("total_margin", snap.TotalMargin),
		zap.Float64("unrealized_pnl", snap.UnrealizedPnL))

	watch := l.WatchList()
	for _, symbol := range l.cycleSymbols(watch) {
		if err := l.processSymbol(ctx, symbol, snap.Available, contains(watch, symbol)); err != nil {
			if common.IsConnectivity(err) {
				return err
			}
			l.log.Error("symbol skipped this cycle", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if sweep {
		if _, err := l.recon.SweepUntracked(ctx, watch, 0); err != nil {
			return err
		}
	}

	l.metrics.SetOpenPositions(l.positions.Len())
	l.metrics.CycleDone(l.now().Sub(start))
	l.mu.Lock()
	l.cycles++
	l.lastCycle = l.now()
	l.lastErr = ""
	l.mu.Unlock()
	return nil
}

// processSymbol reconciles a symbol and, when it is flat and watched, looks
// for an entry.
func (l *Loop) processSymbol(ctx context.Context, symbol string, available float64, watched bool) error {
	if _, err := l.recon.Reconcile(ctx, symbol); err != nil {
		return err
	}
	if _, tracked := l.positions.Get(symbol); tracked || !watched {
		return nil
	}

	if !l.leverage.IsSet(symbol) {
		if err := l.gw.SetLeverage(ctx, symbol, l.settings.Leverage); err != nil {
			return fmt.Errorf("set leverage: %w", err)
		}
		l.leverage.MarkSet(symbol)
		l.log.Info("leverage set", zap.String("symbol", symbol), zap.Int("leverage", l.settings.Leverage))
	}

	sig, err := l.detector.Detect(ctx, symbol)
	if err != nil {
		return err
	}
	if !sig.HasSignal {
		return nil
	}
	l.metrics.Signal()
	l.bus.Publish(events.EventSignal, sig)

	rule, ok, err := l.catalog.Get(ctx, symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	qty, err := l.sizer.Size(risk.Input{
		Entry:            sig.EntryPrice,
		StopLoss:         sig.StopLoss,
		AvailableBalance: available,
		Leverage:         l.settings.Leverage,
		RiskPercent:      l.settings.RiskPerTradePercent,
		MaxRiskAbs:       l.settings.MaxRiskUSDTPerTrade,
		Rule:             rule,
	})
	var rej *risk.Rejection
	if errors.As(err, &rej) {
		return nil
	}
	if err != nil {
		return err
	}

	l.log.Info("opening long",
		zap.String("symbol", symbol),
		zap.Float64("entry", sig.EntryPrice),
		zap.Float64("stop_loss", sig.StopLoss),
		zap.Float64("take_profit", sig.TakeProfit),
		zap.Float64("qty", qty),
		zap.Float64("initial_margin", sig.EntryPrice*qty/float64(l.settings.Leverage)))
	att, err := l.exec.OpenLong(ctx, order.Entry{
		Symbol:     symbol,
		Qty:        qty,
		Price:      sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	})
	if err != nil {
		return err
	}
	if att.Stage != order.StageProtected {
		l.log.Warn("entry did not complete", zap.String("symbol", symbol),
			zap.String("stage", string(att.Stage)), zap.NamedError("cause", att.Cause))
	}
	return nil
}

// cycleSymbols is the watch-list followed by tracked symbols outside it.
func (l *Loop) cycleSymbols(watch []string) []string {
	out := append([]string(nil), watch...)
	for _, sym := range l.positions.Symbols() {
		if !contains(watch, sym) {
			out = append(out, sym)
		}
	}
	return out
}

func (l *Loop) maybeRescan(ctx context.Context) {
	every := time.Duration(l.settings.RescanIntervalMinutes) * time.Minute
	l.mu.RLock()
	due := every > 0 && l.now().Sub(l.lastScan) >= every
	l.mu.RUnlock()
	if !due {
		return
	}
	watch, err := l.scanner.Select(ctx, l.settings.MaxSymbolsToMonitor)
	if err != nil || len(watch) == 0 {
		l.log.Warn("rescan kept the previous watch-list", zap.Error(err))
		l.mu.Lock()
		l.lastScan = l.now()
		l.mu.Unlock()
		return
	}
	l.setWatch(watch)
	l.log.Info("watch-list rescanned", zap.Strings("symbols", watch))
}

func (l *Loop) markDown(err error) {
	l.mu.Lock()
	l.down = true
	l.lastErr = err.Error()
	l.mu.Unlock()
	l.log.Error("connectivity lost, entering reconnect mode",
		zap.Duration("reconnect_interval", l.ReconnectInterval), zap.Error(err))
	l.metrics.SetConnectivityDown(true)
	l.bus.Publish(events.EventConnectivity, events.ConnectivityEvent{Down: true, Since: l.now().UTC(), Error: err.Error()})
}

// probe pings the venue while down; nothing else is sent.
func (l *Loop) probe(ctx context.Context) {
	l.log.Info("probing exchange connectivity")
	if err := l.gw.Ping(ctx); err != nil {
		l.log.Error("reconnect probe failed", zap.Error(err))
		return
	}
	l.mu.Lock()
	l.down = false
	l.mu.Unlock()
	// Leverage is re-applied after an outage.
	l.leverage.Reset()
	l.log.Info("connectivity restored")
	l.metrics.SetConnectivityDown(false)
	l.bus.Publish(events.EventConnectivity, events.ConnectivityEvent{Down: false, Since: l.now().UTC()})
}

// shutdown cancels orders, flattens tracked positions and sweeps once more.
func (l *Loop) shutdown(ctx context.Context) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.log.Info("shutting down: cancelling orders and flattening positions")
	watch := l.WatchList()
	for _, symbol := range l.cycleSymbols(watch) {
		if err := l.exec.CancelAll(ctx, symbol); err != nil {
			l.log.Error("cancel orders on shutdown", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	for _, pos := range l.positions.Snapshot() {
		if _, err := l.exec.Flatten(ctx, pos.Symbol, pos.Qty, db.PurposeFlatten); err != nil {
			l.log.Error("CRITICAL: tracked position could not be closed on shutdown, manual action required",
				zap.String("symbol", pos.Symbol), zap.Float64("qty", pos.Qty), zap.Error(err))
			order.EmitCritical(l.bus, pos.Symbol, "position could not be closed on shutdown", err)
			continue
		}
		l.positions.Remove(pos.Symbol)
		order.EmitPositionClosed(l.bus, pos.Symbol, pos.Qty, "shutdown")
		l.log.Info("tracked position closed", zap.String("symbol", pos.Symbol), zap.Float64("qty", pos.Qty))
	}

	if _, err := l.recon.SweepUntracked(ctx, watch, 0); err != nil {
		l.log.Error("final sweep", zap.Error(err))
	}
	l.metrics.SetOpenPositions(l.positions.Len())
	l.log.Info("shutdown complete")
}

// ClosePosition cancels a symbol's orders and flattens its live amount. It
// waits for a cycle in progress to finish.
func (l *Loop) ClosePosition(ctx context.Context, symbol string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	rows, err := l.gw.Positions(ctx, symbol)
	if err != nil {
		return err
	}
	amt := common.LivePositionAmt(rows, symbol)
	if amt == 0 {
		l.positions.Remove(symbol)
		return ErrNoPosition
	}
	if err := l.exec.CancelAll(ctx, symbol); err != nil {
		return err
	}
	if _, err := l.exec.Flatten(ctx, symbol, amt, db.PurposeManual); err != nil {
		return err
	}
	l.positions.Remove(symbol)
	order.EmitPositionClosed(l.bus, symbol, amt, "manual")
	return nil
}

// State reports the loop's progress for status queries.
func (l *Loop) State() LoopState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LoopState{
		WatchList: append([]string(nil), l.watch...),
		Down:      l.down,
		LastCycle: l.lastCycle,
		Cycles:    l.cycles,
		LastError: l.lastErr,
	}
}

// WatchList returns the symbols currently scanned for entries.
func (l *Loop) WatchList() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.watch...)
}

// Gateway is the venue the loop trades on.
func (l *Loop) Gateway() common.Gateway { return l.gw }

// Account is the loop's balance reader.
func (l *Loop) Account() *balance.Manager { return l.account }

// Positions is the loop's Position table.
func (l *Loop) Positions() *state.Manager { return l.positions }

func (l *Loop) setWatch(watch []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watch = watch
	l.lastScan = l.now()
}

func (l *Loop) setLastErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastErr = err.Error()
}

func (l *Loop) isDown() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.down
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
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
