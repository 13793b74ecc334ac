package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perp-core/internal/api"
	"perp-core/internal/engine"
	"perp-core/internal/events"
	"perp-core/internal/gateway"
	"perp-core/internal/monitor"
	"perp-core/internal/order"
	"perp-core/internal/state"
	"perp-core/pkg/config"
	"perp-core/pkg/db"
	futures "perp-core/pkg/exchanges/binance/futures_usdt"
	"perp-core/pkg/exchanges/common"
	"perp-core/pkg/i18n"
	"perp-core/pkg/logger"
)

const shutdownTimeout = 2 * time.Minute

func main() {
	issueToken := flag.String("issue-token", "", "print a control-API token for the named operator and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, i18n.M().ConfigLoadFailed+"\n", err)
		os.Exit(1)
	}
	i18n.SetLanguage(i18n.Parse(cfg.Language))

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *issueToken != "" {
		token, err := api.IssueToken(*issueToken, cfg.JWTSecret, time.Now().Add(*tokenTTL))
		if err != nil {
			log.Fatal("issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	log.Info(i18n.M().Starting)
	log.Info(fmt.Sprintf(i18n.M().ConfigLoaded, cfg.Port), zap.Bool("testnet", cfg.BinanceTestnet))
	log.Info(fmt.Sprintf(i18n.M().UsingDBPath, cfg.DBPath))

	settings, err := ensureSettings(cfg.SettingsPath, log)
	if err != nil {
		log.Fatal(fmt.Sprintf(i18n.M().ConfigLoadFailed, err))
	}
	if settings.TestMode {
		log.Info(i18n.M().TestModeOn)
	} else {
		log.Warn(i18n.M().LiveModeOn)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal(fmt.Sprintf(i18n.M().DBInitFailed, err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal(fmt.Sprintf(i18n.M().DBMigrationsFailed, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	client := futures.NewClient(futures.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.BinanceRecvWindow,
	}, log)
	venue := gateway.NewResilient(client, log, gateway.WithRetryRecorder(metrics))

	// One paper wallet per process so balances survive stop/start.
	var (
		simOnce sync.Once
		sim     *order.Simulator
	)
	positions := state.NewManager()
	factory := func(s config.Settings) (*engine.Loop, error) {
		var gw common.Gateway = venue
		if s.TestMode {
			simOnce.Do(func() { sim = order.NewSimulator(venue, cfg.SimInitialBalance, log) })
			gw = sim
		}
		return engine.Build(engine.Components{
			Gateway:   gw,
			Positions: positions,
			Journal:   database,
			Bus:       bus,
			Metrics:   metrics,
			TimeSync:  client,
			Simulated: s.TestMode,
		}, s, log)
	}
	runner := engine.NewRunner(factory, func() (config.Settings, error) {
		return config.LoadSettings(cfg.SettingsPath)
	}, log)

	mon := &monitor.Monitor{Bus: bus, Notifier: newNotifier(cfg, log), Log: log.Named("monitor")}
	monCtx, stopMonitor := context.WithCancel(context.Background())
	monDone := mon.Start(monCtx)

	server := api.NewServer(api.Deps{
		Engine:       runner,
		Bus:          bus,
		Journal:      database,
		Metrics:      metrics,
		SettingsPath: cfg.SettingsPath,
		JWTSecret:    cfg.JWTSecret,
		Version:      buildVersion(),
	}, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info(fmt.Sprintf(i18n.M().ServerListening, cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(fmt.Sprintf(i18n.M().APIServerError, err))
			stop()
		}
	}()

	if cfg.AutoStart {
		if err := runner.Start(ctx); err != nil {
			log.Error(fmt.Sprintf(i18n.M().AutoStartFailed, err))
		}
	}

	<-ctx.Done()
	log.Info(i18n.M().ShuttingDown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Stop(shutdownCtx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		log.Error("engine stop", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	stopMonitor()
	<-monDone
}

// ensureSettings loads the settings file, writing the defaults when none
// exists yet.
func ensureSettings(path string, log *zap.Logger) (config.Settings, error) {
	s, err := config.LoadSettings(path)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return config.Settings{}, err
	}
	log.Warn(fmt.Sprintf(i18n.M().SettingsDefaulted, path))
	s = config.DefaultSettings()
	if err := config.SaveSettings(path, s); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

// newNotifier prefers Telegram and falls back to logging alerts.
func newNotifier(cfg *config.Config, log *zap.Logger) monitor.Notifier {
	if cfg.TelegramToken != "" {
		tg, err := monitor.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err == nil {
			return tg
		}
		log.Warn("telegram notifier unavailable, alerts go to the log", zap.Error(err))
	}
	return monitor.LogNotifier{Log: log.Named("alerts")}
}

func buildVersion() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
