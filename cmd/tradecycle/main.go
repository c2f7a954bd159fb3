// Command tradecycle is the process entrypoint: it loads configuration, wires the
// state store, a venue connector, a market-data/signal engine pair, and the cycle
// orchestrator, then runs the cycle loop until signaled.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradecycle/api"
	"tradecycle/config"
	"tradecycle/connector"
	"tradecycle/engine"
	"tradecycle/logger"
	"tradecycle/ratelimit"
	"tradecycle/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "config.yaml", "path to the trading configuration YAML file")
		envPath    = flag.String("env", ".env", "path to an optional .env overlay")
		dbPath     = flag.String("db", "tradecycle.db", "path to the SQLite state store file")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		apiAddr    = flag.String("api-addr", ":8080", "listen address for the read-only HTTP status/metrics surface")
	)
	flag.Parse()

	logger.Init(*logLevel)

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		// FatalInit: config validation failed; the process must never enter the
		// cycle loop.
		return fmt.Errorf("tradecycle: fatal init: %w", err)
	}

	store, err := state.OpenSQLiteStore(*dbPath)
	if err != nil {
		return fmt.Errorf("tradecycle: fatal init: open store: %w", err)
	}
	defer store.Close()

	limits := ratelimit.NewRegistry(cfg.Exec.RateLimit.CallsPerSecond, cfg.Exec.RateLimit.BurstSize)

	conn, err := newConnector(cfg, limits)
	if err != nil {
		return fmt.Errorf("tradecycle: fatal init: connector: %w", err)
	}

	dataEngine := newBinanceDataEngine(binance.NewClient("", ""), cfg.Trading.Timeframe, limits.Venue("binance"))
	sigEngine := newDefaultSignalEngine(dataEngine, cfg.Trading.PrimaryStrategy)

	mode := "paper"
	if cfg.Trading.LiveMode {
		mode = "live"
	}
	sessionID := fmt.Sprintf("%s-%s", mode, uuid.New().String())

	orch := engine.NewOrchestrator(cfg, store, dataEngine, sigEngine, conn, sessionID)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: *apiAddr, Handler: api.NewServer(orch).Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("tradecycle: api server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Infof("tradecycle: shutdown signal received, finishing in-flight cycle")
		orch.Stop()
		<-runErr
	case err := <-runErr:
		if err != nil {
			logger.Errorf("tradecycle: cycle loop exited: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("tradecycle: api server shutdown: %v", err)
	}
	return nil
}

// newConnector picks the SimConnector for paper/dry-run sessions and the
// BinanceConnector for live sessions, matching config.Config.Trading.LiveMode.
// The sim venue runs unlimited; only the live venue is rate-gated.
func newConnector(cfg config.Config, limits *ratelimit.Registry) (connector.Connector, error) {
	if !cfg.Trading.LiveMode {
		return connector.NewSimConnector(), nil
	}
	apiKey := os.Getenv(cfg.Exec.LiveAPIKeyEnv)
	secretKey := os.Getenv(cfg.Exec.LiveSecretKeyEnv)
	defaultFees := connector.FeeInfo{MakerFeeBps: cfg.Exec.MakerFeeBps, TakerFeeBps: cfg.Exec.TakerFeeBps}
	return connector.NewBinanceConnector(apiKey, secretKey, defaultFees, limits.Venue("binance")), nil
}
