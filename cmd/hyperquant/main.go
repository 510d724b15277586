// hyperquant — a perpetuals market-making core for Hyperliquid, quoting
// with the Avellaneda-Stoikov inventory model and enforcing a synchronous
// pre-trade risk chain with a fleet-wide kill switch.
//
// Architecture:
//
//	main.go                         — entry point: loads config, starts the Engine Manager, waits for SIGINT/SIGTERM
//	internal/engine/engine.go       — Engine Manager: registers one live session per exchange, coordinates kill switch
//	internal/strategy/maker.go      — Avellaneda-Stoikov quoting: computes bid/ask from mid price + inventory skew
//	internal/ledger/ledger.go       — order lifecycle, position, and account bookkeeping
//	internal/venue/hyperliquid/     — WebSocket market data feed + signed REST execution against Hyperliquid
//	internal/risk/manager.go        — pre-trade check chain, kill switch, automatic halt triggers
//	internal/store/store.go         — JSON file persistence for positions (survives restarts)
//	internal/backtest/engine.go     — event-scheduled replay engine for offline strategy evaluation
//
// Mirrors the teacher's cmd/bot/main.go wiring order (load config, validate,
// build logger, construct the orchestrator, start, wait for signal, stop) —
// this core has no dashboard/API surface to start or stop around it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hyperquant/internal/config"
	"hyperquant/internal/engine"
	"hyperquant/internal/metrics"
	"hyperquant/internal/store"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ZIGQUANT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	st, err := store.Open(dataDir)
	if err != nil {
		logger.Error("failed to open position store", "error", err, "dir", dataDir)
		os.Exit(1)
	}
	defer st.Close()

	var sink metrics.Sink
	if cfg.Server.MetricsEnabled {
		sink = metrics.New()
	} else {
		sink = metrics.Noop{}
	}

	mgr := engine.NewManager(logger, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for i, exCfg := range cfg.Exchanges {
		sessionID := fmt.Sprintf("live-%d-%s", i, exCfg.Name)
		sess, err := engine.NewLiveSession(sessionID, *cfg, exCfg, sink, st, logger)
		if err != nil {
			logger.Error("failed to build live session", "session", sessionID, "error", err)
			os.Exit(1)
		}
		if err := mgr.Register(ctx, sess); err != nil {
			logger.Error("failed to register live session", "session", sessionID, "error", err)
			os.Exit(1)
		}
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("hyperquant started",
		"exchanges", len(cfg.Exchanges),
		"symbols", cfg.Trading.Symbols,
		"dry_run", cfg.DryRun,
	)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	mgr.StopAll()
	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
