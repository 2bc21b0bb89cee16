// tradecoord — an exchange order & fill coordination engine for
// multi-venue cryptocurrency trading.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine            — orchestrator: builds one runtime per configured venue account
//	internal/orders            — OrderPool + OrderStateMachine: the authoritative lifecycle ledger
//	internal/fills             — FillCoordinator: ingests and reconciles fill events
//	internal/scheduler         — RequestScheduler: per-request-kind rate limiting
//	internal/balance           — BalancePositionLoop: periodic balance/position refresh
//	internal/eventbus          — EventBus: broadcast fan-out of order/balance/trade events
//	internal/market            — top-of-book mirror for commission conversion and liquidation estimates
//	internal/venue              — the VenueAdapter port plus the mock and reference adapters
//	internal/lifecycle         — graceful shutdown and panic supervision
//	internal/controlpanel      — local health/stop/stats/config HTTP surface
//
// The engine never runs a trading strategy itself: it exposes order
// lifecycle and fill events over the EventBus for a disposition strategy
// to consume and drive through the VenueAdapter port.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tradecoord/internal/config"
	"tradecoord/internal/controlpanel"
	"tradecoord/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
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

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	var panel *controlpanel.Server
	if cfg.ControlPanel.Enabled {
		panel = controlpanel.New(controlpanel.Config{
			Addr:  cfg.ControlPanel.Addr,
			Stats: eng,
			Configs: eng,
			Stop: func(ctx context.Context) error {
				return eng.Stop(ctx)
			},
			Log: logger,
		})
		go func() {
			if err := panel.Start(); err != nil {
				logger.Error("control panel failed", "error", err)
			}
		}()
		logger.Info("control panel started", "addr", cfg.ControlPanel.Addr)
	}

	for _, vc := range cfg.Venues {
		if vc.DryRun {
			logger.Warn("venue running in dry-run mode — no real orders will be placed", "exchange_account_id", vc.ExchangeAccountID)
		}
	}
	logger.Info("engine started", "venues", len(cfg.Venues))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx := context.Background()
	if panel != nil {
		if err := panel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop control panel", "error", err)
		}
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown did not complete cleanly", "error", err)
	}
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
