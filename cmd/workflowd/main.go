package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/internal/condition"
	"github.com/kocayazbey/AyazTrade-sub008/internal/engine"
	"github.com/kocayazbey/AyazTrade-sub008/internal/handlers"
	"github.com/kocayazbey/AyazTrade-sub008/internal/logging"
	"github.com/kocayazbey/AyazTrade-sub008/internal/scheduler"
	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/internal/streaming"
)

func main() {
	if err := run(); err != nil {
		slog.Error("workflowd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	registry := handlers.NewRegistry()
	if err := handlers.RegisterBuiltins(registry, logger, handlers.HTTPConfig{}); err != nil {
		return err
	}

	breakers := engine.NewCircuitBreakerRegistry(engine.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.breakerCooldown(),
		HalfOpenMax:      1,
	})
	for name, o := range cfg.BreakerOverrides {
		breakers.SetHandlerConfig(name, engine.CircuitBreakerConfig{
			FailureThreshold: o.FailureThreshold,
			Cooldown:         time.Duration(o.CooldownSeconds) * time.Second,
			HalfOpenMax:      1,
		})
	}

	hub := streaming.NewMemoryHub()
	coordinator := engine.NewCoordinator(st, registry, condition.NewEvaluator(), breakers, hub, logger)

	wakeups := scheduler.NewWakeupScheduler(st, coordinator, cfg.wakeupPollInterval(), logger)
	if err := wakeups.Start(ctx); err != nil {
		return err
	}
	defer wakeups.Stop()

	triggers := scheduler.NewTriggerScheduler(st, coordinator, hub, cfg.triggerTickInterval(), logger)
	if err := triggers.Start(ctx); err != nil {
		return err
	}
	defer triggers.Stop()

	logger.Info("workflowd started", "db_path", cfg.DBPath)
	<-ctx.Done()
	logger.Info("workflowd shutting down")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
