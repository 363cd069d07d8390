package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedibird/fedimind/internal/app"
	"github.com/fedibird/fedimind/pkg/config"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting fedimind worker")

	// Initialize telemetry
	tel, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer tel.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for interrupt signal
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down worker...")
		cancel()
	}()

	a, err := app.New(ctx, cfg, tel.Metrics)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	if !a.Shared {
		logger.Warn("Redis disabled; this worker only sees tasks it schedules itself")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Runner.Run(gctx)
	})
	g.Go(func() error {
		return a.Coordinator.RunSweeper(gctx, cfg.Tasks.SweepInterval)
	})

	logger.Info("Worker running, waiting for interrupt...")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", zap.Error(err))
	}

	logger.Info("Worker exited")
}
