package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"market-pulse/internal/api"
	"market-pulse/internal/app"
	"market-pulse/internal/config"
	"market-pulse/internal/logging"
	"market-pulse/internal/services/queue"

	"github.com/sirupsen/logrus"
)

var version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load config: ", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatal("Invalid config: ", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.Fatal("Failed to set up logging: ", err)
	}

	logger.Info("Starting Market Pulse Service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: ", err)
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply schema: ", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, m := range a.Listings.Check(ctx, a.Catalog) {
			logger.WithFields(logrus.Fields{
				"symbol":   m.Symbol,
				"exchange": m.Exchange,
			}).Warnf("Catalog entry not tradable: %s", m.Reason)
		}
	}()

	// Scheduler and workers
	if cfg.Scheduler.Enabled {
		scheduler := queue.NewScheduler(a.Queue, cfg.Aggregation.Timeframes, cfg.Scheduler.IntervalFor, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()

		for i := 0; i < cfg.Scheduler.Workers; i++ {
			worker := queue.NewWorker(a.Queue, a.Lock, a.Pipeline, cfg.Scheduler.DequeueTimeout, logger)
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				if err := worker.Run(ctx); err != nil {
					logger.WithError(err).WithField("worker", workerID).Error("Worker stopped")
				}
			}(i)
		}
		logger.Infof("Scheduler started with %d workers for %v", cfg.Scheduler.Workers, cfg.Aggregation.Timeframes)
	}

	// Alert checker
	if a.Alerts != nil && cfg.Alerts.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Alerts.Run(ctx, cfg.Alerts.CheckInterval)
		}()
		logger.Infof("Alert checker running every %s", cfg.Alerts.CheckInterval)
	}

	srv := api.NewServer(apiDeps(a), cfg.Server.HTTPPort, logger)
	httpErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			httpErrChan <- err
		}
	}()

	logger.Infof("Market Pulse Service v%s started successfully", version)
	logger.Infof("HTTP server listening on :%d", cfg.Server.HTTPPort)

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-httpErrChan:
		logger.WithError(err).Error("HTTP server error")
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}

	cancel()
	waitOrTimeout(&wg, 30*time.Second, logger)
	logger.Info("Shutdown complete")
}

func apiDeps(a *app.App) api.Deps {
	deps := api.Deps{
		Structures: a.Cache,
		Tasks:      a.Queue,
		Updates:    a.Publisher,
		Version:    version,
		Checks: map[string]func(ctx context.Context) error{
			"redis": func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		},
	}
	if a.Alerts != nil {
		deps.Alerts = a.Alerts
	}
	if a.Snapshots != nil {
		deps.Snapshots = a.Snapshots
		deps.Checks["clickhouse"] = a.ClickHouse.Ping
	}
	if a.Postgres != nil {
		deps.Checks["postgres"] = a.Postgres.PingContext
	}
	return deps
}

// waitOrTimeout lets an in-flight pipeline cycle finish, up to d.
func waitOrTimeout(wg *sync.WaitGroup, d time.Duration, logger *logrus.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		logger.Warn("Timed out waiting for background workers")
	}
}
