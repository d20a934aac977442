package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nijaek/analytics-dashboard/internal/buffer"
	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/internal/store"
	"github.com/Nijaek/analytics-dashboard/internal/worker"
	"github.com/Nijaek/analytics-dashboard/pkg/config"
	"github.com/Nijaek/analytics-dashboard/pkg/database"
	"github.com/Nijaek/analytics-dashboard/pkg/logging"
	"github.com/Nijaek/analytics-dashboard/pkg/monitoring"
	"github.com/Nijaek/analytics-dashboard/pkg/redis"
	"github.com/Nijaek/analytics-dashboard/pkg/server"
	"github.com/Nijaek/analytics-dashboard/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("analytics-worker")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Analytics Drain Worker")

	databaseURL := config.RequireEnv("DATABASE_URL")
	redisURL := config.RequireEnv("REDIS_URL")

	// Connect to Postgres
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	bootCtx := context.Background()
	if err := database.EnsureSchema(bootCtx, db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Connect to Redis (durable buffer, live fan-out)
	redisClient, err := redis.NewClientFromURL(bootCtx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("analytics-worker", version.Version)
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
		"REDIS_URL":    redisURL,
	}))

	metricsCollector := monitoring.NewMetricsCollector("analytics-worker", version.Version, version.GitCommit)

	// Create custom drain metrics
	workerMetrics := &worker.Metrics{}
	workerMetrics.Drained, workerMetrics.RollupRuns, workerMetrics.BatchDuration = metricsCollector.CreateWorkerMetrics()

	// Domain wiring
	st := store.New(db, logger)
	buf := buffer.New(redisClient, logger)
	pubsub := redis.NewTypedPubSub[models.LiveEvent](redisClient, logger)

	// Zero values fall back to the worker package defaults.
	opts := worker.Options{
		Consumer:       config.GetEnv("WORKER_CONSUMER", ""),
		BatchSize:      int64(config.GetEnvInt("WORKER_BATCH_SIZE", 0)),
		BlockTimeout:   config.GetEnvDuration("WORKER_BLOCK_TIMEOUT", 0),
		RollupInterval: config.GetEnvDuration("ROLLUP_INTERVAL", 0),
		ClaimInterval:  config.GetEnvDuration("CLAIM_INTERVAL", 0),
		ClaimIdle:      config.GetEnvDuration("CLAIM_IDLE", 0),
	}
	w := worker.New(buf, st, pubsub, logger, workerMetrics, opts)

	// Start draining
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	// Health and metrics endpoint on the worker port
	router := server.SetupServiceRouter(logger, "analytics-worker", healthChecker, metricsCollector)
	srv := server.Serve(server.DefaultConfig("analytics-worker", "8081"), router, logger)

	logger.Info("Analytics worker started - draining the ingest buffer")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutting down analytics worker...")
		cancel()
		if err := <-done; err != nil {
			logger.WithError(err).Error("Drain loop exited with error")
		}
	case err := <-done:
		cancel()
		if err != nil {
			logger.WithError(err).Error("Drain loop exited unexpectedly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Health server forced to shutdown")
	}

	logger.Info("Analytics worker stopped")
}
