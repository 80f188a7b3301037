package main

import (
	"context"
	"errors"
	"os"
	"time"

	"mockdash/internal/amqp"
	"mockdash/internal/cli"
	applog "mockdash/internal/log"
	"mockdash/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, applog.ComponentWorker)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the event worker")
		os.Exit(1)
	}

	logger.Info("Starting mockdash-worker", "db_path", cfg.SQLiteDBPath, "queue", cfg.AMQPQueue)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		_ = repo.Close()
		os.Exit(1)
	}

	recorder := worker.NewEventRecorder(repo)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Error("AMQP close failed", applog.FieldError, err)
		}
		if err := repo.Close(); err != nil {
			logger.Error("SQLite close failed", applog.FieldError, err)
		}
	})

	go func() {
		err := amqpClient.ConsumeEvents(ctx, recorder.HandleEventMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption failed", applog.FieldError, err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := recorder.LogStats(ctx); err != nil && ctx.Err() == nil {
					logger.Error("Failed to log event stats", applog.FieldError, err)
				}
			}
		}
	}()

	logger.Info("Worker started, waiting for dashboard events")
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
