package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mockdash/internal/amqp"
	"mockdash/internal/backend"
	"mockdash/internal/cache"
	"mockdash/internal/cli"
	"mockdash/internal/clock"
	"mockdash/internal/core"
	apphttp "mockdash/internal/http"
	"mockdash/internal/identity"
	applog "mockdash/internal/log"
	"mockdash/internal/services"
	"mockdash/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, applog.ComponentApp)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", applog.FieldError, err, "timezone", cfg.Timezone)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	durable, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", applog.FieldError, err, applog.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := durable.Close(); err != nil {
			logger.Error("Backend close failed", applog.FieldError, err)
		}
	}()

	presence := identity.NewPresence(cfg.MaxSessions, cfg.SessionTTL)
	caches := cache.NewManager(logger.WithComponent(applog.ComponentCache).Logger)
	caches.Register(presence)
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	readyChecks := []apphttp.ReadyCheck{{Name: "backend", Check: durable.Ping}}

	var (
		publisher services.EventPublisher
		events    apphttp.EventLister
	)
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, dashboard events will not be published", applog.FieldError, err)
		} else {
			defer client.Close()
			publisher = client
			readyChecks = append(readyChecks, apphttp.ReadyCheck{Name: "amqp", Check: client.Ping})
			logger.Info("Publishing dashboard events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)

			// The worker records published events here; the API reads them back.
			repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
			if err != nil {
				logger.Warn("Event store unavailable, API will omit recent events", applog.FieldError, err, "path", cfg.SQLiteDBPath)
			} else {
				defer repo.Close()
				events = repo
			}
		}
	}

	clk := clock.NewSystem(loc)
	dash := services.NewDashboard(durable.Backend, services.Options{
		Clock:     clk,
		Generator: services.NewGenerator(nil, clk),
		Formatter: core.NewNumberFormatter(cfg.Locale),
		FeedTTL:   cfg.FeedTTL,
		Publisher: publisher,
		Logger:    logger.WithComponent(applog.ComponentDashboard).Logger,
	})

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:                 ":" + cfg.Port,
		Dashboard:            dash,
		Tokens:               identity.NewTokenService(cfg.SessionSecret, 0, 0),
		Logger:               logger,
		SecureCookies:        cfg.SecureCookies,
		Locale:               cfg.Locale,
		CountRefreshInterval: cfg.CountRefreshInterval,
		FeedRefreshBuffer:    cfg.FeedRefreshBuffer,
		AmountPushInterval:   cfg.AmountPushInterval,
		ReadyChecks:          readyChecks,
		Presence:             presence,
		Events:               events,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", applog.FieldError, err)
		os.Exit(1)
	}
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting mockdash server", "port", cfg.Port, applog.FieldBackend, cfg.DataBackend, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", applog.FieldOperation, applog.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
