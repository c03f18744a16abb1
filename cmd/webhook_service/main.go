package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	dedupapp "github.com/bookwise/booking-gateway/internal/dedup_service/app"
	deduppg "github.com/bookwise/booking-gateway/internal/dedup_service/repository/postgres"
	gatewayapp "github.com/bookwise/booking-gateway/internal/gateway_service/app"
	gatewayhttp "github.com/bookwise/booking-gateway/internal/gateway_service/transport/http"
	"github.com/bookwise/booking-gateway/internal/platform/cache"
	"github.com/bookwise/booking-gateway/internal/platform/config"
	"github.com/bookwise/booking-gateway/internal/platform/database"
	"github.com/bookwise/booking-gateway/internal/platform/logger"
	"github.com/bookwise/booking-gateway/internal/platform/messagebroker"
	queuepg "github.com/bookwise/booking-gateway/internal/queue_service/repository/postgres"
	sequenceapp "github.com/bookwise/booking-gateway/internal/sequence_service/app"
	sequencepg "github.com/bookwise/booking-gateway/internal/sequence_service/repository/postgres"
)

const (
	serviceName     = "webhook-service"
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	appLogger.Info("Webhook service starting...",
		"port", cfg.WebhookServicePort,
		"metrics_port", cfg.WebhookServiceMetricsPort,
		"log_level", cfg.LogLevel,
	)
	if cfg.WebhookVerifyToken == "" || cfg.WebhookHMACSecret == "" {
		appLogger.Error("Webhook verify token and HMAC secret must be configured")
		os.Exit(1)
	}

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, appLogger, serviceName)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	dedupCache, err := cache.NewRedisCache(mainCtx, cfg.RedisAddr)
	if err != nil {
		// Cache is best-effort; run without it rather than refuse to start.
		appLogger.Warn("Redis unavailable, running without dedup cache", "error", err)
		dedupCache = cache.Noop()
	}

	dedupRepo := deduppg.NewPgDedupRepository(dbPool, appLogger)
	deduplicator := dedupapp.NewDeduplicator(dedupRepo, dedupCache, natsClient, dedupapp.DedupConfig{
		Window:         cfg.DedupWindow,
		AlertThreshold: cfg.DedupAlertThreshold,
		CacheTTL:       cfg.DedupCacheTTL,
	}, appLogger)

	sequenceRepo := sequencepg.NewPgSequenceRepository(dbPool, appLogger)
	tracker := sequenceapp.NewTracker(sequenceRepo, natsClient, sequenceapp.TrackerConfig{
		RecheckDelay: cfg.SequenceRecheckDelay,
	}, appLogger)

	queueRepo := queuepg.NewPgQueueRepository(dbPool, appLogger)

	ingestor := gatewayapp.NewIngestor(deduplicator, tracker, queueRepo, gatewayapp.IngestorConfig{
		MaxRetries: cfg.QueueMaxRetries,
	}, appLogger)

	handler := gatewayhttp.NewWebhookHandler(ingestor, cfg.WebhookVerifyToken, cfg.WebhookHMACSecret, appLogger)
	router := gatewayhttp.NewRouter(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.WebhookServicePort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebhookServiceMetricsPort),
		Handler: metricsMux,
	}

	g, gCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("Webhook HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			appLogger.Info("Received shutdown signal", "signal", sig.String())
			mainCancel()
		case <-gCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Webhook server shutdown failed", "error", err)
		}
		handler.Drain()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Webhook service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Webhook service stopped gracefully")
}
