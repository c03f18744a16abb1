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
	"github.com/bookwise/booking-gateway/internal/dialog_service/adapters/booking"
	"github.com/bookwise/booking-gateway/internal/dialog_service/adapters/intent"
	dialogapp "github.com/bookwise/booking-gateway/internal/dialog_service/app"
	dialogpg "github.com/bookwise/booking-gateway/internal/dialog_service/repository/postgres"
	"github.com/bookwise/booking-gateway/internal/gateway_service/adapters/whatsapp"
	outboxapp "github.com/bookwise/booking-gateway/internal/outbox_service/app"
	outboxpg "github.com/bookwise/booking-gateway/internal/outbox_service/repository/postgres"
	"github.com/bookwise/booking-gateway/internal/platform/cache"
	"github.com/bookwise/booking-gateway/internal/platform/config"
	"github.com/bookwise/booking-gateway/internal/platform/database"
	"github.com/bookwise/booking-gateway/internal/platform/logger"
	"github.com/bookwise/booking-gateway/internal/platform/messagebroker"
	processorapp "github.com/bookwise/booking-gateway/internal/processor_service/app"
	queueapp "github.com/bookwise/booking-gateway/internal/queue_service/app"
	queuepg "github.com/bookwise/booking-gateway/internal/queue_service/repository/postgres"
	sequenceapp "github.com/bookwise/booking-gateway/internal/sequence_service/app"
	sequencepg "github.com/bookwise/booking-gateway/internal/sequence_service/repository/postgres"
)

const (
	serviceName     = "pipeline-worker"
	shutdownTimeout = 15 * time.Second

	idleSweepInterval = time.Minute
	dedupPruneEvery   = time.Hour
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

	appLogger.Info("Pipeline worker starting...",
		"metrics_port", cfg.PipelineWorkerMetricsPort,
		"poll_interval", cfg.QueuePollInterval,
		"batch_size", cfg.QueueBatchSize,
		"fan_out", cfg.QueueWorkerFanOut,
		"log_level", cfg.LogLevel,
	)

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

	queueRepo := queuepg.NewPgQueueRepository(dbPool, appLogger)
	sequenceRepo := sequencepg.NewPgSequenceRepository(dbPool, appLogger)
	conversationRepo := dialogpg.NewPgConversationRepository(dbPool, appLogger)
	outboxRepo := outboxpg.NewPgOutboxRepository(dbPool, appLogger)

	tracker := sequenceapp.NewTracker(sequenceRepo, natsClient, sequenceapp.TrackerConfig{
		RecheckDelay: cfg.SequenceRecheckDelay,
	}, appLogger)

	dedupRepo := deduppg.NewPgDedupRepository(dbPool, appLogger)
	deduplicator := dedupapp.NewDeduplicator(dedupRepo, cache.Noop(), natsClient, dedupapp.DedupConfig{
		Window:         cfg.DedupWindow,
		AlertThreshold: cfg.DedupAlertThreshold,
		CacheTTL:       cfg.DedupCacheTTL,
	}, appLogger)

	dialogService := dialogapp.NewService(
		conversationRepo,
		dialogapp.NewEngine(),
		intent.NewKeywordClassifier(),
		dialogapp.NewStaticCatalog(nil),
		booking.NewInMemoryEngine(appLogger),
		appLogger,
	)

	sender := whatsapp.NewHTTPSender(whatsapp.Config{
		SendURL:     cfg.WhatsAppSendURL,
		AccessToken: cfg.WhatsAppAccessToken,
		Timeout:     cfg.WhatsAppSendTimeout,
	}, appLogger)

	outboxPublisher := outboxapp.NewPublisher(outboxRepo, appLogger)
	relay := outboxapp.NewRelay(outboxRepo, natsClient, outboxapp.RelayConfig{}, appLogger)

	processor := processorapp.NewProcessor(dialogService, tracker, sender, outboxPublisher, appLogger)

	retryScheduler := queueapp.NewRetryScheduler(queueRepo, queueapp.RetryConfig{
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}, appLogger)

	poller := queueapp.NewPoller(queueRepo, processor, retryScheduler, processor, queueapp.PollerConfig{
		PollInterval: cfg.QueuePollInterval,
		BatchSize:    cfg.QueueBatchSize,
		FanOut:       cfg.QueueWorkerFanOut,
		StaleAfter:   cfg.QueueStaleAfter,
	}, appLogger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PipelineWorkerMetricsPort),
		Handler: metricsMux,
	}

	g, gCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		if err := poller.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("queue poller: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := relay.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox relay: %w", err)
		}
		return nil
	})

	// Periodic housekeeping: close idle conversations, prune expired dedup
	// records.
	g.Go(func() error {
		sweep := time.NewTicker(idleSweepInterval)
		defer sweep.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-sweep.C:
				if _, err := dialogService.CloseIdle(gCtx, cfg.ConversationIdleTimeout); err != nil {
					appLogger.Error("Idle conversation sweep failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		prune := time.NewTicker(dedupPruneEvery)
		defer prune.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-prune.C:
				if pruned, err := deduplicator.Prune(gCtx); err != nil {
					appLogger.Error("Dedup prune failed", "error", err)
				} else if pruned > 0 {
					appLogger.Info("Pruned expired dedup records", "count", pruned)
				}
			}
		}
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
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Pipeline worker exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Pipeline worker stopped gracefully")
}
