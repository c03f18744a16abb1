package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bookwise/booking-gateway/internal/queue_service/domain"
)

// ItemProcessor executes one queue item. A nil return completes the item; an
// error hands it to the retry scheduler, which honors domain.Terminal marks.
type ItemProcessor interface {
	Process(ctx context.Context, item *domain.QueueItem) error
}

// FailureNotifier is told exactly once when an item fails permanently, so the
// end user is not left in silence after retries are exhausted.
type FailureNotifier interface {
	NotifyPermanentFailure(ctx context.Context, item *domain.QueueItem)
}

// PollerConfig holds configuration specific to the queue poller.
type PollerConfig struct {
	PollInterval time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
	BatchSize    int           `mapstructure:"QUEUE_BATCH_SIZE"`
	FanOut       int           `mapstructure:"QUEUE_WORKER_FAN_OUT"`
	// StaleAfter bounds how long an item may sit in processing before it is
	// presumed orphaned by a crashed worker and released back to retry.
	StaleAfter time.Duration `mapstructure:"QUEUE_STALE_AFTER"`
}

// Poller drives the pipeline: it claims due items on a fixed interval and
// dispatches them with bounded fan-out. Multiple poller instances may run
// concurrently; claim atomicity lives in the repository, not here.
type Poller struct {
	repo      domain.QueueRepository
	processor ItemProcessor
	retry     *RetryScheduler
	notifier  FailureNotifier
	config    PollerConfig
	logger    *slog.Logger
}

// NewPoller creates a Poller. notifier may be nil.
func NewPoller(
	repo domain.QueueRepository,
	processor ItemProcessor,
	retry *RetryScheduler,
	notifier FailureNotifier,
	cfg PollerConfig,
	logger *slog.Logger,
) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 4
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Poller{
		repo:      repo,
		processor: processor,
		retry:     retry,
		notifier:  notifier,
		config:    cfg,
		logger:    logger.With("component", "queue_poller"),
	}
}

// Run polls until ctx is cancelled. On cancellation the in-flight batch is
// finished before returning (graceful drain); no new items are claimed.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "Queue poller started",
		"poll_interval", p.config.PollInterval, "batch_size", p.config.BatchSize, "fan_out", p.config.FanOut)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Queue poller stopping")
			return ctx.Err()
		case <-ticker.C:
			// The batch runs on a background context so cancellation drains
			// in-flight work instead of abandoning claimed items mid-update.
			p.PollOnce(context.WithoutCancel(ctx))
		}
	}
}

// PollOnce claims one batch and processes it. Failures of individual items
// never abort the batch. Returns the number of items attempted.
func (p *Poller) PollOnce(ctx context.Context) int {
	p.releaseStale(ctx)

	items, err := p.repo.AcquireDue(ctx, time.Now().UTC(), p.config.BatchSize)
	if err != nil {
		if errors.Is(err, domain.ErrNoDueItems) {
			pollBatchSizeHist.Observe(0)
			return 0
		}
		p.logger.ErrorContext(ctx, "Failed to acquire due queue items", "error", err)
		return 0
	}
	pollBatchSizeHist.Observe(float64(len(items)))

	sem := make(chan struct{}, p.config.FanOut)
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.processItem(ctx, item)
		}()
	}
	wg.Wait()
	return len(items)
}

// releaseStale hands items orphaned by a crashed worker back to the queue
// before each claim, so no message is stranded in processing forever.
func (p *Poller) releaseStale(ctx context.Context) {
	released, err := p.repo.ReleaseStale(ctx, time.Now().UTC().Add(-p.config.StaleAfter))
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to release stale queue items", "error", err)
		return
	}
	if released > 0 {
		staleReleasedCounter.Add(float64(released))
		p.logger.WarnContext(ctx, "Released stale processing items back to retry", "count", released)
	}
}

func (p *Poller) processItem(ctx context.Context, item *domain.QueueItem) {
	kind := item.Kind()
	timer := prometheus.NewTimer(itemProcessingDurationHist.WithLabelValues(kind))
	defer timer.ObserveDuration()

	logger := p.logger.With("item_id", item.ID, "kind", kind, "retry_count", item.RetryCount)

	procErr := p.processor.Process(ctx, item)
	if procErr == nil {
		if err := p.repo.MarkCompleted(ctx, item.ID, time.Now().UTC()); err != nil {
			logger.ErrorContext(ctx, "Failed to mark item completed", "error", err)
			itemsProcessedCounter.WithLabelValues(kind, "lost").Inc()
			return
		}
		itemsProcessedCounter.WithLabelValues(kind, "completed").Inc()
		return
	}

	logger.WarnContext(ctx, "Item processing failed", "error", procErr)

	disposition, err := p.retry.OnFailure(ctx, item, procErr)
	if err != nil {
		logger.ErrorContext(ctx, "Retry scheduling failed", "error", err)
	}
	switch disposition {
	case DispositionRescheduled:
		itemsProcessedCounter.WithLabelValues(kind, "rescheduled").Inc()
	case DispositionFailed:
		itemsProcessedCounter.WithLabelValues(kind, "failed").Inc()
		if err == nil && p.notifier != nil {
			// MarkFailed succeeded exactly once, so this fires exactly once.
			p.notifier.NotifyPermanentFailure(ctx, item)
		}
	case DispositionLost:
		itemsProcessedCounter.WithLabelValues(kind, "lost").Inc()
	}
}
