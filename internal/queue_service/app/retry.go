package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/bookwise/booking-gateway/internal/queue_service/domain"
)

// RetryConfig bounds the exponential backoff.
type RetryConfig struct {
	BaseDelay time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	MaxDelay  time.Duration `mapstructure:"RETRY_MAX_DELAY"`
}

// Disposition is the outcome of handing a failed item to the retry scheduler.
type Disposition int

const (
	DispositionRescheduled Disposition = iota
	DispositionFailed
	DispositionLost // another worker already moved the item on
)

// RetryScheduler turns processing failures into either a rescheduled attempt
// or a terminal failure. It is a pure function of item state plus the error
// classification, so re-invoking it for the same attempt is idempotent.
type RetryScheduler struct {
	repo   domain.QueueRepository
	config RetryConfig
	logger *slog.Logger
}

// NewRetryScheduler creates a RetryScheduler.
func NewRetryScheduler(repo domain.QueueRepository, cfg RetryConfig, logger *slog.Logger) *RetryScheduler {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &RetryScheduler{repo: repo, config: cfg, logger: logger.With("component", "retry_scheduler")}
}

// Backoff computes min(maxDelay, baseDelay * 2^retryCount).
func (s *RetryScheduler) Backoff(retryCount int) time.Duration {
	delay := s.config.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= s.config.MaxDelay {
			return s.config.MaxDelay
		}
	}
	if delay > s.config.MaxDelay {
		return s.config.MaxDelay
	}
	return delay
}

// OnFailure records procErr against the item and either schedules the next
// attempt or fails the item permanently. Terminal errors and exhausted retry
// budgets both end in a permanent failure; retry_count never exceeds
// max_retries.
func (s *RetryScheduler) OnFailure(ctx context.Context, item *domain.QueueItem, procErr error) (Disposition, error) {
	errMsg := sql.NullString{String: procErr.Error(), Valid: true}
	now := time.Now().UTC()

	if !domain.IsTerminal(procErr) && item.RetryCount < item.MaxRetries {
		nextAttempt := now.Add(s.Backoff(item.RetryCount))
		err := s.repo.MarkForRetry(ctx, item.ID, nextAttempt, item.RetryCount+1, errMsg)
		if err != nil {
			if err == domain.ErrNotFound {
				s.logger.WarnContext(ctx, "Item no longer processing, retry skipped", "item_id", item.ID)
				return DispositionLost, nil
			}
			return DispositionRescheduled, err
		}
		return DispositionRescheduled, nil
	}

	err := s.repo.MarkFailed(ctx, item.ID, now, errMsg)
	if err != nil {
		if err == domain.ErrNotFound {
			s.logger.WarnContext(ctx, "Item no longer processing, terminal failure skipped", "item_id", item.ID)
			return DispositionLost, nil
		}
		return DispositionFailed, err
	}
	s.logger.WarnContext(ctx, "Item failed permanently",
		"item_id", item.ID, "retry_count", item.RetryCount, "max_retries", item.MaxRetries,
		"terminal", domain.IsTerminal(procErr), "error", procErr)
	return DispositionFailed, nil
}
