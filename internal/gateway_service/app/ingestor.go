package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dedup "github.com/bookwise/booking-gateway/internal/dedup_service/app"
	"github.com/bookwise/booking-gateway/internal/gateway_service/domain"
	queuedomain "github.com/bookwise/booking-gateway/internal/queue_service/domain"
	sequence "github.com/bookwise/booking-gateway/internal/sequence_service/app"
)

// IngestorConfig carries the pipeline-entry knobs.
type IngestorConfig struct {
	MaxRetries int
}

// Ingestor is the pipeline entry point: deduplicate, validate ordering, then
// durably enqueue. Once Ingest returns nil the message either sits in the
// queue or was a recognized duplicate; either way the provider's redelivery
// is satisfied.
type Ingestor struct {
	dedup   *dedup.Deduplicator
	tracker *sequence.Tracker
	queue   queuedomain.QueueRepository
	config  IngestorConfig
	logger  *slog.Logger
}

func NewIngestor(
	deduplicator *dedup.Deduplicator,
	tracker *sequence.Tracker,
	queue queuedomain.QueueRepository,
	config IngestorConfig,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		dedup:   deduplicator,
		tracker: tracker,
		queue:   queue,
		config:  config,
		logger:  logger.With("component", "ingestor"),
	}
}

// Ingest runs one message through dedup and sequence validation and enqueues
// it. Duplicates are absorbed silently; a detected gap additionally enqueues
// a delayed re-check item.
func (i *Ingestor) Ingest(ctx context.Context, msg domain.InboundMessage) error {
	logger := i.logger.With("tenant_id", msg.TenantID, "message_id", msg.MessageID, "sender", msg.From)

	check, err := i.dedup.Check(ctx, msg.TenantID, msg.From, msg.MessageID, msg.Text, msg.ProviderTS)
	if err != nil {
		ingestedCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("dedup check: %w", err)
	}
	if check.Duplicate {
		ingestedCounter.WithLabelValues("duplicate").Inc()
		logger.InfoContext(ctx, "Duplicate message absorbed",
			"duplicate_count", check.DuplicateCount, "original_message_id", check.OriginalMessageID)
		return nil
	}

	validation, err := i.tracker.Validate(ctx, msg.TenantID, msg.From, msg.MessageID, msg.ProviderTS)
	if err != nil {
		// Ordering is observability, not admission control. The message still
		// gets queued.
		logger.WarnContext(ctx, "Sequence validation failed", "error", err)
	}

	item := queuedomain.NewQueueItem(
		msg.TenantID, msg.MessageID, msg.From, msg.To, msg.Text,
		queuedomain.PriorityNormal, i.config.MaxRetries,
	)
	item.Metadata[queuedomain.MetaProviderTS] = msg.ProviderTS.UTC().Format(time.RFC3339)

	if _, err := i.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, queuedomain.ErrDuplicateMessage) {
			ingestedCounter.WithLabelValues("duplicate").Inc()
			logger.InfoContext(ctx, "Message already queued")
			return nil
		}
		ingestedCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("enqueue message: %w", err)
	}

	ingestedCounter.WithLabelValues("accepted").Inc()
	logger.InfoContext(ctx, "Message enqueued",
		"sequence_number", validation.SequenceNumber, "gap_detected", validation.GapDetected)

	if err == nil && validation.GapDetected {
		if recheckErr := i.enqueueGapRecheck(ctx, msg); recheckErr != nil {
			logger.ErrorContext(ctx, "Failed to schedule gap re-check", "error", recheckErr)
		}
	}
	return nil
}

// enqueueGapRecheck schedules a durable, delayed re-check of the sender's
// sequence state. One re-check per triggering message; the queue's
// (tenant_id, message_id) uniqueness absorbs redelivery races.
func (i *Ingestor) enqueueGapRecheck(ctx context.Context, msg domain.InboundMessage) error {
	item := queuedomain.NewQueueItem(
		msg.TenantID, "gap-recheck:"+msg.MessageID, msg.From, msg.To, "",
		queuedomain.PriorityLow, i.config.MaxRetries,
	)
	item.Metadata[queuedomain.MetaKind] = queuedomain.KindGapRecheck
	item.ScheduledAt = time.Now().UTC().Add(i.tracker.RecheckDelay())

	if _, err := i.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, queuedomain.ErrDuplicateMessage) {
			return nil
		}
		return err
	}
	gapRechecksScheduledCounter.Inc()
	return nil
}
