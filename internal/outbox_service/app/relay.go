package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/bookwise/booking-gateway/internal/outbox_service/domain"
	"github.com/bookwise/booking-gateway/internal/platform/messagebroker"
)

// RelayConfig controls the outbox relay loop.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay drains unrelayed outbox events to the message broker. Subjects are
// derived from the event type: "booking.created" goes to
// "events.booking.created".
type Relay struct {
	repo      domain.OutboxRepository
	publisher messagebroker.Publisher
	config    RelayConfig
	logger    *slog.Logger
}

func NewRelay(repo domain.OutboxRepository, publisher messagebroker.Publisher, config RelayConfig, logger *slog.Logger) *Relay {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Relay{repo: repo, publisher: publisher, config: config, logger: logger.With("component", "outbox_relay")}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "Outbox relay started", "interval", r.config.Interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Outbox relay stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RelayOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Outbox relay pass failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch of unrelayed events. A publish failure leaves
// the event unrelayed for the next pass; delivery is at-least-once and
// consumers deduplicate on event ID.
func (r *Relay) RelayOnce(ctx context.Context) error {
	events, err := r.repo.ListUnrelayed(ctx, r.config.BatchSize)
	if err != nil {
		return err
	}

	for _, ev := range events {
		subject := "events." + ev.EventType
		if err := r.publisher.Publish(ctx, subject, ev.Payload); err != nil {
			eventsRelayedCounter.WithLabelValues(ev.EventType, "error").Inc()
			r.logger.ErrorContext(ctx, "Failed to relay outbox event",
				"event_id", ev.ID, "subject", subject, "error", err)
			continue
		}
		if err := r.repo.MarkRelayed(ctx, ev.ID); err != nil {
			r.logger.ErrorContext(ctx, "Failed to mark outbox event relayed",
				"event_id", ev.ID, "error", err)
			continue
		}
		eventsRelayedCounter.WithLabelValues(ev.EventType, "relayed").Inc()
	}
	return nil
}
