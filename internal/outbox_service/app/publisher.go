package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/booking-gateway/internal/outbox_service/domain"
)

// Publisher records domain events in the outbox exactly once per logical
// event. The hash over (type, tenant, canonical payload) makes re-publishing
// from a retried queue item a harmless no-op.
type Publisher struct {
	repo   domain.OutboxRepository
	logger *slog.Logger
}

func NewPublisher(repo domain.OutboxRepository, logger *slog.Logger) *Publisher {
	return &Publisher{repo: repo, logger: logger.With("component", "outbox_publisher")}
}

// Publish stores the event. published is false when an identical event was
// already recorded; that is a success, not an error.
func (p *Publisher) Publish(ctx context.Context, eventType string, tenantID uuid.UUID, payload map[string]any) (uuid.UUID, bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("encoding event payload: %w", err)
	}

	event := &domain.OutboxEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EventType: eventType,
		EventHash: EventHash(eventType, tenantID, payload),
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}

	id, inserted, err := p.repo.Insert(ctx, event)
	if err != nil {
		return uuid.Nil, false, err
	}
	if inserted {
		eventsPublishedCounter.WithLabelValues(eventType, "recorded").Inc()
	} else {
		eventsPublishedCounter.WithLabelValues(eventType, "duplicate").Inc()
		p.logger.DebugContext(ctx, "Duplicate outbox event suppressed",
			"event_type", eventType, "event_id", id)
	}
	return id, inserted, nil
}

// EventHash computes the deterministic identity of an event. Payload keys are
// canonicalized by sorting so field order never changes the hash.
func EventHash(eventType string, tenantID uuid.UUID, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(eventType)
	b.WriteByte('|')
	b.WriteString(tenantID.String())
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, payload[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
