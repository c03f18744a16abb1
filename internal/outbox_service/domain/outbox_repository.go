package domain

import (
	"context"

	"github.com/google/uuid"
)

// OutboxRepository persists outbox events.
type OutboxRepository interface {
	// Insert stores the event. When an event with the same hash already
	// exists, inserted is false and the existing event's ID is returned.
	Insert(ctx context.Context, event *OutboxEvent) (id uuid.UUID, inserted bool, err error)
	// ListUnrelayed returns up to limit events not yet relayed, oldest first.
	// No claim is taken: concurrent relay instances may both publish an event
	// (delivery is at-least-once) and the conditional MarkRelayed settles who
	// stamps it.
	ListUnrelayed(ctx context.Context, limit int) ([]*OutboxEvent, error)
	// MarkRelayed stamps relayed_at on the event. ErrNotFound when the event
	// is missing or already stamped.
	MarkRelayed(ctx context.Context, id uuid.UUID) error
}
