package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("outbox event not found")

// Event types emitted by the booking pipeline.
const (
	EventBookingCreated       = "booking.created"
	EventConversationComplete = "conversation.completed"
)

// OutboxEvent is a durably recorded domain event awaiting relay to the
// message broker. EventHash is deterministic over (type, tenant, payload), so
// re-publishing the same logical event lands on the unique index and becomes
// a no-op.
type OutboxEvent struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	EventType string
	EventHash string
	Payload   []byte
	CreatedAt time.Time
	RelayedAt *time.Time
}
