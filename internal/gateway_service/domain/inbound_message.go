package domain

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is a normalized provider message. It is transient: the
// gateway converts it into a durable queue item and never persists it on its
// own.
type InboundMessage struct {
	TenantID   uuid.UUID
	MessageID  string
	From       string
	To         string
	Text       string
	ProviderTS time.Time
}
