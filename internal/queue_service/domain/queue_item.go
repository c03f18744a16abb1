package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the lifecycle state of a queue item. Transitions are strictly
// pending/retry -> processing -> completed|failed|retry; completed and failed
// are terminal and never mutated afterwards.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
	StatusRetry      ItemStatus = "retry"
)

// Priority orders items within the queue. Within one priority band items are
// processed oldest first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps a priority to its sort weight; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Well-known metadata keys. Kind selects the processor for an item.
const (
	MetaKind        = "kind"
	KindMessage     = "message"
	KindGapRecheck  = "gap_recheck"
	MetaProviderTS  = "provider_ts"
	MetaMessageText = "text"
)

// QueueItem is one unit of pipeline work, persisted so processing survives
// restarts and can be shared by concurrent workers.
type QueueItem struct {
	ID           uuid.UUID         `json:"id"`
	TenantID     uuid.UUID         `json:"tenant_id"`
	MessageID    string            `json:"message_id"` // provider's id, unique per tenant
	FromNumber   string            `json:"from_number"`
	ToNumber     string            `json:"to_number"`
	Content      string            `json:"content"`
	Priority     Priority          `json:"priority"`
	Status       ItemStatus        `json:"status"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	ProcessedAt  sql.NullTime      `json:"processed_at,omitempty"`
	ErrorMessage sql.NullString    `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Kind returns the item's processing kind, defaulting to a dialog message.
func (i *QueueItem) Kind() string {
	if i.Metadata != nil {
		if k, ok := i.Metadata[MetaKind]; ok && k != "" {
			return k
		}
	}
	return KindMessage
}

// NewQueueItem builds a pending item scheduled for immediate processing.
func NewQueueItem(tenantID uuid.UUID, messageID, from, to, content string, priority Priority, maxRetries int) *QueueItem {
	now := time.Now().UTC()
	return &QueueItem{
		ID:          uuid.New(),
		TenantID:    tenantID,
		MessageID:   messageID,
		FromNumber:  from,
		ToNumber:    to,
		Content:     content,
		Priority:    priority,
		Status:      StatusPending,
		RetryCount:  0,
		MaxRetries:  maxRetries,
		ScheduledAt: now,
		Metadata:    map[string]string{MetaKind: KindMessage},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
