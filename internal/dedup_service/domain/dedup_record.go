package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeduplicationRecord tracks one content hash seen from a sender. The first
// sight creates the record with duplicate_count=1; provider redeliveries
// within the window bump the count and last_seen.
type DeduplicationRecord struct {
	TenantID          uuid.UUID `json:"tenant_id"`
	Sender            string    `json:"sender"`
	ContentHash       string    `json:"content_hash"`
	OriginalMessageID string    `json:"original_message_id"`
	DuplicateCount    int       `json:"duplicate_count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
}
