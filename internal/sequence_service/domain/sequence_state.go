package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no state exists for a (tenant, sender).
	ErrNotFound = errors.New("sequence state not found")

	// ErrStaleState is returned by an optimistic save that lost a concurrent
	// update; the caller reloads and retries.
	ErrStaleState = errors.New("sequence state was modified concurrently")
)

// SequenceState holds the per-(tenant, sender) message ordering bookkeeping.
// SequenceNumber is monotonic and never decreases.
type SequenceState struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	Sender          string    `json:"sender"`
	SequenceNumber  int64     `json:"sequence_number"`
	ExpectedNext    int64     `json:"expected_next"`
	GapDetected     bool      `json:"gap_detected"`
	MissingOrdinals []int64   `json:"missing_ordinals,omitempty"`
	// PendingMessageIDs are the out-of-order message ids awaiting resolution.
	PendingMessageIDs []string  `json:"pending_message_ids,omitempty"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ValidationResult reports how one message landed relative to the expected
// ordering. Ordering violations are observability signals, never rejections.
type ValidationResult struct {
	SequenceNumber int64   `json:"sequence_number"`
	InOrder        bool    `json:"in_order"`
	GapDetected    bool    `json:"gap_detected"`
	Missing        []int64 `json:"missing,omitempty"`
}
