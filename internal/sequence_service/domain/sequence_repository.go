package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SequenceRepository persists sequence states plus the per-sender entry ledger
// ordinals are derived from.
type SequenceRepository interface {
	// RecordEntry stores the sighting of messageID with its provider timestamp
	// and returns how many of the sender's entries carry a strictly earlier
	// timestamp (the message's ordinal minus one). Re-recording the same
	// message id is a no-op for the ledger but still returns the count.
	RecordEntry(ctx context.Context, tenantID uuid.UUID, sender, messageID string, providerTS time.Time) (int64, error)

	// GetState loads the state for (tenant, sender), ErrNotFound when absent.
	GetState(ctx context.Context, tenantID uuid.UUID, sender string) (*SequenceState, error)

	// SaveState upserts the state. For an existing row the write only succeeds
	// if state.Version still matches the stored version; otherwise
	// ErrStaleState is returned and the caller must reload. On success the
	// stored version is incremented.
	SaveState(ctx context.Context, state *SequenceState) error
}
