package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DedupRepository is the persistence contract for deduplication records. The
// store is authoritative so that concurrent workers reach the same duplicate
// decision; any cache in front of it is best-effort only.
type DedupRepository interface {
	// Record upserts the sighting of contentHash in one atomic statement and
	// returns the resulting duplicate count (1 on first sight) plus the
	// original message id. A record whose first sighting predates windowStart
	// is treated as expired and restarted at count 1.
	Record(ctx context.Context, tenantID uuid.UUID, sender, contentHash, messageID string, seenAt, windowStart time.Time) (*DeduplicationRecord, error)

	// DeleteExpired removes records last seen before cutoff and reports how
	// many were deleted.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
