package domain

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// QueueRepository is the persistence contract for queue items. The queue
// subsystem exclusively owns writes to status and retry_count; every status
// mutation is conditional on the current status so that two workers can never
// both claim, complete or fail the same item.
type QueueRepository interface {
	// Enqueue inserts the item. A collision on (tenant_id, message_id) returns
	// ErrDuplicateMessage and leaves the existing item untouched.
	Enqueue(ctx context.Context, item *QueueItem) (uuid.UUID, error)

	// AcquireDue atomically claims up to limit items whose status is pending or
	// retry and whose scheduled_at has elapsed, transitioning them to
	// processing. Items come back ordered by priority descending, then
	// created_at ascending. Returns ErrNoDueItems when nothing is ready.
	AcquireDue(ctx context.Context, now time.Time, limit int) ([]*QueueItem, error)

	// MarkCompleted finishes a processing item. Fails with ErrNotFound if the
	// item is not currently processing.
	MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// MarkForRetry schedules a processing item for another attempt.
	MarkForRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, retryCount int, errorMessage sql.NullString) error

	// MarkFailed terminally fails a processing item. Never revisited afterwards.
	MarkFailed(ctx context.Context, id uuid.UUID, processedAt time.Time, errorMessage sql.NullString) error

	// ReleaseStale returns items stuck in processing since before cutoff to
	// retry, so work claimed by a crashed worker is picked up again. Reports
	// how many items were released.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)

	// GetByID fetches a single item, ErrNotFound when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*QueueItem, error)
}
