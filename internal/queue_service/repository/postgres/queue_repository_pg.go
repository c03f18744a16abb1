package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookwise/booking-gateway/internal/platform/database"
	"github.com/bookwise/booking-gateway/internal/queue_service/domain"
)

type pgQueueRepository struct {
	db     database.Querier
	logger *slog.Logger
}

// NewPgQueueRepository creates the PostgreSQL implementation of QueueRepository.
func NewPgQueueRepository(db database.Querier, logger *slog.Logger) domain.QueueRepository {
	return &pgQueueRepository{db: db, logger: logger}
}

const queueColumns = `id, tenant_id, message_id, from_number, to_number, content, priority, status,
	retry_count, max_retries, scheduled_at, processed_at, error_message, metadata, created_at, updated_at`

func (r *pgQueueRepository) Enqueue(ctx context.Context, item *domain.QueueItem) (uuid.UUID, error) {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal queue item metadata: %w", err)
	}

	query := `
		INSERT INTO queue_items (
			id, tenant_id, message_id, from_number, to_number, content, priority, status,
			retry_count, max_retries, scheduled_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, message_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		item.ID, item.TenantID, item.MessageID, item.FromNumber, item.ToNumber, item.Content,
		item.Priority, item.Status, item.RetryCount, item.MaxRetries, item.ScheduledAt,
		metadata, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error enqueuing item", "error", err, "message_id", item.MessageID)
		return uuid.Nil, err
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, domain.ErrDuplicateMessage
	}
	return item.ID, nil
}

func (r *pgQueueRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	// Single conditional update: an item is claimed only while still pending or
	// retry, so concurrent pollers never both process it. SKIP LOCKED keeps
	// pollers from serializing on each other's batches.
	query := `
		WITH due_item_ids AS (
			SELECT id
			FROM queue_items
			WHERE status IN ($1, $2) AND scheduled_at <= $3
			ORDER BY
				CASE priority
					WHEN 'urgent' THEN 3
					WHEN 'high' THEN 2
					WHEN 'normal' THEN 1
					ELSE 0
				END DESC,
				created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_items qi
		SET status = $5, updated_at = $6
		FROM due_item_ids di
		WHERE qi.id = di.id
		RETURNING ` + qualifiedQueueColumns("qi")

	rows, err := r.db.Query(ctx, query,
		domain.StatusPending, domain.StatusRetry, now, limit, domain.StatusProcessing, time.Now().UTC(),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error acquiring due queue items", "error", err)
		return nil, err
	}
	defer rows.Close()

	var items []*domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error scanning acquired queue item", "error", err)
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrNoDueItems
	}
	return items, nil
}

func (r *pgQueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	query := `
		UPDATE queue_items
		SET status = $1, processed_at = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusCompleted, processedAt, time.Now().UTC(), id, domain.StatusProcessing)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking queue item completed", "error", err, "item_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgQueueRepository) MarkForRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, retryCount int, errorMessage sql.NullString) error {
	query := `
		UPDATE queue_items
		SET status = $1, scheduled_at = $2, retry_count = $3, error_message = $4, processed_at = NULL, updated_at = $5
		WHERE id = $6 AND status = $7
	`
	tag, err := r.db.Exec(ctx, query,
		domain.StatusRetry, nextAttemptAt, retryCount, errorMessage, time.Now().UTC(), id, domain.StatusProcessing,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking queue item for retry", "error", err, "item_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Queue item scheduled for retry", "item_id", id, "next_attempt_at", nextAttemptAt, "retry_count", retryCount)
	return nil
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, processedAt time.Time, errorMessage sql.NullString) error {
	query := `
		UPDATE queue_items
		SET status = $1, processed_at = $2, error_message = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusFailed, processedAt, errorMessage, time.Now().UTC(), id, domain.StatusProcessing)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking queue item failed", "error", err, "item_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.WarnContext(ctx, "Queue item terminally failed", "item_id", id, "error_message", errorMessage.String)
	return nil
}

func (r *pgQueueRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	// An item still processing past the cutoff belongs to a worker that died
	// mid-batch; its retry budget is untouched so the attempt is not counted.
	query := `
		UPDATE queue_items
		SET status = $1, scheduled_at = $2, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query, domain.StatusRetry, now, domain.StatusProcessing, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error releasing stale queue items", "error", err)
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		r.logger.WarnContext(ctx, "Released stale processing items", "count", tag.RowsAffected(), "cutoff", cutoff)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting queue item", "error", err, "item_id", id)
		return nil, err
	}
	return item, nil
}

func qualifiedQueueColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.message_id, ` + alias + `.from_number, ` +
		alias + `.to_number, ` + alias + `.content, ` + alias + `.priority, ` + alias + `.status, ` +
		alias + `.retry_count, ` + alias + `.max_retries, ` + alias + `.scheduled_at, ` + alias + `.processed_at, ` +
		alias + `.error_message, ` + alias + `.metadata, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	item := &domain.QueueItem{}
	var metadata []byte
	err := row.Scan(
		&item.ID, &item.TenantID, &item.MessageID, &item.FromNumber, &item.ToNumber, &item.Content,
		&item.Priority, &item.Status, &item.RetryCount, &item.MaxRetries, &item.ScheduledAt,
		&item.ProcessedAt, &item.ErrorMessage, &metadata, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal queue item metadata: %w", err)
		}
	}
	return item, nil
}
