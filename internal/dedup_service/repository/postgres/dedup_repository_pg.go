package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/booking-gateway/internal/dedup_service/domain"
	"github.com/bookwise/booking-gateway/internal/platform/database"
)

type pgDedupRepository struct {
	db     database.Querier
	logger *slog.Logger
}

// NewPgDedupRepository creates the PostgreSQL implementation of DedupRepository.
func NewPgDedupRepository(db database.Querier, logger *slog.Logger) domain.DedupRepository {
	return &pgDedupRepository{db: db, logger: logger}
}

func (r *pgDedupRepository) Record(ctx context.Context, tenantID uuid.UUID, sender, contentHash, messageID string, seenAt, windowStart time.Time) (*domain.DeduplicationRecord, error) {
	// One atomic upsert so concurrent workers agree on the count. An expired
	// record (first sighting before windowStart) restarts at count 1 rather
	// than flagging a fresh message as a duplicate of stale history.
	query := `
		INSERT INTO dedup_records (tenant_id, sender, content_hash, original_message_id, duplicate_count, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (tenant_id, sender, content_hash) DO UPDATE SET
			duplicate_count = CASE
				WHEN dedup_records.first_seen >= $6 THEN dedup_records.duplicate_count + 1
				ELSE 1
			END,
			original_message_id = CASE
				WHEN dedup_records.first_seen >= $6 THEN dedup_records.original_message_id
				ELSE EXCLUDED.original_message_id
			END,
			first_seen = CASE
				WHEN dedup_records.first_seen >= $6 THEN dedup_records.first_seen
				ELSE EXCLUDED.first_seen
			END,
			last_seen = EXCLUDED.last_seen
		RETURNING tenant_id, sender, content_hash, original_message_id, duplicate_count, first_seen, last_seen
	`
	rec := &domain.DeduplicationRecord{}
	err := r.db.QueryRow(ctx, query, tenantID, sender, contentHash, messageID, seenAt, windowStart).Scan(
		&rec.TenantID, &rec.Sender, &rec.ContentHash, &rec.OriginalMessageID,
		&rec.DuplicateCount, &rec.FirstSeen, &rec.LastSeen,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording dedup sighting", "error", err, "content_hash", contentHash)
		return nil, err
	}
	return rec, nil
}

func (r *pgDedupRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM dedup_records WHERE last_seen < $1`, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting expired dedup records", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
