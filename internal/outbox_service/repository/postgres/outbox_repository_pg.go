package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookwise/booking-gateway/internal/outbox_service/domain"
	"github.com/bookwise/booking-gateway/internal/platform/database"
)

// PgOutboxRepository implements domain.OutboxRepository using pgx.
type PgOutboxRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgOutboxRepository(db database.Querier, logger *slog.Logger) *PgOutboxRepository {
	return &PgOutboxRepository{db: db, logger: logger.With("component", "outbox_repository")}
}

// Insert writes the event, relying on the unique index on event_hash for
// idempotency. A hash collision returns the existing row's ID with
// inserted=false.
func (r *PgOutboxRepository) Insert(ctx context.Context, event *domain.OutboxEvent) (uuid.UUID, bool, error) {
	query := `
		INSERT INTO outbox_events (id, tenant_id, event_type, event_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_hash) DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query,
		event.ID, event.TenantID, event.EventType, event.EventHash, event.Payload, event.CreatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("inserting outbox event: %w", err)
	}

	// Conflict: fetch the existing event's ID.
	err = r.db.QueryRow(ctx,
		`SELECT id FROM outbox_events WHERE event_hash = $1`, event.EventHash,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("looking up existing outbox event: %w", err)
	}
	return id, false, nil
}

// ListUnrelayed returns the oldest unrelayed events. Delivery is
// at-least-once: two relay instances may list the same event and both publish
// it; consumers deduplicate on event ID and the conditional MarkRelayed keeps
// the stamp single-writer.
func (r *PgOutboxRepository) ListUnrelayed(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT id, tenant_id, event_type, event_hash, payload, created_at, relayed_at
		FROM outbox_events
		WHERE relayed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unrelayed outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.EventType, &ev.EventHash, &ev.Payload, &ev.CreatedAt, &ev.RelayedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *PgOutboxRepository) MarkRelayed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE outbox_events SET relayed_at = $1 WHERE id = $2 AND relayed_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking outbox event relayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
