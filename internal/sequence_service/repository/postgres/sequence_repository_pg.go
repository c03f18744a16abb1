package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookwise/booking-gateway/internal/platform/database"
	"github.com/bookwise/booking-gateway/internal/sequence_service/domain"
)

type pgSequenceRepository struct {
	db     database.Querier
	logger *slog.Logger
}

// NewPgSequenceRepository creates the PostgreSQL implementation of SequenceRepository.
func NewPgSequenceRepository(db database.Querier, logger *slog.Logger) domain.SequenceRepository {
	return &pgSequenceRepository{db: db, logger: logger}
}

func (r *pgSequenceRepository) RecordEntry(ctx context.Context, tenantID uuid.UUID, sender, messageID string, providerTS time.Time) (int64, error) {
	// Insert and count in one round trip. The count excludes the entry itself
	// (strictly earlier timestamps only), so ordinal = count + 1.
	query := `
		WITH ins AS (
			INSERT INTO sequence_entries (tenant_id, sender, message_id, provider_ts, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, sender, message_id) DO NOTHING
		)
		SELECT COUNT(*) FROM sequence_entries
		WHERE tenant_id = $1 AND sender = $2 AND provider_ts < $4 AND message_id <> $3
	`
	var priorCount int64
	err := r.db.QueryRow(ctx, query, tenantID, sender, messageID, providerTS, time.Now().UTC()).Scan(&priorCount)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording sequence entry", "error", err, "sender", sender, "message_id", messageID)
		return 0, err
	}
	return priorCount, nil
}

func (r *pgSequenceRepository) GetState(ctx context.Context, tenantID uuid.UUID, sender string) (*domain.SequenceState, error) {
	query := `
		SELECT tenant_id, sender, sequence_number, expected_next, gap_detected,
		       missing_ordinals, pending_message_ids, version, updated_at
		FROM sequence_states
		WHERE tenant_id = $1 AND sender = $2
	`
	state := &domain.SequenceState{}
	var missing, pending []byte
	err := r.db.QueryRow(ctx, query, tenantID, sender).Scan(
		&state.TenantID, &state.Sender, &state.SequenceNumber, &state.ExpectedNext,
		&state.GapDetected, &missing, &pending, &state.Version, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting sequence state", "error", err, "sender", sender)
		return nil, err
	}
	if len(missing) > 0 {
		if err := json.Unmarshal(missing, &state.MissingOrdinals); err != nil {
			return nil, fmt.Errorf("unmarshal missing ordinals: %w", err)
		}
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &state.PendingMessageIDs); err != nil {
			return nil, fmt.Errorf("unmarshal pending message ids: %w", err)
		}
	}
	return state, nil
}

func (r *pgSequenceRepository) SaveState(ctx context.Context, state *domain.SequenceState) error {
	missing, err := json.Marshal(state.MissingOrdinals)
	if err != nil {
		return fmt.Errorf("marshal missing ordinals: %w", err)
	}
	pending, err := json.Marshal(state.PendingMessageIDs)
	if err != nil {
		return fmt.Errorf("marshal pending message ids: %w", err)
	}

	// Optimistic write: an existing row is only updated when the version the
	// caller loaded is still current.
	query := `
		INSERT INTO sequence_states (tenant_id, sender, sequence_number, expected_next, gap_detected,
		                             missing_ordinals, pending_message_ids, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
		ON CONFLICT (tenant_id, sender) DO UPDATE SET
			sequence_number = EXCLUDED.sequence_number,
			expected_next = EXCLUDED.expected_next,
			gap_detected = EXCLUDED.gap_detected,
			missing_ordinals = EXCLUDED.missing_ordinals,
			pending_message_ids = EXCLUDED.pending_message_ids,
			version = sequence_states.version + 1,
			updated_at = EXCLUDED.updated_at
		WHERE sequence_states.version = $9
	`
	tag, err := r.db.Exec(ctx, query,
		state.TenantID, state.Sender, state.SequenceNumber, state.ExpectedNext, state.GapDetected,
		missing, pending, time.Now().UTC(), state.Version,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error saving sequence state", "error", err, "sender", state.Sender)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}
