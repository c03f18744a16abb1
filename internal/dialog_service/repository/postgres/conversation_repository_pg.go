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

	"github.com/bookwise/booking-gateway/internal/dialog_service/domain"
	"github.com/bookwise/booking-gateway/internal/platform/database"
)

type pgConversationRepository struct {
	db     database.Querier
	logger *slog.Logger
}

// NewPgConversationRepository creates the PostgreSQL implementation of
// ConversationRepository.
func NewPgConversationRepository(db database.Querier, logger *slog.Logger) domain.ConversationRepository {
	return &pgConversationRepository{db: db, logger: logger}
}

var terminalSteps = []string{string(domain.StepCompleted), string(domain.StepCancelled), string(domain.StepError)}

const conversationColumns = `session_id, tenant_id, sender, current_step, context, turns,
	       last_message_id, last_reply, last_activity, closed_at, created_at, updated_at`

func (r *pgConversationRepository) GetActive(ctx context.Context, tenantID uuid.UUID, sender string) (*domain.ConversationState, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND sender = $2 AND NOT (current_step = ANY($3))
		ORDER BY created_at DESC
		LIMIT 1
	`
	conv, err := scanConversation(r.db.QueryRow(ctx, query, tenantID, sender, terminalSteps))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting active conversation", "error", err, "sender", sender)
		return nil, err
	}
	return conv, nil
}

func (r *pgConversationRepository) GetByLastMessage(ctx context.Context, tenantID uuid.UUID, sender, messageID string) (*domain.ConversationState, error) {
	// Terminal conversations match too: replaying the message that closed a
	// conversation must find it.
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND sender = $2 AND last_message_id = $3
		ORDER BY last_activity DESC
		LIMIT 1
	`
	conv, err := scanConversation(r.db.QueryRow(ctx, query, tenantID, sender, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting conversation by last message", "error", err, "sender", sender, "message_id", messageID)
		return nil, err
	}
	return conv, nil
}

func (r *pgConversationRepository) Create(ctx context.Context, conv *domain.ConversationState) error {
	contextJSON, turnsJSON, err := marshalConv(conv)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO conversations (session_id, tenant_id, sender, current_step, context, turns,
		                           last_message_id, last_reply, last_activity, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		conv.SessionID, conv.TenantID, conv.Sender, conv.CurrentStep, contextJSON, turnsJSON,
		conv.LastMessageID, conv.LastReply, conv.LastActivity, conv.ClosedAt, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating conversation", "error", err, "session_id", conv.SessionID)
		return err
	}
	return nil
}

func (r *pgConversationRepository) Update(ctx context.Context, conv *domain.ConversationState, loadedStep domain.Step) error {
	contextJSON, turnsJSON, err := marshalConv(conv)
	if err != nil {
		return err
	}
	var closedAt any
	if conv.CurrentStep.IsTerminal() && !conv.ClosedAt.Valid {
		closedAt = time.Now().UTC()
	} else if conv.ClosedAt.Valid {
		closedAt = conv.ClosedAt.Time
	}
	query := `
		UPDATE conversations
		SET current_step = $1, context = $2, turns = $3, last_message_id = $4, last_reply = $5,
		    last_activity = $6, closed_at = $7, updated_at = $8
		WHERE session_id = $9 AND current_step = $10
	`
	tag, err := r.db.Exec(ctx, query,
		conv.CurrentStep, contextJSON, turnsJSON, conv.LastMessageID, conv.LastReply,
		conv.LastActivity, closedAt, time.Now().UTC(),
		conv.SessionID, loadedStep,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating conversation", "error", err, "session_id", conv.SessionID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleStep
	}
	return nil
}

func (r *pgConversationRepository) CloseIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE conversations
		SET current_step = $1, closed_at = $2, updated_at = $2
		WHERE last_activity < $3 AND NOT (current_step = ANY($4))
	`
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query, domain.StepCancelled, now, cutoff, terminalSteps)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error closing idle conversations", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanConversation(row pgx.Row) (*domain.ConversationState, error) {
	conv := &domain.ConversationState{}
	var contextJSON, turnsJSON []byte
	err := row.Scan(
		&conv.SessionID, &conv.TenantID, &conv.Sender, &conv.CurrentStep, &contextJSON, &turnsJSON,
		&conv.LastMessageID, &conv.LastReply, &conv.LastActivity, &conv.ClosedAt, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &conv.Context); err != nil {
			return nil, fmt.Errorf("unmarshal conversation context: %w", err)
		}
	}
	if len(turnsJSON) > 0 {
		if err := json.Unmarshal(turnsJSON, &conv.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal conversation turns: %w", err)
		}
	}
	return conv, nil
}

func marshalConv(conv *domain.ConversationState) ([]byte, []byte, error) {
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal conversation context: %w", err)
	}
	turnsJSON, err := json.Marshal(conv.Turns)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal conversation turns: %w", err)
	}
	return contextJSON, turnsJSON, nil
}
