package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConversationRepository persists conversation state. Step transitions are
// conditional on the previously loaded step so concurrent workers can never
// half-apply a transition.
type ConversationRepository interface {
	// GetActive loads the sender's non-terminal conversation, ErrNotFound when
	// none exists (terminal conversations are never returned).
	GetActive(ctx context.Context, tenantID uuid.UUID, sender string) (*ConversationState, error)

	// GetByLastMessage loads the sender's most recent conversation whose last
	// processed message is messageID, terminal or not. ErrNotFound when no
	// conversation recorded that message as its latest turn.
	GetByLastMessage(ctx context.Context, tenantID uuid.UUID, sender, messageID string) (*ConversationState, error)

	// Create inserts a new conversation.
	Create(ctx context.Context, conv *ConversationState) error

	// Update persists the conversation, guarded by the step it had when
	// loaded. Returns ErrStaleStep when the guard fails.
	Update(ctx context.Context, conv *ConversationState, loadedStep Step) error

	// CloseIdle cancels non-terminal conversations whose last activity
	// predates cutoff and reports how many were closed.
	CloseIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
