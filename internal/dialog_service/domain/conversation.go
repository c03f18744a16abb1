package domain

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no active conversation exists for a sender.
var ErrNotFound = errors.New("conversation not found")

// ErrStaleStep is returned when a step transition lost against a concurrent
// update; the conversation must be reloaded.
var ErrStaleStep = errors.New("conversation step changed concurrently")

// Step is a dialog state. Transitions happen only along defined edges;
// completed, cancelled and error are terminal.
type Step string

const (
	StepGreeting         Step = "greeting"
	StepServiceSelection Step = "service_selection"
	StepDateTime         Step = "date_time"
	StepConfirmation     Step = "confirmation"
	StepCompleted        Step = "completed"
	StepCancelled        Step = "cancelled"
	StepError            Step = "error"
)

// IsTerminal reports whether the step closes the conversation.
func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepCancelled || s == StepError
}

// Context slot keys.
const (
	SlotService   = "service"
	SlotDate      = "date"
	SlotTime      = "time"
	SlotBookingID = "booking_id"
)

// Direction of a conversation turn.
const (
	TurnInbound  = "in"
	TurnOutbound = "out"
)

// Turn is one message in the conversation history.
type Turn struct {
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// ConversationState is the authoritative dialog record for one sender. One
// active (non-terminal) conversation exists per (tenant, sender); a new one
// starts after closure.
type ConversationState struct {
	SessionID   uuid.UUID         `json:"session_id"`
	TenantID    uuid.UUID         `json:"tenant_id"`
	Sender      string            `json:"sender"`
	CurrentStep Step              `json:"current_step"`
	Context     map[string]string `json:"context"`
	Turns       []Turn            `json:"turns"`
	// LastMessageID and LastReply record the most recently processed external
	// message and the reply it produced, so a retried queue item resends the
	// stored reply instead of advancing the conversation a second time.
	LastMessageID string       `json:"last_message_id,omitempty"`
	LastReply     string       `json:"last_reply,omitempty"`
	LastActivity  time.Time    `json:"last_activity"`
	ClosedAt      sql.NullTime `json:"closed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewConversation opens a fresh greeting conversation.
func NewConversation(tenantID uuid.UUID, sender string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		SessionID:    uuid.New(),
		TenantID:     tenantID,
		Sender:       sender,
		CurrentStep:  StepGreeting,
		Context:      map[string]string{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Slot returns a context slot value, empty string when unset.
func (c *ConversationState) Slot(key string) string {
	if c.Context == nil {
		return ""
	}
	return c.Context[key]
}

// SetSlot records a context slot value.
func (c *ConversationState) SetSlot(key, value string) {
	if c.Context == nil {
		c.Context = map[string]string{}
	}
	c.Context[key] = value
}

// ClearSlot removes a context slot.
func (c *ConversationState) ClearSlot(key string) {
	delete(c.Context, key)
}

// AppendTurn records a message in the ordered history and refreshes activity.
func (c *ConversationState) AppendTurn(direction, text string, at time.Time) {
	c.Turns = append(c.Turns, Turn{Direction: direction, Text: text, At: at})
	c.LastActivity = at
}
