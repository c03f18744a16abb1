// Package booking adapts the external booking/reservation engine. The dialog
// pipeline hands it a completed conversation context and receives a booking id
// or a validation error back.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrValidation marks a booking rejected by business rules. It is a
// conversational outcome (the user is asked again), never a retryable failure.
var ErrValidation = errors.New("booking validation failed")

// Request carries the accumulated dialog context. IdempotencyKey is the
// conversation session id: repeated confirmation of the same conversation must
// not create a second booking.
type Request struct {
	IdempotencyKey string
	TenantID       uuid.UUID
	Sender         string
	Service        string
	Date           string
	Time           string
}

// Booking is the engine's answer.
type Booking struct {
	ID string
}

// Engine creates bookings from completed dialog contexts.
type Engine interface {
	CreateBooking(ctx context.Context, req Request) (Booking, error)
}

// InMemoryEngine is a self-contained engine implementation, idempotent on the
// request's idempotency key. Production deployments swap in a client for the
// reservation backend behind the same interface.
type InMemoryEngine struct {
	mu     sync.Mutex
	byKey  map[string]Booking
	logger *slog.Logger
}

// NewInMemoryEngine creates an InMemoryEngine.
func NewInMemoryEngine(logger *slog.Logger) *InMemoryEngine {
	return &InMemoryEngine{
		byKey:  make(map[string]Booking),
		logger: logger.With("component", "booking_engine"),
	}
}

// CreateBooking validates the context and returns a booking id, returning the
// previously created booking for a repeated idempotency key.
func (e *InMemoryEngine) CreateBooking(ctx context.Context, req Request) (Booking, error) {
	if req.Service == "" || req.Date == "" || req.Time == "" {
		return Booking{}, ErrValidation
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.byKey[req.IdempotencyKey]; ok {
		return existing, nil
	}
	b := Booking{ID: uuid.NewString()}
	e.byKey[req.IdempotencyKey] = b
	e.logger.InfoContext(ctx, "Booking created",
		"booking_id", b.ID, "tenant_id", req.TenantID, "sender", req.Sender,
		"service", req.Service, "date", req.Date, "time", req.Time)
	return b, nil
}
