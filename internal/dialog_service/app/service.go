package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bookwise/booking-gateway/internal/dialog_service/adapters/booking"
	"github.com/bookwise/booking-gateway/internal/dialog_service/adapters/intent"
	"github.com/bookwise/booking-gateway/internal/dialog_service/domain"
)

// Result is the outcome of handling one inbound message: exactly one reply to
// send plus the authoritative state the conversation landed in.
type Result struct {
	SessionID uuid.UUID
	Step      domain.Step
	Reply     string
	// BookingID is set when this turn created a booking.
	BookingID string
}

// Service orchestrates the dialog engine around its collaborators: the intent
// classifier, the service catalog and the booking engine. External calls are
// kept outside the FSM decision so failures never half-apply a transition; a
// returned error means nothing was persisted and the message can be retried.
type Service struct {
	repo       domain.ConversationRepository
	engine     *Engine
	classifier intent.Classifier
	catalog    Catalog
	booking    booking.Engine
	logger     *slog.Logger
}

// NewService creates a dialog Service.
func NewService(
	repo domain.ConversationRepository,
	engine *Engine,
	classifier intent.Classifier,
	catalog Catalog,
	bookingEngine booking.Engine,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		engine:     engine,
		classifier: classifier,
		catalog:    catalog,
		booking:    bookingEngine,
		logger:     logger.With("component", "dialog_service"),
	}
}

// HandleMessage advances the sender's conversation with one message and
// returns the single reply to send. A terminal previous conversation means a
// fresh greeting conversation starts here. A messageID the conversation has
// already processed is a replay: the stored reply is returned unchanged and
// the FSM does not advance, so retried queue items never double-apply a turn.
func (s *Service) HandleMessage(ctx context.Context, tenantID uuid.UUID, sender, messageID, text string) (Result, error) {
	timer := prometheus.NewTimer(turnDurationHist)
	defer timer.ObserveDuration()

	if messageID != "" {
		if result, ok, err := s.replayedResult(ctx, tenantID, sender, messageID); err != nil {
			return Result{}, err
		} else if ok {
			return result, nil
		}
	}

	conv, loadedStep, err := s.loadOrCreate(ctx, tenantID, sender)
	if err != nil {
		return Result{}, err
	}
	logger := s.logger.With("session_id", conv.SessionID, "sender", sender, "step", loadedStep)

	detected, confidence, err := s.classifier.Classify(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("classify intent: %w", err)
	}

	services, err := s.catalog.ListServices(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("list services: %w", err)
	}

	decision := s.engine.Advance(conv, text, detected, services)

	bookingID := ""
	if decision.RequestBooking {
		decision, bookingID, err = s.performBooking(ctx, conv, decision)
		if err != nil {
			return Result{}, err
		}
	}

	now := time.Now().UTC()
	conv.AppendTurn(domain.TurnInbound, text, now)
	for _, slot := range decision.ClearSlots {
		conv.ClearSlot(slot)
	}
	for k, v := range decision.ContextPatch {
		conv.SetSlot(k, v)
	}
	conv.CurrentStep = decision.NextStep
	conv.AppendTurn(domain.TurnOutbound, decision.Reply, now)
	conv.LastMessageID = messageID
	conv.LastReply = decision.Reply

	if err := s.repo.Update(ctx, conv, loadedStep); err != nil {
		if errors.Is(err, domain.ErrStaleStep) {
			// Another worker advanced this conversation; retrying re-reads the
			// fresh state and the booking idempotency key absorbs any repeat.
			return Result{}, fmt.Errorf("conversation moved concurrently: %w", err)
		}
		return Result{}, fmt.Errorf("persist conversation: %w", err)
	}

	transitionsCounter.WithLabelValues(string(loadedStep), string(decision.NextStep)).Inc()
	logger.InfoContext(ctx, "Conversation advanced",
		"next_step", decision.NextStep, "intent", detected, "confidence", confidence,
		"booking_id", bookingID)

	return Result{
		SessionID: conv.SessionID,
		Step:      decision.NextStep,
		Reply:     decision.Reply,
		BookingID: bookingID,
	}, nil
}

func (s *Service) loadOrCreate(ctx context.Context, tenantID uuid.UUID, sender string) (*domain.ConversationState, domain.Step, error) {
	conv, err := s.repo.GetActive(ctx, tenantID, sender)
	if err == nil {
		return conv, conv.CurrentStep, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("load conversation: %w", err)
	}

	conv = domain.NewConversation(tenantID, sender)
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, "", fmt.Errorf("create conversation: %w", err)
	}
	conversationsOpenedCounter.Inc()
	return conv, conv.CurrentStep, nil
}

// replayedResult reproduces the outcome of a turn that already ran. Terminal
// conversations are matched too: retrying the message that completed a booking
// must resend the confirmation, not open a fresh greeting.
func (s *Service) replayedResult(ctx context.Context, tenantID uuid.UUID, sender, messageID string) (Result, bool, error) {
	conv, err := s.repo.GetByLastMessage(ctx, tenantID, sender, messageID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("look up replayed message: %w", err)
	}

	turnsReplayedCounter.Inc()
	s.logger.InfoContext(ctx, "Replayed message, resending stored reply",
		"session_id", conv.SessionID, "sender", sender, "message_id", messageID, "step", conv.CurrentStep)

	bookingID := ""
	if conv.CurrentStep == domain.StepCompleted {
		bookingID = conv.Slot(domain.SlotBookingID)
	}
	return Result{
		SessionID: conv.SessionID,
		Step:      conv.CurrentStep,
		Reply:     conv.LastReply,
		BookingID: bookingID,
	}, true, nil
}

// performBooking invokes the booking engine and folds the outcome back into a
// decision. Validation rejections are conversational; anything else is a
// retryable failure that leaves the conversation untouched.
func (s *Service) performBooking(ctx context.Context, conv *domain.ConversationState, decision Decision) (Decision, string, error) {
	req := booking.Request{
		IdempotencyKey: conv.SessionID.String(),
		TenantID:       conv.TenantID,
		Sender:         conv.Sender,
		Service:        conv.Slot(domain.SlotService),
		Date:           conv.Slot(domain.SlotDate),
		Time:           conv.Slot(domain.SlotTime),
	}
	b, err := s.booking.CreateBooking(ctx, req)
	if err != nil {
		if errors.Is(err, booking.ErrValidation) {
			bookingsCounter.WithLabelValues("rejected").Inc()
			decision.NextStep = domain.StepConfirmation
			decision.Reply = replyBookingRejected
			decision.RequestBooking = false
			return decision, "", nil
		}
		bookingsCounter.WithLabelValues("error").Inc()
		return decision, "", fmt.Errorf("create booking: %w", err)
	}

	bookingsCounter.WithLabelValues("created").Inc()
	decision.NextStep = domain.StepCompleted
	decision.Reply = fmt.Sprintf(replyBooked, b.ID)
	decision.ContextPatch = map[string]string{domain.SlotBookingID: b.ID}
	decision.RequestBooking = false
	return decision, b.ID, nil
}

// CloseIdle cancels conversations whose last activity predates the timeout.
// Run periodically by the pipeline worker.
func (s *Service) CloseIdle(ctx context.Context, idleTimeout time.Duration) (int64, error) {
	closed, err := s.repo.CloseIdle(ctx, time.Now().UTC().Add(-idleTimeout))
	if err != nil {
		return 0, fmt.Errorf("close idle conversations: %w", err)
	}
	if closed > 0 {
		s.logger.InfoContext(ctx, "Closed idle conversations", "count", closed)
	}
	return closed, nil
}
