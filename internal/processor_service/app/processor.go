package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	dialog "github.com/bookwise/booking-gateway/internal/dialog_service/app"
	dialogdomain "github.com/bookwise/booking-gateway/internal/dialog_service/domain"
	"github.com/bookwise/booking-gateway/internal/gateway_service/adapters/whatsapp"
	outboxdomain "github.com/bookwise/booking-gateway/internal/outbox_service/domain"
	queuedomain "github.com/bookwise/booking-gateway/internal/queue_service/domain"
)

// DialogTurner runs one conversation turn for an inbound message. Passing the
// external message id lets the dialog service answer a retried item with the
// stored reply instead of advancing the conversation again.
type DialogTurner interface {
	HandleMessage(ctx context.Context, tenantID uuid.UUID, sender, messageID, text string) (dialog.Result, error)
}

// GapRechecker re-reads a sender's sequence state after the re-check delay.
type GapRechecker interface {
	Recheck(ctx context.Context, tenantID uuid.UUID, sender string) (bool, error)
}

// EventPublisher records a domain event in the outbox.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, tenantID uuid.UUID, payload map[string]any) (uuid.UUID, bool, error)
}

// Processor executes queue items: dialog messages drive a conversation turn
// and a reply; gap re-checks re-read sequence state. It also delivers the
// one-time fallback message when an item fails permanently.
type Processor struct {
	dialog  DialogTurner
	tracker GapRechecker
	sender  whatsapp.Sender
	outbox  EventPublisher
	logger  *slog.Logger
}

func NewProcessor(
	dialogService DialogTurner,
	tracker GapRechecker,
	sender whatsapp.Sender,
	outboxPublisher EventPublisher,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		dialog:  dialogService,
		tracker: tracker,
		sender:  sender,
		outbox:  outboxPublisher,
		logger:  logger.With("component", "processor"),
	}
}

// Process dispatches on the item's kind.
func (p *Processor) Process(ctx context.Context, item *queuedomain.QueueItem) error {
	switch kind := item.Kind(); kind {
	case queuedomain.KindMessage:
		return p.processMessage(ctx, item)
	case queuedomain.KindGapRecheck:
		return p.processGapRecheck(ctx, item)
	default:
		// Unknown kinds cannot succeed on retry either.
		return queuedomain.Terminal(fmt.Errorf("unknown queue item kind %q", kind))
	}
}

// processMessage runs one conversation turn and sends the reply. The dialog
// service persists state before the send, so a send failure retries the item;
// on retry the dialog service recognizes the message id and resends the stored
// reply, and the outbox absorbs re-emitted events.
func (p *Processor) processMessage(ctx context.Context, item *queuedomain.QueueItem) error {
	result, err := p.dialog.HandleMessage(ctx, item.TenantID, item.FromNumber, item.MessageID, item.Content)
	if err != nil {
		return fmt.Errorf("dialog turn: %w", err)
	}

	if err := p.sender.SendText(ctx, item.FromNumber, result.Reply); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}

	if result.BookingID != "" {
		p.publishEvent(ctx, outboxdomain.EventBookingCreated, item, map[string]any{
			"booking_id": result.BookingID,
			"session_id": result.SessionID.String(),
			"sender":     item.FromNumber,
		})
	}
	if result.Step == dialogdomain.StepCompleted {
		p.publishEvent(ctx, outboxdomain.EventConversationComplete, item, map[string]any{
			"session_id": result.SessionID.String(),
			"sender":     item.FromNumber,
		})
	}
	return nil
}

func (p *Processor) processGapRecheck(ctx context.Context, item *queuedomain.QueueItem) error {
	resolved, err := p.tracker.Recheck(ctx, item.TenantID, item.FromNumber)
	if err != nil {
		return fmt.Errorf("sequence re-check: %w", err)
	}
	p.logger.InfoContext(ctx, "Sequence gap re-check done",
		"tenant_id", item.TenantID, "sender", item.FromNumber, "resolved", resolved)
	return nil
}

// publishEvent records a domain event; outbox duplicates are no-ops so a
// retried item re-emitting the same event has no downstream effect. An outbox
// failure is logged, not returned: the turn itself succeeded and retrying the
// whole item to re-record an event is worse than a missed notification.
func (p *Processor) publishEvent(ctx context.Context, eventType string, item *queuedomain.QueueItem, payload map[string]any) {
	if _, _, err := p.outbox.Publish(ctx, eventType, item.TenantID, payload); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record outbox event",
			"event_type", eventType, "message_id", item.MessageID, "error", err)
	}
}

// NotifyPermanentFailure sends the single generic fallback message. Called by
// the poller exactly once per permanently failed item.
func (p *Processor) NotifyPermanentFailure(ctx context.Context, item *queuedomain.QueueItem) {
	if item.Kind() != queuedomain.KindMessage {
		return
	}
	if err := p.sender.SendText(ctx, item.FromNumber, dialog.ReplyFallback); err != nil {
		p.logger.ErrorContext(ctx, "Failed to deliver fallback message",
			"message_id", item.MessageID, "sender", item.FromNumber, "error", err)
	}
}
