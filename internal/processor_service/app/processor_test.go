package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	dialog "github.com/bookwise/booking-gateway/internal/dialog_service/app"
	dialogdomain "github.com/bookwise/booking-gateway/internal/dialog_service/domain"
	"github.com/bookwise/booking-gateway/internal/gateway_service/adapters/whatsapp"
	queuedomain "github.com/bookwise/booking-gateway/internal/queue_service/domain"
)

type stubDialog struct {
	result dialog.Result
	err    error
}

func (s *stubDialog) HandleMessage(context.Context, uuid.UUID, string, string, string) (dialog.Result, error) {
	return s.result, s.err
}

type stubRechecker struct {
	resolved bool
	err      error
}

func (s *stubRechecker) Recheck(context.Context, uuid.UUID, string) (bool, error) {
	return s.resolved, s.err
}

type recordingOutbox struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingOutbox) Publish(_ context.Context, eventType string, _ uuid.UUID, _ map[string]any) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return uuid.New(), true, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func messageItem() *queuedomain.QueueItem {
	return queuedomain.NewQueueItem(uuid.New(), "wamid.1", "+1000", "+2000", "confirm", queuedomain.PriorityNormal, 3)
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("completed booking turn sends the reply and records both events", func(t *testing.T) {
		sender := new(whatsapp.MockSender)
		sender.On("SendText", ctx, "+1000", "done!").Return(nil)
		outbox := &recordingOutbox{}
		turn := &stubDialog{result: dialog.Result{
			SessionID: uuid.New(),
			Step:      dialogdomain.StepCompleted,
			Reply:     "done!",
			BookingID: "bk-1",
		}}

		proc := NewProcessor(turn, &stubRechecker{}, sender, outbox, testLogger())
		require.NoError(t, proc.Process(ctx, messageItem()))

		sender.AssertExpectations(t)
		assert.Equal(t, []string{"booking.created", "conversation.completed"}, outbox.events)
	})

	t.Run("ordinary turn records no events", func(t *testing.T) {
		sender := new(whatsapp.MockSender)
		sender.On("SendText", ctx, "+1000", mock.AnythingOfType("string")).Return(nil)
		outbox := &recordingOutbox{}
		turn := &stubDialog{result: dialog.Result{Step: dialogdomain.StepDateTime, Reply: "when?"}}

		proc := NewProcessor(turn, &stubRechecker{}, sender, outbox, testLogger())
		require.NoError(t, proc.Process(ctx, messageItem()))
		assert.Empty(t, outbox.events)
	})

	t.Run("dialog failure propagates for retry", func(t *testing.T) {
		turn := &stubDialog{err: errors.New("store down")}
		proc := NewProcessor(turn, &stubRechecker{}, new(whatsapp.MockSender), &recordingOutbox{}, testLogger())

		err := proc.Process(ctx, messageItem())
		require.Error(t, err)
		assert.False(t, queuedomain.IsTerminal(err))
	})

	t.Run("send failure propagates so the turn is retried", func(t *testing.T) {
		sender := new(whatsapp.MockSender)
		sender.On("SendText", ctx, "+1000", "hi").Return(errors.New("provider 500"))
		turn := &stubDialog{result: dialog.Result{Step: dialogdomain.StepGreeting, Reply: "hi"}}

		proc := NewProcessor(turn, &stubRechecker{}, sender, &recordingOutbox{}, testLogger())
		require.Error(t, proc.Process(ctx, messageItem()))
	})

	t.Run("gap recheck items dispatch to the tracker", func(t *testing.T) {
		item := messageItem()
		item.Metadata[queuedomain.MetaKind] = queuedomain.KindGapRecheck

		proc := NewProcessor(&stubDialog{}, &stubRechecker{resolved: true}, new(whatsapp.MockSender), &recordingOutbox{}, testLogger())
		require.NoError(t, proc.Process(ctx, item))
	})

	t.Run("unknown kind is terminal", func(t *testing.T) {
		item := messageItem()
		item.Metadata[queuedomain.MetaKind] = "mystery"

		proc := NewProcessor(&stubDialog{}, &stubRechecker{}, new(whatsapp.MockSender), &recordingOutbox{}, testLogger())
		err := proc.Process(ctx, item)
		require.Error(t, err)
		assert.True(t, queuedomain.IsTerminal(err))
	})
}

func TestNotifyPermanentFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("sends the generic fallback for message items", func(t *testing.T) {
		sender := new(whatsapp.MockSender)
		sender.On("SendText", ctx, "+1000", dialog.ReplyFallback).Return(nil)

		proc := NewProcessor(&stubDialog{}, &stubRechecker{}, sender, &recordingOutbox{}, testLogger())
		proc.NotifyPermanentFailure(ctx, messageItem())
		sender.AssertExpectations(t)
	})

	t.Run("stays silent for gap recheck items", func(t *testing.T) {
		item := messageItem()
		item.Metadata[queuedomain.MetaKind] = queuedomain.KindGapRecheck

		sender := new(whatsapp.MockSender)
		proc := NewProcessor(&stubDialog{}, &stubRechecker{}, sender, &recordingOutbox{}, testLogger())
		proc.NotifyPermanentFailure(ctx, item)
		sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
	})
}
