package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bookwise/booking-gateway/internal/queue_service/domain"
)

type MockQueueRepository struct {
	mock.Mock
}

func (m *MockQueueRepository) Enqueue(ctx context.Context, item *domain.QueueItem) (uuid.UUID, error) {
	args := m.Called(ctx, item)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockQueueRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	args := m.Called(ctx, now, limit)
	if items := args.Get(0); items != nil {
		return items.([]*domain.QueueItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	args := m.Called(ctx, id, processedAt)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkForRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, retryCount int, errorMessage sql.NullString) error {
	args := m.Called(ctx, id, nextAttemptAt, retryCount, errorMessage)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, processedAt time.Time, errorMessage sql.NullString) error {
	args := m.Called(ctx, id, processedAt, errorMessage)
	return args.Error(0)
}

func (m *MockQueueRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	args := m.Called(ctx, id)
	if item := args.Get(0); item != nil {
		return item.(*domain.QueueItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoff(t *testing.T) {
	scheduler := NewRetryScheduler(new(MockQueueRepository), RetryConfig{
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Minute,
	}, testLogger())

	t.Run("doubles per retry until the cap", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, scheduler.Backoff(0))
		assert.Equal(t, 2*time.Second, scheduler.Backoff(1))
		assert.Equal(t, 4*time.Second, scheduler.Backoff(2))
		assert.Equal(t, 64*time.Second, scheduler.Backoff(6))
		assert.Equal(t, 256*time.Second, scheduler.Backoff(8))
	})

	t.Run("strictly increases then stays at the cap", func(t *testing.T) {
		prev := time.Duration(0)
		capped := false
		for count := 0; count < 20; count++ {
			delay := scheduler.Backoff(count)
			if capped {
				assert.Equal(t, 5*time.Minute, delay)
				continue
			}
			assert.Greater(t, delay, prev, "delay must grow until the cap (retry %d)", count)
			prev = delay
			if delay == 5*time.Minute {
				capped = true
			}
		}
		assert.True(t, capped, "cap never reached")
	})
}

func TestOnFailure(t *testing.T) {
	ctx := context.Background()
	procErr := errors.New("classifier timeout")

	t.Run("reschedules with incremented retry count", func(t *testing.T) {
		repo := new(MockQueueRepository)
		scheduler := NewRetryScheduler(repo, RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Minute}, testLogger())
		item := domain.NewQueueItem(uuid.New(), "wamid.1", "+1000", "+2000", "hi", domain.PriorityNormal, 3)
		item.RetryCount = 1

		repo.On("MarkForRetry", ctx, item.ID, mock.AnythingOfType("time.Time"), 2, mock.Anything).Return(nil)

		disposition, err := scheduler.OnFailure(ctx, item, procErr)
		assert.NoError(t, err)
		assert.Equal(t, DispositionRescheduled, disposition)
		repo.AssertExpectations(t)
	})

	t.Run("fails permanently once the budget is exhausted", func(t *testing.T) {
		repo := new(MockQueueRepository)
		scheduler := NewRetryScheduler(repo, RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Minute}, testLogger())
		item := domain.NewQueueItem(uuid.New(), "wamid.2", "+1000", "+2000", "hi", domain.PriorityNormal, 3)
		item.RetryCount = 3

		repo.On("MarkFailed", ctx, item.ID, mock.AnythingOfType("time.Time"), mock.Anything).Return(nil)

		disposition, err := scheduler.OnFailure(ctx, item, procErr)
		assert.NoError(t, err)
		assert.Equal(t, DispositionFailed, disposition)
		repo.AssertNotCalled(t, "MarkForRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})

	t.Run("terminal errors skip the retry budget", func(t *testing.T) {
		repo := new(MockQueueRepository)
		scheduler := NewRetryScheduler(repo, RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Minute}, testLogger())
		item := domain.NewQueueItem(uuid.New(), "wamid.3", "+1000", "+2000", "hi", domain.PriorityNormal, 3)

		repo.On("MarkFailed", ctx, item.ID, mock.AnythingOfType("time.Time"), mock.Anything).Return(nil)

		disposition, err := scheduler.OnFailure(ctx, item, domain.Terminal(procErr))
		assert.NoError(t, err)
		assert.Equal(t, DispositionFailed, disposition)
		repo.AssertExpectations(t)
	})

	t.Run("reports lost when another worker moved the item", func(t *testing.T) {
		repo := new(MockQueueRepository)
		scheduler := NewRetryScheduler(repo, RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Minute}, testLogger())
		item := domain.NewQueueItem(uuid.New(), "wamid.4", "+1000", "+2000", "hi", domain.PriorityNormal, 3)

		repo.On("MarkForRetry", ctx, item.ID, mock.AnythingOfType("time.Time"), 1, mock.Anything).Return(domain.ErrNotFound)

		disposition, err := scheduler.OnFailure(ctx, item, procErr)
		assert.NoError(t, err)
		assert.Equal(t, DispositionLost, disposition)
	})
}
