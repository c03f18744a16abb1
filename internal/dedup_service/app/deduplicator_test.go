package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bookwise/booking-gateway/internal/dedup_service/domain"
	"github.com/bookwise/booking-gateway/internal/platform/cache"
	"github.com/bookwise/booking-gateway/internal/platform/messagebroker"
)

type memCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return "", cache.ErrMiss
}

func (c *memCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]string{}
	}
	c.values[key] = value
	return nil
}

func (c *memCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	_, exists := c.values[key]
	c.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

type MockDedupRepository struct {
	mock.Mock
}

func (m *MockDedupRepository) Record(ctx context.Context, tenantID uuid.UUID, sender, contentHash, messageID string, seenAt, windowStart time.Time) (*domain.DeduplicationRecord, error) {
	args := m.Called(ctx, tenantID, sender, contentHash, messageID, seenAt, windowStart)
	if rec := args.Get(0); rec != nil {
		return rec.(*domain.DeduplicationRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDedupRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturingPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "book a haircut", NormalizeContent("  Book   a\tHAIRCUT \n"))
	assert.Equal(t, "", NormalizeContent("   \t\n"))
	assert.Equal(t, "hello", NormalizeContent("Hello"))
}

func TestContentHash(t *testing.T) {
	tenantID := uuid.New()
	base := time.Date(2026, 8, 31, 10, 15, 7, 0, time.UTC)

	t.Run("stable across formatting and within the minute bucket", func(t *testing.T) {
		a := ContentHash(tenantID, "+1000", "Book a Haircut", base)
		b := ContentHash(tenantID, "+1000", "  book   a haircut ", base.Add(40*time.Second))
		assert.Equal(t, a, b)
	})

	t.Run("differs across minute buckets", func(t *testing.T) {
		a := ContentHash(tenantID, "+1000", "book a haircut", base)
		b := ContentHash(tenantID, "+1000", "book a haircut", base.Add(time.Minute))
		assert.NotEqual(t, a, b)
	})

	t.Run("differs per sender and tenant", func(t *testing.T) {
		a := ContentHash(tenantID, "+1000", "hello", base)
		assert.NotEqual(t, a, ContentHash(tenantID, "+1001", "hello", base))
		assert.NotEqual(t, a, ContentHash(uuid.New(), "+1000", "hello", base))
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	ts := time.Now().UTC()

	newDedup := func(repo domain.DedupRepository, c cache.Cache, broker messagebroker.Publisher) *Deduplicator {
		return NewDeduplicator(repo, c, broker, DedupConfig{
			Window:         24 * time.Hour,
			AlertThreshold: 5,
			CacheTTL:       time.Minute,
		}, testLogger())
	}

	t.Run("first sighting is accepted", func(t *testing.T) {
		repo := new(MockDedupRepository)
		repo.On("Record", ctx, tenantID, "+1000", mock.AnythingOfType("string"), "wamid.1",
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return(&domain.DeduplicationRecord{
				TenantID: tenantID, Sender: "+1000", OriginalMessageID: "wamid.1", DuplicateCount: 1,
			}, nil)

		result, err := newDedup(repo, nil, nil).Check(ctx, tenantID, "+1000", "wamid.1", "hello", ts)
		assert.NoError(t, err)
		assert.False(t, result.Duplicate)
		assert.Equal(t, 1, result.DuplicateCount)
	})

	t.Run("redelivery is a duplicate with count 2", func(t *testing.T) {
		repo := new(MockDedupRepository)
		repo.On("Record", ctx, tenantID, "+1000", mock.AnythingOfType("string"), "wamid.1",
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return(&domain.DeduplicationRecord{
				TenantID: tenantID, Sender: "+1000", OriginalMessageID: "wamid.1", DuplicateCount: 2,
			}, nil)

		result, err := newDedup(repo, nil, nil).Check(ctx, tenantID, "+1000", "wamid.1", "hello", ts)
		assert.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Equal(t, 2, result.DuplicateCount)
		assert.Equal(t, "wamid.1", result.OriginalMessageID)
	})

	t.Run("alert fires once when the threshold is crossed", func(t *testing.T) {
		broker := &capturingPublisher{}
		repo := new(MockDedupRepository)
		for _, count := range []int{4, 5, 6} {
			repo.On("Record", ctx, tenantID, "+1000", mock.AnythingOfType("string"), "wamid.1",
				mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
				Return(&domain.DeduplicationRecord{
					TenantID: tenantID, Sender: "+1000", OriginalMessageID: "wamid.1", DuplicateCount: count,
				}, nil).Once()
		}

		dedup := newDedup(repo, nil, broker)
		for i := 0; i < 3; i++ {
			_, err := dedup.Check(ctx, tenantID, "+1000", "wamid.1", "hello", ts)
			assert.NoError(t, err)
		}
		assert.Equal(t, []string{AlertSubjectExcessiveDuplicates}, broker.subjects)
	})

	t.Run("redelivery storm is absorbed by the cache after the alert", func(t *testing.T) {
		repo := new(MockDedupRepository)
		for _, count := range []int{4, 5} {
			repo.On("Record", ctx, tenantID, "+1000", mock.AnythingOfType("string"), "wamid.1",
				mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
				Return(&domain.DeduplicationRecord{
					TenantID: tenantID, Sender: "+1000", OriginalMessageID: "wamid.1", DuplicateCount: count,
				}, nil).Once()
		}

		dedup := newDedup(repo, &memCache{}, &capturingPublisher{})
		// Count 4 stays below the threshold, count 5 crosses it and seeds the
		// cache; everything after that must not reach the store.
		for i := 0; i < 5; i++ {
			result, err := dedup.Check(ctx, tenantID, "+1000", "wamid.1", "hello", ts)
			assert.NoError(t, err)
			assert.True(t, result.Duplicate)
			assert.Equal(t, "wamid.1", result.OriginalMessageID)
		}
		repo.AssertNumberOfCalls(t, "Record", 2)
	})
}
