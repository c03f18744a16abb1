package app

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dedupapp "github.com/bookwise/booking-gateway/internal/dedup_service/app"
	dedupdomain "github.com/bookwise/booking-gateway/internal/dedup_service/domain"
	"github.com/bookwise/booking-gateway/internal/gateway_service/domain"
	queuedomain "github.com/bookwise/booking-gateway/internal/queue_service/domain"
	sequenceapp "github.com/bookwise/booking-gateway/internal/sequence_service/app"
	sequencedomain "github.com/bookwise/booking-gateway/internal/sequence_service/domain"
)

// In-memory collaborators; the ingestor test exercises the real dedup and
// sequence logic end to end.

type memDedupRepo struct {
	records map[string]*dedupdomain.DeduplicationRecord
}

func (m *memDedupRepo) Record(_ context.Context, tenantID uuid.UUID, sender, hash, messageID string, seenAt, _ time.Time) (*dedupdomain.DeduplicationRecord, error) {
	if m.records == nil {
		m.records = make(map[string]*dedupdomain.DeduplicationRecord)
	}
	rec, ok := m.records[hash]
	if !ok {
		rec = &dedupdomain.DeduplicationRecord{
			TenantID: tenantID, Sender: sender, ContentHash: hash,
			OriginalMessageID: messageID, DuplicateCount: 1, FirstSeen: seenAt, LastSeen: seenAt,
		}
		m.records[hash] = rec
	} else {
		rec.DuplicateCount++
		rec.LastSeen = seenAt
	}
	return rec, nil
}

func (m *memDedupRepo) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type memSequenceRepo struct {
	entries map[string]time.Time
	state   *sequencedomain.SequenceState
}

func (m *memSequenceRepo) RecordEntry(_ context.Context, _ uuid.UUID, _, messageID string, ts time.Time) (int64, error) {
	if m.entries == nil {
		m.entries = make(map[string]time.Time)
	}
	m.entries[messageID] = ts
	var prior int64
	for id, entryTS := range m.entries {
		if id != messageID && entryTS.Before(ts) {
			prior++
		}
	}
	return prior, nil
}

func (m *memSequenceRepo) GetState(context.Context, uuid.UUID, string) (*sequencedomain.SequenceState, error) {
	if m.state == nil {
		return nil, sequencedomain.ErrNotFound
	}
	clone := *m.state
	return &clone, nil
}

func (m *memSequenceRepo) SaveState(_ context.Context, state *sequencedomain.SequenceState) error {
	clone := *state
	clone.Version = state.Version + 1
	m.state = &clone
	return nil
}

type memQueueRepo struct {
	items []*queuedomain.QueueItem
}

func (m *memQueueRepo) Enqueue(_ context.Context, item *queuedomain.QueueItem) (uuid.UUID, error) {
	for _, existing := range m.items {
		if existing.TenantID == item.TenantID && existing.MessageID == item.MessageID {
			return uuid.Nil, queuedomain.ErrDuplicateMessage
		}
	}
	m.items = append(m.items, item)
	return item.ID, nil
}

func (m *memQueueRepo) AcquireDue(context.Context, time.Time, int) ([]*queuedomain.QueueItem, error) {
	return nil, queuedomain.ErrNoDueItems
}
func (m *memQueueRepo) MarkCompleted(context.Context, uuid.UUID, time.Time) error { return nil }
func (m *memQueueRepo) MarkForRetry(context.Context, uuid.UUID, time.Time, int, sql.NullString) error {
	return nil
}
func (m *memQueueRepo) MarkFailed(context.Context, uuid.UUID, time.Time, sql.NullString) error {
	return nil
}
func (m *memQueueRepo) ReleaseStale(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memQueueRepo) GetByID(context.Context, uuid.UUID) (*queuedomain.QueueItem, error) {
	return nil, queuedomain.ErrNotFound
}

func newTestIngestor(queue *memQueueRepo, seqRepo *memSequenceRepo) *Ingestor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dedup := dedupapp.NewDeduplicator(&memDedupRepo{}, nil, nil, dedupapp.DedupConfig{}, logger)
	tracker := sequenceapp.NewTracker(seqRepo, nil, sequenceapp.TrackerConfig{RecheckDelay: 5 * time.Minute}, logger)
	return NewIngestor(dedup, tracker, queue, IngestorConfig{MaxRetries: 3}, logger)
}

func inbound(tenantID uuid.UUID, messageID, text string, ts time.Time) domain.InboundMessage {
	return domain.InboundMessage{
		TenantID: tenantID, MessageID: messageID, From: "+1000", To: "+2000",
		Text: text, ProviderTS: ts,
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	base := time.Now().UTC()

	t.Run("accepted message lands in the queue once", func(t *testing.T) {
		queue := &memQueueRepo{}
		ing := newTestIngestor(queue, &memSequenceRepo{})

		require.NoError(t, ing.Ingest(ctx, inbound(tenantID, "wamid.1", "book a haircut", base)))
		require.Len(t, queue.items, 1)
		item := queue.items[0]
		assert.Equal(t, "wamid.1", item.MessageID)
		assert.Equal(t, queuedomain.KindMessage, item.Kind())
		assert.Equal(t, queuedomain.StatusPending, item.Status)
	})

	t.Run("redelivery is absorbed without a second queue item", func(t *testing.T) {
		queue := &memQueueRepo{}
		ing := newTestIngestor(queue, &memSequenceRepo{})
		msg := inbound(tenantID, "wamid.1", "book a haircut", base)

		require.NoError(t, ing.Ingest(ctx, msg))
		require.NoError(t, ing.Ingest(ctx, msg))
		assert.Len(t, queue.items, 1)
	})

	t.Run("a sequence gap schedules a delayed low-priority recheck", func(t *testing.T) {
		queue := &memQueueRepo{}
		// The ledger already knows about a message that has not been delivered
		// yet, so the next arrival computes past the expected ordinal.
		seqRepo := &memSequenceRepo{entries: map[string]time.Time{"m2-undelivered": base.Add(2 * time.Second)}}
		ing := newTestIngestor(queue, seqRepo)

		require.NoError(t, ing.Ingest(ctx, inbound(tenantID, "m1", "first", base.Add(1*time.Second))))
		require.NoError(t, ing.Ingest(ctx, inbound(tenantID, "m3", "third", base.Add(3*time.Second))))

		require.Len(t, queue.items, 3)
		recheck := queue.items[2]
		assert.Equal(t, queuedomain.KindGapRecheck, recheck.Kind())
		assert.Equal(t, queuedomain.PriorityLow, recheck.Priority)
		assert.Equal(t, "gap-recheck:m3", recheck.MessageID)
		assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), recheck.ScheduledAt, 5*time.Second)
	})
}
