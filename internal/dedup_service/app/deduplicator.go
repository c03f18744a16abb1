package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/booking-gateway/internal/dedup_service/domain"
	"github.com/bookwise/booking-gateway/internal/platform/cache"
	"github.com/bookwise/booking-gateway/internal/platform/messagebroker"
)

// AlertSubjectExcessiveDuplicates is the NATS subject for duplicate storms.
const AlertSubjectExcessiveDuplicates = "alerts.dedup.excessive"

// DedupConfig tunes the deduplicator.
type DedupConfig struct {
	Window         time.Duration `mapstructure:"DEDUP_WINDOW"`
	AlertThreshold int           `mapstructure:"DEDUP_ALERT_THRESHOLD"`
	CacheTTL       time.Duration `mapstructure:"DEDUP_CACHE_TTL"`
}

// CheckResult is the outcome of a duplicate check. DuplicateCount is zero
// when the redelivery was absorbed by the cache fast path without a store
// round trip.
type CheckResult struct {
	Duplicate         bool
	DuplicateCount    int
	OriginalMessageID string
}

// Deduplicator rejects provider redeliveries of the same message within a
// bounded window. The persistent store is authoritative; the cache only
// short-circuits redelivery storms once the alert threshold has been crossed.
type Deduplicator struct {
	repo   domain.DedupRepository
	cache  cache.Cache
	broker messagebroker.Publisher
	config DedupConfig
	logger *slog.Logger
}

// NewDeduplicator creates a Deduplicator. broker may be nil (alerts are then
// log-only); cache may be cache.Noop().
func NewDeduplicator(repo domain.DedupRepository, c cache.Cache, broker messagebroker.Publisher, cfg DedupConfig, logger *slog.Logger) *Deduplicator {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if c == nil {
		c = cache.Noop()
	}
	return &Deduplicator{
		repo:   repo,
		cache:  c,
		broker: broker,
		config: cfg,
		logger: logger.With("component", "deduplicator"),
	}
}

// NormalizeContent trims, lowercases and collapses whitespace so trivial
// formatting differences do not defeat deduplication.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// ContentHash builds the dedup key: sender plus normalized content plus the
// provider timestamp bucketed to the minute. The minute bucket keeps two
// independently typed but identical messages minutes apart from colliding
// while still catching redelivery of the literal same event.
func ContentHash(tenantID uuid.UUID, sender, content string, timestamp time.Time) string {
	bucket := timestamp.UTC().Truncate(time.Minute).Unix()
	sum := sha256.Sum256([]byte(tenantID.String() + "|" + sender + "|" + NormalizeContent(content) + "|" + strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(sum[:])
}

// Check records the sighting of a message and reports whether it is a
// redelivery. Duplicates are absorbed silently; crossing the alert threshold
// emits an operational alert indicating provider or client misbehavior and
// writes a short-TTL cache entry so a continued redelivery storm is absorbed
// without touching the store. The store stays authoritative: a cache miss or
// failure only costs the round trip.
func (d *Deduplicator) Check(ctx context.Context, tenantID uuid.UUID, sender, messageID, content string, timestamp time.Time) (CheckResult, error) {
	hash := ContentHash(tenantID, sender, content, timestamp)
	now := time.Now().UTC()

	cacheKey := "dedup:" + hash
	cached, err := d.cache.Get(ctx, cacheKey)
	if err == nil {
		cacheHitsCounter.Inc()
		checksCounter.WithLabelValues("duplicate").Inc()
		d.logger.InfoContext(ctx, "Duplicate message absorbed from cache",
			"tenant_id", tenantID, "sender", sender, "message_id", messageID,
			"original_message_id", cached)
		// The durable count is not incremented on this path; it already
		// crossed the alert threshold when the key was written.
		return CheckResult{Duplicate: true, OriginalMessageID: cached}, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		d.logger.DebugContext(ctx, "Dedup cache get failed", "error", err)
	}

	rec, err := d.repo.Record(ctx, tenantID, sender, hash, messageID, now, now.Add(-d.config.Window))
	if err != nil {
		return CheckResult{}, fmt.Errorf("record dedup sighting: %w", err)
	}

	if rec.DuplicateCount > 1 {
		checksCounter.WithLabelValues("duplicate").Inc()
		d.logger.InfoContext(ctx, "Duplicate message absorbed",
			"tenant_id", tenantID, "sender", sender, "message_id", messageID,
			"duplicate_count", rec.DuplicateCount, "original_message_id", rec.OriginalMessageID)
		if rec.DuplicateCount == d.config.AlertThreshold {
			d.alertExcessiveDuplicates(ctx, rec)
		}
		if rec.DuplicateCount >= d.config.AlertThreshold {
			if err := d.cache.Set(ctx, cacheKey, rec.OriginalMessageID, d.config.CacheTTL); err != nil {
				d.logger.DebugContext(ctx, "Dedup cache set failed", "error", err)
			}
		}
		return CheckResult{Duplicate: true, DuplicateCount: rec.DuplicateCount, OriginalMessageID: rec.OriginalMessageID}, nil
	}

	checksCounter.WithLabelValues("accepted").Inc()
	return CheckResult{Duplicate: false, DuplicateCount: rec.DuplicateCount, OriginalMessageID: rec.OriginalMessageID}, nil
}

// Prune deletes records that fell out of the dedup window.
func (d *Deduplicator) Prune(ctx context.Context) (int64, error) {
	deleted, err := d.repo.DeleteExpired(ctx, time.Now().UTC().Add(-d.config.Window))
	if err != nil {
		return 0, fmt.Errorf("prune dedup records: %w", err)
	}
	if deleted > 0 {
		d.logger.InfoContext(ctx, "Pruned expired dedup records", "deleted", deleted)
	}
	return deleted, nil
}

func (d *Deduplicator) alertExcessiveDuplicates(ctx context.Context, rec *domain.DeduplicationRecord) {
	alertsCounter.Inc()
	d.logger.WarnContext(ctx, "Excessive duplicates for message",
		"tenant_id", rec.TenantID, "sender", rec.Sender,
		"duplicate_count", rec.DuplicateCount, "original_message_id", rec.OriginalMessageID)
	if d.broker == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"tenant_id":           rec.TenantID,
		"sender":              rec.Sender,
		"content_hash":        rec.ContentHash,
		"original_message_id": rec.OriginalMessageID,
		"duplicate_count":     rec.DuplicateCount,
		"first_seen":          rec.FirstSeen,
		"last_seen":           rec.LastSeen,
	})
	if err != nil {
		return
	}
	if err := d.broker.Publish(ctx, AlertSubjectExcessiveDuplicates, payload); err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish dedup alert", "error", err)
	}
}
