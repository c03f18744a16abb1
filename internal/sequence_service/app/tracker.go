package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/booking-gateway/internal/platform/messagebroker"
	"github.com/bookwise/booking-gateway/internal/sequence_service/domain"
)

// AlertSubjectSequenceGap is the NATS subject for unresolved ordering gaps.
const AlertSubjectSequenceGap = "alerts.sequence.gap"

// saveAttempts bounds optimistic-save retries before giving up the update.
const saveAttempts = 3

// TrackerConfig tunes the sequence tracker.
type TrackerConfig struct {
	RecheckDelay time.Duration `mapstructure:"SEQUENCE_RECHECK_DELAY"`
}

// Tracker assigns a monotonically increasing per-(tenant, sender) sequence
// number, detects gaps against the expected ordinal and absorbs late arrivals.
// A gap never blocks the message that exposed it; blocking would pile up
// backlog under minor reordering, so gaps are recorded and re-checked instead.
type Tracker struct {
	repo   domain.SequenceRepository
	broker messagebroker.Publisher
	config TrackerConfig
	logger *slog.Logger
}

// NewTracker creates a Tracker. broker may be nil (alerts become log-only).
func NewTracker(repo domain.SequenceRepository, broker messagebroker.Publisher, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if cfg.RecheckDelay <= 0 {
		cfg.RecheckDelay = 5 * time.Minute
	}
	return &Tracker{
		repo:   repo,
		broker: broker,
		config: cfg,
		logger: logger.With("component", "sequence_tracker"),
	}
}

// RecheckDelay exposes the configured delay for callers scheduling re-checks.
func (t *Tracker) RecheckDelay() time.Duration { return t.config.RecheckDelay }

// Validate records the message in the ledger, computes its ordinal (count of
// earlier-timestamped entries plus one) and reconciles it with the expected
// next ordinal. The caller schedules a delayed re-check when a gap is reported.
func (t *Tracker) Validate(ctx context.Context, tenantID uuid.UUID, sender, messageID string, timestamp time.Time) (domain.ValidationResult, error) {
	priorCount, err := t.repo.RecordEntry(ctx, tenantID, sender, messageID, timestamp)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("record sequence entry: %w", err)
	}
	ordinal := priorCount + 1

	var result domain.ValidationResult
	for attempt := 0; attempt < saveAttempts; attempt++ {
		state, err := t.repo.GetState(ctx, tenantID, sender)
		if errors.Is(err, domain.ErrNotFound) {
			state = &domain.SequenceState{TenantID: tenantID, Sender: sender, SequenceNumber: 0, ExpectedNext: 1}
		} else if err != nil {
			return domain.ValidationResult{}, fmt.Errorf("load sequence state: %w", err)
		}

		result = t.apply(state, ordinal, messageID)

		if err := t.repo.SaveState(ctx, state); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				continue
			}
			return domain.ValidationResult{}, fmt.Errorf("save sequence state: %w", err)
		}

		t.observe(ctx, tenantID, sender, messageID, result)
		return result, nil
	}

	// Lost the optimistic race repeatedly; the message still proceeds because
	// ordering bookkeeping is observability, not admission control.
	t.logger.WarnContext(ctx, "Sequence state update abandoned after retries",
		"tenant_id", tenantID, "sender", sender, "message_id", messageID)
	validationsCounter.WithLabelValues("abandoned").Inc()
	return result, nil
}

// apply mutates state for a message at the given ordinal and reports the
// outcome. Pure state-machine logic, no I/O.
func (t *Tracker) apply(state *domain.SequenceState, ordinal int64, messageID string) domain.ValidationResult {
	switch {
	case ordinal == state.ExpectedNext:
		state.SequenceNumber = ordinal
		state.ExpectedNext = ordinal + 1
		return domain.ValidationResult{SequenceNumber: ordinal, InOrder: true, GapDetected: state.GapDetected}

	case ordinal > state.ExpectedNext:
		missing := make([]int64, 0, ordinal-state.ExpectedNext)
		for m := state.ExpectedNext; m < ordinal; m++ {
			missing = append(missing, m)
		}
		state.MissingOrdinals = mergeOrdinals(state.MissingOrdinals, missing)
		state.PendingMessageIDs = appendUnique(state.PendingMessageIDs, messageID)
		state.GapDetected = true
		state.SequenceNumber = ordinal
		state.ExpectedNext = ordinal + 1
		return domain.ValidationResult{SequenceNumber: ordinal, InOrder: false, GapDetected: true, Missing: missing}

	default:
		// Late arrival for an ordinal we already passed: it may fill a gap.
		state.MissingOrdinals = removeOrdinal(state.MissingOrdinals, ordinal)
		if len(state.MissingOrdinals) == 0 {
			state.GapDetected = false
			state.PendingMessageIDs = nil
		}
		// SequenceNumber stays where it is; it never decreases.
		return domain.ValidationResult{SequenceNumber: state.SequenceNumber, InOrder: false, GapDetected: state.GapDetected}
	}
}

// Recheck inspects the state after the recheck delay. If the gap is still
// unresolved an operational alert is emitted. Returns true when resolved.
func (t *Tracker) Recheck(ctx context.Context, tenantID uuid.UUID, sender string) (bool, error) {
	state, err := t.repo.GetState(ctx, tenantID, sender)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load sequence state for recheck: %w", err)
	}

	if !state.GapDetected || len(state.MissingOrdinals) == 0 {
		rechecksCounter.WithLabelValues("resolved").Inc()
		return true, nil
	}

	rechecksCounter.WithLabelValues("unresolved").Inc()
	t.alertGap(ctx, state)
	return false, nil
}

func (t *Tracker) observe(ctx context.Context, tenantID uuid.UUID, sender, messageID string, result domain.ValidationResult) {
	switch {
	case result.InOrder:
		validationsCounter.WithLabelValues("in_order").Inc()
	case len(result.Missing) > 0:
		validationsCounter.WithLabelValues("gap").Inc()
		t.logger.WarnContext(ctx, "Sequence gap detected",
			"tenant_id", tenantID, "sender", sender, "message_id", messageID,
			"sequence_number", result.SequenceNumber, "missing", result.Missing)
	default:
		validationsCounter.WithLabelValues("late").Inc()
		t.logger.InfoContext(ctx, "Late arrival reconciled",
			"tenant_id", tenantID, "sender", sender, "message_id", messageID,
			"gap_detected", result.GapDetected)
	}
}

func (t *Tracker) alertGap(ctx context.Context, state *domain.SequenceState) {
	t.logger.WarnContext(ctx, "Sequence gap unresolved after recheck",
		"tenant_id", state.TenantID, "sender", state.Sender,
		"missing", state.MissingOrdinals, "pending_message_ids", state.PendingMessageIDs)
	if t.broker == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"tenant_id":           state.TenantID,
		"sender":              state.Sender,
		"sequence_number":     state.SequenceNumber,
		"missing_ordinals":    state.MissingOrdinals,
		"pending_message_ids": state.PendingMessageIDs,
	})
	if err != nil {
		return
	}
	if err := t.broker.Publish(ctx, AlertSubjectSequenceGap, payload); err != nil {
		t.logger.ErrorContext(ctx, "Failed to publish sequence gap alert", "error", err)
	}
}

func mergeOrdinals(existing, add []int64) []int64 {
	seen := make(map[int64]struct{}, len(existing)+len(add))
	out := make([]int64, 0, len(existing)+len(add))
	for _, lists := range [][]int64{existing, add} {
		for _, v := range lists {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}

func removeOrdinal(ordinals []int64, ordinal int64) []int64 {
	out := ordinals[:0]
	for _, v := range ordinals {
		if v != ordinal {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
