package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/bookwise/booking-gateway/internal/dialog_service/adapters/intent"
	"github.com/bookwise/booking-gateway/internal/dialog_service/domain"
)

// Decision is the outcome of one FSM transition: exactly one next step, one
// reply, and the context mutations to apply. RequestBooking asks the caller to
// invoke the booking engine; the FSM itself never performs I/O so a transport
// failure can never leave a half-applied transition.
type Decision struct {
	NextStep       domain.Step
	Reply          string
	ContextPatch   map[string]string
	ClearSlots     []string
	RequestBooking bool
}

// Engine is the finite-state dialog machine. Advance is pure: current state
// plus input maps to exactly one decision, with no hidden side channels.
type Engine struct {
	parser *dateTimeParser
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{parser: newDateTimeParser(), now: func() time.Time { return time.Now().UTC() }}
}

// Advance maps (current step, text, intent) to a decision. services is the
// tenant's bookable catalog, used in service_selection and menu replies.
func (e *Engine) Advance(conv *domain.ConversationState, text string, detected intent.Intent, services []string) Decision {
	// Cancellation is honored from any non-terminal state.
	if detected == intent.IntentCancel && !conv.CurrentStep.IsTerminal() && conv.CurrentStep != domain.StepGreeting {
		return Decision{NextStep: domain.StepCancelled, Reply: replyCancelled}
	}

	switch conv.CurrentStep {
	case domain.StepGreeting:
		return e.advanceGreeting(text, detected, services)
	case domain.StepServiceSelection:
		return e.advanceServiceSelection(text, services)
	case domain.StepDateTime:
		return e.advanceDateTime(text)
	case domain.StepConfirmation:
		return e.advanceConfirmation(conv, text, detected)
	default:
		// Terminal steps never advance; the caller opens a new conversation.
		return Decision{NextStep: conv.CurrentStep, Reply: replyMenu(services)}
	}
}

func (e *Engine) advanceGreeting(text string, detected intent.Intent, services []string) Decision {
	if detected == intent.IntentBooking || containsBookingKeyword(text) {
		return Decision{NextStep: domain.StepServiceSelection, Reply: replyServiceList(services)}
	}
	return Decision{NextStep: domain.StepGreeting, Reply: replyMenu(services)}
}

func (e *Engine) advanceServiceSelection(text string, services []string) Decision {
	if service, ok := matchService(text, services); ok {
		return Decision{
			NextStep:     domain.StepDateTime,
			Reply:        fmt.Sprintf(replyAskDateTime, service),
			ContextPatch: map[string]string{domain.SlotService: service},
		}
	}
	return Decision{NextStep: domain.StepServiceSelection, Reply: replyServiceClarify(services)}
}

func (e *Engine) advanceDateTime(text string) Decision {
	date, timeOfDay, ok := e.parser.Parse(text, e.now())
	if !ok {
		return Decision{NextStep: domain.StepDateTime, Reply: replyDateTimeExamples}
	}
	return Decision{
		NextStep:     domain.StepConfirmation,
		Reply:        fmt.Sprintf(replyConfirmPrompt, date, timeOfDay),
		ContextPatch: map[string]string{domain.SlotDate: date, domain.SlotTime: timeOfDay},
	}
}

func (e *Engine) advanceConfirmation(conv *domain.ConversationState, text string, detected intent.Intent) Decision {
	switch detected {
	case intent.IntentConfirm:
		if bookingID := conv.Slot(domain.SlotBookingID); bookingID != "" {
			// Already booked: a retried confirmation must not book twice.
			return Decision{NextStep: domain.StepCompleted, Reply: fmt.Sprintf(replyBooked, bookingID)}
		}
		return Decision{NextStep: domain.StepConfirmation, RequestBooking: true}
	case intent.IntentChange:
		return Decision{
			NextStep:   domain.StepDateTime,
			Reply:      replyAskNewDateTime,
			ClearSlots: []string{domain.SlotDate, domain.SlotTime},
		}
	default:
		return Decision{
			NextStep: domain.StepConfirmation,
			Reply: fmt.Sprintf(replyConfirmRepeat,
				conv.Slot(domain.SlotService), conv.Slot(domain.SlotDate), conv.Slot(domain.SlotTime)),
		}
	}
}

func containsBookingKeyword(text string) bool {
	normalized := strings.ToLower(text)
	for _, kw := range []string{"book", "appointment", "reserve", "schedule"} {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// matchService resolves a selection either by 1-based ordinal or by fuzzy
// name match (substring or small edit distance).
func matchService(text string, services []string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if idx, err := strconv.Atoi(trimmed); err == nil {
		if idx >= 1 && idx <= len(services) {
			return services[idx-1], true
		}
		return "", false
	}

	normalized := strings.ToLower(trimmed)
	best := ""
	bestDistance := -1
	for _, svc := range services {
		name := strings.ToLower(svc)
		if strings.Contains(normalized, name) || strings.Contains(name, normalized) {
			return svc, true
		}
		d := levenshtein.ComputeDistance(normalized, name)
		if bestDistance == -1 || d < bestDistance {
			best = svc
			bestDistance = d
		}
	}
	// Tolerate small typos ("maincure" -> "Manicure").
	if bestDistance >= 0 && bestDistance <= 2 && len(normalized) >= 4 {
		return best, true
	}
	return "", false
}
