package http

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/booking-gateway/internal/gateway_service/domain"
)

// WebhookEnvelope mirrors the provider's delivery payload. Each entry belongs
// to one business account; its id carries our tenant UUID.
type WebhookEnvelope struct {
	Object string     `json:"object" validate:"required"`
	Entry  []EntryDTO `json:"entry" validate:"required,min=1,dive"`
}

type EntryDTO struct {
	ID      string      `json:"id" validate:"required,uuid"`
	Changes []ChangeDTO `json:"changes" validate:"required,min=1,dive"`
}

type ChangeDTO struct {
	Field string   `json:"field" validate:"required"`
	Value ValueDTO `json:"value"`
}

type ValueDTO struct {
	Metadata MetadataDTO  `json:"metadata"`
	Messages []MessageDTO `json:"messages,omitempty" validate:"omitempty,dive"`
	Statuses []StatusDTO  `json:"statuses,omitempty"`
}

type MetadataDTO struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type MessageDTO struct {
	ID        string   `json:"id" validate:"required"`
	From      string   `json:"from" validate:"required"`
	Timestamp string   `json:"timestamp" validate:"required"` // unix seconds
	Type      string   `json:"type" validate:"required"`
	Text      *TextDTO `json:"text,omitempty"`
}

type TextDTO struct {
	Body string `json:"body"`
}

// StatusDTO is a delivery-status sub-event. Accepted and ignored.
type StatusDTO struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// InboundMessages flattens the envelope into normalized messages, returning
// how many non-text messages were skipped.
func (e *WebhookEnvelope) InboundMessages() (messages []domain.InboundMessage, skippedNonText int) {
	for _, entry := range e.Entry {
		tenantID, err := uuid.Parse(entry.ID)
		if err != nil {
			continue // validator already rejects these; belt and braces
		}
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					skippedNonText++
					continue
				}
				messages = append(messages, domain.InboundMessage{
					TenantID:   tenantID,
					MessageID:  msg.ID,
					From:       msg.From,
					To:         change.Value.Metadata.DisplayPhoneNumber,
					Text:       msg.Text.Body,
					ProviderTS: parseProviderTimestamp(msg.Timestamp),
				})
			}
		}
	}
	return messages, skippedNonText
}

func parseProviderTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
