package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookwise/booking-gateway/internal/gateway_service/domain"
)

const (
	testVerifyToken = "verify-me"
	testHMACSecret  = "super-secret"
)

type recordingIngestor struct {
	mu       sync.Mutex
	messages []domain.InboundMessage
}

func (r *recordingIngestor) Ingest(_ context.Context, msg domain.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func newTestHandler(ingestor MessageIngestor) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler(ingestor, testVerifyToken, testHMACSecret, logger)
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testHMACSecret))
	mac.Write([]byte(body))
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func deliveryBody(tenantID uuid.UUID, msgType, text string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": %q,
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"display_phone_number": "+2000", "phone_number_id": "pn-1"},
					"messages": [{
						"id": "wamid.1",
						"from": "+1000",
						"timestamp": "1756600000",
						"type": %q,
						"text": {"body": %q}
					}]
				}
			}]
		}]
	}`, tenantID, msgType, text)
}

func TestHandleVerification(t *testing.T) {
	handler := newTestHandler(&recordingIngestor{})

	t.Run("echoes the challenge for a valid subscribe", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil)
		rec := httptest.NewRecorder()

		handler.HandleVerification(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "12345", rec.Body.String())
	})

	t.Run("rejects a wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
		rec := httptest.NewRecorder()

		handler.HandleVerification(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects a missing mode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhook?hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil)
		rec := httptest.NewRecorder()

		handler.HandleVerification(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandleDelivery(t *testing.T) {
	tenantID := uuid.New()

	t.Run("valid signature is acked and ingested", func(t *testing.T) {
		ingestor := &recordingIngestor{}
		handler := newTestHandler(ingestor)
		body := deliveryBody(tenantID, "text", "book a haircut")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(signatureHeader, sign(body))
		rec := httptest.NewRecorder()

		handler.HandleDelivery(rec, req)
		handler.Drain()

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, ingestor.messages, 1)
		msg := ingestor.messages[0]
		assert.Equal(t, tenantID, msg.TenantID)
		assert.Equal(t, "wamid.1", msg.MessageID)
		assert.Equal(t, "+1000", msg.From)
		assert.Equal(t, "book a haircut", msg.Text)
	})

	t.Run("bad signature is unauthorized and never ingested", func(t *testing.T) {
		ingestor := &recordingIngestor{}
		handler := newTestHandler(ingestor)
		body := deliveryBody(tenantID, "text", "book a haircut")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(signatureHeader, signaturePrefix+strings.Repeat("00", 32))
		rec := httptest.NewRecorder()

		handler.HandleDelivery(rec, req)
		handler.Drain()

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, ingestor.messages)
	})

	t.Run("missing signature is unauthorized", func(t *testing.T) {
		handler := newTestHandler(&recordingIngestor{})
		body := deliveryBody(tenantID, "text", "hello")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleDelivery(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed payload is still acked but not ingested", func(t *testing.T) {
		ingestor := &recordingIngestor{}
		handler := newTestHandler(ingestor)
		body := `{"object": "whatsapp_business_account", "entry": "not-an-array"`

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(signatureHeader, sign(body))
		rec := httptest.NewRecorder()

		handler.HandleDelivery(rec, req)
		handler.Drain()

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, ingestor.messages)
	})

	t.Run("non-text message is acked and skipped", func(t *testing.T) {
		ingestor := &recordingIngestor{}
		handler := newTestHandler(ingestor)
		body := deliveryBody(tenantID, "image", "")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(signatureHeader, sign(body))
		rec := httptest.NewRecorder()

		handler.HandleDelivery(rec, req)
		handler.Drain()

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, ingestor.messages)
	})
}
