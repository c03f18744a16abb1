package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/bookwise/booking-gateway/internal/gateway_service/domain"
)

const (
	MaxRequestBodySize = 1 << 20 // 1 MB

	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	ingestTimeout = 30 * time.Second
)

// MessageIngestor hands an authenticated, parsed message to the pipeline.
// An interface so handler tests can run without the real pipeline behind it.
type MessageIngestor interface {
	Ingest(ctx context.Context, msg domain.InboundMessage) error
}

// WebhookHandler serves the provider handshake and delivery endpoints. The
// delivery endpoint acknowledges immediately; parsing and pipeline hand-off
// run detached so a downstream failure never turns into a provider retry
// storm.
type WebhookHandler struct {
	ingestor    MessageIngestor
	validate    *validator.Validate
	verifyToken string
	hmacSecret  []byte
	logger      *slog.Logger
	inflight    sync.WaitGroup
}

func NewWebhookHandler(ingestor MessageIngestor, verifyToken, hmacSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestor:    ingestor,
		validate:    validator.New(),
		verifyToken: verifyToken,
		hmacSecret:  []byte(hmacSecret),
		logger:      logger.With("component", "webhook_handler"),
	}
}

// NewRouter builds the webhook service's HTTP router.
func NewRouter(handler *WebhookHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Get("/webhook", handler.HandleVerification)
	r.Post("/webhook", handler.HandleDelivery)
	return r
}

// HandleVerification answers the provider's subscribe handshake by echoing
// the challenge when the verify token matches.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	mode := queryParam(r, "hub.mode", "mode")
	token := queryParam(r, "hub.verify_token", "verify_token")
	challenge := queryParam(r, "hub.challenge", "challenge")

	if mode != "subscribe" || token == "" || !subtleCompare(token, h.verifyToken) {
		handshakeCounter.WithLabelValues("rejected").Inc()
		logger.WarnContext(ctx, "Webhook handshake rejected", "mode", mode, "remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	handshakeCounter.WithLabelValues("verified").Inc()
	logger.InfoContext(ctx, "Webhook handshake verified")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		logger.WarnContext(ctx, "Failed to write handshake challenge", "error", err)
	}
}

// HandleDelivery authenticates the raw body, acknowledges, then hands the
// payload to the pipeline outside the request's critical path.
func (h *WebhookHandler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read webhook body", "error", err)
		if err.Error() == "http: request body too large" {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	if !h.verifySignature(rawBody, r.Header.Get(signatureHeader)) {
		deliveriesCounter.WithLabelValues("unauthorized").Inc()
		logger.WarnContext(ctx, "Webhook signature verification failed",
			"remote_addr", r.RemoteAddr, "payload_size", len(rawBody))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Ack before processing: at-least-once redelivery must not pile up on
	// slow downstream work.
	deliveriesCounter.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("EVENT_RECEIVED")); err != nil {
		logger.WarnContext(ctx, "Failed to write webhook ack", "error", err)
	}

	requestID := chi_middleware.GetReqID(ctx)
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.processDelivery(rawBody, requestID)
	}()
}

// Drain blocks until all detached delivery processing has finished. Called
// during graceful shutdown so accepted payloads are not dropped.
func (h *WebhookHandler) Drain() {
	h.inflight.Wait()
}

// processDelivery parses and ingests a delivery on its own context. It owns
// its error containment: the ack already went out, so every failure here is a
// log entry, never a provider-visible error.
func (h *WebhookHandler) processDelivery(rawBody []byte, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	logger := h.logger.With("request_id", requestID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "Panic while processing webhook delivery", "panic", rec)
		}
	}()

	var envelope WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		deliveriesCounter.WithLabelValues("malformed").Inc()
		logger.WarnContext(ctx, "Malformed webhook payload", "error", err)
		return
	}
	if err := h.validate.Struct(&envelope); err != nil {
		deliveriesCounter.WithLabelValues("malformed").Inc()
		logger.WarnContext(ctx, "Webhook payload failed validation", "error", err)
		return
	}

	messages, skipped := envelope.InboundMessages()
	if skipped > 0 {
		nonTextSkippedCounter.Add(float64(skipped))
		logger.InfoContext(ctx, "Skipped non-text messages", "count", skipped)
	}

	for _, msg := range messages {
		if err := h.ingestor.Ingest(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "Failed to ingest inbound message",
				"message_id", msg.MessageID, "tenant_id", msg.TenantID, "error", err)
		}
	}
}

// verifySignature recomputes the HMAC-SHA256 of the raw body and compares it
// in constant time. Missing secret or signature always fails.
func (h *WebhookHandler) verifySignature(rawBody []byte, header string) bool {
	if len(h.hmacSecret) == 0 || header == "" {
		return false
	}
	provided, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.hmacSecret)
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), decoded)
}

func subtleCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func queryParam(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}
