package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers outbound text messages to the provider.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// Config for the HTTP sender.
type Config struct {
	SendURL     string
	AccessToken string
	Timeout     time.Duration
}

// HTTPSender posts messages to the provider's send endpoint.
type HTTPSender struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

func NewHTTPSender(config Config, logger *slog.Logger) *HTTPSender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &HTTPSender{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger.With("component", "whatsapp_sender"),
	}
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// SendText delivers one text message. Non-2xx responses are errors so the
// caller's retry machinery can take over.
func (s *HTTPSender) SendText(ctx context.Context, to, text string) error {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("encoding send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.SendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending message to provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.WarnContext(ctx, "Provider rejected outbound message",
			"status", resp.StatusCode, "to", to, "body", string(body))
		return fmt.Errorf("provider send failed with status %d", resp.StatusCode)
	}
	return nil
}
