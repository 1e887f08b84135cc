package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hearth/internal/config"
)

const userAgent = "Hearth-Go/0.1.0"

// Message is a single outbound email.
type Message struct {
	To       string `json:"to"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}

// Service defines the email surface exposed to pipeline handlers.
type Service interface {
	Send(ctx context.Context, msg Message) error
	Enabled() bool
}

// NewService builds an email service backed by the configured HTTP endpoint.
// When no endpoint is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Email.Endpoint)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Email.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &httpService{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.Email.APIKey),
		from:     strings.TrimSpace(cfg.Email.From),
		client:   &http.Client{Timeout: timeout},
	}
}

type httpService struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

func (s *httpService) Enabled() bool { return true }

func (s *httpService) Send(ctx context.Context, msg Message) error {
	if s == nil || s.client == nil {
		return nil
	}
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" {
		return errors.New("send email: recipient required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return errors.New("send email: subject required")
	}
	if msg.From == "" {
		msg.From = s.from
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("email endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Send(context.Context, Message) error { return nil }

func (noopService) Enabled() bool { return false }
