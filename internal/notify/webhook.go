package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vaultline/treasury-backend/pkg/config"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
)

const (
	defaultSendTimeout          = 10 * time.Second
	responseBodyReadLimit int64 = 1024
)

// Message is the JSON document posted to the ops webhook. The receiving end
// routes it to the named target (a chat channel, a pager rotation, the
// authority's inbox).
type Message struct {
	Kind     string          `json:"kind"`
	Target   string          `json:"target"`
	Subject  string          `json:"subject"`
	Body     string          `json:"body"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Sender delivers one notification message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookSender posts messages to a single configured webhook URL.
type WebhookSender struct {
	httpClient *http.Client
	url        string
}

// Option configures optional sender behavior.
type Option func(*WebhookSender)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *WebhookSender) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewWebhookSender builds a sender from the notify configuration.
func NewWebhookSender(cfg config.NotifyConfig, opts ...Option) (*WebhookSender, error) {
	url := strings.TrimSpace(cfg.WebhookURL)
	if url == "" {
		return nil, fmt.Errorf("notify webhook URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	sender := &WebhookSender{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	if sender.httpClient == nil {
		sender.httpClient = &http.Client{Timeout: timeout}
	}

	return sender, nil
}

// Send posts the message and treats any non-2xx answer as a failed delivery.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if s == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "webhook sender not configured")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal webhook message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute webhook request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"webhook request rejected")
	}

	return nil
}
