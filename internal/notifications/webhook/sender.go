// Package webhook delivers notifications as signed JSON POST requests.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/notifications"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "jobboard-notify"

	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Signature-256"

	maxResponseBody = 4 << 10
)

// Config holds webhook sender configuration.
// The target URL comes from the notification recipient.
type Config struct {
	Secret    string // signs bodies when set
	UserAgent string
	Timeout   time.Duration
}

// Sender implements webhook notification delivery.
type Sender struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		now:        time.Now,
	}
}

// Channel returns the delivery channel.
func (s *Sender) Channel() domain.DeliveryChannel {
	return domain.DeliveryChannelWebhook
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// Send posts msg to the webhook URL in msg.To.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if msg.To == "" {
		return &Error{Message: "webhook URL is empty"}
	}

	body, err := json.Marshal(Payload{
		NotificationID: msg.NotificationID,
		Type:           string(msg.Type),
		Subject:        msg.Subject,
		Body:           msg.Body,
		SentAt:         s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.To, bytes.NewReader(body))
	if err != nil {
		return &Error{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)
	if s.config.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(s.config.Secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Message: fmt.Sprintf("send request: %v", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, msg.To)
}

func (s *Sender) handleResponse(resp *http.Response, url string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Debug("webhook delivered", "webhook", maskURL(url), "status", resp.StatusCode)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	e := &Error{Code: resp.StatusCode, Message: string(bytes.TrimSpace(body))}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		e.Retryable = true
	}
	return e
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// maskURL hides part of the URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// Error is a webhook delivery failure.
type Error struct {
	Code      int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable reports whether the failure is temporary.
func (e *Error) IsRetryable() bool { return e.Retryable }
