// Package postmark delivers email notifications through the Postmark API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/notifications"
	"github.com/bissquit/jobboard-notify/internal/queue"
	"github.com/mrz1836/postmark"
)

// ErrInvalidConfig is returned by NewSender for incomplete configuration.
var ErrInvalidConfig = errors.New("postmark: invalid config")

// Config holds Postmark sender configuration.
type Config struct {
	ServerToken  string
	AccountToken string
	FromAddress  string
	BaseURL      string // overrides the API endpoint, used in tests
}

// Sender implements the email channel on top of Postmark.
type Sender struct {
	config Config
	client *postmark.Client
}

// NewSender creates a new Postmark sender.
func NewSender(config Config) (*Sender, error) {
	if config.ServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrInvalidConfig)
	}
	if config.FromAddress == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}

	client := postmark.NewClient(config.ServerToken, config.AccountToken)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	slog.Info("postmark sender configured", "from_address", config.FromAddress)

	return &Sender{config: config, client: client}, nil
}

// Channel returns the delivery channel.
func (s *Sender) Channel() domain.DeliveryChannel {
	return domain.DeliveryChannelEmail
}

// Send delivers msg as a plain-text transactional email.
// Transport failures are retryable; requests rejected by the API are not.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.config.FromAddress,
		To:       msg.To,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		Tag:      string(msg.Type),
		Headers: []postmark.Header{
			{Name: "X-Notification-ID", Value: msg.NotificationID},
		},
	})
	if err != nil {
		return queue.NewRetryableError(fmt.Errorf("postmark send: %w", err))
	}
	if resp.ErrorCode > 0 {
		return queue.NewNonRetryableError(fmt.Errorf("postmark rejected message: %d %s", resp.ErrorCode, resp.Message))
	}

	slog.Debug("email delivered via postmark", "notification_id", msg.NotificationID, "message_id", resp.MessageID)
	return nil
}
