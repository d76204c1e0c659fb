// Package notifications delivers notification records over their channels
// and stores the records themselves.
package notifications

import (
	"context"

	"github.com/bissquit/jobboard-notify/internal/domain"
)

// Message is a rendered notification ready for a sender.
type Message struct {
	NotificationID string
	Type           domain.NotificationType
	To             string
	Subject        string
	Body           string
}

// Sender delivers messages over one channel.
// Errors may implement IsRetryable() bool to steer the retry engine.
type Sender interface {
	Channel() domain.DeliveryChannel
	Send(ctx context.Context, msg Message) error
}
