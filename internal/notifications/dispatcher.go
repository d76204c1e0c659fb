package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/queue"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Dispatcher routes notifications to the sender registered for their channel.
// It implements queue.Transport.
type Dispatcher struct {
	senders map[domain.DeliveryChannel]Sender
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.DeliveryChannel]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Channel()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Channels returns the channels with a registered sender.
func (d *Dispatcher) Channels() []domain.DeliveryChannel {
	channels := make([]domain.DeliveryChannel, 0, len(d.senders))
	for ch := range d.senders {
		channels = append(channels, ch)
	}
	return channels
}

// Deliver sends n through its channel's sender.
// Misrouted notifications fail permanently.
func (d *Dispatcher) Deliver(ctx context.Context, n *domain.Notification) error {
	sender, ok := d.senders[n.Channel]
	if !ok {
		return queue.NewNonRetryableError(fmt.Errorf("%w: %q", ErrUnsupportedChannel, n.Channel))
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return queue.NewNonRetryableError(ErrMissingRecipient)
	}

	return sender.Send(ctx, Message{
		NotificationID: n.ID,
		Type:           n.Type,
		To:             n.Recipient,
		Subject:        Subject(n),
		Body:           n.Body,
	})
}

// Subject returns the notification subject, deriving one from the type when empty.
func Subject(n *domain.Notification) string {
	if s := strings.TrimSpace(n.Subject); s != "" {
		return s
	}
	// Casers carry state, so one is built per call.
	return cases.Title(language.English).String(strings.ReplaceAll(string(n.Type), "_", " "))
}
