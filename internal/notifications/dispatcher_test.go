package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	channel domain.DeliveryChannel
	sent    []Message
	err     error
}

func (s *recordingSender) Channel() domain.DeliveryChannel { return s.channel }

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	email := &recordingSender{channel: domain.DeliveryChannelEmail}
	hook := &recordingSender{channel: domain.DeliveryChannelWebhook}
	d := NewDispatcher(email, hook)

	err := d.Deliver(context.Background(), &domain.Notification{
		ID:        "n1",
		Type:      domain.NotificationTypeJobAlert,
		Channel:   domain.DeliveryChannelWebhook,
		Recipient: "https://hooks.example.com/x",
		Subject:   "New jobs",
		Body:      "3 new jobs match your search",
	})
	require.NoError(t, err)

	assert.Empty(t, email.sent)
	require.Len(t, hook.sent, 1)
	assert.Equal(t, Message{
		NotificationID: "n1",
		Type:           domain.NotificationTypeJobAlert,
		To:             "https://hooks.example.com/x",
		Subject:        "New jobs",
		Body:           "3 new jobs match your search",
	}, hook.sent[0])
	assert.ElementsMatch(t, []domain.DeliveryChannel{domain.DeliveryChannelEmail, domain.DeliveryChannelWebhook}, d.Channels())
}

func TestDispatcher_UnsupportedChannelIsPermanent(t *testing.T) {
	d := NewDispatcher(&recordingSender{channel: domain.DeliveryChannelEmail})

	err := d.Deliver(context.Background(), &domain.Notification{
		Channel:   domain.DeliveryChannelWebhook,
		Recipient: "https://hooks.example.com/x",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
	assert.False(t, queue.IsRetryable(err))
}

func TestDispatcher_MissingRecipientIsPermanent(t *testing.T) {
	d := NewDispatcher(&recordingSender{channel: domain.DeliveryChannelEmail})

	err := d.Deliver(context.Background(), &domain.Notification{Channel: domain.DeliveryChannelEmail, Recipient: "  "})

	assert.ErrorIs(t, err, ErrMissingRecipient)
	assert.False(t, queue.IsRetryable(err))
}

func TestDispatcher_PropagatesSenderError(t *testing.T) {
	boom := queue.NewRetryableError(errors.New("smtp 421"))
	d := NewDispatcher(&recordingSender{channel: domain.DeliveryChannelEmail, err: boom})

	err := d.Deliver(context.Background(), &domain.Notification{Channel: domain.DeliveryChannelEmail, Recipient: "a@b.c"})

	assert.ErrorIs(t, err, boom)
	assert.True(t, queue.IsRetryable(err))
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name     string
		n        domain.Notification
		expected string
	}{
		{"explicit subject", domain.Notification{Subject: "Your interview", Type: domain.NotificationTypeInterviewInvite}, "Your interview"},
		{"derived from type", domain.Notification{Type: domain.NotificationTypeApplicationUpdate}, "Application Update"},
		{"blank subject derived", domain.Notification{Subject: "  ", Type: domain.NotificationTypeJobAlert}, "Job Alert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Subject(&tt.n))
		})
	}
}
