package postmark

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/notifications"
	"github.com/bissquit/jobboard-notify/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSender_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing token", Config{FromAddress: "noreply@jobboard.test"}},
		{"missing from", Config{ServerToken: "token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, sender)
		})
	}
}

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender, err := NewSender(Config{
		ServerToken: "server-token",
		FromAddress: "noreply@jobboard.test",
		BaseURL:     server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryChannelEmail, sender.Channel())
	return sender
}

var testMessage = notifications.Message{
	NotificationID: "n1",
	Type:           domain.NotificationTypeInterviewInvite,
	To:             "candidate@example.com",
	Subject:        "Interview invite",
	Body:           "Tuesday 10:00",
}

func TestSender_Send_Success(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "candidate@example.com", body["To"])
		assert.Equal(t, "Interview invite", body["Subject"])
		assert.Equal(t, "interview_invite", body["Tag"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"candidate@example.com","MessageID":"abc","ErrorCode":0,"Message":"OK"}`))
	})

	assert.NoError(t, sender.Send(context.Background(), testMessage))
}

func TestSender_Send_RejectedIsPermanent(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":406,"Message":"Inactive recipient"}`))
	})

	err := sender.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.False(t, queue.IsRetryable(err))
	assert.Contains(t, err.Error(), "406")
}

func TestSender_Send_TransportErrorIsRetryable(t *testing.T) {
	sender, err := NewSender(Config{
		ServerToken: "server-token",
		FromAddress: "noreply@jobboard.test",
		BaseURL:     "http://127.0.0.1:1",
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.True(t, queue.IsRetryable(err))
}
