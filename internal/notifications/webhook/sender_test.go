package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/notifications"
	"github.com/bissquit/jobboard-notify/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSender_Defaults(t *testing.T) {
	sender := NewSender(Config{})

	assert.Equal(t, defaultUserAgent, sender.config.UserAgent)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.Equal(t, domain.DeliveryChannelWebhook, sender.Channel())
}

func TestSender_Send_Success(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get(SignatureHeader))

		var payload Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, Payload{
			NotificationID: "n1",
			Type:           "new_application",
			Subject:        "New application",
			Body:           "Alice applied",
			SentAt:         sentAt,
		}, payload)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSender(Config{})
	sender.now = func() time.Time { return sentAt }

	err := sender.Send(context.Background(), notifications.Message{
		NotificationID: "n1",
		Type:           domain.NotificationTypeNewApplication,
		To:             server.URL,
		Subject:        "New application",
		Body:           "Alice applied",
	})
	assert.NoError(t, err)
}

func TestSender_Send_Signed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "sha256="+Sign("s3cret", body), r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSender(Config{Secret: "s3cret"})
	err := sender.Send(context.Background(), notifications.Message{To: server.URL, Body: "hi"})
	assert.NoError(t, err)
}

func TestSender_Send_EmptyURL(t *testing.T) {
	sender := NewSender(Config{})
	err := sender.Send(context.Background(), notifications.Message{Body: "hi"})

	require.Error(t, err)
	assert.False(t, queue.IsRetryable(err))
}

func TestSender_Send_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"gone", http.StatusGone, false},
		{"request timeout", http.StatusRequestTimeout, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			err := NewSender(Config{}).Send(context.Background(), notifications.Message{To: server.URL})

			require.Error(t, err)
			var werr *Error
			require.ErrorAs(t, err, &werr)
			assert.Equal(t, tt.status, werr.Code)
			assert.Equal(t, "nope", werr.Message)
			assert.Equal(t, tt.retryable, queue.IsRetryable(err))
		})
	}
}

func TestSender_Send_ConnectionFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewSender(Config{Timeout: time.Second}).Send(context.Background(), notifications.Message{To: url})

	require.Error(t, err)
	assert.True(t, queue.IsRetryable(err))
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://short", maskURL("https://short"))
	assert.Equal(t, "https://hooks.exampl...0123456789", maskURL("https://hooks.example.com/services/abcdef0123456789"))
}
