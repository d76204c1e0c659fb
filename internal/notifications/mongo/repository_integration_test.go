//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.Mongo(t))
	require.NoError(t, repo.EnsureIndexes(ctx))

	clock := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	_, err := repo.GetNotification(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotificationNotFound)

	n := &domain.Notification{
		ID:        "n1",
		UserID:    "u1",
		Type:      domain.NotificationTypeMessage,
		Channel:   domain.DeliveryChannelEmail,
		Recipient: "u1@example.com",
		Body:      "hello",
	}
	require.NoError(t, repo.Create(ctx, n))

	got, err := repo.GetNotification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusPending, got.Status)
	assert.Equal(t, "u1@example.com", got.Recipient)

	last, err := repo.LastSentAt(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	require.NoError(t, repo.UpdateDeliveryStatus(ctx, "n1", domain.DeliveryStatusSent, ""))

	got, err = repo.GetNotification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusSent, got.Status)
	require.NotNil(t, got.SentAt)

	last, err = repo.LastSentAt(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, last.Equal(clock))

	err = repo.UpdateDeliveryStatus(ctx, "missing", domain.DeliveryStatusFailed, "x")
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}
