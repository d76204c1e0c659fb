package queue

import (
	"context"
	"time"
)

// Repository defines durable storage for queue items.
//
// Claim and Settle are the only transitions out of the claimable and
// processing states and must each be a single conditional write.
type Repository interface {
	// Create inserts a pending item. Returns ErrAlreadyQueued if another
	// non-terminal item exists for the same notification.
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id string) (*Item, error)
	GetActiveByNotificationID(ctx context.Context, notificationID string) (*Item, error)
	ListByNotificationID(ctx context.Context, notificationID string) ([]*Item, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Item, error)

	// FetchPending returns pending items with scheduled_at <= now ordered by
	// (priority, scheduled_at). Read-only.
	FetchPending(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	// FetchRetryable returns retry_scheduled items with next_retry_at <= now
	// that still have retry budget, ordered by (priority, next_retry_at).
	FetchRetryable(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	// FetchStuck returns processing items whose updated_at is before staleBefore.
	FetchStuck(ctx context.Context, staleBefore time.Time, limit int) ([]*Item, error)

	// Claim sets status=processing and processing_node=node when the item is
	// pending or retry_scheduled. Returns ErrAlreadyClaimed when no row
	// matched, including unknown IDs.
	Claim(ctx context.Context, id, node string, now time.Time) (*Item, error)
	// Settle moves a processing item matching check to s.Status and clears
	// the lease. Returns ErrLeaseLost when the conditions do not hold.
	Settle(ctx context.Context, id string, check LeaseCheck, s Settlement, now time.Time) (*Item, error)
	// Readmit moves due retry_scheduled items back to pending.
	Readmit(ctx context.Context, now time.Time, limit int) (int64, error)
	// Cancel moves a pending or retry_scheduled item to cancelled.
	// Returns ErrInvalidState when no row matched, including unknown IDs.
	Cancel(ctx context.Context, id string, now time.Time) (*Item, error)

	// DeleteTerminalBefore removes completed, failed and cancelled items
	// last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (*QueueStats, error)
	CountStatus(ctx context.Context, status Status) (int64, error)
}
