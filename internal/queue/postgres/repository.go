// Package postgres provides PostgreSQL implementation of the queue repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/jobboard-notify/internal/queue"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const itemColumns = `id, notification_id, status, priority, scheduled_at, next_retry_at,
	retry_count, max_retries, processing_node, last_error, metadata,
	created_at, updated_at, processed_at`

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new queue item.
func (r *Repository) Create(ctx context.Context, item *queue.Item) error {
	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	query := `
		INSERT INTO notification_queue_items
			(id, notification_id, status, priority, scheduled_at, retry_count, max_retries, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		item.ID,
		item.NotificationID,
		item.Status,
		item.Priority,
		item.ScheduledAt,
		item.RetryCount,
		item.MaxRetries,
		metadata,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return queue.ErrAlreadyQueued
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// GetByID retrieves a queue item by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*queue.Item, error) {
	if !validID(id) {
		return nil, queue.ErrItemNotFound
	}

	query := `SELECT ` + itemColumns + ` FROM notification_queue_items WHERE id = $1`
	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// GetActiveByNotificationID retrieves the non-terminal item for a notification.
func (r *Repository) GetActiveByNotificationID(ctx context.Context, notificationID string) (*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM notification_queue_items
		WHERE notification_id = $1 AND status IN ('pending', 'processing', 'retry_scheduled')
	`
	item, err := scanItem(r.db.QueryRow(ctx, query, notificationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get active queue item: %w", err)
	}
	return item, nil
}

// ListByNotificationID returns all items for a notification, newest first.
func (r *Repository) ListByNotificationID(ctx context.Context, notificationID string) ([]*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM notification_queue_items
		WHERE notification_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, "list items by notification", query, notificationID)
}

// ListByStatus returns up to limit items in status, oldest update first.
func (r *Repository) ListByStatus(ctx context.Context, status queue.Status, limit int) ([]*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM notification_queue_items
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return r.list(ctx, "list items by status", query, status, limit)
}

// FetchPending returns due pending items ordered by priority and schedule.
func (r *Repository) FetchPending(ctx context.Context, now time.Time, limit int) ([]*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM notification_queue_items
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY priority ASC, scheduled_at ASC
		LIMIT $2
	`
	return r.list(ctx, "fetch pending items", query, now, limit)
}

// FetchRetryable returns due retry_scheduled items that still have retry budget.
func (r *Repository) FetchRetryable(ctx context.Context, now time.Time, limit int) ([]*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM notification_queue_items
		WHERE status = 'retry_scheduled' AND next_retry_at <= $1 AND retry_count <= max_retries
		ORDER BY priority ASC, next_retry_at ASC
		LIMIT $2
	`
	return r.list(ctx, "fetch retryable items", query, now, limit)
}

// FetchStuck returns processing items not updated since staleBefore.
func (r *Repository) FetchStuck(ctx context.Context, staleBefore time.Time, limit int) ([]*queue.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM notification_queue_items
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return r.list(ctx, "fetch stuck items", query, staleBefore, limit)
}

// Claim atomically takes the lease on a pending or retry_scheduled item.
func (r *Repository) Claim(ctx context.Context, id, node string, now time.Time) (*queue.Item, error) {
	if !validID(id) {
		return nil, queue.ErrAlreadyClaimed
	}

	query := `
		UPDATE notification_queue_items
		SET status = 'processing', processing_node = $2, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'retry_scheduled')
		RETURNING ` + itemColumns
	item, err := scanItem(r.db.QueryRow(ctx, query, id, node, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claim queue item: %w", err)
	}
	return item, nil
}

// Settle atomically moves a processing item out of its lease.
func (r *Repository) Settle(ctx context.Context, id string, check queue.LeaseCheck, s queue.Settlement, now time.Time) (*queue.Item, error) {
	if !validID(id) {
		return nil, queue.ErrLeaseLost
	}

	var staleBefore *time.Time
	if !check.StaleBefore.IsZero() {
		staleBefore = &check.StaleBefore
	}

	query := `
		UPDATE notification_queue_items
		SET status = $2,
			retry_count = $3,
			next_retry_at = $4,
			last_error = CASE WHEN $5::text = '' THEN last_error ELSE $5::text END,
			processed_at = $6,
			processing_node = NULL,
			updated_at = $7
		WHERE id = $1
			AND status = 'processing'
			AND ($8::text = '' OR processing_node = $8::text)
			AND ($9::timestamptz IS NULL OR updated_at < $9::timestamptz)
			AND ($10::int IS NULL OR retry_count = $10::int)
		RETURNING ` + itemColumns
	item, err := scanItem(r.db.QueryRow(ctx, query,
		id,
		s.Status,
		s.RetryCount,
		s.NextRetryAt,
		s.LastError,
		s.ProcessedAt,
		now,
		check.Node,
		staleBefore,
		check.RetryCount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrLeaseLost
		}
		return nil, fmt.Errorf("settle queue item: %w", err)
	}
	return item, nil
}

// Readmit moves due retry_scheduled items back to pending.
// SKIP LOCKED lets concurrent sweepers split the work instead of blocking.
func (r *Repository) Readmit(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `
		UPDATE notification_queue_items q
		SET status = 'pending', scheduled_at = q.next_retry_at, updated_at = $1
		WHERE q.status = 'retry_scheduled' AND q.id IN (
			SELECT id FROM notification_queue_items
			WHERE status = 'retry_scheduled' AND next_retry_at <= $1 AND retry_count <= max_retries
			ORDER BY priority ASC, next_retry_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`
	result, err := r.db.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("readmit retryable items: %w", err)
	}
	return result.RowsAffected(), nil
}

// Cancel atomically cancels an item that has not been claimed.
func (r *Repository) Cancel(ctx context.Context, id string, now time.Time) (*queue.Item, error) {
	if !validID(id) {
		return nil, queue.ErrInvalidState
	}

	query := `
		UPDATE notification_queue_items
		SET status = 'cancelled', processed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'retry_scheduled')
		RETURNING ` + itemColumns
	item, err := scanItem(r.db.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrInvalidState
		}
		return nil, fmt.Errorf("cancel queue item: %w", err)
	}
	return item, nil
}

// DeleteTerminalBefore removes terminal items last updated before cutoff.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_queue_items
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old queue items: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountByStatus returns item counts grouped by status.
func (r *Repository) CountByStatus(ctx context.Context) (*queue.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM notification_queue_items GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	stats := &queue.QueueStats{}
	for rows.Next() {
		var status queue.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.Set(status, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return stats, nil
}

// CountStatus returns the number of items in status.
func (r *Repository) CountStatus(ctx context.Context, status queue.Status) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notification_queue_items WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count status: %w", err)
	}
	return count, nil
}

func (r *Repository) list(ctx context.Context, op, query string, args ...any) ([]*queue.Item, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]*queue.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

func scanItem(row pgx.Row) (*queue.Item, error) {
	var item queue.Item
	err := row.Scan(
		&item.ID,
		&item.NotificationID,
		&item.Status,
		&item.Priority,
		&item.ScheduledAt,
		&item.NextRetryAt,
		&item.RetryCount,
		&item.MaxRetries,
		&item.ProcessingNode,
		&item.LastError,
		&item.Metadata,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
