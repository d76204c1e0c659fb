package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryRepository implements Repository in process memory for tests and
// local development. The mutex gives Claim and Settle the same
// compare-and-swap semantics as the SQL store.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]*Item
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*Item)}
}

// Create inserts a pending item.
func (m *MemoryRepository) Create(_ context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.items {
		if existing.NotificationID == item.NotificationID && !existing.Status.IsTerminal() {
			return ErrAlreadyQueued
		}
	}
	m.items[item.ID] = item.Clone()
	return nil
}

// GetByID returns an item by ID.
func (m *MemoryRepository) GetByID(_ context.Context, id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item.Clone(), nil
}

// GetActiveByNotificationID returns the non-terminal item for a notification.
func (m *MemoryRepository) GetActiveByNotificationID(_ context.Context, notificationID string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.NotificationID == notificationID && !item.Status.IsTerminal() {
			return item.Clone(), nil
		}
	}
	return nil, ErrItemNotFound
}

// ListByNotificationID returns all items for a notification, newest first.
func (m *MemoryRepository) ListByNotificationID(_ context.Context, notificationID string) ([]*Item, error) {
	items := m.filter(func(i *Item) bool { return i.NotificationID == notificationID })
	slices.SortFunc(items, func(a, b *Item) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return items, nil
}

// ListByStatus returns up to limit items in status, oldest update first.
func (m *MemoryRepository) ListByStatus(_ context.Context, status Status, limit int) ([]*Item, error) {
	items := m.filter(func(i *Item) bool { return i.Status == status })
	slices.SortFunc(items, func(a, b *Item) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return truncate(items, limit), nil
}

// FetchPending returns due pending items ordered by (priority, scheduled_at).
func (m *MemoryRepository) FetchPending(_ context.Context, now time.Time, limit int) ([]*Item, error) {
	items := m.filter(func(i *Item) bool {
		return i.Status == StatusPending && !i.ScheduledAt.After(now)
	})
	slices.SortFunc(items, func(a, b *Item) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	return truncate(items, limit), nil
}

// FetchRetryable returns due retry_scheduled items ordered by (priority, next_retry_at).
func (m *MemoryRepository) FetchRetryable(_ context.Context, now time.Time, limit int) ([]*Item, error) {
	items := m.filter(func(i *Item) bool { return retryDue(i, now) })
	sortRetryable(items)
	return truncate(items, limit), nil
}

// FetchStuck returns processing items not updated since staleBefore.
func (m *MemoryRepository) FetchStuck(_ context.Context, staleBefore time.Time, limit int) ([]*Item, error) {
	items := m.filter(func(i *Item) bool {
		return i.Status == StatusProcessing && i.UpdatedAt.Before(staleBefore)
	})
	slices.SortFunc(items, func(a, b *Item) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return truncate(items, limit), nil
}

// Claim takes the lease on a claimable item.
func (m *MemoryRepository) Claim(_ context.Context, id, node string, now time.Time) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || !item.Status.IsClaimable() {
		return nil, ErrAlreadyClaimed
	}

	item.Status = StatusProcessing
	item.ProcessingNode = &node
	item.UpdatedAt = now
	return item.Clone(), nil
}

// Settle moves a processing item out of its lease.
func (m *MemoryRepository) Settle(_ context.Context, id string, check LeaseCheck, s Settlement, now time.Time) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.Status != StatusProcessing {
		return nil, ErrLeaseLost
	}
	if check.Node != "" && (item.ProcessingNode == nil || *item.ProcessingNode != check.Node) {
		return nil, ErrLeaseLost
	}
	if !check.StaleBefore.IsZero() && !item.UpdatedAt.Before(check.StaleBefore) {
		return nil, ErrLeaseLost
	}
	if check.RetryCount != nil && item.RetryCount != *check.RetryCount {
		return nil, ErrLeaseLost
	}

	item.Status = s.Status
	item.RetryCount = s.RetryCount
	item.NextRetryAt = s.NextRetryAt
	if s.LastError != "" {
		item.LastError = s.LastError
	}
	item.ProcessedAt = s.ProcessedAt
	item.ProcessingNode = nil
	item.UpdatedAt = now
	return item.Clone(), nil
}

// Readmit moves due retry_scheduled items back to pending, in (priority, next_retry_at) order.
func (m *MemoryRepository) Readmit(_ context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*Item, 0)
	for _, item := range m.items {
		if retryDue(item, now) {
			due = append(due, item)
		}
	}
	sortRetryable(due)
	due = truncate(due, limit)

	for _, item := range due {
		item.Status = StatusPending
		item.ScheduledAt = *item.NextRetryAt
		item.UpdatedAt = now
	}
	return int64(len(due)), nil
}

// Cancel cancels a claimable item.
func (m *MemoryRepository) Cancel(_ context.Context, id string, now time.Time) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || !item.Status.IsClaimable() {
		return nil, ErrInvalidState
	}

	item.Status = StatusCancelled
	item.ProcessedAt = &now
	item.UpdatedAt = now
	return item.Clone(), nil
}

// DeleteTerminalBefore removes terminal items last updated before cutoff.
func (m *MemoryRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, item := range m.items {
		if item.Status.IsTerminal() && item.UpdatedAt.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

// CountByStatus returns item counts by status.
func (m *MemoryRepository) CountByStatus(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &QueueStats{}
	for _, item := range m.items {
		stats.Set(item.Status, stats.Get(item.Status)+1)
	}
	return stats, nil
}

// CountStatus returns the number of items in status.
func (m *MemoryRepository) CountStatus(ctx context.Context, status Status) (int64, error) {
	stats, err := m.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Get(status), nil
}

func (m *MemoryRepository) filter(keep func(*Item) bool) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]*Item, 0)
	for _, item := range m.items {
		if keep(item) {
			items = append(items, item.Clone())
		}
	}
	return items
}

func retryDue(i *Item, now time.Time) bool {
	return i.Status == StatusRetryScheduled &&
		i.NextRetryAt != nil &&
		!i.NextRetryAt.After(now) &&
		i.RetryCount <= i.MaxRetries
}

func sortRetryable(items []*Item) {
	slices.SortFunc(items, func(a, b *Item) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.NextRetryAt.Compare(*b.NextRetryAt)
	})
}

func truncate(items []*Item, limit int) []*Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
