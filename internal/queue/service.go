package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/google/uuid"
)

const maxBatchSize = 1000

// StatusWriter writes the delivery outcome back onto the notification record.
type StatusWriter interface {
	UpdateDeliveryStatus(ctx context.Context, notificationID string, status domain.DeliveryStatus, reason string) error
}

// ServiceConfig contains queue service configuration.
type ServiceConfig struct {
	DefaultPriority   int
	DefaultMaxRetries int
	Backoff           Backoff
	StuckThreshold    time.Duration
	SweepBatchSize    int
}

// DefaultServiceConfig returns default service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultPriority:   PriorityDefault,
		DefaultMaxRetries: DefaultMaxRetries,
		Backoff:           DefaultBackoff(),
		StuckThreshold:    15 * time.Minute,
		SweepBatchSize:    500,
	}
}

// Service is the orchestration surface of the queue.
type Service struct {
	config  ServiceConfig
	repo    Repository
	records StatusWriter
	now     func() time.Time
}

// NewService creates a new queue service. records may be nil.
func NewService(config ServiceConfig, repo Repository, records StatusWriter) *Service {
	return &Service{
		config:  config,
		repo:    repo,
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueInput contains data for enqueuing a notification.
type EnqueueInput struct {
	NotificationID string
	Priority       int        // 0 means default
	ScheduledAt    *time.Time // nil means now
	MaxRetries     *int       // nil means default
	Metadata       map[string]string
}

// Enqueue creates a pending item for the notification. If a non-terminal
// item already exists, it is returned together with ErrAlreadyQueued.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*Item, error) {
	priority := in.Priority
	if priority == 0 {
		priority = s.config.DefaultPriority
	}
	if priority < PriorityHighest || priority > PriorityLowest {
		return nil, ErrInvalidPriority
	}

	maxRetries := s.config.DefaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = max(*in.MaxRetries, 0)
	}

	existing, err := s.repo.GetActiveByNotificationID(ctx, in.NotificationID)
	if err == nil {
		return existing, ErrAlreadyQueued
	}
	if !errors.Is(err, ErrItemNotFound) {
		return nil, fmt.Errorf("get active item: %w", err)
	}

	now := s.now()
	scheduledAt := now
	if in.ScheduledAt != nil {
		scheduledAt = in.ScheduledAt.UTC()
	}

	item := &Item{
		ID:             uuid.NewString(),
		NotificationID: in.NotificationID,
		Status:         StatusPending,
		Priority:       priority,
		ScheduledAt:    scheduledAt,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       in.Metadata,
	}

	if err := s.repo.Create(ctx, item); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			// Lost an insert race against a concurrent enqueue.
			if existing, getErr := s.repo.GetActiveByNotificationID(ctx, in.NotificationID); getErr == nil {
				return existing, ErrAlreadyQueued
			}
		}
		return nil, fmt.Errorf("create queue item: %w", err)
	}

	slog.Debug("notification enqueued",
		"item_id", item.ID,
		"notification_id", item.NotificationID,
		"priority", item.Priority,
		"scheduled_at", item.ScheduledAt,
	)
	recordEnqueued()

	return item, nil
}

// GetByID returns a queue item.
func (s *Service) GetByID(ctx context.Context, id string) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByNotificationID returns all items ever queued for a notification, newest first.
func (s *Service) GetByNotificationID(ctx context.Context, notificationID string) ([]*Item, error) {
	return s.repo.ListByNotificationID(ctx, notificationID)
}

// GetByStatus returns up to limit items in status.
func (s *Service) GetByStatus(ctx context.Context, status Status, limit int) ([]*Item, error) {
	return s.repo.ListByStatus(ctx, status, clampLimit(limit))
}

// GetNextBatch returns dispatchable items ordered by (priority, scheduled_at).
// It does not change state; contention is resolved by Claim.
func (s *Service) GetNextBatch(ctx context.Context, batchSize int) ([]*Item, error) {
	items, err := s.repo.FetchPending(ctx, s.now(), clampLimit(batchSize))
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	return items, nil
}

// GetRetryableItems returns retry_scheduled items whose backoff has elapsed.
func (s *Service) GetRetryableItems(ctx context.Context, limit int) ([]*Item, error) {
	items, err := s.repo.FetchRetryable(ctx, s.now(), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("fetch retryable: %w", err)
	}
	return items, nil
}

// Claim gives node the lease on an item. A lost race returns ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, id, node string) (*Item, error) {
	item, err := s.repo.Claim(ctx, id, node, s.now())
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrAlreadyClaimed) {
		return nil, fmt.Errorf("claim item: %w", err)
	}

	if _, getErr := s.repo.GetByID(ctx, id); errors.Is(getErr, ErrItemNotFound) {
		return nil, ErrItemNotFound
	}
	recordClaimConflict()
	return nil, ErrAlreadyClaimed
}

// Complete marks a processing item as completed. Completing an already
// completed item is a no-op.
func (s *Service) Complete(ctx context.Context, id string) (*Item, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == StatusCompleted {
		return item, nil
	}
	if item.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot complete %s item", ErrInvalidState, item.Status)
	}
	return s.complete(ctx, item, LeaseCheck{})
}

// CompleteLease completes an item on behalf of the node holding its lease.
func (s *Service) CompleteLease(ctx context.Context, item *Item, node string) (*Item, error) {
	return s.complete(ctx, item, LeaseCheck{Node: node})
}

func (s *Service) complete(ctx context.Context, item *Item, check LeaseCheck) (*Item, error) {
	now := s.now()
	done, err := s.repo.Settle(ctx, item.ID, check, Settlement{
		Status:      StatusCompleted,
		RetryCount:  item.RetryCount,
		ProcessedAt: &now,
	}, now)
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			if cur, getErr := s.repo.GetByID(ctx, item.ID); getErr == nil && cur.Status == StatusCompleted {
				return cur, nil
			}
			return nil, fmt.Errorf("%w: lease lost before completion", ErrInvalidState)
		}
		return nil, fmt.Errorf("settle item: %w", err)
	}

	recordItemProcessed(outcomeCompleted)
	s.writeBack(ctx, done)
	return done, nil
}

// Fail reports a failed attempt for a processing item. Retryable causes go
// through the retry decision; non-retryable causes fail the item directly.
func (s *Service) Fail(ctx context.Context, id string, cause error) (*Item, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot fail %s item", ErrInvalidState, item.Status)
	}
	return s.fail(ctx, item, LeaseCheck{RetryCount: &item.RetryCount}, cause)
}

// FailLease reports a failed attempt on behalf of the node holding the lease.
func (s *Service) FailLease(ctx context.Context, item *Item, node string, cause error) (*Item, error) {
	return s.fail(ctx, item, LeaseCheck{Node: node, RetryCount: &item.RetryCount}, cause)
}

func (s *Service) fail(ctx context.Context, item *Item, check LeaseCheck, cause error) (*Item, error) {
	now := s.now()
	settlement := s.failureSettlement(item, cause, now)

	settled, err := s.repo.Settle(ctx, item.ID, check, settlement, now)
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			return nil, fmt.Errorf("%w: lease lost before failure was recorded", ErrInvalidState)
		}
		return nil, fmt.Errorf("settle item: %w", err)
	}

	if settled.Status == StatusFailed {
		slog.Warn("queue item failed permanently",
			"item_id", settled.ID,
			"notification_id", settled.NotificationID,
			"retry_count", settled.RetryCount,
			"error", settled.LastError,
		)
		recordItemProcessed(outcomeFailed)
		s.writeBack(ctx, settled)
	} else {
		slog.Info("queue item scheduled for retry",
			"item_id", settled.ID,
			"retry_count", settled.RetryCount,
			"next_retry_at", settled.NextRetryAt,
		)
		recordItemProcessed(outcomeRetry)
	}

	return settled, nil
}

// failureSettlement decides whether a failed attempt is retried.
func (s *Service) failureSettlement(item *Item, cause error, now time.Time) Settlement {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if IsRetryable(cause) && item.RetryCount < item.MaxRetries {
		retry := item.RetryCount + 1
		next := s.config.Backoff.Next(now, retry)
		return Settlement{
			Status:      StatusRetryScheduled,
			RetryCount:  retry,
			NextRetryAt: &next,
			LastError:   msg,
		}
	}

	return Settlement{
		Status:      StatusFailed,
		RetryCount:  item.RetryCount,
		LastError:   msg,
		ProcessedAt: &now,
	}
}

// Defer releases the lease and reschedules the item for until without
// consuming retry budget.
func (s *Service) Defer(ctx context.Context, item *Item, node string, until time.Time) (*Item, error) {
	now := s.now()
	until = until.UTC()
	deferred, err := s.repo.Settle(ctx, item.ID, LeaseCheck{Node: node}, Settlement{
		Status:      StatusRetryScheduled,
		RetryCount:  item.RetryCount,
		NextRetryAt: &until,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("defer item: %w", err)
	}
	recordItemProcessed(outcomeDeferred)
	return deferred, nil
}

// Suppress cancels an item whose delivery is not allowed.
func (s *Service) Suppress(ctx context.Context, item *Item, node, reason string) (*Item, error) {
	now := s.now()
	suppressed, err := s.repo.Settle(ctx, item.ID, LeaseCheck{Node: node}, Settlement{
		Status:      StatusCancelled,
		RetryCount:  item.RetryCount,
		LastError:   reason,
		ProcessedAt: &now,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("suppress item: %w", err)
	}
	recordItemProcessed(outcomeCancelled)
	s.writeBack(ctx, suppressed)
	return suppressed, nil
}

// VerifyLease re-reads the item and confirms node still holds it.
func (s *Service) VerifyLease(ctx context.Context, id, node string) (*Item, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.HeldBy(node) {
		return nil, ErrLeaseLost
	}
	return item, nil
}

// Cancel cancels an item that has not been claimed yet. Cancelling a
// cancelled item returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id string) (*Item, error) {
	item, err := s.repo.Cancel(ctx, id, s.now())
	if err == nil {
		recordItemProcessed(outcomeCancelled)
		s.writeBack(ctx, item)
		return item, nil
	}
	if !errors.Is(err, ErrInvalidState) {
		return nil, fmt.Errorf("cancel item: %w", err)
	}

	cur, getErr := s.repo.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if cur.Status == StatusCancelled {
		return cur, nil
	}
	return nil, fmt.Errorf("%w: cannot cancel %s item", ErrInvalidState, cur.Status)
}

// ProcessRetryableItems re-admits due retry_scheduled items to the pending pool.
func (s *Service) ProcessRetryableItems(ctx context.Context) (int64, error) {
	n, err := s.repo.Readmit(ctx, s.now(), s.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("readmit retryable items: %w", err)
	}
	if n > 0 {
		slog.Info("retryable items readmitted", "count", n)
	}
	recordSweep(sweepRetryable, n)
	return n, nil
}

// HandleStuckItems treats every item held in processing longer than the
// stuck threshold as a failed attempt.
func (s *Service) HandleStuckItems(ctx context.Context) (int64, error) {
	staleBefore := s.now().Add(-s.config.StuckThreshold)

	items, err := s.repo.FetchStuck(ctx, staleBefore, s.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch stuck items: %w", err)
	}

	var recovered int64
	var errs []error
	for _, item := range items {
		node := ""
		if item.ProcessingNode != nil {
			node = *item.ProcessingNode
		}
		check := LeaseCheck{
			Node:        node,
			StaleBefore: staleBefore,
			RetryCount:  &item.RetryCount,
		}
		cause := NewRetryableError(fmt.Errorf("lease expired on node %q", node))

		if _, err := s.fail(ctx, item, check, cause); err != nil {
			if errors.Is(err, ErrInvalidState) {
				// Settled by its worker or another sweeper in the meantime.
				continue
			}
			errs = append(errs, fmt.Errorf("recover item %s: %w", item.ID, err))
			continue
		}

		slog.Warn("recovered stuck queue item",
			"item_id", item.ID,
			"node", node,
			"updated_at", item.UpdatedAt,
		)
		recovered++
	}

	recordSweep(sweepStuck, recovered)
	return recovered, errors.Join(errs...)
}

// CleanupOldItems deletes terminal items older than daysToKeep days.
func (s *Service) CleanupOldItems(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := s.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	n, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old items: %w", err)
	}
	if n > 0 {
		slog.Info("old queue items deleted", "count", n, "cutoff", cutoff)
	}
	recordSweep(sweepCleanup, n)
	return n, nil
}

// GetQueueStats returns item counts by status, read from the store.
func (s *Service) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return stats, nil
}

// GetQueueSize returns the number of items in status.
func (s *Service) GetQueueSize(ctx context.Context, status Status) (int64, error) {
	n, err := s.repo.CountStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("count status: %w", err)
	}
	return n, nil
}

func (s *Service) writeBack(ctx context.Context, item *Item) {
	if s.records == nil {
		return
	}

	var status domain.DeliveryStatus
	switch item.Status {
	case StatusCompleted:
		status = domain.DeliveryStatusSent
	case StatusFailed:
		status = domain.DeliveryStatusFailed
	case StatusCancelled:
		status = domain.DeliveryStatusCancelled
	default:
		return
	}

	reason := ""
	if status != domain.DeliveryStatusSent {
		reason = item.LastError
	}

	if err := s.records.UpdateDeliveryStatus(ctx, item.NotificationID, status, reason); err != nil {
		slog.Error("failed to write delivery status",
			"item_id", item.ID,
			"notification_id", item.NotificationID,
			"status", status,
			"error", err,
		)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return min(limit, maxBatchSize)
}
