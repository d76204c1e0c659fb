package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
)

// RecordStore reads notification records and writes their delivery status.
type RecordStore interface {
	StatusWriter
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	LastSentAt(ctx context.Context, userID string) (time.Time, error)
}

// PreferenceOracle answers whether a notification may be delivered now.
type PreferenceOracle interface {
	ShouldSend(ctx context.Context, userID string, t domain.NotificationType) (bool, error)
	IsInQuietHours(ctx context.Context, userID string) (bool, error)
	QuietHoursEnd(ctx context.Context, userID string) (time.Time, error)
	NextAllowedAt(ctx context.Context, userID string, lastSentAt time.Time) (time.Time, error)
}

// Transport delivers a notification. Errors may implement IsRetryable.
type Transport interface {
	Deliver(ctx context.Context, n *domain.Notification) error
}

// settleTimeout bounds the store writes that release a lease after a send.
const settleTimeout = 10 * time.Second

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	Node         string
	BatchSize    int
	PollInterval time.Duration
	NumWorkers   int
	SendTimeout  time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Node:         "local",
		BatchSize:    50,
		PollInterval: 5 * time.Second,
		NumWorkers:   4,
		SendTimeout:  30 * time.Second,
	}
}

// Worker polls the queue and delivers claimed items.
type Worker struct {
	config    WorkerConfig
	service   *Service
	records   RecordStore
	oracle    PreferenceOracle
	transport Transport

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new queue worker.
func NewWorker(config WorkerConfig, service *Service, records RecordStore, oracle PreferenceOracle, transport Transport) *Worker {
	return &Worker{
		config:    config,
		service:   service,
		records:   records,
		oracle:    oracle,
		transport: transport,
		stopCh:    make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting queue worker",
		"node", w.config.Node,
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, w.nodeName(i))
	}
}

// Stop gracefully stops all workers and waits for in-flight items.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("queue worker stopped")
}

func (w *Worker) nodeName(index int) string {
	return fmt.Sprintf("%s-w%d", w.config.Node, index)
}

func (w *Worker) run(ctx context.Context, node string) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, node)
		}
	}
}

// ProcessBatch fetches one batch and processes every item node manages to claim.
// It returns the number of items claimed.
func (w *Worker) ProcessBatch(ctx context.Context, node string) int {
	items, err := w.service.GetNextBatch(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch next batch", "node", node, "error", err)
		return 0
	}

	claimed := 0
	for _, candidate := range items {
		select {
		case <-w.stopCh:
			return claimed
		default:
		}

		item, err := w.service.Claim(ctx, candidate.ID, node)
		if err != nil {
			if !errors.Is(err, ErrAlreadyClaimed) && !errors.Is(err, ErrItemNotFound) {
				slog.Error("failed to claim item", "item_id", candidate.ID, "node", node, "error", err)
			}
			continue
		}

		claimed++
		// A claimed item runs to a settled state even if ctx is cancelled
		// meanwhile; Stop waits for it and SendTimeout bounds the send.
		w.processItem(context.WithoutCancel(ctx), item, node)
	}

	if claimed > 0 {
		slog.Debug("processed batch", "node", node, "fetched", len(items), "claimed", claimed)
	}
	return claimed
}

func (w *Worker) processItem(ctx context.Context, item *Item, node string) {
	notification, err := w.records.GetNotification(ctx, item.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotificationNotFound) {
			w.fail(ctx, item, node, NewNonRetryableError(err))
			return
		}
		w.fail(ctx, item, node, fmt.Errorf("load notification: %w", err))
		return
	}

	if notification.Status == domain.DeliveryStatusCancelled {
		w.suppress(ctx, item, node, "notification cancelled")
		return
	}

	allowed, err := w.oracle.ShouldSend(ctx, notification.UserID, notification.Type)
	if err != nil {
		w.fail(ctx, item, node, fmt.Errorf("check preferences: %w", err))
		return
	}
	if !allowed {
		w.suppress(ctx, item, node, fmt.Sprintf("suppressed by preferences of user %s", notification.UserID))
		return
	}

	if !item.Urgent() {
		until, err := w.deferUntil(ctx, notification.UserID)
		if err != nil {
			w.fail(ctx, item, node, fmt.Errorf("check delivery window: %w", err))
			return
		}
		if !until.IsZero() {
			settleCtx, cancel := w.settleContext(ctx)
			_, deferErr := w.service.Defer(settleCtx, item, node, until)
			cancel()
			if deferErr != nil {
				slog.Error("failed to defer item", "item_id", item.ID, "error", deferErr)
				return
			}
			slog.Debug("delivery deferred", "item_id", item.ID, "user_id", notification.UserID, "until", until)
			return
		}
	}

	// Honor cancellations and sweeps that raced with the checks above.
	if _, err := w.service.VerifyLease(ctx, item.ID, node); err != nil {
		slog.Info("lease lost before send, skipping", "item_id", item.ID, "node", node, "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	start := time.Now()
	err = w.transport.Deliver(sendCtx, notification)
	cancel()
	recordSendDuration(string(notification.Channel), time.Since(start))

	if err != nil {
		slog.Warn("send failed",
			"item_id", item.ID,
			"attempt", item.RetryCount+1,
			"max_retries", item.MaxRetries,
			"error", err,
		)
		w.fail(ctx, item, node, err)
		return
	}

	settleCtx, settleCancel := w.settleContext(ctx)
	defer settleCancel()
	if _, err := w.service.CompleteLease(settleCtx, item, node); err != nil {
		slog.Error("failed to mark as completed", "item_id", item.ID, "error", err)
		return
	}

	slog.Debug("notification sent",
		"item_id", item.ID,
		"notification_id", item.NotificationID,
		"channel", notification.Channel,
		"duration", time.Since(start),
	)
}

// deferUntil returns when delivery may happen, or zero when it may happen now.
func (w *Worker) deferUntil(ctx context.Context, userID string) (time.Time, error) {
	quiet, err := w.oracle.IsInQuietHours(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if quiet {
		return w.oracle.QuietHoursEnd(ctx, userID)
	}

	lastSent, err := w.records.LastSentAt(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if lastSent.IsZero() {
		return time.Time{}, nil
	}

	next, err := w.oracle.NextAllowedAt(ctx, userID, lastSent)
	if err != nil {
		return time.Time{}, err
	}
	if next.After(time.Now()) {
		return next, nil
	}
	return time.Time{}, nil
}

func (w *Worker) fail(ctx context.Context, item *Item, node string, cause error) {
	ctx, cancel := w.settleContext(ctx)
	defer cancel()
	if _, err := w.service.FailLease(ctx, item, node, cause); err != nil {
		slog.Error("failed to record failure", "item_id", item.ID, "error", err)
	}
}

func (w *Worker) suppress(ctx context.Context, item *Item, node, reason string) {
	ctx, cancel := w.settleContext(ctx)
	defer cancel()
	if _, err := w.service.Suppress(ctx, item, node, reason); err != nil {
		slog.Error("failed to suppress item", "item_id", item.ID, "error", err)
		return
	}
	slog.Info("notification suppressed", "item_id", item.ID, "reason", reason)
}

// settleContext derives the context for lease-releasing writes. It is never
// the send context, so a send that hit its deadline can still be recorded.
func (w *Worker) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
