// Package queue implements the notification delivery queue: durable items,
// atomic claims, retry with backoff and the sweeps that recover abandoned work.
package queue

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a queue item.
type Status string

// Queue statuses.
const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusRetryScheduled Status = "retry_scheduled"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusRetryScheduled,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsTerminal reports whether the status ends the item lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsClaimable reports whether a worker may take a lease on an item in this status.
func (s Status) IsClaimable() bool {
	return s == StatusPending || s == StatusRetryScheduled
}

// Priority bounds. Lower value is dispatched first.
const (
	PriorityHighest = 1
	PriorityDefault = 3
	PriorityLowest  = 5
)

// DefaultMaxRetries is used when neither the caller nor config sets a budget.
const DefaultMaxRetries = 3

// Item is one notification delivery job.
type Item struct {
	ID             string            `json:"id"`
	NotificationID string            `json:"notification_id"`
	Status         Status            `json:"status"`
	Priority       int               `json:"priority"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	RetryCount     int               `json:"retry_count"`
	MaxRetries     int               `json:"max_retries"`
	ProcessingNode *string           `json:"processing_node,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Urgent reports whether the item bypasses quiet hours and frequency limits.
func (i *Item) Urgent() bool {
	return i.Priority == PriorityHighest
}

// HeldBy reports whether node currently holds the lease.
func (i *Item) HeldBy(node string) bool {
	return i.Status == StatusProcessing && i.ProcessingNode != nil && *i.ProcessingNode == node
}

// Clone returns a deep copy.
func (i *Item) Clone() *Item {
	c := *i
	if i.NextRetryAt != nil {
		t := *i.NextRetryAt
		c.NextRetryAt = &t
	}
	if i.ProcessingNode != nil {
		n := *i.ProcessingNode
		c.ProcessingNode = &n
	}
	if i.ProcessedAt != nil {
		t := *i.ProcessedAt
		c.ProcessedAt = &t
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// LeaseCheck narrows a settle transition to the lease the caller observed.
// The store always requires status=processing; the fields below add
// further conditions when set.
type LeaseCheck struct {
	Node        string    // processing_node must equal Node
	StaleBefore time.Time // updated_at must be earlier than StaleBefore
	RetryCount  *int      // retry_count must equal *RetryCount
}

// Settlement describes how a processing item leaves its lease.
type Settlement struct {
	Status      Status
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string
	ProcessedAt *time.Time
}

// QueueStats contains item counts by status.
type QueueStats struct {
	Pending        int64 `json:"pending"`
	Processing     int64 `json:"processing"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	Cancelled      int64 `json:"cancelled"`
	RetryScheduled int64 `json:"retry_scheduled"`
}

// Set stores count for status.
func (s *QueueStats) Set(status Status, count int64) {
	switch status {
	case StatusPending:
		s.Pending = count
	case StatusProcessing:
		s.Processing = count
	case StatusCompleted:
		s.Completed = count
	case StatusFailed:
		s.Failed = count
	case StatusCancelled:
		s.Cancelled = count
	case StatusRetryScheduled:
		s.RetryScheduled = count
	}
}

// Get returns the count for status.
func (s *QueueStats) Get(status Status) int64 {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusProcessing:
		return s.Processing
	case StatusCompleted:
		return s.Completed
	case StatusFailed:
		return s.Failed
	case StatusCancelled:
		return s.Cancelled
	case StatusRetryScheduled:
		return s.RetryScheduled
	}
	return 0
}
