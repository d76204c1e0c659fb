package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
)

// Oracle evaluates user preferences for the delivery worker.
type Oracle struct {
	repo Repository
	now  func() time.Time
}

// NewOracle creates a new preference oracle.
func NewOracle(repo Repository) *Oracle {
	return &Oracle{repo: repo, now: time.Now}
}

// ShouldSend reports whether notifications of type t may be sent to the user at all.
// Users without a preference record receive nothing.
func (o *Oracle) ShouldSend(ctx context.Context, userID string, t domain.NotificationType) (bool, error) {
	pref, err := o.lookup(ctx, userID)
	if err != nil || pref == nil {
		return false, err
	}
	return pref.EmailEnabled && pref.TypeAllowed(t), nil
}

// IsInQuietHours reports whether the user's quiet-hours window is open now.
func (o *Oracle) IsInQuietHours(ctx context.Context, userID string) (bool, error) {
	window, ok, err := o.quietHours(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	return window.Contains(o.now()), nil
}

// QuietHoursEnd returns when the user's current quiet-hours window closes.
// It returns the current time if the window is not open.
func (o *Oracle) QuietHoursEnd(ctx context.Context, userID string) (time.Time, error) {
	now := o.now()
	window, ok, err := o.quietHours(ctx, userID)
	if err != nil || !ok {
		return now, err
	}
	return window.EndAfter(now), nil
}

// NextAllowedAt returns the earliest time the user's frequency setting permits
// another delivery, given the last one. A zero lastSentAt allows sending now.
func (o *Oracle) NextAllowedAt(ctx context.Context, userID string, lastSentAt time.Time) (time.Time, error) {
	now := o.now()
	if lastSentAt.IsZero() {
		return now, nil
	}

	pref, err := o.lookup(ctx, userID)
	if err != nil || pref == nil {
		return now, err
	}

	next := lastSentAt.Add(pref.Frequency.MinInterval())
	if next.Before(now) {
		return now, nil
	}
	return next, nil
}

func (o *Oracle) quietHours(ctx context.Context, userID string) (QuietHours, bool, error) {
	pref, err := o.lookup(ctx, userID)
	if err != nil || pref == nil {
		return QuietHours{}, false, err
	}
	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return QuietHours{}, false, nil
	}
	return QuietHours{
		Start:    *pref.QuietHoursStart,
		End:      *pref.QuietHoursEnd,
		Location: LoadLocation(pref.Timezone),
	}, true, nil
}

// lookup returns nil without error when the user has no record.
func (o *Oracle) lookup(ctx context.Context, userID string) (*domain.Preference, error) {
	pref, err := o.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPreferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return pref, nil
}
