// Package preferences answers whether and when a user may receive a notification.
package preferences

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/jobboard-notify/internal/domain"
)

var (
	// ErrPreferenceNotFound is returned when a user has no preference record.
	ErrPreferenceNotFound = errors.New("preference not found")
	// ErrInvalidQuietHours is returned for quiet-hour bounds outside 0..23.
	ErrInvalidQuietHours = errors.New("quiet hours must be between 0 and 23")
)

// Repository defines the data access interface for preference records.
type Repository interface {
	Get(ctx context.Context, userID string) (*domain.Preference, error)
	Upsert(ctx context.Context, pref *domain.Preference) error
}

// Validate checks a preference record before it is stored.
func Validate(pref *domain.Preference) error {
	if err := checkHour("start", pref.QuietHoursStart); err != nil {
		return err
	}
	return checkHour("end", pref.QuietHoursEnd)
}

func checkHour(name string, hour *int) error {
	if hour != nil && (*hour < 0 || *hour > 23) {
		return fmt.Errorf("%w: %s is %d", ErrInvalidQuietHours, name, *hour)
	}
	return nil
}
