package domain

import "time"

// Frequency controls how often a user may receive notifications.
type Frequency string

// Frequency classes.
const (
	FrequencyImmediate Frequency = "IMMEDIATE"
	FrequencyHourly    Frequency = "HOURLY"
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
)

// MinInterval returns the minimum spacing between two deliveries.
func (f Frequency) MinInterval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Preference holds a user's notification settings.
type Preference struct {
	UserID          string
	EmailEnabled    bool
	TypeEnabled     map[NotificationType]bool
	Frequency       Frequency
	QuietHoursStart *int // local hour, 0..23
	QuietHoursEnd   *int // local hour, 0..23, exclusive
	Timezone        string
	UpdatedAt       time.Time
}

// TypeAllowed reports whether notifications of type t are enabled.
// Types without an explicit flag are enabled.
func (p *Preference) TypeAllowed(t NotificationType) bool {
	enabled, ok := p.TypeEnabled[t]
	if !ok {
		return true
	}
	return enabled
}
