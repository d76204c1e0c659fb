package preferences

import (
	"log/slog"
	"time"
)

// QuietHours is a daily [Start, End) window of local hours.
// A window where End <= Start wraps past midnight; Start == End means no window.
type QuietHours struct {
	Start    int
	End      int
	Location *time.Location
}

// Enabled reports whether the window covers any hour.
func (q QuietHours) Enabled() bool {
	return q.Start != q.End
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled() {
		return false
	}
	hour := t.In(q.location()).Hour()
	if q.Start < q.End {
		return hour >= q.Start && hour < q.End
	}
	return hour >= q.Start || hour < q.End
}

// EndAfter returns the instant the window containing t closes.
// It returns t unchanged when t is outside the window.
func (q QuietHours) EndAfter(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}
	local := t.In(q.location())
	end := time.Date(local.Year(), local.Month(), local.Day(), q.End, 0, 0, 0, q.location())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (q QuietHours) location() *time.Location {
	if q.Location == nil {
		return time.UTC
	}
	return q.Location
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}
