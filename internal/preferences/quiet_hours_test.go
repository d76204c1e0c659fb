package preferences

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int, loc *time.Location) time.Time {
	return time.Date(2026, time.March, 10, hour, minute, 0, 0, loc)
}

func TestQuietHours_Contains(t *testing.T) {
	tests := []struct {
		name     string
		window   QuietHours
		t        time.Time
		expected bool
	}{
		{"wrapping window late evening", QuietHours{Start: 22, End: 8}, at(23, 0, time.UTC), true},
		{"wrapping window early morning", QuietHours{Start: 22, End: 8}, at(3, 30, time.UTC), true},
		{"wrapping window daytime", QuietHours{Start: 22, End: 8}, at(9, 0, time.UTC), false},
		{"wrapping window end is exclusive", QuietHours{Start: 22, End: 8}, at(8, 0, time.UTC), false},
		{"wrapping window start is inclusive", QuietHours{Start: 22, End: 8}, at(22, 0, time.UTC), true},
		{"same-day window inside", QuietHours{Start: 12, End: 14}, at(13, 59, time.UTC), true},
		{"same-day window outside", QuietHours{Start: 12, End: 14}, at(14, 0, time.UTC), false},
		{"empty window", QuietHours{Start: 5, End: 5}, at(5, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.window.Contains(tt.t))
		})
	}
}

func TestQuietHours_ContainsUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	window := QuietHours{Start: 22, End: 8, Location: tokyo}

	// 14:00 UTC is 23:00 in Tokyo.
	assert.True(t, window.Contains(at(14, 0, time.UTC)))
	// 00:00 UTC is 09:00 in Tokyo.
	assert.False(t, window.Contains(at(0, 0, time.UTC)))
}

func TestQuietHours_EndAfter(t *testing.T) {
	window := QuietHours{Start: 22, End: 8}

	t.Run("before midnight rolls to next day", func(t *testing.T) {
		end := window.EndAfter(at(23, 15, time.UTC))
		assert.Equal(t, time.Date(2026, time.March, 11, 8, 0, 0, 0, time.UTC), end.UTC())
	})

	t.Run("after midnight ends same day", func(t *testing.T) {
		end := window.EndAfter(at(2, 0, time.UTC))
		assert.Equal(t, time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC), end.UTC())
	})

	t.Run("outside window returns input", func(t *testing.T) {
		now := at(12, 0, time.UTC)
		assert.Equal(t, now, window.EndAfter(now))
	})
}

func TestLoadLocation(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
	assert.Equal(t, "Europe/Berlin", LoadLocation("Europe/Berlin").String())
}
