package queue

import "time"

// Backoff computes retry delays: Initial * Multiplier^(retry-1), capped at Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the default retry policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    1 * time.Minute,
		Max:        1 * time.Hour,
		Multiplier: 2.0,
	}
}

// Delay returns the wait before retry number retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	backoff := float64(b.Initial)
	for i := 1; i < retry; i++ {
		backoff *= b.Multiplier
		if backoff >= float64(b.Max) {
			return b.Max
		}
	}

	if backoff > float64(b.Max) {
		return b.Max
	}
	return time.Duration(backoff)
}

// Next returns the earliest re-dispatch time for retry number retry.
func (b Backoff) Next(now time.Time, retry int) time.Time {
	return now.Add(b.Delay(retry))
}
