package mailbox

import (
	"math"
	"time"
)

const (
	DefaultBackoffInterval = 3 * time.Minute
	DefaultBackoffRate     = 1.4
	DefaultMaxBackoff      = 60 * time.Minute
)

// Backoff computes when a failed payload becomes due again.
type Backoff struct {
	Interval time.Duration
	Rate     float64
	Max      time.Duration
}

// DefaultBackoff returns the 3m * 1.4^attempts policy capped at one hour.
func DefaultBackoff() Backoff {
	return Backoff{Interval: DefaultBackoffInterval, Rate: DefaultBackoffRate, Max: DefaultMaxBackoff}
}

// Delay returns the wait before the attempt numbered attempts.
func (b Backoff) Delay(attempts int) time.Duration {
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultBackoffInterval
	}
	rate := b.Rate
	if rate < 1 {
		rate = DefaultBackoffRate
	}
	limit := b.Max
	if limit <= 0 {
		limit = DefaultMaxBackoff
	}
	delay := float64(interval) * math.Pow(rate, float64(attempts))
	if delay >= float64(limit) || math.IsInf(delay, 0) {
		return limit
	}
	return time.Duration(delay)
}

// NextSchedule returns the schedule_for value after recording attempt number attempts.
// It never moves an existing schedule earlier, so an outstanding lease is preserved.
func (b Backoff) NextSchedule(attempts int, now, current time.Time) time.Time {
	next := now.Add(b.Delay(attempts))
	if current.After(next) {
		return current
	}
	return next
}
