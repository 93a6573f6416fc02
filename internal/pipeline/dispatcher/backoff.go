package dispatcher

import (
	"math"
	"time"
)

// Backoff returns the delay before retry number attempt (1-indexed):
// base * 2^(attempt-1), capped at max. The delay is always positive so a
// rescheduled job's scheduled_at strictly moves forward and the queue
// cannot busy-loop.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt <= 1 {
		return base
	}

	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d <= 0 { // float overflow past int64
		d = math.MaxInt64
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
