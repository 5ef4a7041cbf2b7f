// Package backoff computes exponential backoff delays with jitter, adapted
// from the teacher's cron retry helper for the worker's idle-poll loop:
// instead of backing off a failed handler invocation, it backs off the
// "nothing to claim" poll so an idle worker doesn't spin.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Idle computes the delay before a worker's next claim attempt after
// finding no job to claim, given the number of consecutive empty polls.
// Delay grows as base * 2^attempt, capped at 1s, with +/-25% jitter.
func Idle(base time.Duration, attempt int) time.Duration {
	return WithJitter(base, time.Second, attempt)
}

// WithJitter computes delay = min(base * 2^attempt, max) +/- 25% jitter.
func WithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt > 62 {
		attempt = 62 // guard against overflow from left-shifting too far
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
