package policy

import (
	"math"
	"time"
)

// A Timeout function returns the upper bound on the duration of the numbered
// dial attempt. Because a failed dial attempt is not retried before its
// timeout elapses, Timeout functions double as reconnect pacing: a growing
// timeout is a growing delay between attempts.
type Timeout func(attempt int) time.Duration

// ConstantTimeout returns a Timeout function that bounds every attempt by the
// same duration.
func ConstantTimeout(duration time.Duration) Timeout {
	return func(int) time.Duration {
		return duration
	}
}

// ExponentialBackoff returns a Timeout function that scales the wrapped
// Timeout by rate for every attempt after the first.
func ExponentialBackoff(rate float64, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		return time.Duration(float64(timeout(attempt)) * math.Pow(rate, float64(attempt-1)))
	}
}

// MaxTimeout returns a Timeout function that clamps the wrapped Timeout to an
// upper bound, no matter how many attempts there have been.
func MaxTimeout(duration time.Duration, timeout Timeout) Timeout {
	return func(attempt int) time.Duration {
		if bounded := timeout(attempt); bounded < duration {
			return bounded
		}
		return duration
	}
}
