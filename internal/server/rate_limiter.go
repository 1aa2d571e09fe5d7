// Package server builds the token bucket limiter that throttles each
// connection's inbound frames.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows capacity frames at once, refilled evenly over interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(capacity)), capacity)
}
