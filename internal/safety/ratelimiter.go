// Package safety implements the daemon's spawn-rate limiting, restart
// debouncing, and circuit breaking (spec §4.6), grounded on
// golang.org/x/time/rate and github.com/sony/gobreaker/v2 the way
// tomtom215-cartographus wires them (internal/auth/middleware.go for the
// limiter, internal/eventprocessor/circuitbreaker.go for the breaker).
package safety

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket over spawn operations: capacity
// maxOpsPerMinute, refilled continuously at that rate (so in practice
// tokens never accumulate past capacity — matching cartographus's use of
// rate.NewLimiter with a burst equal to the refill rate).
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	queued  int
}

// NewRateLimiter builds a limiter refilling maxOpsPerMinute tokens every
// 60 seconds, burst-capped at maxOpsPerMinute.
func NewRateLimiter(maxOpsPerMinute int) *RateLimiter {
	if maxOpsPerMinute < 1 {
		maxOpsPerMinute = 1
	}
	r := rate.Limit(float64(maxOpsPerMinute) / 60.0)
	return &RateLimiter{limiter: rate.NewLimiter(r, maxOpsPerMinute)}
}

// Submit runs fn once a token is available, blocking (via ctx-bounded
// wait) the caller's goroutine — not the control-plane executor itself,
// which enqueues the call rather than waiting on it inline.
func (l *RateLimiter) Submit(ctx context.Context, fn func()) error {
	l.mu.Lock()
	l.queued++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.queued--
		l.mu.Unlock()
	}()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	fn()
	return nil
}

// Allow reports whether a token is immediately available without
// consuming the wait path; used by callers that want to reject fast
// rather than queue.
func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// QueueDepth returns the number of calls currently waiting on Submit.
func (l *RateLimiter) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queued
}

// SetRate reconfigures the bucket, used when safety config changes on
// reload.
func (l *RateLimiter) SetRate(maxOpsPerMinute int) {
	if maxOpsPerMinute < 1 {
		maxOpsPerMinute = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter.SetLimit(rate.Limit(float64(maxOpsPerMinute) / 60.0))
	l.limiter.SetBurst(maxOpsPerMinute)
}
