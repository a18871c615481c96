package procmodel

import "time"

// BackoffKind selects the restart delay curve.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffPolicy computes the delay before the Nth restart attempt.
type BackoffPolicy struct {
	Kind        BackoffKind
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoffPolicy matches the defaults implied by spec §4.1: a
// ceiling of 10 attempts before the component gives up.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Kind:        BackoffExponential,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the backoff for the given 1-indexed attempt number.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Kind {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt)
	default:
		d = p.BaseDelay * time.Duration(1<<uint(attempt-1))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ExceedsCeiling reports whether attempt has passed the configured cap.
func (p BackoffPolicy) ExceedsCeiling(attempt int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 10
	}
	return attempt > max
}
