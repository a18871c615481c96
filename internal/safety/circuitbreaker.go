package safety

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig tunes one breaker instance (spec §3, §4.6).
type CircuitBreakerConfig struct {
	Name            string
	ErrorThreshold  int // percentage, default 50
	VolumeThreshold uint32
	TimeoutMs       int // window over which counts reset while closed (0: never)
	ResetTimeoutMs  int // time spent open before trying half-open
}

const (
	DefaultErrorThresholdPercent = 50
	DefaultVolumeThreshold       = 10
	DefaultResetTimeoutMs        = 30000
)

// Observation is an event a CircuitBreaker emits for the Supervisor to
// surface to operators (spec §4.6).
type Observation string

const (
	ObsOpen     Observation = "open"
	ObsClose    Observation = "close"
	ObsHalfOpen Observation = "half-open"
	ObsReject   Observation = "reject"
	ObsSuccess  Observation = "success"
	ObsFailure  Observation = "failure"
	ObsTimeout  Observation = "timeout"
)

// CircuitBreaker wraps gobreaker's generic breaker with the fixed
// threshold/volume semantics spec §4.6 describes, plus an observation
// callback.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker[any]
	onObs  func(Observation)
	cfg    CircuitBreakerConfig
}

func NewCircuitBreaker(cfg CircuitBreakerConfig, onObs func(Observation)) *CircuitBreaker {
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultErrorThresholdPercent
	}
	if cfg.VolumeThreshold == 0 {
		cfg.VolumeThreshold = DefaultVolumeThreshold
	}
	if cfg.ResetTimeoutMs <= 0 {
		cfg.ResetTimeoutMs = DefaultResetTimeoutMs
	}
	if onObs == nil {
		onObs = func(Observation) {}
	}
	c := &CircuitBreaker{onObs: onObs, cfg: cfg}
	settings := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		Timeout:  time.Duration(cfg.ResetTimeoutMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.VolumeThreshold {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio*100 >= float64(cfg.ErrorThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				c.onObs(ObsOpen)
			case gobreaker.StateClosed:
				c.onObs(ObsClose)
			case gobreaker.StateHalfOpen:
				c.onObs(ObsHalfOpen)
			}
		},
	}
	c.cb = gobreaker.NewCircuitBreaker[any](settings)
	return c
}

// ErrOpen is returned by Execute when the breaker rejects the call.
var ErrOpen = gobreaker.ErrOpenState

// Execute runs fn through the breaker, translating its outcome into the
// observation stream.
func (c *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	res, err := c.cb.Execute(fn)
	switch {
	case err == nil:
		c.onObs(ObsSuccess)
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		c.onObs(ObsReject)
	default:
		c.onObs(ObsFailure)
	}
	return res, err
}

// State returns the breaker's current state name: "closed", "open", or
// "half-open".
func (c *CircuitBreaker) State() string {
	switch c.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func (c *CircuitBreaker) String() string {
	return fmt.Sprintf("breaker(%s)=%s", c.cfg.Name, c.State())
}
