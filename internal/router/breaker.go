package router

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one destination agent.
type BreakerState int

const (
	// BreakerClosed - normal operation, deliveries allowed.
	BreakerClosed BreakerState = iota
	// BreakerOpen - destination deemed unhealthy, deliveries fail fast.
	BreakerOpen
	// BreakerHalfOpen - cool-down elapsed, one trial delivery allowed.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// circuitBreaker tracks consecutive failures for one destination. Each
// breaker carries its own lock so unrelated destinations never contend.
type circuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	threshold   int
	coolDown    time.Duration
}

func newCircuitBreaker(threshold int, coolDown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:     BreakerClosed,
		threshold: threshold,
		coolDown:  coolDown,
	}
}

// allow reports whether a delivery attempt may proceed. An open breaker
// transitions to half-open once the cool-down has elapsed, admitting exactly
// the next attempt as a trial.
func (b *circuitBreaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.coolDown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// recordSuccess resets the breaker to closed.
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.lastFailure = time.Time{}
}

// recordFailure increments the consecutive-failure counter, opening the
// breaker at the threshold. A failure during half-open re-opens immediately.
func (b *circuitBreaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = now
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// snapshot returns the current state for status reporting.
func (b *circuitBreaker) snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// BreakerSnapshot is a point-in-time view of one destination's breaker.
type BreakerSnapshot struct {
	State       BreakerState
	Failures    int
	LastFailure time.Time
}
