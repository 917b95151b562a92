package router

import (
	"context"
	"time"
)

// BackoffPolicy computes retry delays: base delay doubling (or multiplying)
// per attempt, capped. Kept as an explicit value so retry behaviour is
// testable without real time.
type BackoffPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultBackoffPolicy returns the production policy: 200ms base, doubling,
// capped at 10s.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  200 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   10 * time.Second,
	}
}

// Delay returns the pause before retry attempt n (n = 1 for the first retry).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Clock abstracts time so retry/backoff and breaker cool-downs can be tested
// without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
