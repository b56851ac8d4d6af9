// Package ratelimit paces transaction submission at a fixed rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out permits evenly spaced at a fixed rate. A caller that is
// behind schedule proceeds at once but earns no burst: the next permit is one
// interval after the latest one issued.
type Limiter struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// New creates a Limiter issuing perSecond permits per second. Rates below one
// permit per second are raised to one.
func New(perSecond float64) *Limiter {
	if perSecond < 1 {
		perSecond = 1
	}
	return &Limiter{interval: time.Duration(float64(time.Second) / perSecond)}
}

// Interval returns the spacing between permits.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Rate returns the permits per second.
func (l *Limiter) Rate() float64 {
	return float64(time.Second) / float64(l.interval)
}

// Wait blocks until the caller's permit is due or ctx is done. A cancelled
// wait gives its slot back when no later permit was reserved after it.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := time.Now()
	permit := l.next
	if permit.Before(now) {
		permit = now
	}
	l.next = permit.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(permit)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.next.Equal(permit.Add(l.interval)) {
			l.next = permit
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}
