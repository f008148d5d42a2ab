// Package pacer spaces outbound requests so the crawler stays under the
// upstream politeness limit.
package pacer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between BGG detail fetches
const DefaultInterval = 1100 * time.Millisecond

// Scheduler gates a unit of work until it may start
type Scheduler interface {
	Wait(ctx context.Context) error
}

// Spaced admits at most one caller per interval. A throttle signal pushes
// the next admission out by a cool-off period.
type Spaced struct {
	mu        sync.Mutex
	lim       *rate.Limiter
	interval  time.Duration
	coolUntil time.Time
}

// NewSpaced returns a scheduler with burst 1. Non-positive intervals fall
// back to DefaultInterval.
func NewSpaced(interval time.Duration) *Spaced {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Spaced{
		lim:      rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Interval returns the configured spacing
func (s *Spaced) Interval() time.Duration {
	return s.interval
}

// Wait blocks until the next slot or until ctx is done
func (s *Spaced) Wait(ctx context.Context) error {
	s.mu.Lock()
	cool := s.coolUntil
	s.mu.Unlock()

	if d := time.Until(cool); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return s.lim.Wait(ctx)
}

// CoolOff delays the next admission by at least d
func (s *Spaced) CoolOff(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(s.coolUntil) {
		s.coolUntil = until
	}
}

// Unpaced admits every caller immediately. Used by tests and one-off runs.
type Unpaced struct{}

// Wait only reports context cancellation
func (Unpaced) Wait(ctx context.Context) error {
	return ctx.Err()
}
