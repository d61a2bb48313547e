// Package clock abstracts process time so that cooldowns, TTLs, and
// schedule predictions can be tested with a frozen clock.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock provides the current time and interruptible sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err()
	// in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by the system clock, localized to Loc.
type Real struct {
	Loc *time.Location
}

// NewReal creates a system clock in the given location. A nil location
// falls back to UTC.
func NewReal(loc *time.Location) *Real {
	if loc == nil {
		loc = time.UTC
	}
	return &Real{Loc: loc}
}

func (r *Real) Now() time.Time {
	return time.Now().In(r.Loc)
}

func (r *Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fixed is a Clock frozen at a settable instant. Sleep returns
// immediately after advancing the clock, so tests never block.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed creates a frozen clock at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func (f *Fixed) Sleep(_ context.Context, d time.Duration) error {
	f.Advance(d)
	return nil
}
