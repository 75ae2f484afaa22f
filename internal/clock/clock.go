// Package clock provides injected wall and monotonic clocks plus the id
// generators used across Relay. Components never call time.Now or time.Sleep
// directly; they take a Clock so retries, deadlines and timeouts are
// deterministic under test.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time and cooperative sleeping.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time
	// Since returns the elapsed time since t.
	Since(t time.Time) time.Duration
	// Sleep pauses the calling goroutine for d or until ctx is cancelled.
	// Returns ctx.Err() when cancelled early, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the production clock backed by the runtime.
type Real struct{}

// NewReal returns the production clock.
func NewReal() *Real {
	return &Real{}
}

// Now returns time.Now.
func (Real) Now() time.Time {
	return time.Now()
}

// Since returns time.Since(t).
func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep sleeps for d, waking early if ctx is cancelled.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fake is a manually advanced clock for tests. Sleep returns immediately
// after advancing the fake time, which keeps retry/backoff tests instant
// while preserving the recorded delays.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

// NewFake creates a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns elapsed fake time since t.
func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Sleep advances the fake clock by d and records the sleep.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.now = f.now.Add(d)
		f.slept = append(f.slept, d)
	}
	return nil
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Slept returns a copy of all recorded sleep durations.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}
