// Package breaker implements the three-state circuit breaker (closed, open,
// half-open) wrapped around broker-facing operations. Failures the operation
// propagates count toward opening; rejections while open do not.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/errs"
)

// State is the breaker's finite-state-machine state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker trips open after Threshold consecutive failures and allows a
// single probe after Timeout has elapsed. Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	clk       clock.Clock
	log       zerolog.Logger

	onChange func(name string, from, to State)

	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	openedAt     time.Time
}

// OnChange registers a state transition callback. Set during wiring; the
// callback runs outside the breaker lock.
func (b *Breaker) OnChange(fn func(name string, from, to State)) { b.onChange = fn }

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil && from != to {
		b.onChange(b.name, from, to)
	}
}

// New creates a closed breaker.
func New(name string, threshold int, timeout time.Duration, clk clock.Clock, log zerolog.Logger) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		clk:       clk,
		log:       log.With().Str("component", "breaker").Str("breaker", name).Logger(),
		state:     StateClosed,
	}
}

// State returns the current state, accounting for open-timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clk.Since(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastFailure returns the instant of the most recent counted failure.
func (b *Breaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// Do runs op under the breaker. While open and before the timeout, the call
// is rejected without invoking op.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := op(ctx)
	b.after(err)
	return err
}

// before decides whether the call may proceed, transitioning open ->
// half-open when the timeout has elapsed.
func (b *Breaker) before() error {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateOpen:
		if b.clk.Since(b.openedAt) < b.timeout {
			err := errs.New(errs.KindConnection, errs.SeverityHigh, "circuit breaker open").
				WithContext("breaker", b.name).
				WithContext("retry_after", (b.timeout - b.clk.Since(b.openedAt)).String())
			b.mu.Unlock()
			return err
		}
		b.state = StateHalfOpen
		b.log.Info().Msg("Circuit breaker half-open, allowing probe")
	case StateHalfOpen, StateClosed:
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return nil
}

// after records the call outcome and drives the state transitions.
func (b *Breaker) after(err error) {
	b.mu.Lock()
	from := b.state

	if err == nil {
		if b.state == StateHalfOpen {
			b.log.Info().Msg("Probe succeeded, circuit breaker closed")
		}
		b.state = StateClosed
		b.failures = 0
		to := b.state
		b.mu.Unlock()
		b.notify(from, to)
		return
	}

	b.failures++
	b.lastFailure = b.clk.Now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.clk.Now()
		b.log.Warn().Msg("Probe failed, circuit breaker reopened")
	case StateClosed:
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.clk.Now()
			b.log.Warn().
				Int("failures", b.failures).
				Int("threshold", b.threshold).
				Msg("Failure threshold reached, circuit breaker open")
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Reset force-closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}
