// Package retry implements the policy-driven retry engine wrapping every
// broker-facing operation. Retryability is decided purely from the error
// taxonomy kind; delays come from pluggable strategies with optional jitter.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/errs"
)

// Strategy selects the delay formula between attempts.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyJitteredExp Strategy = "jittered_exponential"
)

// minDelay is the floor every computed delay is clamped to.
const minDelay = 100 * time.Millisecond

// Policy configures one retry behavior. The zero value is not usable; use
// NewPolicy or one of the prebuilt constructors.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy
	Multiplier  float64
	Jitter      bool

	// RetryableKinds lists kinds that may be retried. Empty means any kind
	// not listed in NonRetryableKinds is retried.
	RetryableKinds map[errs.Kind]bool
	// NonRetryableKinds always stop the loop regardless of RetryableKinds.
	NonRetryableKinds map[errs.Kind]bool
	// Predicate, when set, overrides the kind sets for the retry decision.
	Predicate func(error) bool

	// Hooks. All optional.
	OnRetry   func(attempt int, err error, delay time.Duration)
	OnFailure func(attempts int, err error)
	OnSuccess func(attempts int)
}

// NewPolicy returns a policy with the default kind classification: argument
// errors never retry, connection/timeout/system faults do.
func NewPolicy(maxAttempts int, base, max time.Duration, strategy Strategy) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Strategy:    strategy,
		Multiplier:  2.0,
		RetryableKinds: map[errs.Kind]bool{
			errs.KindConnection: true,
			errs.KindTimeout:    true,
			errs.KindSystem:     true,
		},
		NonRetryableKinds: map[errs.Kind]bool{
			errs.KindValue:     true,
			errs.KindType:      true,
			errs.KindKey:       true,
			errs.KindAttribute: true,
		},
	}
}

// ConnectionPolicy is the prebuilt policy for broker connection churn.
func ConnectionPolicy() Policy {
	p := NewPolicy(5, 1*time.Second, 30*time.Second, StrategyJitteredExp)
	return p
}

// RateLimitPolicy is the prebuilt policy for throttled endpoints.
func RateLimitPolicy() Policy {
	return NewPolicy(10, 5*time.Second, 300*time.Second, StrategyLinear)
}

// DataDownloadPolicy is the prebuilt policy for historical data pulls.
func DataDownloadPolicy() Policy {
	return NewPolicy(3, 2*time.Second, 60*time.Second, StrategyExponential)
}

// Engine runs operations under a policy and accumulates stats.
type Engine struct {
	clk clock.Clock
	rng *rand.Rand
	log zerolog.Logger

	stats *Stats
}

// NewEngine creates a retry engine. rng may be nil, in which case a
// time-seeded source is used.
func NewEngine(clk clock.Clock, rng *rand.Rand, log zerolog.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		clk:   clk,
		rng:   rng,
		log:   log.With().Str("component", "retry").Logger(),
		stats: NewStats(),
	}
}

// Stats returns the engine's accumulated statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Do runs op under the policy. It returns the last error when attempts are
// exhausted or a non-retryable error surfaces.
func (e *Engine) Do(ctx context.Context, policy Policy, name string, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt
		lastErr = op(ctx)
		if lastErr == nil {
			if policy.OnSuccess != nil {
				policy.OnSuccess(attempt)
			}
			e.stats.recordSuccess(attempt)
			return nil
		}

		if !e.shouldRetry(policy, lastErr) || attempt == policy.MaxAttempts {
			break
		}

		delay := e.Delay(policy, attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, lastErr, delay)
		}
		e.log.Warn().
			Str("operation", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Operation failed, retrying")
		e.stats.recordWait(delay)
		if err := e.clk.Sleep(ctx, delay); err != nil {
			// Cancelled mid-backoff: surface the cancellation, not the op error.
			lastErr = errs.Timeout("retry cancelled", err)
			break
		}
	}

	if policy.OnFailure != nil {
		policy.OnFailure(attempts, lastErr)
	}
	e.stats.recordFailure(attempts, errs.KindOf(lastErr))
	return lastErr
}

// shouldRetry applies classification: non-retryable kinds always stop, then
// the custom predicate, then the retryable set.
func (e *Engine) shouldRetry(policy Policy, err error) bool {
	kind := errs.KindOf(err)
	if policy.NonRetryableKinds[kind] {
		return false
	}
	if policy.Predicate != nil {
		return policy.Predicate(err)
	}
	if len(policy.RetryableKinds) == 0 {
		return true
	}
	return policy.RetryableKinds[kind]
}

// Delay computes the backoff before the next attempt after `attempt`
// failures, clamped to [100ms, MaxDelay].
func (e *Engine) Delay(policy Policy, attempt int) time.Duration {
	base := policy.BaseDelay
	mult := policy.Multiplier
	if mult <= 0 {
		mult = 2.0
	}

	var d float64
	switch policy.Strategy {
	case StrategyFixed:
		d = float64(base)
	case StrategyLinear:
		d = float64(base) * float64(attempt)
	case StrategyExponential:
		d = float64(base) * math.Pow(mult, float64(attempt-1))
	case StrategyJitteredExp:
		d = float64(base) * math.Pow(mult, float64(attempt-1))
		// +-25% uniform jitter
		d += d * (e.rng.Float64()*0.5 - 0.25)
	default:
		d = float64(base)
	}

	// Optional +-10% jitter on the non-jittered strategies.
	if policy.Jitter && policy.Strategy != StrategyJitteredExp {
		d += d * (e.rng.Float64()*0.2 - 0.1)
	}

	delay := time.Duration(d)
	if delay < minDelay {
		delay = minDelay
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}
