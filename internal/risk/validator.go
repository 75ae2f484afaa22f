package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/domain"
)

// Violation tags are stable strings so callers and tests can assert on them.
const (
	ViolationConfidenceRange    = "confidence_out_of_range"
	ViolationConfidenceLow      = "confidence_below_threshold"
	ViolationZeroQuantity       = "zero_target_quantity"
	ViolationMissingInstrument  = "missing_instrument"
	ViolationUnknownSide        = "unknown_side"
	ViolationSignalStale        = "signal_stale"
	ViolationDailyLimit         = "daily_limit_exceeded"
	ViolationRateLimited        = "rate_limited"
	ViolationModelPerformance   = "model_performance_low"
)

// Validator performs the stateless signal checks and the stateful admission
// performed inside the execution pipeline.
type Validator struct {
	limits       Limits
	maxSignalAge time.Duration
	models       *ModelHealthCache
	log          zerolog.Logger

	mu         sync.Mutex
	active     map[string]struct{} // signal ids currently in non-terminal executions
	window     []time.Time         // admission instants inside the rolling hour
	dailyCount int
	dailyDate  time.Time // calendar day the counter belongs to
}

// NewValidator creates a validator over the given limits.
func NewValidator(limits Limits, maxSignalAge time.Duration, models *ModelHealthCache, log zerolog.Logger) *Validator {
	return &Validator{
		limits:       limits,
		maxSignalAge: maxSignalAge,
		models:       models,
		log:          log.With().Str("component", "signal_validator").Logger(),
		active:       make(map[string]struct{}),
	}
}

// Validate is the pure check of the signal itself. No state is mutated.
func (v *Validator) Validate(sig domain.Signal) (bool, []string) {
	var violations []string
	if sig.Confidence < 0 || sig.Confidence > 1 {
		violations = append(violations, ViolationConfidenceRange)
	}
	if sig.Side.RequiresQuantity() && sig.TargetQty == 0 {
		violations = append(violations, ViolationZeroQuantity)
	}
	if sig.Instrument.Symbol == "" {
		violations = append(violations, ViolationMissingInstrument)
	}
	if !sig.Side.Valid() {
		violations = append(violations, ViolationUnknownSide)
	}
	return len(violations) == 0, violations
}

// Admit performs the stateful admission check. On acceptance the signal is
// recorded against the rate windows and the active set; the caller must
// call Complete when the execution reaches a terminal state.
func (v *Validator) Admit(sig domain.Signal, now time.Time) (bool, []string) {
	ok, violations := v.Validate(sig)
	if !ok {
		return false, violations
	}

	if sig.Confidence < v.limits.MinConfidenceThreshold {
		violations = append(violations, ViolationConfidenceLow)
	}
	if age := now.Sub(sig.Timestamp); age > v.maxSignalAge {
		violations = append(violations, ViolationSignalStale)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// The daily counter resets when the calendar day of now changes.
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(v.dailyDate) {
		v.dailyDate = day
		v.dailyCount = 0
	}
	if v.dailyCount >= v.limits.MaxDailyTrades {
		violations = append(violations, ViolationDailyLimit)
	}

	if len(v.active) >= v.limits.MaxConcurrentSignals {
		violations = append(violations, ViolationRateLimited)
	}

	v.pruneWindowLocked(now)
	if len(v.window) >= v.limits.MaxSignalsPerHour {
		violations = append(violations, ViolationRateLimited)
	}

	if v.models.ScoreOrDefault(sig.ModelVersion) < v.limits.MinModelPerformance {
		violations = append(violations, ViolationModelPerformance)
	}

	if len(violations) > 0 {
		v.log.Debug().
			Str("signal_id", sig.ID).
			Strs("violations", violations).
			Msg("Signal rejected by admission")
		return false, violations
	}

	v.dailyCount++
	v.window = append(v.window, now)
	v.active[sig.ID] = struct{}{}
	return true, nil
}

// Complete releases the signal's slot in the concurrent-active set.
func (v *Validator) Complete(signalID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.active, signalID)
}

// ActiveCount returns the number of admitted, non-terminal signals.
func (v *Validator) ActiveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

// pruneWindowLocked drops admission instants older than one hour.
func (v *Validator) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for ; i < len(v.window); i++ {
		if v.window[i].After(cutoff) {
			break
		}
	}
	v.window = v.window[i:]
}
