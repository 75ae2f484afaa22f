package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/domain"
)

func testSignal(id string) domain.Signal {
	return domain.Signal{
		ID:           id,
		Instrument:   domain.Stock("AAPL"),
		Side:         domain.SideBuy,
		TargetQty:    100,
		Confidence:   0.85,
		Timestamp:    time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		ModelVersion: "m1",
	}
}

func newTestValidator() *Validator {
	return NewValidator(DefaultLimits(), 5*time.Minute, NewModelHealthCache(), zerolog.Nop())
}

func TestValidateAcceptsWellFormedSignal(t *testing.T) {
	v := newTestValidator()
	ok, violations := v.Validate(testSignal("s1"))
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestValidateViolations(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name   string
		mutate func(*domain.Signal)
		expect string
	}{
		{"confidence above one", func(s *domain.Signal) { s.Confidence = 1.5 }, ViolationConfidenceRange},
		{"confidence negative", func(s *domain.Signal) { s.Confidence = -0.1 }, ViolationConfidenceRange},
		{"zero quantity on buy", func(s *domain.Signal) { s.TargetQty = 0 }, ViolationZeroQuantity},
		{"missing instrument", func(s *domain.Signal) { s.Instrument = domain.Instrument{} }, ViolationMissingInstrument},
		{"unknown side", func(s *domain.Signal) { s.Side = "short_squeeze" }, ViolationUnknownSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := testSignal("s1")
			tt.mutate(&sig)
			ok, violations := v.Validate(sig)
			assert.False(t, ok)
			assert.Contains(t, violations, tt.expect)
		})
	}
}

func TestValidateHoldWithoutQuantity(t *testing.T) {
	v := newTestValidator()
	sig := testSignal("s1")
	sig.Side = domain.SideHold
	sig.TargetQty = 0
	ok, violations := v.Validate(sig)
	assert.True(t, ok, "hold signals carry no quantity: %v", violations)
}

func TestAdmitConfidenceThreshold(t *testing.T) {
	v := newTestValidator()
	sig := testSignal("s1")
	sig.Confidence = 0.55 // below the 0.6 default

	ok, violations := v.Admit(sig, sig.Timestamp)
	assert.False(t, ok)
	assert.Contains(t, violations, ViolationConfidenceLow)
}

func TestAdmitStaleness(t *testing.T) {
	v := newTestValidator()
	sig := testSignal("s1")

	// Age exactly at the limit is accepted.
	ok, _ := v.Admit(sig, sig.Timestamp.Add(5*time.Minute))
	assert.True(t, ok)
	v.Complete(sig.ID)

	sig2 := testSignal("s2")
	ok, violations := v.Admit(sig2, sig2.Timestamp.Add(5*time.Minute+time.Millisecond))
	assert.False(t, ok)
	assert.Contains(t, violations, ViolationSignalStale)
}

func TestAdmitConcurrentCap(t *testing.T) {
	v := newTestValidator()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	for i := 0; i < DefaultLimits().MaxConcurrentSignals; i++ {
		sig := testSignal(fmt.Sprintf("s%d", i))
		sig.Timestamp = now
		ok, violations := v.Admit(sig, now)
		require.True(t, ok, "signal %d: %v", i, violations)
	}

	extra := testSignal("overflow")
	extra.Timestamp = now
	ok, violations := v.Admit(extra, now)
	assert.False(t, ok)
	assert.Contains(t, violations, ViolationRateLimited)

	// Completing one frees a slot.
	v.Complete("s0")
	ok, _ = v.Admit(extra, now)
	assert.True(t, ok)
}

func TestAdmitHourlyWindow(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxSignalsPerHour = 2
	limits.MaxConcurrentSignals = 100
	v := NewValidator(limits, 5*time.Minute, NewModelHealthCache(), zerolog.Nop())
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		sig := testSignal(fmt.Sprintf("s%d", i))
		sig.Timestamp = now
		ok, _ := v.Admit(sig, now)
		require.True(t, ok)
		v.Complete(sig.ID)
	}

	sig := testSignal("s3")
	sig.Timestamp = now
	ok, violations := v.Admit(sig, now)
	assert.False(t, ok)
	assert.Contains(t, violations, ViolationRateLimited)

	// The window slides: an hour later the slot is free again.
	later := now.Add(61 * time.Minute)
	sig.Timestamp = later
	ok, _ = v.Admit(sig, later)
	assert.True(t, ok)
}

func TestAdmitDailyLimitResets(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDailyTrades = 1
	limits.MaxSignalsPerHour = 100
	v := NewValidator(limits, time.Hour, NewModelHealthCache(), zerolog.Nop())
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	sig := testSignal("s1")
	sig.Timestamp = now
	ok, _ := v.Admit(sig, now)
	require.True(t, ok)
	v.Complete(sig.ID)

	sig2 := testSignal("s2")
	sig2.Timestamp = now
	ok, violations := v.Admit(sig2, now)
	assert.False(t, ok)
	assert.Contains(t, violations, ViolationDailyLimit)

	// Next calendar day resets the counter.
	nextDay := now.Add(24 * time.Hour)
	sig2.Timestamp = nextDay
	ok, _ = v.Admit(sig2, nextDay)
	assert.True(t, ok)
}

func TestAdmitModelPerformanceGate(t *testing.T) {
	models := NewModelHealthCache()
	models.Set("weak", 0.3)
	v := NewValidator(DefaultLimits(), 5*time.Minute, models, zerolog.Nop())

	sig := testSignal("s1")
	sig.ModelVersion = "weak"
	ok, violations := v.Admit(sig, sig.Timestamp)
	assert.False(t, ok)
	assert.Contains(t, violations, ViolationModelPerformance)

	// Unknown models get the benefit of the default score.
	sig.ModelVersion = "never-seen"
	ok, _ = v.Admit(sig, sig.Timestamp)
	assert.True(t, ok)
}

func TestAdmitRejectionDoesNotConsumeSlots(t *testing.T) {
	v := newTestValidator()
	sig := testSignal("s1")
	sig.Confidence = 0.1

	for i := 0; i < 5; i++ {
		ok, _ := v.Admit(sig, sig.Timestamp)
		require.False(t, ok)
	}
	assert.Equal(t, 0, v.ActiveCount())
}
