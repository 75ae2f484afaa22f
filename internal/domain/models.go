// Package domain holds the core value types and ports shared by all Relay
// components: signals, executions, orders, fills, positions, and the
// broker-agnostic interfaces the service runtime dispatches to.
package domain

import "time"

// SecurityType tags an instrument's asset class.
type SecurityType string

const (
	SecurityStock  SecurityType = "STK"
	SecurityFuture SecurityType = "FUT"
	SecurityOption SecurityType = "OPT"
	SecurityForex  SecurityType = "CASH"
)

// Instrument identifies a tradeable security. Treated as a value type.
type Instrument struct {
	Symbol string       `json:"symbol"`
	Type   SecurityType `json:"type"`
}

// Stock is a convenience constructor for equity instruments.
func Stock(symbol string) Instrument {
	return Instrument{Symbol: symbol, Type: SecurityStock}
}

// Side is the direction a signal asks for.
type Side string

const (
	SideBuy        Side = "buy"
	SideSell       Side = "sell"
	SideHold       Side = "hold"
	SideCloseLong  Side = "close_long"
	SideCloseShort Side = "close_short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideHold, SideCloseLong, SideCloseShort:
		return true
	}
	return false
}

// RequiresQuantity reports whether the side needs a non-zero target quantity.
// Hold and close-* derive their quantity from the current position.
func (s Side) RequiresQuantity() bool {
	return s == SideBuy || s == SideSell
}

// Urgency grades how aggressively a signal should be worked.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Signal is a decision record emitted by an ML model. Immutable once
// submitted.
type Signal struct {
	ID           string        `json:"id"`
	Instrument   Instrument    `json:"instrument"`
	Side         Side          `json:"side"`
	TargetQty    float64       `json:"target_qty"` // signed; 0 only for hold/close-*
	Confidence   float64       `json:"confidence"` // [0,1]
	Timestamp    time.Time     `json:"timestamp"`  // emission time at the producer
	ModelVersion string        `json:"model_version"`
	Strategy     string        `json:"strategy"`
	Urgency      Urgency       `json:"urgency"`
	MaxExecTime  time.Duration `json:"max_exec_time"`

	// Optional advisory fields from the producer.
	ExpectedHoldingPeriod time.Duration `json:"expected_holding_period,omitempty"`
	ExpectedReturn        float64       `json:"expected_return,omitempty"`
	RiskScore             float64       `json:"risk_score,omitempty"`
}

// ExecutionStatus is the lifecycle state of a signal execution.
type ExecutionStatus string

const (
	ExecutionReceived  ExecutionStatus = "received"
	ExecutionValidated ExecutionStatus = "validated"
	ExecutionRejected  ExecutionStatus = "rejected"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionExecuted  ExecutionStatus = "executed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// Terminal reports whether the status is sticky.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionRejected, ExecutionExecuted, ExecutionFailed, ExecutionTimeout:
		return true
	}
	return false
}

// SignalExecution tracks one signal's journey from intake to terminal state.
// Mutated only by the execution engine; snapshots are handed to observers.
type SignalExecution struct {
	ID     string          `json:"id"`
	Signal Signal          `json:"signal"`
	Status ExecutionStatus `json:"status"`

	ReceivedAt       time.Time `json:"received_at"`
	ValidatedAt      time.Time `json:"validated_at,omitempty"`
	ExecutionStarted time.Time `json:"execution_started,omitempty"`
	ExecutionDone    time.Time `json:"execution_done,omitempty"`

	OrderIDs     []int64  `json:"order_ids,omitempty"`
	FilledQty    float64  `json:"filled_qty"`
	VWAP         float64  `json:"vwap"`
	Commission   float64  `json:"commission"`
	LatencyMs    float64  `json:"latency_ms"`
	SlippagePct  float64  `json:"slippage_pct,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	RetryCount   int      `json:"retry_count"`
	Violations   []string `json:"violations,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (e *SignalExecution) Clone() *SignalExecution {
	cp := *e
	cp.OrderIDs = append([]int64(nil), e.OrderIDs...)
	cp.Violations = append([]string(nil), e.Violations...)
	return &cp
}
