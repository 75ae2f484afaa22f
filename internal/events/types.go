// Package events provides the pub/sub bus connecting the execution
// pipeline to the monitor, the audit trail and the SSE stream.
package events

// EventType represents different event types
type EventType string

const (
	// Signal pipeline
	SignalReceived  EventType = "SIGNAL_RECEIVED"
	SignalValidated EventType = "SIGNAL_VALIDATED"
	SignalRejected  EventType = "SIGNAL_REJECTED"

	// Execution lifecycle
	ExecutionStarted   EventType = "EXECUTION_STARTED"
	ExecutionCompleted EventType = "EXECUTION_COMPLETED"
	ExecutionFailed    EventType = "EXECUTION_FAILED"
	ExecutionTimeout   EventType = "EXECUTION_TIMEOUT"

	// Orders and positions
	OrderPlaced     EventType = "ORDER_PLACED"
	OrderFilled     EventType = "ORDER_FILLED"
	OrderCancelled  EventType = "ORDER_CANCELLED"
	PositionChanged EventType = "POSITION_CHANGED"

	// Infrastructure
	ServiceDegraded     EventType = "SERVICE_DEGRADED"
	BreakerStateChanged EventType = "BREAKER_STATE_CHANGED"
	BrokerStatusChanged EventType = "BROKER_STATUS_CHANGED"
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"

	// Monitoring
	AlertRaised      EventType = "ALERT_RAISED"
	DashboardUpdated EventType = "DASHBOARD_UPDATED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type the SSE stream subscribes to by default.
func AllTypes() []EventType {
	return []EventType{
		SignalReceived, SignalValidated, SignalRejected,
		ExecutionStarted, ExecutionCompleted, ExecutionFailed, ExecutionTimeout,
		OrderPlaced, OrderFilled, OrderCancelled, PositionChanged,
		ServiceDegraded, BreakerStateChanged, BrokerStatusChanged, SystemStatusChanged,
		AlertRaised, DashboardUpdated, ErrorOccurred,
	}
}
