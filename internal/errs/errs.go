// Package errs defines the tagged error taxonomy shared by all Relay
// components. Every failure that crosses a component boundary is an *Error
// carrying a Kind and a Severity; the retry engine uses the Kind alone to
// decide retryability.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and routing decisions.
type Kind string

const (
	KindConnection    Kind = "connection"
	KindData          Kind = "data"
	KindTrading       Kind = "trading"
	KindConfiguration Kind = "configuration"
	KindSystem        Kind = "system"

	// Argument/programmer error kinds. Never retried.
	KindValue     Kind = "value"
	KindType      Kind = "type"
	KindKey       Kind = "key"
	KindAttribute Kind = "attribute"

	// KindTimeout marks deadline expiry on a service call. Retryable.
	KindTimeout Kind = "timeout"
)

// Severity grades operational impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the single error value used across Relay.
type Error struct {
	Kind     Kind
	Severity Severity
	Message  string
	Context  map[string]interface{}
	Time     time.Time
	Err      error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext attaches a key/value pair to the error's context map and
// returns the error for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind and severity.
func New(kind Kind, severity Severity, message string) *Error {
	return &Error{
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Time:     time.Now().UTC(),
	}
}

// Wrap creates an error of the given kind and severity wrapping a cause.
func Wrap(kind Kind, severity Severity, message string, err error) *Error {
	return &Error{
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Time:     time.Now().UTC(),
		Err:      err,
	}
}

// Connection creates a connection error (medium severity).
func Connection(message string, err error) *Error {
	return Wrap(KindConnection, SeverityMedium, message, err)
}

// Timeout creates a timeout error (medium severity).
func Timeout(message string, err error) *Error {
	return Wrap(KindTimeout, SeverityMedium, message, err)
}

// Trading creates a trading error (high severity). Broker refusals and bad
// order states; never retried automatically.
func Trading(message string, err error) *Error {
	return Wrap(KindTrading, SeverityHigh, message, err)
}

// Data creates a data error (medium severity).
func Data(message string, err error) *Error {
	return Wrap(KindData, SeverityMedium, message, err)
}

// Configuration creates a configuration error (critical severity). Fatal at
// initialization.
func Configuration(message string, err error) *Error {
	return Wrap(KindConfiguration, SeverityCritical, message, err)
}

// System creates a system error (high severity).
func System(message string, err error) *Error {
	return Wrap(KindSystem, SeverityHigh, message, err)
}

// Value creates an argument error (low severity). Never retried.
func Value(message string) *Error {
	return New(KindValue, SeverityLow, message)
}

// Key creates a lookup error (low severity). Unknown ids and missing map
// entries; never retried.
func Key(message string) *Error {
	return New(KindKey, SeverityLow, message)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindSystem otherwise. Plain errors are treated as system faults so the
// retry engine has a deterministic answer for every error it sees.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// SeverityOf returns the Severity of err, defaulting to medium for plain
// errors.
func SeverityOf(err error) Severity {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity
	}
	return SeverityMedium
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
