package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindTrading, SeverityHigh, "order rejected")
	assert.Equal(t, "trading: order rejected", err.Error())

	wrapped := Wrap(KindConnection, SeverityMedium, "gateway unreachable", errors.New("dial tcp: refused"))
	assert.Equal(t, "connection: gateway unreachable: dial tcp: refused", wrapped.Error())
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("socket closed")
	err := Connection("session lost", cause)

	assert.True(t, errors.Is(err, cause))

	// Wrapping through fmt keeps the taxonomy visible via errors.As
	outer := fmt.Errorf("placing order: %w", err)
	var e *Error
	assert.True(t, errors.As(outer, &e))
	assert.Equal(t, KindConnection, e.Kind)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged connection", Connection("lost", nil), KindConnection},
		{"tagged timeout", Timeout("deadline", nil), KindTimeout},
		{"wrapped tagged", fmt.Errorf("outer: %w", Trading("refused", nil)), KindTrading},
		{"plain error", errors.New("boom"), KindSystem},
		{"nil cause value", Value("qty must be positive"), KindValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWithContext(t *testing.T) {
	err := Trading("order rejected", nil).
		WithContext("service", "order_management").
		WithContext("order_id", int64(42))

	assert.Equal(t, "order_management", err.Context["service"])
	assert.Equal(t, int64(42), err.Context["order_id"])
}

func TestSeverityOf(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityOf(Configuration("bad limits", nil)))
	assert.Equal(t, SeverityMedium, SeverityOf(errors.New("plain")))
}
