package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewBus()
	var got []*Event
	bus.Subscribe(OrderFilled, func(e *Event) { got = append(got, e) })

	bus.Emit(OrderFilled, "orderbook", map[string]interface{}{"order_id": int64(1)})
	bus.Emit(OrderCancelled, "orderbook", nil)

	require.Len(t, got, 1)
	assert.Equal(t, OrderFilled, got[0].Type)
	assert.Equal(t, "orderbook", got[0].Module)
	assert.Equal(t, int64(1), got[0].Data["order_id"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	count := 0
	cancel := bus.Subscribe(AlertRaised, func(e *Event) { count++ })

	bus.Emit(AlertRaised, "monitor", nil)
	cancel()
	bus.Emit(AlertRaised, "monitor", nil)

	assert.Equal(t, 1, count)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	a, b := 0, 0
	bus.Subscribe(SignalReceived, func(e *Event) { a++ })
	bus.Subscribe(SignalReceived, func(e *Event) { b++ })

	bus.Emit(SignalReceived, "engine", nil)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
