package orderbook

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/events"
)

func TestPublishEvents(t *testing.T) {
	b, _, _ := newTestBook()
	bus := events.NewBus()
	b.PublishEvents(events.NewManager(bus, zerolog.Nop()))

	var seen []*events.Event
	for _, typ := range []events.EventType{
		events.OrderPlaced, events.OrderFilled, events.OrderCancelled, events.PositionChanged,
	} {
		bus.Subscribe(typ, func(ev *events.Event) { seen = append(seen, ev) })
	}

	ctx := context.Background()
	o1, err := b.Place(ctx, buyRequest("AAPL", 100))
	require.NoError(t, err)
	require.NoError(t, b.ApplyFill(fillFor(o1, "e1", 100, 100)))

	o2, err := b.Place(ctx, buyRequest("MSFT", 50))
	require.NoError(t, err)
	_, err = b.Cancel(ctx, o2.ID)
	require.NoError(t, err)

	types := make([]events.EventType, 0, len(seen))
	for _, ev := range seen {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{
		events.OrderPlaced,
		events.OrderFilled,
		events.PositionChanged,
		events.OrderPlaced,
		events.OrderCancelled,
	}, types)

	placed := seen[0]
	assert.Equal(t, "orderbook", placed.Module)
	assert.Equal(t, "AAPL", placed.Data["symbol"])
	assert.Equal(t, o1.ID, placed.Data["order_id"])

	filled := seen[1]
	assert.Equal(t, 100.0, filled.Data["price"])
	assert.Equal(t, "e1", filled.Data["exec_id"])

	position := seen[2]
	assert.Equal(t, 100.0, position.Data["quantity"])

	cancelled := seen[4]
	assert.Equal(t, o2.ID, cancelled.Data["order_id"])
	assert.Equal(t, "cancelled", cancelled.Data["status"])
}

func TestPublishEventsSkipsPartialFillAsPlacement(t *testing.T) {
	b, _, _ := newTestBook()
	bus := events.NewBus()
	b.PublishEvents(events.NewManager(bus, zerolog.Nop()))

	var placements int
	bus.Subscribe(events.OrderPlaced, func(ev *events.Event) { placements++ })

	order, err := b.Place(context.Background(), buyRequest("AAPL", 100))
	require.NoError(t, err)
	require.NoError(t, b.ApplyFill(fillFor(order, "e1", 40, 100)))
	require.NoError(t, b.ApplyFill(fillFor(order, "e2", 60, 100)))

	assert.Equal(t, 1, placements)
}
