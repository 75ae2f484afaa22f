package orderbook

import (
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
)

// PublishEvents mirrors order, fill and position changes onto the event
// bus. Call once during wiring, before order flow starts.
func (b *Book) PublishEvents(evts *events.Manager) {
	b.OnOrder(func(order domain.Order) {
		switch order.Status {
		case domain.OrderSubmitted:
			if order.FilledQty == 0 {
				evts.Emit(events.OrderPlaced, "orderbook", map[string]interface{}{
					"order_id":        order.ID,
					"broker_order_id": order.BrokerOrderID,
					"symbol":          order.Instrument.Symbol,
					"action":          string(order.Action),
					"quantity":        order.Quantity,
				})
			}
		case domain.OrderCancelled, domain.OrderAPICancelled:
			evts.Emit(events.OrderCancelled, "orderbook", map[string]interface{}{
				"order_id": order.ID,
				"symbol":   order.Instrument.Symbol,
				"status":   string(order.Status),
			})
		}
	})
	b.OnFill(func(fill domain.Fill, pos domain.Position) {
		evts.Emit(events.OrderFilled, "orderbook", map[string]interface{}{
			"order_id":     fill.OrderID,
			"exec_id":      fill.ExecID,
			"symbol":       fill.Instrument.Symbol,
			"quantity":     fill.Quantity,
			"price":        fill.Price,
			"realized_pnl": fill.RealizedPnL,
		})
	})
	b.OnPosition(func(pos domain.Position) {
		evts.Emit(events.PositionChanged, "orderbook", map[string]interface{}{
			"symbol":       pos.Instrument.Symbol,
			"quantity":     pos.Quantity,
			"avg_cost":     pos.AvgCost,
			"realized_pnl": pos.RealizedPnL,
		})
	})
}
