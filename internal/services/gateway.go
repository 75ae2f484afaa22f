package services

import (
	"context"

	"github.com/aristath/relay/internal/domain"
)

// Gateway adapts the runtime's order_management service to the order book's
// broker gateway port. Every call inherits the service's retry policy,
// breaker, and critical pool priority.
type Gateway struct {
	rt *Runtime
}

// NewGateway creates a gateway over the runtime.
func NewGateway(rt *Runtime) *Gateway {
	return &Gateway{rt: rt}
}

// PlaceOrder submits the order and returns the broker-assigned id.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	var brokerID string
	err := g.rt.Execute(ctx, "order_management", "place_order", func(ctx context.Context, client domain.BrokerClient) error {
		id, err := client.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		brokerID = id
		return nil
	})
	return brokerID, err
}

// CancelOrder cancels a working order.
func (g *Gateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return g.rt.Execute(ctx, "order_management", "cancel_order", func(ctx context.Context, client domain.BrokerClient) error {
		return client.CancelOrder(ctx, brokerOrderID)
	})
}

// ModifyOrder applies changes to a working order.
func (g *Gateway) ModifyOrder(ctx context.Context, brokerOrderID string, changes domain.OrderChanges) error {
	return g.rt.Execute(ctx, "order_management", "modify_order", func(ctx context.Context, client domain.BrokerClient) error {
		return client.ModifyOrder(ctx, brokerOrderID, changes)
	})
}

// QueryOrder fetches the broker's view of a working order.
func (g *Gateway) QueryOrder(ctx context.Context, brokerOrderID string) (*domain.BrokerOrderState, error) {
	var state *domain.BrokerOrderState
	err := g.rt.Execute(ctx, "order_management", "query_order", func(ctx context.Context, client domain.BrokerClient) error {
		s, err := client.QueryOrder(ctx, brokerOrderID)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	return state, err
}

// QueryPosition fetches the broker's view of a position through the market
// data service.
func (g *Gateway) QueryPosition(ctx context.Context, instrument domain.Instrument) (*domain.Position, error) {
	var pos *domain.Position
	err := g.rt.Execute(ctx, "market_data", "query_position", func(ctx context.Context, client domain.BrokerClient) error {
		p, err := client.QueryPosition(ctx, instrument)
		if err != nil {
			return err
		}
		pos = p
		return nil
	})
	return pos, err
}
