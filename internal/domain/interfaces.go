package domain

import (
	"context"
	"time"
)

// BrokerClient is the broker port consumed by the service runtime. Broker
// transport specifics (IB gateway, simulator) live behind this interface.
type BrokerClient interface {
	// PlaceOrder submits an order and returns the broker-assigned order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	// CancelOrder requests cancellation of a working order.
	CancelOrder(ctx context.Context, brokerOrderID string) error
	// ModifyOrder applies field deltas to a working order.
	ModifyOrder(ctx context.Context, brokerOrderID string, changes OrderChanges) error
	// QueryOrder returns the broker's view of an order.
	QueryOrder(ctx context.Context, brokerOrderID string) (*BrokerOrderState, error)
	// QueryPosition returns the broker's view of a position.
	QueryPosition(ctx context.Context, instrument Instrument) (*Position, error)
	// LastPrice returns the most recent trade or mark price.
	LastPrice(ctx context.Context, instrument Instrument) (float64, error)
	// SubscribeFills registers a callback for fill events. The returned
	// function cancels the subscription.
	SubscribeFills(ctx context.Context, fn func(FillEvent)) (func(), error)
	// SubscribeOrderStatus registers a callback for order status updates.
	SubscribeOrderStatus(ctx context.Context, fn func(BrokerOrderState)) (func(), error)
	// Connected reports whether the broker session is usable.
	Connected() bool
	// Close releases the broker session.
	Close() error
}

// OrderChanges carries the whitelisted modifiable order fields. Nil fields
// are left untouched.
type OrderChanges struct {
	Quantity   *float64 `json:"quantity,omitempty"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	StopPrice  *float64 `json:"stop_price,omitempty"`
}

// BrokerOrderState is the broker's snapshot of an order.
type BrokerOrderState struct {
	BrokerOrderID string      `json:"broker_order_id"`
	Status        OrderStatus `json:"status"`
	FilledQty     float64     `json:"filled_qty"`
	RemainingQty  float64     `json:"remaining_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
}

// FillEvent is a raw fill notification from the broker, keyed to the local
// order via the client reference set at placement.
type FillEvent struct {
	BrokerOrderID string    `json:"broker_order_id"`
	ClientRef     string    `json:"client_ref"`
	ExecID        string    `json:"exec_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "BUY" or "SELL"
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Exchange      string    `json:"exchange,omitempty"`
	Commission    float64   `json:"commission"`
	Timestamp     time.Time `json:"timestamp"`
}

// BrokerSessionFactory creates broker sessions for the connection pool.
type BrokerSessionFactory interface {
	NewSession(ctx context.Context) (BrokerClient, error)
}

// BlobSink is the append-only audit port. Implementations must tolerate
// being called from multiple goroutines.
type BlobSink interface {
	// AppendExecutionRow writes one row per terminal execution.
	AppendExecutionRow(ctx context.Context, rec *SignalExecution) error
	// AppendFillRow writes one row per fill.
	AppendFillRow(ctx context.Context, fill *Fill) error
	// AppendMetricsSnapshot writes a batched flush of metric rows.
	AppendMetricsSnapshot(ctx context.Context, rows []MetricRow) error
}

// MetricRow is the audit representation of one metric point.
type MetricRow struct {
	Timestamp  time.Time `json:"timestamp" msgpack:"ts"`
	Type       string    `json:"type" msgpack:"type"`
	Name       string    `json:"name" msgpack:"name"`
	Value      float64   `json:"value" msgpack:"value"`
	Strategy   string    `json:"strategy,omitempty" msgpack:"strategy,omitempty"`
	Model      string    `json:"model,omitempty" msgpack:"model,omitempty"`
	Instrument string    `json:"instrument,omitempty" msgpack:"instrument,omitempty"`
}
