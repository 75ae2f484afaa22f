package domain

import "time"

// OrderAction is the direction of a broker order. The order book only ever
// sees action plus magnitude; signed quantities stop at the signal boundary.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderMarket        OrderType = "MKT"
	OrderLimit         OrderType = "LMT"
	OrderStop          OrderType = "STP"
	OrderStopLimit     OrderType = "STP LMT"
	OrderTrail         OrderType = "TRAIL"
	OrderMarketOnClose OrderType = "MOC"
	OrderLimitOnClose  OrderType = "LOC"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus is the broker-side lifecycle state of an order.
type OrderStatus string

const (
	OrderPendingSubmit OrderStatus = "pending_submit"
	OrderPreSubmitted  OrderStatus = "pre_submitted"
	OrderSubmitted     OrderStatus = "submitted"
	OrderPartialFilled OrderStatus = "partial_filled"
	OrderFilled        OrderStatus = "filled"
	OrderCancelled     OrderStatus = "cancelled"
	OrderAPICancelled  OrderStatus = "api_cancelled"
	OrderPendingCancel OrderStatus = "pending_cancel"
	OrderInactive      OrderStatus = "inactive"
)

// Terminal reports whether no further fills or transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderAPICancelled, OrderInactive:
		return true
	}
	return false
}

// Active reports whether the order can still receive fills.
func (s OrderStatus) Active() bool {
	switch s {
	case OrderPendingSubmit, OrderPreSubmitted, OrderSubmitted, OrderPartialFilled, OrderPendingCancel:
		return true
	}
	return false
}

// OrderRequest describes an order to be placed.
type OrderRequest struct {
	Instrument  Instrument  `json:"instrument"`
	Action      OrderAction `json:"action"`
	Quantity    float64     `json:"quantity"` // > 0
	Type        OrderType   `json:"type"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	StopPrice   float64     `json:"stop_price,omitempty"`
	TIF         TimeInForce `json:"tif,omitempty"`
	OutsideRTH  bool        `json:"outside_rth,omitempty"`
	ParentID    int64       `json:"parent_id,omitempty"`
	ClientRef   string      `json:"client_ref,omitempty"` // correlation id, usually the execution id
}

// Order is the order book's record of one broker order.
// Invariant: FilledQty + RemainingQty == Quantity while non-terminal; once
// FilledQty == Quantity the status is filled; once cancelled no further
// fills are accepted.
type Order struct {
	ID            int64       `json:"id"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Instrument    Instrument  `json:"instrument"`
	Action        OrderAction `json:"action"`
	Quantity      float64     `json:"quantity"`
	Type          OrderType   `json:"type"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	TIF           TimeInForce `json:"tif,omitempty"`
	Status        OrderStatus `json:"status"`
	FilledQty     float64     `json:"filled_qty"`
	RemainingQty  float64     `json:"remaining_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	LastFillQty   float64     `json:"last_fill_qty,omitempty"`
	LastFillPx    float64     `json:"last_fill_px,omitempty"`
	Commission    float64     `json:"commission"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	SubmittedAt   time.Time   `json:"submitted_at,omitempty"`
	FilledAt      time.Time   `json:"filled_at,omitempty"`
	ParentID      int64       `json:"parent_id,omitempty"`
	ClientRef     string      `json:"client_ref,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Clone returns a copy safe to hand to observers.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// Fill is a broker-reported execution event against an order. Immutable.
type Fill struct {
	OrderID     int64       `json:"order_id"`
	ExecID      string      `json:"exec_id"` // broker-assigned, unique
	Instrument  Instrument  `json:"instrument"`
	Action      OrderAction `json:"action"`
	Quantity    float64     `json:"quantity"` // > 0
	Price       float64     `json:"price"`    // > 0
	Exchange    string      `json:"exchange,omitempty"`
	Commission  float64     `json:"commission"`
	RealizedPnL float64     `json:"realized_pnl"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SignedQty returns the position delta this fill applies.
func (f *Fill) SignedQty() float64 {
	if f.Action == ActionSell {
		return -f.Quantity
	}
	return f.Quantity
}

// Position is the net holding for one instrument, derived from fills.
// Quantity is signed: long positive, short negative, flat zero. AvgCost is
// zero while flat.
type Position struct {
	Instrument  Instrument `json:"instrument"`
	Quantity    float64    `json:"quantity"`
	AvgCost     float64    `json:"avg_cost"`
	RealizedPnL float64    `json:"realized_pnl"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy safe to hand to observers.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
