// Package orderbook tracks the local view of orders, fills and positions.
// It is the system of record between broker acknowledgements: every order
// the engine places, every fill the broker streams back, and the resulting
// signed positions with realized P&L. Broker submission goes through a
// gateway so the service runtime's retry, breaker and pool policies apply
// to every call.
package orderbook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

// BrokerGateway submits order operations to the broker. Implementations
// route through the service runtime.
type BrokerGateway interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	ModifyOrder(ctx context.Context, brokerOrderID string, changes domain.OrderChanges) error
}

// OrderObserver is called after an order changes state. Invoked outside the
// book lock with a snapshot copy.
type OrderObserver func(domain.Order)

// FillObserver is called once per newly applied fill, with the position as
// it stands after the fill.
type FillObserver func(domain.Fill, domain.Position)

// PositionObserver is called after a position changes.
type PositionObserver func(domain.Position)

// Stats counts order outcomes since startup.
type Stats struct {
	Placed    int64 `json:"placed"`
	Rejected  int64 `json:"rejected"`
	Cancelled int64 `json:"cancelled"`
	Fills     int64 `json:"fills"`
}

// Book is the in-memory order and position ledger. A single mutex guards
// all maps; observers and broker calls run outside it.
type Book struct {
	clk     clock.Clock
	ids     *clock.OrderIDGenerator
	gateway BrokerGateway
	log     zerolog.Logger

	mu        sync.Mutex
	orders    map[int64]*domain.Order
	fills     map[string]domain.Fill // exec id -> fill
	byOrder   map[int64][]string     // order id -> exec ids, in arrival order
	byBroker  map[string]int64       // broker order id -> local id
	positions map[string]*domain.Position
	stats     Stats

	orderObservers    []OrderObserver
	fillObservers     []FillObserver
	positionObservers []PositionObserver
}

// New creates an empty book.
func New(clk clock.Clock, ids *clock.OrderIDGenerator, gateway BrokerGateway, log zerolog.Logger) *Book {
	return &Book{
		clk:       clk,
		ids:       ids,
		gateway:   gateway,
		log:       log.With().Str("component", "orderbook").Logger(),
		orders:    make(map[int64]*domain.Order),
		fills:     make(map[string]domain.Fill),
		byOrder:   make(map[int64][]string),
		byBroker:  make(map[string]int64),
		positions: make(map[string]*domain.Position),
	}
}

// OnOrder registers an observer for order state changes. Register during
// wiring; not safe to call concurrently with order flow.
func (b *Book) OnOrder(fn OrderObserver) { b.orderObservers = append(b.orderObservers, fn) }

// OnFill registers an observer for applied fills.
func (b *Book) OnFill(fn FillObserver) { b.fillObservers = append(b.fillObservers, fn) }

// OnPosition registers an observer for position changes.
func (b *Book) OnPosition(fn PositionObserver) { b.positionObservers = append(b.positionObservers, fn) }

// Place creates the order in pending_submit, submits it to the broker and
// transitions to submitted or api_cancelled depending on the outcome. The
// order is returned in both cases; the error reflects the broker call.
func (b *Book) Place(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if req.Quantity <= 0 {
		return domain.Order{}, errs.Value("order quantity must be positive")
	}
	if req.Action != domain.ActionBuy && req.Action != domain.ActionSell {
		return domain.Order{}, errs.Value("unknown order action: " + string(req.Action))
	}

	now := b.clk.Now()
	order := domain.Order{
		ID:           b.ids.Next(),
		Instrument:   req.Instrument,
		Action:       req.Action,
		Quantity:     req.Quantity,
		Type:         req.Type,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TIF:          req.TIF,
		Status:       domain.OrderPendingSubmit,
		RemainingQty: req.Quantity,
		CreatedAt:    now,
		UpdatedAt:    now,
		ParentID:     req.ParentID,
		ClientRef:    req.ClientRef,
	}

	b.mu.Lock()
	b.orders[order.ID] = &order
	b.stats.Placed++
	snapshot := order
	b.mu.Unlock()
	b.notifyOrder(snapshot)

	brokerID, err := b.gateway.PlaceOrder(ctx, req)

	// A streamed fill can beat this response and promote the order via
	// client-ref correlation; never regress a status the fill advanced.
	b.mu.Lock()
	if err != nil {
		if order.Status == domain.OrderPendingSubmit {
			order.Status = domain.OrderAPICancelled
			b.stats.Rejected++
		}
		order.Error = err.Error()
	} else {
		order.BrokerOrderID = brokerID
		b.byBroker[brokerID] = order.ID
		if order.Status == domain.OrderPendingSubmit {
			order.Status = domain.OrderSubmitted
			order.SubmittedAt = b.clk.Now()
		}
	}
	order.UpdatedAt = b.clk.Now()
	snapshot = order
	b.mu.Unlock()

	if err != nil {
		b.log.Warn().
			Int64("order_id", order.ID).
			Str("symbol", req.Instrument.Symbol).
			Err(err).
			Msg("Order submission failed")
	} else {
		b.log.Debug().
			Int64("order_id", order.ID).
			Str("broker_order_id", brokerID).
			Str("symbol", req.Instrument.Symbol).
			Str("action", string(req.Action)).
			Float64("quantity", req.Quantity).
			Msg("Order submitted")
	}
	b.notifyOrder(snapshot)
	return snapshot, err
}

// Cancel asks the broker to cancel an active order. The order sits in
// pending_cancel while the call is in flight; on failure it reverts to its
// prior status with the error recorded.
func (b *Book) Cancel(ctx context.Context, orderID int64) (domain.Order, error) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, errs.Key(fmt.Sprintf("unknown order: %d", orderID))
	}
	if order.Status.Terminal() {
		b.mu.Unlock()
		return domain.Order{}, errs.Trading(fmt.Sprintf("order %d already terminal (%s)", orderID, order.Status), nil)
	}
	prior := order.Status
	order.Status = domain.OrderPendingCancel
	order.UpdatedAt = b.clk.Now()
	brokerID := order.BrokerOrderID
	snapshot := *order
	b.mu.Unlock()
	b.notifyOrder(snapshot)

	var err error
	if brokerID != "" {
		err = b.gateway.CancelOrder(ctx, brokerID)
	}

	b.mu.Lock()
	if err != nil {
		order.Status = prior
		order.Error = err.Error()
	} else {
		order.Status = domain.OrderCancelled
		b.stats.Cancelled++
	}
	order.UpdatedAt = b.clk.Now()
	snapshot = *order
	b.mu.Unlock()

	b.notifyOrder(snapshot)
	return snapshot, err
}

// Modify applies whitelisted changes to an active order, broker first. The
// remaining quantity is rebased so filled + remaining stays equal to
// quantity.
func (b *Book) Modify(ctx context.Context, orderID int64, changes domain.OrderChanges) (domain.Order, error) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, errs.Key(fmt.Sprintf("unknown order: %d", orderID))
	}
	if order.Status.Terminal() {
		b.mu.Unlock()
		return domain.Order{}, errs.Trading(fmt.Sprintf("cannot modify terminal order %d", orderID), nil)
	}
	if changes.Quantity != nil && *changes.Quantity < order.FilledQty {
		b.mu.Unlock()
		return domain.Order{}, errs.Value("new quantity below filled quantity")
	}
	brokerID := order.BrokerOrderID
	b.mu.Unlock()

	if brokerID != "" {
		if err := b.gateway.ModifyOrder(ctx, brokerID, changes); err != nil {
			return domain.Order{}, err
		}
	}

	b.mu.Lock()
	if changes.Quantity != nil {
		order.Quantity = *changes.Quantity
		order.RemainingQty = order.Quantity - order.FilledQty
	}
	if changes.LimitPrice != nil {
		order.LimitPrice = *changes.LimitPrice
	}
	if changes.StopPrice != nil {
		order.StopPrice = *changes.StopPrice
	}
	order.UpdatedAt = b.clk.Now()
	snapshot := *order
	b.mu.Unlock()

	b.notifyOrder(snapshot)
	return snapshot, nil
}

// MarkStatus records a broker-reported status transition (order status
// stream). Terminal statuses are sticky.
func (b *Book) MarkStatus(orderID int64, status domain.OrderStatus) (domain.Order, error) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, errs.Key(fmt.Sprintf("unknown order: %d", orderID))
	}
	if order.Status.Terminal() {
		b.mu.Unlock()
		return domain.Order{}, errs.Trading(fmt.Sprintf("order %d already terminal (%s)", orderID, order.Status), nil)
	}
	order.Status = status
	order.UpdatedAt = b.clk.Now()
	if status == domain.OrderCancelled || status == domain.OrderAPICancelled {
		b.stats.Cancelled++
	}
	snapshot := *order
	b.mu.Unlock()

	b.notifyOrder(snapshot)
	return snapshot, nil
}

// AttachBroker subscribes the book to the client's fill and order status
// streams. The returned function detaches both.
func (b *Book) AttachBroker(ctx context.Context, client domain.BrokerClient) (func(), error) {
	offFills, err := client.SubscribeFills(ctx, func(ev domain.FillEvent) {
		if err := b.HandleFillEvent(ev); err != nil {
			b.log.Warn().Str("broker_order_id", ev.BrokerOrderID).Err(err).Msg("Dropping fill event")
		}
	})
	if err != nil {
		return nil, err
	}
	offStatus, err := client.SubscribeOrderStatus(ctx, func(ev domain.BrokerOrderState) {
		if err := b.HandleOrderStatus(ev); err != nil {
			b.log.Debug().Str("broker_order_id", ev.BrokerOrderID).Err(err).Msg("Ignoring status event")
		}
	})
	if err != nil {
		offFills()
		return nil, err
	}
	return func() {
		offFills()
		offStatus()
	}, nil
}

// HandleOrderStatus applies a broker-reported status change to the local
// order. Terminal local orders and unknown broker ids are ignored with an
// error for the caller to log.
func (b *Book) HandleOrderStatus(ev domain.BrokerOrderState) error {
	b.mu.Lock()
	orderID, ok := b.byBroker[ev.BrokerOrderID]
	if !ok {
		b.mu.Unlock()
		return errs.Key("status for unknown broker order: " + ev.BrokerOrderID)
	}
	current := b.orders[orderID].Status
	b.mu.Unlock()

	if current == ev.Status || current.Terminal() {
		return nil
	}
	_, err := b.MarkStatus(orderID, ev.Status)
	return err
}

// HandleFillEvent correlates a raw broker fill to its local order and
// applies it. The broker order id is the primary key; when the fill beats
// the place response the client reference resolves the order instead, and
// the broker id is adopted on the spot. Events matching neither are an
// error.
func (b *Book) HandleFillEvent(ev domain.FillEvent) error {
	b.mu.Lock()
	orderID, ok := b.byBroker[ev.BrokerOrderID]
	if !ok {
		orderID, ok = b.orderByClientRefLocked(ev)
	}
	if !ok {
		b.mu.Unlock()
		return errs.Key("fill for unknown broker order: " + ev.BrokerOrderID)
	}
	order := b.orders[orderID]
	if order.BrokerOrderID == "" && ev.BrokerOrderID != "" {
		order.BrokerOrderID = ev.BrokerOrderID
		b.byBroker[ev.BrokerOrderID] = orderID
	}
	if order.Status == domain.OrderPendingSubmit {
		order.Status = domain.OrderSubmitted
		order.SubmittedAt = b.clk.Now()
	}
	action := order.Action
	instrument := order.Instrument
	b.mu.Unlock()

	return b.ApplyFill(domain.Fill{
		OrderID:    orderID,
		ExecID:     ev.ExecID,
		Instrument: instrument,
		Action:     action,
		Quantity:   ev.Quantity,
		Price:      ev.Price,
		Exchange:   ev.Exchange,
		Commission: ev.Commission,
		Timestamp:  ev.Timestamp,
	})
}

// orderByClientRefLocked finds the newest non-terminal order carrying the
// event's client reference. Used when a fill arrives before the place
// response has recorded the broker order id.
func (b *Book) orderByClientRefLocked(ev domain.FillEvent) (int64, bool) {
	if ev.ClientRef == "" {
		return 0, false
	}
	var found int64
	var ok bool
	for id, order := range b.orders {
		if order.ClientRef != ev.ClientRef || order.Status.Terminal() {
			continue
		}
		if order.BrokerOrderID != "" && order.BrokerOrderID != ev.BrokerOrderID {
			continue
		}
		if !ok || id > found {
			found, ok = id, true
		}
	}
	return found, ok
}

// ApplyFill applies a broker fill to its order and the instrument position.
// Re-delivery of the same execution id is a no-op.
func (b *Book) ApplyFill(fill domain.Fill) error {
	b.mu.Lock()
	if _, seen := b.fills[fill.ExecID]; seen {
		b.mu.Unlock()
		return nil
	}
	order, ok := b.orders[fill.OrderID]
	if !ok {
		b.mu.Unlock()
		return errs.Key(fmt.Sprintf("fill for unknown order: %d", fill.OrderID))
	}
	if !order.Status.Active() {
		b.mu.Unlock()
		return errs.Trading(fmt.Sprintf("fill for non-active order %d (%s)", fill.OrderID, order.Status), nil)
	}
	if fill.Quantity <= 0 || fill.Quantity > order.RemainingQty {
		b.mu.Unlock()
		return errs.Value(fmt.Sprintf("fill quantity out of range for order %d", fill.OrderID))
	}

	prevNotional := order.AvgFillPrice * order.FilledQty
	order.FilledQty += fill.Quantity
	order.RemainingQty -= fill.Quantity
	order.AvgFillPrice = (prevNotional + fill.Quantity*fill.Price) / order.FilledQty
	order.LastFillQty = fill.Quantity
	order.LastFillPx = fill.Price
	order.Commission += fill.Commission
	order.UpdatedAt = b.clk.Now()
	if order.RemainingQty == 0 {
		order.Status = domain.OrderFilled
		order.FilledAt = order.UpdatedAt
	} else {
		order.Status = domain.OrderPartialFilled
	}

	pos, realizedDelta := b.applyToPositionLocked(order.Instrument.Symbol, fill.SignedQty(), fill.Price)
	fill.RealizedPnL = realizedDelta

	b.fills[fill.ExecID] = fill
	b.byOrder[fill.OrderID] = append(b.byOrder[fill.OrderID], fill.ExecID)
	b.stats.Fills++
	orderSnap := *order
	b.mu.Unlock()

	b.log.Debug().
		Int64("order_id", fill.OrderID).
		Str("exec_id", fill.ExecID).
		Float64("quantity", fill.Quantity).
		Float64("price", fill.Price).
		Msg("Fill applied")
	b.notifyOrder(orderSnap)
	for _, fn := range b.fillObservers {
		fn(fill, pos)
	}
	for _, fn := range b.positionObservers {
		fn(pos)
	}
	return nil
}

// applyToPositionLocked folds a signed fill quantity into the symbol's
// position. Same-sign fills blend the average cost; reducing fills keep
// the cost basis and realize P&L; crossing zero realizes the closed
// portion and restarts the basis at the fill price. Returns the updated
// position and the P&L this fill realized.
func (b *Book) applyToPositionLocked(symbol string, signedQty, price float64) (domain.Position, float64) {
	pos, ok := b.positions[symbol]
	if !ok {
		pos = &domain.Position{Instrument: domain.Stock(symbol)}
		b.positions[symbol] = pos
	}

	prev := pos.Quantity
	next := prev + signedQty
	var realizedDelta float64

	switch {
	case prev == 0:
		pos.AvgCost = price
	case sameSign(prev, signedQty):
		total := abs(prev)*pos.AvgCost + abs(signedQty)*price
		pos.AvgCost = total / (abs(prev) + abs(signedQty))
	case sameSign(prev, next) || next == 0:
		// Reduction within the same side: realize against the basis.
		realizedDelta = realized(prev, abs(signedQty), pos.AvgCost, price)
		if next == 0 {
			pos.AvgCost = 0
		}
	default:
		// Sign flip: close the whole previous position, open the rest
		// at the fill price.
		realizedDelta = realized(prev, abs(prev), pos.AvgCost, price)
		pos.AvgCost = price
	}

	pos.RealizedPnL += realizedDelta
	pos.Quantity = next
	pos.UpdatedAt = b.clk.Now()
	return *pos, realizedDelta
}

// realized computes the P&L of closing `closed` units of a position that
// was long (prev > 0) or short (prev < 0) at avgCost, at the given price.
func realized(prev, closed, avgCost, price float64) float64 {
	if prev > 0 {
		return closed * (price - avgCost)
	}
	return closed * (avgCost - price)
}

// Order returns a snapshot of the order, if known.
func (b *Book) Order(orderID int64) (domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *order, true
}

// Fills returns the fills applied to an order, in arrival order.
func (b *Book) Fills(orderID int64) []domain.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	execIDs := b.byOrder[orderID]
	out := make([]domain.Fill, 0, len(execIDs))
	for _, id := range execIDs {
		out = append(out, b.fills[id])
	}
	return out
}

// Position returns a snapshot of the symbol's position.
func (b *Book) Position(symbol string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns all non-flat positions sorted by symbol.
func (b *Book) Positions() []domain.Position {
	b.mu.Lock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.Symbol < out[j].Instrument.Symbol
	})
	return out
}

// ActiveOrders returns snapshots of all non-terminal orders, oldest first.
func (b *Book) ActiveOrders() []domain.Order {
	b.mu.Lock()
	out := make([]domain.Order, 0)
	for _, order := range b.orders {
		if order.Status.Active() {
			out = append(out, *order)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StaleActiveOrders returns active orders older than maxAge, for the
// supervisor's stuck-order sweep.
func (b *Book) StaleActiveOrders(maxAge time.Duration) []domain.Order {
	now := b.clk.Now()
	var out []domain.Order
	for _, order := range b.ActiveOrders() {
		if now.Sub(order.CreatedAt) > maxAge {
			out = append(out, order)
		}
	}
	return out
}

// Stats returns the order outcome counters.
func (b *Book) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Book) notifyOrder(order domain.Order) {
	for _, fn := range b.orderObservers {
		fn(order)
	}
}

func sameSign(a, b float64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
