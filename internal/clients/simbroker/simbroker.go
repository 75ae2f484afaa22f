// Package simbroker implements an in-process broker simulator. It backs
// the --sim run mode and the end-to-end tests: orders are acknowledged
// immediately and fills or cancellations are streamed back after a small
// configurable latency, per symbol script.
package simbroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

// Behavior selects what the simulator does with an accepted order.
type Behavior string

const (
	FillImmediately  Behavior = "fill"       // one full fill at the symbol price
	FillLegs         Behavior = "fill_legs"  // scripted partial fills
	AcceptThenCancel Behavior = "cancel"     // accept, then post cancelled with no fills
	NeverFill        Behavior = "never_fill" // accept and go silent
	RejectPlacement  Behavior = "reject"     // refuse the placement outright
)

// Leg is one scripted partial fill.
type Leg struct {
	Quantity float64
	Price    float64
}

// Script describes the simulator's behavior for one symbol.
type Script struct {
	Behavior Behavior
	Legs     []Leg
}

type simOrder struct {
	req       domain.OrderRequest
	filledQty float64
	status    domain.OrderStatus
}

// Broker is a scriptable in-process broker. It implements both the broker
// client and the session factory, handing out itself as the session.
type Broker struct {
	latency            time.Duration
	commissionPerShare float64
	log                zerolog.Logger

	mu         sync.Mutex
	prices     map[string]float64
	scripts    map[string]Script
	orders     map[string]*simOrder
	fillSubs   map[int]func(domain.FillEvent)
	statusSubs map[int]func(domain.BrokerOrderState)
	nextOrder  int64
	nextExec   int64
	nextSub    int
	connected  bool

	wg sync.WaitGroup
}

// New creates a connected simulator. Latency is the delay before events
// stream back; zero means a 2ms default.
func New(latency time.Duration, log zerolog.Logger) *Broker {
	if latency <= 0 {
		latency = 2 * time.Millisecond
	}
	return &Broker{
		latency:            latency,
		commissionPerShare: 0.01,
		log:                log.With().Str("component", "simbroker").Logger(),
		prices:             make(map[string]float64),
		scripts:            make(map[string]Script),
		orders:             make(map[string]*simOrder),
		fillSubs:           make(map[int]func(domain.FillEvent)),
		statusSubs:         make(map[int]func(domain.BrokerOrderState)),
		connected:          true,
	}
}

// SetPrice sets the simulated last price for a symbol. Unset symbols trade
// at 100.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetScript overrides the behavior for a symbol. The default is a single
// immediate full fill.
func (b *Broker) SetScript(symbol string, script Script) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[symbol] = script
}

// SetCommissionPerShare overrides the default 0.01 per-share commission.
func (b *Broker) SetCommissionPerShare(c float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commissionPerShare = c
}

// NewSession satisfies the session factory by handing out the simulator
// itself; all pool sessions share the one simulated gateway.
func (b *Broker) NewSession(ctx context.Context) (domain.BrokerClient, error) {
	if !b.Connected() {
		return nil, errs.Connection("simulator closed", nil)
	}
	return b, nil
}

// PlaceOrder accepts the order and schedules the symbol's scripted
// behavior.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return "", errs.Connection("simulator closed", nil)
	}
	script, scripted := b.scripts[req.Instrument.Symbol]
	if !scripted {
		script = Script{Behavior: FillImmediately}
	}
	if script.Behavior == RejectPlacement {
		b.mu.Unlock()
		return "", errs.Trading("order rejected by simulator", nil)
	}

	b.nextOrder++
	brokerID := fmt.Sprintf("SIM-%d", b.nextOrder)
	b.orders[brokerID] = &simOrder{req: req, status: domain.OrderSubmitted}
	price := b.priceLocked(req.Instrument.Symbol)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		time.Sleep(b.latency)
		switch script.Behavior {
		case FillImmediately:
			b.emitFill(brokerID, req, req.Quantity, price)
		case FillLegs:
			for _, leg := range script.Legs {
				b.emitFill(brokerID, req, leg.Quantity, leg.Price)
				time.Sleep(b.latency)
			}
		case AcceptThenCancel:
			b.emitStatus(brokerID, domain.OrderCancelled)
		case NeverFill:
		}
	}()
	return brokerID, nil
}

// CancelOrder cancels a working order and streams the status back.
func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		b.mu.Unlock()
		return errs.Key("unknown broker order: " + brokerOrderID)
	}
	order.status = domain.OrderCancelled
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		time.Sleep(b.latency)
		b.emitStatus(brokerOrderID, domain.OrderCancelled)
	}()
	return nil
}

// ModifyOrder accepts whitelisted changes.
func (b *Broker) ModifyOrder(ctx context.Context, brokerOrderID string, changes domain.OrderChanges) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return errs.Key("unknown broker order: " + brokerOrderID)
	}
	if changes.Quantity != nil {
		order.req.Quantity = *changes.Quantity
	}
	if changes.LimitPrice != nil {
		order.req.LimitPrice = *changes.LimitPrice
	}
	if changes.StopPrice != nil {
		order.req.StopPrice = *changes.StopPrice
	}
	return nil
}

// QueryOrder returns the simulator's view of an order.
func (b *Broker) QueryOrder(ctx context.Context, brokerOrderID string) (*domain.BrokerOrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, errs.Key("unknown broker order: " + brokerOrderID)
	}
	return &domain.BrokerOrderState{
		BrokerOrderID: brokerOrderID,
		Status:        order.status,
		FilledQty:     order.filledQty,
		RemainingQty:  order.req.Quantity - order.filledQty,
	}, nil
}

// QueryPosition reports flat; the simulator does not track positions, the
// order book does.
func (b *Broker) QueryPosition(ctx context.Context, instrument domain.Instrument) (*domain.Position, error) {
	return &domain.Position{Instrument: instrument}, nil
}

// LastPrice returns the scripted price, defaulting to 100.
func (b *Broker) LastPrice(ctx context.Context, instrument domain.Instrument) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.priceLocked(instrument.Symbol), nil
}

// SubscribeFills registers a fill callback.
func (b *Broker) SubscribeFills(ctx context.Context, fn func(domain.FillEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.fillSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.fillSubs, id)
	}, nil
}

// SubscribeOrderStatus registers an order status callback.
func (b *Broker) SubscribeOrderStatus(ctx context.Context, fn func(domain.BrokerOrderState)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.statusSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.statusSubs, id)
	}, nil
}

// Connected reports whether the simulator accepts orders.
func (b *Broker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Close stops the simulator and waits for in-flight event deliveries.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *Broker) priceLocked(symbol string) float64 {
	if px, ok := b.prices[symbol]; ok {
		return px
	}
	return 100
}

func (b *Broker) emitFill(brokerID string, req domain.OrderRequest, qty, price float64) {
	b.mu.Lock()
	order, ok := b.orders[brokerID]
	if !ok || !b.connected {
		b.mu.Unlock()
		return
	}
	order.filledQty += qty
	if order.filledQty >= order.req.Quantity {
		order.status = domain.OrderFilled
	} else {
		order.status = domain.OrderPartialFilled
	}
	b.nextExec++
	ev := domain.FillEvent{
		BrokerOrderID: brokerID,
		ClientRef:     req.ClientRef,
		ExecID:        fmt.Sprintf("SIMEX-%d", b.nextExec),
		Symbol:        req.Instrument.Symbol,
		Side:          string(req.Action),
		Quantity:      qty,
		Price:         price,
		Exchange:      "SIM",
		Commission:    b.commissionPerShare * qty,
		Timestamp:     time.Now(),
	}
	subs := make([]func(domain.FillEvent), 0, len(b.fillSubs))
	for _, fn := range b.fillSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Broker) emitStatus(brokerID string, status domain.OrderStatus) {
	b.mu.Lock()
	order, ok := b.orders[brokerID]
	if !ok || !b.connected {
		b.mu.Unlock()
		return
	}
	order.status = status
	ev := domain.BrokerOrderState{
		BrokerOrderID: brokerID,
		Status:        status,
		FilledQty:     order.filledQty,
		RemainingQty:  order.req.Quantity - order.filledQty,
	}
	subs := make([]func(domain.BrokerOrderState), 0, len(b.statusSubs))
	for _, fn := range b.statusSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
