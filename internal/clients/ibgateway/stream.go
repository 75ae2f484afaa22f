package ibgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/relay/internal/domain"
)

const (
	streamBackoffMin = 1 * time.Second
	streamBackoffMax = 30 * time.Second
)

// envelope is one websocket message from the gateway.
type envelope struct {
	Type string          `json:"type"` // "fill" or "order_status"
	Data json.RawMessage `json:"data"`
}

// fillMessage is the wire form of a fill event.
type fillMessage struct {
	OrderID    string    `json:"order_id"`
	ClientRef  string    `json:"client_ref"`
	ExecID     string    `json:"exec_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Exchange   string    `json:"exchange"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// statusMessage is the wire form of an order status update.
type statusMessage struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FilledQty    float64 `json:"filled_qty"`
	RemainingQty float64 `json:"remaining_qty"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

// Stream maintains the websocket connection to the gateway and dispatches
// fills and order status updates to subscribers. Reconnects with backoff
// until its context is cancelled.
type Stream struct {
	wsURL string
	log   zerolog.Logger

	mu         sync.Mutex
	fillSubs   map[int]func(domain.FillEvent)
	statusSubs map[int]func(domain.BrokerOrderState)
	nextSub    int
	connected  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a stream for the given ws:// or wss:// URL. Call Start
// to begin receiving.
func NewStream(wsURL string, log zerolog.Logger) *Stream {
	return &Stream{
		wsURL:      wsURL,
		log:        log.With().Str("client", "ibgateway_stream").Logger(),
		fillSubs:   make(map[int]func(domain.FillEvent)),
		statusSubs: make(map[int]func(domain.BrokerOrderState)),
	}
}

// Start launches the receive loop. The loop reconnects on failure until the
// parent context is cancelled or Close is called.
func (s *Stream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	backoff := streamBackoffMin

	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		s.setConnected(false)
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("gateway stream disconnected")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > streamBackoffMax {
			backoff = streamBackoffMax
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.setConnected(true)
	s.log.Info().Str("url", s.wsURL).Msg("gateway stream connected")

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		s.dispatch(env)
	}
}

func (s *Stream) dispatch(env envelope) {
	switch env.Type {
	case "fill":
		var msg fillMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			s.log.Error().Err(err).Msg("malformed fill message")
			return
		}
		ev := domain.FillEvent{
			BrokerOrderID: msg.OrderID,
			ClientRef:     msg.ClientRef,
			ExecID:        msg.ExecID,
			Symbol:        msg.Symbol,
			Side:          msg.Side,
			Quantity:      msg.Quantity,
			Price:         msg.Price,
			Exchange:      msg.Exchange,
			Commission:    msg.Commission,
			Timestamp:     msg.Timestamp,
		}
		for _, fn := range s.fillSubscribers() {
			fn(ev)
		}
	case "order_status":
		var msg statusMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			s.log.Error().Err(err).Msg("malformed order status message")
			return
		}
		state := domain.BrokerOrderState{
			BrokerOrderID: msg.OrderID,
			Status:        domain.OrderStatus(msg.Status),
			FilledQty:     msg.FilledQty,
			RemainingQty:  msg.RemainingQty,
			AvgFillPrice:  msg.AvgFillPrice,
		}
		for _, fn := range s.statusSubscribers() {
			fn(state)
		}
	default:
		s.log.Debug().Str("type", env.Type).Msg("ignoring unknown stream message")
	}
}

// SubscribeFills registers a fill callback. The returned function cancels
// the subscription.
func (s *Stream) SubscribeFills(fn func(domain.FillEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.fillSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fillSubs, id)
	}
}

// SubscribeOrderStatus registers an order status callback.
func (s *Stream) SubscribeOrderStatus(fn func(domain.BrokerOrderState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.statusSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.statusSubs, id)
	}
}

// Connected reports whether the stream currently holds a live connection.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close stops the receive loop and waits for it to exit.
func (s *Stream) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Stream) fillSubscribers() []func(domain.FillEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(domain.FillEvent), 0, len(s.fillSubs))
	for _, fn := range s.fillSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Stream) statusSubscribers() []func(domain.BrokerOrderState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(domain.BrokerOrderState), 0, len(s.statusSubs))
	for _, fn := range s.statusSubs {
		out = append(out, fn)
	}
	return out
}
