package ibgateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/domain"
)

// Config holds the gateway endpoints and credentials.
type Config struct {
	BaseURL string // REST base, e.g. http://localhost:5000
	WSURL   string // stream, e.g. ws://localhost:5000/v1/stream
	APIKey  string
}

// Gateway combines the REST client and the websocket stream into the broker
// client port. One Gateway backs all pool sessions; the stream is shared.
type Gateway struct {
	*Client
	stream *Stream
	log    zerolog.Logger
}

// New builds a gateway and starts its stream.
func New(ctx context.Context, cfg Config, log zerolog.Logger) *Gateway {
	client := NewClient(cfg.BaseURL, log)
	if cfg.APIKey != "" {
		client.SetAPIKey(cfg.APIKey)
	}
	stream := NewStream(cfg.WSURL, log)
	stream.Start(ctx)

	return &Gateway{
		Client: client,
		stream: stream,
		log:    log.With().Str("client", "ibgateway").Logger(),
	}
}

// NewSession satisfies the session factory; the REST surface is stateless,
// so every pool session shares the one gateway.
func (g *Gateway) NewSession(ctx context.Context) (domain.BrokerClient, error) {
	return g, nil
}

// SubscribeFills registers a fill callback on the shared stream.
func (g *Gateway) SubscribeFills(ctx context.Context, fn func(domain.FillEvent)) (func(), error) {
	return g.stream.SubscribeFills(fn), nil
}

// SubscribeOrderStatus registers an order status callback on the shared
// stream.
func (g *Gateway) SubscribeOrderStatus(ctx context.Context, fn func(domain.BrokerOrderState)) (func(), error) {
	return g.stream.SubscribeOrderStatus(fn), nil
}

// Connected reports whether the event stream is live.
func (g *Gateway) Connected() bool {
	return g.stream.Connected()
}

// Close stops the stream.
func (g *Gateway) Close() error {
	g.stream.Close()
	return nil
}

var (
	_ domain.BrokerClient         = (*Gateway)(nil)
	_ domain.BrokerSessionFactory = (*Gateway)(nil)
)
