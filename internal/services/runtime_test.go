package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/breaker"
	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
	"github.com/aristath/relay/internal/pool"
	"github.com/aristath/relay/internal/retry"
)

// stubClient lets tests script op outcomes via Execute's closure; the
// runtime only hands it through.
type stubClient struct{}

func (stubClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	return "", nil
}
func (stubClient) CancelOrder(ctx context.Context, id string) error { return nil }
func (stubClient) ModifyOrder(ctx context.Context, id string, ch domain.OrderChanges) error {
	return nil
}
func (stubClient) QueryOrder(ctx context.Context, id string) (*domain.BrokerOrderState, error) {
	return nil, nil
}
func (stubClient) QueryPosition(ctx context.Context, in domain.Instrument) (*domain.Position, error) {
	return nil, nil
}
func (stubClient) LastPrice(ctx context.Context, in domain.Instrument) (float64, error) {
	return 0, nil
}
func (stubClient) SubscribeFills(ctx context.Context, fn func(domain.FillEvent)) (func(), error) {
	return func() {}, nil
}
func (stubClient) SubscribeOrderStatus(ctx context.Context, fn func(domain.BrokerOrderState)) (func(), error) {
	return func() {}, nil
}
func (stubClient) Connected() bool { return true }
func (stubClient) Close() error    { return nil }

func newTestRuntime() (*Runtime, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	rtry := retry.NewEngine(clk, rand.New(rand.NewSource(1)), zerolog.Nop())
	rt := NewDefaultRuntime(nil, rtry, clk, zerolog.Nop())
	for _, cfg := range DefaultServices() {
		rt.Inject(cfg.Name, stubClient{})
	}
	return rt, clk
}

func TestExecuteUnknownService(t *testing.T) {
	rt, _ := newTestRuntime()
	err := rt.Execute(context.Background(), "nope", "op", func(ctx context.Context, c domain.BrokerClient) error {
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValue, errs.KindOf(err))
}

func TestExecuteSuccessRecordsMetrics(t *testing.T) {
	rt, _ := newTestRuntime()
	err := rt.Execute(context.Background(), "order_management", "place_order", func(ctx context.Context, c domain.BrokerClient) error {
		return nil
	})
	require.NoError(t, err)

	for _, h := range rt.Health() {
		if h.Name == "order_management" {
			assert.Equal(t, int64(1), h.Total)
			assert.Equal(t, int64(0), h.Failed)
			assert.Equal(t, 1.0, h.SuccessRate)
			return
		}
	}
	t.Fatal("order_management not found in health report")
}

func TestExecuteRetriesConnectionErrors(t *testing.T) {
	rt, _ := newTestRuntime()
	calls := 0
	err := rt.Execute(context.Background(), "market_data", "quote", func(ctx context.Context, c domain.BrokerClient) error {
		calls++
		if calls < 2 {
			return errs.Connection("flap", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecuteTradingErrorNotRetried(t *testing.T) {
	rt, _ := newTestRuntime()
	calls := 0
	err := rt.Execute(context.Background(), "order_management", "place_order", func(ctx context.Context, c domain.BrokerClient) error {
		calls++
		return errs.Trading("rejected: insufficient margin", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var tagged *errs.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, "order_management", tagged.Context["service"])
	assert.Equal(t, "place_order", tagged.Context["operation"])
	assert.Contains(t, tagged.Context, "health_score")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	rt, _ := newTestRuntime()
	for i := 0; i < 6; i++ {
		_ = rt.Execute(context.Background(), "order_management", "place_order", func(ctx context.Context, c domain.BrokerClient) error {
			return errs.Trading("refused", nil)
		})
	}

	for _, h := range rt.Health() {
		if h.Name == "order_management" {
			assert.Equal(t, breaker.StateOpen, h.Breaker)
			return
		}
	}
	t.Fatal("order_management not found")
}

func TestHealthScoreDegradesWithFailures(t *testing.T) {
	rt, _ := newTestRuntime()
	healthy := rt.HealthScore("market_data")
	assert.GreaterOrEqual(t, healthy, 90.0)

	for i := 0; i < 10; i++ {
		_ = rt.Execute(context.Background(), "market_data", "quote", func(ctx context.Context, c domain.BrokerClient) error {
			return errs.Trading("bad", nil)
		})
	}
	degraded := rt.HealthScore("market_data")
	assert.Less(t, degraded, healthy)
	assert.Equal(t, StatusDown, rt.StatusOf("market_data"))
}

func TestStatusBuckets(t *testing.T) {
	rt, _ := newTestRuntime()
	// A service with no breaker, no pool, perfect metrics scores 100.
	rt.Register(Config{
		Name:    "custom",
		Retry:   retry.NewPolicy(1, time.Second, time.Second, retry.StrategyFixed),
		Timeout: time.Second,
	})
	rt.Inject("custom", stubClient{})
	require.NoError(t, rt.Execute(context.Background(), "custom", "noop", func(ctx context.Context, c domain.BrokerClient) error {
		return nil
	}))
	assert.Equal(t, StatusOperational, rt.StatusOf("custom"))
}

func TestExecuteThroughPool(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	rtry := retry.NewEngine(clk, rand.New(rand.NewSource(1)), zerolog.Nop())

	cfg := pool.DefaultConfig()
	cfg.MinConnections = 0
	cfg.MaxConnections = 1
	cfg.HealthCheckInterval = time.Hour
	p := pool.New(cfg, factoryFunc(func(ctx context.Context) (domain.BrokerClient, error) {
		return stubClient{}, nil
	}), clk, zerolog.Nop())

	rt := NewDefaultRuntime(p, rtry, clk, zerolog.Nop())
	err := rt.Execute(context.Background(), "market_data", "quote", func(ctx context.Context, c domain.BrokerClient) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Total)
	assert.Equal(t, 1, p.Stats().Free, "session returned to the pool after the call")
}

type factoryFunc func(ctx context.Context) (domain.BrokerClient, error)

func (f factoryFunc) NewSession(ctx context.Context) (domain.BrokerClient, error) {
	return f(ctx)
}
