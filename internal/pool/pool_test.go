package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

// fakeClient is a minimal BrokerClient for pool tests.
type fakeClient struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	return "", nil
}
func (f *fakeClient) CancelOrder(ctx context.Context, id string) error { return nil }
func (f *fakeClient) ModifyOrder(ctx context.Context, id string, ch domain.OrderChanges) error {
	return nil
}
func (f *fakeClient) QueryOrder(ctx context.Context, id string) (*domain.BrokerOrderState, error) {
	return nil, nil
}
func (f *fakeClient) QueryPosition(ctx context.Context, in domain.Instrument) (*domain.Position, error) {
	return nil, nil
}
func (f *fakeClient) LastPrice(ctx context.Context, in domain.Instrument) (float64, error) {
	return 0, nil
}
func (f *fakeClient) SubscribeFills(ctx context.Context, fn func(domain.FillEvent)) (func(), error) {
	return func() {}, nil
}
func (f *fakeClient) SubscribeOrderStatus(ctx context.Context, fn func(domain.BrokerOrderState)) (func(), error) {
	return func() {}, nil
}
func (f *fakeClient) Connected() bool { return true }
func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created int
	fail    bool
}

func (f *fakeFactory) NewSession(ctx context.Context) (domain.BrokerClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errs.Connection("gateway unreachable", nil)
	}
	f.created++
	return &fakeClient{}, nil
}

func newTestPool(cfg Config) (*Pool, *fakeFactory, *clock.Fake) {
	factory := &fakeFactory{}
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	return New(cfg, factory, clk, zerolog.Nop()), factory, clk
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinConnections = 0
	cfg.MaxConnections = 2
	cfg.HealthCheckInterval = time.Hour
	return cfg
}

func TestGetCreatesUpToMax(t *testing.T) {
	p, factory, clk := newTestPool(testConfig())
	deadline := clk.Now().Add(time.Second)

	s1, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)
	s2, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, factory.created)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Busy)
	assert.Equal(t, 0, stats.Free)
}

func TestGetReusesFreedSession(t *testing.T) {
	p, factory, clk := newTestPool(testConfig())
	deadline := clk.Now().Add(time.Second)

	s1, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)
	p.Put(s1, false)

	s2, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, 1, factory.created)
}

func TestGetTimesOutWhenExhausted(t *testing.T) {
	p, _, clk := newTestPool(testConfig())
	deadline := clk.Now().Add(200 * time.Millisecond)

	_, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)
	_, err = p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)

	// Pool is full; the fake clock advances by the spin quantum each wait
	// so the deadline is reached without real sleeping.
	_, err = p.Get(context.Background(), PriorityLow, deadline)
	require.Error(t, err)
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
}

func TestPutErroredDestroysSession(t *testing.T) {
	p, _, clk := newTestPool(testConfig())
	deadline := clk.Now().Add(time.Second)

	s1, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)
	client := s1.Client.(*fakeClient)

	p.Put(s1, true)
	assert.True(t, client.closed)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Free)
}

func TestNoSessionInBothSets(t *testing.T) {
	p, _, clk := newTestPool(testConfig())
	deadline := clk.Now().Add(time.Second)

	s1, _ := p.Get(context.Background(), PriorityNormal, deadline)
	s2, _ := p.Get(context.Background(), PriorityNormal, deadline)
	p.Put(s1, false)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Free)
	assert.Equal(t, 1, stats.Busy)
	assert.LessOrEqual(t, stats.Free+stats.Busy, testConfig().MaxConnections)
	_ = s2
}

func TestSessionHealthCounters(t *testing.T) {
	sess := &Session{ID: 1, Client: &fakeClient{}}

	sess.record(100*time.Millisecond, false)
	sess.record(100*time.Millisecond, true)
	sess.record(100*time.Millisecond, true)

	assert.InDelta(t, 1.0/3.0, sess.SuccessRate(), 1e-9)
	assert.Equal(t, 2, sess.ConsecutiveFailures())

	sess.record(100*time.Millisecond, false)
	assert.Equal(t, 0, sess.ConsecutiveFailures())
}

func TestCreateFailurePropagates(t *testing.T) {
	p, factory, clk := newTestPool(testConfig())
	factory.fail = true
	deadline := clk.Now().Add(time.Second)

	_, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.Error(t, err)
	assert.Equal(t, 0, p.Stats().Total)
}

func TestCheckHealthEvictsAndRefills(t *testing.T) {
	cfg := testConfig()
	cfg.MinConnections = 1
	p, factory, clk := newTestPool(cfg)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown()

	deadline := clk.Now().Add(time.Second)
	sess, err := p.Get(context.Background(), PriorityNormal, deadline)
	require.NoError(t, err)

	// Make the session unhealthy, then return it.
	sess.record(time.Millisecond, true)
	sess.record(time.Millisecond, true)
	sess.record(time.Millisecond, true)
	p.Put(sess, false)

	p.checkHealth()

	stats := p.Stats()
	assert.Equal(t, 1, stats.Total, "evicted session replaced to satisfy minimum")
	assert.GreaterOrEqual(t, factory.created, 2)
}

func TestShutdownFailsFast(t *testing.T) {
	p, _, clk := newTestPool(testConfig())
	require.NoError(t, p.Start(context.Background()))
	p.Shutdown()

	_, err := p.Get(context.Background(), PriorityCritical, clk.Now().Add(time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shut down")
}
