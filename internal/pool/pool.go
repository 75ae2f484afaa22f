// Package pool provides the bounded pool of broker sessions with priority
// acquisition, per-session health tracking, and background eviction of
// unhealthy sessions.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/breaker"
	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

// Priority orders competing Get calls. Lower value wins.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

const (
	// acquireQuantum is the spin-wait sleep while the pool is exhausted.
	acquireQuantum = 50 * time.Millisecond
	// softPreemptAfter is how long a busy session may be held before a
	// critical caller logs a preemption warning. Advisory only.
	softPreemptAfter = 30 * time.Second
	// emaAlpha weights the per-session response time EMA.
	emaAlpha = 0.1
)

// Config holds pool sizing and health parameters.
type Config struct {
	MinConnections      int
	MaxConnections      int
	ConnectTimeout      time.Duration
	CallTimeout         time.Duration
	RetryCount          int
	BreakerThreshold    int
	BreakerTimeout      time.Duration
	HealthCheckInterval time.Duration
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		MinConnections:      1,
		MaxConnections:      4,
		ConnectTimeout:      10 * time.Second,
		CallTimeout:         30 * time.Second,
		RetryCount:          3,
		BreakerThreshold:    5,
		BreakerTimeout:      60 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Session wraps one broker client with health counters.
type Session struct {
	ID        int64
	Client    domain.BrokerClient
	CreatedAt time.Time

	mu          sync.Mutex
	requests    int64
	failures    int64
	consecutive int
	emaResponse time.Duration
}

func (s *Session) record(responseTime time.Duration, errored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if errored {
		s.failures++
		s.consecutive++
	} else {
		s.consecutive = 0
	}
	if s.emaResponse == 0 {
		s.emaResponse = responseTime
	} else {
		s.emaResponse = time.Duration(emaAlpha*float64(responseTime) + (1-emaAlpha)*float64(s.emaResponse))
	}
}

// SuccessRate returns successes / requests as a fraction, 1 when unused.
func (s *Session) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests == 0 {
		return 1
	}
	return float64(s.requests-s.failures) / float64(s.requests)
}

// UptimePct returns the success rate on a 0..100 scale.
func (s *Session) UptimePct() float64 {
	return s.SuccessRate() * 100
}

// ConsecutiveFailures returns the current consecutive failure count.
func (s *Session) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive
}

// AvgResponseTime returns the EMA of observed response times.
func (s *Session) AvgResponseTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emaResponse
}

// Pool is the bounded broker session pool.
type Pool struct {
	cfg     Config
	factory domain.BrokerSessionFactory
	brk     *breaker.Breaker
	clk     clock.Clock
	log     zerolog.Logger

	mu      sync.Mutex
	free    []*Session
	busy    map[*Session]time.Time // session -> acquire instant
	total   int
	nextID  int64
	closed  bool
	started bool

	stop    chan struct{}
	stopped chan struct{}
}

// New creates a pool. Call Start to pre-warm MinConnections and run the
// health loop.
func New(cfg Config, factory domain.BrokerSessionFactory, clk clock.Clock, log zerolog.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		factory: factory,
		brk:     breaker.New("pool_connect", cfg.BreakerThreshold, cfg.BreakerTimeout, clk, log),
		clk:     clk,
		log:     log.With().Str("component", "pool").Logger(),
		busy:    make(map[*Session]time.Time),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start pre-warms the pool to MinConnections and launches the health loop.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.MinConnections; i++ {
		sess, err := p.createSession(ctx)
		if err != nil {
			return errs.Wrap(errs.KindConnection, errs.SeverityHigh, "pool pre-warm failed", err)
		}
		p.mu.Lock()
		p.free = append(p.free, sess)
		p.mu.Unlock()
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go p.healthLoop()
	p.log.Info().
		Int("min", p.cfg.MinConnections).
		Int("max", p.cfg.MaxConnections).
		Msg("Connection pool started")
	return nil
}

// Get acquires a session, waiting until deadline when the pool is exhausted.
func (p *Pool) Get(ctx context.Context, priority Priority, deadline time.Time) (*Session, error) {
	warned := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errs.New(errs.KindConnection, errs.SeverityHigh, "connection pool is shut down")
		}

		// Free session available.
		if n := len(p.free); n > 0 {
			sess := p.free[n-1]
			p.free = p.free[:n-1]
			p.busy[sess] = p.clk.Now()
			p.mu.Unlock()
			return sess, nil
		}

		// Room to grow.
		if p.total < p.cfg.MaxConnections {
			p.total++ // reserve the slot before the slow connect
			p.mu.Unlock()
			sess, err := p.newSessionForSlot(ctx)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			p.busy[sess] = p.clk.Now()
			p.mu.Unlock()
			return sess, nil
		}

		// Exhausted. Critical callers flag long-held sessions; the pool
		// never forcibly interrupts (preemption stays advisory).
		if priority == PriorityCritical && !warned {
			for sess, since := range p.busy {
				if p.clk.Since(since) > softPreemptAfter {
					p.log.Warn().
						Int64("session_id", sess.ID).
						Dur("held_for", p.clk.Since(since)).
						Msg("Critical acquire waiting on long-held session")
					warned = true
				}
			}
		}
		p.mu.Unlock()

		if !p.clk.Now().Before(deadline) {
			return nil, errs.Timeout("timed out waiting for broker session", nil).
				WithContext("priority", int(priority))
		}
		if err := p.clk.Sleep(ctx, acquireQuantum); err != nil {
			return nil, errs.Timeout("acquire cancelled", err)
		}
	}
}

// newSessionForSlot creates a session for an already reserved slot,
// releasing the slot on failure.
func (p *Pool) newSessionForSlot(ctx context.Context) (*Session, error) {
	sess, err := p.createSessionUnreserved(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

// createSession creates a session and accounts its slot.
func (p *Pool) createSession(ctx context.Context) (*Session, error) {
	sess, err := p.createSessionUnreserved(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	return sess, nil
}

// createSessionUnreserved dials a broker session under the connect breaker
// without touching the slot count.
func (p *Pool) createSessionUnreserved(ctx context.Context) (*Session, error) {
	var client domain.BrokerClient
	err := p.brk.Do(ctx, func(ctx context.Context) error {
		connectCtx := ctx
		if p.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
			defer cancel()
		}
		c, err := p.factory.NewSession(connectCtx)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	sess := &Session{ID: id, Client: client, CreatedAt: p.clk.Now()}
	p.log.Debug().Int64("session_id", id).Msg("Broker session created")
	return sess, nil
}

// Put releases a session back to the pool. When errored, the session and its
// slot are destroyed.
func (p *Pool) Put(sess *Session, errored bool) {
	p.mu.Lock()
	acquiredAt, wasBusy := p.busy[sess]
	delete(p.busy, sess)
	if !wasBusy {
		p.mu.Unlock()
		return
	}
	responseTime := p.clk.Since(acquiredAt)

	if errored || p.closed {
		p.total--
		p.mu.Unlock()
		sess.record(responseTime, errored)
		if err := sess.Client.Close(); err != nil {
			p.log.Debug().Err(err).Int64("session_id", sess.ID).Msg("Error closing session")
		}
		p.log.Debug().Int64("session_id", sess.ID).Bool("errored", errored).Msg("Session destroyed")
		return
	}

	p.free = append(p.free, sess)
	p.mu.Unlock()
	sess.record(responseTime, false)
}

// Stats reports current pool occupancy.
type Stats struct {
	Total int `json:"total"`
	Free  int `json:"free"`
	Busy  int `json:"busy"`
	Max   int `json:"max"`
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Free: len(p.free), Busy: len(p.busy), Max: p.cfg.MaxConnections}
}

// BreakerState exposes the connect breaker state for health scoring.
func (p *Pool) BreakerState() breaker.State {
	return p.brk.State()
}

// HealthScore returns 0..100 based on free capacity and session health.
func (p *Pool) HealthScore() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	if p.total == 0 {
		return 100
	}
	var sum float64
	all := make([]*Session, 0, p.total)
	all = append(all, p.free...)
	for sess := range p.busy {
		all = append(all, sess)
	}
	for _, sess := range all {
		sum += sess.UptimePct()
	}
	if len(all) == 0 {
		return 100
	}
	return sum / float64(len(all))
}

// healthLoop periodically evicts unhealthy free sessions and refills to the
// minimum.
func (p *Pool) healthLoop() {
	defer close(p.stopped)
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth evicts free sessions that crossed the failure thresholds and
// tops the pool back up to MinConnections.
func (p *Pool) checkHealth() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	kept := p.free[:0]
	var evicted []*Session
	for _, sess := range p.free {
		if sess.ConsecutiveFailures() >= 3 || sess.UptimePct() < 80 {
			evicted = append(evicted, sess)
			p.total--
		} else {
			kept = append(kept, sess)
		}
	}
	p.free = kept
	deficit := p.cfg.MinConnections - p.total
	p.mu.Unlock()

	for _, sess := range evicted {
		p.log.Info().
			Int64("session_id", sess.ID).
			Int("consecutive_failures", sess.ConsecutiveFailures()).
			Float64("uptime_pct", sess.UptimePct()).
			Msg("Evicting unhealthy session")
		_ = sess.Client.Close()
	}

	for i := 0; i < deficit; i++ {
		sess, err := p.createSession(context.Background())
		if err != nil {
			p.log.Warn().Err(err).Msg("Failed to refill pool to minimum")
			return
		}
		p.mu.Lock()
		p.free = append(p.free, sess)
		p.mu.Unlock()
	}
}

// Shutdown closes all sessions and stops the health loop. Subsequent Get
// calls fail fast.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	free := p.free
	p.free = nil
	busy := make([]*Session, 0, len(p.busy))
	for sess := range p.busy {
		busy = append(busy, sess)
	}
	p.busy = make(map[*Session]time.Time)
	p.total = 0
	p.mu.Unlock()

	close(p.stop)
	if started {
		<-p.stopped
	}

	for _, sess := range append(free, busy...) {
		_ = sess.Client.Close()
	}
	p.log.Info().Msg("Connection pool shut down")
}
