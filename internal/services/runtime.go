// Package services implements the midplane service runtime: a registry of
// named broker-facing services where every call is routed through the
// connection pool, the per-service retry policy, and the per-service circuit
// breaker, with rolling health metrics recorded per service.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/breaker"
	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
	"github.com/aristath/relay/internal/pool"
	"github.com/aristath/relay/internal/retry"
)

// Status buckets a service's health score.
type Status string

const (
	StatusOperational Status = "operational"
	StatusSlow        Status = "slow"
	StatusFailing     Status = "failing"
	StatusDown        Status = "down"
)

// Config describes one registered service.
type Config struct {
	Name             string
	Retry            retry.Policy
	Priority         pool.Priority
	Timeout          time.Duration
	FailureThreshold int
	BreakerTimeout   time.Duration
	BreakerEnabled   bool
}

// Operation is a broker-facing call executed through the runtime.
type Operation func(ctx context.Context, client domain.BrokerClient) error

// metrics holds one service's rolling counters.
type metrics struct {
	total       int64
	failed      int64
	emaResponse time.Duration
	lastCall    time.Time
}

const emaAlpha = 0.1

func (m *metrics) record(d time.Duration, failed bool, now time.Time) {
	m.total++
	if failed {
		m.failed++
	}
	if m.emaResponse == 0 {
		m.emaResponse = d
	} else {
		m.emaResponse = time.Duration(emaAlpha*float64(d) + (1-emaAlpha)*float64(m.emaResponse))
	}
	m.lastCall = now
}

func (m *metrics) successRate() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.total-m.failed) / float64(m.total)
}

// Runtime dispatches operations to registered services.
type Runtime struct {
	pool  *pool.Pool
	rtry  *retry.Engine
	clk   clock.Clock
	log   zerolog.Logger

	mu          sync.Mutex
	configs     map[string]Config
	breakers    map[string]*breaker.Breaker
	metrics     map[string]*metrics
	injected    map[string]domain.BrokerClient // test injection, bypasses the pool
	breakerHook func(service string, from, to breaker.State)
}

// NewRuntime creates a service runtime over the given pool.
func NewRuntime(p *pool.Pool, rtry *retry.Engine, clk clock.Clock, log zerolog.Logger) *Runtime {
	return &Runtime{
		pool:     p,
		rtry:     rtry,
		clk:      clk,
		log:      log.With().Str("component", "service_runtime").Logger(),
		configs:  make(map[string]Config),
		breakers: make(map[string]*breaker.Breaker),
		metrics:  make(map[string]*metrics),
		injected: make(map[string]domain.BrokerClient),
	}
}

// NewDefaultRuntime creates a runtime with the standard service registry.
func NewDefaultRuntime(p *pool.Pool, rtry *retry.Engine, clk clock.Clock, log zerolog.Logger) *Runtime {
	rt := NewRuntime(p, rtry, clk, log)
	for _, cfg := range DefaultServices() {
		rt.Register(cfg)
	}
	return rt
}

// DefaultServices returns the standard registry.
func DefaultServices() []Config {
	conn := func(attempts int) retry.Policy {
		pcy := retry.ConnectionPolicy()
		pcy.MaxAttempts = attempts
		return pcy
	}
	return []Config{
		{Name: "market_data", Retry: conn(3), Priority: pool.PriorityCritical, Timeout: 10 * time.Second, FailureThreshold: 5, BreakerTimeout: 60 * time.Second, BreakerEnabled: true},
		{Name: "historical_data", Retry: retry.NewPolicy(5, 2*time.Second, 60*time.Second, retry.StrategyExponential), Priority: pool.PriorityHigh, Timeout: 60 * time.Second, FailureThreshold: 5, BreakerTimeout: 60 * time.Second, BreakerEnabled: true},
		{Name: "order_management", Retry: conn(2), Priority: pool.PriorityCritical, Timeout: 5 * time.Second, FailureThreshold: 5, BreakerTimeout: 60 * time.Second, BreakerEnabled: true},
		{Name: "data_persistence", Retry: conn(3), Priority: pool.PriorityNormal, Timeout: 30 * time.Second, FailureThreshold: 5, BreakerTimeout: 60 * time.Second, BreakerEnabled: true},
		{Name: "ml_signal_execution", Retry: conn(2), Priority: pool.PriorityHigh, Timeout: 10 * time.Second, FailureThreshold: 5, BreakerTimeout: 60 * time.Second, BreakerEnabled: true},
		{Name: "ml_risk_management", Retry: conn(2), Priority: pool.PriorityHigh, Timeout: 10 * time.Second, FailureThreshold: 5, BreakerTimeout: 60 * time.Second, BreakerEnabled: true},
	}
}

// Register adds or replaces a service entry.
func (r *Runtime) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	if cfg.BreakerEnabled {
		brk := breaker.New(cfg.Name, cfg.FailureThreshold, cfg.BreakerTimeout, r.clk, r.log)
		if r.breakerHook != nil {
			brk.OnChange(r.breakerHook)
		}
		r.breakers[cfg.Name] = brk
	}
	r.metrics[cfg.Name] = &metrics{}
}

// OnBreakerChange registers fn on every breaker, current and future. Set
// during wiring.
func (r *Runtime) OnBreakerChange(fn func(service string, from, to breaker.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerHook = fn
	for _, brk := range r.breakers {
		brk.OnChange(fn)
	}
}

// Inject associates a client with a service name, bypassing the pool. Used
// in tests and for in-process brokers.
func (r *Runtime) Inject(name string, client domain.BrokerClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injected[name] = client
}

// Execute runs op under the named service's retry policy, breaker, and pool
// priority.
func (r *Runtime) Execute(ctx context.Context, service, opName string, op Operation) error {
	r.mu.Lock()
	cfg, ok := r.configs[service]
	brk := r.breakers[service]
	injected := r.injected[service]
	r.mu.Unlock()
	if !ok {
		return errs.Value("unknown service: " + service).WithContext("service", service)
	}

	start := r.clk.Now()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	attempt := func(ctx context.Context) error {
		if injected != nil {
			return op(ctx, injected)
		}
		deadline := r.clk.Now().Add(cfg.Timeout)
		if cfg.Timeout <= 0 {
			deadline = r.clk.Now().Add(30 * time.Second)
		}
		sess, err := r.pool.Get(ctx, cfg.Priority, deadline)
		if err != nil {
			return err
		}
		err = op(ctx, sess.Client)
		r.pool.Put(sess, err != nil && errs.IsKind(err, errs.KindConnection))
		return err
	}

	runAttempt := attempt
	if brk != nil {
		runAttempt = func(ctx context.Context) error {
			return brk.Do(ctx, attempt)
		}
	}

	err := r.rtry.Do(ctx, cfg.Retry, service+"."+opName, runAttempt)
	duration := r.clk.Since(start)

	r.mu.Lock()
	m := r.metrics[service]
	m.record(duration, err != nil, r.clk.Now())
	r.mu.Unlock()

	if err != nil {
		var tagged *errs.Error
		if e, okErr := err.(*errs.Error); okErr {
			tagged = e
		} else {
			tagged = errs.Wrap(errs.KindOf(err), errs.SeverityOf(err), "service call failed", err)
		}
		tagged.WithContext("service", service).
			WithContext("operation", opName).
			WithContext("duration_ms", duration.Milliseconds()).
			WithContext("health_score", r.HealthScore(service))
		r.log.Error().
			Str("service", service).
			Str("operation", opName).
			Dur("duration", duration).
			Err(tagged).
			Msg("Service call failed")
		return tagged
	}
	return nil
}

// HealthScore returns the 0..100 weighted health score for a service:
// success rate 40%, responsiveness 20%, pool health 20%, breaker 20%.
func (r *Runtime) HealthScore(service string) float64 {
	r.mu.Lock()
	m, ok := r.metrics[service]
	brk := r.breakers[service]
	var sr, avgSec float64
	if ok {
		sr = m.successRate()
		avgSec = m.emaResponse.Seconds()
	}
	r.mu.Unlock()
	if !ok {
		return 0
	}

	responsiveness := 100 - avgSec*10
	if responsiveness < 0 {
		responsiveness = 0
	}

	breakerScore := 100.0
	if brk != nil {
		switch brk.State() {
		case breaker.StateOpen:
			breakerScore = 0
		case breaker.StateHalfOpen:
			breakerScore = 50
		}
	}

	poolScore := 100.0
	if r.pool != nil {
		poolScore = r.pool.HealthScore()
	}

	return sr*100*0.4 + responsiveness*0.2 + poolScore*0.2 + breakerScore*0.2
}

// StatusOf buckets the health score.
func (r *Runtime) StatusOf(service string) Status {
	score := r.HealthScore(service)
	switch {
	case score >= 90:
		return StatusOperational
	case score >= 70:
		return StatusSlow
	case score >= 50:
		return StatusFailing
	default:
		return StatusDown
	}
}

// ServiceHealth is a reporting snapshot for one service.
type ServiceHealth struct {
	Name        string        `json:"name"`
	Score       float64       `json:"score"`
	Status      Status        `json:"status"`
	Total       int64         `json:"total"`
	Failed      int64         `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgResponse time.Duration `json:"avg_response"`
	LastCall    time.Time     `json:"last_call,omitempty"`
	Breaker     breaker.State `json:"breaker,omitempty"`
}

// Health returns snapshots for every registered service.
func (r *Runtime) Health() []ServiceHealth {
	r.mu.Lock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.Unlock()

	out := make([]ServiceHealth, 0, len(names))
	for _, name := range names {
		r.mu.Lock()
		m := r.metrics[name]
		brk := r.breakers[name]
		h := ServiceHealth{
			Name:        name,
			Total:       m.total,
			Failed:      m.failed,
			SuccessRate: m.successRate(),
			AvgResponse: m.emaResponse,
			LastCall:    m.lastCall,
		}
		r.mu.Unlock()
		if brk != nil {
			h.Breaker = brk.State()
		}
		h.Score = r.HealthScore(name)
		h.Status = r.StatusOf(name)
		out = append(out, h)
	}
	return out
}
