// Package monitor ingests signal, execution-quality and P&L events,
// maintains rolling metric buffers, raises alerts, and builds the
// dashboard snapshot and per-model performance reports.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/internal/execution"
	"github.com/aristath/relay/pkg/formulas"
)

const (
	ringCapacity  = 10_000
	alertCapacity = 1_000

	anomalyZThreshold = 2.5
	anomalyMinPoints  = 10
	anomalyWindow     = 20
	staleAfter        = 10 * time.Minute
)

// Config tunes the alert thresholds.
type Config struct {
	MinQualityScore float64 // default 70
	MaxLatencyMs    float64 // default 500
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{MinQualityScore: 70, MaxLatencyMs: 500}
}

// AlertLevel grades an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// Alert is one raised condition.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Metric    string     `json:"metric"`
	Message   string     `json:"message"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

// outcome is the per-signal record feeding model reports.
type outcome struct {
	signal    domain.Signal
	seenAt    time.Time
	executed  bool
	score     float64
	latencyMs float64
	slippage  float64
	fillRate  float64
	pnl       float64
	pnlFinal  bool
}

// aggregate is the per-strategy or per-model rollup.
type aggregate struct {
	totalSignals  int
	sumConfidence float64
	signalsToday  int
	today         time.Time
}

// Monitor is the performance telemetry hub. Safe for concurrent use.
type Monitor struct {
	cfg  Config
	clk  clock.Clock
	evts *events.Manager
	log  zerolog.Logger

	mu           sync.Mutex
	rings        map[string]*ring // type:name -> ring
	alerts       []Alert          // bounded deque, newest last
	outcomes     map[string]*outcome
	byStrategy   map[string]*aggregate
	byModel      map[string]*aggregate
	lastMetricAt time.Time
	dashboard    Dashboard
}

// New creates a monitor.
func New(cfg Config, clk clock.Clock, evts *events.Manager, log zerolog.Logger) *Monitor {
	if cfg.MinQualityScore <= 0 {
		cfg.MinQualityScore = 70
	}
	if cfg.MaxLatencyMs <= 0 {
		cfg.MaxLatencyMs = 500
	}
	return &Monitor{
		cfg:        cfg,
		clk:        clk,
		evts:       evts,
		log:        log.With().Str("component", "monitor").Logger(),
		rings:      make(map[string]*ring),
		outcomes:   make(map[string]*outcome),
		byStrategy: make(map[string]*aggregate),
		byModel:    make(map[string]*aggregate),
	}
}

// RecordSignal ingests a signal-generated event.
func (m *Monitor) RecordSignal(sig domain.Signal) {
	now := m.clk.Now()

	m.mu.Lock()
	if _, ok := m.outcomes[sig.ID]; !ok {
		m.outcomes[sig.ID] = &outcome{signal: sig, seenAt: now}
	}
	m.bumpLocked(m.byStrategy, sig.Strategy, sig.Confidence, now)
	m.bumpLocked(m.byModel, sig.ModelVersion, sig.Confidence, now)
	m.mu.Unlock()

	m.record("signal", "confidence", sig.Confidence, map[string]string{
		"strategy": sig.Strategy,
		"model":    sig.ModelVersion,
		"symbol":   sig.Instrument.Symbol,
	})
}

// RecordExecution ingests an execution report from the engine. Raises the
// quality and latency alerts.
func (m *Monitor) RecordExecution(report execution.Report) {
	score := qualityScore(report)
	latency := report.PerformanceMetrics.SignalToExecutionLatencyMs
	signalID := report.ExecutionSummary.SignalID

	m.mu.Lock()
	rec, ok := m.outcomes[signalID]
	if !ok {
		rec = &outcome{seenAt: m.clk.Now()}
		m.outcomes[signalID] = rec
	}
	rec.executed = true
	rec.score = score
	rec.latencyMs = latency
	rec.slippage = report.PerformanceMetrics.SlippagePct
	rec.fillRate = report.PerformanceMetrics.FillRatePct
	m.mu.Unlock()

	ctx := map[string]string{"signal_id": signalID}
	m.record("execution", "quality_score", score, ctx)
	m.record("execution", "latency_ms", latency, ctx)
	m.record("execution", "fill_rate_pct", report.PerformanceMetrics.FillRatePct, ctx)
	m.record("execution", "slippage_pct", report.PerformanceMetrics.SlippagePct, ctx)

	if score < m.cfg.MinQualityScore {
		m.raise(AlertWarning, "execution.quality_score",
			fmt.Sprintf("execution quality %.1f below threshold %.0f", score, m.cfg.MinQualityScore), score)
	}
	if latency > m.cfg.MaxLatencyMs {
		m.raise(AlertWarning, "execution.latency_ms",
			fmt.Sprintf("execution latency %.0fms above threshold %.0fms", latency, m.cfg.MaxLatencyMs), latency)
	}
}

// RecordPnL ingests a position-P&L update for a signal. May be called
// multiple times; final marks the last update.
func (m *Monitor) RecordPnL(signalID string, pnl float64, final bool) {
	m.mu.Lock()
	rec, ok := m.outcomes[signalID]
	if !ok {
		rec = &outcome{seenAt: m.clk.Now()}
		m.outcomes[signalID] = rec
	}
	rec.pnl = pnl
	if final {
		rec.pnlFinal = true
	}
	m.mu.Unlock()

	m.record("pnl", "signal_pnl", pnl, map[string]string{"signal_id": signalID})
}

// record appends a point and runs the anomaly check.
func (m *Monitor) record(metricType, name string, value float64, context map[string]string) {
	now := m.clk.Now()
	key := metricType + ":" + name

	m.mu.Lock()
	r, ok := m.rings[key]
	if !ok {
		r = newRing(ringCapacity)
		m.rings[key] = r
	}
	r.push(Point{Timestamp: now, Type: metricType, Name: name, Value: value, Context: context})
	m.lastMetricAt = now

	var anomaly bool
	var z float64
	if inWindow := r.since(now.Add(-time.Hour)); len(inWindow) >= anomalyMinPoints {
		recent := r.last(anomalyWindow)
		values := make([]float64, len(recent))
		for i, p := range recent {
			values[i] = p.Value
		}
		z = formulas.ZScore(value, values)
		anomaly = z > anomalyZThreshold || z < -anomalyZThreshold
	}
	m.mu.Unlock()

	if anomaly {
		m.raise(AlertWarning, key,
			fmt.Sprintf("metric %s anomalous: z-score %.2f", key, z), value)
	}
}

// raise appends an alert, evicting the oldest past capacity.
func (m *Monitor) raise(level AlertLevel, metric, message string, value float64) {
	alert := Alert{Level: level, Metric: metric, Message: message, Value: value, Timestamp: m.clk.Now()}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > alertCapacity {
		m.alerts = m.alerts[len(m.alerts)-alertCapacity:]
	}
	m.mu.Unlock()

	m.log.Warn().
		Str("metric", metric).
		Str("level", string(level)).
		Float64("value", value).
		Msg(message)
	if m.evts != nil {
		m.evts.Emit(events.AlertRaised, "monitor", map[string]interface{}{
			"level":   string(level),
			"metric":  metric,
			"message": message,
			"value":   value,
		})
	}
}

// Alerts returns the newest alerts, most recent first, up to limit.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= len(m.alerts)-limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

// AcknowledgeAlerts clears the alert deque and returns how many alerts
// were dismissed.
func (m *Monitor) AcknowledgeAlerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.alerts)
	m.alerts = m.alerts[:0]
	return n
}

// MetricRows exports all points recorded at or after the cutoff, for the
// audit flush.
func (m *Monitor) MetricRows(since time.Time) []domain.MetricRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []domain.MetricRow
	for _, r := range m.rings {
		for _, p := range r.since(since) {
			row := domain.MetricRow{
				Timestamp: p.Timestamp,
				Type:      p.Type,
				Name:      p.Name,
				Value:     p.Value,
			}
			if p.Context != nil {
				row.Strategy = p.Context["strategy"]
				row.Model = p.Context["model"]
				row.Instrument = p.Context["symbol"]
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func (m *Monitor) bumpLocked(agg map[string]*aggregate, key string, confidence float64, now time.Time) {
	if key == "" {
		return
	}
	a, ok := agg[key]
	if !ok {
		a = &aggregate{}
		agg[key] = a
	}
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(a.today) {
		a.today = day
		a.signalsToday = 0
	}
	a.totalSignals++
	a.sumConfidence += confidence
	a.signalsToday++
}

// qualityScore folds fill rate, latency and slippage into a 0..100 score:
// fill rate 50%, latency 30% (full marks under 100ms, zero at 1s),
// slippage 20% (zero marks at 5%).
func qualityScore(report execution.Report) float64 {
	fill := report.PerformanceMetrics.FillRatePct
	if fill > 100 {
		fill = 100
	}
	latency := 100 - (report.PerformanceMetrics.SignalToExecutionLatencyMs-100)/9
	if latency > 100 {
		latency = 100
	}
	if latency < 0 {
		latency = 0
	}
	slip := report.PerformanceMetrics.SlippagePct
	if slip < 0 {
		slip = -slip
	}
	slipScore := 100 - slip*20
	if slipScore < 0 {
		slipScore = 0
	}
	return fill*0.5 + latency*0.3 + slipScore*0.2
}
