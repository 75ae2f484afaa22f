package monitor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/clock"
	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/internal/execution"
)

func newTestMonitor(t *testing.T) (*Monitor, *clock.Fake, *events.Bus) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	evts := events.NewManager(bus, zerolog.Nop())
	return New(DefaultConfig(), clk, evts, zerolog.Nop()), clk, bus
}

func goodReport(signalID string) execution.Report {
	r := execution.Report{}
	r.ExecutionSummary.SignalID = signalID
	r.ExecutionSummary.Status = domain.ExecutionExecuted
	r.PerformanceMetrics.FillRatePct = 100
	r.PerformanceMetrics.SignalToExecutionLatencyMs = 50
	r.PerformanceMetrics.SlippagePct = 0
	return r
}

func testSignal(id, model, strategy string) domain.Signal {
	return domain.Signal{
		ID:           id,
		Instrument:   domain.Stock("AAPL"),
		Side:         domain.SideBuy,
		TargetQty:    10,
		Confidence:   0.8,
		ModelVersion: model,
		Strategy:     strategy,
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(Point{Value: float64(i)})
	}
	require.Equal(t, 3, r.len())
	points := r.last(3)
	assert.Equal(t, 3.0, points[0].Value)
	assert.Equal(t, 5.0, points[2].Value)
}

func TestRingSinceCutoff(t *testing.T) {
	r := newRing(10)
	base := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.push(Point{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: float64(i)})
	}
	points := r.since(base.Add(3 * time.Minute))
	require.Len(t, points, 2)
	assert.Equal(t, 3.0, points[0].Value)
}

func TestHighQualityExecutionRaisesNoAlert(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	m.RecordExecution(goodReport("S1"))

	assert.Empty(t, m.Alerts(0))
}

func TestLowQualityScoreRaisesAlert(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	r := goodReport("S1")
	r.PerformanceMetrics.FillRatePct = 20
	r.PerformanceMetrics.SlippagePct = 8
	m.RecordExecution(r)

	alerts := m.Alerts(0)
	require.NotEmpty(t, alerts)
	assert.Equal(t, "execution.quality_score", alerts[0].Metric)
	assert.Equal(t, AlertWarning, alerts[0].Level)
}

func TestSlowExecutionRaisesLatencyAlert(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	r := goodReport("S1")
	r.PerformanceMetrics.SignalToExecutionLatencyMs = 750
	m.RecordExecution(r)

	var metrics []string
	for _, a := range m.Alerts(0) {
		metrics = append(metrics, a.Metric)
	}
	assert.Contains(t, metrics, "execution.latency_ms")
}

func TestAlertRaisedEventEmitted(t *testing.T) {
	m, _, bus := newTestMonitor(t)

	var got []*events.Event
	bus.Subscribe(events.AlertRaised, func(event *events.Event) {
		got = append(got, event)
	})

	r := goodReport("S1")
	r.PerformanceMetrics.SignalToExecutionLatencyMs = 750
	m.RecordExecution(r)

	require.NotEmpty(t, got)
	assert.Equal(t, "monitor", got[0].Module)
	assert.Equal(t, "execution.latency_ms", got[0].Data["metric"])
}

func TestAnomalousMetricDetected(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	for i := 0; i < 12; i++ {
		v := 99.0
		if i%2 == 0 {
			v = 101.0
		}
		m.RecordPnL("S", v, false)
	}
	require.Empty(t, m.Alerts(0), "steady series is not anomalous")

	m.RecordPnL("S", 200, false)

	alerts := m.Alerts(0)
	require.NotEmpty(t, alerts)
	assert.Equal(t, "pnl:signal_pnl", alerts[0].Metric)
	assert.Contains(t, alerts[0].Message, "z-score")
}

func TestAnomalyNeedsMinimumHistory(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	for i := 0; i < 5; i++ {
		m.RecordPnL("S", 100, false)
	}
	m.RecordPnL("S", 10_000, false)

	assert.Empty(t, m.Alerts(0), "too few points in the window to judge")
}

func TestAlertDequeBounded(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	for i := 0; i < alertCapacity+50; i++ {
		m.raise(AlertWarning, "test.metric", "overflow", float64(i))
	}

	alerts := m.Alerts(0)
	require.Len(t, alerts, alertCapacity)
	// Newest first; the oldest 50 were evicted.
	assert.Equal(t, float64(alertCapacity+49), alerts[0].Value)
	assert.Equal(t, 50.0, alerts[len(alerts)-1].Value)
}

func TestDashboardHealthy(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.RecordExecution(goodReport("S1"))

	dash := m.RefreshDashboard()

	assert.Equal(t, StatusHealthy, dash.Status)
	assert.False(t, dash.StaleData)
	summary, ok := dash.Metrics["execution:quality_score"]
	require.True(t, ok)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, 100.0, summary.Current)
}

func TestDashboardWarningAfterManyWarnings(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	for i := 0; i < 6; i++ {
		m.raise(AlertWarning, "test.metric", "warn", 0)
	}

	dash := m.RefreshDashboard()

	assert.Equal(t, StatusWarning, dash.Status)
	assert.Equal(t, 6, dash.AlertCounts[AlertWarning])
}

func TestDashboardErrorAndCriticalDominate(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.raise(AlertError, "test.metric", "err", 0)
	assert.Equal(t, StatusError, m.RefreshDashboard().Status)

	m.raise(AlertCritical, "test.metric", "crit", 0)
	assert.Equal(t, StatusCritical, m.RefreshDashboard().Status)
}

func TestDashboardStaleData(t *testing.T) {
	m, clk, _ := newTestMonitor(t)
	m.RecordPnL("S", 1, false)

	clk.Advance(11 * time.Minute)
	dash := m.RefreshDashboard()

	assert.True(t, dash.StaleData)
	var metrics []string
	for _, a := range m.Alerts(0) {
		metrics = append(metrics, a.Metric)
	}
	assert.Contains(t, metrics, "monitor.stale_data")
}

func TestDashboardMetricSummary(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	for _, v := range []float64{10, 20, 30} {
		m.RecordPnL("S", v, false)
	}

	dash := m.RefreshDashboard()

	summary := dash.Metrics["pnl:signal_pnl"]
	assert.Equal(t, 30.0, summary.Current)
	assert.Equal(t, 20.0, summary.Average)
	assert.Equal(t, 10.0, summary.Min)
	assert.Equal(t, 30.0, summary.Max)
	assert.Equal(t, 3, summary.Count)
}

func TestStrategyAndModelSummaries(t *testing.T) {
	m, clk, _ := newTestMonitor(t)
	m.RecordSignal(testSignal("S1", "m1", "momentum"))
	m.RecordSignal(testSignal("S2", "m1", "momentum"))

	dash := m.RefreshDashboard()
	strat := dash.Strategies["momentum"]
	assert.Equal(t, 2, strat.TotalSignals)
	assert.Equal(t, 2, strat.SignalsToday)
	assert.InDelta(t, 0.8, strat.AvgConfidence, 1e-9)

	// The daily counter resets across a day boundary.
	clk.Advance(25 * time.Hour)
	m.RecordSignal(testSignal("S3", "m1", "momentum"))
	dash = m.RefreshDashboard()
	strat = dash.Strategies["momentum"]
	assert.Equal(t, 3, strat.TotalSignals)
	assert.Equal(t, 1, strat.SignalsToday)
	assert.Equal(t, 3, dash.Models["m1"].TotalSignals)
}

func TestModelReport(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	for i, pnl := range []float64{100, 50, -50} {
		id := string(rune('A' + i))
		m.RecordSignal(testSignal(id, "m1", "momentum"))
		m.RecordExecution(goodReport(id))
		m.RecordPnL(id, pnl, true)
	}

	report := m.Report("m1", "", 30)

	assert.Equal(t, 3, report.TotalSignals)
	assert.Equal(t, 3, report.Executed)
	assert.Equal(t, 3, report.ClosedTrades)
	assert.InDelta(t, 2.0/3.0, report.WinRate, 1e-9)
	assert.InDelta(t, 75.0, report.AvgWin, 1e-9)
	assert.InDelta(t, -50.0, report.AvgLoss, 1e-9)
	assert.InDelta(t, 3.0, report.ProfitFactor, 1e-9)
	assert.InDelta(t, -0.5, report.MaxDrawdown, 1e-9)
	assert.Greater(t, report.Sharpe, 0.0)
	assert.Equal(t, 100.0, report.AvgQualityScore)
}

func TestModelReportStrategyFilter(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.RecordSignal(testSignal("A", "m1", "momentum"))
	m.RecordSignal(testSignal("B", "m1", "meanrev"))
	m.RecordPnL("A", 100, true)
	m.RecordPnL("B", -100, true)

	report := m.Report("m1", "momentum", 30)

	assert.Equal(t, 1, report.TotalSignals)
	assert.Equal(t, 1, report.ClosedTrades)
	assert.Equal(t, 1.0, report.WinRate)
}

func TestModelReportNoData(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	report := m.Report("unknown", "", 30)

	assert.Zero(t, report.TotalSignals)
	assert.Zero(t, report.WinRate)
	assert.Zero(t, report.ProfitFactor)
	assert.Zero(t, report.Sharpe)
	assert.Zero(t, report.VaR95)
}

func TestMetricRowsExport(t *testing.T) {
	m, clk, _ := newTestMonitor(t)
	cutoff := clk.Now()
	m.RecordSignal(testSignal("S1", "m1", "momentum"))

	rows := m.MetricRows(cutoff)

	require.Len(t, rows, 1)
	assert.Equal(t, "signal", rows[0].Type)
	assert.Equal(t, "confidence", rows[0].Name)
	assert.Equal(t, "momentum", rows[0].Strategy)
	assert.Equal(t, "m1", rows[0].Model)
	assert.Equal(t, "AAPL", rows[0].Instrument)
}
