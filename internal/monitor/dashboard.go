package monitor

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/relay/internal/events"
	"github.com/aristath/relay/pkg/formulas"
)

// SystemStatus summarizes overall health.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusWarning  SystemStatus = "warning"
	StatusError    SystemStatus = "error"
	StatusCritical SystemStatus = "critical"
)

// MetricSummary is the last-hour rollup of one metric.
type MetricSummary struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
}

// GroupSummary is the per-strategy or per-model rollup shown on the
// dashboard.
type GroupSummary struct {
	TotalSignals  int     `json:"total_signals"`
	SignalsToday  int     `json:"signals_today"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// SystemLoad is the host resource snapshot.
type SystemLoad struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
}

// Dashboard is the periodic health snapshot.
type Dashboard struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Status      SystemStatus             `json:"status"`
	Metrics     map[string]MetricSummary `json:"metrics"`
	Strategies  map[string]GroupSummary  `json:"strategies"`
	Models      map[string]GroupSummary  `json:"models"`
	System      SystemLoad               `json:"system"`
	AlertCounts map[AlertLevel]int       `json:"alert_counts"`
	StaleData   bool                     `json:"stale_data"`
}

// RefreshDashboard rebuilds the dashboard snapshot. Meant to run on a
// 30 second schedule; also callable on demand.
func (m *Monitor) RefreshDashboard() Dashboard {
	now := m.clk.Now()
	hourAgo := now.Add(-time.Hour)

	m.mu.Lock()
	metrics := make(map[string]MetricSummary, len(m.rings))
	for key, r := range m.rings {
		points := r.since(hourAgo)
		if len(points) == 0 {
			continue
		}
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = p.Value
		}
		metrics[key] = MetricSummary{
			Current: values[len(values)-1],
			Average: formulas.Mean(values),
			Min:     formulas.Min(values),
			Max:     formulas.Max(values),
			Count:   len(values),
		}
	}
	strategies := summarizeGroups(m.byStrategy, now)
	models := summarizeGroups(m.byModel, now)

	counts := make(map[AlertLevel]int)
	for _, a := range m.alerts {
		if a.Timestamp.After(hourAgo) {
			counts[a.Level]++
		}
	}
	stale := !m.lastMetricAt.IsZero() && now.Sub(m.lastMetricAt) > staleAfter
	m.mu.Unlock()

	if stale {
		m.raise(AlertWarning, "monitor.stale_data",
			fmt.Sprintf("no metrics recorded for over %s", staleAfter), 0)
		counts[AlertWarning]++
	}

	dash := Dashboard{
		GeneratedAt: now,
		Status:      statusFromAlerts(counts),
		Metrics:     metrics,
		Strategies:  strategies,
		Models:      models,
		System:      sampleSystemLoad(),
		AlertCounts: counts,
		StaleData:   stale,
	}

	m.mu.Lock()
	prev := m.dashboard.Status
	m.dashboard = dash
	m.mu.Unlock()

	if m.evts != nil {
		m.evts.Emit(events.DashboardUpdated, "monitor", map[string]interface{}{
			"status":       string(dash.Status),
			"metric_count": len(dash.Metrics),
			"stale_data":   dash.StaleData,
		})
		if prev != "" && prev != dash.Status {
			m.evts.Emit(events.SystemStatusChanged, "monitor", map[string]interface{}{
				"from": string(prev),
				"to":   string(dash.Status),
			})
		}
	}
	m.log.Debug().
		Str("status", string(dash.Status)).
		Int("metrics", len(dash.Metrics)).
		Msg("dashboard refreshed")
	return dash
}

// Dashboard returns the most recent snapshot. The zero snapshot is returned
// before the first refresh.
func (m *Monitor) Dashboard() Dashboard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dashboard
}

// statusFromAlerts grades the last hour's alerts: any critical wins, then
// any error, then more than five warnings.
func statusFromAlerts(counts map[AlertLevel]int) SystemStatus {
	switch {
	case counts[AlertCritical] > 0:
		return StatusCritical
	case counts[AlertError] > 0:
		return StatusError
	case counts[AlertWarning] > 5:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func summarizeGroups(agg map[string]*aggregate, now time.Time) map[string]GroupSummary {
	out := make(map[string]GroupSummary, len(agg))
	day := now.Truncate(24 * time.Hour)
	for key, a := range agg {
		today := a.signalsToday
		if !day.Equal(a.today) {
			today = 0
		}
		avg := 0.0
		if a.totalSignals > 0 {
			avg = a.sumConfidence / float64(a.totalSignals)
		}
		out[key] = GroupSummary{
			TotalSignals:  a.totalSignals,
			SignalsToday:  today,
			AvgConfidence: avg,
		}
	}
	return out
}

// sampleSystemLoad reads host CPU and memory. Failures leave zeros; the
// dashboard should never fail because a proc file was unreadable.
func sampleSystemLoad() SystemLoad {
	var load SystemLoad
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		load.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		load.MemoryPercent = vm.UsedPercent
		load.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	}
	return load
}
