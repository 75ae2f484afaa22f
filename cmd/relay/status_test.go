package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/errs"
	"github.com/aristath/relay/internal/monitor"
)

func sampleDashboard() monitor.Dashboard {
	return monitor.Dashboard{
		GeneratedAt: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		Status:      monitor.StatusWarning,
		Metrics: map[string]monitor.MetricSummary{
			"execution_latency_ms": {Current: 42, Average: 38.5, Min: 12, Max: 95, Count: 17},
		},
		Strategies: map[string]monitor.GroupSummary{
			"momentum": {TotalSignals: 12, SignalsToday: 3, AvgConfidence: 0.81},
		},
		System:      monitor.SystemLoad{CPUPercent: 12.5, MemoryPercent: 41.2, MemoryUsedMB: 812},
		AlertCounts: map[monitor.AlertLevel]int{monitor.AlertWarning: 2},
	}
}

func TestFetchDashboard(t *testing.T) {
	dash := sampleDashboard()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/monitor/dashboard", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dash)
	}))
	defer ts.Close()

	got, err := fetchDashboard(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusWarning, got.Status)
	assert.Equal(t, 17, got.Metrics["execution_latency_ms"].Count)
	assert.Equal(t, 2, got.AlertCounts[monitor.AlertWarning])
}

func TestFetchDashboardErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := fetchDashboard(ts.URL)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindData))

	ts.Close()
	_, err = fetchDashboard(ts.URL)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConnection))
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	renderDashboard(&buf, sampleDashboard())

	out := buf.String()
	assert.Contains(t, out, "Status:     warning")
	assert.Contains(t, out, "cpu 12.5%")
	assert.Contains(t, out, "warning=2")
	assert.Contains(t, out, "execution_latency_ms")
	assert.Contains(t, out, "avg=38.50")
	assert.Contains(t, out, "momentum")
	assert.Contains(t, out, "avg_confidence=0.81")
}
