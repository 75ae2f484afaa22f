package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aristath/relay/internal/errs"
	"github.com/aristath/relay/internal/monitor"
)

func runStatus(args []string) {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := flags.String("url", "http://localhost:8001", "base URL of the running relay")
	_ = flags.Parse(args)

	dash, err := fetchDashboard(*baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	renderDashboard(os.Stdout, dash)
}

// fetchDashboard pulls the health snapshot from a running instance.
func fetchDashboard(baseURL string) (monitor.Dashboard, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/api/monitor/dashboard")
	if err != nil {
		return monitor.Dashboard{}, errs.Connection("relay unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return monitor.Dashboard{}, errs.Data(fmt.Sprintf("unexpected response %d from relay", resp.StatusCode), nil)
	}

	var dash monitor.Dashboard
	if err := json.NewDecoder(resp.Body).Decode(&dash); err != nil {
		return monitor.Dashboard{}, errs.Data("malformed dashboard payload", err)
	}
	return dash, nil
}

func renderDashboard(w io.Writer, dash monitor.Dashboard) {
	fmt.Fprintf(w, "Status:     %s\n", dash.Status)
	if !dash.GeneratedAt.IsZero() {
		fmt.Fprintf(w, "Generated:  %s\n", dash.GeneratedAt.Format(time.RFC3339))
	}
	if dash.StaleData {
		fmt.Fprintln(w, "Warning:    metrics are stale")
	}
	fmt.Fprintf(w, "System:     cpu %.1f%%  mem %.1f%% (%.0f MB)\n",
		dash.System.CPUPercent, dash.System.MemoryPercent, dash.System.MemoryUsedMB)

	if len(dash.AlertCounts) > 0 {
		levels := make([]string, 0, len(dash.AlertCounts))
		for level := range dash.AlertCounts {
			levels = append(levels, string(level))
		}
		sort.Strings(levels)
		parts := make([]string, 0, len(levels))
		for _, level := range levels {
			parts = append(parts, fmt.Sprintf("%s=%d", level, dash.AlertCounts[monitor.AlertLevel(level)]))
		}
		fmt.Fprintf(w, "Alerts:     %s\n", strings.Join(parts, "  "))
	}

	if len(dash.Metrics) > 0 {
		fmt.Fprintln(w, "\nMetrics (last hour):")
		names := make([]string, 0, len(dash.Metrics))
		for name := range dash.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m := dash.Metrics[name]
			fmt.Fprintf(w, "  %-28s current=%.2f avg=%.2f min=%.2f max=%.2f n=%d\n",
				name, m.Current, m.Average, m.Min, m.Max, m.Count)
		}
	}

	renderGroups(w, "Strategies", dash.Strategies)
	renderGroups(w, "Models", dash.Models)
}

func renderGroups(w io.Writer, title string, groups map[string]monitor.GroupSummary) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := groups[name]
		fmt.Fprintf(w, "  %-28s signals=%d today=%d avg_confidence=%.2f\n",
			name, g.TotalSignals, g.SignalsToday, g.AvgConfidence)
	}
}
