package execution

import (
	"github.com/aristath/relay/internal/domain"
)

// Report is the terminal, machine-readable summary of one executed signal.
type Report struct {
	ExecutionSummary   Summary `json:"execution_summary"`
	PerformanceMetrics Perf    `json:"performance_metrics"`
	RiskMetrics        Risk    `json:"risk_metrics"`
	ExecutionQuality   Quality `json:"execution_quality"`
}

// Summary identifies the signal and its outcome.
type Summary struct {
	SignalID   string                 `json:"signal_id"`
	Instrument domain.Instrument      `json:"instrument"`
	Side       domain.Side            `json:"side"`
	TargetQty  float64                `json:"target_qty"`
	ActualQty  float64                `json:"actual_qty"`
	VWAP       float64                `json:"vwap"`
	Commission float64                `json:"commission"`
	Status     domain.ExecutionStatus `json:"status"`
}

// Perf carries the execution's latency and cost metrics.
type Perf struct {
	SignalToExecutionLatencyMs float64 `json:"signal_to_execution_latency_ms"`
	FillRatePct                float64 `json:"fill_rate_pct"`
	SlippagePct                float64 `json:"slippage_pct"`
	CommissionPerShare         float64 `json:"commission_per_share"`
}

// Risk carries the sizing-time risk view.
type Risk struct {
	PositionSizeRisk float64 `json:"position_size_risk"`
	Confidence       float64 `json:"confidence"`
}

// Quality carries the order-level execution quality numbers.
type Quality struct {
	OrdersCreated        int            `json:"orders_created"`
	RetryCount           int            `json:"retry_count"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds"`
	Urgency              domain.Urgency `json:"urgency"`
}

// buildReport assembles the report from a terminal execution snapshot.
func buildReport(exec domain.SignalExecution, riskScore float64) Report {
	target := exec.Signal.TargetQty
	if target < 0 {
		target = -target
	}
	fillRate := 0.0
	if target > 0 {
		fillRate = exec.FilledQty / target * 100
	}
	commissionPerShare := 0.0
	if exec.FilledQty > 0 {
		commissionPerShare = exec.Commission / exec.FilledQty
	}
	execSeconds := 0.0
	if !exec.ExecutionStarted.IsZero() && !exec.ExecutionDone.IsZero() {
		execSeconds = exec.ExecutionDone.Sub(exec.ExecutionStarted).Seconds()
	}

	return Report{
		ExecutionSummary: Summary{
			SignalID:   exec.Signal.ID,
			Instrument: exec.Signal.Instrument,
			Side:       exec.Signal.Side,
			TargetQty:  exec.Signal.TargetQty,
			ActualQty:  exec.FilledQty,
			VWAP:       exec.VWAP,
			Commission: exec.Commission,
			Status:     exec.Status,
		},
		PerformanceMetrics: Perf{
			SignalToExecutionLatencyMs: exec.LatencyMs,
			FillRatePct:                fillRate,
			SlippagePct:                exec.SlippagePct,
			CommissionPerShare:         commissionPerShare,
		},
		RiskMetrics: Risk{
			PositionSizeRisk: riskScore,
			Confidence:       exec.Signal.Confidence,
		},
		ExecutionQuality: Quality{
			OrdersCreated:        len(exec.OrderIDs),
			RetryCount:           exec.RetryCount,
			ExecutionTimeSeconds: execSeconds,
			Urgency:              exec.Signal.Urgency,
		},
	}
}
