package monitor

import (
	"time"

	"github.com/aristath/relay/pkg/formulas"
)

// ModelReport is the performance summary for one model (optionally narrowed
// to one strategy) over a lookback window.
type ModelReport struct {
	Model        string    `json:"model"`
	Strategy     string    `json:"strategy,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	TotalSignals int       `json:"total_signals"`
	Executed     int       `json:"executed"`
	ClosedTrades int       `json:"closed_trades"`

	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	VaR95        float64 `json:"var_95"`

	AvgQualityScore float64 `json:"avg_quality_score"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	AvgSlippagePct  float64 `json:"avg_slippage_pct"`
}

// Report builds the model performance report from recorded outcomes. A
// model with no closed trades in the window gets zeros for the P&L stats.
func (m *Monitor) Report(model, strategy string, lookbackDays int) ModelReport {
	now := m.clk.Now()
	cutoff := now.AddDate(0, 0, -lookbackDays)
	report := ModelReport{Model: model, Strategy: strategy, From: cutoff, To: now}

	var pnl, scores, latencies, slippages []float64

	m.mu.Lock()
	for _, rec := range m.outcomes {
		if rec.signal.ModelVersion != model {
			continue
		}
		if strategy != "" && rec.signal.Strategy != strategy {
			continue
		}
		if rec.seenAt.Before(cutoff) {
			continue
		}
		report.TotalSignals++
		if rec.executed {
			report.Executed++
			scores = append(scores, rec.score)
			latencies = append(latencies, rec.latencyMs)
			slippages = append(slippages, rec.slippage)
		}
		if rec.pnlFinal {
			pnl = append(pnl, rec.pnl)
		}
	}
	m.mu.Unlock()

	report.ClosedTrades = len(pnl)
	report.AvgQualityScore = formulas.Mean(scores)
	report.AvgLatencyMs = formulas.Mean(latencies)
	report.AvgSlippagePct = formulas.Mean(slippages)

	if len(pnl) == 0 {
		return report
	}

	var wins, losses []float64
	for _, v := range pnl {
		if v > 0 {
			wins = append(wins, v)
		} else if v < 0 {
			losses = append(losses, v)
		}
	}
	report.WinRate = float64(len(wins)) / float64(len(pnl))
	report.AvgWin = formulas.Mean(wins)
	report.AvgLoss = formulas.Mean(losses)
	report.ProfitFactor = formulas.ProfitFactor(pnl)
	report.Sharpe = formulas.SharpeFromPnL(pnl)
	report.MaxDrawdown = formulas.MaxDrawdownRatio(pnl)
	report.VaR95 = formulas.Percentile(pnl, 5)
	return report
}
