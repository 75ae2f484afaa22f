// Package formulas provides the statistical helpers used by the performance
// monitor: descriptive statistics, risk-adjusted return measures, and
// drawdown calculations.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// ZScore returns the z-score of value against the sample. Returns 0 when the
// sample has no spread.
func ZScore(value float64, sample []float64) float64 {
	sd := StdDev(sample)
	if sd == 0 {
		return 0
	}
	return (value - Mean(sample)) / sd
}

// Percentile returns the p-th percentile (0..100) of data using gonum's
// empirical quantile on a sorted copy.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	q := p / 100.0
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// Min returns the smallest value in data, 0 for empty input.
func Min(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value in data, 0 for empty input.
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the sum of data.
func Sum(data []float64) float64 {
	total := 0.0
	for _, v := range data {
		total += v
	}
	return total
}

// SharpeFromPnL computes an annualized Sharpe-style ratio over a P&L series:
// sum(pnl) / (stddev(pnl) * sqrt(252)). Returns 0 when the series has no
// spread.
func SharpeFromPnL(pnl []float64) float64 {
	sd := StdDev(pnl)
	if sd == 0 {
		return 0
	}
	return Sum(pnl) / (sd * math.Sqrt(252))
}

// MaxDrawdownRatio returns min(pnl) / max(max(pnl), 1) over a P&L series.
func MaxDrawdownRatio(pnl []float64) float64 {
	if len(pnl) == 0 {
		return 0
	}
	peak := Max(pnl)
	if peak < 1 {
		peak = 1
	}
	return Min(pnl) / peak
}

// ProfitFactor returns sum(wins) / |sum(losses)|. Returns +Inf when there
// are wins and no losses, 0 when there are no wins.
func ProfitFactor(pnl []float64) float64 {
	var wins, losses float64
	for _, v := range pnl {
		if v > 0 {
			wins += v
		} else if v < 0 {
			losses += v
		}
	}
	if losses == 0 {
		if wins == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return wins / math.Abs(losses)
}
