// Package risk implements signal validation and admission, position sizing,
// and pre-trade risk assessment under a configured limits policy.
package risk

import (
	"fmt"

	"github.com/aristath/relay/internal/errs"
)

// Limits is the immutable risk policy. Validated at construction; an
// invalid policy refuses to start the system.
type Limits struct {
	MaxPositionSize        int     // shares per position
	MaxPortfolioExposure   float64 // 0..1
	MaxSectorExposure      float64 // 0..1
	MaxSingleStockWeight   float64 // 0..1
	MinConfidenceThreshold float64 // 0..1
	MaxSignalsPerHour      int
	MaxConcurrentSignals   int
	MaxDailyTrades         int
	MinModelPerformance    float64 // 0..1
	MaxDailyLoss           float64 // currency
	MaxPositionLoss        float64
	StopLossThreshold      float64
	MaxCorrelationExposure float64
	MaxStrategyAllocation  float64
}

// DefaultLimits returns the standard policy.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:        1000,
		MaxPortfolioExposure:   0.95,
		MaxSectorExposure:      0.30,
		MaxSingleStockWeight:   0.10,
		MinConfidenceThreshold: 0.6,
		MaxSignalsPerHour:      50,
		MaxConcurrentSignals:   10,
		MaxDailyTrades:         100,
		MinModelPerformance:    0.5,
		MaxDailyLoss:           10000,
		MaxPositionLoss:        2000,
		StopLossThreshold:      0.05,
		MaxCorrelationExposure: 0.50,
		MaxStrategyAllocation:  0.40,
	}
}

// Validate checks internal consistency. Configuration errors are fatal.
func (l Limits) Validate() error {
	check01 := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return errs.Configuration(fmt.Sprintf("%s must be in [0,1], got %v", name, v), nil)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"max_portfolio_exposure", l.MaxPortfolioExposure},
		{"max_sector_exposure", l.MaxSectorExposure},
		{"max_single_stock_weight", l.MaxSingleStockWeight},
		{"min_confidence_threshold", l.MinConfidenceThreshold},
		{"min_model_performance_score", l.MinModelPerformance},
	} {
		if err := check01(c.name, c.v); err != nil {
			return err
		}
	}
	if l.MaxPositionSize <= 0 {
		return errs.Configuration("max_position_size must be positive", nil)
	}
	if l.MaxSignalsPerHour <= 0 {
		return errs.Configuration("max_signals_per_hour must be positive", nil)
	}
	if l.MaxConcurrentSignals <= 0 {
		return errs.Configuration("max_concurrent_signals must be positive", nil)
	}
	if l.MaxDailyTrades <= 0 {
		return errs.Configuration("max_daily_trades must be positive", nil)
	}
	if l.MaxDailyLoss < 0 {
		return errs.Configuration("max_daily_loss must be non-negative", nil)
	}
	return nil
}
