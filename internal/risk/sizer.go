package risk

import (
	"math"

	"github.com/rs/zerolog"
)

// SizingMethod selects the position sizing algorithm.
type SizingMethod string

const (
	SizeFixed              SizingMethod = "fixed"
	SizeConfidenceWeighted SizingMethod = "confidence_weighted"
	SizeKelly              SizingMethod = "kelly"
	SizeVolatilityAdjusted SizingMethod = "volatility_adjusted"
)

// baseAllocationPct is the fraction of portfolio value allocated before any
// adjustment.
const baseAllocationPct = 0.01

// SizeResult is the outcome of a sizing computation.
type SizeResult struct {
	FinalSize        int          `json:"final_size"`
	ConfidenceFactor float64      `json:"confidence_factor"`
	RiskAdjusted     bool         `json:"risk_adjusted"`
	MaxSize          int          `json:"max_size"`
	SizingMethod     SizingMethod `json:"sizing_method"`
	Warnings         []string     `json:"warnings,omitempty"`
}

// RiskLevel buckets an assessment score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Assessment is the outcome of a pre-trade risk check.
type Assessment struct {
	RiskScore         float64   `json:"risk_score"` // 0..1
	RiskLevel         RiskLevel `json:"risk_level"`
	RecommendedAction string    `json:"recommended_action"` // trade | reduce | abort
	RiskFactors       []string  `json:"risk_factors,omitempty"`
}

// SizeInput carries everything Size needs about the world.
type SizeInput struct {
	Confidence     float64
	ModelVersion   string
	PortfolioValue float64
	CurrentPrice   float64
	Method         SizingMethod
	Positions      map[string]float64 // symbol -> signed quantity
	Symbol         string
	MarketVol      float64
}

// Sizer computes final tradable quantities and risk assessments.
type Sizer struct {
	limits       Limits
	models       *ModelHealthCache
	correlations map[string]map[string]float64 // symbol -> symbol -> corr
	log          zerolog.Logger
}

// NewSizer creates a sizer. correlations may be nil.
func NewSizer(limits Limits, models *ModelHealthCache, correlations map[string]map[string]float64, log zerolog.Logger) *Sizer {
	return &Sizer{
		limits:       limits,
		models:       models,
		correlations: correlations,
		log:          log.With().Str("component", "risk_sizer").Logger(),
	}
}

// Size computes the final position size. Fixed mode returns the base size
// unchanged; kelly and volatility-adjusted are currently degenerate
// variants of confidence weighting.
func (s *Sizer) Size(in SizeInput) SizeResult {
	result := SizeResult{
		SizingMethod: in.Method,
		MaxSize:      s.limits.MaxPositionSize,
	}
	if in.CurrentPrice <= 0 || in.PortfolioValue <= 0 {
		return result
	}

	baseAlloc := in.PortfolioValue * baseAllocationPct
	baseSize := int(math.Floor(baseAlloc / in.CurrentPrice))

	if in.Method == SizeFixed {
		result.FinalSize = s.applyCaps(baseSize, in, &result)
		return result
	}

	// Confidence factor with a 10% floor.
	confFactor := math.Max(0.1, in.Confidence)
	modelFactor := s.models.ScoreOrDefault(in.ModelVersion)
	riskFactor := math.Max(0.1, in.Confidence)

	adjusted := int(math.Floor(float64(baseSize) * confFactor * modelFactor * riskFactor))

	result.ConfidenceFactor = confFactor
	result.RiskAdjusted = true
	result.FinalSize = s.applyCaps(adjusted, in, &result)
	return result
}

// applyCaps enforces the absolute and single-name weight limits and emits
// advisory warnings.
func (s *Sizer) applyCaps(size int, in SizeInput, result *SizeResult) int {
	if size > s.limits.MaxPositionSize {
		size = s.limits.MaxPositionSize
	}

	// Single-name weight: final * price <= portfolio * max weight.
	maxNotional := in.PortfolioValue * s.limits.MaxSingleStockWeight
	if float64(size)*in.CurrentPrice > maxNotional {
		size = int(math.Floor(maxNotional / in.CurrentPrice))
	}
	if size < 0 {
		size = 0
	}

	if size > 0 && size < 10 {
		result.Warnings = append(result.Warnings, "position_very_small")
	}
	if float64(size)*in.CurrentPrice > in.PortfolioValue*0.05 {
		result.Warnings = append(result.Warnings, "high_concentration")
	}
	return size
}

// AssessRisk combines confidence, model health, concentration, market and
// correlation risk into a 0..1 score with a recommendation.
func (s *Sizer) AssessRisk(in SizeInput) Assessment {
	var factors []string

	confidenceRisk := (1 - in.Confidence) * 100
	if confidenceRisk > 50 {
		factors = append(factors, "low_confidence")
	}

	modelScore := s.models.ScoreOrDefault(in.ModelVersion)
	modelRisk := (1 - modelScore) * 100
	if modelRisk > 50 {
		factors = append(factors, "model_underperforming")
	}

	ownWeight := s.positionWeight(in, in.Symbol)
	concentrationRisk := math.Min(100, ownWeight*500)
	if concentrationRisk > 50 {
		factors = append(factors, "concentrated_position")
	}

	marketRisk := math.Min(100, in.MarketVol*100)
	if marketRisk > 50 {
		factors = append(factors, "elevated_volatility")
	}

	correlationRisk := 0.0
	for symbol := range in.Positions {
		if symbol == in.Symbol {
			continue
		}
		corr := s.correlation(in.Symbol, symbol)
		correlationRisk += math.Abs(corr) * s.positionWeight(in, symbol) * 20
	}
	correlationRisk = math.Min(100, correlationRisk)
	if correlationRisk > 50 {
		factors = append(factors, "correlated_exposure")
	}

	score := (confidenceRisk*0.25 + modelRisk*0.25 + concentrationRisk*0.20 +
		marketRisk*0.15 + correlationRisk*0.15) / 100

	level := RiskCritical
	switch {
	case score < 0.25:
		level = RiskLow
	case score < 0.50:
		level = RiskMedium
	case score < 0.75:
		level = RiskHigh
	}

	action := "trade"
	if level == RiskHigh {
		action = "reduce"
	} else if level == RiskCritical {
		action = "abort"
	}

	return Assessment{
		RiskScore:         score,
		RiskLevel:         level,
		RecommendedAction: action,
		RiskFactors:       factors,
	}
}

// positionWeight approximates a position's portfolio weight using the
// signal's current price as the valuation proxy. The correlation data
// source is out of scope; weights only feed the advisory risk score.
func (s *Sizer) positionWeight(in SizeInput, symbol string) float64 {
	if in.PortfolioValue <= 0 {
		return 0
	}
	qty := math.Abs(in.Positions[symbol])
	return qty * in.CurrentPrice / in.PortfolioValue
}

// correlation looks up the injected pairwise correlation, 0 when absent.
func (s *Sizer) correlation(a, b string) float64 {
	if s.correlations == nil {
		return 0
	}
	if row, ok := s.correlations[a]; ok {
		return row[b]
	}
	return 0
}
