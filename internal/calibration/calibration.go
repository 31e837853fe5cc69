// Package calibration recalibrates the triage scoring formula against
// real-world deal outcomes. Three pure functions (adaptive weights,
// projection bias correction, tier accuracy) plus one aggregator that
// bundles them with a sample-size confidence level.
//
// Everything here is stateless over its input batch, so the same
// engine can serve concurrent recalibration jobs for different
// tenants or time windows.
package calibration

import (
	"time"
)

// Actual deal outcomes as reported by the lifecycle system.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomePartial = "PARTIAL"
	OutcomeFailure = "FAILURE"
)

// Tier names, ordered best to worst.
const (
	TierGreen  = "Green"
	TierYellow = "Yellow"
	TierRed    = "Red"
)

// Confidence levels derived from sample size alone.
const (
	ConfidenceInsufficient = "insufficient_data"
	ConfidenceLow          = "low"
	ConfidenceMedium       = "medium"
	ConfidenceHigh         = "high"
)

// =============================================================================
// INPUT TYPES
// =============================================================================

// OutcomeRecord pairs one deal's prediction-time scores with what
// actually happened. CategoryScores are on the 0-100 scale the triage
// formula uses.
type OutcomeRecord struct {
	CategoryScores    map[string]float64 `json:"category_scores"`
	PredictedDecision string             `json:"predicted_decision"`
	ActualOutcome     string             `json:"actual_outcome"`
	PredictedScore    float64            `json:"predicted_score"`
	ClosedAt          time.Time          `json:"closed_at,omitempty"`
}

// ProjectionActual is one predicted-vs-actual pair for a numeric
// metric (rent growth, absorption, exit cap, ...).
type ProjectionActual struct {
	Metric    string  `json:"metric"`
	Predicted float64 `json:"predicted"`
	Actual    float64 `json:"actual"`
}

// =============================================================================
// OUTPUT TYPES
// =============================================================================

// AdaptedWeights is a revised weight table plus the signed delta from
// the baseline per category, kept for explainability.
type AdaptedWeights struct {
	Weights     map[string]float64 `json:"weights" yaml:"weights"`
	Adjustments map[string]float64 `json:"adjustments" yaml:"adjustments"`
	SampleSize  int                `json:"sample_size" yaml:"sample_size"`
}

// ProjectionBias is the systematic over/under-prediction of one
// numeric metric, with the clamped correction to apply next cycle.
type ProjectionBias struct {
	Metric           string  `json:"metric"`
	MeanRatio        float64 `json:"mean_ratio"`
	SampleSize       int     `json:"sample_size"`
	CorrectionFactor float64 `json:"correction_factor"`
}

// TierCalibration is prediction accuracy within one score band.
type TierCalibration struct {
	Tier        string  `json:"tier"`
	TotalDeals  int     `json:"total_deals"`
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`
}

// Summary bundles every calibration output for one batch. Weights and
// adjustments are nil below the sample threshold; callers treat nil
// as "keep using prior weights".
type Summary struct {
	ConfidenceLevel   string             `json:"confidence_level"`
	SampleSize        int                `json:"sample_size"`
	AdaptedWeights    map[string]float64 `json:"adapted_weights"`
	WeightAdjustments map[string]float64 `json:"weight_adjustments"`
	ProjectionBiases  []ProjectionBias   `json:"projection_biases"`
	TierCalibrations  []TierCalibration  `json:"tier_calibrations"`
}

// =============================================================================
// ENGINE CONFIGURATION
// =============================================================================

// Config carries the tunable cut points. The category set and tier
// bands mirror whatever the external scoring formula uses, so they
// are configuration rather than constants.
type Config struct {
	BaseWeights    map[string]float64
	MinSamples     int
	WeightFloor    float64
	LearningRate   float64
	GreenMinScore  float64
	YellowMinScore float64
}

// DefaultConfig returns the triage formula's current category table
// and tier bands.
func DefaultConfig() Config {
	return Config{
		BaseWeights:    DefaultBaseWeights(),
		MinSamples:     5,
		WeightFloor:    0.02,
		LearningRate:   0.5,
		GreenMinScore:  70,
		YellowMinScore: 40,
	}
}

// DefaultBaseWeights is the baseline weight table for land-deal triage.
func DefaultBaseWeights() map[string]float64 {
	return map[string]float64{
		"access":        0.15,
		"drainage":      0.12,
		"adjacency":     0.12,
		"environmental": 0.13,
		"utilities":     0.13,
		"politics":      0.10,
		"zoning":        0.15,
		"acreage":       0.10,
	}
}

// Engine evaluates calibration batches under one configuration.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine, filling unset config fields from defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if len(cfg.BaseWeights) == 0 {
		cfg.BaseWeights = def.BaseWeights
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.WeightFloor <= 0 {
		cfg.WeightFloor = def.WeightFloor
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.GreenMinScore <= 0 {
		cfg.GreenMinScore = def.GreenMinScore
	}
	if cfg.YellowMinScore <= 0 {
		cfg.YellowMinScore = def.YellowMinScore
	}
	return &Engine{cfg: cfg}
}
