package calibration

import (
	"gpcmemory/internal/logging"
)

// BuildOutcomeTrackingSummary runs the full calibration pass over one
// batch. When the outcome sample is too small the weight fields stay
// nil; callers read nil as "keep using prior weights". Bias and tier
// stats are always populated since they are safe at any sample size.
func (e *Engine) BuildOutcomeTrackingSummary(outcomes []OutcomeRecord, actuals []ProjectionActual) *Summary {
	timer := logging.StartTimer(logging.CategoryCalibration, "BuildOutcomeTrackingSummary")
	defer timer.Stop()

	summary := &Summary{
		ConfidenceLevel:  confidenceLevel(len(outcomes)),
		SampleSize:       len(outcomes),
		ProjectionBiases: e.ComputeProjectionBiases(actuals),
		TierCalibrations: e.ComputeTierCalibration(outcomes),
	}

	if adapted := e.ComputeAdaptiveWeights(outcomes, nil); adapted != nil {
		summary.AdaptedWeights = adapted.Weights
		summary.WeightAdjustments = adapted.Adjustments
	}

	logging.Get(logging.CategoryCalibration).StructuredLog("info", "calibration_summary", map[string]interface{}{
		"sample_size": summary.SampleSize,
		"confidence":  summary.ConfidenceLevel,
		"has_weights": summary.AdaptedWeights != nil,
		"bias_count":  len(summary.ProjectionBiases),
	})
	return summary
}

// confidenceLevel depends only on how many outcomes back the batch.
func confidenceLevel(n int) string {
	switch {
	case n < 5:
		return ConfidenceInsufficient
	case n < 15:
		return ConfidenceLow
	case n < 50:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}
