package calibration

import (
	"sort"

	"gpcmemory/internal/logging"
)

// ComputeAdaptiveWeights revises the scoring weight table from a batch
// of closed-deal outcomes. Returns nil below the minimum sample
// threshold; insufficient data must never produce misleading weights.
//
// For each category the engine compares the category's mean score on
// successful deals against its mean score on failed ones. A category
// that scored high on winners and low on losers gains weight, the
// reverse loses weight. Every weight is floor-clamped so no category
// can be calibrated away entirely, then the vector is renormalized to
// sum to 1.
func (e *Engine) ComputeAdaptiveWeights(outcomes []OutcomeRecord, baseWeights map[string]float64) *AdaptedWeights {
	timer := logging.StartTimer(logging.CategoryCalibration, "ComputeAdaptiveWeights")
	defer timer.Stop()

	if len(outcomes) < e.cfg.MinSamples {
		logging.CalibrationDebug("Adaptive weights skipped: %d samples < %d minimum",
			len(outcomes), e.cfg.MinSamples)
		return nil
	}
	if len(baseWeights) == 0 {
		baseWeights = e.cfg.BaseWeights
	}

	adjusted := make(map[string]float64, len(baseWeights))
	for _, category := range sortedKeys(baseWeights) {
		signal := e.outcomeCorrelation(outcomes, category)
		w := baseWeights[category] * (1 + e.cfg.LearningRate*signal)
		if w < e.cfg.WeightFloor {
			w = e.cfg.WeightFloor
		}
		adjusted[category] = w
	}

	total := 0.0
	for _, w := range adjusted {
		total += w
	}
	if total <= 0 {
		return nil
	}

	weights := make(map[string]float64, len(adjusted))
	adjustments := make(map[string]float64, len(adjusted))
	for category, w := range adjusted {
		normalized := w / total
		weights[category] = normalized
		adjustments[category] = normalized - baseWeights[category]
	}

	logging.Calibration("Adaptive weights computed from %d outcomes across %d categories",
		len(outcomes), len(weights))
	return &AdaptedWeights{
		Weights:     weights,
		Adjustments: adjustments,
		SampleSize:  len(outcomes),
	}
}

// outcomeCorrelation returns a signal in [-1,1]: positive when the
// category's scores separate successes from failures in the right
// direction. PARTIAL outcomes contribute to neither side.
func (e *Engine) outcomeCorrelation(outcomes []OutcomeRecord, category string) float64 {
	var successSum, failureSum float64
	var successN, failureN int

	for _, o := range outcomes {
		score, ok := o.CategoryScores[category]
		if !ok {
			continue
		}
		switch o.ActualOutcome {
		case OutcomeSuccess:
			successSum += score
			successN++
		case OutcomeFailure:
			failureSum += score
			failureN++
		}
	}
	if successN == 0 || failureN == 0 {
		return 0
	}

	// Scores are on the 0-100 scale, so the mean gap lands in [-1,1].
	signal := (successSum/float64(successN) - failureSum/float64(failureN)) / 100.0
	if signal > 1 {
		signal = 1
	}
	if signal < -1 {
		signal = -1
	}
	return signal
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
