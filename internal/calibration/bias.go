package calibration

import (
	"gpcmemory/internal/logging"
)

const (
	correctionFloor   = 0.5
	correctionCeiling = 1.5
)

// ComputeProjectionBiases measures systematic over/under-prediction
// per numeric metric. Samples with predicted == 0 are skipped (the
// ratio is undefined). The correction factor is the mean actual/
// predicted ratio clamped to [0.5, 1.5] so a handful of outlier deals
// cannot produce an absurd correction. Empty input yields an empty
// slice, not an error.
func (e *Engine) ComputeProjectionBiases(actuals []ProjectionActual) []ProjectionBias {
	timer := logging.StartTimer(logging.CategoryCalibration, "ComputeProjectionBiases")
	defer timer.Stop()

	type group struct {
		ratioSum float64
		n        int
	}
	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, a := range actuals {
		if a.Predicted == 0 {
			continue
		}
		g, ok := groups[a.Metric]
		if !ok {
			g = &group{}
			groups[a.Metric] = g
			order = append(order, a.Metric)
		}
		g.ratioSum += a.Actual / a.Predicted
		g.n++
	}

	biases := make([]ProjectionBias, 0, len(order))
	for _, metric := range order {
		g := groups[metric]
		mean := g.ratioSum / float64(g.n)
		correction := mean
		if correction < correctionFloor {
			correction = correctionFloor
		}
		if correction > correctionCeiling {
			correction = correctionCeiling
		}
		biases = append(biases, ProjectionBias{
			Metric:           metric,
			MeanRatio:        mean,
			SampleSize:       g.n,
			CorrectionFactor: correction,
		})
	}

	logging.CalibrationDebug("Projection biases: %d metrics from %d samples", len(biases), len(actuals))
	return biases
}
