package calibration

import (
	"gpcmemory/internal/logging"
)

// ComputeTierCalibration buckets outcomes by predicted-score band and
// reports how often each band's deals actually succeeded. Always
// returns exactly three entries (Green, Yellow, Red) even with zero
// data so dashboards can render a stable table. PARTIAL outcomes
// count toward the tier total but toward neither rate's numerator.
func (e *Engine) ComputeTierCalibration(outcomes []OutcomeRecord) []TierCalibration {
	timer := logging.StartTimer(logging.CategoryCalibration, "ComputeTierCalibration")
	defer timer.Stop()

	type bucket struct {
		total, successes, failures int
	}
	buckets := map[string]*bucket{
		TierGreen:  {},
		TierYellow: {},
		TierRed:    {},
	}

	for _, o := range outcomes {
		b := buckets[e.tierFor(o.PredictedScore)]
		b.total++
		switch o.ActualOutcome {
		case OutcomeSuccess:
			b.successes++
		case OutcomeFailure:
			b.failures++
		}
	}

	result := make([]TierCalibration, 0, 3)
	for _, tier := range []string{TierGreen, TierYellow, TierRed} {
		b := buckets[tier]
		tc := TierCalibration{Tier: tier, TotalDeals: b.total}
		if b.total > 0 {
			tc.SuccessRate = float64(b.successes) / float64(b.total)
			tc.FailureRate = float64(b.failures) / float64(b.total)
		}
		result = append(result, tc)
	}

	logging.CalibrationDebug("Tier calibration over %d outcomes", len(outcomes))
	return result
}

// tierFor maps a predicted composite score onto its band.
func (e *Engine) tierFor(score float64) string {
	switch {
	case score >= e.cfg.GreenMinScore:
		return TierGreen
	case score >= e.cfg.YellowMinScore:
		return TierYellow
	default:
		return TierRed
	}
}
