package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gpcmemory/internal/calibration"
)

var (
	outcomesFile string
	actualsFile  string
	saveWeights  bool
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Recalibrate scoring weights from closed-deal outcomes",
	Long: `Reads outcome records (and optional projection actuals) from JSON files
and prints the calibration summary. With --save, the adapted weights
are written to the configured weights file for the scoring formula to
pick up on its next triage run.`,
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().StringVarP(&outcomesFile, "outcomes", "o", "", "Outcome records JSON file (required)")
	calibrateCmd.Flags().StringVarP(&actualsFile, "actuals", "a", "", "Projection actuals JSON file")
	calibrateCmd.Flags().BoolVar(&saveWeights, "save", false, "Persist adapted weights to the configured path")
	_ = calibrateCmd.MarkFlagRequired("outcomes")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var outcomes []calibration.OutcomeRecord
	if err := readJSONFile(outcomesFile, &outcomes); err != nil {
		return fmt.Errorf("failed to read outcomes: %w", err)
	}

	var actuals []calibration.ProjectionActual
	if actualsFile != "" {
		if err := readJSONFile(actualsFile, &actuals); err != nil {
			return fmt.Errorf("failed to read actuals: %w", err)
		}
	}

	eng := calibration.NewEngine(calibration.Config{
		BaseWeights:    cfg.Calibration.BaseWeights,
		MinSamples:     cfg.Calibration.MinSamples,
		WeightFloor:    cfg.Calibration.WeightFloor,
		GreenMinScore:  cfg.Calibration.GreenMinScore,
		YellowMinScore: cfg.Calibration.YellowMinScore,
	})

	summary := eng.BuildOutcomeTrackingSummary(outcomes, actuals)
	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	if saveWeights {
		if summary.AdaptedWeights == nil {
			logger.Warn("Not saving weights: sample too small, prior weights stay active",
				zap.Int("samples", summary.SampleSize),
				zap.Int("min_samples", cfg.Calibration.MinSamples))
			return nil
		}
		adapted := &calibration.AdaptedWeights{
			Weights:     summary.AdaptedWeights,
			Adjustments: summary.WeightAdjustments,
			SampleSize:  summary.SampleSize,
		}
		if err := calibration.SaveWeights(cfg.Calibration.WeightsPath, adapted); err != nil {
			return err
		}
		logger.Info("Adapted weights saved", zap.String("path", cfg.Calibration.WeightsPath))
	}
	return nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
