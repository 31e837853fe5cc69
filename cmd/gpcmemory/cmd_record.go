package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gpcmemory/internal/autofeed"
)

var recordFile string

// recordPayload is the JSON shape the run orchestrator emits when an
// agent run completes.
type recordPayload struct {
	RunID        string                 `json:"run_id"`
	RunType      string                 `json:"run_type"`
	AgentIntent  string                 `json:"agent_intent"`
	TenantID     string                 `json:"tenant_id"`
	SubjectID    string                 `json:"subject_id"`
	OutputText   string                 `json:"output_text"`
	Report       map[string]interface{} `json:"report"`
	Confidence   *float64               `json:"confidence"`
	EvidenceHash string                 `json:"evidence_hash"`
	Citations    []autofeed.Citation    `json:"citations"`
	UserScore    *int                   `json:"user_score"`
	AutoScore    *float64               `json:"auto_score"`
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a completed agent run into the fact store",
	Long: `Reads a run payload (JSON) from --file or stdin and persists it as an
episode with knowledge-graph facts, a semantic-index entry and a reward
signal. Best effort: partial failures are reported, never fatal.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordFile, "file", "f", "", "Run payload JSON file (default: stdin)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var raw []byte
	if recordFile != "" {
		raw, err = os.ReadFile(recordFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read run payload: %w", err)
	}

	var payload recordPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid run payload: %w", err)
	}

	fs, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()

	embedder := buildEmbedder(cfg)
	writer := autofeed.NewWriter(fs, embedder, autofeed.Options{
		Enabled:      cfg.AutoFeed.Enabled,
		MaxCitations: cfg.AutoFeed.MaxCitations,
		SummaryMax:   cfg.AutoFeed.SummaryMaxChars,
		EmbedTimeout: cfg.GetEmbeddingTimeout(),
	})

	res := writer.RecordEpisode(cmd.Context(), autofeed.RecordInput{
		RunID:        payload.RunID,
		RunType:      payload.RunType,
		Intent:       payload.AgentIntent,
		TenantID:     payload.TenantID,
		SubjectID:    payload.SubjectID,
		OutputText:   payload.OutputText,
		Report:       payload.Report,
		Confidence:   payload.Confidence,
		EvidenceHash: payload.EvidenceHash,
		Citations:    payload.Citations,
		UserScore:    payload.UserScore,
		AutoScore:    payload.AutoScore,
	})

	logger.Info("Run recorded",
		zap.String("run_id", payload.RunID),
		zap.String("episode_id", res.EpisodeID),
		zap.Bool("created", res.EpisodeCreated),
		zap.String("vector_mode", res.VectorMode),
		zap.Int("events", res.EventsInserted),
		zap.Int("edges", res.EdgesInserted),
		zap.Int("errors", len(res.Errors)))

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))

	if len(res.Errors) == 1 && res.Errors[0] == autofeed.ErrDisabled {
		return fmt.Errorf("auto-feed is disabled")
	}
	return nil
}
