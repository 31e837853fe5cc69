// Package autofeed persists completed agent runs into the fact store.
//
// The writer is the single ingestion path for run outcomes: each call
// records (or reuses) an episode, mirrors a summary into the semantic
// index, emits knowledge-graph events for the run's evidence, and logs
// exactly one reward signal. Every step is best effort. A failure in
// one layer is collected and the remaining layers still run, so a
// flaky embedder never blocks episodic or graph writes.
package autofeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gpcmemory/internal/embedding"
	"gpcmemory/internal/logging"
	"gpcmemory/internal/store"
)

// ErrDisabled is returned in RecordResult.Errors when the kill switch
// is on. No writes of any kind happen in that case.
const ErrDisabled = "AUTO_FEED_DISABLED"

const (
	defaultMaxCitations = 8
	defaultSummaryMax   = 260
	fallbackSummary     = "Run completed"
)

// =============================================================================
// INPUT / OUTPUT TYPES
// =============================================================================

// Citation is one piece of evidence attached to a finished run.
// All fields are optional; the writer picks the first non-empty
// identifier when naming the graph object.
type Citation struct {
	Tool        string `json:"tool,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

// RecordInput carries everything a finished run hands to the writer.
type RecordInput struct {
	RunID      string
	RunType    string
	Intent     string
	TenantID   string
	SubjectID  string
	OutputText string
	Report     map[string]interface{}

	// Confidence is the run's self-reported confidence. Nil means
	// unknown; values in (1,100] are treated as percentages.
	Confidence *float64

	EvidenceHash string
	Citations    []Citation

	// UserScore is an explicit 0-5 rating. When nil the writer derives
	// one from AutoScore.
	UserScore *int

	// AutoScore is the automatic quality estimate in [0,1]. When nil
	// the normalized confidence stands in for it.
	AutoScore *float64
}

// RecordResult reports what actually got written. Errors holds
// human-readable descriptions of every layer that failed; an empty
// slice means the whole pipeline succeeded.
type RecordResult struct {
	EpisodeID      string
	EpisodeCreated bool

	// VectorMode is "embedded", "missing-input", or "error" depending
	// on whether the semantic entry carries a vector.
	VectorMode string

	ReflectionStored bool
	EventsInserted   int
	EdgesInserted    int
	RewardStored     bool
	CompositeScore   float64

	Errors []string
}

// =============================================================================
// WRITER
// =============================================================================

// Writer records run outcomes into a FactStore. The embedder may be
// nil; semantic entries are then stored without vectors and found via
// lexical search only.
type Writer struct {
	store    *store.FactStore
	embedder embedding.Engine

	enabled      bool
	maxCitations int
	summaryMax   int
	embedTimeout time.Duration
}

// Options tunes writer behavior. Zero values fall back to defaults.
type Options struct {
	Enabled      bool
	MaxCitations int
	SummaryMax   int
	EmbedTimeout time.Duration
}

// NewWriter wires a writer onto an open fact store.
func NewWriter(fs *store.FactStore, embedder embedding.Engine, opts Options) *Writer {
	if opts.MaxCitations <= 0 {
		opts.MaxCitations = defaultMaxCitations
	}
	if opts.SummaryMax <= 0 {
		opts.SummaryMax = defaultSummaryMax
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 10 * time.Second
	}
	return &Writer{
		store:        fs,
		embedder:     embedder,
		enabled:      opts.Enabled,
		maxCitations: opts.MaxCitations,
		summaryMax:   opts.SummaryMax,
		embedTimeout: opts.EmbedTimeout,
	}
}

// RecordEpisode runs the full ingestion pipeline for one finished run.
// It never returns an error; partial failures are reported in
// RecordResult.Errors so the caller's hot path cannot be broken by a
// memory write.
func (w *Writer) RecordEpisode(ctx context.Context, in RecordInput) RecordResult {
	logger := logging.Get(logging.CategoryAutoFeed)
	timer := logging.StartTimer(logging.CategoryAutoFeed, "record_episode")
	defer timer.Stop()

	res := RecordResult{VectorMode: "missing-input"}

	if !w.enabled {
		res.Errors = append(res.Errors, ErrDisabled)
		logger.StructuredLog("info", "autofeed_skipped", map[string]interface{}{
			"run_id": in.RunID,
			"status": "disabled",
		})
		return res
	}
	if strings.TrimSpace(in.RunID) == "" {
		res.Errors = append(res.Errors, "validation: run id is required")
		logger.StructuredLog("warn", "autofeed_rejected", map[string]interface{}{
			"status": "validation_error",
		})
		return res
	}

	confidence := normalizeConfidence(in.Confidence)
	summary := w.buildSummary(in.OutputText, in.Report)

	// === EPISODE UPSERT ===
	// Retries and duplicate deliveries reuse the existing row; the
	// run_id carries a UNIQUE constraint, so a concurrent duplicate
	// create fails here rather than storing two episodes.
	existing, err := w.store.GetEpisodeByRunID(in.RunID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("episode lookup: %v", err))
	}
	if existing != nil {
		res.EpisodeID = existing.ID
	} else if err == nil {
		seed := store.OutcomeCompleted
		if confidence >= 0.8 {
			seed = store.OutcomeHighConfidence
		}
		var modelOutput string
		if len(in.Report) > 0 {
			if raw, mErr := json.Marshal(in.Report); mErr == nil {
				modelOutput = string(raw)
			}
		}
		ep := &store.Episode{
			RunID:         in.RunID,
			RunType:       in.RunType,
			AgentIntent:   in.Intent,
			EvidenceHash:  in.EvidenceHash,
			ModelOutput:   modelOutput,
			Summary:       summary,
			Confidence:    confidence,
			OutcomeSignal: seed,
		}
		if createErr := w.store.CreateEpisode(ep); createErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("episode create: %v", createErr))
		} else {
			res.EpisodeID = ep.ID
			res.EpisodeCreated = true
		}
	}

	// === SEMANTIC REFLECTION ===
	if res.EpisodeID != "" {
		vec, mode := w.embedSummary(ctx, summary, &res)
		res.VectorMode = mode
		if _, insErr := w.store.InsertSemanticEntry(res.EpisodeID, summary, in.TenantID, vec); insErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("semantic entry: %v", insErr))
		} else {
			res.ReflectionStored = true
		}
	}

	// === KNOWLEDGE GRAPH ===
	if res.EpisodeID != "" {
		w.writeGraphFacts(in, confidence, &res)
	}

	// === REWARD + OUTCOME ===
	composite := 0.0
	if res.EpisodeID != "" {
		composite = w.writeReward(in, confidence, &res)
	}
	res.CompositeScore = composite

	status := "succeeded"
	if len(res.Errors) > 0 {
		status = "failed"
	}
	logger.StructuredLog("info", "autofeed_recorded", map[string]interface{}{
		"run_id":          in.RunID,
		"episode_id":      res.EpisodeID,
		"episode_created": res.EpisodeCreated,
		"vector_mode":     res.VectorMode,
		"events":          res.EventsInserted,
		"edges":           res.EdgesInserted,
		"composite":       composite,
		"status":          status,
		"error_count":     len(res.Errors),
	})
	return res
}

// =============================================================================
// PIPELINE STAGES
// =============================================================================

func (w *Writer) buildSummary(output string, report map[string]interface{}) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(output); s != "" {
		parts = append(parts, s)
	}
	if len(report) > 0 {
		if raw, err := json.Marshal(report); err == nil {
			parts = append(parts, string(raw))
		}
	}
	summary := strings.TrimSpace(strings.Join(parts, " "))
	if summary == "" {
		return fallbackSummary
	}
	if len(summary) > w.summaryMax {
		summary = summary[:w.summaryMax]
	}
	return summary
}

// embedSummary returns the vector (or nil) and the vector mode tag.
func (w *Writer) embedSummary(ctx context.Context, summary string, res *RecordResult) ([]float32, string) {
	if w.embedder == nil || strings.TrimSpace(summary) == "" {
		return nil, "missing-input"
	}
	embedCtx, cancel := context.WithTimeout(ctx, w.embedTimeout)
	defer cancel()
	vec, err := w.embedder.Embed(embedCtx, summary)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("embedding: %v", err))
		return nil, "error"
	}
	return vec, "embedded"
}

func (w *Writer) writeGraphFacts(in RecordInput, confidence float64, res *RecordResult) {
	tenant := in.TenantID
	if tenant == "" {
		tenant = "default"
	}
	subject := in.SubjectID
	if subject == "" {
		subject = "run:" + in.RunID
	}
	relation := fmt.Sprintf("run:%s:sequence", in.RunID)

	citations := in.Citations
	if len(citations) > w.maxCitations {
		citations = citations[:w.maxCitations]
	}

	if len(citations) == 0 {
		// Every episode gets at least one graph fact so graph-channel
		// retrieval can always reach it.
		err := w.store.InsertKGEvent(&store.KGEvent{
			TenantID:   tenant,
			SubjectID:  subject,
			Predicate:  "run:auto-feed",
			ObjectID:   res.EpisodeID,
			Confidence: confidence,
			SourceHash: in.EvidenceHash,
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("kg event: %v", err))
			return
		}
		res.EventsInserted = 1
		return
	}

	prevID := ""
	for i, c := range citations {
		predicate := "evidence:citation"
		if c.Tool != "" {
			predicate = "tool:" + c.Tool
		}
		sourceHash := c.ContentHash
		if sourceHash == "" {
			sourceHash = in.EvidenceHash
		}
		ev := &store.KGEvent{
			TenantID:   tenant,
			SubjectID:  subject,
			Predicate:  predicate,
			ObjectID:   citationObject(c),
			Confidence: confidence,
			SourceHash: sourceHash,
		}
		if err := w.store.InsertKGEvent(ev); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("kg event %d: %v", i, err))
			continue
		}
		res.EventsInserted++
		if prevID != "" {
			if edgeErr := w.store.InsertTemporalEdge(prevID, ev.ID, relation); edgeErr != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("temporal edge %d: %v", i, edgeErr))
			} else {
				res.EdgesInserted++
			}
		}
		prevID = ev.ID
	}
}

// citationObject picks the most specific identifier a citation offers.
func citationObject(c Citation) string {
	switch {
	case c.Tool != "":
		return c.Tool
	case c.SourceID != "":
		return c.SourceID
	case c.SnapshotID != "":
		return c.SnapshotID
	case c.URL != "":
		return c.URL
	case c.ContentHash != "":
		return c.ContentHash
	default:
		return "evidence"
	}
}

func (w *Writer) writeReward(in RecordInput, confidence float64, res *RecordResult) float64 {
	auto := confidence
	if in.AutoScore != nil {
		auto = clamp01(*in.AutoScore)
	}

	userScore := int(math.Round(auto * 5))
	if in.UserScore != nil {
		userScore = *in.UserScore
	}
	if userScore < 0 {
		userScore = 0
	}
	if userScore > 5 {
		userScore = 5
	}

	composite := 0.7*(float64(userScore)/5.0) + 0.3*auto

	signal := store.OutcomeNegative
	switch {
	case composite >= 0.8:
		signal = store.OutcomePositive
	case composite >= 0.5:
		signal = store.OutcomeNeutral
	}

	if err := w.store.InsertRewardSignal(res.EpisodeID, userScore, auto); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("reward signal: %v", err))
	} else {
		res.RewardStored = true
	}
	if err := w.store.UpdateEpisodeOutcome(res.EpisodeID, signal, ""); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("episode outcome: %v", err))
	}
	return composite
}

// =============================================================================
// HELPERS
// =============================================================================

// normalizeConfidence maps raw model confidence onto [0,1]. Nil means
// unknown and lands on 0.5; values in (1,100] are percentages.
func normalizeConfidence(c *float64) float64 {
	if c == nil {
		return 0.5
	}
	v := *c
	if v > 1 && v <= 100 {
		v = v / 100.0
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
