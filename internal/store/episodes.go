package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gpcmemory/internal/logging"
)

// Outcome signals an episode can carry. Seeded at creation from the run's
// confidence, then re-derived once the reward composite is known.
const (
	OutcomePositive       = "positive_feedback"
	OutcomeNeutral        = "neutral_feedback"
	OutcomeNegative       = "negative_feedback"
	OutcomeHighConfidence = "high_confidence"
	OutcomeCompleted      = "completed"
)

// Episode is one recorded agent decision.
type Episode struct {
	ID            string
	RunID         string
	RunType       string
	AgentIntent   string
	EvidenceHash  string
	RetrievalMeta string // free-form JSON
	ModelOutput   string // free-form JSON snapshot
	Confidence    float64
	OutcomeSignal string
	NextStateID   string
	Summary       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GetEpisodeByRunID returns the episode recorded for a run, or nil when the
// run has no episode yet. This lookup is what makes the writer idempotent.
func (s *FactStore) GetEpisodeByRunID(runID string) (*Episode, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetEpisodeByRunID")
	defer timer.Stop()

	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, run_id, COALESCE(run_type, ''), COALESCE(agent_intent, ''),
		       COALESCE(evidence_hash, ''), COALESCE(retrieval_meta, ''), COALESCE(model_output, ''),
		       confidence, COALESCE(outcome_signal, ''), COALESCE(next_state_id, ''),
		       COALESCE(summary, ''), created_at, updated_at
		FROM episodes WHERE run_id = ?`, runID)

	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query episode for run %s: %w", runID, err)
	}
	return ep, nil
}

// CreateEpisode inserts a new episode. The run_id UNIQUE constraint rejects
// a duplicate insert for the same run.
func (s *FactStore) CreateEpisode(ep *Episode) error {
	timer := logging.StartTimer(logging.CategoryStore, "CreateEpisode")
	defer timer.Stop()

	if ep == nil {
		return fmt.Errorf("episode is nil")
	}
	if ep.RunID == "" {
		return fmt.Errorf("episode run id is required")
	}
	if ep.ID == "" {
		ep.ID = "ep_" + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Creating episode %s for run %s (confidence=%.2f, signal=%s)",
		ep.ID, ep.RunID, ep.Confidence, ep.OutcomeSignal)

	_, err := s.db.Exec(`
		INSERT INTO episodes (id, run_id, run_type, agent_intent, evidence_hash,
			retrieval_meta, model_output, confidence, outcome_signal, next_state_id, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		ep.ID, ep.RunID, ep.RunType, ep.AgentIntent, ep.EvidenceHash,
		ep.RetrievalMeta, ep.ModelOutput, ep.Confidence, ep.OutcomeSignal,
		ep.NextStateID, ep.Summary,
	)
	if err != nil {
		return fmt.Errorf("failed to create episode for run %s: %w", ep.RunID, err)
	}
	return nil
}

// UpdateEpisodeOutcome sets the episode's outcome signal once the reward
// composite is known. The summary argument only fills in a missing summary;
// an existing one is never overwritten, so the update is idempotent.
func (s *FactStore) UpdateEpisodeOutcome(episodeID, signal, summary string) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateEpisodeOutcome")
	defer timer.Stop()

	if episodeID == "" {
		return fmt.Errorf("episode id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Updating episode %s outcome to %s", episodeID, signal)

	res, err := s.db.Exec(`
		UPDATE episodes
		SET outcome_signal = ?,
		    summary = COALESCE(summary, NULLIF(?, '')),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		signal, summary, episodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update episode %s outcome: %w", episodeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s not found", episodeID)
	}
	return nil
}

// SetEpisodeNextState links an episode to its "next state" fact.
func (s *FactStore) SetEpisodeNextState(episodeID, nextStateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE episodes SET next_state_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nextStateID, episodeID)
	if err != nil {
		return fmt.Errorf("failed to link episode %s next state: %w", episodeID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var ep Episode
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&ep.ID, &ep.RunID, &ep.RunType, &ep.AgentIntent,
		&ep.EvidenceHash, &ep.RetrievalMeta, &ep.ModelOutput,
		&ep.Confidence, &ep.OutcomeSignal, &ep.NextStateID,
		&ep.Summary, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		ep.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		ep.UpdatedAt = updatedAt.Time
	}
	return &ep, nil
}
