package store

import (
	"fmt"
	"time"

	"gpcmemory/internal/logging"
)

// =============================================================================
// REWARD SIGNALS (append-only quality scores)
// =============================================================================

// RewardSignal is one human and/or automatic quality score for an episode.
type RewardSignal struct {
	ID        int64
	EpisodeID string
	UserScore int     // 0-5, human-in-the-loop
	AutoScore float64 // 0-1, derived signal
	CreatedAt time.Time
}

// InsertRewardSignal appends a quality score to an episode. Signals are
// never updated or deleted; a later manual correction is a new row.
func (s *FactStore) InsertRewardSignal(episodeID string, userScore int, autoScore float64) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertRewardSignal")
	defer timer.Stop()

	if episodeID == "" {
		return fmt.Errorf("episode id is required")
	}
	if userScore < 0 || userScore > 5 {
		return fmt.Errorf("user score must be in [0,5], got %d", userScore)
	}
	if autoScore < 0 || autoScore > 1 {
		return fmt.Errorf("auto score must be in [0,1], got %v", autoScore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing reward signal for episode %s (user=%d, auto=%.2f)",
		episodeID, userScore, autoScore)

	_, err := s.db.Exec(`
		INSERT INTO reward_signals (episode_id, user_score, auto_score) VALUES (?, ?, ?)`,
		episodeID, userScore, autoScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward signal: %w", err)
	}
	return nil
}

// ListRewardSignals returns all signals for an episode, oldest first.
func (s *FactStore) ListRewardSignals(episodeID string) ([]RewardSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, episode_id, user_score, auto_score, created_at
		FROM reward_signals WHERE episode_id = ? ORDER BY id`,
		episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reward signals: %w", err)
	}
	defer rows.Close()

	var signals []RewardSignal
	for rows.Next() {
		var sig RewardSignal
		var createdAt time.Time
		if err := rows.Scan(&sig.ID, &sig.EpisodeID, &sig.UserScore, &sig.AutoScore, &createdAt); err != nil {
			continue
		}
		sig.CreatedAt = createdAt
		signals = append(signals, sig)
	}
	return signals, nil
}
