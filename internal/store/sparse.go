package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"gpcmemory/internal/logging"
)

// =============================================================================
// LEXICAL SEARCH (sparse channel)
// =============================================================================

// SearchLexical performs keyword similarity search over stored episode
// summaries. It needs no embeddings, so it keeps working when the embedding
// engine is unconfigured or down.
func (s *FactStore) SearchLexical(query string, limit int) ([]IndexHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchLexical")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}

	keywords := extractKeywords(query, 4)
	if len(keywords) == 0 {
		return nil, nil
	}

	var conditions []string
	var args []interface{}
	for _, kw := range keywords {
		conditions = append(conditions, "LOWER(content) LIKE ?")
		args = append(args, "%"+kw+"%")
	}

	querySQL := fmt.Sprintf(`
		SELECT id, episode_id, content, created_at
		FROM semantic_index
		WHERE %s
		ORDER BY created_at DESC
		LIMIT ?`, strings.Join(conditions, " OR "))
	// Over-fetch so keyword scoring has something to reorder.
	args = append(args, limit*3)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var hits []IndexHit
	for rows.Next() {
		var hit IndexHit
		var createdAt sql.NullTime
		if err := rows.Scan(&hit.ID, &hit.EpisodeID, &hit.Content, &createdAt); err != nil {
			continue
		}
		if createdAt.Valid {
			hit.CreatedAt = createdAt.Time
		}
		hit.Score = lexicalScore(hit.Content, keywords)
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	logging.StoreDebug("Lexical search returned %d hits", len(hits))
	return hits, nil
}

// extractKeywords pulls up to max lowercase keywords of length >= 4 from
// free text, stripping punctuation.
func extractKeywords(text string, max int) []string {
	if max <= 0 {
		max = 4
	}
	words := strings.Fields(strings.ToLower(text))
	var keywords []string
	for _, word := range words {
		word = strings.Trim(word, ".,:;()[]{}<>\"'")
		if len(word) < 4 {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) >= max {
			break
		}
	}
	return keywords
}

// lexicalScore is the fraction of keywords found in the text, floored at
// 0.3 so any returned hit keeps a nonzero in-channel score.
func lexicalScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	textLower := strings.ToLower(text)
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(textLower, kw) {
			matches++
		}
	}
	score := float64(matches) / float64(len(keywords))
	if score < 0.3 {
		score = 0.3
	}
	return clampScore(score)
}
