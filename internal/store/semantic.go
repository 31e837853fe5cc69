package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"gpcmemory/internal/embedding"
	"gpcmemory/internal/logging"
)

// =============================================================================
// SEMANTIC INDEX (dense vector search)
// =============================================================================

// IndexHit is a scored hit from the semantic index (dense or lexical path).
type IndexHit struct {
	ID        int64
	EpisodeID string
	Content   string
	Score     float64
	CreatedAt time.Time
}

// InsertSemanticEntry stores an episode summary for retrieval. The embedding
// may be nil when the embedding engine was unavailable; such entries are
// still reachable through the lexical channel.
func (s *FactStore) InsertSemanticEntry(episodeID, content, tenantID string, vec []float32) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "InsertSemanticEntry")
	defer timer.Stop()

	if episodeID == "" {
		return 0, fmt.Errorf("episode id is required")
	}
	if content == "" {
		return 0, fmt.Errorf("semantic entry content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing semantic entry for episode %s (content=%d bytes, embedded=%v)",
		episodeID, len(content), len(vec) > 0)

	res, err := s.db.Exec(`
		INSERT INTO semantic_index (episode_id, content, embedding, tenant_id)
		VALUES (?, ?, ?, NULLIF(?, ''))`,
		episodeID, content, encodeFloat32Blob(vec), tenantID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert semantic entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read semantic entry id: %w", err)
	}

	// Mirror into the vec0 shadow table when ANN search is active.
	if s.vectorExt && len(vec) == s.vecDim {
		if _, err := s.db.Exec(
			"INSERT INTO semantic_index_vec (rowid, embedding) VALUES (?, ?)",
			id, encodeFloat32Blob(vec)); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec0 mirror insert failed for entry %d: %v", id, err)
		}
	}

	return id, nil
}

// SearchSemantic performs nearest-neighbor search over stored embeddings.
// Uses the vec0 index when available, brute-force cosine otherwise.
func (s *FactStore) SearchSemantic(queryVec []float32, limit int) ([]IndexHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchSemantic")
	defer timer.Stop()

	if len(queryVec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt && tableExists(s.db, "semantic_index_vec") {
		hits, err := s.searchSemanticVec(queryVec, limit)
		if err == nil {
			return hits, nil
		}
		logging.Get(logging.CategoryStore).Warn("vec0 search failed, falling back to brute force: %v", err)
	}

	return s.searchSemanticBruteForce(queryVec, limit)
}

func (s *FactStore) searchSemanticVec(queryVec []float32, limit int) ([]IndexHit, error) {
	rows, err := s.db.Query(`
		SELECT si.id, si.episode_id, si.content, si.created_at,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM semantic_index_vec v
		JOIN semantic_index si ON si.id = v.rowid
		ORDER BY distance ASC
		LIMIT ?`, encodeFloat32Blob(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []IndexHit
	for rows.Next() {
		var hit IndexHit
		var distance sql.NullFloat64
		var createdAt sql.NullTime
		if err := rows.Scan(&hit.ID, &hit.EpisodeID, &hit.Content, &createdAt, &distance); err != nil {
			continue
		}
		if createdAt.Valid {
			hit.CreatedAt = createdAt.Time
		}
		if distance.Valid {
			hit.Score = clampScore(1 - distance.Float64)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *FactStore) searchSemanticBruteForce(queryVec []float32, limit int) ([]IndexHit, error) {
	rows, err := s.db.Query(`
		SELECT id, episode_id, content, embedding, created_at
		FROM semantic_index
		WHERE embedding IS NOT NULL AND length(embedding) > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []IndexHit
	for rows.Next() {
		var hit IndexHit
		var blob []byte
		var createdAt sql.NullTime
		if err := rows.Scan(&hit.ID, &hit.EpisodeID, &hit.Content, &blob, &createdAt); err != nil {
			continue
		}
		if createdAt.Valid {
			hit.CreatedAt = createdAt.Time
		}
		vec := decodeFloat32Blob(blob)
		if len(vec) == 0 || len(vec) != len(queryVec) {
			continue
		}
		score, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		hit.Score = clampScore(score)
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// encodeFloat32Blob serializes a vector as little-endian float32 bytes,
// the layout sqlite-vec expects.
func encodeFloat32Blob(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeFloat32Blob(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	reader := bytes.NewReader(blob)
	if err := binary.Read(reader, binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
