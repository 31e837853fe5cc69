package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"gpcmemory/internal/logging"
)

// =============================================================================
// KNOWLEDGE GRAPH (typed facts + temporal ordering)
// =============================================================================

// KGEvent is an immutable subject-predicate-object fact with provenance.
type KGEvent struct {
	ID         string
	SubjectID  string
	Predicate  string
	ObjectID   string
	Confidence float64
	SourceHash string
	TenantID   string
	CreatedAt  time.Time
}

// TemporalEdge is a directed ordering relation between two KGEvents.
type TemporalEdge struct {
	ID        int64
	FromEvent string
	ToEvent   string
	Relation  string
	CreatedAt time.Time
}

// InsertKGEvent appends a fact to the graph. Events are immutable once
// written; there is no update path.
func (s *FactStore) InsertKGEvent(ev *KGEvent) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertKGEvent")
	defer timer.Stop()

	if ev == nil {
		return fmt.Errorf("kg event is nil")
	}
	if ev.SubjectID == "" || ev.Predicate == "" || ev.ObjectID == "" {
		return fmt.Errorf("invalid kg event: subject/predicate/object must be non-empty")
	}
	if ev.TenantID == "" {
		return fmt.Errorf("invalid kg event: tenant id is required")
	}
	if math.IsNaN(ev.Confidence) || math.IsInf(ev.Confidence, 0) {
		return fmt.Errorf("invalid kg event confidence: %v", ev.Confidence)
	}
	if ev.ID == "" {
		ev.ID = "kge_" + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing kg event: %s -[%s]-> %s (tenant=%s)",
		ev.SubjectID, ev.Predicate, ev.ObjectID, ev.TenantID)

	_, err := s.db.Exec(`
		INSERT INTO kg_events (id, subject_id, predicate, object_id, confidence, source_hash, tenant_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SubjectID, ev.Predicate, ev.ObjectID, ev.Confidence, ev.SourceHash, ev.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert kg event: %w", err)
	}
	return nil
}

// InsertTemporalEdge appends a directed ordering relation. Both endpoints
// must already exist; edges are only created after their events, so no
// forward references arise.
func (s *FactStore) InsertTemporalEdge(fromEvent, toEvent, relation string) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertTemporalEdge")
	defer timer.Stop()

	if fromEvent == "" || toEvent == "" || relation == "" {
		return fmt.Errorf("invalid temporal edge: from/to/relation must be non-empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing temporal edge: %s -> %s (%s)", fromEvent, toEvent, relation)

	_, err := s.db.Exec(`
		INSERT INTO temporal_edges (from_event, to_event, relation) VALUES (?, ?, ?)`,
		fromEvent, toEvent, relation,
	)
	if err != nil {
		return fmt.Errorf("failed to insert temporal edge: %w", err)
	}
	return nil
}

// SearchGraph finds tenant-scoped facts whose subject, predicate or object
// matches the query keywords, newest first.
//
// The tenant guard lives here, at query-construction level: an empty tenant
// id returns no results without touching the database. Cross-tenant
// isolation must hold even if the authorization layer above misbehaves.
func (s *FactStore) SearchGraph(tenantID, query string, limit int) ([]KGEvent, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchGraph")
	defer timer.Stop()

	if tenantID == "" {
		logging.StoreDebug("Graph search skipped: no tenant id")
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	keywords := extractKeywords(query, 4)
	if len(keywords) == 0 {
		return nil, nil
	}

	var conditions []string
	args := []interface{}{tenantID}
	for _, kw := range keywords {
		conditions = append(conditions,
			"(LOWER(subject_id) LIKE ? OR LOWER(predicate) LIKE ? OR LOWER(object_id) LIKE ?)")
		pattern := "%" + kw + "%"
		args = append(args, pattern, pattern, pattern)
	}

	querySQL := fmt.Sprintf(`
		SELECT id, subject_id, predicate, object_id, confidence, COALESCE(source_hash, ''), tenant_id, created_at
		FROM kg_events
		WHERE tenant_id = ? AND (%s)
		ORDER BY created_at DESC
		LIMIT ?`, strings.Join(conditions, " OR "))
	args = append(args, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("graph search failed: %w", err)
	}
	defer rows.Close()

	var events []KGEvent
	for rows.Next() {
		ev, err := scanKGEvent(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Graph row scan failed: %v", err)
			continue
		}
		events = append(events, *ev)
	}

	logging.StoreDebug("Graph search returned %d events (tenant=%s)", len(events), tenantID)
	return events, nil
}

// ExpandTemporalNeighbors returns facts causally adjacent to the given
// events via temporal edges, still scoped to the tenant. Events already in
// the seed set are excluded. Empty seeds yield no results.
func (s *FactStore) ExpandTemporalNeighbors(tenantID string, seedIDs []string, limit int) ([]KGEvent, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ExpandTemporalNeighbors")
	defer timer.Stop()

	if tenantID == "" || len(seedIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	seen := make(map[string]bool, len(seedIDs))
	placeholders := make([]string, 0, len(seedIDs))
	args := make([]interface{}, 0, 2*len(seedIDs)+2)
	for _, id := range seedIDs {
		seen[id] = true
		placeholders = append(placeholders, "?")
	}
	ph := strings.Join(placeholders, ",")
	for _, id := range seedIDs {
		args = append(args, id)
	}
	for _, id := range seedIDs {
		args = append(args, id)
	}
	args = append(args, tenantID, limit)

	querySQL := fmt.Sprintf(`
		SELECT ev.id, ev.subject_id, ev.predicate, ev.object_id, ev.confidence,
		       COALESCE(ev.source_hash, ''), ev.tenant_id, ev.created_at
		FROM temporal_edges e
		JOIN kg_events ev ON ev.id = e.to_event OR ev.id = e.from_event
		WHERE (e.from_event IN (%s) OR e.to_event IN (%s))
		  AND ev.tenant_id = ?
		ORDER BY ev.created_at DESC
		LIMIT ?`, ph, ph)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("temporal expansion failed: %w", err)
	}
	defer rows.Close()

	var events []KGEvent
	for rows.Next() {
		ev, err := scanKGEvent(rows)
		if err != nil {
			continue
		}
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		events = append(events, *ev)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	logging.StoreDebug("Temporal expansion returned %d neighbor events", len(events))
	return events, nil
}

// ListEdgesForRun returns the ordering chain recorded for a run.
func (s *FactStore) ListEdgesForRun(runID string) ([]TemporalEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, from_event, to_event, relation, created_at
		FROM temporal_edges WHERE relation = ? ORDER BY id`,
		fmt.Sprintf("run:%s:sequence", runID))
	if err != nil {
		return nil, fmt.Errorf("failed to list edges for run %s: %w", runID, err)
	}
	defer rows.Close()

	var edges []TemporalEdge
	for rows.Next() {
		var e TemporalEdge
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.FromEvent, &e.ToEvent, &e.Relation, &createdAt); err != nil {
			continue
		}
		e.CreatedAt = createdAt
		edges = append(edges, e)
	}
	return edges, nil
}

// ListEventsForTenant returns all facts for a tenant, newest first.
func (s *FactStore) ListEventsForTenant(tenantID string, limit int) ([]KGEvent, error) {
	if tenantID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, subject_id, predicate, object_id, confidence, COALESCE(source_hash, ''), tenant_id, created_at
		FROM kg_events WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var events []KGEvent
	for rows.Next() {
		ev, err := scanKGEvent(rows)
		if err != nil {
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

func scanKGEvent(row rowScanner) (*KGEvent, error) {
	var ev KGEvent
	var createdAt time.Time
	if err := row.Scan(&ev.ID, &ev.SubjectID, &ev.Predicate, &ev.ObjectID,
		&ev.Confidence, &ev.SourceHash, &ev.TenantID, &createdAt); err != nil {
		return nil, err
	}
	ev.CreatedAt = createdAt
	return &ev, nil
}
