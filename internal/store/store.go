// Package store implements the tenant-scoped fact store backing the
// adaptive memory core. One SQLite database holds five append-oriented
// tables: episodes (decision units), kg_events (typed facts),
// temporal_edges (ordering relations), reward_signals (quality scores)
// and semantic_index (embedded summaries for retrieval).
//
// Dense vector search runs through a vec0 virtual table when the
// sqlite-vec extension is present (probed at open), and falls back to
// brute-force cosine scoring over stored embedding blobs otherwise.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gpcmemory/internal/logging"
)

// FactStore is the single handle to the memory-core database.
type FactStore struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	vectorExt  bool // sqlite-vec available
	requireVec bool // fail fast when vec extension is missing
	vecDim     int  // embedding dimensionality for the vec0 shadow table
}

// Options tunes store construction.
type Options struct {
	// RequireVec fails Open when the sqlite-vec extension is unavailable
	// instead of degrading to brute-force cosine search.
	RequireVec bool

	// VecDim is the embedding dimensionality for the vec0 shadow table.
	// Defaults to 768 (embeddinggemma / gemini-embedding-001).
	VecDim int
}

// Open initializes the SQLite database at the given path.
// Use ":memory:" for tests.
func Open(path string, opts Options) (*FactStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Initializing FactStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	vecDim := opts.VecDim
	if vecDim <= 0 {
		vecDim = 768
	}

	s := &FactStore{db: db, dbPath: path, requireVec: opts.RequireVec, vecDim: vecDim}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	// Detect sqlite-vec extension availability
	s.detectVecExtension()
	if s.requireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available; build with -tags sqlite_vec to enable ANN search")
	}
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
		if err := s.initializeVecTable(); err != nil {
			logging.Get(logging.CategoryStore).Warn("Failed to create vec0 shadow table, degrading to brute-force search: %v", err)
			s.vectorExt = false
		}
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; continuing with brute-force cosine search")
	}

	logging.Store("FactStore initialization complete (episodes, graph, rewards, semantic index ready)")
	return s, nil
}

// initialize creates the required tables.
func (s *FactStore) initialize() error {
	// One decision unit per agent run. run_id is UNIQUE so a concurrent
	// duplicate create fails instead of storing two episodes.
	episodesTable := `
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		run_type TEXT,
		agent_intent TEXT,
		evidence_hash TEXT,
		retrieval_meta TEXT,
		model_output TEXT,
		confidence REAL NOT NULL DEFAULT 0.5,
		outcome_signal TEXT,
		next_state_id TEXT,
		summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id);
	CREATE INDEX IF NOT EXISTS idx_episodes_outcome ON episodes(outcome_signal);
	`

	// Typed subject-predicate-object facts. Immutable once written.
	kgEventsTable := `
	CREATE TABLE IF NOT EXISTS kg_events (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object_id TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		source_hash TEXT,
		tenant_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_kg_subject ON kg_events(subject_id);
	CREATE INDEX IF NOT EXISTS idx_kg_predicate ON kg_events(predicate);
	CREATE INDEX IF NOT EXISTS idx_kg_tenant ON kg_events(tenant_id);
	`

	// Directed ordering relations between kg_events within one run.
	temporalEdgesTable := `
	CREATE TABLE IF NOT EXISTS temporal_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_event TEXT NOT NULL,
		to_event TEXT NOT NULL,
		relation TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON temporal_edges(from_event);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON temporal_edges(to_event);
	`

	// Append-only quality scores. A run may accumulate several over time.
	rewardSignalsTable := `
	CREATE TABLE IF NOT EXISTS reward_signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		episode_id TEXT NOT NULL,
		user_score INTEGER NOT NULL,
		auto_score REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rewards_episode ON reward_signals(episode_id);
	`

	// Embedded episode summaries for dense + lexical retrieval.
	semanticIndexTable := `
	CREATE TABLE IF NOT EXISTS semantic_index (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		episode_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		tenant_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_semantic_episode ON semantic_index(episode_id);
	CREATE INDEX IF NOT EXISTS idx_semantic_tenant ON semantic_index(tenant_id);
	`

	for _, table := range []string{
		episodesTable,
		kgEventsTable,
		temporalEdgesTable,
		rewardSignalsTable,
		semanticIndexTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// initializeVecTable creates the vec0 shadow table for ANN search.
func (s *FactStore) initializeVecTable() error {
	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS semantic_index_vec USING vec0(embedding float[%d])", s.vecDim))
	return err
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available.
func (s *FactStore) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}

	s.vectorExt = false
}

// VectorSearchAvailable reports whether ANN search through sqlite-vec is
// active. When false, dense search uses the brute-force fallback.
func (s *FactStore) VectorSearchAvailable() bool {
	return s.vectorExt
}

// Close closes the database connection.
func (s *FactStore) Close() error {
	logging.Store("Closing FactStore database connection")
	return s.db.Close()
}

// GetDB returns the underlying SQL database connection.
func (s *FactStore) GetDB() *sql.DB {
	return s.db
}

// GetStats returns row counts per table.
func (s *FactStore) GetStats() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetStats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"episodes", "kg_events", "temporal_edges", "reward_signals", "semantic_index"}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}

	return stats, nil
}

// tableExists reports whether a table is present in the schema.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
