// Package retrieval fans a single query out over the three memory
// channels (dense vectors, lexical keywords, knowledge graph) and
// returns whatever each channel produced within the deadline.
//
// Channels degrade independently: a failed embedder empties the
// semantic channel, a missing tenant skips the graph channel, and the
// caller always gets the channels that did succeed.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gpcmemory/internal/embedding"
	"gpcmemory/internal/logging"
	"gpcmemory/internal/store"
)

const (
	defaultTopK        = 10
	defaultDeadline    = 15 * time.Second
	defaultExpandLimit = 20
)

// Channel names used in Response.Degraded and telemetry.
const (
	ChannelSemantic = "semantic"
	ChannelSparse   = "sparse"
	ChannelGraph    = "graph"
)

// =============================================================================
// SEARCH BACKENDS
// =============================================================================

// SemanticSearcher answers dense-vector queries.
type SemanticSearcher interface {
	SearchSemantic(queryVec []float32, limit int) ([]store.IndexHit, error)
}

// LexicalSearcher answers keyword queries over indexed summaries.
type LexicalSearcher interface {
	SearchLexical(query string, limit int) ([]store.IndexHit, error)
}

// GraphSearcher answers tenant-scoped graph queries. Implementations
// are never called without a tenant id; the engine enforces that
// before constructing any query.
type GraphSearcher interface {
	SearchGraph(tenantID, query string, limit int) ([]store.KGEvent, error)
	ExpandTemporalNeighbors(tenantID string, seedIDs []string, limit int) ([]store.KGEvent, error)
}

// Backends groups the three channel implementations. *store.FactStore
// satisfies all three; tests substitute fakes per channel.
type Backends struct {
	Semantic SemanticSearcher
	Lexical  LexicalSearcher
	Graph    GraphSearcher
}

// =============================================================================
// QUERY / RESPONSE
// =============================================================================

// Query is one retrieval request.
type Query struct {
	Text     string
	TenantID string

	// TopK bounds each channel independently. Zero uses the default.
	TopK int
}

// Response holds per-channel results. Each channel's hits stay in
// their own slice so callers can weight or interleave them however
// they want; the engine never merges across channels.
type Response struct {
	Semantic []store.IndexHit
	Sparse   []store.IndexHit
	Graph    []store.KGEvent

	// Degraded maps a channel name to the reason it returned nothing.
	// Channels absent from the map ran normally.
	Degraded map[string]string

	Elapsed time.Duration
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine executes unified queries. The embedder may be nil, in which
// case the semantic channel always degrades.
type Engine struct {
	backends Backends
	embedder embedding.Engine

	deadline    time.Duration
	expandLimit int
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	Deadline    time.Duration
	ExpandLimit int
}

// NewEngine builds a retrieval engine over the given backends.
func NewEngine(backends Backends, embedder embedding.Engine, opts Options) *Engine {
	if opts.Deadline <= 0 {
		opts.Deadline = defaultDeadline
	}
	if opts.ExpandLimit <= 0 {
		opts.ExpandLimit = defaultExpandLimit
	}
	return &Engine{
		backends:    backends,
		embedder:    embedder,
		deadline:    opts.Deadline,
		expandLimit: opts.ExpandLimit,
	}
}

// NewEngineFromStore wires all three channels onto one fact store.
func NewEngineFromStore(fs *store.FactStore, embedder embedding.Engine, opts Options) *Engine {
	return NewEngine(Backends{Semantic: fs, Lexical: fs, Graph: fs}, embedder, opts)
}

// Search runs the query across all channels in parallel and returns
// the per-channel partitions. Only an empty query or a dead context is
// a hard error; everything else degrades per channel.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	logger := logging.Get(logging.CategoryRetrieval)
	timer := logging.StartTimer(logging.CategoryRetrieval, "unified_search")
	defer timer.Stop()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("query is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	start := time.Now()
	resp := &Response{Degraded: make(map[string]string)}

	searchCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	// Each goroutine writes only its own pair of variables.
	var semanticReason, sparseReason, graphReason string

	g, gctx := errgroup.WithContext(searchCtx)

	g.Go(func() error {
		resp.Semantic, semanticReason = e.searchSemantic(gctx, text, topK)
		return nil
	})

	g.Go(func() error {
		if e.backends.Lexical == nil {
			sparseReason = "no lexical backend"
			return nil
		}
		select {
		case <-gctx.Done():
			return gctx.Err()
		default:
		}
		hits, err := e.backends.Lexical.SearchLexical(text, topK)
		if err != nil {
			logger.Warn("Lexical search failed: %v", err)
			sparseReason = err.Error()
			return nil
		}
		resp.Sparse = hits
		return nil
	})

	g.Go(func() error {
		resp.Graph, graphReason = e.searchGraph(gctx, q.TenantID, text, topK)
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("Unified search partial failure: %v", err)
	}

	if semanticReason != "" {
		resp.Degraded[ChannelSemantic] = semanticReason
	}
	if sparseReason != "" {
		resp.Degraded[ChannelSparse] = sparseReason
	}
	if graphReason != "" {
		resp.Degraded[ChannelGraph] = graphReason
	}

	resp.Elapsed = time.Since(start)
	logger.StructuredLog("info", "unified_search", map[string]interface{}{
		"query_fp":   queryFingerprint(text),
		"tenant_set": q.TenantID != "",
		"semantic":   len(resp.Semantic),
		"sparse":     len(resp.Sparse),
		"graph":      len(resp.Graph),
		"degraded":   len(resp.Degraded),
		"elapsed_ms": resp.Elapsed.Milliseconds(),
	})
	return resp, nil
}

// =============================================================================
// CHANNELS
// =============================================================================

// searchSemantic embeds the query and runs the vector channel. Any
// failure degrades to an empty result with a reason.
func (e *Engine) searchSemantic(ctx context.Context, text string, topK int) ([]store.IndexHit, string) {
	if e.embedder == nil || e.backends.Semantic == nil {
		return nil, "embedding provider not configured"
	}
	queryVec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrNotConfigured) {
			logging.RetrievalDebug("Semantic channel skipped: %v", err)
			return nil, "embedding provider not configured"
		}
		logging.Get(logging.CategoryRetrieval).Warn("Query embedding failed: %v", err)
		return nil, fmt.Sprintf("embedding failed: %v", err)
	}
	hits, err := e.backends.Semantic.SearchSemantic(queryVec, topK)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Semantic search failed: %v", err)
		return nil, err.Error()
	}
	return hits, ""
}

// searchGraph runs the tenant-scoped graph channel plus one hop of
// temporal expansion. Without a tenant id no query is built at all.
func (e *Engine) searchGraph(ctx context.Context, tenantID, text string, topK int) ([]store.KGEvent, string) {
	if e.backends.Graph == nil {
		return nil, "no graph backend"
	}
	if tenantID == "" {
		return nil, "tenant id missing"
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err().Error()
	default:
	}

	events, err := e.backends.Graph.SearchGraph(tenantID, text, topK)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Graph search failed: %v", err)
		return nil, err.Error()
	}
	if len(events) == 0 {
		return nil, ""
	}

	seeds := make([]string, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seeds = append(seeds, ev.ID)
		seen[ev.ID] = true
	}
	neighbors, err := e.backends.Graph.ExpandTemporalNeighbors(tenantID, seeds, e.expandLimit)
	if err != nil {
		// Expansion is best effort; the direct matches still count.
		logging.RetrievalDebug("Temporal expansion failed: %v", err)
		return events, ""
	}
	for _, n := range neighbors {
		if !seen[n.ID] {
			events = append(events, n)
			seen[n.ID] = true
		}
	}
	return events, ""
}

// queryFingerprint is a short stable hash for telemetry. Raw query
// text never goes to the logs.
func queryFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:4])
}
