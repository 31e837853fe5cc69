package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"gpcmemory/internal/embedding"
	"gpcmemory/internal/store"
)

func TestMain(m *testing.M) {
	// go.opencensus.io starts a worker goroutine in package init (pulled in
	// transitively via google.golang.org/genai); it is not a leak from the
	// code under test.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// =============================================================================
// FAKES
// =============================================================================

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeSemantic struct {
	hits []store.IndexHit
	err  error
}

func (f *fakeSemantic) SearchSemantic(queryVec []float32, limit int) ([]store.IndexHit, error) {
	return f.hits, f.err
}

type fakeLexical struct {
	hits []store.IndexHit
	err  error
}

func (f *fakeLexical) SearchLexical(query string, limit int) ([]store.IndexHit, error) {
	return f.hits, f.err
}

type fakeGraph struct {
	events    []store.KGEvent
	neighbors []store.KGEvent
	err       error

	searchCalls int32
	expandCalls int32
}

func (f *fakeGraph) SearchGraph(tenantID, query string, limit int) ([]store.KGEvent, error) {
	atomic.AddInt32(&f.searchCalls, 1)
	return f.events, f.err
}

func (f *fakeGraph) ExpandTemporalNeighbors(tenantID string, seedIDs []string, limit int) ([]store.KGEvent, error) {
	atomic.AddInt32(&f.expandCalls, 1)
	return f.neighbors, nil
}

func allBackends(sem *fakeSemantic, lex *fakeLexical, g *fakeGraph) Backends {
	return Backends{Semantic: sem, Lexical: lex, Graph: g}
}

// =============================================================================
// TESTS
// =============================================================================

func TestSearchPartitionsBySource(t *testing.T) {
	sem := &fakeSemantic{hits: []store.IndexHit{{ID: 1, Content: "dense", Score: 0.9}}}
	lex := &fakeLexical{hits: []store.IndexHit{{ID: 2, Content: "sparse", Score: 0.5}}}
	graph := &fakeGraph{events: []store.KGEvent{{ID: "kge_1", SubjectID: "parcel:1", Predicate: "tool:gis", ObjectID: "gis"}}}
	eng := NewEngine(allBackends(sem, lex, graph), &fakeEmbedder{vec: []float32{1, 0}}, Options{})

	resp, err := eng.Search(context.Background(), Query{Text: "road access", TenantID: "org-1"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(resp.Semantic) != 1 || resp.Semantic[0].Content != "dense" {
		t.Errorf("semantic partition wrong: %+v", resp.Semantic)
	}
	if len(resp.Sparse) != 1 || resp.Sparse[0].Content != "sparse" {
		t.Errorf("sparse partition wrong: %+v", resp.Sparse)
	}
	if len(resp.Graph) != 1 || resp.Graph[0].ID != "kge_1" {
		t.Errorf("graph partition wrong: %+v", resp.Graph)
	}
	if len(resp.Degraded) != 0 {
		t.Errorf("no channel should be degraded: %v", resp.Degraded)
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	eng := NewEngine(allBackends(&fakeSemantic{}, &fakeLexical{}, &fakeGraph{}), nil, Options{})

	_, err := eng.Search(context.Background(), Query{Text: "   "})
	if err == nil || !strings.Contains(err.Error(), "query is required") {
		t.Fatalf("expected query validation error, got %v", err)
	}
}

func TestSearchGraphSkippedWithoutTenant(t *testing.T) {
	graph := &fakeGraph{events: []store.KGEvent{{ID: "kge_1"}}}
	eng := NewEngine(allBackends(&fakeSemantic{}, &fakeLexical{}, graph), &fakeEmbedder{vec: []float32{1}}, Options{})

	resp, err := eng.Search(context.Background(), Query{Text: "drainage easement"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if atomic.LoadInt32(&graph.searchCalls) != 0 {
		t.Error("graph backend must never be queried without a tenant id")
	}
	if len(resp.Graph) != 0 {
		t.Errorf("graph partition must be empty, got %+v", resp.Graph)
	}
	if resp.Degraded[ChannelGraph] != "tenant id missing" {
		t.Errorf("expected tenant degradation note, got %v", resp.Degraded)
	}
}

func TestSearchSemanticDegradesWhenUnconfigured(t *testing.T) {
	lex := &fakeLexical{hits: []store.IndexHit{{ID: 3, Content: "keyword hit"}}}
	embErr := &fakeEmbedder{err: embedding.ErrNotConfigured}
	eng := NewEngine(allBackends(&fakeSemantic{}, lex, &fakeGraph{}), embErr, Options{})

	resp, err := eng.Search(context.Background(), Query{Text: "utilities", TenantID: "org-1"})
	if err != nil {
		t.Fatalf("search must not fail on missing embedder: %v", err)
	}
	if len(resp.Semantic) != 0 {
		t.Errorf("semantic partition must be empty: %+v", resp.Semantic)
	}
	if _, ok := resp.Degraded[ChannelSemantic]; !ok {
		t.Error("semantic channel must report degradation")
	}
	if len(resp.Sparse) != 1 {
		t.Errorf("sparse channel must still serve results: %+v", resp.Sparse)
	}
}

func TestSearchNilEmbedderDegrades(t *testing.T) {
	eng := NewEngine(allBackends(&fakeSemantic{}, &fakeLexical{}, &fakeGraph{}), nil, Options{})

	resp, err := eng.Search(context.Background(), Query{Text: "zoning", TenantID: "org-1"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if resp.Degraded[ChannelSemantic] != "embedding provider not configured" {
		t.Errorf("expected configuration degradation, got %v", resp.Degraded)
	}
}

func TestSearchChannelErrorsDegrade(t *testing.T) {
	sem := &fakeSemantic{err: errors.New("vec table locked")}
	lex := &fakeLexical{err: errors.New("disk error")}
	graph := &fakeGraph{err: errors.New("graph down")}
	eng := NewEngine(allBackends(sem, lex, graph), &fakeEmbedder{vec: []float32{1}}, Options{})

	resp, err := eng.Search(context.Background(), Query{Text: "adjacency", TenantID: "org-1"})
	if err != nil {
		t.Fatalf("per-channel failures must not fail the search: %v", err)
	}
	if len(resp.Degraded) != 3 {
		t.Errorf("expected all three channels degraded, got %v", resp.Degraded)
	}
}

func TestSearchExpandsTemporalNeighbors(t *testing.T) {
	graph := &fakeGraph{
		events:    []store.KGEvent{{ID: "kge_a"}},
		neighbors: []store.KGEvent{{ID: "kge_b"}, {ID: "kge_a"}},
	}
	eng := NewEngine(allBackends(&fakeSemantic{}, &fakeLexical{}, graph), &fakeEmbedder{vec: []float32{1}}, Options{})

	resp, err := eng.Search(context.Background(), Query{Text: "politics", TenantID: "org-1"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if atomic.LoadInt32(&graph.expandCalls) != 1 {
		t.Error("expected one temporal expansion call")
	}
	if len(resp.Graph) != 2 {
		t.Errorf("expected deduplicated seed+neighbor set of 2, got %d", len(resp.Graph))
	}
}

func TestSearchCancelledContext(t *testing.T) {
	eng := NewEngine(allBackends(&fakeSemantic{}, &fakeLexical{}, &fakeGraph{}), nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Search(ctx, Query{Text: "anything", TenantID: "org-1"})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestQueryFingerprintStable(t *testing.T) {
	a := queryFingerprint("access road")
	b := queryFingerprint("access road")
	c := queryFingerprint("drainage")
	if a != b {
		t.Errorf("fingerprint not stable: %s != %s", a, b)
	}
	if a == c {
		t.Error("distinct queries must fingerprint differently")
	}
	if len(a) != 8 {
		t.Errorf("expected 8 hex chars, got %q", a)
	}
}
