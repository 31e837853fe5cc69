package autofeed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gpcmemory/internal/store"
)

// stubEmbedder returns a constant vector, or an error when failing is set.
type stubEmbedder struct {
	vec     []float32
	failing bool
	calls   int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.failing {
		return nil, errors.New("embedder unavailable")
	}
	return s.vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := s.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return len(s.vec) }
func (s *stubEmbedder) Name() string    { return "stub" }

func openTestStore(t *testing.T) *store.FactStore {
	t.Helper()
	fs, err := store.Open(":memory:", store.Options{VecDim: 4})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func newTestWriter(fs *store.FactStore, emb *stubEmbedder) *Writer {
	if emb == nil {
		return NewWriter(fs, nil, Options{Enabled: true})
	}
	return NewWriter(fs, emb, Options{Enabled: true})
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestRecordEpisodeCreatesEverything(t *testing.T) {
	fs := openTestStore(t)
	emb := &stubEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}}
	w := newTestWriter(fs, emb)

	res := w.RecordEpisode(context.Background(), RecordInput{
		RunID:      "run-001",
		RunType:    "screening",
		Intent:     "screen parcel for access and drainage",
		TenantID:   "org-9",
		SubjectID:  "parcel:TX-1234",
		OutputText: "Parcel has legal road access via FM-2100.",
		Confidence: fptr(0.9),
		Citations: []Citation{
			{Tool: "county-gis", ContentHash: "abc123"},
			{SourceID: "doc-55"},
			{URL: "https://example.com/plat.pdf"},
		},
	})

	if len(res.Errors) != 0 {
		t.Fatalf("expected clean record, got errors: %v", res.Errors)
	}
	if !res.EpisodeCreated || res.EpisodeID == "" {
		t.Fatalf("expected a new episode, got %+v", res)
	}
	if res.VectorMode != "embedded" {
		t.Errorf("expected vector mode embedded, got %s", res.VectorMode)
	}
	if !res.ReflectionStored {
		t.Error("expected semantic reflection to be stored")
	}
	if res.EventsInserted != 3 {
		t.Errorf("expected 3 kg events for 3 citations, got %d", res.EventsInserted)
	}
	if res.EdgesInserted != 2 {
		t.Errorf("expected 2 temporal edges for 3 citations, got %d", res.EdgesInserted)
	}
	if !res.RewardStored {
		t.Error("expected reward signal to be stored")
	}

	ep, err := fs.GetEpisodeByRunID("run-001")
	if err != nil || ep == nil {
		t.Fatalf("episode not found after record: %v", err)
	}
	// userScore defaults to round(0.9*5)=5, composite 0.7*1+0.3*0.9=0.97
	if ep.OutcomeSignal != store.OutcomePositive {
		t.Errorf("expected positive outcome, got %s", ep.OutcomeSignal)
	}

	edges, err := fs.ListEdgesForRun("run-001")
	if err != nil {
		t.Fatalf("failed to list edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 persisted edges, got %d", len(edges))
	}
	for _, e := range edges {
		if e.Relation != "run:run-001:sequence" {
			t.Errorf("unexpected edge relation %s", e.Relation)
		}
	}
}

func TestRecordEpisodeIdempotent(t *testing.T) {
	fs := openTestStore(t)
	w := newTestWriter(fs, nil)

	in := RecordInput{
		RunID:      "run-dup",
		TenantID:   "org-9",
		OutputText: "first delivery",
		Confidence: fptr(0.6),
	}
	first := w.RecordEpisode(context.Background(), in)
	if !first.EpisodeCreated {
		t.Fatalf("first delivery should create the episode: %+v", first)
	}

	in.OutputText = "second delivery with different text"
	second := w.RecordEpisode(context.Background(), in)
	if second.EpisodeCreated {
		t.Error("second delivery must reuse the existing episode")
	}
	if second.EpisodeID != first.EpisodeID {
		t.Errorf("episode id changed across retries: %s != %s", second.EpisodeID, first.EpisodeID)
	}

	ep, err := fs.GetEpisodeByRunID("run-dup")
	if err != nil || ep == nil {
		t.Fatalf("episode lookup failed: %v", err)
	}
	if ep.Summary != "first delivery" {
		t.Errorf("summary must not be overwritten on retry, got %q", ep.Summary)
	}
}

func TestRecordEpisodeKillSwitch(t *testing.T) {
	fs := openTestStore(t)
	w := NewWriter(fs, nil, Options{Enabled: false})

	res := w.RecordEpisode(context.Background(), RecordInput{RunID: "run-off"})
	if len(res.Errors) != 1 || res.Errors[0] != ErrDisabled {
		t.Fatalf("expected only the disabled error, got %v", res.Errors)
	}
	if res.EpisodeID != "" || res.EventsInserted != 0 || res.RewardStored {
		t.Errorf("kill switch must prevent all writes: %+v", res)
	}

	ep, err := fs.GetEpisodeByRunID("run-off")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ep != nil {
		t.Error("no episode should exist when auto-feed is disabled")
	}
}

func TestRecordEpisodeValidation(t *testing.T) {
	fs := openTestStore(t)
	w := newTestWriter(fs, nil)

	res := w.RecordEpisode(context.Background(), RecordInput{RunID: "   "})
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "run id") {
		t.Fatalf("expected run id validation error, got %v", res.Errors)
	}
}

func TestRecordEpisodeEmbedderFailureDegrades(t *testing.T) {
	fs := openTestStore(t)
	emb := &stubEmbedder{vec: []float32{1, 0, 0, 0}, failing: true}
	w := newTestWriter(fs, emb)

	res := w.RecordEpisode(context.Background(), RecordInput{
		RunID:      "run-degraded",
		TenantID:   "org-9",
		OutputText: "some output",
		Confidence: fptr(0.7),
	})

	if res.VectorMode != "error" {
		t.Errorf("expected vector mode error, got %s", res.VectorMode)
	}
	if !res.ReflectionStored {
		t.Error("semantic entry must still be stored without a vector")
	}
	if !res.RewardStored {
		t.Error("reward write must survive an embedder failure")
	}
	if res.EpisodeID == "" {
		t.Fatal("episode must be created despite embedder failure")
	}

	// Lexical search still finds the vector-less entry.
	hits, err := fs.SearchLexical("output", 5)
	if err != nil {
		t.Fatalf("lexical search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Error("expected the degraded entry to be lexically searchable")
	}
}

func TestRecordEpisodeNoCitationsFallbackEvent(t *testing.T) {
	fs := openTestStore(t)
	w := newTestWriter(fs, nil)

	res := w.RecordEpisode(context.Background(), RecordInput{
		RunID:    "run-bare",
		TenantID: "org-2",
	})
	if res.EventsInserted != 1 {
		t.Fatalf("expected the fallback kg event, got %d events", res.EventsInserted)
	}
	if res.EdgesInserted != 0 {
		t.Errorf("no edges expected for a single event, got %d", res.EdgesInserted)
	}

	events, err := fs.ListEventsForTenant("org-2", 10)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 || events[0].Predicate != "run:auto-feed" {
		t.Fatalf("expected one run:auto-feed event, got %+v", events)
	}
}

func TestRecordEpisodeCitationCap(t *testing.T) {
	fs := openTestStore(t)
	w := newTestWriter(fs, nil)

	citations := make([]Citation, 12)
	for i := range citations {
		citations[i] = Citation{SourceID: "doc-" + string(rune('a'+i))}
	}
	res := w.RecordEpisode(context.Background(), RecordInput{
		RunID:     "run-cap",
		TenantID:  "org-3",
		Citations: citations,
	})
	if res.EventsInserted != 8 {
		t.Errorf("expected citation cap of 8 events, got %d", res.EventsInserted)
	}
	if res.EdgesInserted != 7 {
		t.Errorf("expected 7 edges under the cap, got %d", res.EdgesInserted)
	}
}

func TestRecordEpisodeExplicitUserScore(t *testing.T) {
	fs := openTestStore(t)
	w := newTestWriter(fs, nil)

	res := w.RecordEpisode(context.Background(), RecordInput{
		RunID:      "run-score",
		TenantID:   "org-4",
		Confidence: fptr(0.9),
		UserScore:  iptr(1),
		AutoScore:  fptr(0.2),
	})
	// composite = 0.7*(1/5) + 0.3*0.2 = 0.2 -> negative
	if res.CompositeScore < 0.19 || res.CompositeScore > 0.21 {
		t.Errorf("unexpected composite %f", res.CompositeScore)
	}
	ep, err := fs.GetEpisodeByRunID("run-score")
	if err != nil || ep == nil {
		t.Fatalf("episode lookup failed: %v", err)
	}
	if ep.OutcomeSignal != store.OutcomeNegative {
		t.Errorf("expected negative outcome, got %s", ep.OutcomeSignal)
	}

	signals, err := fs.ListRewardSignals(res.EpisodeID)
	if err != nil {
		t.Fatalf("failed to list reward signals: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one reward signal, got %d", len(signals))
	}
	if signals[0].UserScore != 1 {
		t.Errorf("expected user score 1, got %d", signals[0].UserScore)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		name string
		in   *float64
		want float64
	}{
		{"nil defaults to half", nil, 0.5},
		{"already normalized", fptr(0.73), 0.73},
		{"percentage scale", fptr(85), 0.85},
		{"negative clamps", fptr(-0.4), 0},
		{"above hundred clamps", fptr(140), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeConfidence(tc.in)
			if got != tc.want {
				t.Errorf("normalizeConfidence(%v) = %f, want %f", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildSummaryTruncation(t *testing.T) {
	w := newTestWriter(nil, nil)

	long := strings.Repeat("x", 500)
	got := w.buildSummary(long, nil)
	if len(got) != defaultSummaryMax {
		t.Errorf("expected summary truncated to %d chars, got %d", defaultSummaryMax, len(got))
	}

	if got := w.buildSummary("", nil); got != fallbackSummary {
		t.Errorf("expected fallback summary, got %q", got)
	}

	got = w.buildSummary("short note", map[string]interface{}{"tier": "green"})
	if !strings.Contains(got, "short note") || !strings.Contains(got, "green") {
		t.Errorf("summary missing parts: %q", got)
	}
}
