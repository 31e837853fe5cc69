package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0, false},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0, false},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CosineSimilarity(tc.a, tc.b)
			if tc.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got < tc.want-1e-6 || got > tc.want+1e-6 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestNewEngineUnknownProvider(t *testing.T) {
	_, err := NewEngine(Config{Provider: "azure"})
	if err == nil {
		t.Fatal("Expected error for unsupported provider")
	}
}

func TestGenAIEngineMissingCredential(t *testing.T) {
	_, err := NewGenAIEngine("", "gemini-embedding-001")
	if err == nil {
		t.Fatal("Expected configuration error without API key")
	}
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Missing credential must be ErrNotConfigured, got %v", err)
	}
}

func TestOllamaEngineEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if req.Prompt != "road access" {
			t.Errorf("Unexpected prompt %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	eng, err := NewOllamaEngine(server.URL, "embeddinggemma", 0)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	vec, err := eng.Embed(context.Background(), "road access")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("Unexpected vector %v", vec)
	}
}

func TestOllamaEngineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	eng, _ := NewOllamaEngine(server.URL, "missing-model", 0)
	if _, err := eng.Embed(context.Background(), "anything"); err == nil {
		t.Fatal("Expected error from server failure")
	}
}
