package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestLocalBackendRerankNormalizesScores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req localRerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Query != "pooling" || len(req.Candidates) != 2 {
			t.Fatalf("unexpected request payload: %+v", req)
		}
		if req.Model != "cross-encoder/ms-marco-MiniLM-L-6-v2" {
			t.Fatalf("model not forwarded: %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(localRerankResponse{
			Results: []struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{
				{Index: 0, Score: 5},
				{Index: 1, Score: -5},
			},
		})
	}))
	defer server.Close()

	backend := NewLocalBackend(domain.RerankerLocalMiniLM, server.URL, "cross-encoder/ms-marco-MiniLM-L-6-v2", time.Second, nil)
	results, err := backend.Rerank(context.Background(), "pooling", []string{"doc one", "doc two"})
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score != 1 || results[1].Score != 0 {
		t.Fatalf("expected affine-normalized scores 1 and 0, got %v", results)
	}
	if results[0].ScoreRaw != 5 || results[1].ScoreRaw != -5 {
		t.Fatalf("raw scores must be preserved, got %v", results)
	}
}

func TestLocalBackendBGEPassesScoresThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(localRerankResponse{
			Results: []struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{{Index: 0, Score: 0.73}},
		})
	}))
	defer server.Close()

	backend := NewLocalBackend(domain.RerankerLocalBGE, server.URL, "BAAI/bge-reranker-v2-m3", time.Second, nil)
	results, err := backend.Rerank(context.Background(), "q", []string{"doc"})
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if results[0].Score != 0.73 {
		t.Fatalf("bge score should pass through, got %f", results[0].Score)
	}
}

func TestLocalBackendServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := NewLocalBackend(domain.RerankerLocalMiniLM, server.URL, "m", time.Second, nil)
	_, err := backend.Rerank(context.Background(), "q", []string{"doc"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error for 5xx, got %v", err)
	}
}

func TestLocalBackendInvalidIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(localRerankResponse{
			Results: []struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{{Index: 4, Score: 1}},
		})
	}))
	defer server.Close()

	backend := NewLocalBackend(domain.RerankerLocalMiniLM, server.URL, "m", time.Second, nil)
	if _, err := backend.Rerank(context.Background(), "q", []string{"doc"}); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}

func TestLocalBackendEmptyDocuments(t *testing.T) {
	backend := NewLocalBackend(domain.RerankerLocalMiniLM, "http://unused", "m", time.Second, nil)
	results, err := backend.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
}

func TestLocalBackendReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := NewLocalBackend(domain.RerankerLocalMiniLM, server.URL, "m", time.Second, nil)
	if err := backend.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}

	unconfigured := NewLocalBackend(domain.RerankerLocalMiniLM, "", "m", time.Second, nil)
	if err := unconfigured.Ready(context.Background()); err == nil {
		t.Fatalf("expected not-ready for missing base url")
	}
}
