package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

// JinaBackend scores documents via a Jina-compatible remote rerank API. The
// API already emits [0,1] relevance scores, so normalization is a clamped
// pass-through. Calls are rate limited client-side; the API is metered.
type JinaBackend struct {
	baseURL    string
	apiKey     string
	model      string
	normalize  normalizer
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func NewJinaBackend(
	baseURL, apiKey, model string,
	timeout time.Duration,
	requestsPerSecond float64,
	executor *resilience.Executor,
) *JinaBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &JinaBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		normalize:  normalizerFor(domain.RerankerJina),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		executor:   executor,
	}
}

func (b *JinaBackend) Type() domain.RerankerType {
	return domain.RerankerJina
}

// Ready reports whether the backend is usable. Readiness for a metered remote
// API is credential presence; no probe request is spent on it.
func (b *JinaBackend) Ready(context.Context) error {
	if b.baseURL == "" {
		return fmt.Errorf("base url not configured")
	}
	if b.apiKey == "" {
		return fmt.Errorf("api key not configured")
	}
	return nil
}

type jinaRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type jinaRerankResponse struct {
	Model   string `json:"model"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (b *JinaBackend) Rerank(ctx context.Context, query string, documents []string) ([]domain.RerankResult, error) {
	if len(documents) == 0 {
		return []domain.RerankResult{}, nil
	}
	if err := b.Ready(ctx); err != nil {
		return nil, err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var decoded jinaRerankResponse
	call := func(ctx context.Context) error {
		body, err := json.Marshal(jinaRerankRequest{
			Model:     b.model,
			Query:     query,
			Documents: documents,
		})
		if err != nil {
			return fmt.Errorf("marshal rerank request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/rerank", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create rerank request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+b.apiKey)

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("rerank request: %w", domain.WrapError(domain.ErrTemporary, "jina rerank", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.WrapError(domain.ErrTemporary, "jina rerank", fmt.Errorf("status %s", resp.Status))
		}
		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("rerank status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode rerank response: %w", err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "rerank.jina", call, classifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	results := make([]domain.RerankResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("invalid result index %d for %d documents", r.Index, len(documents))
		}
		results = append(results, domain.RerankResult{
			Index:    r.Index,
			ScoreRaw: r.RelevanceScore,
			Score:    b.normalize(r.RelevanceScore),
		})
	}
	return results, nil
}
