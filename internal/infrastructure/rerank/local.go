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

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

// LocalBackend scores (query, document) pairs against a local cross-encoder
// scoring sidecar. Both local model variants share the wire protocol and
// differ only in model name and normalization rule.
type LocalBackend struct {
	backendType domain.RerankerType
	baseURL     string
	model       string
	normalize   normalizer
	httpClient  *http.Client
	executor    *resilience.Executor
}

func NewLocalBackend(
	backendType domain.RerankerType,
	baseURL, model string,
	timeout time.Duration,
	executor *resilience.Executor,
) *LocalBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LocalBackend{
		backendType: backendType,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		normalize:   normalizerFor(backendType),
		httpClient:  &http.Client{Timeout: timeout},
		executor:    executor,
	}
}

func (b *LocalBackend) Type() domain.RerankerType {
	return b.backendType
}

// Ready probes the sidecar health endpoint. A backend that fails the probe is
// marked NotReady before any traffic arrives.
func (b *LocalBackend) Ready(ctx context.Context) error {
	if b.baseURL == "" {
		return fmt.Errorf("base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("health status: %s", resp.Status)
	}
	return nil
}

type localRerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
}

type localRerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model string `json:"model"`
}

func (b *LocalBackend) Rerank(ctx context.Context, query string, documents []string) ([]domain.RerankResult, error) {
	if len(documents) == 0 {
		return []domain.RerankResult{}, nil
	}

	var decoded localRerankResponse
	call := func(ctx context.Context) error {
		body, err := json.Marshal(localRerankRequest{
			Query:      query,
			Candidates: documents,
			Model:      b.model,
		})
		if err != nil {
			return fmt.Errorf("marshal rerank request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/rerank", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create rerank request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("rerank request: %w", domain.WrapError(domain.ErrTemporary, "local rerank", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return domain.WrapError(domain.ErrTemporary, "local rerank", fmt.Errorf("status %s", resp.Status))
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
		err = b.executor.Execute(ctx, "rerank."+string(b.backendType), call, classifyBackendError)
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
			ScoreRaw: r.Score,
			Score:    b.normalize(r.Score),
		})
	}
	return results, nil
}

// classifyBackendError marks timeouts and transient transport failures as
// retryable; everything else fails immediately.
func classifyBackendError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
