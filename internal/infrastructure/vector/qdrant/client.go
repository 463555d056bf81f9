package qdrant

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

// Client is a thin search client over Qdrant's HTTP API. Each session owns
// one collection, named by prefix + session id; the collection is created and
// populated by the ingestion side, this client only queries it.
//
// Qdrant returns a cosine similarity score; the pipeline contract is a
// non-negative distance where 0 means identical, so the client converts
// distance = 1 - score before returning.
type Client struct {
	baseURL          string
	collectionPrefix string
	httpClient       *http.Client
	executor         *resilience.Executor
}

func New(baseURL, collectionPrefix string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		collectionPrefix: collectionPrefix,
		httpClient:       &http.Client{Timeout: timeout},
		executor:         executor,
	}
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search returns the k nearest neighbors for the query vector in the
// session's collection, in ascending-distance order.
func (c *Client) Search(ctx context.Context, queryVector []float32, sessionID string, k int) ([]domain.DenseHit, error) {
	var decoded searchResponse
	call := func(ctx context.Context) error {
		body, err := json.Marshal(searchRequest{
			Vector:      queryVector,
			Limit:       k,
			WithPayload: true,
		})
		if err != nil {
			return fmt.Errorf("marshal search body: %w", err)
		}

		url := fmt.Sprintf("%s/collections/%s%s/points/search", c.baseURL, c.collectionPrefix, sessionID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create search request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant search request: %w", domain.WrapError(domain.ErrTemporary, "dense search", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return domain.WrapError(domain.ErrTemporary, "dense search", fmt.Errorf("status %s", resp.Status))
		}
		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("qdrant search status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant.search", call, classifySearchError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "dense search", err)
	}

	out := make([]domain.DenseHit, 0, len(decoded.Result))
	for _, r := range decoded.Result {
		distance := 1 - r.Score
		if distance < 0 {
			distance = 0
		}
		out = append(out, domain.DenseHit{
			DocumentID: getStringPayload(r.Payload, "doc_id"),
			Text:       getStringPayload(r.Payload, "text"),
			Distance:   distance,
			Metadata:   getMapPayload(r.Payload, "metadata"),
		})
	}
	return out, nil
}

func classifySearchError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getMapPayload(payload map[string]any, key string) map[string]any {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
