package relevance

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

// CrossEncoderScorer scores (query, document) pairs with a cross-encoder
// model served over HTTP and min-max normalizes the raw scores into [0,1].
// The normalization bounds belong to the model and are fixed at
// construction; they are never re-derived per call.
type CrossEncoderScorer struct {
	baseURL    string
	model      string
	scoreMin   float64
	scoreMax   float64
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewCrossEncoderScorer(
	baseURL, model string,
	scoreMin, scoreMax float64,
	timeout time.Duration,
	executor *resilience.Executor,
) *CrossEncoderScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if scoreMax <= scoreMin {
		scoreMin, scoreMax = -10, 10
	}
	return &CrossEncoderScorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		scoreMin:   scoreMin,
		scoreMax:   scoreMax,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type scoreRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// ScorePairs returns one normalized relevance score per input text, in input
// order.
func (s *CrossEncoderScorer) ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}

	var decoded scoreResponse
	call := func(ctx context.Context) error {
		body, err := json.Marshal(scoreRequest{Query: query, Candidates: texts, Model: s.model})
		if err != nil {
			return fmt.Errorf("marshal score request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/rerank", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create score request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("score request: %w", domain.WrapError(domain.ErrTemporary, "relevance score", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return domain.WrapError(domain.ErrTemporary, "relevance score", fmt.Errorf("status %s", resp.Status))
		}
		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("score status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode score response: %w", err)
		}
		return nil
	}

	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, "relevance.score", call, classifyScorerError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrGateUnavailable, "score pairs", err)
	}

	scores := make([]float64, len(texts))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, domain.WrapError(domain.ErrGateUnavailable, "score pairs",
				fmt.Errorf("invalid result index %d for %d texts", r.Index, len(texts)))
		}
		scores[r.Index] = s.normalize(r.Score)
	}
	return scores, nil
}

func (s *CrossEncoderScorer) normalize(raw float64) float64 {
	v := (raw - s.scoreMin) / (s.scoreMax - s.scoreMin)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func classifyScorerError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
