package ports

import (
	"context"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// QueryEmbedder builds the query vector for the dense branch.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseSearcher is a thin client over the external ANN index. Results come
// back in ascending-distance order.
type DenseSearcher interface {
	Search(ctx context.Context, queryVector []float32, sessionID string, k int) ([]domain.DenseHit, error)
}

// LexicalSearcher scores a query against the session's in-memory BM25 index.
// A query with no surviving tokens yields an empty hit list, not an error.
type LexicalSearcher interface {
	Search(ctx context.Context, sessionID, query string, k int) ([]domain.LexicalHit, error)
}

// RelevanceScorer scores (query, document) pairs with a cross-encoder-style
// model. Scores are already min-max normalized to [0,1]; the normalization
// bounds are a property of the model, fixed at initialization.
type RelevanceScorer interface {
	ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error)
}

// RerankerClient re-scores documents against the query via the backend
// selected from (configured default, per-request override). The returned type
// is the canonical backend that actually served the call. Errors are typed
// (domain.ErrRerankerUnavailable); the caller owns the fail-open policy.
type RerankerClient interface {
	Rerank(ctx context.Context, query string, documents []string, override domain.RerankerType) ([]domain.RerankResult, domain.RerankerType, error)
}

// CorpusSource loads a session's full document corpus for lexical indexing.
type CorpusSource interface {
	LoadCorpus(ctx context.Context, sessionID string) ([]domain.Document, error)
}

// SessionEvents announces corpus changes so cached per-session indexes can be
// invalidated and rebuilt.
type SessionEvents interface {
	PublishSessionUpdated(ctx context.Context, sessionID string) error
	SubscribeSessionUpdated(ctx context.Context, handler func(context.Context, string) error) error
}
