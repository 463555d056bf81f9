package rerank

import (
	"context"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// Backend is one reranker implementation. Every backend accepts the same
// (query, documents) input and returns scores already normalized to [0,1];
// the normalization rule is a property of the backend type, fixed at
// construction, never inferred at call time.
type Backend interface {
	Type() domain.RerankerType
	Rerank(ctx context.Context, query string, documents []string) ([]domain.RerankResult, error)
	Ready(ctx context.Context) error
}

// normalizer maps one backend-native score to [0,1].
type normalizer func(raw float64) float64

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// passthroughUnit is for backends that already emit [0,1] scores; values are
// clamped so a misbehaving backend cannot leak out-of-range scores.
func passthroughUnit(raw float64) float64 {
	return clampUnit(raw)
}

// affineSymmetric maps an unbounded symmetric logit range to [0,1]. Raw
// scores outside [-5,+5] clamp to the boundary.
func affineSymmetric(raw float64) float64 {
	return clampUnit((raw + 5) / 10)
}

// normalizerFor returns the normalization rule registered for a canonical
// backend type.
func normalizerFor(t domain.RerankerType) normalizer {
	switch t {
	case domain.RerankerLocalMiniLM:
		return affineSymmetric
	default:
		return passthroughUnit
	}
}
