package rerank

import (
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestAffineSymmetricNormalization(t *testing.T) {
	cases := []struct {
		raw  float64
		want float64
	}{
		{-5, 0},
		{0, 0.5},
		{5, 1},
		{-100, 0},
		{100, 1},
		{2.5, 0.75},
	}
	for _, tc := range cases {
		if got := affineSymmetric(tc.raw); got != tc.want {
			t.Fatalf("affineSymmetric(%f) = %f, want %f", tc.raw, got, tc.want)
		}
	}
}

func TestPassthroughUnitClamps(t *testing.T) {
	cases := []struct {
		raw  float64
		want float64
	}{
		{0, 0},
		{1, 1},
		{0.42, 0.42},
		{-0.1, 0},
		{1.3, 1},
	}
	for _, tc := range cases {
		if got := passthroughUnit(tc.raw); got != tc.want {
			t.Fatalf("passthroughUnit(%f) = %f, want %f", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizerSelectionPerBackend(t *testing.T) {
	if got := normalizerFor(domain.RerankerLocalMiniLM)(0); got != 0.5 {
		t.Fatalf("minilm normalizer should be affine, got %f for raw 0", got)
	}
	if got := normalizerFor(domain.RerankerLocalBGE)(0.8); got != 0.8 {
		t.Fatalf("bge normalizer should pass through, got %f", got)
	}
	if got := normalizerFor(domain.RerankerJina)(1.7); got != 1 {
		t.Fatalf("jina normalizer should clamp to unit range, got %f", got)
	}
}
