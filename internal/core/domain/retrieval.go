package domain

import (
	"fmt"
	"strings"
)

// RerankerType is a canonical reranker backend identifier. Alias spellings
// accepted at the boundary collapse to one of these before any normalization
// logic runs.
type RerankerType string

const (
	RerankerNone        RerankerType = ""
	RerankerLocalMiniLM RerankerType = "local-minilm"
	RerankerLocalBGE    RerankerType = "local-bge"
	RerankerJina        RerankerType = "jina"
)

// rerankerAliases collapse every accepted spelling to one canonical backend
// type so downstream normalization logic never branches on an alias.
var rerankerAliases = map[string]RerankerType{
	"local-minilm":  RerankerLocalMiniLM,
	"minilm":        RerankerLocalMiniLM,
	"cross-encoder": RerankerLocalMiniLM,
	"local":         RerankerLocalMiniLM,
	"local-bge":     RerankerLocalBGE,
	"bge":           RerankerLocalBGE,
	"bge-reranker":  RerankerLocalBGE,
	"jina":          RerankerJina,
	"jina-api":      RerankerJina,
	"jina-reranker": RerankerJina,
	"remote":        RerankerJina,
	"remote-api":    RerankerJina,
}

// ParseRerankerType resolves a boundary spelling to its canonical backend
// type. The empty string means "use the configured default" and is valid.
func ParseRerankerType(raw string) (RerankerType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return RerankerNone, nil
	}
	canonical, ok := rerankerAliases[trimmed]
	if !ok {
		return RerankerNone, fmt.Errorf("%w: unknown reranker type %q", ErrInvalidInput, raw)
	}
	return canonical, nil
}

// GateDecision is the per-candidate outcome of the relevance gate.
type GateDecision string

const (
	GateKept    GateDecision = "kept"
	GateDropped GateDecision = "dropped"
)

// GateClass is the set-level classification of the relevance gate.
type GateClass string

const (
	GateCorrect   GateClass = "correct"
	GateIncorrect GateClass = "incorrect"
	GateAmbiguous GateClass = "ambiguous"
)

// RetrievalReason tells the caller why the result set looks the way it does.
// A gate rejection and an empty match set must stay distinguishable because
// answer generation treats them differently.
type RetrievalReason string

const (
	ReasonCompleted RetrievalReason = "completed"
	ReasonRejected  RetrievalReason = "rejected"
	ReasonNoResults RetrievalReason = "no_results"
)

// RetrievalRequest is built once per Retrieve call and never mutated.
type RetrievalRequest struct {
	Query            string
	SessionID        string
	TopK             int
	RerankerOverride RerankerType
}

// DenseHit is one nearest-neighbor result from the vector index, in
// ascending-distance order. Distance is non-negative; 0 means identical.
type DenseHit struct {
	DocumentID string
	Text       string
	Distance   float64
	Metadata   map[string]any
}

// LexicalHit is one BM25-scored document from the session's lexical index.
type LexicalHit struct {
	Document Document
	Score    float64
}

// Candidate is the transient per-query record that flows through fusion,
// gating and reranking. It lives only for the duration of one Retrieve call.
type Candidate struct {
	DocumentID            string
	Text                  string
	Metadata              map[string]any
	SemanticScore         float64
	SemanticRank          int
	LexicalScore          float64
	LexicalRank           int
	FusedScore            float64
	RelevanceScore        float64
	GateDecision          GateDecision
	RerankScoreRaw        float64
	RerankScoreNormalized float64
}

// RerankResult is one normalized backend score, indexed into the input
// document slice.
type RerankResult struct {
	Index    int     `json:"index"`
	ScoreRaw float64 `json:"-"`
	Score    float64 `json:"relevance_score"`
}

// RankedResult is the final output unit of the pipeline.
type RankedResult struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
	Rank     int            `json:"rank"`
}

// RetrievalResult is the terminal state of one Retrieve call.
type RetrievalResult struct {
	Results []RankedResult  `json:"results"`
	Reason  RetrievalReason `json:"reason"`
	TraceID string          `json:"trace_id,omitempty"`
}
