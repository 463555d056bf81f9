package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// GateTimeoutPolicy decides how a relevance-gate failure or timeout resolves:
// fail-open keeps every candidate, fail-closed rejects the query.
type GateTimeoutPolicy string

const (
	GateFailOpen   GateTimeoutPolicy = "open"
	GateFailClosed GateTimeoutPolicy = "closed"
)

// Config holds every pipeline tunable. It is resolved once at construction;
// nothing in the hot path reads mutable global state.
type Config struct {
	RRFK              float64
	LexicalWeight     float64
	CandidatePoolSize int

	GateEnabled            bool
	GateCorrectThreshold   float64
	GateIncorrectThreshold float64
	GateFilterThreshold    float64
	GateTimeoutPolicy      GateTimeoutPolicy

	RetrievalTimeout time.Duration
	GateTimeout      time.Duration
	RerankTimeout    time.Duration
}

func (c Config) normalize() Config {
	out := c
	if out.CandidatePoolSize <= 0 {
		out.CandidatePoolSize = 30
	}
	if out.GateTimeoutPolicy != GateFailClosed {
		out.GateTimeoutPolicy = GateFailOpen
	}
	if out.RetrievalTimeout <= 0 {
		out.RetrievalTimeout = 5 * time.Second
	}
	if out.GateTimeout <= 0 {
		out.GateTimeout = 5 * time.Second
	}
	if out.RerankTimeout <= 0 {
		out.RerankTimeout = 10 * time.Second
	}
	return out
}

// PipelineObserver receives pipeline events for metrics. Implementations must
// be safe for concurrent use.
type PipelineObserver interface {
	ObserveStage(stage string, duration time.Duration)
	ObserveGateClass(class domain.GateClass)
	ObserveBranchFailure(branch string)
	ObserveRerankFailOpen(backend domain.RerankerType)
	ObserveResultCount(reason domain.RetrievalReason, count int)
}

// RetrievalUseCase composes the hybrid retrieval pipeline: parallel dense and
// lexical retrieval, RRF fusion, relevance gating, and reranking.
type RetrievalUseCase struct {
	embedder ports.QueryEmbedder
	dense    ports.DenseSearcher
	lexical  ports.LexicalSearcher
	gate     ports.RelevanceScorer
	reranker ports.RerankerClient
	cfg      Config
	logger   *slog.Logger
	observer PipelineObserver
}

func NewRetrievalUseCase(
	embedder ports.QueryEmbedder,
	dense ports.DenseSearcher,
	lexical ports.LexicalSearcher,
	gate ports.RelevanceScorer,
	reranker ports.RerankerClient,
	cfg Config,
	logger *slog.Logger,
	observer PipelineObserver,
) *RetrievalUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalUseCase{
		embedder: embedder,
		dense:    dense,
		lexical:  lexical,
		gate:     gate,
		reranker: reranker,
		cfg:      cfg.normalize(),
		logger:   logger,
		observer: observer,
	}
}

// Retrieve runs the full pipeline for one request. Gate rejection is a
// legitimate terminal state, returned as an empty result with reason
// "rejected", never as an error.
func (uc *RetrievalUseCase) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	logger := uc.logger.With(
		slog.String("trace_id", traceID),
		slog.String("session_id", req.SessionID),
	)

	dense, lexical, err := uc.retrieveBranches(ctx, req, logger)
	if err != nil {
		return nil, err
	}

	fuseStart := time.Now()
	candidates := fuseCandidates(dense, lexical, fusionConfig{
		K:             uc.cfg.RRFK,
		LexicalWeight: uc.cfg.LexicalWeight,
	})
	uc.observeStage("fuse", time.Since(fuseStart))

	if len(candidates) == 0 {
		logger.Info("retrieval_no_candidates")
		return uc.finish(domain.ReasonNoResults, nil, traceID), nil
	}

	kept, class := uc.gateCandidates(ctx, req.Query, candidates, logger)
	if class == domain.GateIncorrect {
		logger.Info("query_rejected_by_gate", slog.Int("candidates", len(candidates)))
		return uc.finish(domain.ReasonRejected, nil, traceID), nil
	}
	if len(kept) == 0 {
		return uc.finish(domain.ReasonNoResults, nil, traceID), nil
	}

	ranked, reranked := uc.rerankCandidates(ctx, req, kept, logger)

	if req.TopK < len(ranked) {
		ranked = ranked[:req.TopK]
	}
	results := make([]domain.RankedResult, len(ranked))
	for i, candidate := range ranked {
		score := candidate.FusedScore
		if reranked {
			score = candidate.RerankScoreNormalized
		}
		results[i] = domain.RankedResult{
			Text:     candidate.Text,
			Metadata: candidate.Metadata,
			Score:    score,
			Rank:     i,
		}
	}

	logger.Info("retrieval_completed",
		slog.Int("results", len(results)),
		slog.String("gate_class", string(class)))
	return uc.finish(domain.ReasonCompleted, results, traceID), nil
}

func validateRequest(req domain.RetrievalRequest) error {
	switch {
	case strings.TrimSpace(req.Query) == "":
		return domain.WrapError(domain.ErrInvalidInput, "validate request", fmt.Errorf("query is empty"))
	case strings.TrimSpace(req.SessionID) == "":
		return domain.WrapError(domain.ErrInvalidInput, "validate request", fmt.Errorf("session id is empty"))
	case req.TopK <= 0:
		return domain.WrapError(domain.ErrInvalidInput, "validate request", fmt.Errorf("top_k must be positive, got %d", req.TopK))
	}
	return nil
}

// retrieveBranches runs the dense and lexical branches concurrently and joins
// on both. A single failed branch degrades to the surviving signal; an
// unknown session or a double failure is fatal.
func (uc *RetrievalUseCase) retrieveBranches(
	ctx context.Context,
	req domain.RetrievalRequest,
	logger *slog.Logger,
) ([]domain.DenseHit, []domain.LexicalHit, error) {
	start := time.Now()
	branchCtx, cancel := context.WithTimeout(ctx, uc.cfg.RetrievalTimeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		dense    []domain.DenseHit
		denseErr error
		lexical  []domain.LexicalHit
		lexErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vector, err := uc.embedder.EmbedQuery(branchCtx, req.Query)
		if err != nil {
			denseErr = fmt.Errorf("embed query: %w", err)
			return
		}
		dense, denseErr = uc.dense.Search(branchCtx, vector, req.SessionID, uc.cfg.CandidatePoolSize)
	}()
	go func() {
		defer wg.Done()
		lexical, lexErr = uc.lexical.Search(branchCtx, req.SessionID, req.Query, uc.cfg.CandidatePoolSize)
	}()
	wg.Wait()
	uc.observeStage("retrieve", time.Since(start))

	if lexErr != nil && domain.IsKind(lexErr, domain.ErrSessionNotFound) {
		return nil, nil, lexErr
	}
	if denseErr != nil {
		uc.observeBranchFailure("dense")
		logger.Warn("dense_branch_failed", slog.String("error", denseErr.Error()))
	}
	if lexErr != nil {
		uc.observeBranchFailure("lexical")
		logger.Warn("lexical_branch_failed", slog.String("error", lexErr.Error()))
	}
	if denseErr != nil && lexErr != nil {
		return nil, nil, domain.WrapError(domain.ErrRetrievalBackend, "retrieve", fmt.Errorf("both branches failed: dense: %v; lexical: %v", denseErr, lexErr))
	}
	if denseErr != nil {
		dense = nil
	}
	if lexErr != nil {
		lexical = nil
	}
	return dense, lexical, nil
}

// gateCandidates scores the fused set and applies the three-way gate. When
// the gate is disabled every candidate is kept; the gate stays wired so the
// flag is the only difference between the two paths.
func (uc *RetrievalUseCase) gateCandidates(
	ctx context.Context,
	query string,
	candidates []domain.Candidate,
	logger *slog.Logger,
) ([]domain.Candidate, domain.GateClass) {
	start := time.Now()
	defer func() { uc.observeStage("gate", time.Since(start)) }()

	if !uc.cfg.GateEnabled {
		return passGate(candidates), domain.GateCorrect
	}

	texts := make([]string, len(candidates))
	for i, candidate := range candidates {
		texts[i] = candidate.Text
	}

	gateCtx, cancel := context.WithTimeout(ctx, uc.cfg.GateTimeout)
	defer cancel()
	scores, err := uc.gate.ScorePairs(gateCtx, query, texts)
	if err != nil || len(scores) != len(candidates) {
		if err == nil {
			err = fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
		}
		logger.Warn("relevance_gate_unavailable",
			slog.String("error", err.Error()),
			slog.String("policy", string(uc.cfg.GateTimeoutPolicy)))
		if uc.cfg.GateTimeoutPolicy == GateFailClosed {
			return nil, domain.GateIncorrect
		}
		return passGate(candidates), domain.GateCorrect
	}

	kept, class := applyGate(candidates, scores, gateThresholds{
		Correct:   uc.cfg.GateCorrectThreshold,
		Incorrect: uc.cfg.GateIncorrectThreshold,
		Filter:    uc.cfg.GateFilterThreshold,
	})
	uc.observeGateClass(class)
	return kept, class
}

// rerankCandidates re-scores the gated set via the selected backend. Any
// backend failure resolves fail-open: the fused order and scores stand, and
// the request still succeeds. Reranking is a quality enhancement, not a
// correctness requirement.
func (uc *RetrievalUseCase) rerankCandidates(
	ctx context.Context,
	req domain.RetrievalRequest,
	kept []domain.Candidate,
	logger *slog.Logger,
) ([]domain.Candidate, bool) {
	start := time.Now()
	defer func() { uc.observeStage("rerank", time.Since(start)) }()

	texts := make([]string, len(kept))
	for i, candidate := range kept {
		texts[i] = candidate.Text
	}

	rerankCtx, cancel := context.WithTimeout(ctx, uc.cfg.RerankTimeout)
	defer cancel()
	results, backend, err := uc.reranker.Rerank(rerankCtx, req.Query, texts, req.RerankerOverride)
	if err != nil {
		uc.observeRerankFailOpen(backend)
		logger.Warn("reranker_fail_open",
			slog.String("backend", string(backend)),
			slog.String("error", err.Error()))
		return kept, false
	}

	for _, result := range results {
		if result.Index < 0 || result.Index >= len(kept) {
			uc.observeRerankFailOpen(backend)
			logger.Warn("reranker_fail_open",
				slog.String("backend", string(backend)),
				slog.String("error", fmt.Sprintf("result index %d out of range for %d documents", result.Index, len(kept))))
			return kept, false
		}
	}
	for _, result := range results {
		kept[result.Index].RerankScoreRaw = result.ScoreRaw
		kept[result.Index].RerankScoreNormalized = result.Score
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].RerankScoreNormalized > kept[j].RerankScoreNormalized
	})
	return kept, true
}

func (uc *RetrievalUseCase) finish(reason domain.RetrievalReason, results []domain.RankedResult, traceID string) *domain.RetrievalResult {
	if results == nil {
		results = []domain.RankedResult{}
	}
	if uc.observer != nil {
		uc.observer.ObserveResultCount(reason, len(results))
	}
	return &domain.RetrievalResult{Results: results, Reason: reason, TraceID: traceID}
}

func (uc *RetrievalUseCase) observeStage(stage string, d time.Duration) {
	if uc.observer != nil {
		uc.observer.ObserveStage(stage, d)
	}
}

func (uc *RetrievalUseCase) observeGateClass(class domain.GateClass) {
	if uc.observer != nil {
		uc.observer.ObserveGateClass(class)
	}
}

func (uc *RetrievalUseCase) observeBranchFailure(branch string) {
	if uc.observer != nil {
		uc.observer.ObserveBranchFailure(branch)
	}
}

func (uc *RetrievalUseCase) observeRerankFailOpen(backend domain.RerankerType) {
	if uc.observer != nil {
		uc.observer.ObserveRerankFailOpen(backend)
	}
}
