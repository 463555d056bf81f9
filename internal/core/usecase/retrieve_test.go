package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeDense struct {
	hits []domain.DenseHit
	err  error
}

func (f *fakeDense) Search(context.Context, []float32, string, int) ([]domain.DenseHit, error) {
	return f.hits, f.err
}

type fakeLexical struct {
	hits []domain.LexicalHit
	err  error
}

func (f *fakeLexical) Search(context.Context, string, string, int) ([]domain.LexicalHit, error) {
	return f.hits, f.err
}

type fakeScorer struct {
	scores []float64
	err    error
	calls  int
}

func (f *fakeScorer) ScorePairs(_ context.Context, _ string, texts []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores, nil
	}
	out := make([]float64, len(texts))
	for i := range out {
		out[i] = 0.9
	}
	return out, nil
}

type fakeReranker struct {
	results []domain.RerankResult
	used    domain.RerankerType
	err     error
	calls   int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, _ []string, override domain.RerankerType) ([]domain.RerankResult, domain.RerankerType, error) {
	f.calls++
	used := f.used
	if used == domain.RerankerNone {
		used = domain.RerankerLocalMiniLM
	}
	if f.err != nil {
		return nil, used, f.err
	}
	return f.results, used, nil
}

type pipelineFixture struct {
	embedder *fakeEmbedder
	dense    *fakeDense
	lexical  *fakeLexical
	scorer   *fakeScorer
	reranker *fakeReranker
	cfg      Config
}

// newFixture wires a pipeline whose fused order is docB, docA, docC.
func newFixture() *pipelineFixture {
	return &pipelineFixture{
		embedder: &fakeEmbedder{},
		dense: &fakeDense{hits: []domain.DenseHit{
			{DocumentID: "docA", Text: "text-docA", Distance: 0.10},
			{DocumentID: "docB", Text: "text-docB", Distance: 0.20},
		}},
		lexical: &fakeLexical{hits: []domain.LexicalHit{
			{Document: domain.Document{ID: "docB", Text: "text-docB"}, Score: 9.1},
			{Document: domain.Document{ID: "docC", Text: "text-docC"}, Score: 4.2},
		}},
		scorer:   &fakeScorer{},
		reranker: &fakeReranker{},
		cfg: Config{
			RRFK:                   60,
			LexicalWeight:          0.3,
			GateEnabled:            true,
			GateCorrectThreshold:   0.7,
			GateIncorrectThreshold: 0.3,
			GateFilterThreshold:    0.5,
		},
	}
}

func (f *pipelineFixture) useCase() *RetrievalUseCase {
	return NewRetrievalUseCase(f.embedder, f.dense, f.lexical, f.scorer, f.reranker, f.cfg, nil, nil)
}

func request(topK int) domain.RetrievalRequest {
	return domain.RetrievalRequest{Query: "postgres pooling", SessionID: "s1", TopK: topK}
}

func resultTexts(results []domain.RankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Text
	}
	return out
}

func TestRetrieveValidation(t *testing.T) {
	uc := newFixture().useCase()
	cases := []domain.RetrievalRequest{
		{Query: "", SessionID: "s1", TopK: 5},
		{Query: "  ", SessionID: "s1", TopK: 5},
		{Query: "q", SessionID: "", TopK: 5},
		{Query: "q", SessionID: "s1", TopK: 0},
		{Query: "q", SessionID: "s1", TopK: -3},
	}
	for _, req := range cases {
		if _, err := uc.Retrieve(context.Background(), req); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("request %+v: expected invalid-input error, got %v", req, err)
		}
	}
}

func TestRetrieveCompletedWithRerankedOrder(t *testing.T) {
	f := newFixture()
	f.scorer.scores = []float64{0.9, 0.8, 0.6}
	// Kept order entering rerank is docB, docA, docC.
	f.reranker.results = []domain.RerankResult{
		{Index: 0, ScoreRaw: -3, Score: 0.2},
		{Index: 1, ScoreRaw: 4, Score: 0.9},
		{Index: 2, ScoreRaw: 0, Score: 0.5},
	}

	result, err := f.useCase().Retrieve(context.Background(), request(2))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.Reason != domain.ReasonCompleted {
		t.Fatalf("reason %s, want completed", result.Reason)
	}
	if result.TraceID == "" {
		t.Fatalf("expected trace id")
	}

	got := resultTexts(result.Results)
	want := []string{"text-docA", "text-docC"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("result order %v, want %v", got, want)
	}
	if result.Results[0].Score != 0.9 || result.Results[1].Score != 0.5 {
		t.Fatalf("expected normalized rerank scores, got %v", result.Results)
	}
	for i, r := range result.Results {
		if r.Rank != i {
			t.Fatalf("result %d carries rank %d", i, r.Rank)
		}
	}
}

func TestRetrieveTopKLargerThanResultSet(t *testing.T) {
	f := newFixture()
	f.reranker.err = errors.New("backend down")

	result, err := f.useCase().Retrieve(context.Background(), request(50))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected all 3 results, got %d", len(result.Results))
	}
}

func TestRetrieveRerankerFailureFailsOpen(t *testing.T) {
	f := newFixture()
	f.reranker.err = domain.WrapError(domain.ErrRerankerUnavailable, "rerank", errors.New("connection refused"))

	first, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if first.Reason != domain.ReasonCompleted {
		t.Fatalf("fail-open must still complete, got reason %s", first.Reason)
	}
	got := resultTexts(first.Results)
	want := []string{"text-docB", "text-docA", "text-docC"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fail-open must preserve fused order: %v, want %v", got, want)
	}
	for _, r := range first.Results {
		if r.Score <= 0 || r.Score > 1 {
			t.Fatalf("fail-open scores must be the fused scores, got %v", first.Results)
		}
	}

	second, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("second retrieve: %v", err)
	}
	if !reflect.DeepEqual(first.Results, second.Results) {
		t.Fatalf("fail-open output must be deterministic across calls")
	}
}

func TestRetrieveRerankerOutOfRangeIndexFailsOpen(t *testing.T) {
	f := newFixture()
	f.reranker.results = []domain.RerankResult{{Index: 7, Score: 0.9}}

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := resultTexts(result.Results)
	want := []string{"text-docB", "text-docA", "text-docC"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected fused order on malformed rerank payload, got %v", got)
	}
}

func TestRetrieveGateRejectsQuery(t *testing.T) {
	f := newFixture()
	f.scorer.scores = []float64{0.1, 0.2, 0.15}

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.Reason != domain.ReasonRejected {
		t.Fatalf("reason %s, want rejected", result.Reason)
	}
	if len(result.Results) != 0 {
		t.Fatalf("rejected query must return no results, got %d", len(result.Results))
	}
	if f.reranker.calls != 0 {
		t.Fatalf("reranker must not run for a rejected query")
	}
}

func TestRetrieveGateDisabledSkipsScoring(t *testing.T) {
	f := newFixture()
	f.cfg.GateEnabled = false
	f.reranker.err = errors.New("down")

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if f.scorer.calls != 0 {
		t.Fatalf("disabled gate must not score candidates")
	}
	if len(result.Results) != 3 {
		t.Fatalf("disabled gate must keep all candidates, got %d", len(result.Results))
	}
}

func TestRetrieveGateFailureFailOpenPolicy(t *testing.T) {
	f := newFixture()
	f.scorer.err = domain.WrapError(domain.ErrGateUnavailable, "score pairs", errors.New("timeout"))
	f.reranker.err = errors.New("down")

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.Reason != domain.ReasonCompleted {
		t.Fatalf("fail-open gate policy must complete, got %s", result.Reason)
	}
	if len(result.Results) != 3 {
		t.Fatalf("fail-open gate must keep all candidates, got %d", len(result.Results))
	}
}

func TestRetrieveGateFailureFailClosedPolicy(t *testing.T) {
	f := newFixture()
	f.cfg.GateTimeoutPolicy = GateFailClosed
	f.scorer.err = domain.WrapError(domain.ErrGateUnavailable, "score pairs", errors.New("timeout"))

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.Reason != domain.ReasonRejected {
		t.Fatalf("fail-closed gate policy must reject, got %s", result.Reason)
	}
	if f.reranker.calls != 0 {
		t.Fatalf("reranker must not run after fail-closed rejection")
	}
}

func TestRetrieveGateScoreCountMismatchFailsOpen(t *testing.T) {
	f := newFixture()
	f.scorer.scores = []float64{0.9}
	f.reranker.err = errors.New("down")

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Results) != 3 {
		t.Fatalf("score-count mismatch must resolve by policy, got %d results", len(result.Results))
	}
}

func TestRetrieveDenseBranchFailureTolerated(t *testing.T) {
	f := newFixture()
	f.dense.err = errors.New("qdrant down")
	f.reranker.err = errors.New("down")

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := resultTexts(result.Results)
	want := []string{"text-docB", "text-docC"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected lexical-only results %v, got %v", want, got)
	}
}

func TestRetrieveLexicalBranchFailureTolerated(t *testing.T) {
	f := newFixture()
	f.lexical.err = errors.New("index corrupt")
	f.reranker.err = errors.New("down")

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := resultTexts(result.Results)
	want := []string{"text-docA", "text-docB"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected dense-only results %v, got %v", want, got)
	}
}

func TestRetrieveBothBranchesFailed(t *testing.T) {
	f := newFixture()
	f.dense.err = errors.New("qdrant down")
	f.lexical.err = errors.New("index corrupt")

	_, err := f.useCase().Retrieve(context.Background(), request(3))
	if !domain.IsKind(err, domain.ErrRetrievalBackend) {
		t.Fatalf("expected retrieval backend error, got %v", err)
	}
}

func TestRetrieveUnknownSessionIsFatal(t *testing.T) {
	f := newFixture()
	f.lexical.err = domain.WrapError(domain.ErrSessionNotFound, "load corpus", errors.New("session s1"))

	_, err := f.useCase().Retrieve(context.Background(), request(3))
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session-not-found, got %v", err)
	}
}

func TestRetrieveEmbedderFailureDegradesToLexical(t *testing.T) {
	f := newFixture()
	f.embedder.err = errors.New("ollama down")
	f.reranker.err = errors.New("down")

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := resultTexts(result.Results)
	want := []string{"text-docB", "text-docC"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected lexical-only results %v, got %v", want, got)
	}
}

func TestRetrieveNoCandidates(t *testing.T) {
	f := newFixture()
	f.dense.hits = nil
	f.lexical.hits = nil

	result, err := f.useCase().Retrieve(context.Background(), request(3))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.Reason != domain.ReasonNoResults {
		t.Fatalf("reason %s, want no_results", result.Reason)
	}
	if result.Results == nil {
		t.Fatalf("results must be an empty slice, not nil")
	}
}
