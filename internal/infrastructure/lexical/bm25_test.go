package lexical

import "testing"

func buildCorpus(texts ...string) [][]string {
	out := make([][]string, len(texts))
	for i, text := range texts {
		out[i] = Tokenize(text)
	}
	return out
}

func TestBM25RanksMatchingDocumentHigher(t *testing.T) {
	bm25 := NewBM25(DefaultParams(), buildCorpus(
		"postgres connection pooling guide",
		"kubernetes deployment rollout strategies",
		"postgres vacuum tuning",
	))

	scores := bm25.Scores(Tokenize("postgres pooling"))
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	if scores[0] <= scores[2] {
		t.Fatalf("doc with both query terms should outscore doc with one: %v", scores)
	}
	if scores[1] != 0 {
		t.Fatalf("doc without query terms should score zero, got %f", scores[1])
	}
}

func TestBM25RareTermOutweighsCommonTerm(t *testing.T) {
	bm25 := NewBM25(DefaultParams(), buildCorpus(
		"storage engine storage layout",
		"storage compaction",
		"storage replication quorum",
	))

	common := bm25.Scores(Tokenize("storage"))
	rare := bm25.Scores(Tokenize("quorum"))
	if rare[2] <= common[2] {
		t.Fatalf("rare term should contribute more than a term present everywhere: rare=%f common=%f", rare[2], common[2])
	}
}

func TestBM25EmptyCorpus(t *testing.T) {
	bm25 := NewBM25(DefaultParams(), nil)
	if scores := bm25.Scores(Tokenize("anything")); len(scores) != 0 {
		t.Fatalf("expected empty score slice, got %v", scores)
	}
}

func TestBM25EmptyQuery(t *testing.T) {
	bm25 := NewBM25(DefaultParams(), buildCorpus("some document text"))
	scores := bm25.Scores(nil)
	if len(scores) != 1 || scores[0] != 0 {
		t.Fatalf("expected single zero score, got %v", scores)
	}
}

func TestParamsNormalize(t *testing.T) {
	p := Params{K1: -1, B: 2}.normalize()
	if p.K1 != 1.5 || p.B != 0.75 {
		t.Fatalf("expected defaults, got %+v", p)
	}
	p = Params{K1: 1.2, B: 0}.normalize()
	if p.K1 != 1.2 || p.B != 0 {
		t.Fatalf("b=0 is valid, got %+v", p)
	}
}
