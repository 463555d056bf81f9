package lexical

import "math"

// Params are the Okapi BM25 tuning knobs. They come from configuration, not
// hard-coded constants.
type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75}
}

func (p Params) normalize() Params {
	out := p
	def := DefaultParams()
	if out.K1 <= 0 {
		out.K1 = def.K1
	}
	if out.B < 0 || out.B > 1 {
		out.B = def.B
	}
	return out
}

// BM25 holds the per-corpus statistics needed to score queries. It is built
// once per session load and is read-only afterwards.
type BM25 struct {
	params    Params
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int
}

// NewBM25 builds corpus statistics from already-tokenized documents.
// Tokenization must have gone through Tokenize.
func NewBM25(params Params, docTokens [][]string) *BM25 {
	b := &BM25{
		params:    params.normalize(),
		termFreqs: make([]map[string]int, len(docTokens)),
		docLens:   make([]int, len(docTokens)),
		docFreq:   make(map[string]int),
	}

	totalLen := 0
	for i, tokens := range docTokens {
		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		b.termFreqs[i] = tf
		b.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for token := range tf {
			b.docFreq[token]++
		}
	}
	if len(docTokens) > 0 {
		b.avgDocLen = float64(totalLen) / float64(len(docTokens))
	}
	return b
}

// Scores returns one BM25 score per corpus document, in corpus order. An
// empty corpus yields an empty slice; a query with no tokens yields all
// zeros. Neither case is an error.
func (b *BM25) Scores(queryTokens []string) []float64 {
	scores := make([]float64, len(b.termFreqs))
	if len(queryTokens) == 0 || len(b.termFreqs) == 0 {
		return scores
	}

	n := float64(len(b.termFreqs))
	for _, token := range queryTokens {
		df, ok := b.docFreq[token]
		if !ok {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for i, tf := range b.termFreqs {
			freq := float64(tf[token])
			if freq == 0 {
				continue
			}
			var lenNorm float64
			if b.avgDocLen > 0 {
				lenNorm = b.params.K1 * (1 - b.params.B + b.params.B*float64(b.docLens[i])/b.avgDocLen)
			} else {
				lenNorm = b.params.K1
			}
			scores[i] += idf * freq * (b.params.K1 + 1) / (freq + lenNorm)
		}
	}
	return scores
}
