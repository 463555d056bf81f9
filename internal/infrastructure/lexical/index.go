package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// Index caches one BM25 index per session, rebuilt from the corpus source on
// first use and after invalidation. Queries for a session run concurrently
// under a read lock; a rebuild takes the write lock, so readers never observe
// a half-built index.
type Index struct {
	source ports.CorpusSource
	params Params
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionIndex
}

type sessionIndex struct {
	mu    sync.RWMutex
	built bool
	docs  []domain.Document
	bm25  *BM25
}

func NewIndex(source ports.CorpusSource, params Params, logger *slog.Logger) *Index {
	return &Index{
		source:   source,
		params:   params.normalize(),
		logger:   logger,
		sessions: make(map[string]*sessionIndex),
	}
}

// Search tokenizes the query with the shared tokenizer and returns the top-k
// positive BM25 hits in descending score order. A query whose tokens are all
// stop words returns an empty hit list.
func (ix *Index) Search(ctx context.Context, sessionID, query string, k int) ([]domain.LexicalHit, error) {
	session, err := ix.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.RLock()
	defer session.mu.RUnlock()

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || len(session.docs) == 0 {
		return nil, nil
	}

	scores := session.bm25.Scores(queryTokens)
	hits := make([]domain.LexicalHit, 0, len(scores))
	for i, score := range scores {
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.LexicalHit{Document: session.docs[i], Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Invalidate drops the cached index for a session; the next query rebuilds it
// from the corpus source.
func (ix *Index) Invalidate(sessionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.sessions, sessionID)
}

func (ix *Index) session(ctx context.Context, sessionID string) (*sessionIndex, error) {
	ix.mu.Lock()
	session, ok := ix.sessions[sessionID]
	if !ok {
		session = &sessionIndex{}
		ix.sessions[sessionID] = session
	}
	ix.mu.Unlock()

	session.mu.RLock()
	if session.built {
		session.mu.RUnlock()
		return session, nil
	}
	session.mu.RUnlock()

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.built {
		return session, nil
	}

	docs, err := ix.source.LoadCorpus(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	docTokens := make([][]string, len(docs))
	for i, doc := range docs {
		docTokens[i] = Tokenize(doc.Text)
	}
	session.docs = docs
	session.bm25 = NewBM25(ix.params, docTokens)
	session.built = true

	if ix.logger != nil {
		ix.logger.Info("lexical_index_built",
			slog.String("session_id", sessionID),
			slog.Int("documents", len(docs)))
	}
	return session, nil
}
