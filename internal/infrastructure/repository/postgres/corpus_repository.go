package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// CorpusRepository reads session corpora for lexical indexing. Retrieval is
// read-only against these tables; ingestion owns the writes.
type CorpusRepository struct {
	db *sql.DB
}

func NewCorpusRepository(db *sql.DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// LoadCorpus returns every document of a session in insertion order. An
// unknown session is a typed error; a known session with zero documents is a
// legitimate empty corpus.
func (r *CorpusRepository) LoadCorpus(ctx context.Context, sessionID string) ([]domain.Document, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "load corpus", fmt.Errorf("session %s", sessionID))
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, content, metadata
FROM session_documents
WHERE session_id = $1
ORDER BY created_at, id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var doc domain.Document
		var metadataRaw []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataRaw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", doc.ID, err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docs, nil
		}
		return nil, fmt.Errorf("iterate corpus: %w", err)
	}
	return docs, nil
}
