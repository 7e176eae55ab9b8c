package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
)

// Store is a vector store over the knowledge_chunks table using brute-force cosine similarity.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore wraps an open database that already has the knowledge_chunks table.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or replaces chunks and their embeddings.
func (s *Store) Upsert(ctx context.Context, chunks []domain.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO knowledge_chunks (id, document_id, document_title, document_type, corpus_id, domain, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQuery, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", domain.ErrInvalidRequest, c.ID)
		}
		embeddingJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return err
		}
		metadataJSON, _ := json.Marshal(c.Metadata)

		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.DocumentTitle, c.DocumentType,
			c.CorpusID, string(c.Domain), c.Content, string(metadataJSON), string(embeddingJSON)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrQuery, err)
		}
	}

	return tx.Commit()
}

// Retrieve scores every chunk in scope against the query vector.
func (s *Store) Retrieve(ctx context.Context, q vectorstore.Query) ([]domain.RetrievedChunk, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidRequest)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 6
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, document_title, document_type, corpus_id, content, metadata, embedding
		FROM knowledge_chunks
		WHERE domain = ? AND (? = '' OR corpus_id = ?)
		ORDER BY rowid
	`, string(q.Domain), q.CorpusID, q.CorpusID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuery, err)
	}
	defer rows.Close()

	var results []domain.RetrievedChunk
	for rows.Next() {
		var chunk domain.RetrievedChunk
		var title, docType, corpusID, metadataJSON sql.NullString
		var embeddingJSON string

		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &title, &docType, &corpusID,
			&chunk.Content, &metadataJSON, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrQuery, err)
		}

		var embedding []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			return nil, fmt.Errorf("%w: chunk %s has a corrupt embedding: %v", domain.ErrQuery, chunk.ID, err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata)
		}

		chunk.DocumentTitle = title.String
		chunk.DocumentType = docType.String
		chunk.CorpusID = corpusID.String
		chunk.Score = cosine(q.Vector, embedding)
		results = append(results, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuery, err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close is a no-op; the database is owned by the caller.
func (s *Store) Close() error { return nil }

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
