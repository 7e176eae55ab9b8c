// Package pgvector retrieves knowledge chunks from PostgreSQL through a
// similarity-search SQL function backed by the pgvector extension.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
)

// DefaultMatchFunction is the name of the similarity-search function.
const DefaultMatchFunction = "match_knowledge_chunks"

// Config configures the PostgreSQL store.
type Config struct {
	DSN           string
	MatchFunction string
	Dimension     int
}

// Store queries a pgvector-enabled database.
type Store struct {
	pool          *pgxpool.Pool
	matchFunction string
	dimension     int
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore connects a pool and registers the vector type on every connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	fn := cfg.MatchFunction
	if fn == "" {
		fn = DefaultMatchFunction
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}

	return &Store{pool: pool, matchFunction: fn, dimension: dim}, nil
}

// Migrate creates the chunk table and the match function when missing.
// The vector extension must be creatable by the connecting role.
func (s *Store) Migrate(ctx context.Context) error {
	// pool connections register the vector type on connect, which fails until the extension exists
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig)
	if err != nil {
		return classify(err)
	}
	_, err = conn.Exec(ctx, createExtension)
	conn.Close(ctx)
	if err != nil {
		return fmt.Errorf("pgvector migration failed: %w", err)
	}

	for _, stmt := range migrations(s.matchFunction, s.dimension) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector migration failed: %w", err)
		}
	}
	return nil
}

const createExtension = `CREATE EXTENSION IF NOT EXISTS vector`

func migrations(fn string, dim int) []string {
	ident := pgx.Identifier{fn}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			document_title TEXT,
			document_type TEXT,
			corpus_id TEXT,
			domain TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_scope ON knowledge_chunks(domain, corpus_id)`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(
			query_embedding vector(%d),
			match_count INT,
			filter_domain TEXT,
			filter_corpus TEXT DEFAULT NULL
		)
		RETURNS TABLE (
			id TEXT,
			document_id TEXT,
			document_title TEXT,
			document_type TEXT,
			corpus_id TEXT,
			similarity DOUBLE PRECISION,
			content TEXT,
			metadata JSONB
		)
		LANGUAGE sql STABLE AS $$
			SELECT k.id, k.document_id, k.document_title, k.document_type, k.corpus_id,
				1 - (k.embedding <=> query_embedding) AS similarity,
				k.content, k.metadata
			FROM knowledge_chunks k
			WHERE k.domain = filter_domain
				AND (filter_corpus IS NULL OR k.corpus_id = filter_corpus)
			ORDER BY k.embedding <=> query_embedding
			LIMIT match_count
		$$`, ident, dim),
	}
}

// Retrieve calls the match function with the query vector and scope.
func (s *Store) Retrieve(ctx context.Context, q vectorstore.Query) ([]domain.RetrievedChunk, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidRequest)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 6
	}

	rows, err := s.pool.Query(ctx, s.matchQuery(), matchArgs(q, limit)...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var results []domain.RetrievedChunk
	for rows.Next() {
		var chunk domain.RetrievedChunk
		var title, docType, corpusID *string
		var metadata []byte

		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &title, &docType, &corpusID,
			&chunk.Score, &chunk.Content, &metadata); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrQuery, err)
		}
		if len(metadata) > 0 {
			json.Unmarshal(metadata, &chunk.Metadata)
		}
		chunk.DocumentTitle = deref(title)
		chunk.DocumentType = deref(docType)
		chunk.CorpusID = deref(corpusID)
		results = append(results, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return results, nil
}

func (s *Store) matchQuery() string {
	return fmt.Sprintf(`SELECT id, document_id, document_title, document_type, corpus_id, similarity, content, metadata
		FROM %s($1, $2, $3, $4)`, pgx.Identifier{s.matchFunction}.Sanitize())
}

func matchArgs(q vectorstore.Query, limit int) []any {
	var corpus any
	if q.CorpusID != "" {
		corpus = q.CorpusID
	}
	return []any{pgvector.NewVector(q.Vector), limit, string(q.Domain), corpus}
}

// Upsert inserts or replaces chunks in one batch.
func (s *Store) Upsert(ctx context.Context, chunks []domain.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", domain.ErrInvalidRequest, c.ID)
		}
		metadata, _ := json.Marshal(c.Metadata)
		batch.Queue(`
			INSERT INTO knowledge_chunks (id, document_id, document_title, document_type, corpus_id, domain, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				document_title = EXCLUDED.document_title,
				document_type = EXCLUDED.document_type,
				corpus_id = EXCLUDED.corpus_id,
				domain = EXCLUDED.domain,
				content = EXCLUDED.content,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding
		`, c.ID, c.DocumentID, c.DocumentTitle, c.DocumentType, c.CorpusID, string(c.Domain), c.Content,
			metadata, pgvector.NewVector(c.Embedding))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// classify separates server-side query failures from connectivity failures.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s (%s)", domain.ErrQuery, pgErr.Message, pgErr.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
