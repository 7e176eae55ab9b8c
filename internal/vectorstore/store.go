package vectorstore

import (
	"context"

	"github.com/liliang-cn/ragsession/internal/domain"
)

// Query scopes a similarity search.
type Query struct {
	Vector   []float32
	Domain   domain.Domain
	CorpusID string
	Limit    int
}

// Retriever returns chunks ranked by descending relevance score.
//
// Chunks with equal scores come back in the store's native order, which is not
// guaranteed to be stable across calls. No deduplication is applied. An empty
// result is not an error.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]domain.RetrievedChunk, error)
}

// Indexer stores embedded chunks for later retrieval.
type Indexer interface {
	Upsert(ctx context.Context, chunks []domain.KnowledgeChunk) error
}

// Store is a vector store that can both index and retrieve.
type Store interface {
	Retriever
	Indexer
	Close() error
}
