package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/repository"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db.DB)
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	chunks := []domain.KnowledgeChunk{
		{ID: "a", DocumentID: "d1", DocumentTitle: "Doc 1", Domain: domain.DomainLegal, CorpusID: "c1", Content: "alpha", Embedding: []float32{1, 0}},
		{ID: "b", DocumentID: "d1", DocumentTitle: "Doc 1", Domain: domain.DomainLegal, CorpusID: "c1", Content: "beta", Embedding: []float32{0.7, 0.7}},
		{ID: "c", DocumentID: "d2", Domain: domain.DomainLegal, CorpusID: "c2", Content: "gamma", Embedding: []float32{0, 1}},
		{ID: "d", DocumentID: "d3", Domain: domain.DomainAcademic, Content: "delta", Embedding: []float32{1, 0}},
	}
	require.NoError(t, s.Upsert(context.Background(), chunks))
}

func TestStore_RetrieveRanksByScore(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	got, err := s.Retrieve(context.Background(), vectorstore.Query{Vector: []float32{1, 0}, Domain: domain.DomainLegal, Limit: 8})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.GreaterOrEqual(t, got[1].Score, got[2].Score)
	// chunks from the same document are not deduplicated
	assert.Equal(t, got[0].DocumentID, got[1].DocumentID)
}

func TestStore_RetrieveFiltersCorpusAndLimit(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	got, err := s.Retrieve(context.Background(), vectorstore.Query{Vector: []float32{0, 1}, Domain: domain.DomainLegal, CorpusID: "c1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c1", got[0].CorpusID)
}

func TestStore_RetrieveEmptyIsNotAnError(t *testing.T) {
	s := newStore(t)

	got, err := s.Retrieve(context.Background(), vectorstore.Query{Vector: []float32{1, 0}, Domain: domain.DomainAcademic})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_UpsertRejectsMissingEmbedding(t *testing.T) {
	s := newStore(t)
	err := s.Upsert(context.Background(), []domain.KnowledgeChunk{{ID: "x", Domain: domain.DomainLegal}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
