package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragsession/internal/chunker"
	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/embedding"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
)

// Chunk metadata keys
const (
	MetadataKeyChunkIndex = "chunk_index"
	MetadataKeyCorpusID   = "corpus_id"
)

const embedConcurrency = 4

// IngestService chunks, embeds and indexes corpus documents
type IngestService struct {
	chunker  *chunker.SentenceChunker
	embedder embedding.Embedder
	indexer  vectorstore.Indexer
	retry    RetryPolicy
	logger   *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	splitter *chunker.SentenceChunker,
	embedder embedding.Embedder,
	indexer vectorstore.Indexer,
	retry RetryPolicy,
	logger *zap.Logger,
) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		chunker:  splitter,
		embedder: embedder,
		indexer:  indexer,
		retry:    retry,
		logger:   logger,
	}
}

// IngestText indexes one text document into a corpus
func (s *IngestService) IngestText(ctx context.Context, corpusID string, req *domain.IngestTextRequest) (*domain.IngestTextResponse, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not configured", domain.ErrProviderUnavailable)
	}
	if s.indexer == nil {
		return nil, fmt.Errorf("%w: vector store not configured", domain.ErrStoreUnavailable)
	}
	d, err := domain.ParseDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	corpusID = strings.TrimSpace(corpusID)
	if corpusID == "" {
		return nil, fmt.Errorf("%w: corpus id is required", domain.ErrInvalidRequest)
	}

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.New().String()
	}

	pieces := s.chunker.Chunk(chunkKey(corpusID, docID), req.Content)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: document has no text", domain.ErrInvalidRequest)
	}

	chunks := make([]domain.KnowledgeChunk, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, piece := range pieces {
		g.Go(func() error {
			vector, err := retryCall(gctx, s.retry, 0, s.logger, "ingest_embed", func(ctx context.Context) ([]float32, error) {
				return s.embedder.Embed(ctx, piece.Text)
			})
			if err != nil {
				return fmt.Errorf("failed to embed chunk %s: %w", piece.ID, err)
			}

			metadata := make(map[string]any, len(req.Metadata)+2)
			for k, v := range req.Metadata {
				metadata[k] = v
			}
			metadata[MetadataKeyChunkIndex] = piece.Index
			metadata[MetadataKeyCorpusID] = corpusID

			chunks[i] = domain.KnowledgeChunk{
				ID:            piece.ID,
				DocumentID:    docID,
				DocumentTitle: req.Title,
				DocumentType:  req.DocumentType,
				CorpusID:      corpusID,
				Domain:        d,
				Content:       piece.Text,
				Metadata:      metadata,
				Embedding:     vector,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.indexer.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}

	s.logger.Info("Document indexed",
		zap.String("document_id", docID),
		zap.String("corpus_id", corpusID),
		zap.Int("chunks", len(chunks)),
	)

	return &domain.IngestTextResponse{
		DocumentID: docID,
		CorpusID:   corpusID,
		ChunkCount: len(chunks),
	}, nil
}

// chunkKey scopes chunk IDs to the corpus so one document ID can live in several corpora.
func chunkKey(corpusID, documentID string) string {
	return corpusID + "/" + documentID
}
