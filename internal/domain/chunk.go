package domain

// RetrievedChunk is one ranked slice of a source document returned by the retriever.
type RetrievedChunk struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"document_id"`
	DocumentTitle string         `json:"document_title,omitempty"`
	DocumentType  string         `json:"document_type,omitempty"`
	CorpusID      string         `json:"corpus_id,omitempty"`
	Score         float64        `json:"score"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// KnowledgeChunk is a chunk prepared for indexing in a vector store.
type KnowledgeChunk struct {
	ID            string
	DocumentID    string
	DocumentTitle string
	DocumentType  string
	CorpusID      string
	Domain        Domain
	Content       string
	Metadata      map[string]any
	Embedding     []float32
}

// IngestTextRequest is the request to index a source document into a corpus
type IngestTextRequest struct {
	Domain       string         `json:"domain" binding:"required"`
	DocumentID   string         `json:"document_id,omitempty"`
	Title        string         `json:"title" binding:"required"`
	DocumentType string         `json:"document_type,omitempty"`
	Content      string         `json:"content" binding:"required"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// IngestTextResponse reports how a document was indexed
type IngestTextResponse struct {
	DocumentID string `json:"document_id"`
	CorpusID   string `json:"corpus_id"`
	ChunkCount int    `json:"chunk_count"`
}
