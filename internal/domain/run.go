package domain

import "time"

// Generated document status values
const (
	DocumentStatusDraft        = "draft"
	ValidationStatusUnverified = "unverified"
)

// RunInputPayload captures what a run was asked to do.
type RunInputPayload struct {
	Query           string `json:"query"`
	AdditionalFacts string `json:"additional_facts,omitempty"`
	SummarizerModel string `json:"summarizer_model"`
	Summary         string `json:"summary,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// RunLease identifies the run that owns an in_progress session and the status
// the session settles to when that run is recorded.
type RunLease struct {
	Version int64
	Status  SessionStatus
}

// SessionRun is the immutable audit record of one pipeline execution.
type SessionRun struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	Model            string          `json:"model"`
	PromptTemplateID string          `json:"prompt_template_id"`
	InputPayload     RunInputPayload `json:"input_payload"`
	OutputSummary    string          `json:"output_summary"`
	OutputTokens     *int64          `json:"output_tokens,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// GeneratedDocument is the full output of a successful run.
type GeneratedDocument struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	RunID            string    `json:"run_id"`
	Domain           Domain    `json:"domain"`
	Title            string    `json:"title"`
	DocType          string    `json:"doc_type"`
	Content          string    `json:"content"`
	Status           string    `json:"status"`
	ValidationStatus string    `json:"validation_status"`
	CreatedAt        time.Time `json:"created_at"`
}

// SourceCitation links a generated document to a chunk that supported it.
type SourceCitation struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	Label      string `json:"citation_label"`
	Excerpt    string `json:"excerpt"`
	Position   int    `json:"position"`
}

// Citation is the rendered view of a retrieved chunk, aligned with the context labels.
type Citation struct {
	Label      string `json:"label"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
}

// RunRequest is the request to execute the pipeline for a session
type RunRequest struct {
	SessionID        string `json:"-"`
	PromptTemplateID string `json:"prompt_template_id" binding:"required"`
	Query            string `json:"query" binding:"required"`
	AdditionalFacts  string `json:"additional_facts,omitempty"`
	ReasoningLevel   *int   `json:"reasoning_level,omitempty"`
	CorpusID         string `json:"corpus_id,omitempty"`
}

// Retrieval describes the evidence a run was grounded on.
type Retrieval struct {
	Context   string           `json:"context"`
	Chunks    []RetrievedChunk `json:"chunks"`
	Citations []Citation       `json:"citations"`
}

// RunResult is returned to the caller of a successful run
type RunResult struct {
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	Retrieval  Retrieval `json:"retrieval"`
}

// DocumentWithCitations is the API view of a stored document
type DocumentWithCitations struct {
	Document  *GeneratedDocument `json:"document"`
	Citations []*SourceCitation  `json:"citations"`
}

// Stats represents system statistics
type Stats struct {
	TotalSessions  int `json:"total_sessions"`
	TotalTemplates int `json:"total_templates"`
	TotalRuns      int `json:"total_runs"`
	TotalDocuments int `json:"total_documents"`
}
