package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragsession/internal/domain"
)

// RunRepository persists session runs, generated documents and their citations
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRun settles the session held by lease, then writes the run, the document
// and the citations, all in one transaction. Nothing is kept if any step fails,
// including when the lease was lost to a newer run (ErrSessionBusy).
func (r *RunRepository) RecordRun(ctx context.Context, lease domain.RunLease, run *domain.SessionRun, doc *domain.GeneratedDocument, citations []*domain.SourceCitation) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	doc.CreatedAt = now
	doc.RunID = run.ID
	doc.SessionID = run.SessionID

	payload, err := json.Marshal(run.InputPayload)
	if err != nil {
		return fmt.Errorf("failed to encode input payload: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := settleSession(ctx, tx, run.SessionID, lease.Version, lease.Status, true); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_runs (id, session_id, model, prompt_template_id, input_payload, output_summary, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SessionID, run.Model, run.PromptTemplateID, string(payload),
		run.OutputSummary, nullInt64(run.OutputTokens), run.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert session run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO generated_documents (id, session_id, run_id, domain, title, doc_type, content, status, validation_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.SessionID, doc.RunID, string(doc.Domain), doc.Title, doc.DocType,
		doc.Content, doc.Status, doc.ValidationStatus, doc.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert generated document: %w", err)
	}

	if len(citations) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO source_citations (document_id, chunk_id, citation_label, excerpt, position)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare citation insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range citations {
			c.DocumentID = doc.ID
			if _, err := stmt.ExecContext(ctx, c.DocumentID, c.ChunkID, c.Label, c.Excerpt, c.Position); err != nil {
				return fmt.Errorf("failed to insert citation %s: %w", c.Label, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetDocument retrieves a generated document by ID; it returns nil when missing
func (r *RunRepository) GetDocument(ctx context.Context, id string) (*domain.GeneratedDocument, error) {
	doc := &domain.GeneratedDocument{}
	var domainTag string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, run_id, domain, title, doc_type, content, status, validation_status, created_at
		FROM generated_documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.SessionID, &doc.RunID, &domainTag, &doc.Title, &doc.DocType,
		&doc.Content, &doc.Status, &doc.ValidationStatus, &doc.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc.Domain = domain.Domain(domainTag)
	return doc, nil
}

// ListCitations returns a document's citations in context order
func (r *RunRepository) ListCitations(ctx context.Context, documentID string) ([]*domain.SourceCitation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT document_id, chunk_id, citation_label, excerpt, position
		FROM source_citations WHERE document_id = ?
		ORDER BY position ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	citations := []*domain.SourceCitation{}
	for rows.Next() {
		c := &domain.SourceCitation{}
		if err := rows.Scan(&c.DocumentID, &c.ChunkID, &c.Label, &c.Excerpt, &c.Position); err != nil {
			return nil, err
		}
		citations = append(citations, c)
	}

	return citations, rows.Err()
}

// ListRuns returns the runs recorded for a session, newest first
func (r *RunRepository) ListRuns(ctx context.Context, sessionID string) ([]*domain.SessionRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, model, prompt_template_id, input_payload, output_summary, output_tokens, created_at
		FROM session_runs WHERE session_id = ?
		ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*domain.SessionRun{}
	for rows.Next() {
		run := &domain.SessionRun{}
		var payload string
		var tokens sql.NullInt64

		if err := rows.Scan(&run.ID, &run.SessionID, &run.Model, &run.PromptTemplateID,
			&payload, &run.OutputSummary, &tokens, &run.CreatedAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(payload), &run.InputPayload); err != nil {
			return nil, fmt.Errorf("run %s: failed to decode input payload: %w", run.ID, err)
		}
		if tokens.Valid {
			n := tokens.Int64
			run.OutputTokens = &n
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// CountRuns returns the total number of recorded runs
func (r *RunRepository) CountRuns(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_runs`).Scan(&count)
	return count, err
}

// CountDocuments returns the total number of generated documents
func (r *RunRepository) CountDocuments(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generated_documents`).Scan(&count)
	return count, err
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
