package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout keeps concurrent writers from failing with SQLITE_BUSY
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

func runMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS training_sessions (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			title TEXT NOT NULL,
			objective TEXT,
			status TEXT NOT NULL DEFAULT 'draft',
			version INTEGER NOT NULL DEFAULT 0,
			scheduled_at DATETIME,
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			instructions TEXT NOT NULL,
			template_kind TEXT NOT NULL,
			domain TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_template_id TEXT NOT NULL,
			input_payload TEXT NOT NULL,
			output_summary TEXT NOT NULL,
			output_tokens INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES training_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS generated_documents (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			title TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			validation_status TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES training_sessions(id) ON DELETE CASCADE,
			FOREIGN KEY (run_id) REFERENCES session_runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS source_citations (
			document_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			citation_label TEXT NOT NULL,
			excerpt TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (document_id, chunk_id, citation_label),
			FOREIGN KEY (document_id) REFERENCES generated_documents(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			document_title TEXT,
			document_type TEXT,
			corpus_id TEXT,
			domain TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_runs_session ON session_runs(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_generated_documents_session ON generated_documents(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_scope ON knowledge_chunks(domain, corpus_id)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}
