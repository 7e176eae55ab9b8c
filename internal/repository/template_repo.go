package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragsession/internal/domain"
)

// TemplateRepository handles prompt template persistence
type TemplateRepository struct {
	db *DB
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create creates a new prompt template
func (r *TemplateRepository) Create(ctx context.Context, tmpl *domain.PromptTemplate) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_templates (id, name, instructions, template_kind, domain, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tmpl.ID, tmpl.Name, tmpl.Instructions, tmpl.TemplateKind, string(tmpl.Domain),
		tmpl.Active, tmpl.CreatedAt, tmpl.UpdatedAt)

	return err
}

// Get retrieves a template by ID; it returns nil when the template does not exist
func (r *TemplateRepository) Get(ctx context.Context, id string) (*domain.PromptTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, instructions, template_kind, domain, active, created_at, updated_at
		FROM prompt_templates WHERE id = ?
	`, id)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// List retrieves all templates
func (r *TemplateRepository) List(ctx context.Context) ([]*domain.PromptTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, instructions, template_kind, domain, active, created_at, updated_at
		FROM prompt_templates ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*domain.PromptTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}

	return templates, rows.Err()
}

// Count returns the number of templates
func (r *TemplateRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt_templates`).Scan(&count)
	return count, err
}

func scanTemplate(row rowScanner) (*domain.PromptTemplate, error) {
	tmpl := &domain.PromptTemplate{}
	var domainTag string

	if err := row.Scan(&tmpl.ID, &tmpl.Name, &tmpl.Instructions, &tmpl.TemplateKind,
		&domainTag, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt); err != nil {
		return nil, err
	}

	d, err := domain.ParseDomain(domainTag)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", tmpl.ID, err)
	}
	tmpl.Domain = d

	return tmpl, nil
}
