package domain

import "time"

// PromptTemplate holds the instructions that shape a generated document.
type PromptTemplate struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	TemplateKind string    `json:"template_kind"`
	Domain       Domain    `json:"domain"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateTemplateRequest is the request to create a prompt template
type CreateTemplateRequest struct {
	Name         string `json:"name" binding:"required"`
	Instructions string `json:"instructions" binding:"required"`
	TemplateKind string `json:"template_kind" binding:"required"`
	Domain       string `json:"domain" binding:"required"`
	Active       *bool  `json:"active,omitempty"`
}
