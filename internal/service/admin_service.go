package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/ragcontext"
	"github.com/liliang-cn/ragsession/internal/repository"
)

// AdminService handles admin operations
type AdminService struct {
	sessionRepo  *repository.SessionRepository
	templateRepo *repository.TemplateRepository
	runRepo      *repository.RunRepository
}

// NewAdminService creates a new admin service
func NewAdminService(
	sessionRepo *repository.SessionRepository,
	templateRepo *repository.TemplateRepository,
	runRepo *repository.RunRepository,
) *AdminService {
	return &AdminService{
		sessionRepo:  sessionRepo,
		templateRepo: templateRepo,
		runRepo:      runRepo,
	}
}

// Session operations

func (s *AdminService) CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.TrainingSession, error) {
	d, err := domain.ParseDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidRequest)
	}

	session := &domain.TrainingSession{
		Domain:      d,
		Title:       req.Title,
		Objective:   req.Objective,
		ScheduledAt: req.ScheduledAt,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *AdminService) GetSession(ctx context.Context, id string) (*domain.TrainingSession, error) {
	session, err := s.sessionRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

func (s *AdminService) ListSessions(ctx context.Context) ([]*domain.TrainingSession, error) {
	return s.sessionRepo.List(ctx)
}

// Template operations

func (s *AdminService) CreateTemplate(ctx context.Context, req *domain.CreateTemplateRequest) (*domain.PromptTemplate, error) {
	d, err := domain.ParseDomain(req.Domain)
	if err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	tmpl := &domain.PromptTemplate{
		Name:         req.Name,
		Instructions: req.Instructions,
		TemplateKind: req.TemplateKind,
		Domain:       d,
		Active:       active,
	}
	if err := s.templateRepo.Create(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (s *AdminService) GetTemplate(ctx context.Context, id string) (*domain.PromptTemplate, error) {
	tmpl, err := s.templateRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, domain.ErrNotFound
	}
	return tmpl, nil
}

func (s *AdminService) ListTemplates(ctx context.Context) ([]*domain.PromptTemplate, error) {
	return s.templateRepo.List(ctx)
}

// Run and document reads

func (s *AdminService) ListRuns(ctx context.Context, sessionID string) ([]*domain.SessionRun, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.runRepo.ListRuns(ctx, sessionID)
}

func (s *AdminService) GetDocument(ctx context.Context, id string) (*domain.DocumentWithCitations, error) {
	doc, err := s.runRepo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	citations, err := s.runRepo.ListCitations(ctx, id)
	if err != nil {
		return nil, err
	}
	if citations == nil {
		citations = []*domain.SourceCitation{}
	}
	return &domain.DocumentWithCitations{Document: doc, Citations: citations}, nil
}

// RenderCitations re-renders a document's sources in the order its context used.
func (s *AdminService) RenderCitations(ctx context.Context, documentID string) (string, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	return ragcontext.RenderCitations(doc.Citations), nil
}

// Stats

func (s *AdminService) GetStats(ctx context.Context) (*domain.Stats, error) {
	sessions, err := s.sessionRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	templates, err := s.templateRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := s.runRepo.CountRuns(ctx)
	if err != nil {
		return nil, err
	}
	documents, err := s.runRepo.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.Stats{
		TotalSessions:  sessions,
		TotalTemplates: templates,
		TotalRuns:      runs,
		TotalDocuments: documents,
	}, nil
}
