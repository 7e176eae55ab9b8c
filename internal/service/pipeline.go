package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragsession/internal/config"
	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/embedding"
	"github.com/liliang-cn/ragsession/internal/llm"
	"github.com/liliang-cn/ragsession/internal/ragcontext"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
)

// SessionStore reads sessions and moves them through a run.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.TrainingSession, error)
	BeginRun(ctx context.Context, id string, staleAfter time.Duration) (int64, error)
	FailRun(ctx context.Context, id string, version int64) error
}

// TemplateStore reads prompt templates.
type TemplateStore interface {
	Get(ctx context.Context, id string) (*domain.PromptTemplate, error)
}

// RunRecorder settles the leased session and persists the run, its document and
// its citations together. A lost lease fails with domain.ErrSessionBusy and writes nothing.
type RunRecorder interface {
	RecordRun(ctx context.Context, lease domain.RunLease, run *domain.SessionRun, doc *domain.GeneratedDocument, citations []*domain.SourceCitation) error
}

// PipelineOptions tunes a TrainingService.
type PipelineOptions struct {
	MatchCount      int
	ExcerptLength   int
	SummaryLength   int
	SuccessStatus   domain.SessionStatus
	StaleAfter      time.Duration
	EmbedTimeout    time.Duration
	RetrieveTimeout time.Duration
	PersistTimeout  time.Duration
	Retry           RetryPolicy
}

// OptionsFromConfig converts the pipeline config section.
func OptionsFromConfig(cfg config.PipelineConfig) PipelineOptions {
	return PipelineOptions{
		MatchCount:      cfg.MatchCount,
		ExcerptLength:   cfg.ExcerptLength,
		SummaryLength:   cfg.SummaryLength,
		SuccessStatus:   domain.SessionStatus(cfg.SuccessStatus),
		StaleAfter:      cfg.StaleAfter,
		EmbedTimeout:    cfg.EmbedTimeout,
		RetrieveTimeout: cfg.RetrieveTimeout,
		PersistTimeout:  cfg.PersistTimeout,
		Retry:           RetryPolicy{MaxRetries: cfg.MaxRetries, InitialDelay: cfg.RetryInitialDelay},
	}
}

const (
	minMatchCount     = 1
	maxMatchCount     = 8
	defaultMatchCount = 6
)

// TrainingService runs the retrieval-augmented pipeline for a session.
type TrainingService struct {
	sessions  SessionStore
	templates TemplateStore
	runs      RunRecorder
	embedder  embedding.Embedder
	retriever vectorstore.Retriever
	synth     *Synthesizer
	opts      PipelineOptions
	logger    *zap.Logger
	now       func() time.Time
}

// NewTrainingService creates a training service. The embedder, retriever and
// synthesizer may be unconfigured; Run then fails before touching the session.
func NewTrainingService(
	sessions SessionStore,
	templates TemplateStore,
	runs RunRecorder,
	embedder embedding.Embedder,
	retriever vectorstore.Retriever,
	synth *Synthesizer,
	opts PipelineOptions,
	logger *zap.Logger,
) *TrainingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MatchCount == 0 {
		opts.MatchCount = defaultMatchCount
	}
	if opts.MatchCount < minMatchCount {
		opts.MatchCount = minMatchCount
	}
	if opts.MatchCount > maxMatchCount {
		opts.MatchCount = maxMatchCount
	}
	if opts.SuccessStatus == "" {
		opts.SuccessStatus = domain.SessionStatusCompleted
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	return &TrainingService{
		sessions:  sessions,
		templates: templates,
		runs:      runs,
		embedder:  embedder,
		retriever: retriever,
		synth:     synth,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one pipeline run.
//
// Configuration, not-found and template errors return before the session changes. Once
// the session is in_progress every failure moves it to needs_input before the
// error is returned, and nothing from the run is persisted. A run whose session
// was taken over by a newer run fails with domain.ErrSessionBusy and leaves the
// session to its new owner.
func (s *TrainingService) Run(ctx context.Context, req *domain.RunRequest) (*domain.RunResult, error) {
	if err := validateRunRequest(req); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	session, tmpl, err := s.lookup(ctx, req.SessionID, req.PromptTemplateID)
	if err != nil {
		return nil, err
	}
	if err := checkTemplate(session, tmpl); err != nil {
		return nil, err
	}

	version, err := s.sessions.BeginRun(ctx, session.ID, s.opts.StaleAfter)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("session_id", session.ID), zap.String("template_id", tmpl.ID))
	logger.Info("Run started")

	lease := domain.RunLease{Version: version, Status: s.opts.SuccessStatus}
	result, err := s.execute(ctx, logger, session, tmpl, req, lease)
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		if !errors.Is(err, domain.ErrSessionBusy) {
			s.failRun(ctx, logger, session.ID, version)
		}
		return nil, err
	}

	logger.Info("Run completed",
		zap.String("run_id", result.RunID),
		zap.String("document_id", result.DocumentID),
		zap.Int("sources", len(result.Retrieval.Chunks)),
	)
	return result, nil
}

func validateRunRequest(req *domain.RunRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty run request", domain.ErrInvalidRequest)
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.PromptTemplateID = strings.TrimSpace(req.PromptTemplateID)
	req.Query = strings.TrimSpace(req.Query)
	switch {
	case req.SessionID == "":
		return fmt.Errorf("%w: session id is required", domain.ErrInvalidRequest)
	case req.PromptTemplateID == "":
		return fmt.Errorf("%w: prompt template id is required", domain.ErrInvalidRequest)
	case req.Query == "":
		return fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	return nil
}

// ready rejects runs whose collaborators are not configured.
func (s *TrainingService) ready() error {
	if s.embedder == nil {
		return fmt.Errorf("%w: embedder not configured", domain.ErrProviderUnavailable)
	}
	if s.retriever == nil {
		return fmt.Errorf("%w: vector store not configured", domain.ErrProviderUnavailable)
	}
	if s.synth == nil {
		return &domain.SynthesisError{Stage: domain.StageSummarize, Err: domain.ErrProviderUnavailable}
	}
	return s.synth.Ready()
}

// lookup loads the session and template concurrently.
func (s *TrainingService) lookup(ctx context.Context, sessionID, templateID string) (*domain.TrainingSession, *domain.PromptTemplate, error) {
	var session *domain.TrainingSession
	var tmpl *domain.PromptTemplate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		got, err := s.sessions.Get(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if got == nil {
			return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
		}
		session = got
		return nil
	})
	g.Go(func() error {
		got, err := s.templates.Get(gctx, templateID)
		if err != nil {
			return fmt.Errorf("failed to load prompt template: %w", err)
		}
		if got == nil {
			return fmt.Errorf("%w: prompt template %s", domain.ErrNotFound, templateID)
		}
		tmpl = got
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return session, tmpl, nil
}

// checkTemplate rejects templates that are retired or belong to another domain.
func checkTemplate(session *domain.TrainingSession, tmpl *domain.PromptTemplate) error {
	if !tmpl.Active {
		return fmt.Errorf("%w: prompt template %s is inactive", domain.ErrInvalidRequest, tmpl.ID)
	}
	if tmpl.Domain != session.Domain {
		return fmt.Errorf("%w: prompt template %s is for %s, session %s is %s",
			domain.ErrInvalidRequest, tmpl.ID, tmpl.Domain, session.ID, session.Domain)
	}
	return nil
}

func (s *TrainingService) execute(
	ctx context.Context,
	logger *zap.Logger,
	session *domain.TrainingSession,
	tmpl *domain.PromptTemplate,
	req *domain.RunRequest,
	lease domain.RunLease,
) (*domain.RunResult, error) {
	vector, err := retryCall(ctx, s.opts.Retry, s.opts.EmbedTimeout, logger, "embed", func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, req.Query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	query := vectorstore.Query{
		Vector:   vector,
		Domain:   session.Domain,
		CorpusID: req.CorpusID,
		Limit:    s.opts.MatchCount,
	}
	chunks, err := retryCall(ctx, s.opts.Retry, s.opts.RetrieveTimeout, logger, "retrieve", func(ctx context.Context) ([]domain.RetrievedChunk, error) {
		return s.retriever.Retrieve(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve sources: %w", err)
	}
	if len(chunks) == 0 {
		logger.Info("No sources retrieved", zap.String("corpus_id", req.CorpusID))
	}

	contextText := ragcontext.FormatContext(chunks)
	citations := ragcontext.FormatCitations(chunks, s.opts.ExcerptLength)

	effort := llm.EffortForLevel(req.ReasoningLevel)
	out, err := s.synth.Synthesize(ctx, SynthesisInput{
		Session:         session,
		Template:        tmpl,
		Query:           req.Query,
		AdditionalFacts: req.AdditionalFacts,
		Context:         contextText,
		Effort:          effort,
	})
	if err != nil {
		return nil, err
	}

	run := &domain.SessionRun{
		SessionID:        session.ID,
		Model:            out.Model,
		PromptTemplateID: tmpl.ID,
		InputPayload: domain.RunInputPayload{
			Query:           req.Query,
			AdditionalFacts: req.AdditionalFacts,
			SummarizerModel: out.SummarizerModel,
			Summary:         out.Summary,
			ReasoningEffort: string(effort),
		},
		OutputSummary: ragcontext.Truncate(out.Content, s.opts.SummaryLength),
		OutputTokens:  out.OutputTokens,
	}
	doc := &domain.GeneratedDocument{
		Domain:           session.Domain,
		Title:            documentTitle(session.Title, s.now()),
		DocType:          tmpl.TemplateKind,
		Content:          out.Content,
		Status:           domain.DocumentStatusDraft,
		ValidationStatus: domain.ValidationStatusUnverified,
	}
	rows := ragcontext.SourceCitations("", citations)

	persistCtx, cancel := context.WithTimeout(ctx, s.opts.PersistTimeout)
	defer cancel()
	if err := s.runs.RecordRun(persistCtx, lease, run, doc, rows); err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			return nil, fmt.Errorf("run superseded by a newer run: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	return &domain.RunResult{
		RunID:      run.ID,
		DocumentID: doc.ID,
		Content:    out.Content,
		Retrieval: domain.Retrieval{
			Context:   contextText,
			Chunks:    chunks,
			Citations: citations,
		},
	}, nil
}

// failRun moves the session to needs_input even if the request was cancelled.
func (s *TrainingService) failRun(ctx context.Context, logger *zap.Logger, sessionID string, version int64) {
	recoverCtx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.sessions.FailRun(recoverCtx, sessionID, version); err != nil {
		logger.Error("Failed to move session to recovery state", zap.Error(err))
	}
}

func (s *TrainingService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.PersistTimeout)
}

func documentTitle(sessionTitle string, at time.Time) string {
	return fmt.Sprintf("%s (%s)", sessionTitle, at.UTC().Format("2006-01-02"))
}
