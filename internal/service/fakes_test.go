package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/llm"
	"github.com/liliang-cn/ragsession/internal/repository"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
)

type fakeEmbedder struct {
	calls atomic.Int32
	embed func(ctx context.Context, text string) ([]float32, error)
}

func (f *fakeEmbedder) Name() string  { return "fake" }
func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.embed != nil {
		return f.embed(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

type fakeRetriever struct {
	calls  atomic.Int32
	chunks []domain.RetrievedChunk
	err    error
	last   vectorstore.Query
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q vectorstore.Query) ([]domain.RetrievedChunk, error) {
	f.calls.Add(1)
	f.last = q
	return f.chunks, f.err
}

type fakeProvider struct {
	model string
	mu    sync.Mutex
	reqs  []llm.Request
	reply func(req llm.Request) (*llm.Response, error)
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.reply(req)
}

func (f *fakeProvider) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

func textReply(text string, tokens int64) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Provider:     "fake",
			Blocks:       []llm.ContentBlock{{Kind: llm.BlockThinking, Text: "..."}, {Kind: llm.BlockText, Text: text}},
			OutputTokens: &tokens,
		}, nil
	}
}

func failReply(err error) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) { return nil, err }
}

// countingSessions records every state transition the pipeline requests.
type countingSessions struct {
	*repository.SessionRepository
	begins atomic.Int32
	fails  atomic.Int32
}

func (c *countingSessions) BeginRun(ctx context.Context, id string, staleAfter time.Duration) (int64, error) {
	c.begins.Add(1)
	return c.SessionRepository.BeginRun(ctx, id, staleAfter)
}

func (c *countingSessions) FailRun(ctx context.Context, id string, version int64) error {
	c.fails.Add(1)
	return c.SessionRepository.FailRun(ctx, id, version)
}

// countingRecorder counts successful recordings, each of which settles the session.
type countingRecorder struct {
	*repository.RunRepository
	records atomic.Int32
}

func (c *countingRecorder) RecordRun(ctx context.Context, lease domain.RunLease, run *domain.SessionRun, doc *domain.GeneratedDocument, citations []*domain.SourceCitation) error {
	if err := c.RunRepository.RecordRun(ctx, lease, run, doc, citations); err != nil {
		return err
	}
	c.records.Add(1)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) RecordRun(context.Context, domain.RunLease, *domain.SessionRun, *domain.GeneratedDocument, []*domain.SourceCitation) error {
	return errors.New("disk full")
}

type harness struct {
	db         *repository.DB
	sessions   *countingSessions
	templates  *repository.TemplateRepository
	runs       *repository.RunRepository
	recorder   *countingRecorder
	embedder   *fakeEmbedder
	retriever  *fakeRetriever
	summarizer *fakeProvider
	primary    *fakeProvider
	opts       PipelineOptions
	session    *domain.TrainingSession
	template   *domain.PromptTemplate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:         db,
		sessions:   &countingSessions{SessionRepository: repository.NewSessionRepository(db)},
		templates:  repository.NewTemplateRepository(db),
		runs:       repository.NewRunRepository(db),
		embedder:   &fakeEmbedder{},
		retriever:  &fakeRetriever{},
		summarizer: &fakeProvider{model: "fast-model", reply: textReply("- [Source 1] excuses performance", 12)},
		primary:    &fakeProvider{model: "primary-model", reply: textReply("Analysis relying on [Source 1] and [Source 2].", 321)},
		opts: PipelineOptions{
			MatchCount:    6,
			ExcerptLength: 400,
			SummaryLength: 400,
			SuccessStatus: domain.SessionStatusCompleted,
			StaleAfter:    time.Minute,
			Retry:         RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond},
		},
	}

	h.recorder = &countingRecorder{RunRepository: h.runs}

	ctx := context.Background()
	h.session = &domain.TrainingSession{ID: "S1", Domain: domain.DomainLegal, Title: "Pandemic contracts", Objective: "Assess force majeure"}
	require.NoError(t, h.sessions.Create(ctx, h.session))
	h.template = &domain.PromptTemplate{ID: "T1", Name: "Case brief", Instructions: "Summarize case law", TemplateKind: "brief", Domain: domain.DomainLegal, Active: true}
	require.NoError(t, h.templates.Create(ctx, h.template))

	return h
}

func (h *harness) service() *TrainingService {
	var summarizer, primary llm.Provider
	if h.summarizer != nil {
		summarizer = h.summarizer
	}
	if h.primary != nil {
		primary = h.primary
	}
	synth := NewSynthesizer(summarizer, primary, h.opts.Retry, 0, 0, nil)
	return NewTrainingService(h.sessions, h.templates, h.recorder, h.embedder, h.retriever, synth, h.opts, nil)
}

func (h *harness) status(t *testing.T) domain.SessionStatus {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), h.session.ID)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.Status
}

func (h *harness) counts(t *testing.T) (runs, documents int) {
	t.Helper()
	ctx := context.Background()
	runs, err := h.runs.CountRuns(ctx)
	require.NoError(t, err)
	documents, err = h.runs.CountDocuments(ctx)
	require.NoError(t, err)
	return runs, documents
}

func twoChunks() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{
		{ID: "chunk-a", DocumentID: "doc-1", DocumentTitle: "Frustration of Contract", Score: 0.91, Content: "Courts excused performance where the pandemic made it impossible."},
		{ID: "chunk-b", DocumentID: "doc-2", DocumentTitle: "", Score: 0.78, Content: "Force majeure clauses are construed narrowly."},
	}
}
