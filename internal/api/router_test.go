package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liliang-cn/ragsession/internal/api/middleware"
	"github.com/liliang-cn/ragsession/internal/chunker"
	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/llm"
	"github.com/liliang-cn/ragsession/internal/repository"
	"github.com/liliang-cn/ragsession/internal/service"
	"github.com/liliang-cn/ragsession/internal/vectorstore/sqlite"
)

const testAPIKey = "test-key"

type stubEmbedder struct{}

func (stubEmbedder) Name() string  { return "stub" }
func (stubEmbedder) Model() string { return "stub-embed" }
func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubProvider struct {
	model string
	text  string
	err   error
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return p.model }
func (p *stubProvider) Complete(context.Context, llm.Request) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Provider: "stub", Blocks: []llm.ContentBlock{{Kind: llm.BlockText, Text: p.text}}}, nil
}

type testServer struct {
	router  *gin.Engine
	primary *stubProvider
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions := repository.NewSessionRepository(db)
	templates := repository.NewTemplateRepository(db)
	runs := repository.NewRunRepository(db)
	store := sqlite.NewStore(db.DB)

	primary := &stubProvider{model: "primary", text: "Findings per [Source 1]."}
	summarizer := &stubProvider{model: "fast", text: "- [Source 1] key point"}
	synth := service.NewSynthesizer(summarizer, primary, service.RetryPolicy{}, time.Second, time.Second, nil)

	training := service.NewTrainingService(sessions, templates, runs, stubEmbedder{}, store, synth,
		service.PipelineOptions{MatchCount: 6, StaleAfter: time.Minute}, nil)
	admin := service.NewAdminService(sessions, templates, runs)
	ingest := service.NewIngestService(chunker.NewSentenceChunker(2, 0), stubEmbedder{}, store, service.RetryPolicy{}, nil)

	router := SetupRouter(admin, ingest, training, RouterConfig{
		APIKey:       testAPIKey,
		AllowOrigins: []string{"*"},
		RateLimiter:  limiter,
	}, zap.NewNop())

	return &testServer{router: router, primary: primary}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) seed(t *testing.T) (sessionID, templateID string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/admin/sessions", gin.H{"domain": "legal", "title": "Pandemic contracts"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	session := decode[domain.TrainingSession](t, w)

	w = s.do(t, http.MethodPost, "/api/admin/templates", gin.H{
		"name": "Case brief", "instructions": "Summarize case law", "template_kind": "brief", "domain": "legal",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tmpl := decode[domain.PromptTemplate](t, w)

	return session.ID, tmpl.ID
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RequiresAPIKey(t *testing.T) {
	s := newTestServer(t, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RunLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	sessionID, templateID := s.seed(t)

	w := s.do(t, http.MethodPost, "/api/admin/corpora/casebook/chunks", gin.H{
		"domain": "legal", "title": "Casebook", "content": "Performance was excused. The clause applied narrowly.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[domain.IngestTextResponse](t, w).ChunkCount)

	w = s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/runs", gin.H{
		"prompt_template_id": templateID,
		"query":              "force majeure during pandemic",
		"reasoning_level":    1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[domain.RunResult](t, w)
	assert.Equal(t, "Findings per [Source 1].", result.Content)
	require.Len(t, result.Retrieval.Citations, 1)

	w = s.do(t, http.MethodGet, "/api/documents/"+result.DocumentID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[domain.DocumentWithCitations](t, w)
	assert.Equal(t, "brief", doc.Document.DocType)
	require.Len(t, doc.Citations, 1)
	assert.Equal(t, "Source 1", doc.Citations[0].Label)

	w = s.do(t, http.MethodGet, "/api/documents/"+result.DocumentID+"/citations/rendered", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Source 1\nPerformance was excused. The clause applied narrowly.", w.Body.String())

	w = s.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]domain.SessionRun](t, w)["runs"], 1)

	w = s.do(t, http.MethodGet, "/api/admin/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.SessionStatusCompleted, decode[domain.TrainingSession](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.Stats{TotalSessions: 1, TotalTemplates: 1, TotalRuns: 1, TotalDocuments: 1}, decode[domain.Stats](t, w))
}

func TestRouter_RunErrors(t *testing.T) {
	s := newTestServer(t, nil)
	sessionID, templateID := s.seed(t)

	w := s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/runs", gin.H{"prompt_template_id": templateID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/runs", gin.H{"prompt_template_id": "missing", "query": "q"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.primary.err = &domain.ProviderError{Provider: "stub", Err: errors.New("overloaded")}
	w = s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/runs", gin.H{"prompt_template_id": templateID, "query": "q"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "synthesize")

	w = s.do(t, http.MethodGet, "/api/admin/sessions/"+sessionID, nil)
	assert.Equal(t, domain.SessionStatusNeedsInput, decode[domain.TrainingSession](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RateLimited(t *testing.T) {
	s := newTestServer(t, middleware.NewRateLimiter(1, 1))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/admin/stats", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/admin/stats", nil).Code)
}
