package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragsession/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createSession(t *testing.T, repo *SessionRepository) *domain.TrainingSession {
	t.Helper()
	session := &domain.TrainingSession{Domain: domain.DomainLegal, Title: "Contract review", Objective: "Find precedent"}
	require.NoError(t, repo.Create(context.Background(), session))
	return session
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	session := createSession(t, repo)

	got, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionStatusDraft, got.Status)
	assert.Equal(t, domain.DomainLegal, got.Domain)
	assert.Equal(t, "Find precedent", got.Objective)
	assert.Nil(t, got.StartedAt)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepository_RunLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	runs := NewRunRepository(db)
	ctx := context.Background()
	session := createSession(t, repo)

	version, err := repo.BeginRun(ctx, session.ID, time.Minute)
	require.NoError(t, err)

	got, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusInProgress, got.Status)
	assert.NotNil(t, got.StartedAt)

	_, err = repo.BeginRun(ctx, session.ID, time.Minute)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	run, doc := newRunRecords(session.ID)
	lease := domain.RunLease{Version: version, Status: domain.SessionStatusCompleted}
	require.NoError(t, runs.RecordRun(ctx, lease, run, doc, nil))
	got, err = repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// a completed session may be run again
	version, err = repo.BeginRun(ctx, session.ID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.FailRun(ctx, session.ID, version))

	got, err = repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusNeedsInput, got.Status)
}

func TestSessionRepository_StaleRunTakeover(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	session := createSession(t, repo)

	oldVersion, err := repo.BeginRun(ctx, session.ID, time.Minute)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	newVersion, err := repo.BeginRun(ctx, session.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, newVersion, oldVersion)

	// the superseded run can no longer settle the session
	assert.ErrorIs(t, repo.FailRun(ctx, session.ID, oldVersion), domain.ErrSessionBusy)
	require.NoError(t, repo.FailRun(ctx, session.ID, newVersion))
}

func TestSessionRepository_BeginRunMissing(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	_, err := repo.BeginRun(context.Background(), "missing", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunRepository_RejectsInvalidFinish(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	runs := NewRunRepository(db)
	ctx := context.Background()
	session := createSession(t, repo)

	version, err := repo.BeginRun(ctx, session.ID, time.Minute)
	require.NoError(t, err)

	run, doc := newRunRecords(session.ID)
	err = runs.RecordRun(ctx, domain.RunLease{Version: version, Status: domain.SessionStatusDraft}, run, doc, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	count, err := runs.CountRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunRepository_RecordRunRejectsLostLease(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	runs := NewRunRepository(db)
	ctx := context.Background()
	session := createSession(t, repo)

	oldVersion, err := repo.BeginRun(ctx, session.ID, time.Minute)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = repo.BeginRun(ctx, session.ID, 10*time.Millisecond)
	require.NoError(t, err)

	run, doc := newRunRecords(session.ID)
	citations := []*domain.SourceCitation{{ChunkID: "c-1", Label: "Source 1", Position: 0}}
	err = runs.RecordRun(ctx, domain.RunLease{Version: oldVersion, Status: domain.SessionStatusCompleted}, run, doc, citations)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	count, err := runs.CountRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = runs.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func newRunRecords(sessionID string) (*domain.SessionRun, *domain.GeneratedDocument) {
	run := &domain.SessionRun{SessionID: sessionID, Model: "m", PromptTemplateID: "T1"}
	doc := &domain.GeneratedDocument{Domain: domain.DomainLegal, Title: "t", DocType: "brief", Content: "c",
		Status: domain.DocumentStatusDraft, ValidationStatus: domain.ValidationStatusUnverified}
	return run, doc
}

func beginRun(t *testing.T, repo *SessionRepository, id string) domain.RunLease {
	t.Helper()
	version, err := repo.BeginRun(context.Background(), id, time.Minute)
	require.NoError(t, err)
	return domain.RunLease{Version: version, Status: domain.SessionStatusCompleted}
}

func TestTemplateRepository_CreateAndGet(t *testing.T) {
	repo := NewTemplateRepository(newTestDB(t))
	ctx := context.Background()

	tmpl := &domain.PromptTemplate{
		Name:         "Case brief",
		Instructions: "Summarize case law",
		TemplateKind: "brief",
		Domain:       domain.DomainLegal,
		Active:       true,
	}
	require.NoError(t, repo.Create(ctx, tmpl))

	got, err := repo.Get(ctx, tmpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Summarize case law", got.Instructions)
	assert.True(t, got.Active)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunRepository_RecordRun(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepository(db)
	runs := NewRunRepository(db)
	ctx := context.Background()
	session := createSession(t, sessions)

	tokens := int64(321)
	run := &domain.SessionRun{
		SessionID:        session.ID,
		Model:            "primary-model",
		PromptTemplateID: "T1",
		InputPayload:     domain.RunInputPayload{Query: "force majeure", SummarizerModel: "fast-model", Summary: "- point"},
		OutputSummary:    "Analysis [Source 1]",
		OutputTokens:     &tokens,
	}
	doc := &domain.GeneratedDocument{
		Domain:           domain.DomainLegal,
		Title:            "Contract review (2026-10-15)",
		DocType:          "brief",
		Content:          "Analysis [Source 1] and [Source 2]",
		Status:           domain.DocumentStatusDraft,
		ValidationStatus: domain.ValidationStatusUnverified,
	}
	citations := []*domain.SourceCitation{
		{ChunkID: "c-2", Label: "Source 2", Excerpt: "second", Position: 1},
		{ChunkID: "c-1", Label: "Source 1", Excerpt: "first", Position: 0},
	}

	require.NoError(t, runs.RecordRun(ctx, beginRun(t, sessions, session.ID), run, doc, citations))
	assert.Equal(t, run.ID, doc.RunID)

	stored, err := runs.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, doc.Content, stored.Content)
	assert.Equal(t, "draft", stored.Status)
	assert.Equal(t, "unverified", stored.ValidationStatus)

	got, err := runs.ListCitations(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Source 1", got[0].Label)
	assert.Equal(t, "c-1", got[0].ChunkID)
	assert.Equal(t, "Source 2", got[1].Label)

	listed, err := runs.ListRuns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "T1", listed[0].PromptTemplateID)
	assert.Equal(t, "fast-model", listed[0].InputPayload.SummarizerModel)
	require.NotNil(t, listed[0].OutputTokens)
	assert.Equal(t, int64(321), *listed[0].OutputTokens)
}

func TestRunRepository_RecordRunRollsBackOnCitationFailure(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepository(db)
	runs := NewRunRepository(db)
	ctx := context.Background()
	session := createSession(t, sessions)

	lease := beginRun(t, sessions, session.ID)
	run, doc := newRunRecords(session.ID)
	duplicate := []*domain.SourceCitation{
		{ChunkID: "c-1", Label: "Source 1", Position: 0},
		{ChunkID: "c-1", Label: "Source 1", Position: 0},
	}

	require.Error(t, runs.RecordRun(ctx, lease, run, doc, duplicate))

	count, err := runs.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = runs.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// the session settle rolled back with the inserts
	got, err := sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusInProgress, got.Status)
}
