package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragsession/internal/domain"
)

// SessionRepository handles training session persistence and status transitions
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, domain, title, objective, status, version, scheduled_at, started_at, completed_at, created_at, updated_at`

// Create creates a new session in draft status
func (r *SessionRepository) Create(ctx context.Context, session *domain.TrainingSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	session.Status = domain.SessionStatusDraft
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO training_sessions (id, domain, title, objective, status, version, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, session.ID, string(session.Domain), session.Title, session.Objective, string(session.Status),
		nullTime(session.ScheduledAt), session.CreatedAt, session.UpdatedAt)

	return err
}

// Get retrieves a session by ID; it returns nil when the session does not exist
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.TrainingSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM training_sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// List retrieves all sessions
func (r *SessionRepository) List(ctx context.Context) ([]*domain.TrainingSession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM training_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.TrainingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// Count returns the number of sessions
func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_sessions`).Scan(&count)
	return count, err
}

// BeginRun moves a session to in_progress and returns the version that now owns it.
//
// The update is a compare-and-swap on the version column. A session already in
// progress is only taken over once its started_at is older than staleAfter.
func (r *SessionRepository) BeginRun(ctx context.Context, id string, staleAfter time.Duration) (int64, error) {
	session, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if session == nil {
		return 0, domain.ErrNotFound
	}

	now := time.Now().UTC()
	if session.Status == domain.SessionStatusInProgress {
		if staleAfter <= 0 || session.StartedAt == nil || now.Sub(*session.StartedAt) < staleAfter {
			return 0, domain.ErrSessionBusy
		}
	} else if !domain.CanTransition(session.Status, domain.SessionStatusInProgress) {
		return 0, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, session.Status, domain.SessionStatusInProgress)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE training_sessions SET status = ?, started_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(domain.SessionStatusInProgress), now, now, id, session.Version)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return 0, domain.ErrSessionBusy
	}

	return session.Version + 1, nil
}

// FailRun forces the session owned by version into the needs_input recovery state
func (r *SessionRepository) FailRun(ctx context.Context, id string, version int64) error {
	return settleSession(ctx, r.db, id, version, domain.SessionStatusNeedsInput, false)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// settleSession ends the run owned by version. It fails with ErrSessionBusy when
// another run has taken the session over since.
func settleSession(ctx context.Context, db execer, id string, version int64, status domain.SessionStatus, completed bool) error {
	if !domain.CanTransition(domain.SessionStatusInProgress, status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, domain.SessionStatusInProgress, status)
	}

	now := time.Now().UTC()
	var completedAt any
	if completed {
		completedAt = now
	}

	result, err := db.ExecContext(ctx, `
		UPDATE training_sessions
		SET status = ?, completed_at = COALESCE(?, completed_at), version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = ?
	`, string(status), completedAt, now, id, version, string(domain.SessionStatusInProgress))
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: run no longer owns session %s", domain.ErrSessionBusy, id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.TrainingSession, error) {
	session := &domain.TrainingSession{}
	var domainTag, status string
	var objective sql.NullString
	var scheduledAt, startedAt, completedAt sql.NullTime

	if err := row.Scan(&session.ID, &domainTag, &session.Title, &objective, &status, &session.Version,
		&scheduledAt, &startedAt, &completedAt, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}

	d, err := domain.ParseDomain(domainTag)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", session.ID, err)
	}
	st, err := domain.ParseSessionStatus(status)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", session.ID, err)
	}

	session.Domain = d
	session.Status = st
	session.Objective = objective.String
	session.ScheduledAt = timePtr(scheduledAt)
	session.StartedAt = timePtr(startedAt)
	session.CompletedAt = timePtr(completedAt)

	return session, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
