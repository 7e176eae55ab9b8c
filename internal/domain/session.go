package domain

import (
	"fmt"
	"time"
)

// Domain is the subject-matter tag partitioning sessions, corpora and retrieval.
type Domain string

const (
	DomainLegal    Domain = "legal"
	DomainAcademic Domain = "academic"
)

// Domains lists every supported domain.
var Domains = []Domain{DomainLegal, DomainAcademic}

// ParseDomain validates a raw domain tag.
func ParseDomain(s string) (Domain, error) {
	switch d := Domain(s); d {
	case DomainLegal, DomainAcademic:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown domain %q", ErrInvalidRequest, s)
	}
}

// Label returns a human readable name used in prompts.
func (d Domain) Label() string {
	switch d {
	case DomainLegal:
		return "legal"
	case DomainAcademic:
		return "academic research"
	default:
		panic(fmt.Sprintf("domain: unhandled domain %q", string(d)))
	}
}

// SessionStatus is the lifecycle state of a training session.
type SessionStatus string

const (
	SessionStatusDraft      SessionStatus = "draft"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusNeedsInput SessionStatus = "needs_input"
	SessionStatusCompleted  SessionStatus = "completed"
)

// ParseSessionStatus validates a raw status value.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case SessionStatusDraft, SessionStatusInProgress, SessionStatusNeedsInput, SessionStatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown session status %q", ErrInvalidRequest, s)
	}
}

// Terminal reports whether the status ends a pipeline run.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusNeedsInput, SessionStatusCompleted:
		return true
	case SessionStatusDraft, SessionStatusInProgress:
		return false
	default:
		panic(fmt.Sprintf("session: unhandled status %q", string(s)))
	}
}

// CanTransition reports whether the pipeline may move a session from one status to another.
//
// Any settled status may start a run, including completed, so sessions can be re-run.
// A run in progress may only end in needs_input (recovery or success) or completed (success).
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionStatusDraft, SessionStatusNeedsInput, SessionStatusCompleted:
		return to == SessionStatusInProgress
	case SessionStatusInProgress:
		switch to {
		case SessionStatusNeedsInput, SessionStatusCompleted:
			return true
		case SessionStatusDraft, SessionStatusInProgress:
			return false
		default:
			panic(fmt.Sprintf("session: unhandled status %q", string(to)))
		}
	default:
		panic(fmt.Sprintf("session: unhandled status %q", string(from)))
	}
}

// TrainingSession is one analytical workflow owned by a user.
type TrainingSession struct {
	ID          string        `json:"id"`
	Domain      Domain        `json:"domain"`
	Title       string        `json:"title"`
	Objective   string        `json:"objective,omitempty"`
	Status      SessionStatus `json:"status"`
	Version     int64         `json:"version"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CreateSessionRequest is the request to create a session
type CreateSessionRequest struct {
	Domain      string     `json:"domain" binding:"required"`
	Title       string     `json:"title" binding:"required"`
	Objective   string     `json:"objective,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}
