package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates rate limit exceeded
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrProviderUnavailable indicates a required provider client is not configured
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrStoreUnavailable indicates the vector store could not be reached
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrQuery indicates the vector store rejected or failed a query
	ErrQuery = errors.New("vector store query failed")
	// ErrSessionBusy indicates another run currently owns the session
	ErrSessionBusy = errors.New("session is busy")
	// ErrPersistence indicates a run record could not be written
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidTransition indicates a status change the state machine forbids
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// ProviderError wraps a failed call to an embedding or language model provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SynthesisStage names the model call that failed.
type SynthesisStage string

const (
	StageSummarize  SynthesisStage = "summarize"
	StageSynthesize SynthesisStage = "synthesize"
)

// SynthesisError is returned when either model call of the synthesis stage fails.
type SynthesisError struct {
	Stage SynthesisStage
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed at %s: %v", e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// MalformedProviderResponseError reports a model reply with no usable text block.
// Raw holds the serialized reply for diagnostics.
type MalformedProviderResponseError struct {
	Provider string
	Reason   string
	Raw      string
}

func (e *MalformedProviderResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Provider, e.Reason)
}
