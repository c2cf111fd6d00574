// Package errors provides structured error types for the artifact pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline failure taxonomy.
var (
	ErrLLMTransient       = errors.New("llm transient failure")
	ErrLLMFatal           = errors.New("llm fatal failure")
	ErrLLMTimeout         = errors.New("llm deadline exceeded")
	ErrParseFailed        = errors.New("structured output parse failed")
	ErrSchemaViolation    = errors.New("parsed object violates declared shape")
	ErrPathTraversal      = errors.New("path escapes project root")
	ErrSubprocessFailed   = errors.New("generated entry point exited non-zero")
	ErrDeadlineExceeded   = errors.New("tester deadline exceeded")
	ErrCancelled          = errors.New("project cancelled")
	ErrProjectNotFound    = errors.New("project not found")
	ErrArchiveUnavailable = errors.New("archive not available")
)

// Kind is the stable error tag surfaced on terminal events.
type Kind string

const (
	KindLLMTransient     Kind = "LLM_TRANSIENT"
	KindLLMFatal         Kind = "LLM_FATAL"
	KindLLMTimeout       Kind = "LLM_TIMEOUT"
	KindParseFailed      Kind = "PARSE_FAILED"
	KindSchemaViolation  Kind = "SCHEMA_VIOLATION"
	KindPathTraversal    Kind = "PATH_TRAVERSAL"
	KindSubprocessFailed Kind = "SUBPROCESS_FAILED"
	KindDeadlineExceeded Kind = "DEADLINE_EXCEEDED"
	KindCancelled        Kind = "CANCELLED"
	KindUnknown          Kind = "UNKNOWN"
)

// PipelineError wraps a failure with the stage it occurred in and its kind tag.
type PipelineError struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s] %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s] %s", e.Stage, e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError creates a tagged pipeline error.
func NewPipelineError(kind Kind, stage, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// APIError represents an error from an external provider call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return true
		}
	}
	return errors.Is(err, ErrLLMTransient)
}

// IsOverloaded reports quota/overload signals that warrant a model fallback.
func IsOverloaded(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode == 529
	}
	return false
}

// KindOf maps an arbitrary error to its stable kind tag.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrLLMTransient):
		return KindLLMTransient
	case errors.Is(err, ErrLLMFatal):
		return KindLLMFatal
	case errors.Is(err, ErrLLMTimeout):
		return KindLLMTimeout
	case errors.Is(err, ErrParseFailed):
		return KindParseFailed
	case errors.Is(err, ErrSchemaViolation):
		return KindSchemaViolation
	case errors.Is(err, ErrPathTraversal):
		return KindPathTraversal
	case errors.Is(err, ErrSubprocessFailed):
		return KindSubprocessFailed
	case errors.Is(err, ErrDeadlineExceeded):
		return KindDeadlineExceeded
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindUnknown
	}
}
