package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared between the provider client and the generation
// core's retry classification, and between stores and their callers.
var (
	ErrModelRateLimited = errors.New("model rate limited")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrJobNotFound      = errors.New("job not found")
	// ErrJobFinished rejects writes against a job already in a terminal
	// state. Completed, failed, and cancelled rows are immutable.
	ErrJobFinished = errors.New("job already in a terminal state")
)

// ErrorKind classifies pipeline failures for retry policy and the status
// read model.
type ErrorKind string

const (
	ErrExtraction  ErrorKind = "extraction_error"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrTimeout     ErrorKind = "timeout"
	ErrCancelled   ErrorKind = "cancelled"
	ErrProvider    ErrorKind = "provider_error"
	ErrValidation  ErrorKind = "validation_rejected"
	ErrPersistence ErrorKind = "persistence_error"
	ErrInternal    ErrorKind = "internal_error"
)

// Transient reports whether a kind is expected to sometimes succeed on retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrRateLimited, ErrTimeout, ErrProvider:
		return true
	}
	return false
}

// PipelineError tags a failure with its kind, the stage it occurred in, and
// optional structured details. It replaces exception-style signaling across
// stage boundaries.
type PipelineError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Details map[string]any
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps err with a kind and stage. Message falls back to
// err's text when empty.
func NewPipelineError(kind ErrorKind, stage, message string, err error) *PipelineError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Err: err}
}
