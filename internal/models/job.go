package models

import (
	"time"
)

// Job lifecycle states persisted in the job store and serialized on the API.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusExtracting = "ocr_extracting"
	StatusGenerating = "ai_generating"
	StatusValidating = "validating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Stage labels recorded in current_stage for diagnostics.
const (
	StageExtraction = "text_extraction"
	StageGeneration = "ai_generation"
	StageValidation = "validation"
	StageSaving     = "saving_portfolio"
)

// Progress checkpoints committed at each stage transition. Monotonic; 100
// is reached only at completion.
const (
	ProgressPending    = 0
	ProgressStarted    = 5
	ProgressExtracting = 10
	ProgressGenerating = 20
	ProgressValidating = 50
	ProgressSaving     = 90
	ProgressCompleted  = 100
)

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Job is the unit of work driven through the pipeline. A job is mutated only
// by the single runner goroutine that owns it; the store provides write
// atomicity for concurrent readers.
type Job struct {
	ID               string         `json:"job_id"`
	UserID           string         `json:"user_id"`
	Status           string         `json:"status"`
	Progress         int            `json:"progress_percentage"`
	CurrentStage     string         `json:"current_stage,omitempty"`
	ErrorKind        string         `json:"error_kind,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorDetails     map[string]any `json:"error_details,omitempty"`
	OriginalFilename string         `json:"original_filename,omitempty"`
	FileSize         int64          `json:"file_size,omitempty"`
	FileType         string         `json:"file_type,omitempty"`
	PortfolioID      *string        `json:"portfolio_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds  *float64       `json:"duration_seconds,omitempty"`
}

// StatusError is the error block of the status read model.
type StatusError struct {
	Kind       string         `json:"kind,omitempty"`
	Message    string         `json:"message"`
	Stage      string         `json:"stage,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// StatusResponse is the caller-facing read model for a job.
type StatusResponse struct {
	JobID           string       `json:"job_id"`
	Status          string       `json:"status"`
	Progress        int          `json:"progress_percentage"`
	CurrentStage    string       `json:"current_stage,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	Error           *StatusError `json:"error,omitempty"`
	PortfolioID     *string      `json:"portfolio_id,omitempty"`
}

// ReadModel builds the status response for a job, including a per-stage
// recovery suggestion when the job has failed.
func (j Job) ReadModel() StatusResponse {
	resp := StatusResponse{
		JobID:           j.ID,
		Status:          j.Status,
		Progress:        j.Progress,
		CurrentStage:    j.CurrentStage,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		DurationSeconds: j.DurationSeconds,
	}
	if j.Status == StatusFailed {
		resp.Error = &StatusError{
			Kind:       j.ErrorKind,
			Message:    j.ErrorMessage,
			Stage:      j.CurrentStage,
			Details:    j.ErrorDetails,
			Suggestion: failureSuggestion(j.CurrentStage),
		}
	}
	if j.Status == StatusCompleted {
		resp.PortfolioID = j.PortfolioID
	}
	return resp
}

func failureSuggestion(stage string) string {
	switch stage {
	case StageExtraction:
		return "The file may be corrupted or unreadable. Try a different file with clear, readable text."
	case StageGeneration:
		return "Content generation failed. This may be due to service limits; try again in a few moments."
	case StageSaving:
		return "Saving the portfolio failed. Try uploading the document again."
	default:
		return "Try uploading the document again. If the problem persists, contact support."
	}
}
