// Package store persists jobs. The Postgres implementation backs
// deployments; the in-memory one backs tests and local runs without a
// database.
package store

import (
	"context"
	"sync"
	"time"

	"portfolio-pipeline/internal/models"
)

// JobStore is the persistence surface the API and pipeline depend on.
// Implementations must be safe for concurrent use. Writes against a job
// already in a terminal state return models.ErrJobFinished; completed,
// failed, and cancelled rows never change again.
type JobStore interface {
	// CreateJob inserts a pending job and returns it with timestamps set.
	CreateJob(ctx context.Context, job models.Job) (models.Job, error)
	// GetJob returns models.ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, id string) (models.Job, error)
	// MarkStarted records the processing start time.
	MarkStarted(ctx context.Context, id string) error
	// SetProgress commits a status/stage/progress checkpoint.
	SetProgress(ctx context.Context, id, status, stage string, progress int) error
	// MarkCompleted finalizes a successful job.
	MarkCompleted(ctx context.Context, id, portfolioID string, duration float64) error
	// MarkFailed finalizes a failed job with its error block.
	MarkFailed(ctx context.Context, id, stage, kind, message string, details map[string]any) error
	// MarkCancelled finalizes a cancelled job.
	MarkCancelled(ctx context.Context, id string) error
}

// Memory is a mutex-guarded JobStore for tests and database-free runs.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]models.Job), now: time.Now}
}

func (m *Memory) CreateJob(_ context.Context, job models.Job) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	job.Status = models.StatusPending
	job.Progress = models.ProgressPending
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return job, nil
}

func (m *Memory) MarkStarted(_ context.Context, id string) error {
	return m.update(id, func(job *models.Job) {
		started := m.now().UTC()
		job.StartedAt = &started
		job.Status = models.StatusProcessing
		job.Progress = models.ProgressStarted
	})
}

func (m *Memory) SetProgress(_ context.Context, id, status, stage string, progress int) error {
	return m.update(id, func(job *models.Job) {
		job.Status = status
		job.CurrentStage = stage
		job.Progress = progress
	})
}

func (m *Memory) MarkCompleted(_ context.Context, id, portfolioID string, duration float64) error {
	return m.update(id, func(job *models.Job) {
		done := m.now().UTC()
		job.Status = models.StatusCompleted
		job.Progress = models.ProgressCompleted
		job.PortfolioID = &portfolioID
		job.CompletedAt = &done
		job.DurationSeconds = &duration
		job.ErrorKind = ""
		job.ErrorMessage = ""
		job.ErrorDetails = nil
	})
}

func (m *Memory) MarkFailed(_ context.Context, id, stage, kind, message string, details map[string]any) error {
	return m.update(id, func(job *models.Job) {
		done := m.now().UTC()
		job.Status = models.StatusFailed
		job.CurrentStage = stage
		job.ErrorKind = kind
		job.ErrorMessage = message
		job.ErrorDetails = details
		job.CompletedAt = &done
	})
}

func (m *Memory) MarkCancelled(_ context.Context, id string) error {
	return m.update(id, func(job *models.Job) {
		done := m.now().UTC()
		job.Status = models.StatusCancelled
		job.CompletedAt = &done
	})
}

func (m *Memory) update(id string, fn func(*models.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if models.Terminal(job.Status) {
		return models.ErrJobFinished
	}
	fn(&job)
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return nil
}
