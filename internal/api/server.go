package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"portfolio-pipeline/internal/config"
	"portfolio-pipeline/internal/models"
	"portfolio-pipeline/internal/pipeline"
	"portfolio-pipeline/internal/store"
	"portfolio-pipeline/internal/telemetry"
)

// Server wires the HTTP surface: upload intake, status reads, and
// cancellation. Each accepted upload dispatches exactly one pipeline
// goroutine, bounded by the concurrent-jobs semaphore.
type Server struct {
	cfg    config.Config
	store  store.JobStore
	runner *pipeline.Runner
	slots  *semaphore.Weighted
	log    zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs the API server.
func New(cfg config.Config, st store.JobStore, runner *pipeline.Runner, log zerolog.Logger) *Server {
	maxJobs := int64(cfg.MaxConcurrentJobs)
	if maxJobs < 1 {
		maxJobs = 1
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		runner:  runner,
		slots:   semaphore.NewWeighted(maxJobs),
		log:     log.With().Str("component", "api").Logger(),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleUpload)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/status", s.handleGetStatus)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "upload too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		http.Error(w, "uploaded file is empty", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	job, err := s.store.CreateJob(r.Context(), models.Job{
		ID:               uuid.New().String(),
		UserID:           r.Header.Get("X-User-ID"),
		OriginalFilename: header.Filename,
		FileSize:         int64(len(data)),
		FileType:         contentType,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("create job")
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}
	telemetry.JobsSubmitted.Inc()

	s.dispatch(job.ID, pipeline.Document{Data: data, ContentType: contentType})

	writeJSON(w, http.StatusAccepted, job.ReadModel())
}

// dispatch runs the pipeline for a job in its own goroutine. The job
// waits in pending until a semaphore slot frees up, so a burst of
// uploads cannot oversubscribe the provider budget.
func (s *Server) dispatch(jobID string, doc pipeline.Document) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, jobID)
			s.mu.Unlock()
			cancel()
		}()

		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.slots.Release(1)

		_ = s.runner.Run(ctx, jobID, doc)
	}()
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job.ReadModel())
}

// handleGetStatus is the light polling variant: no error details, no
// portfolio reference.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":              job.ID,
		"status":              job.Status,
		"progress_percentage": job.Progress,
		"current_stage":       job.CurrentStage,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if models.Terminal(job.Status) {
		http.Error(w, "job already finished", http.StatusConflict)
		return
	}

	s.mu.Lock()
	cancel := s.cancels[job.ID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := s.store.MarkCancelled(r.Context(), job.ID); err != nil {
		// The job may have reached a terminal state between the lookup
		// and the write; that is a conflict, not a server error.
		if errors.Is(err, models.ErrJobFinished) {
			http.Error(w, "job already finished", http.StatusConflict)
			return
		}
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("mark cancelled")
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	telemetry.JobsCancelled.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": models.StatusCancelled})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, models.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return models.Job{}, false
	}
	if err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("load job")
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return models.Job{}, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
