// Package pipeline drives one job from uploaded document to saved
// portfolio. The runner owns every status transition; the API layer only
// creates jobs and cancels their contexts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"portfolio-pipeline/internal/artifact"
	"portfolio-pipeline/internal/extract"
	"portfolio-pipeline/internal/generate"
	"portfolio-pipeline/internal/models"
	"portfolio-pipeline/internal/quality"
	"portfolio-pipeline/internal/schema"
	"portfolio-pipeline/internal/store"
	"portfolio-pipeline/internal/telemetry"
)

// Document is the uploaded source a job processes.
type Document struct {
	Data        []byte
	ContentType string
}

// Options tune the runner.
type Options struct {
	// JobTimeout bounds one full run. Zero disables the bound.
	JobTimeout time.Duration
	// StrictValidation fails jobs whose aggregate quality score is below
	// the acceptance threshold instead of recording it and completing.
	StrictValidation bool
}

// Runner executes the job state machine: each stage commits its
// status/stage/progress checkpoint before doing the work, so a crashed
// run leaves an accurate last-known stage behind. Stages are never
// retried here; retry budgets live inside the generation core.
type Runner struct {
	store     store.JobStore
	extractor *extract.Extractor
	core      *generate.Core
	gate      *quality.Gate
	sink      artifact.Sink
	opts      Options
	log       zerolog.Logger
}

func NewRunner(st store.JobStore, ex *extract.Extractor, core *generate.Core, gate *quality.Gate, sink artifact.Sink, opts Options, log zerolog.Logger) *Runner {
	return &Runner{
		store:     st,
		extractor: ex,
		core:      core,
		gate:      gate,
		sink:      sink,
		opts:      opts,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Run processes one job to a terminal state. At most one Run per job id;
// dispatching exactly once is the caller's duty. The returned error
// reflects the terminal outcome and is already persisted.
func (r *Runner) Run(ctx context.Context, jobID string, doc Document) error {
	if r.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.JobTimeout)
		defer cancel()
	}

	log := r.log.With().Str("job_id", jobID).Logger()
	start := time.Now()
	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	if err := r.store.MarkStarted(ctx, jobID); err != nil {
		if errors.Is(err, models.ErrJobFinished) {
			log.Info().Msg("job finalized before the run started")
			return nil
		}
		log.Error().Err(err).Msg("mark job started")
		return err
	}

	portfolioID, err := r.run(ctx, jobID, doc, log)
	if err != nil {
		return r.finishFailure(ctx, jobID, err, log)
	}

	duration := time.Since(start).Seconds()
	if err := r.store.MarkCompleted(ctx, jobID, portfolioID, duration); err != nil {
		if errors.Is(err, models.ErrJobFinished) {
			log.Warn().Msg("job finalized during the run, dropping completion")
			return nil
		}
		log.Error().Err(err).Msg("mark job completed")
		return err
	}
	telemetry.JobsCompleted.Inc()
	log.Info().Str("portfolio_id", portfolioID).Float64("duration_s", duration).Msg("job completed")
	return nil
}

func (r *Runner) run(ctx context.Context, jobID string, doc Document, log zerolog.Logger) (string, error) {
	// Extraction.
	if err := r.checkpoint(ctx, jobID, models.StatusExtracting, models.StageExtraction, models.ProgressExtracting); err != nil {
		return "", err
	}
	text, err := r.extractor.Extract(ctx, doc.Data, doc.ContentType)
	if err != nil {
		return "", err
	}
	contentSchema := schema.Build(text)
	log.Debug().Str("name", contentSchema.Name).Int("projects", len(contentSchema.Projects)).Msg("schema built")

	// Generation.
	if err := r.checkpoint(ctx, jobID, models.StatusGenerating, models.StageGeneration, models.ProgressGenerating); err != nil {
		return "", err
	}
	portfolio, err := r.core.Generate(ctx, contentSchema)
	if err != nil {
		return "", err
	}

	// Validation.
	if err := r.checkpoint(ctx, jobID, models.StatusValidating, models.StageValidation, models.ProgressValidating); err != nil {
		return "", err
	}
	report := r.gate.Aggregate(portfolio, contentSchema)
	portfolio.Validation = &report
	if !report.Passed {
		telemetry.ValidationFailures.Inc()
		if r.opts.StrictValidation {
			return "", &models.PipelineError{
				Kind:    models.ErrValidation,
				Stage:   models.StageValidation,
				Message: fmt.Sprintf("portfolio quality score %.2f below acceptance threshold", report.Score),
				Details: map[string]any{"score": report.Score},
			}
		}
		log.Warn().Float64("score", report.Score).Msg("portfolio below quality threshold, completing anyway")
	}

	// Save.
	if err := r.checkpoint(ctx, jobID, models.StatusValidating, models.StageSaving, models.ProgressSaving); err != nil {
		return "", err
	}
	portfolioID := uuid.New().String()
	location, err := r.sink.Save(ctx, portfolioID, portfolio)
	if err != nil {
		return "", models.NewPipelineError(models.ErrPersistence, models.StageSaving, "saving portfolio failed", err)
	}
	log.Debug().Str("location", location).Msg("portfolio saved")
	return portfolioID, nil
}

// checkpoint commits the stage transition before the stage runs.
func (r *Runner) checkpoint(ctx context.Context, jobID, status, stage string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.store.SetProgress(ctx, jobID, status, stage, progress); err != nil {
		return models.NewPipelineError(models.ErrPersistence, stage, "committing stage transition failed", err)
	}
	return nil
}

// finishFailure persists the terminal state for a failed run. Cancelled
// jobs are finalized by the cancel endpoint, not here.
func (r *Runner) finishFailure(ctx context.Context, jobID string, runErr error, log zerolog.Logger) error {
	if errors.Is(runErr, context.Canceled) {
		telemetry.JobsCancelled.Inc()
		log.Info().Msg("job cancelled")
		return runErr
	}

	kind := models.ErrInternal
	stage := ""
	message := runErr.Error()
	var details map[string]any

	var perr *models.PipelineError
	switch {
	case errors.As(runErr, &perr):
		kind = perr.Kind
		stage = perr.Stage
		message = perr.Message
		details = perr.Details
	case errors.Is(runErr, context.DeadlineExceeded):
		kind = models.ErrTimeout
		message = "job exceeded its processing time budget"
	}

	// Persist with a fresh context: the run context may already be dead.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if stage == "" {
		if job, err := r.store.GetJob(storeCtx, jobID); err == nil {
			stage = job.CurrentStage
		}
	}
	if err := r.store.MarkFailed(storeCtx, jobID, stage, string(kind), message, details); err != nil {
		if errors.Is(err, models.ErrJobFinished) {
			log.Warn().Msg("job already finalized, skipping failure record")
			return runErr
		}
		log.Error().Err(err).Msg("mark job failed")
	}
	telemetry.JobsFailed.Inc()
	log.Error().Str("kind", string(kind)).Str("stage", stage).Msg(message)
	return runErr
}
