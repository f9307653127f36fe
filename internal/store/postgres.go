package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"portfolio-pipeline/internal/models"
)

// Postgres wraps pgxpool for job persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) CreateJob(ctx context.Context, job models.Job) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, user_id, status, progress, original_filename, file_size, file_type, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`, job.ID, job.UserID, models.StatusPending, job.OriginalFilename, job.FileSize, job.FileType)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	job.Status = models.StatusPending
	job.Progress = models.ProgressPending
	return job, nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, progress, current_stage, error_kind, error_message, error_details,
		       original_filename, file_size, file_type, portfolio_id,
		       created_at, updated_at, started_at, completed_at, duration_seconds
		FROM jobs WHERE id = $1
	`, id)

	var (
		job          models.Job
		stage        pgtype.Text
		errKind      pgtype.Text
		errMessage   pgtype.Text
		errDetails   []byte
		filename     pgtype.Text
		fileType     pgtype.Text
		portfolioID  pgtype.Text
		startedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
		durationSecs pgtype.Float8
	)
	err := row.Scan(&job.ID, &job.UserID, &job.Status, &job.Progress, &stage, &errKind, &errMessage, &errDetails,
		&filename, &job.FileSize, &fileType, &portfolioID,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt, &durationSecs)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.CurrentStage = stage.String
	job.ErrorKind = errKind.String
	job.ErrorMessage = errMessage.String
	job.OriginalFilename = filename.String
	job.FileType = fileType.String
	if len(errDetails) > 0 {
		if err := json.Unmarshal(errDetails, &job.ErrorDetails); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	if portfolioID.Valid {
		job.PortfolioID = &portfolioID.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if durationSecs.Valid {
		job.DurationSeconds = &durationSecs.Float64
	}
	return job, nil
}

// notTerminal guards every UPDATE: terminal rows are immutable, so the
// cancel endpoint cannot flip a job that completed in the meantime.
const notTerminal = `status NOT IN ('completed', 'failed', 'cancelled')`

func (s *Postgres) MarkStarted(ctx context.Context, id string) error {
	return s.exec(ctx, `
		UPDATE jobs SET status = $2, progress = $3, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND `+notTerminal,
		id, models.StatusProcessing, models.ProgressStarted)
}

func (s *Postgres) SetProgress(ctx context.Context, id, status, stage string, progress int) error {
	return s.exec(ctx, `
		UPDATE jobs SET status = $2, current_stage = $3, progress = $4, updated_at = NOW()
		WHERE id = $1 AND `+notTerminal,
		id, status, stage, progress)
}

func (s *Postgres) MarkCompleted(ctx context.Context, id, portfolioID string, duration float64) error {
	return s.exec(ctx, `
		UPDATE jobs
		SET status = $2, progress = $3, portfolio_id = $4, duration_seconds = $5,
		    error_kind = NULL, error_message = NULL, error_details = NULL,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND `+notTerminal,
		id, models.StatusCompleted, models.ProgressCompleted, portfolioID, duration)
}

func (s *Postgres) MarkFailed(ctx context.Context, id, stage, kind, message string, details map[string]any) error {
	var detailsJSON []byte
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal error details: %w", err)
		}
	}
	return s.exec(ctx, `
		UPDATE jobs
		SET status = $2, current_stage = $3, error_kind = $4, error_message = $5, error_details = $6,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND `+notTerminal,
		id, models.StatusFailed, stage, kind, message, detailsJSON)
}

func (s *Postgres) MarkCancelled(ctx context.Context, id string) error {
	return s.exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND `+notTerminal,
		id, models.StatusCancelled)
}

// exec runs a guarded update. Zero affected rows means either the job does
// not exist or it already reached a terminal state; a status probe tells
// the two apart.
func (s *Postgres) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, args[0]).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("check job status: %w", err)
		}
		if models.Terminal(status) {
			return models.ErrJobFinished
		}
		return models.ErrJobNotFound
	}
	return nil
}
