package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `
	id, file_path, params_json, cache_path, status, priority, progress,
	error_text, retry_count, max_retries, created_at, started_at, completed_at
`

// JobRepository implements repository.JobStore using PostgreSQL.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository instance.
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a pending job unless an active job already exists for the
// same (file_path, params_json) key. The conditional insert and the fallback
// lookup keep the at-most-one-active invariant without a schema constraint.
func (r *JobRepository) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	const query = `
		INSERT INTO video_jobs (
			id, file_path, params_json, cache_path, status, priority,
			progress, retry_count, max_retries, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6, 0, 0, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM video_jobs
			WHERE file_path = $2 AND params_json = $3
			  AND status IN ('pending', 'processing')
		)
	`

	// The conditional insert can race the active job finishing before the
	// fallback lookup; one extra round resolves that, a second miss is a
	// real failure.
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := r.db.Exec(ctx, query,
			job.ID,
			job.FilePath,
			job.ParamsJSON,
			job.CachePath,
			model.JobPending.String(),
			job.Priority,
			job.MaxRetries,
			job.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return job, nil
		}

		// An active job already holds the slot; reuse it.
		existing, err := r.activeByKey(ctx, job.FilePath, job.ParamsJSON)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrJobNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to create job for %s: insert skipped with no active job", job.FilePath)
}

// ClaimNext atomically claims the top pending job. The claim is a single
// UPDATE over a SKIP LOCKED sub-select, so no two workers can claim the
// same row.
func (r *JobRepository) ClaimNext(ctx context.Context) (*model.Job, error) {
	const query = `
		UPDATE video_jobs
		SET status = 'processing', started_at = $1
		WHERE id = (
			SELECT id FROM video_jobs
			WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := r.scanJob(r.db.QueryRow(ctx, query, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNoPendingJobs
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// Update sets the job status; progress and errText apply when non-nil.
// Terminal statuses also stamp completed_at.
func (r *JobRepository) Update(ctx context.Context, id uuid.UUID, status model.JobStatus, progress *int, errText *string) error {
	const query = `
		UPDATE video_jobs
		SET status = $2,
		    progress = COALESCE($3, progress),
		    error_text = COALESCE($4, error_text),
		    completed_at = CASE WHEN $5 THEN $6 ELSE completed_at END
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, status.String(), progress, errText, status.IsTerminal(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// GetByID retrieves a job by its unique identifier.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1`

	job, err := r.scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by ID: %w", err)
	}
	return job, nil
}

// GetByKey retrieves the most recent job for a (file_path, params) pair.
func (r *JobRepository) GetByKey(ctx context.Context, filePath, paramsJSON string) (*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM video_jobs
		WHERE file_path = $1 AND params_json = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := r.scanJob(r.db.QueryRow(ctx, query, filePath, paramsJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by key: %w", err)
	}
	return job, nil
}

func (r *JobRepository) activeByKey(ctx context.Context, filePath, paramsJSON string) (*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM video_jobs
		WHERE file_path = $1 AND params_json = $2
		  AND status IN ('pending', 'processing')
		ORDER BY created_at ASC
		LIMIT 1
	`

	job, err := r.scanJob(r.db.QueryRow(ctx, query, filePath, paramsJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return job, nil
}

// List returns jobs ordered by creation time descending.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM video_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns job counts by status.
func (r *JobRepository) Stats(ctx context.Context) (repository.JobStats, error) {
	const query = `SELECT status, COUNT(*) FROM video_jobs GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return repository.JobStats{}, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	var stats repository.JobStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return repository.JobStats{}, fmt.Errorf("failed to scan job stats: %w", err)
		}
		switch model.JobStatus(status) {
		case model.JobPending:
			stats.Pending = count
		case model.JobProcessing:
			stats.Processing = count
		case model.JobCompleted:
			stats.Completed = count
		case model.JobError:
			stats.Error = count
		case model.JobCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return repository.JobStats{}, fmt.Errorf("error iterating job stats: %w", err)
	}
	return stats, nil
}

// Retry resets an errored job with remaining budget back to pending.
func (r *JobRepository) Retry(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE video_jobs
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    error_text = NULL,
		    progress = 0,
		    started_at = NULL,
		    completed_at = NULL
		WHERE id = $1 AND status = 'error' AND retry_count < max_retries
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotRetryable
	}
	return nil
}

// Cancel marks a pending job cancelled.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE video_jobs
		SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotCancellable
	}
	return nil
}

// Delete removes a job row.
func (r *JobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM video_jobs WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// DeleteByFilePath removes every job for the given original.
func (r *JobRepository) DeleteByFilePath(ctx context.Context, filePath string) (int, error) {
	const query = `DELETE FROM video_jobs WHERE file_path = $1`

	tag, err := r.db.Exec(ctx, query, filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs by file path: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetOrphans rewrites every processing row back to pending. Processing
// rows at startup belong to a prior crashed process.
func (r *JobRepository) ResetOrphans(ctx context.Context) (int, error) {
	const query = `
		UPDATE video_jobs
		SET status = 'pending', started_at = NULL, progress = 0
		WHERE status = 'processing'
	`

	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset orphan jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Cleanup purges terminal jobs older than the retention window.
func (r *JobRepository) Cleanup(ctx context.Context, olderThanHours int) (int, error) {
	const query = `
		DELETE FROM video_jobs
		WHERE status IN ('completed', 'error', 'cancelled')
		  AND created_at < $1
	`

	cutoff := time.Now().Add(-time.Duration(olderThanHours) * time.Hour)
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanJob scans a single row into a Job model.
func (r *JobRepository) scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job         model.Job
		status      string
		errorText   *string
		startedAt   *time.Time
		completedAt *time.Time
	)

	err := row.Scan(
		&job.ID,
		&job.FilePath,
		&job.ParamsJSON,
		&job.CachePath,
		&status,
		&job.Priority,
		&job.Progress,
		&errorText,
		&job.RetryCount,
		&job.MaxRetries,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	if errorText != nil {
		job.ErrorText = *errorText
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	return &job, nil
}

// Compile-time verification that JobRepository implements repository.JobStore.
var _ repository.JobStore = (*JobRepository)(nil)
