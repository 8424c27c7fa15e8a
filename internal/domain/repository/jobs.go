package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/openinary/openinary/internal/domain/model"
)

// JobStats holds per-status counts for queue introspection.
type JobStats struct {
	Pending    int
	Processing int
	Completed  int
	Error      int
	Cancelled  int
}

// Total returns the number of jobs across all statuses.
func (s JobStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Error + s.Cancelled
}

// JobStore defines the interface for the durable video job queue.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type JobStore interface {
	// Create inserts a pending job, unless an active (pending or processing)
	// job already exists for the same (file path, normalized params) key, in
	// which case the existing job is returned.
	Create(ctx context.Context, job *model.Job) (*model.Job, error)

	// ClaimNext atomically selects the top pending job ordered by
	// (priority asc, created_at asc) and marks it processing. This is the
	// only legal way to consume work from the queue.
	// Returns ErrNoPendingJobs when the queue is empty.
	ClaimNext(ctx context.Context) (*model.Job, error)

	// Update sets the job status. Progress and errText are applied when
	// non-nil; terminal statuses also set completed_at.
	Update(ctx context.Context, id uuid.UUID, status model.JobStatus, progress *int, errText *string) error

	// GetByID retrieves a job by id.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error)

	// GetByKey retrieves the most recent job for a (file path, normalized
	// params) pair. Returns ErrJobNotFound if none exists.
	GetByKey(ctx context.Context, filePath, paramsJSON string) (*model.Job, error)

	// List returns jobs ordered by creation time descending, newest first.
	List(ctx context.Context, limit int) ([]*model.Job, error)

	// Stats returns job counts by status.
	Stats(ctx context.Context) (JobStats, error)

	// Retry resets an errored job with remaining retry budget back to
	// pending and increments its retry count.
	// Returns ErrJobNotRetryable otherwise.
	Retry(ctx context.Context, id uuid.UUID) error

	// Cancel marks a pending job cancelled.
	// Returns ErrJobNotCancellable if the job is not pending.
	Cancel(ctx context.Context, id uuid.UUID) error

	// Delete removes a job row.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByFilePath removes every job for the given original and returns
	// the number of rows deleted.
	DeleteByFilePath(ctx context.Context, filePath string) (int, error)

	// ResetOrphans rewrites every processing row back to pending. Called at
	// worker startup; processing rows belong to a prior crashed process.
	ResetOrphans(ctx context.Context) (int, error)

	// Cleanup purges terminal jobs older than the retention window and
	// returns the number of rows deleted.
	Cleanup(ctx context.Context, olderThanHours int) (int, error)
}
