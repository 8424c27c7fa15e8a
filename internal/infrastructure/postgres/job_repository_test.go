package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
)

var jobColumnNames = []string{
	"id", "file_path", "params_json", "cache_path", "status", "priority",
	"progress", "error_text", "retry_count", "max_retries", "created_at",
	"started_at", "completed_at",
}

func newTestJob(t *testing.T) *model.Job {
	t.Helper()
	job, err := model.NewJob(
		"videos/clip.mp4",
		model.Params{Width: 1280, Height: 720},
		"cache/abc123.mp4",
		model.PriorityTransform,
		3,
	)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func jobRow(job *model.Job) *pgxmock.Rows {
	return pgxmock.NewRows(jobColumnNames).AddRow(
		job.ID, job.FilePath, job.ParamsJSON, job.CachePath,
		job.Status.String(), job.Priority, job.Progress,
		nilIfEmpty(job.ErrorText), job.RetryCount, job.MaxRetries,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func TestJobRepository_Create_Inserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	job := newTestJob(t)
	mock.ExpectExec("INSERT INTO video_jobs").
		WithArgs(
			job.ID, job.FilePath, job.ParamsJSON, job.CachePath,
			model.JobPending.String(), job.Priority, job.MaxRetries,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewJobRepository(mock)
	created, err := repo.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != job.ID {
		t.Errorf("created.ID = %v, want %v", created.ID, job.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJobRepository_Create_ReusesActiveJob(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	job := newTestJob(t)
	existing := newTestJob(t)
	existing.Status = model.JobProcessing

	// Conditional insert touches no rows, so the active job is looked up.
	mock.ExpectExec("INSERT INTO video_jobs").
		WithArgs(
			job.ID, job.FilePath, job.ParamsJSON, job.CachePath,
			model.JobPending.String(), job.Priority, job.MaxRetries,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT .* FROM video_jobs").
		WithArgs(job.FilePath, job.ParamsJSON).
		WillReturnRows(jobRow(existing))

	repo := NewJobRepository(mock)
	got, err := repo.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != existing.ID {
		t.Errorf("got.ID = %v, want existing job %v", got.ID, existing.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJobRepository_Create_BoundedRetry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	job := newTestJob(t)

	// The insert keeps being skipped while the lookup keeps missing; Create
	// must give up after one extra round instead of retrying forever.
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO video_jobs").
			WithArgs(
				job.ID, job.FilePath, job.ParamsJSON, job.CachePath,
				model.JobPending.String(), job.Priority, job.MaxRetries,
				pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("SELECT .* FROM video_jobs").
			WithArgs(job.FilePath, job.ParamsJSON).
			WillReturnError(pgx.ErrNoRows)
	}

	repo := NewJobRepository(mock)
	if _, err := repo.Create(context.Background(), job); err == nil {
		t.Fatal("expected an error once the retry budget is spent")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJobRepository_ClaimNext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	job := newTestJob(t)
	job.Status = model.JobProcessing
	now := time.Now()
	job.StartedAt = &now

	mock.ExpectQuery("UPDATE video_jobs").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(jobRow(job))

	repo := NewJobRepository(mock)
	claimed, err := repo.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.Status != model.JobProcessing {
		t.Errorf("status = %v, want processing", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt should be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJobRepository_ClaimNext_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("UPDATE video_jobs").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	repo := NewJobRepository(mock)
	_, err = repo.ClaimNext(context.Background())
	if !errors.Is(err, repository.ErrNoPendingJobs) {
		t.Errorf("expected ErrNoPendingJobs, got %v", err)
	}
}

func TestJobRepository_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	progress := 100
	mock.ExpectExec("UPDATE video_jobs").
		WithArgs(id, model.JobCompleted.String(), &progress, (*string)(nil), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewJobRepository(mock)
	if err := repo.Update(context.Background(), id, model.JobCompleted, &progress, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJobRepository_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE video_jobs").
		WithArgs(id, model.JobError.String(), (*int)(nil), pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewJobRepository(mock)
	errText := "boom"
	err = repo.Update(context.Background(), id, model.JobError, nil, &errText)
	if !errors.Is(err, repository.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobRepository_Retry(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      error
	}{
		{"retryable", 1, nil},
		{"not retryable", 0, repository.ErrJobNotRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("pgxmock.NewPool: %v", err)
			}
			defer mock.Close()

			id := uuid.New()
			mock.ExpectExec("UPDATE video_jobs").
				WithArgs(id).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.rowsAffected))

			repo := NewJobRepository(mock)
			err = repo.Retry(context.Background(), id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Retry error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobRepository_Cancel_NotPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE video_jobs").
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewJobRepository(mock)
	err = repo.Cancel(context.Background(), id)
	if !errors.Is(err, repository.ErrJobNotCancellable) {
		t.Errorf("expected ErrJobNotCancellable, got %v", err)
	}
}

func TestJobRepository_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 3).
		AddRow("processing", 1).
		AddRow("completed", 10).
		AddRow("error", 2)
	mock.ExpectQuery("SELECT status, COUNT").WillReturnRows(rows)

	repo := NewJobRepository(mock)
	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	want := repository.JobStats{Pending: 3, Processing: 1, Completed: 10, Error: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if stats.Total() != 16 {
		t.Errorf("Total = %d, want 16", stats.Total())
	}
}

func TestJobRepository_ResetOrphans(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("UPDATE video_jobs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	repo := NewJobRepository(mock)
	n, err := repo.ResetOrphans(context.Background())
	if err != nil {
		t.Fatalf("ResetOrphans: %v", err)
	}
	if n != 2 {
		t.Errorf("reset = %d, want 2", n)
	}
}

func TestJobRepository_GetByKey_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM video_jobs").
		WithArgs("videos/x.mp4", "{}").
		WillReturnError(pgx.ErrNoRows)

	repo := NewJobRepository(mock)
	_, err = repo.GetByKey(context.Background(), "videos/x.mp4", "{}")
	if !errors.Is(err, repository.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobRepository_Cleanup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("DELETE FROM video_jobs").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	repo := NewJobRepository(mock)
	n, err := repo.Cleanup(context.Background(), 24)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 5 {
		t.Errorf("purged = %d, want 5", n)
	}
}
