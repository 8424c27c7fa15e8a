package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the processing state of a video job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
	JobCancelled  JobStatus = "cancelled"
)

// Valid status transitions:
// pending -> processing -> completed
//         \-> cancelled       \-> error -> pending (retry)
var validJobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobCancelled},
	JobProcessing: {JobCompleted, JobError, JobPending},
	JobCompleted:  {JobPending},
	JobError:      {JobPending},
	JobCancelled:  {},
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobError, JobCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobError, JobCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a job in this status still owns its
// (file path, params) slot for the uniqueness check.
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobProcessing
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	allowed, exists := validJobTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}

// Job priorities. Lower values are claimed first.
const (
	PriorityThumbnail = 1
	PriorityTransform = 2
)

var (
	ErrEmptyFilePath     = errors.New("file path cannot be empty")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is a durable record of a deferred video transformation.
type Job struct {
	ID          uuid.UUID
	FilePath    string
	ParamsJSON  string // normalized JSON, sorted keys
	CachePath   string
	Status      JobStatus
	Priority    int
	Progress    int
	ErrorText   string
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob creates a pending job for the given original and parameter record.
func NewJob(filePath string, params Params, cachePath string, priority, maxRetries int) (*Job, error) {
	if filePath == "" {
		return nil, ErrEmptyFilePath
	}
	return &Job{
		ID:         uuid.New(),
		FilePath:   filePath,
		ParamsJSON: params.NormalizedJSON(),
		CachePath:  cachePath,
		Status:     JobPending,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}, nil
}

// Params decodes the normalized parameter record stored on the job.
func (j *Job) Params() (Params, error) {
	return ParamsFromNormalizedJSON(j.ParamsJSON)
}

// TransitionTo attempts to change the job status.
func (j *Job) TransitionTo(next JobStatus) error {
	if !next.IsValid() {
		return ErrInvalidTransition
	}
	if !j.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	j.Status = next
	return nil
}

// CanRetry reports whether an errored job has retry budget left.
func (j *Job) CanRetry() bool {
	return j.Status == JobError && j.RetryCount < j.MaxRetries
}
