package repository

import "errors"

var (
	// ErrObjectNotFound is returned when an object cannot be found in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoPendingJobs is returned by ClaimNext when the queue is empty.
	ErrNoPendingJobs = errors.New("no pending jobs")

	// ErrJobNotRetryable is returned when retrying a job that is not in a
	// retryable state or has exhausted its retry budget.
	ErrJobNotRetryable = errors.New("job is not retryable")

	// ErrJobNotCancellable is returned when cancelling a job that is not pending.
	ErrJobNotCancellable = errors.New("job is not cancellable")
)
