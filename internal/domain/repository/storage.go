package repository

import (
	"context"
	"io"
	"time"
)

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	// Metadata holds custom object tags, e.g. the original path a derived
	// artifact was produced from.
	Metadata map[string]string
}

// ObjectStorage defines the interface for object storage operations.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
// Operations do not retry; retrying is at the caller's discretion.
type ObjectStorage interface {
	// Exists checks if an object exists in the storage.
	Exists(ctx context.Context, key string) (bool, error)

	// Download retrieves an object from the storage.
	// Caller is responsible for closing the returned ReadCloser.
	// Returns ErrObjectNotFound if the key does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Upload stores an object with the given content type and custom metadata.
	// Derived artifacts carry a long-lived cache-control header.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error

	// Stat returns object metadata including custom tags.
	// Returns nil, ErrObjectNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns key and size for every object under prefix, paginating
	// transparently over any continuation token.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes a single object.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes the given keys, batched at 1000 per call, and
	// returns the number of objects actually deleted.
	DeleteMany(ctx context.Context, keys []string) (int, error)
}
