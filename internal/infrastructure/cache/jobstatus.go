package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/infrastructure/metrics"
)

const (
	// jobStatusKeyPrefix is the prefix for job status keys in Redis.
	jobStatusKeyPrefix = "jobstatus:"

	// DefaultJobStatusTTL keeps polled job status hot without letting the
	// cache lag far behind the database.
	DefaultJobStatusTTL = 5 * time.Second
)

// jobJSON is the JSON representation of a Job for caching.
// Using explicit struct avoids coupling to domain model's JSON tags.
type jobJSON struct {
	ID          string  `json:"id"`
	FilePath    string  `json:"file_path"`
	ParamsJSON  string  `json:"params_json"`
	CachePath   string  `json:"cache_path"`
	Status      string  `json:"status"`
	Priority    int     `json:"priority"`
	Progress    int     `json:"progress"`
	ErrorText   string  `json:"error_text"`
	RetryCount  int     `json:"retry_count"`
	MaxRetries  int     `json:"max_retries"`
	CreatedAt   string  `json:"created_at"`
	StartedAt   *string `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

// jobLookup is the subset of the job store consulted by polling endpoints.
type jobLookup interface {
	GetByKey(ctx context.Context, filePath, paramsJSON string) (*model.Job, error)
}

// JobStatusCache serves job status lookups for the polling endpoints
// (/video-status, queue introspection) through a short-TTL Redis tier with
// singleflight coalescing, keeping poll storms off Postgres. client may be
// nil, in which case every lookup goes straight to the store.
type JobStatusCache struct {
	client  *redis.Client
	store   jobLookup
	sfGroup singleflight.Group
	ttl     time.Duration
}

// NewJobStatusCache creates a job status cache over the given store.
func NewJobStatusCache(client *redis.Client, store jobLookup, ttl time.Duration) *JobStatusCache {
	if ttl <= 0 {
		ttl = DefaultJobStatusTTL
	}
	return &JobStatusCache{
		client: client,
		store:  store,
		ttl:    ttl,
	}
}

// Lookup returns the most recent job for a (file path, normalized params)
// pair, cache-aside. Concurrent lookups for the same key are coalesced.
func (c *JobStatusCache) Lookup(ctx context.Context, filePath, paramsJSON string) (*model.Job, error) {
	if c.client == nil {
		return c.store.GetByKey(ctx, filePath, paramsJSON)
	}

	key := c.buildKey(filePath, paramsJSON)
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		return c.lookupWithCache(ctx, key, filePath, paramsJSON)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}
	return result.(*model.Job), nil
}

// Invalidate drops the cached status for a key. Called on every job state
// transition so polls observe the new state promptly.
func (c *JobStatusCache) Invalidate(ctx context.Context, filePath, paramsJSON string) {
	if c.client == nil {
		return
	}
	key := c.buildKey(filePath, paramsJSON)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("failed to invalidate job status cache",
			"file_path", filePath,
			"error", err,
		)
	}
}

func (c *JobStatusCache) lookupWithCache(ctx context.Context, key, filePath, paramsJSON string) (*model.Job, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		job, derr := deserializeJob(data)
		if derr == nil {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
			return job, nil
		}
		slog.Warn("failed to deserialize cached job status", "error", derr)
	} else if !errors.Is(err, redis.Nil) {
		// Cache error: fall through to the store.
		slog.Warn("job status cache get failed", "error", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()

	job, err := c.store.GetByKey(ctx, filePath, paramsJSON)
	if err != nil {
		return nil, err
	}

	if data, err := serializeJob(job); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Warn("failed to cache job status", "error", err)
		}
	}
	return job, nil
}

// buildKey hashes the lookup key; params JSON can be long and Redis keys
// should stay compact.
func (c *JobStatusCache) buildKey(filePath, paramsJSON string) string {
	sum := md5.Sum([]byte(filePath + "|" + paramsJSON))
	return jobStatusKeyPrefix + hex.EncodeToString(sum[:])
}

func serializeJob(job *model.Job) ([]byte, error) {
	j := jobJSON{
		ID:         job.ID.String(),
		FilePath:   job.FilePath,
		ParamsJSON: job.ParamsJSON,
		CachePath:  job.CachePath,
		Status:     job.Status.String(),
		Priority:   job.Priority,
		Progress:   job.Progress,
		ErrorText:  job.ErrorText,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339Nano),
	}
	if job.StartedAt != nil {
		s := job.StartedAt.Format(time.RFC3339Nano)
		j.StartedAt = &s
	}
	if job.CompletedAt != nil {
		s := job.CompletedAt.Format(time.RFC3339Nano)
		j.CompletedAt = &s
	}
	return json.Marshal(j)
}

func deserializeJob(data []byte) (*model.Job, error) {
	var j jobJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	job := &model.Job{
		ID:         id,
		FilePath:   j.FilePath,
		ParamsJSON: j.ParamsJSON,
		CachePath:  j.CachePath,
		Status:     model.JobStatus(j.Status),
		Priority:   j.Priority,
		Progress:   j.Progress,
		ErrorText:  j.ErrorText,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		CreatedAt:  createdAt,
	}
	if j.StartedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *j.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		job.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *j.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}

// Compile-time check against the store interface we decorate.
var _ jobLookup = (repository.JobStore)(nil)
