package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/infrastructure/cache"
	"github.com/openinary/openinary/internal/infrastructure/metrics"
	"github.com/openinary/openinary/internal/transform"
)

// InvalidationResult reports per-tier deletion counts. Tiers fail
// independently; errors are collected, never fatal.
type InvalidationResult struct {
	LocalDeleted     int      `json:"local_deleted"`
	RemoteDeleted    int      `json:"remote_deleted"`
	ExistenceCleared int      `json:"existence_cleared"`
	Errors           []string `json:"errors,omitempty"`
}

// Invalidator removes every derived artifact of an original across tiers.
type Invalidator interface {
	Invalidate(ctx context.Context, filePath string) (*InvalidationResult, error)
}

type invalidationService struct {
	storage   repository.ObjectStorage
	existence *cache.ExistenceCache
	disk      *cache.DiskCache
	policy    *cache.Policy
}

// NewInvalidationService creates the cache invalidator.
func NewInvalidationService(
	storage repository.ObjectStorage,
	existence *cache.ExistenceCache,
	disk *cache.DiskCache,
	policy *cache.Policy,
) Invalidator {
	return &invalidationService{
		storage:   storage,
		existence: existence,
		disk:      disk,
		policy:    policy,
	}
}

// Invalidate sweeps the disk tier by safe stem, the remote tier by the
// x-original-path tag, and the existence memoization by deleted key.
func (s *invalidationService) Invalidate(ctx context.Context, filePath string) (*InvalidationResult, error) {
	result := &InvalidationResult{}
	stem := transform.SafeStem(filePath)

	n, err := s.disk.DeleteMatching(stem)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("local: %v", err))
	}
	result.LocalDeleted = n
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeDisk).Add(float64(n))

	keys, err := s.remoteKeysFor(ctx, filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("remote list: %v", err))
	}
	if len(keys) > 0 {
		deleted, err := s.storage.DeleteMany(ctx, keys)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remote delete: %v", err))
		}
		result.RemoteDeleted = deleted
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeRemote).Add(float64(deleted))

		for _, key := range keys {
			s.existence.Delete(key)
			result.ExistenceCleared++
		}
	}

	s.policy.Forget(filePath)

	slog.Info("invalidated derived artifacts",
		"file_path", filePath,
		"local", result.LocalDeleted,
		"remote", result.RemoteDeleted,
		"errors", len(result.Errors),
	)
	return result, nil
}

// remoteKeysFor lists the cache prefix and keeps objects whose original-path
// tag matches.
func (s *invalidationService) remoteKeysFor(ctx context.Context, filePath string) ([]string, error) {
	objects, err := s.storage.List(ctx, transform.RemoteCachePrefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, obj := range objects {
		info := &obj
		if len(obj.Metadata) == 0 {
			info, err = s.storage.Stat(ctx, obj.Key)
			if err != nil {
				continue
			}
		}
		if info.Metadata[transform.MetadataOriginalPath] == filePath {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// DeleteResult reports the steps of an asset delete cascade.
type DeleteResult struct {
	JobsDeleted     int                 `json:"jobs_deleted"`
	Invalidation    *InvalidationResult `json:"invalidation"`
	OriginalDeleted bool                `json:"original_deleted"`
	Errors          []string            `json:"errors,omitempty"`
}

// AssetDeleter removes an original together with its jobs and artifacts.
type AssetDeleter interface {
	DeleteAsset(ctx context.Context, filePath string) (*DeleteResult, error)
}

type assetService struct {
	storage   repository.ObjectStorage
	jobs      repository.JobStore
	existence *cache.ExistenceCache
	inv       Invalidator
	publicDir string
}

// NewAssetService creates the asset delete cascade.
func NewAssetService(
	storage repository.ObjectStorage,
	jobs repository.JobStore,
	existence *cache.ExistenceCache,
	inv Invalidator,
	publicDir string,
) AssetDeleter {
	return &assetService{
		storage:   storage,
		jobs:      jobs,
		existence: existence,
		inv:       inv,
		publicDir: publicDir,
	}
}

// DeleteAsset verifies the original exists, then deletes jobs, derived
// artifacts, and finally the original itself. Partial success is reported
// rather than aborted.
func (s *assetService) DeleteAsset(ctx context.Context, filePath string) (*DeleteResult, error) {
	localPath := filepath.Join(s.publicDir, filePath)
	localExists := false
	if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
		localExists = true
	}
	remoteExists, err := s.storage.Exists(ctx, transform.OriginalKey(filePath))
	if err != nil {
		return nil, fmt.Errorf("probe original: %w", err)
	}
	if !localExists && !remoteExists {
		return nil, fmt.Errorf("%w: %s", ErrOriginalNotFound, filePath)
	}

	result := &DeleteResult{}

	n, err := s.jobs.DeleteByFilePath(ctx, filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("jobs: %v", err))
	}
	result.JobsDeleted = n

	inv, err := s.inv.Invalidate(ctx, filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("invalidate: %v", err))
	}
	result.Invalidation = inv

	if remoteExists {
		if err := s.storage.Delete(ctx, transform.OriginalKey(filePath)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remote original: %v", err))
		} else {
			result.OriginalDeleted = true
		}
	}
	if localExists {
		if err := os.Remove(localPath); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("local original: %v", err))
		} else {
			result.OriginalDeleted = true
		}
	}

	s.existence.Delete(transform.OriginalKey(filePath))

	slog.Info("deleted asset",
		"file_path", filePath,
		"jobs", result.JobsDeleted,
		"original_deleted", result.OriginalDeleted,
		"errors", len(result.Errors),
	)
	return result, nil
}
