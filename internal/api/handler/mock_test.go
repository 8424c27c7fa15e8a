package handler

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/usecase"
)

type mockTransformService struct {
	transformFunc func(ctx context.Context, input usecase.TransformInput) (*usecase.TransformOutput, error)
	statusFunc    func(ctx context.Context, path string) (*model.Job, error)
}

var _ usecase.TransformService = (*mockTransformService)(nil)

func (m *mockTransformService) Transform(ctx context.Context, input usecase.TransformInput) (*usecase.TransformOutput, error) {
	return m.transformFunc(ctx, input)
}

func (m *mockTransformService) VideoStatus(ctx context.Context, path string) (*model.Job, error) {
	return m.statusFunc(ctx, path)
}

type mockUploadService struct {
	uploadFunc func(ctx context.Context, files []usecase.UploadFileInput) (*usecase.UploadOutput, error)
}

var _ usecase.UploadService = (*mockUploadService)(nil)

func (m *mockUploadService) Upload(ctx context.Context, files []usecase.UploadFileInput) (*usecase.UploadOutput, error) {
	return m.uploadFunc(ctx, files)
}

type mockAssetDeleter struct {
	deleteFunc func(ctx context.Context, filePath string) (*usecase.DeleteResult, error)
}

var _ usecase.AssetDeleter = (*mockAssetDeleter)(nil)

func (m *mockAssetDeleter) DeleteAsset(ctx context.Context, filePath string) (*usecase.DeleteResult, error) {
	return m.deleteFunc(ctx, filePath)
}

type mockInvalidator struct {
	invalidateFunc func(ctx context.Context, filePath string) (*usecase.InvalidationResult, error)
}

var _ usecase.Invalidator = (*mockInvalidator)(nil)

func (m *mockInvalidator) Invalidate(ctx context.Context, filePath string) (*usecase.InvalidationResult, error) {
	return m.invalidateFunc(ctx, filePath)
}

// mockStorage implements repository.ObjectStorage with function fields.
// Unset methods return zero values.
type mockStorage struct {
	existsFunc     func(ctx context.Context, key string) (bool, error)
	downloadFunc   func(ctx context.Context, key string) (io.ReadCloser, error)
	uploadFunc     func(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error
	statFunc       func(ctx context.Context, key string) (*repository.ObjectInfo, error)
	listFunc       func(ctx context.Context, prefix string) ([]repository.ObjectInfo, error)
	deleteFunc     func(ctx context.Context, key string) error
	deleteManyFunc func(ctx context.Context, keys []string) (int, error)
}

var _ repository.ObjectStorage = (*mockStorage)(nil)

func (m *mockStorage) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFunc == nil {
		return false, nil
	}
	return m.existsFunc(ctx, key)
}

func (m *mockStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.downloadFunc == nil {
		return nil, repository.ErrObjectNotFound
	}
	return m.downloadFunc(ctx, key)
}

func (m *mockStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error {
	if m.uploadFunc == nil {
		return nil
	}
	return m.uploadFunc(ctx, key, reader, size, contentType, metadata)
}

func (m *mockStorage) Stat(ctx context.Context, key string) (*repository.ObjectInfo, error) {
	if m.statFunc == nil {
		return nil, repository.ErrObjectNotFound
	}
	return m.statFunc(ctx, key)
}

func (m *mockStorage) List(ctx context.Context, prefix string) ([]repository.ObjectInfo, error) {
	if m.listFunc == nil {
		return nil, nil
	}
	return m.listFunc(ctx, prefix)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	if m.deleteFunc == nil {
		return nil
	}
	return m.deleteFunc(ctx, key)
}

func (m *mockStorage) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if m.deleteManyFunc == nil {
		return 0, nil
	}
	return m.deleteManyFunc(ctx, keys)
}

// mockJobStore implements repository.JobStore with function fields.
type mockJobStore struct {
	createFunc           func(ctx context.Context, job *model.Job) (*model.Job, error)
	claimNextFunc        func(ctx context.Context) (*model.Job, error)
	updateFunc           func(ctx context.Context, id uuid.UUID, status model.JobStatus, progress *int, errText *string) error
	getByIDFunc          func(ctx context.Context, id uuid.UUID) (*model.Job, error)
	getByKeyFunc         func(ctx context.Context, filePath, paramsJSON string) (*model.Job, error)
	listFunc             func(ctx context.Context, limit int) ([]*model.Job, error)
	statsFunc            func(ctx context.Context) (repository.JobStats, error)
	retryFunc            func(ctx context.Context, id uuid.UUID) error
	cancelFunc           func(ctx context.Context, id uuid.UUID) error
	deleteFunc           func(ctx context.Context, id uuid.UUID) error
	deleteByFilePathFunc func(ctx context.Context, filePath string) (int, error)
	resetOrphansFunc     func(ctx context.Context) (int, error)
	cleanupFunc          func(ctx context.Context, olderThanHours int) (int, error)
}

var _ repository.JobStore = (*mockJobStore)(nil)

func (m *mockJobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	return m.createFunc(ctx, job)
}

func (m *mockJobStore) ClaimNext(ctx context.Context) (*model.Job, error) {
	return m.claimNextFunc(ctx)
}

func (m *mockJobStore) Update(ctx context.Context, id uuid.UUID, status model.JobStatus, progress *int, errText *string) error {
	return m.updateFunc(ctx, id, status, progress, errText)
}

func (m *mockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockJobStore) GetByKey(ctx context.Context, filePath, paramsJSON string) (*model.Job, error) {
	return m.getByKeyFunc(ctx, filePath, paramsJSON)
}

func (m *mockJobStore) List(ctx context.Context, limit int) ([]*model.Job, error) {
	return m.listFunc(ctx, limit)
}

func (m *mockJobStore) Stats(ctx context.Context) (repository.JobStats, error) {
	return m.statsFunc(ctx)
}

func (m *mockJobStore) Retry(ctx context.Context, id uuid.UUID) error {
	return m.retryFunc(ctx, id)
}

func (m *mockJobStore) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.cancelFunc(ctx, id)
}

func (m *mockJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFunc(ctx, id)
}

func (m *mockJobStore) DeleteByFilePath(ctx context.Context, filePath string) (int, error) {
	return m.deleteByFilePathFunc(ctx, filePath)
}

func (m *mockJobStore) ResetOrphans(ctx context.Context) (int, error) {
	return m.resetOrphansFunc(ctx)
}

func (m *mockJobStore) Cleanup(ctx context.Context, olderThanHours int) (int, error) {
	return m.cleanupFunc(ctx, olderThanHours)
}
