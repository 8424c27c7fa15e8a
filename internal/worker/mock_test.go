package worker

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/transcoder"
)

// mockJobStore implements repository.JobStore with function fields.
type mockJobStore struct {
	mu sync.Mutex

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

	updates []jobUpdate
	retries []uuid.UUID
}

type jobUpdate struct {
	id       uuid.UUID
	status   model.JobStatus
	progress *int
	errText  *string
}

var _ repository.JobStore = (*mockJobStore)(nil)

func (m *mockJobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	return m.createFunc(ctx, job)
}

func (m *mockJobStore) ClaimNext(ctx context.Context) (*model.Job, error) {
	return m.claimNextFunc(ctx)
}

func (m *mockJobStore) Update(ctx context.Context, id uuid.UUID, status model.JobStatus, progress *int, errText *string) error {
	m.mu.Lock()
	m.updates = append(m.updates, jobUpdate{id: id, status: status, progress: progress, errText: errText})
	m.mu.Unlock()
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, status, progress, errText)
	}
	return nil
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
	m.mu.Lock()
	m.retries = append(m.retries, id)
	m.mu.Unlock()
	if m.retryFunc != nil {
		return m.retryFunc(ctx, id)
	}
	return nil
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
	if m.resetOrphansFunc != nil {
		return m.resetOrphansFunc(ctx)
	}
	return 0, nil
}

func (m *mockJobStore) Cleanup(ctx context.Context, olderThanHours int) (int, error) {
	if m.cleanupFunc != nil {
		return m.cleanupFunc(ctx, olderThanHours)
	}
	return 0, nil
}

func (m *mockJobStore) recordedUpdates() []jobUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jobUpdate(nil), m.updates...)
}

func (m *mockJobStore) recordedRetries() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.retries...)
}

// mockObjectStorage implements repository.ObjectStorage with function fields.
type mockObjectStorage struct {
	existsFunc     func(ctx context.Context, key string) (bool, error)
	downloadFunc   func(ctx context.Context, key string) (io.ReadCloser, error)
	uploadFunc     func(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error
	statFunc       func(ctx context.Context, key string) (*repository.ObjectInfo, error)
	listFunc       func(ctx context.Context, prefix string) ([]repository.ObjectInfo, error)
	deleteFunc     func(ctx context.Context, key string) error
	deleteManyFunc func(ctx context.Context, keys []string) (int, error)
}

var _ repository.ObjectStorage = (*mockObjectStorage)(nil)

func (m *mockObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	return m.existsFunc(ctx, key)
}

func (m *mockObjectStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.downloadFunc(ctx, key)
}

func (m *mockObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error {
	return m.uploadFunc(ctx, key, reader, size, contentType, metadata)
}

func (m *mockObjectStorage) Stat(ctx context.Context, key string) (*repository.ObjectInfo, error) {
	return m.statFunc(ctx, key)
}

func (m *mockObjectStorage) List(ctx context.Context, prefix string) ([]repository.ObjectInfo, error) {
	return m.listFunc(ctx, prefix)
}

func (m *mockObjectStorage) Delete(ctx context.Context, key string) error {
	return m.deleteFunc(ctx, key)
}

func (m *mockObjectStorage) DeleteMany(ctx context.Context, keys []string) (int, error) {
	return m.deleteManyFunc(ctx, keys)
}

// mockTranscoder implements transcoder.Transcoder with function fields.
type mockTranscoder struct {
	transformFunc func(ctx context.Context, inputPath, outputPath string, params model.Params) error
	probeFunc     func(ctx context.Context, inputPath string) (*transcoder.ProbeResult, error)
}

var _ transcoder.Transcoder = (*mockTranscoder)(nil)

func (m *mockTranscoder) Transform(ctx context.Context, inputPath, outputPath string, params model.Params) error {
	return m.transformFunc(ctx, inputPath, outputPath, params)
}

func (m *mockTranscoder) Probe(ctx context.Context, inputPath string) (*transcoder.ProbeResult, error) {
	if m.probeFunc != nil {
		return m.probeFunc(ctx, inputPath)
	}
	return &transcoder.ProbeResult{}, nil
}

// mockDisk records local cache writes.
type mockDisk struct {
	mu     sync.Mutex
	writes map[string][]byte
	err    error
}

func newMockDisk() *mockDisk {
	return &mockDisk{writes: make(map[string][]byte)}
}

func (m *mockDisk) Write(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes[name] = data
	return nil
}
