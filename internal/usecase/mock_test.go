package usecase

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/transcoder"
)

// fakeObject is one stored object in the in-memory storage fake.
type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// fakeStorage is a map-backed repository.ObjectStorage for service tests.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]fakeObject

	existsCalls   int
	downloadCalls int
	uploadCalls   int
}

var _ repository.ObjectStorage = (*fakeStorage)(nil)

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]fakeObject)}
}

func (f *fakeStorage) put(key string, data []byte, metadata map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, metadata: metadata}
}

func (f *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	obj, ok := f.objects[key]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (f *fakeStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	f.objects[key] = fakeObject{data: data, contentType: contentType, metadata: metadata}
	return nil
}

func (f *fakeStorage) Stat(ctx context.Context, key string) (*repository.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return &repository.ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		Metadata:    obj.metadata,
	}, nil
}

func (f *fakeStorage) List(ctx context.Context, prefix string) ([]repository.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []repository.ObjectInfo
	for key, obj := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			infos = append(infos, repository.ObjectInfo{Key: key, Size: int64(len(obj.data))})
		}
	}
	return infos, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) DeleteMany(ctx context.Context, keys []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for _, key := range keys {
		if _, ok := f.objects[key]; ok {
			delete(f.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStorage) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// fakeJobStore is a map-backed repository.JobStore for service tests.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.Job
}

var _ repository.JobStore = (*fakeJobStore)(nil)

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*model.Job)}
}

func (f *fakeJobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.jobs {
		if existing.FilePath == job.FilePath && existing.ParamsJSON == job.ParamsJSON && existing.Status.IsActive() {
			return existing, nil
		}
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobStore) ClaimNext(ctx context.Context) (*model.Job, error) {
	return nil, repository.ErrNoPendingJobs
}

func (f *fakeJobStore) Update(ctx context.Context, id uuid.UUID, status model.JobStatus, progress *int, errText *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	job.Status = status
	if progress != nil {
		job.Progress = *progress
	}
	if errText != nil {
		job.ErrorText = *errText
	}
	return nil
}

func (f *fakeJobStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobStore) GetByKey(ctx context.Context, filePath, paramsJSON string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.FilePath == filePath && job.ParamsJSON == paramsJSON {
			return job, nil
		}
	}
	return nil, repository.ErrJobNotFound
}

func (f *fakeJobStore) List(ctx context.Context, limit int) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*model.Job
	for _, job := range f.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (f *fakeJobStore) Stats(ctx context.Context) (repository.JobStats, error) {
	return repository.JobStats{}, nil
}

func (f *fakeJobStore) Retry(ctx context.Context, id uuid.UUID) error {
	return repository.ErrJobNotRetryable
}

func (f *fakeJobStore) Cancel(ctx context.Context, id uuid.UUID) error {
	return repository.ErrJobNotCancellable
}

func (f *fakeJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobStore) DeleteByFilePath(ctx context.Context, filePath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, job := range f.jobs {
		if job.FilePath == filePath {
			delete(f.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeJobStore) ResetOrphans(ctx context.Context) (int, error) {
	return 0, nil
}

func (f *fakeJobStore) Cleanup(ctx context.Context, olderThanHours int) (int, error) {
	return 0, nil
}

func (f *fakeJobStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// fakeTranscoder writes fixed bytes as the transform output.
type fakeTranscoder struct {
	output []byte
	err    error
	calls  int
}

var _ transcoder.Transcoder = (*fakeTranscoder)(nil)

func (f *fakeTranscoder) Transform(ctx context.Context, inputPath, outputPath string, params model.Params) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, f.output, 0644)
}

func (f *fakeTranscoder) Probe(ctx context.Context, inputPath string) (*transcoder.ProbeResult, error) {
	return &transcoder.ProbeResult{}, nil
}
