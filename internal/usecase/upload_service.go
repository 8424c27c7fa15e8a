package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/events"
	"github.com/openinary/openinary/internal/transform"
)

// Upload allow-list; deliberately narrower than what the pipeline can read.
var allowedUploadExts = map[string]bool{
	"jpeg": true, "jpg": true, "png": true, "webp": true, "avif": true, "gif": true,
	"mp4": true, "mov": true, "webm": true,
}

// collisionLimit caps the " (N)" probing for a free path.
const collisionLimit = 100

// Default thumbnail generated for every uploaded video.
var defaultThumbnailParams = model.Params{
	Thumbnail:     true,
	ThumbnailTime: 5,
	Width:         500,
	Height:        500,
	Format:        "webp",
	Crop:          model.CropFill,
	Quality:       80,
}

// UploadFileInput is one file from a multipart request.
type UploadFileInput struct {
	Filename string
	// Dir is an optional destination directory relative to the root.
	Dir  string
	Data []byte
}

// UploadedFile describes one successfully stored file.
type UploadedFile struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// UploadFailure describes one rejected file.
type UploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadOutput is the per-file outcome of an upload request.
type UploadOutput struct {
	Files    []UploadedFile  `json:"files"`
	Failures []UploadFailure `json:"failures,omitempty"`
}

// AllFailed reports whether nothing was stored.
func (o *UploadOutput) AllFailed() bool {
	return len(o.Files) == 0 && len(o.Failures) > 0
}

// Mixed reports whether some files succeeded and some failed.
func (o *UploadOutput) Mixed() bool {
	return len(o.Files) > 0 && len(o.Failures) > 0
}

// UploadService stores originals and schedules default video thumbnails.
type UploadService interface {
	Upload(ctx context.Context, files []UploadFileInput) (*UploadOutput, error)
}

// UploadServiceConfig holds the uploader's tunables.
type UploadServiceConfig struct {
	// MaxFileSize is the per-file byte ceiling.
	MaxFileSize int64
	// MaxRetries is the retry budget for scheduled thumbnail jobs.
	MaxRetries int
}

type uploadService struct {
	cfg     UploadServiceConfig
	storage repository.ObjectStorage
	jobs    repository.JobStore
	broker  *events.Broker
}

// NewUploadService creates the uploader.
func NewUploadService(cfg UploadServiceConfig, storage repository.ObjectStorage, jobs repository.JobStore, broker *events.Broker) UploadService {
	return &uploadService{
		cfg:     cfg,
		storage: storage,
		jobs:    jobs,
		broker:  broker,
	}
}

// Upload validates and stores each file independently; one bad file never
// fails the batch.
func (s *uploadService) Upload(ctx context.Context, files []UploadFileInput) (*UploadOutput, error) {
	out := &UploadOutput{}
	for _, file := range files {
		stored, err := s.uploadOne(ctx, file)
		if err != nil {
			out.Failures = append(out.Failures, UploadFailure{Filename: file.Filename, Error: err.Error()})
			continue
		}
		out.Files = append(out.Files, *stored)
	}
	return out, nil
}

func (s *uploadService) uploadOne(ctx context.Context, file UploadFileInput) (*UploadedFile, error) {
	ext := model.Ext(file.Filename)
	if !allowedUploadExts[ext] {
		return nil, fmt.Errorf("file type %q is not allowed", ext)
	}
	if int64(len(file.Data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("file exceeds the %d byte limit", s.cfg.MaxFileSize)
	}
	if len(file.Data) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	relPath := sanitizeRelPath(path.Join(file.Dir, file.Filename))
	if relPath == "" {
		return nil, fmt.Errorf("invalid destination path")
	}

	finalPath, err := s.uniquePath(ctx, relPath)
	if err != nil {
		return nil, fmt.Errorf("derive unique path: %w", err)
	}

	contentType := model.ContentTypeForExt(ext)
	err = s.storage.Upload(ctx, transform.OriginalKey(finalPath), bytes.NewReader(file.Data),
		int64(len(file.Data)), contentType, nil)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	if model.IsVideoExt(ext) {
		s.scheduleDefaultThumbnail(ctx, finalPath)
	}

	return &UploadedFile{
		Filename: file.Filename,
		Path:     finalPath,
		Size:     int64(len(file.Data)),
		URL:      "/t/" + finalPath,
	}, nil
}

// uniquePath probes the store and appends " (N)" before the extension until
// a free path is found.
func (s *uploadService) uniquePath(ctx context.Context, relPath string) (string, error) {
	exists, err := s.storage.Exists(ctx, transform.OriginalKey(relPath))
	if err != nil {
		return "", err
	}
	if !exists {
		return relPath, nil
	}

	ext := path.Ext(relPath)
	stem := strings.TrimSuffix(relPath, ext)
	for n := 1; n <= collisionLimit; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		exists, err := s.storage.Exists(ctx, transform.OriginalKey(candidate))
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free path after %d attempts", collisionLimit)
}

// scheduleDefaultThumbnail enqueues the standard video poster; failures are
// logged and never block the upload response.
func (s *uploadService) scheduleDefaultThumbnail(ctx context.Context, filePath string) {
	params := defaultThumbnailParams
	job, err := model.NewJob(filePath, params, transform.RemoteKey(filePath, params), model.PriorityThumbnail, s.cfg.MaxRetries)
	if err != nil {
		slog.Warn("failed to build thumbnail job", "file_path", filePath, "error", err)
		return
	}
	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		slog.Warn("failed to schedule thumbnail job", "file_path", filePath, "error", err)
		return
	}
	if created.ID == job.ID && s.broker != nil {
		s.broker.Publish(events.Event{
			Kind:     events.JobCreated,
			JobID:    created.ID,
			FilePath: filePath,
			Status:   created.Status.String(),
		})
	}
}

// sanitizeRelPath normalizes a client-supplied relative path: separators are
// collapsed, leading slashes stripped, and parent-directory segments dropped.
func sanitizeRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	segments := strings.Split(p, "/")
	clean := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		clean = append(clean, seg)
	}
	return strings.Join(clean, "/")
}
