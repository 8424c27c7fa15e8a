// Package usecase holds the application services behind the HTTP handlers.
package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/events"
	"github.com/openinary/openinary/internal/infrastructure/cache"
	"github.com/openinary/openinary/internal/infrastructure/metrics"
	"github.com/openinary/openinary/internal/optimizer"
	"github.com/openinary/openinary/internal/transcoder"
	"github.com/openinary/openinary/internal/transform"
)

var (
	// ErrOriginalNotFound is returned when the referenced original does not
	// exist in any store.
	ErrOriginalNotFound = errors.New("original file not found")

	// ErrUnsupportedMedia is returned for extensions outside the image and
	// video allow-lists.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// derivedCacheControl is served with every cacheable derived artifact.
const derivedCacheControl = "public, max-age=31536000, must-revalidate"

// TransformInput is one GET /t/ request.
type TransformInput struct {
	// Path is the URL remainder after the transform marker, e.g.
	// "w_400,h_400,c_fill/photos/cat.jpg".
	Path      string
	Accept    string
	UserAgent string
}

// TransformOutput carries the derived bytes and their response metadata.
type TransformOutput struct {
	Data         []byte
	ContentType  string
	ETag         string
	CacheControl string
	// Headers holds the optimizer diagnostics (X-Original-Size and friends)
	// and the video pending marker.
	Headers map[string]string
}

// TransformService is the pipeline behind every transformation request.
type TransformService interface {
	// Transform resolves a transformation URL to derived bytes, consulting
	// the cache tiers before doing any work.
	Transform(ctx context.Context, input TransformInput) (*TransformOutput, error)

	// VideoStatus reports the queue state for a video transformation URL.
	VideoStatus(ctx context.Context, path string) (*model.Job, error)
}

// TransformServiceConfig holds the pipeline's tunables.
type TransformServiceConfig struct {
	// PublicDir holds locally stored originals.
	PublicDir string
	// TempDir receives downloaded sources and transcoder outputs.
	TempDir string
	// MaxRetries is the retry budget stamped on enqueued jobs.
	MaxRetries int
}

type transformService struct {
	cfg       TransformServiceConfig
	storage   repository.ObjectStorage
	jobs      repository.JobStore
	existence *cache.ExistenceCache
	disk      *cache.DiskCache
	policy    *cache.Policy
	status    *cache.JobStatusCache
	broker    *events.Broker
	tc        transcoder.Transcoder
	inv       Invalidator

	sfGroup singleflight.Group
}

// NewTransformService wires the pipeline. status may be nil when the Redis
// tier is disabled.
func NewTransformService(
	cfg TransformServiceConfig,
	storage repository.ObjectStorage,
	jobs repository.JobStore,
	existence *cache.ExistenceCache,
	disk *cache.DiskCache,
	policy *cache.Policy,
	status *cache.JobStatusCache,
	broker *events.Broker,
	tc transcoder.Transcoder,
	inv Invalidator,
) TransformService {
	return &transformService{
		cfg:       cfg,
		storage:   storage,
		jobs:      jobs,
		existence: existence,
		disk:      disk,
		policy:    policy,
		status:    status,
		broker:    broker,
		tc:        tc,
		inv:       inv,
	}
}

func (s *transformService) Transform(ctx context.Context, input TransformInput) (*TransformOutput, error) {
	filePath, params, err := transform.Parse(input.Path)
	if err != nil {
		return nil, err
	}

	caps := optimizer.DetectCaps(input.Accept, input.UserAgent)
	if params.Format == "" && model.IsImagePath(filePath) {
		// The cache key embeds the adaptive choice.
		params.Format = optimizer.PickFormat(model.Ext(filePath), caps)
	}

	remoteKey := transform.RemoteKey(filePath, params)
	s.policy.RecordAccess(filePath)

	result, err, shared := s.sfGroup.Do(remoteKey, func() (any, error) {
		return s.serve(ctx, filePath, params, caps, remoteKey)
	})
	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}
	if err != nil {
		return nil, err
	}

	s.maybeCleanup()
	return result.(*TransformOutput), nil
}

func (s *transformService) serve(ctx context.Context, filePath string, params model.Params, caps optimizer.Caps, remoteKey string) (*TransformOutput, error) {
	fingerprint := transform.Fingerprint(filePath, params)
	localName := transform.LocalName(filePath, params)
	outputExt := transform.OutputExt(filePath, params)

	// Tier 1: remote cache, memoized.
	if out, ok := s.serveRemote(ctx, remoteKey, localName, filePath, fingerprint, outputExt); ok {
		return out, nil
	}

	// Tier 2: local disk.
	if s.disk.Exists(localName) {
		data, err := s.disk.Read(localName)
		if err == nil {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeDisk).Inc()
			return s.output(data, outputExt, fingerprint), nil
		}
		slog.Warn("local cache read failed", "name", localName, "error", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeDisk).Inc()

	// A missing original means every derived artifact is stale.
	exists, localOriginal := s.originalExists(ctx, filePath)
	if !exists {
		if s.inv != nil {
			if _, err := s.inv.Invalidate(ctx, filePath); err != nil {
				slog.Warn("invalidation after missing original failed", "file_path", filePath, "error", err)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrOriginalNotFound, filePath)
	}

	switch {
	case model.IsImagePath(filePath):
		return s.serveImage(ctx, filePath, localOriginal, params, caps, remoteKey, localName, fingerprint)
	case model.IsVideoPath(filePath) && params.Thumbnail:
		return s.serveThumbnail(ctx, filePath, localOriginal, params, remoteKey, localName, fingerprint, outputExt)
	case model.IsVideoPath(filePath):
		return s.serveVideoDeferred(ctx, filePath, localOriginal, params, remoteKey, fingerprint)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, filePath)
	}
}

// serveRemote probes the object store through the existence cache and
// returns the cached artifact on a verified hit.
func (s *transformService) serveRemote(ctx context.Context, remoteKey, localName, filePath, fingerprint, outputExt string) (*TransformOutput, bool) {
	exists, known := s.existence.Get(remoteKey)
	if !known {
		var err error
		exists, err = s.storage.Exists(ctx, remoteKey)
		if err != nil {
			slog.Warn("remote existence probe failed", "key", remoteKey, "error", err)
			return nil, false
		}
		s.existence.Set(remoteKey, exists)
	}
	if !exists {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRemote).Inc()
		return nil, false
	}

	reader, err := s.storage.Download(ctx, remoteKey)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			s.existence.Set(remoteKey, false)
		}
		return nil, false
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Warn("remote cache read failed", "key", remoteKey, "error", err)
		return nil, false
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRemote).Inc()

	// Re-warm the disk tier for hot originals.
	if s.policy.ShouldKeepLocal(filePath) && !s.disk.Exists(localName) {
		if err := s.disk.Write(localName, data); err == nil {
			s.policy.RecordWrite(filePath, int64(len(data)))
		}
	}
	return s.output(data, outputExt, fingerprint), true
}

func (s *transformService) serveImage(ctx context.Context, filePath, localOriginal string, params model.Params, caps optimizer.Caps, remoteKey, localName, fingerprint string) (*TransformOutput, error) {
	src, err := s.readOriginal(ctx, filePath, localOriginal)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}

	start := time.Now()
	res, err := optimizer.Optimize(src, params, caps)
	if err != nil {
		metrics.TransformsTotal.WithLabelValues(metrics.TransformKindImage, params.Format, metrics.TransformStatusError).Inc()
		return nil, fmt.Errorf("optimize image: %w", err)
	}
	metrics.TransformDuration.WithLabelValues(metrics.TransformKindImage).Observe(time.Since(start).Seconds())
	metrics.TransformsTotal.WithLabelValues(metrics.TransformKindImage, res.Format, metrics.TransformStatusSuccess).Inc()
	metrics.OptimizerSavingsPercent.Observe(res.SavingsPercent())

	s.dualWrite(ctx, filePath, remoteKey, localName, res.Data, model.ContentTypeForExt(res.Format))

	out := s.output(res.Data, res.Format, fingerprint)
	out.Headers = map[string]string{
		"X-Original-Size":     strconv.FormatInt(res.OriginalSize, 10),
		"X-Optimized-Size":    strconv.FormatInt(res.OptimizedSize, 10),
		"X-Compression-Ratio": strconv.FormatFloat(res.CompressionRatio(), 'f', 2, 64),
		"X-Savings-Percent":   strconv.FormatFloat(res.SavingsPercent(), 'f', 1, 64),
	}
	return out, nil
}

func (s *transformService) serveThumbnail(ctx context.Context, filePath, localOriginal string, params model.Params, remoteKey, localName, fingerprint, outputExt string) (*TransformOutput, error) {
	srcPath, cleanup, err := s.sourcePath(ctx, filePath, localOriginal)
	if err != nil {
		return nil, fmt.Errorf("prepare video source: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	outPath := filepath.Join(s.cfg.TempDir, "thumb-"+fingerprint+"."+outputExt)
	defer os.Remove(outPath)

	start := time.Now()
	if err := s.tc.Transform(ctx, srcPath, outPath, params); err != nil {
		metrics.TransformsTotal.WithLabelValues(metrics.TransformKindThumbnail, outputExt, metrics.TransformStatusError).Inc()
		return nil, fmt.Errorf("extract thumbnail: %w", err)
	}
	metrics.TransformDuration.WithLabelValues(metrics.TransformKindThumbnail).Observe(time.Since(start).Seconds())

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read thumbnail output: %w", err)
	}
	metrics.TransformsTotal.WithLabelValues(metrics.TransformKindThumbnail, outputExt, metrics.TransformStatusSuccess).Inc()

	s.dualWrite(ctx, filePath, remoteKey, localName, data, model.ContentTypeForExt(outputExt))
	return s.output(data, outputExt, fingerprint), nil
}

// serveVideoDeferred enqueues the transformation and answers with the
// original bytes so the client has something to play immediately.
func (s *transformService) serveVideoDeferred(ctx context.Context, filePath, localOriginal string, params model.Params, remoteKey, fingerprint string) (*TransformOutput, error) {
	paramsJSON := params.NormalizedJSON()

	existing, err := s.jobs.GetByKey(ctx, filePath, paramsJSON)
	if err == nil && existing.Status == model.JobCompleted {
		// The memoized probe above can lag a fresh completion, so ask the
		// store directly before declaring the artifact lost.
		present, probeErr := s.storage.Exists(ctx, remoteKey)
		if probeErr != nil {
			slog.Warn("completed artifact probe failed", "key", remoteKey, "error", probeErr)
		}
		if present {
			s.existence.Set(remoteKey, true)
			localName := transform.LocalName(filePath, params)
			outputExt := transform.OutputExt(filePath, params)
			if out, ok := s.serveRemote(ctx, remoteKey, localName, filePath, fingerprint, outputExt); ok {
				return out, nil
			}
		}
		if probeErr == nil && !present {
			// Verified gone; put the job back in line.
			if err := s.jobs.Update(ctx, existing.ID, model.JobPending, nil, nil); err != nil {
				slog.Warn("failed to reset completed job with missing artifact", "job_id", existing.ID, "error", err)
			} else if s.status != nil {
				s.status.Invalidate(ctx, filePath, paramsJSON)
			}
		}
	} else if err == nil && existing.Status.IsActive() {
		// Already queued or running; nothing to do.
	} else {
		job, err := model.NewJob(filePath, params, remoteKey, model.PriorityTransform, s.cfg.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("build job: %w", err)
		}
		created, err := s.jobs.Create(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
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

	data, err := s.readOriginal(ctx, filePath, localOriginal)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}

	out := &TransformOutput{
		Data:         data,
		ContentType:  model.ContentTypeForExt(model.Ext(filePath)),
		ETag:         fmt.Sprintf(`"%s-pending-%d"`, fingerprint, time.Now().UnixNano()),
		CacheControl: "no-store",
		Headers:      map[string]string{"X-Video-Status": "processing"},
	}
	return out, nil
}

// VideoStatus reports queue state for a transformation URL, through the
// Redis tier when available.
func (s *transformService) VideoStatus(ctx context.Context, path string) (*model.Job, error) {
	filePath, params, err := transform.Parse(path)
	if err != nil {
		return nil, err
	}
	paramsJSON := params.NormalizedJSON()
	if s.status != nil {
		return s.status.Lookup(ctx, filePath, paramsJSON)
	}
	return s.jobs.GetByKey(ctx, filePath, paramsJSON)
}

// dualWrite stores a fresh artifact in both cache tiers. Failures are logged
// but never fail the request that produced the artifact.
func (s *transformService) dualWrite(ctx context.Context, filePath, remoteKey, localName string, data []byte, contentType string) {
	if err := s.disk.Write(localName, data); err != nil {
		slog.Warn("local cache write failed", "name", localName, "error", err)
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeDisk).Inc()
	} else {
		s.policy.RecordWrite(filePath, int64(len(data)))
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeDisk).Inc()
	}

	err := s.storage.Upload(ctx, remoteKey, bytes.NewReader(data), int64(len(data)), contentType,
		map[string]string{transform.MetadataOriginalPath: filePath})
	if err != nil {
		slog.Warn("remote cache write failed", "key", remoteKey, "error", err)
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRemote).Inc()
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRemote).Inc()
	s.existence.Set(remoteKey, true)
}

// originalExists reports whether the original is available and, when it is
// on local disk, its path.
func (s *transformService) originalExists(ctx context.Context, filePath string) (bool, string) {
	localPath := filepath.Join(s.cfg.PublicDir, filePath)
	if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
		return true, localPath
	}
	exists, err := s.storage.Exists(ctx, transform.OriginalKey(filePath))
	if err != nil {
		slog.Warn("original existence probe failed", "file_path", filePath, "error", err)
		return false, ""
	}
	return exists, ""
}

// readOriginal returns the original bytes from local disk or the store.
func (s *transformService) readOriginal(ctx context.Context, filePath, localOriginal string) ([]byte, error) {
	if localOriginal != "" {
		return os.ReadFile(localOriginal)
	}
	reader, err := s.storage.Download(ctx, transform.OriginalKey(filePath))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// sourcePath returns a filesystem path for the original, downloading it to a
// temp file when it only exists remotely.
func (s *transformService) sourcePath(ctx context.Context, filePath, localOriginal string) (string, func(), error) {
	if localOriginal != "" {
		return localOriginal, nil, nil
	}

	data, err := s.readOriginal(ctx, filePath, "")
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(s.cfg.TempDir, 0755); err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmpPath := filepath.Join(s.cfg.TempDir, "src-"+transform.SafeStem(filePath))
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", nil, fmt.Errorf("write temp source: %w", err)
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}

// maybeCleanup amortizes disk-tier eviction over requests.
func (s *transformService) maybeCleanup() {
	if !s.policy.RollCleanup() || !s.policy.ShouldCleanup() {
		return
	}
	for _, original := range s.policy.Evict() {
		if n, err := s.disk.DeleteMatching(transform.SafeStem(original)); err != nil {
			slog.Warn("cache eviction failed", "original", original, "error", err)
		} else if n > 0 {
			slog.Info("evicted local cache entries", "original", original, "count", n)
		}
	}
}

func (s *transformService) output(data []byte, ext, fingerprint string) *TransformOutput {
	out := &TransformOutput{
		Data: data,
		// The optimizer may have stored a smaller candidate than the key
		// extension suggests, so the bytes decide the content type.
		ContentType:  model.ContentTypeForExt(model.DetectExt(data, ext)),
		ETag:         fmt.Sprintf("%q", fingerprint),
		CacheControl: derivedCacheControl,
	}
	if model.IsVideoExt(ext) {
		out.Headers = map[string]string{"X-Video-Status": "ready"}
	}
	return out
}
