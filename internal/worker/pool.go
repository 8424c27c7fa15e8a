// Package worker consumes the video job queue.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/events"
	"github.com/openinary/openinary/internal/infrastructure/metrics"
	"github.com/openinary/openinary/internal/transcoder"
	"github.com/openinary/openinary/internal/transform"
)

const (
	maxConcurrency  = 16
	cleanupInterval = time.Hour
)

// statusInvalidator drops cached job status after a state transition.
type statusInvalidator interface {
	Invalidate(ctx context.Context, filePath, paramsJSON string)
}

// localCache is the disk tier the worker writes derived artifacts to.
type localCache interface {
	Write(name string, data []byte) error
}

// Config tunes a pool.
type Config struct {
	// Concurrency 0 selects an automatic bound from available memory.
	Concurrency    int
	PollInterval   time.Duration
	RetentionHours int
	// PublicDir holds locally stored originals.
	PublicDir string
	// TempDir receives downloaded sources and transcoder outputs.
	TempDir string
}

// Pool is a bounded polling consumer over the job store.
type Pool struct {
	cfg    Config
	jobs   repository.JobStore
	store  repository.ObjectStorage
	disk   localCache
	status statusInvalidator
	broker *events.Broker
	tc     transcoder.Transcoder
	bound  int

	mu         sync.Mutex
	processing int
	ticking    bool
}

// NewPool creates a worker pool. status may be nil when the Redis tier is
// disabled.
func NewPool(cfg Config, jobs repository.JobStore, store repository.ObjectStorage, disk localCache, status statusInvalidator, broker *events.Broker, tc transcoder.Transcoder) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	bound := cfg.Concurrency
	if bound <= 0 {
		bound = autoConcurrency()
	}
	return &Pool{
		cfg:    cfg,
		jobs:   jobs,
		store:  store,
		disk:   disk,
		status: status,
		broker: broker,
		tc:     tc,
		bound:  bound,
	}
}

// Bound returns the effective concurrency bound.
func (p *Pool) Bound() int {
	return p.bound
}

// Run resets orphaned jobs, then polls for work until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.jobs.ResetOrphans(ctx); err != nil {
		slog.Error("failed to reset orphaned jobs", "error", err)
	} else if n > 0 {
		slog.Info("reset orphaned jobs from a previous run", "count", n)
	}

	slog.Info("worker pool started",
		"concurrency", p.bound,
		"poll_interval", p.cfg.PollInterval,
	)

	go p.cleanupLoop(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick claims at most one job. The ticking flag keeps a slow claim from
// overlapping the next interval; the processing count enforces the global
// bound.
func (p *Pool) tick(ctx context.Context) {
	p.mu.Lock()
	if p.ticking || p.processing >= p.bound {
		p.mu.Unlock()
		return
	}
	p.ticking = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.ticking = false
		p.mu.Unlock()
	}()

	job, err := p.jobs.ClaimNext(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNoPendingJobs) {
			slog.Error("failed to claim job", "error", err)
		}
		return
	}

	p.mu.Lock()
	p.processing++
	p.mu.Unlock()
	metrics.JobsInFlight.Inc()

	go func() {
		defer func() {
			p.mu.Lock()
			p.processing--
			p.mu.Unlock()
			metrics.JobsInFlight.Dec()
		}()
		p.process(ctx, job)
	}()
}

func (p *Pool) process(ctx context.Context, job *model.Job) {
	log := slog.With("job_id", job.ID, "file_path", job.FilePath)
	log.Info("processing job", "priority", job.Priority, "retry", job.RetryCount)

	p.publish(ctx, job, events.Event{
		Kind:     events.JobStarted,
		JobID:    job.ID,
		FilePath: job.FilePath,
		Status:   model.JobProcessing.String(),
	})
	metrics.JobTransitionsTotal.WithLabelValues(model.JobProcessing.String()).Inc()

	params, err := job.Params()
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("corrupt job params: %w", err))
		return
	}

	srcPath, cleanupSrc, err := p.resolveSource(ctx, job.FilePath)
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("resolve source: %w", err))
		return
	}
	if cleanupSrc != nil {
		defer cleanupSrc()
	}
	p.progress(ctx, job, 25)

	outPath := filepath.Join(p.cfg.TempDir, "out-"+uuid.NewString()+"."+transform.OutputExt(job.FilePath, params))
	defer os.Remove(outPath)

	if err := p.tc.Transform(ctx, srcPath, outPath, params); err != nil {
		p.fail(ctx, job, fmt.Errorf("transform: %w", err))
		return
	}
	p.progress(ctx, job, 60)

	data, err := os.ReadFile(outPath)
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("read transcoder output: %w", err))
		return
	}

	localName := transform.LocalName(job.FilePath, params)
	if err := p.disk.Write(localName, data); err != nil {
		// Local cache is an accelerator; remote is the source of truth.
		log.Warn("failed to write local cache", "error", err)
	}

	contentType := model.ContentTypeForExt(transform.OutputExt(job.FilePath, params))
	err = p.store.Upload(ctx, job.CachePath, bytes.NewReader(data), int64(len(data)), contentType,
		map[string]string{transform.MetadataOriginalPath: job.FilePath})
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("upload derived artifact: %w", err))
		return
	}
	p.progress(ctx, job, 90)

	hundred := 100
	if err := p.jobs.Update(ctx, job.ID, model.JobCompleted, &hundred, nil); err != nil {
		log.Error("failed to mark job completed", "error", err)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(model.JobCompleted.String()).Inc()
	p.publish(ctx, job, events.Event{
		Kind:     events.JobCompleted,
		JobID:    job.ID,
		FilePath: job.FilePath,
		Status:   model.JobCompleted.String(),
		Progress: 100,
	})
	log.Info("job completed", "bytes", len(data), "cache_path", job.CachePath)
}

// resolveSource returns a readable path for the original, downloading from
// the object store into a temp file when it is not on local disk.
func (p *Pool) resolveSource(ctx context.Context, filePath string) (string, func(), error) {
	localPath := filepath.Join(p.cfg.PublicDir, filePath)
	if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
		return localPath, nil, nil
	}

	reader, err := p.store.Download(ctx, transform.OriginalKey(filePath))
	if err != nil {
		return "", nil, err
	}
	defer reader.Close()

	if err := os.MkdirAll(p.cfg.TempDir, 0755); err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmpPath := filepath.Join(p.cfg.TempDir, "src-"+uuid.NewString()+filepath.Ext(filePath))
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", nil, fmt.Errorf("create temp source: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("download source: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", nil, err
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}

func (p *Pool) fail(ctx context.Context, job *model.Job, cause error) {
	slog.Error("job failed", "job_id", job.ID, "file_path", job.FilePath, "error", cause)

	errText := cause.Error()
	if err := p.jobs.Update(ctx, job.ID, model.JobError, nil, &errText); err != nil {
		slog.Error("failed to record job error", "job_id", job.ID, "error", err)
	}
	metrics.JobTransitionsTotal.WithLabelValues(model.JobError.String()).Inc()
	p.publish(ctx, job, events.Event{
		Kind:     events.JobError,
		JobID:    job.ID,
		FilePath: job.FilePath,
		Status:   model.JobError.String(),
		Error:    errText,
	})

	// Schedule a retry; exhausted jobs stay in terminal error state.
	if err := p.jobs.Retry(ctx, job.ID); err != nil {
		if !errors.Is(err, repository.ErrJobNotRetryable) {
			slog.Error("failed to schedule retry", "job_id", job.ID, "error", err)
		}
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(model.JobPending.String()).Inc()
}

func (p *Pool) progress(ctx context.Context, job *model.Job, pct int) {
	if err := p.jobs.Update(ctx, job.ID, model.JobProcessing, &pct, nil); err != nil {
		slog.Warn("failed to record progress", "job_id", job.ID, "error", err)
		return
	}
	p.publish(ctx, job, events.Event{
		Kind:     events.JobProgress,
		JobID:    job.ID,
		FilePath: job.FilePath,
		Status:   model.JobProcessing.String(),
		Progress: pct,
	})
}

func (p *Pool) publish(ctx context.Context, job *model.Job, e events.Event) {
	if p.status != nil {
		p.status.Invalidate(ctx, job.FilePath, job.ParamsJSON)
	}
	if p.broker != nil {
		p.broker.Publish(e)
	}
}

// cleanupLoop purges terminal jobs past the retention window.
func (p *Pool) cleanupLoop(ctx context.Context) {
	if p.cfg.RetentionHours <= 0 {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.jobs.Cleanup(ctx, p.cfg.RetentionHours)
			if err != nil {
				slog.Error("job cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged old terminal jobs", "count", n)
			}
		}
	}
}

// autoConcurrency derives the bound from system memory (half a worker per
// GiB), falling back to the CPU count when memory cannot be read.
func autoConcurrency() int {
	if gib := totalMemoryGiB(); gib > 0 {
		return clamp(gib/2, 1, maxConcurrency)
	}
	return clamp(runtime.NumCPU(), 1, maxConcurrency)
}

// totalMemoryGiB parses MemTotal from /proc/meminfo; returns 0 off Linux.
func totalMemoryGiB() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb / (1 << 20))
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
