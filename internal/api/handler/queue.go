package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/events"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
	sseHeartbeat        = 30 * time.Second
	// sseBufferSize bounds how far a slow subscriber can lag before events
	// are dropped for it.
	sseBufferSize = 16
)

// QueueHandler exposes queue introspection, job control, and the SSE
// progress stream.
type QueueHandler struct {
	jobs   repository.JobStore
	broker *events.Broker
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(jobs repository.JobStore, broker *events.Broker) *QueueHandler {
	return &QueueHandler{jobs: jobs, broker: broker}
}

type queueStatsResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

type jobResponse struct {
	ID          string `json:"id"`
	FilePath    string `json:"file_path"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry_count"`
	MaxRetries  int    `json:"max_retries"`
	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Stats handles GET /queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to read queue stats")
		return
	}
	JSON(w, http.StatusOK, queueStatsResponse{
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Completed:  stats.Completed,
		Error:      stats.Error,
		Cancelled:  stats.Cancelled,
		Total:      stats.Total(),
	})
}

// Jobs handles GET /queue/jobs
func (h *QueueHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxJobListLimit {
			Error(w, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("Limit must be between 1 and %d", maxJobListLimit))
			return
		}
		limit = n
	}

	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to list jobs")
		return
	}

	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}
	JSON(w, http.StatusOK, map[string]any{"jobs": responses, "count": len(responses)})
}

// Retry handles POST /queue/jobs/{id}/retry
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Retry(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			Error(w, http.StatusNotFound, "job_not_found", "Job not found")
		case errors.Is(err, repository.ErrJobNotRetryable):
			Error(w, http.StatusConflict, "not_retryable", "Job is not errored or has exhausted its retries")
		default:
			Error(w, http.StatusInternalServerError, "internal_error", "Failed to retry job")
		}
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": model.JobPending.String()})
}

// Cancel handles POST /queue/jobs/{id}/cancel
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			Error(w, http.StatusNotFound, "job_not_found", "Job not found")
		case errors.Is(err, repository.ErrJobNotCancellable):
			Error(w, http.StatusConflict, "not_cancellable", "Only pending jobs can be cancelled")
		default:
			Error(w, http.StatusInternalServerError, "internal_error", "Failed to cancel job")
		}
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": model.JobCancelled.String()})
}

// Delete handles DELETE /queue/jobs/{id}
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.Delete(r.Context(), id); err != nil {
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /queue/events, streaming job transitions as
// server-sent events until the client disconnects.
func (h *QueueHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming_unsupported", "Response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan events.Event, sseBufferSize)
	id := h.broker.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
			// Slow consumer; drop rather than block publishers.
		}
	})
	defer h.broker.Unsubscribe(id)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *QueueHandler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toJobResponse(job *model.Job) jobResponse {
	resp := jobResponse{
		ID:         job.ID.String(),
		FilePath:   job.FilePath,
		Status:     job.Status.String(),
		Priority:   job.Priority,
		Progress:   job.Progress,
		Error:      job.ErrorText,
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
