package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/transform"
	"github.com/openinary/openinary/internal/usecase"
)

// VideoStatusHandler answers the polling endpoints clients use while a
// deferred video transformation is in flight.
type VideoStatusHandler struct {
	svc     usecase.TransformService
	storage repository.ObjectStorage
}

// NewVideoStatusHandler creates a VideoStatusHandler.
func NewVideoStatusHandler(svc usecase.TransformService, storage repository.ObjectStorage) *VideoStatusHandler {
	return &VideoStatusHandler{svc: svc, storage: storage}
}

type videoStatusResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

type videoSizeResponse struct {
	Ready bool  `json:"ready"`
	Size  int64 `json:"size,omitempty"`
}

// Status handles GET /video-status/* including the trailing /size variant.
func (h *VideoStatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if rest, ok := strings.CutSuffix(path, "/size"); ok {
		h.size(w, r, rest)
		return
	}

	job, err := h.svc.VideoStatus(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, transform.ErrEmptyPath):
			Error(w, http.StatusBadRequest, "invalid_path", "Request carries no file path")
		case errors.Is(err, repository.ErrJobNotFound):
			Error(w, http.StatusNotFound, "job_not_found", "No job for this transformation")
		default:
			Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		}
		return
	}

	JSON(w, http.StatusOK, videoStatusResponse{
		JobID:     job.ID.String(),
		Status:    job.Status.String(),
		Progress:  job.Progress,
		Error:     job.ErrorText,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	})
}

// size reports whether the derived artifact exists yet and how large it is.
func (h *VideoStatusHandler) size(w http.ResponseWriter, r *http.Request, path string) {
	filePath, params, err := transform.Parse(path)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_path", "Request carries no file path")
		return
	}

	info, err := h.storage.Stat(r.Context(), transform.RemoteKey(filePath, params))
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			JSON(w, http.StatusOK, videoSizeResponse{Ready: false})
			return
		}
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	JSON(w, http.StatusOK, videoSizeResponse{Ready: true, Size: info.Size})
}
