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

// StorageHandler exposes the original-asset tree: listing, metadata, the
// delete cascade, and cache invalidation.
type StorageHandler struct {
	storage repository.ObjectStorage
	deleter usecase.AssetDeleter
	inv     usecase.Invalidator
}

// NewStorageHandler creates a StorageHandler.
func NewStorageHandler(storage repository.ObjectStorage, deleter usecase.AssetDeleter, inv usecase.Invalidator) *StorageHandler {
	return &StorageHandler{storage: storage, deleter: deleter, inv: inv}
}

type storageEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type storageMetadataResponse struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified string            `json:"last_modified,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// List handles GET /storage/ and, via Tree, subtree listings.
func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

// Tree handles GET /storage/*; a trailing /metadata segment switches to the
// single-object metadata probe.
func (h *StorageHandler) Tree(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if rest, ok := strings.CutSuffix(path, "/metadata"); ok {
		h.metadata(w, r, rest)
		return
	}
	h.list(w, r, path)
}

func (h *StorageHandler) list(w http.ResponseWriter, r *http.Request, subtree string) {
	prefix := transform.OriginalPrefix
	if subtree != "" {
		prefix += strings.TrimSuffix(subtree, "/") + "/"
	}

	objects, err := h.storage.List(r.Context(), prefix)
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to list storage")
		return
	}

	entries := make([]storageEntry, 0, len(objects))
	for _, obj := range objects {
		entries = append(entries, storageEntry{
			Path: strings.TrimPrefix(obj.Key, transform.OriginalPrefix),
			Size: obj.Size,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"files": entries, "count": len(entries)})
}

func (h *StorageHandler) metadata(w http.ResponseWriter, r *http.Request, path string) {
	info, err := h.storage.Stat(r.Context(), transform.OriginalKey(path))
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			Error(w, http.StatusNotFound, "not_found", "Original file not found")
			return
		}
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to read metadata")
		return
	}

	resp := storageMetadataResponse{
		Path:        path,
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    info.Metadata,
	}
	if !info.LastModified.IsZero() {
		resp.LastModified = info.LastModified.Format(time.RFC3339)
	}
	JSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /storage/*, removing the original together with its
// jobs and every derived artifact.
func (h *StorageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	result, err := h.deleter.DeleteAsset(r.Context(), path)
	if err != nil {
		if errors.Is(err, usecase.ErrOriginalNotFound) {
			Error(w, http.StatusNotFound, "not_found", "Original file not found")
			return
		}
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to delete asset")
		return
	}
	JSON(w, http.StatusOK, result)
}

// Invalidate handles DELETE /invalidate/*, purging derived artifacts while
// leaving the original in place.
func (h *StorageHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		Error(w, http.StatusBadRequest, "invalid_path", "Request carries no file path")
		return
	}
	result, err := h.inv.Invalidate(r.Context(), path)
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal_error", "Failed to invalidate cache")
		return
	}
	JSON(w, http.StatusOK, result)
}
