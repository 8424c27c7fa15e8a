package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openinary/openinary/internal/signature"
	"github.com/openinary/openinary/internal/transform"
	"github.com/openinary/openinary/internal/usecase"
)

// TransformHandler serves derived media on the /t/ and /s--<sig>/ routes.
type TransformHandler struct {
	svc      usecase.TransformService
	verifier *signature.Verifier
}

// NewTransformHandler creates a TransformHandler. verifier may be nil, in
// which case the signed route answers 404.
func NewTransformHandler(svc usecase.TransformService, verifier *signature.Verifier) *TransformHandler {
	return &TransformHandler{svc: svc, verifier: verifier}
}

// Serve handles GET and HEAD /t/*
func (h *TransformHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "*"))
}

// ServeSigned handles GET and HEAD /s--{sig}/*
func (h *TransformHandler) ServeSigned(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		Error(w, http.StatusNotFound, "not_found", "Signed URLs are not enabled")
		return
	}

	rest := chi.URLParam(r, "*")
	directives, filePath := transform.Split(rest)
	if err := h.verifier.Verify(chi.URLParam(r, "sig"), directives, filePath); err != nil {
		if errors.Is(err, signature.ErrUnsafePath) {
			Error(w, http.StatusBadRequest, "invalid_path", "Path contains parent-directory references")
			return
		}
		Error(w, http.StatusForbidden, "invalid_signature", "URL signature does not match")
		return
	}

	h.serve(w, r, rest)
}

func (h *TransformHandler) serve(w http.ResponseWriter, r *http.Request, path string) {
	out, err := h.svc.Transform(r.Context(), usecase.TransformInput{
		Path:      path,
		Accept:    r.Header.Get("Accept"),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	if out.ETag != "" && r.Header.Get("If-None-Match") == out.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	if out.ETag != "" {
		w.Header().Set("ETag", out.ETag)
	}
	if out.CacheControl != "" {
		w.Header().Set("Cache-Control", out.CacheControl)
	}
	for k, v := range out.Headers {
		w.Header().Set(k, v)
	}

	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(out.Data)
	}
}

func (h *TransformHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transform.ErrEmptyPath):
		Error(w, http.StatusBadRequest, "invalid_path", "Request carries no file path")
	case errors.Is(err, usecase.ErrOriginalNotFound):
		Error(w, http.StatusNotFound, "not_found", "Original file not found")
	case errors.Is(err, usecase.ErrUnsupportedMedia):
		Error(w, http.StatusBadRequest, "unsupported_media", "File type cannot be transformed")
	default:
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
