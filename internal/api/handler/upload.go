package handler

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/openinary/openinary/internal/usecase"
)

// uploadMemoryLimit is the in-memory threshold for multipart parsing;
// larger parts spill to temp files.
const uploadMemoryLimit = 32 << 20

// UploadHandler accepts multipart uploads of originals.
type UploadHandler struct {
	svc usecase.UploadService
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(svc usecase.UploadService) *UploadHandler {
	return &UploadHandler{svc: svc}
}

// Upload handles POST /upload. Files are taken from the "files" multipart
// field (with "file" as a fallback); an optional "dir" field selects the
// destination directory. Each file succeeds or fails independently.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Request is not valid multipart form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		Error(w, http.StatusBadRequest, "no_files", "No files in the request")
		return
	}

	dir := r.FormValue("dir")
	inputs := make([]usecase.UploadFileInput, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file")
			return
		}
		inputs = append(inputs, usecase.UploadFileInput{
			Filename: fh.Filename,
			Dir:      dir,
			Data:     data,
		})
	}

	out, err := h.svc.Upload(r.Context(), inputs)
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	switch {
	case out.AllFailed():
		JSON(w, http.StatusBadRequest, out)
	case out.Mixed():
		JSON(w, http.StatusMultiStatus, out)
	default:
		JSON(w, http.StatusOK, out)
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
