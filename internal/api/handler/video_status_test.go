package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/domain/repository"
	"github.com/openinary/openinary/internal/transform"
	"github.com/openinary/openinary/internal/usecase"
)

func newVideoStatusRouter(svc usecase.TransformService, storage repository.ObjectStorage) *chi.Mux {
	h := NewVideoStatusHandler(svc, storage)
	r := chi.NewRouter()
	r.Get("/video-status/*", h.Status)
	return r
}

func TestVideoStatusHandler_Status(t *testing.T) {
	job, err := model.NewJob("videos/clip.mp4", model.Params{Width: 640}, "cache/x.mp4", model.PriorityTransform, 3)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.Status = model.JobProcessing
	job.Progress = 42

	svc := &mockTransformService{
		statusFunc: func(ctx context.Context, path string) (*model.Job, error) {
			if path != "w_640/videos/clip.mp4" {
				t.Errorf("path = %q", path)
			}
			return job, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/video-status/w_640/videos/clip.mp4", nil)
	rec := httptest.NewRecorder()
	newVideoStatusRouter(svc, &mockStorage{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp videoStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "processing" || resp.Progress != 42 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestVideoStatusHandler_NotFound(t *testing.T) {
	svc := &mockTransformService{
		statusFunc: func(ctx context.Context, path string) (*model.Job, error) {
			return nil, repository.ErrJobNotFound
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/video-status/w_640/videos/clip.mp4", nil)
	rec := httptest.NewRecorder()
	newVideoStatusRouter(svc, &mockStorage{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestVideoStatusHandler_Size(t *testing.T) {
	filePath, params, err := transform.Parse("w_640/videos/clip.mp4")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	wantKey := transform.RemoteKey(filePath, params)

	storage := &mockStorage{
		statFunc: func(ctx context.Context, key string) (*repository.ObjectInfo, error) {
			if key != wantKey {
				t.Errorf("key = %q, want %q", key, wantKey)
			}
			return &repository.ObjectInfo{Key: key, Size: 4321}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/video-status/w_640/videos/clip.mp4/size", nil)
	rec := httptest.NewRecorder()
	newVideoStatusRouter(&mockTransformService{}, storage).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp videoSizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready || resp.Size != 4321 {
		t.Errorf("resp = %+v, want ready with size", resp)
	}
}

func TestVideoStatusHandler_SizeNotReady(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/video-status/w_640/videos/clip.mp4/size", nil)
	rec := httptest.NewRecorder()
	newVideoStatusRouter(&mockTransformService{}, &mockStorage{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp videoSizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Error("resp should report not ready when the artifact is absent")
	}
}
