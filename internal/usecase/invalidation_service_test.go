package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openinary/openinary/internal/domain/model"
	"github.com/openinary/openinary/internal/infrastructure/cache"
	"github.com/openinary/openinary/internal/transform"
)

func TestInvalidate_SweepsAllTiers(t *testing.T) {
	storage := newFakeStorage()
	existence := cache.NewExistenceCache()
	disk := cache.NewDiskCache(t.TempDir())
	policy := cache.NewPolicy(1 << 30)
	svc := NewInvalidationService(storage, existence, disk, policy)

	// Two artifacts of the target original, one of an unrelated original.
	p1 := model.Params{Width: 100, Format: "webp"}
	p2 := model.Params{Width: 200, Format: "avif"}
	k1 := transform.RemoteKey("photos/cat.jpg", p1)
	k2 := transform.RemoteKey("photos/cat.jpg", p2)
	other := transform.RemoteKey("photos/dog.jpg", p1)
	meta := map[string]string{transform.MetadataOriginalPath: "photos/cat.jpg"}
	storage.put(k1, []byte("a"), meta)
	storage.put(k2, []byte("b"), meta)
	storage.put(other, []byte("c"), map[string]string{transform.MetadataOriginalPath: "photos/dog.jpg"})

	if err := disk.Write(transform.LocalName("photos/cat.jpg", p1), []byte("a")); err != nil {
		t.Fatalf("seed disk: %v", err)
	}
	if err := disk.Write(transform.LocalName("photos/dog.jpg", p1), []byte("c")); err != nil {
		t.Fatalf("seed disk: %v", err)
	}

	existence.Set(k1, true)
	existence.Set(k2, true)
	existence.Set(other, true)
	policy.RecordWrite("photos/cat.jpg", 100)

	result, err := svc.Invalidate(context.Background(), "photos/cat.jpg")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if result.LocalDeleted != 1 {
		t.Errorf("LocalDeleted = %d, want 1", result.LocalDeleted)
	}
	if result.RemoteDeleted != 2 {
		t.Errorf("RemoteDeleted = %d, want 2", result.RemoteDeleted)
	}
	if result.ExistenceCleared != 2 {
		t.Errorf("ExistenceCleared = %d, want 2", result.ExistenceCleared)
	}

	if storage.has(k1) || storage.has(k2) {
		t.Error("target artifacts should be gone from the store")
	}
	if !storage.has(other) {
		t.Error("unrelated artifact must survive")
	}
	if _, known := existence.Get(k1); known {
		t.Error("existence entry for deleted key should be cleared")
	}
	if _, known := existence.Get(other); !known {
		t.Error("unrelated existence entry must survive")
	}
	if !disk.Exists(transform.LocalName("photos/dog.jpg", p1)) {
		t.Error("unrelated disk artifact must survive")
	}
	if policy.TrackedBytes() != 0 {
		t.Errorf("TrackedBytes = %d, want forgotten", policy.TrackedBytes())
	}
}

func TestDeleteAsset_Cascade(t *testing.T) {
	storage := newFakeStorage()
	existence := cache.NewExistenceCache()
	disk := cache.NewDiskCache(t.TempDir())
	policy := cache.NewPolicy(1 << 30)
	jobs := newFakeJobStore()
	inv := NewInvalidationService(storage, existence, disk, policy)
	publicDir := t.TempDir()
	svc := NewAssetService(storage, jobs, existence, inv, publicDir)

	// Remote original with one derived artifact and one job.
	storage.put(transform.OriginalKey("videos/clip.mp4"), []byte("original"), nil)
	params := model.Params{Width: 640, Height: 360, Crop: model.CropFill}
	cacheKey := transform.RemoteKey("videos/clip.mp4", params)
	storage.put(cacheKey, []byte("derived"), map[string]string{transform.MetadataOriginalPath: "videos/clip.mp4"})

	job, err := model.NewJob("videos/clip.mp4", params, cacheKey, model.PriorityTransform, 3)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.Status = model.JobCompleted
	jobs.jobs[job.ID] = job

	result, err := svc.DeleteAsset(context.Background(), "videos/clip.mp4")
	if err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}

	if result.JobsDeleted != 1 {
		t.Errorf("JobsDeleted = %d, want 1", result.JobsDeleted)
	}
	if !result.OriginalDeleted {
		t.Error("original should be deleted")
	}
	if result.Invalidation == nil || result.Invalidation.RemoteDeleted != 1 {
		t.Errorf("invalidation = %+v, want one remote artifact removed", result.Invalidation)
	}
	if storage.has(transform.OriginalKey("videos/clip.mp4")) {
		t.Error("remote original should be gone")
	}
	if jobs.count() != 0 {
		t.Errorf("jobs = %d, want 0", jobs.count())
	}
}

func TestDeleteAsset_LocalOriginal(t *testing.T) {
	storage := newFakeStorage()
	existence := cache.NewExistenceCache()
	disk := cache.NewDiskCache(t.TempDir())
	policy := cache.NewPolicy(1 << 30)
	inv := NewInvalidationService(storage, existence, disk, policy)
	publicDir := t.TempDir()
	svc := NewAssetService(storage, newFakeJobStore(), existence, inv, publicDir)

	localPath := filepath.Join(publicDir, "photos/cat.jpg")
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(localPath, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := svc.DeleteAsset(context.Background(), "photos/cat.jpg")
	if err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	if !result.OriginalDeleted {
		t.Error("local original should be deleted")
	}
	if _, err := os.Stat(localPath); !os.IsNotExist(err) {
		t.Error("local file should be gone")
	}
}

func TestDeleteAsset_MissingOriginal(t *testing.T) {
	storage := newFakeStorage()
	existence := cache.NewExistenceCache()
	disk := cache.NewDiskCache(t.TempDir())
	inv := NewInvalidationService(storage, existence, disk, cache.NewPolicy(1<<30))
	svc := NewAssetService(storage, newFakeJobStore(), existence, inv, t.TempDir())

	if _, err := svc.DeleteAsset(context.Background(), "absent.jpg"); err == nil {
		t.Error("expected error for missing asset")
	}
}
