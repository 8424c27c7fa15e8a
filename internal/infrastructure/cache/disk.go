package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskCache is a content-addressed local file cache for derived artifacts.
// File names embed the safe-encoded stem of the original path, which is
// what DeleteMatching scans for during invalidation.
type DiskCache struct {
	dir string
}

// NewDiskCache creates a disk cache rooted at dir.
func NewDiskCache(dir string) *DiskCache {
	return &DiskCache{dir: dir}
}

// Dir returns the cache root directory.
func (c *DiskCache) Dir() string {
	return c.dir
}

// Path resolves a cache file name to its absolute location.
func (c *DiskCache) Path(name string) string {
	return filepath.Join(c.dir, name)
}

// Exists reports whether the named artifact is cached locally.
func (c *DiskCache) Exists(name string) bool {
	info, err := os.Stat(c.Path(name))
	return err == nil && !info.IsDir()
}

// Read returns the cached bytes for name.
func (c *DiskCache) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(c.Path(name))
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return data, nil
}

// Write stores data under name, creating parent directories as needed.
// Writes are last-writer-wins; consumers re-read on miss.
func (c *DiskCache) Write(name string, data []byte) error {
	path := c.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Delete removes a single cached artifact. Missing files are not an error.
func (c *DiskCache) Delete(name string) error {
	err := os.Remove(c.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cache file: %w", err)
	}
	return nil
}

// DeleteMatching removes every cached artifact whose file name contains
// stem (the safe-encoded original path) and returns the number deleted.
func (c *DiskCache) DeleteMatching(stem string) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan cache directory: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.Contains(entry.Name(), stem) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
			deleted++
		}
	}
	return deleted, nil
}
