// Package local implements the local filesystem artifact backend. It is the
// development default and the fallback target when a cloud backend rejects a
// write during ingestion. It does not support horizontal scaling: multiple
// instances would need a shared filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/autothreat/autothreat-backend/internal/config"
	"github.com/autothreat/autothreat-backend/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Store, error) {
		return New(&cfg.Storage.Local)
	})
}

// LocalStore implements the Store interface for local filesystem storage
type LocalStore struct {
	basePath string
}

// New creates a new local filesystem backend
func New(cfg *config.LocalStorageConfig) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStore{basePath: cfg.BasePath}, nil
}

// Backend returns the backend name
func (s *LocalStore) Backend() string {
	return "local"
}

// Locator returns the local:// reference for a key
func (s *LocalStore) Locator(key string) string {
	return "local://" + key
}

// Upload stores an artifact in the local filesystem
func (s *LocalStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		// Clean up partial file
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &storage.UploadResult{
		Key:     key,
		Locator: s.Locator(key),
		Size:    written,
	}, nil
}

// Download retrieves an artifact from the local filesystem
func (s *LocalStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes an artifact from the local filesystem
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists checks whether an artifact is present at key
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
