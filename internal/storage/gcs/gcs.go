// Package gcs implements the Google Cloud Storage artifact backend. Supports
// Application Default Credentials, service account JSON keys, and Workload
// Identity for keyless authentication in GKE environments.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/autothreat/autothreat-backend/internal/config"
	appstorage "github.com/autothreat/autothreat-backend/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Store, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStore implements the Store interface for Google Cloud Storage
type GCSStore struct {
	client *storage.Client
	bucket string
}

// New creates a new Google Cloud Storage artifact backend. When neither a
// credentials file nor inline JSON is configured, Application Default
// Credentials are used (GOOGLE_APPLICATION_CREDENTIALS, metadata service,
// gcloud auth application-default login).
func New(cfg *appconfig.GCSStorageConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Close closes the GCS client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Backend returns the backend name
func (s *GCSStore) Backend() string {
	return "gcs"
}

// Locator returns the gcs:// reference for a key
func (s *GCSStore) Locator(key string) string {
	return fmt.Sprintf("gcs://%s/%s", s.bucket, key)
}

// Upload stores an artifact in GCS
func (s *GCSStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"

	written, err := io.Copy(writer, reader)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize GCS write: %w", err)
	}

	return &appstorage.UploadResult{
		Key:     key,
		Locator: s.Locator(key),
		Size:    written,
	}, nil
}

// Download retrieves an artifact from GCS
func (s *GCSStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}

	return reader, nil
}

// Delete removes an artifact from GCS
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}

// Exists checks whether an artifact is present at key
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat GCS object: %w", err)
	}

	return true, nil
}
