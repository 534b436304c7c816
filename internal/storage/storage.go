// Package storage defines the Store interface and common types for all SBOM
// artifact backends.
//
// New backends are added by implementing the Store interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Store, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"fmt"
	"io"
)

// Store defines the interface for SBOM artifact backends. Artifacts are
// raw SBOM documents, stored verbatim under a key derived from the owning
// project and SBOM record.
type Store interface {
	// Upload stores an artifact and returns its locator
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an artifact and returns a reader
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an artifact is present at key
	Exists(ctx context.Context, key string) (bool, error)

	// Backend returns the backend name: "local", "s3", "gcs", or "azure"
	Backend() string

	// Locator returns the scheme-prefixed reference recorded in the database
	// for an artifact at key, e.g. "s3://bucket/sboms/p/s.json"
	Locator(key string) string
}

// UploadResult contains information about a stored artifact
type UploadResult struct {
	// Key is the storage key the artifact was stored under
	Key string

	// Locator is the scheme-prefixed reference for the artifact
	Locator string

	// Size is the artifact size in bytes
	Size int64
}

// ArtifactKey returns the canonical storage key for an SBOM document
func ArtifactKey(projectID, sbomID string) string {
	return fmt.Sprintf("sboms/%s/%s.json", projectID, sbomID)
}
