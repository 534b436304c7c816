// Package azure implements the Azure Blob Storage artifact backend using
// shared key authentication.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/autothreat/autothreat-backend/internal/config"
	"github.com/autothreat/autothreat-backend/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Store, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStore implements the Store interface for Azure Blob Storage
type AzureStore struct {
	client        *azblob.Client
	containerName string
}

// New creates a new Azure Blob Storage artifact backend
func New(cfg *config.AzureStorageConfig) (*AzureStore, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStore{
		client:        client,
		containerName: cfg.ContainerName,
	}, nil
}

// Backend returns the backend name
func (s *AzureStore) Backend() string {
	return "azure"
}

// Locator returns the azure:// reference for a key
func (s *AzureStore) Locator(key string) string {
	return fmt.Sprintf("azure://%s/%s", s.containerName, key)
}

// Upload stores an artifact in Azure Blob Storage
func (s *AzureStore) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)

	_, err = blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.UploadResult{
		Key:     key,
		Locator: s.Locator(key),
		Size:    int64(len(data)),
	}, nil
}

// Download retrieves an artifact from Azure Blob Storage
func (s *AzureStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.containerName, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}

	return resp.Body, nil
}

// Delete removes an artifact from Azure Blob Storage
func (s *AzureStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerName, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}

	return nil
}

// Exists checks whether an artifact is present at key
func (s *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get blob properties: %w", err)
	}

	return true, nil
}
