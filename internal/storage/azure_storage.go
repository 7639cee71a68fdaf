package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// FileUploader copies a saved capture to remote storage
type FileUploader interface {
	UploadFile(ctx context.Context, path string) (string, error)
}

type azureStorage struct {
	client    *azblob.Client
	container string
}

// NewAzureStorage creates an uploader writing into container of the given account
func NewAzureStorage(accountName, accountKey, container string) (FileUploader, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid storage credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	return &azureStorage{client: client, container: container}, nil
}

// EnsureContainer creates the target container when it does not exist yet
func EnsureContainer(ctx context.Context, u FileUploader) error {
	s, ok := u.(*azureStorage)
	if !ok {
		return nil
	}
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", s.container, err)
	}
	return nil
}

// UploadFile uploads path under its base name and returns the blob name
func (s *azureStorage) UploadFile(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open capture: %w", err)
	}
	defer file.Close()

	blobName := filepath.Base(path)
	if _, err := s.client.UploadFile(ctx, s.container, blobName, file, nil); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return blobName, nil
}
