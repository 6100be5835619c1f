package gcsuploader

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/dre-pipeline/internal/gcs"
)

// Re-export interface from shared package
type Stager = gcs.Stager

// GCSStager is the concrete implementation of Stager backed by Google Cloud Storage.
// It assumes Application Default Credentials are configured.
type GCSStager struct {
	client *storage.Client
	bucket string
}

// NewGCSStager creates a stager with a shared storage client.
func NewGCSStager(ctx context.Context, bucket string) (*GCSStager, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStager: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStager: create storage client: %w", err)
	}
	return &GCSStager{client: client, bucket: bucket}, nil
}

// Stage uploads data to gs://<bucket>/uploads/<fileName>.
func (s *GCSStager) Stage(ctx context.Context, fileName string, data []byte) (string, error) {
	object := ObjectPath(fileName)
	if err := UploadBytes(ctx, s.client, s.bucket, object, data); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// Fetch delegates to FetchFromGCS with the shared client.
func (s *GCSStager) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return FetchFromGCS(ctx, s.client, uri)
}

// Close closes the storage client.
func (s *GCSStager) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// NopStager discards artifacts. Used when staging is disabled.
type NopStager struct{}

func (NopStager) Stage(ctx context.Context, fileName string, data []byte) (string, error) {
	return "", nil
}

func (NopStager) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return nil, fmt.Errorf("staging disabled: cannot fetch %s", uri)
}

var (
	_ Stager = (*GCSStager)(nil)
	_ Stager = NopStager{}
)
