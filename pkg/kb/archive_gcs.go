//go:build gcp

package kb

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSArchiver stores snapshots in a Google Cloud Storage bucket. Built only
// with the gcp tag to keep the default binary free of the GCP dependency
// tree.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver wraps an existing storage client.
func NewGCSArchiver(client *storage.Client, bucket string) *GCSArchiver {
	return &GCSArchiver{client: client, bucket: bucket}
}

func (a *GCSArchiver) ArchiveSnapshot(ctx context.Context, data []byte) (string, error) {
	key := snapshotKey(data)
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive snapshot to gs://%s/%s: %w", a.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive snapshot to gs://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}

var _ Archiver = (*GCSArchiver)(nil)
