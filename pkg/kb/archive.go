package kb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads knowledge-base snapshots to durable object storage.
// Snapshots are content-addressed, so re-uploading identical state is
// idempotent.
type Archiver interface {
	// ArchiveSnapshot uploads the snapshot and returns its object key.
	ArchiveSnapshot(ctx context.Context, data []byte) (string, error)
}

// snapshotKey derives the content-addressed object key for a snapshot.
func snapshotKey(data []byte) string {
	sum := sha256.Sum256(data)
	return "snapshots/" + hex.EncodeToString(sum[:]) + ".json"
}

// S3Archiver stores snapshots in an S3 bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver wraps an existing S3 client.
func NewS3Archiver(client *s3.Client, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

func (a *S3Archiver) ArchiveSnapshot(ctx context.Context, data []byte) (string, error) {
	key := snapshotKey(data)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive snapshot to s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}

var _ Archiver = (*S3Archiver)(nil)
