package evidence

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/mvrga/speer/internal/gcp"
	"github.com/mvrga/speer/internal/models"
)

// GCSStore keeps evidence in a Cloud Storage bucket using DoesNotExist
// preconditions, so objects are created once and never replaced.
type GCSStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

func NewGCSStore(client *storage.Client, bucketName, prefix string) *GCSStore {
	return &GCSStore{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		prefix:     prefix,
	}
}

func (s *GCSStore) Put(ctx context.Context, item models.EvidenceItem, content []byte) (string, error) {
	objectName := objectKey(s.prefix, item.SHA256)
	if _, err := gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, item.MediaType, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucketName, objectName), nil
}

func (s *GCSStore) Get(ctx context.Context, sha256 string) ([]byte, error) {
	content, err := gcp.ReadGCSObject(ctx, s.bucket, objectKey(s.prefix, sha256))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	return content, err
}
