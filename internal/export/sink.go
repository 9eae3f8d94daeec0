package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/mvrga/speer/internal/gcp"
)

// Sink stores finished export artifacts under deterministic names.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	// Location is where Put stores name.
	Location(name string) string
}

// DirSink writes artifacts into a local directory, replacing earlier exports of the same name.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Location(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *DirSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	target := s.Location(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp export file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write export %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close export %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move export %s into place: %w", name, err)
	}
	return target, nil
}

// GCSSink writes artifacts to a bucket. Objects are created once; a sealed
// run always produces the same artifacts, so an existing object is kept.
type GCSSink struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

func NewGCSSink(client *storage.Client, bucketName, prefix string) *GCSSink {
	return &GCSSink{bucket: client.Bucket(bucketName), bucketName: bucketName, prefix: prefix}
}

func (s *GCSSink) objectName(name string) string {
	return path.Join(s.prefix, name)
}

func (s *GCSSink) Location(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucketName, s.objectName(name))
}

func (s *GCSSink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if _, err := gcp.SaveToGCSAtomically(ctx, s.bucket, s.objectName(name), contentType, data); err != nil {
		return "", fmt.Errorf("failed to upload export %s: %w", name, err)
	}
	return s.Location(name), nil
}
