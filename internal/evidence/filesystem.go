package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mvrga/speer/internal/models"
)

// FilesystemStore keeps evidence under a local directory.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates root if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory %s: %w", root, err)
	}
	return &FilesystemStore{root: root}, nil
}

// Put writes to a temp file and links it into place, so a reader never sees a
// partial object and an existing object is never replaced.
func (s *FilesystemStore) Put(_ context.Context, item models.EvidenceItem, content []byte) (string, error) {
	target := filepath.Join(s.root, filepath.FromSlash(objectKey("", item.SHA256)))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write evidence %s: %w", item.SHA256, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to sync evidence %s: %w", item.SHA256, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close evidence %s: %w", item.SHA256, err)
	}
	if err := os.Link(tmp.Name(), target); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("failed to publish evidence %s: %w", item.SHA256, err)
	}
	return target, nil
}

func (s *FilesystemStore) Get(_ context.Context, sha256 string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(objectKey("", sha256))))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence %s: %w", sha256, err)
	}
	return content, nil
}
