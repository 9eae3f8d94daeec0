// Package evidence persists raw uploaded bytes under their content hash.
// Stores are write-once: nothing is ever overwritten or deleted, and storing
// identical bytes twice keeps the first copy.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/mvrga/speer/internal/models"
)

// ErrNotFound is returned by Get for a hash that was never stored.
var ErrNotFound = errors.New("evidence not found")

// Store keeps evidence bytes keyed by their SHA-256.
type Store interface {
	// Put persists content for item and returns its location. Storing bytes
	// that are already present succeeds and returns the existing location.
	Put(ctx context.Context, item models.EvidenceItem, content []byte) (string, error)
	Get(ctx context.Context, sha256 string) ([]byte, error)
}

// Hash returns the hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NewItem describes an upload before it is stored.
func NewItem(originalName, declaredType string, content []byte) models.EvidenceItem {
	name := SafeName(originalName)
	mediaType := strings.TrimSpace(declaredType)
	if mediaType == "" {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return models.EvidenceItem{
		SHA256:       Hash(content),
		OriginalName: name,
		ByteSize:     int64(len(content)),
		MediaType:    mediaType,
	}
}

// SafeName keeps only the base name of an uploaded file.
func SafeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		return "evidence"
	}
	return base
}

// objectKey shards stored objects by the first two hex characters of the hash.
func objectKey(prefix, sha string) string {
	if len(sha) < 2 {
		return path.Join(prefix, sha)
	}
	return path.Join(prefix, sha[:2], sha)
}
