package evidence_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrga/speer/internal/evidence"
)

func TestHash(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", evidence.Hash([]byte("abc")))
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"invoice.pdf":              "invoice.pdf",
		"../../etc/passwd":         "passwd",
		`C:\Users\me\scan.png`:     "scan.png",
		"":                         "evidence",
		"   ":                      "evidence",
		"uploads/run-1/report.xml": "report.xml",
	}
	for in, want := range tests {
		assert.Equal(t, want, evidence.SafeName(in), in)
	}
}

func TestNewItem(t *testing.T) {
	item := evidence.NewItem("dir/Invoice.PDF", "", []byte("%PDF"))
	assert.Equal(t, "Invoice.PDF", item.OriginalName)
	assert.Equal(t, int64(4), item.ByteSize)
	assert.Equal(t, "application/pdf", item.MediaType)
	assert.Equal(t, evidence.Hash([]byte("%PDF")), item.SHA256)

	declared := evidence.NewItem("blob", "image/png", []byte{1})
	assert.Equal(t, "image/png", declared.MediaType)

	unknown := evidence.NewItem("blob", "", []byte{1})
	assert.Equal(t, "application/octet-stream", unknown.MediaType)
}

func TestMemoryStore_WriteOnce(t *testing.T) {
	ctx := context.Background()
	store := evidence.NewMemoryStore()
	content := []byte("invoice bytes")
	item := evidence.NewItem("a.pdf", "", content)

	loc, err := store.Put(ctx, item, content)
	require.NoError(t, err)
	assert.Equal(t, "memory://"+item.SHA256, loc)

	again, err := store.Put(ctx, item, content)
	require.NoError(t, err)
	assert.Equal(t, loc, again)
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(ctx, item.SHA256)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, evidence.ErrNotFound)
}

func TestFilesystemStore_PutGet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := evidence.NewFilesystemStore(root)
	require.NoError(t, err)

	content := []byte("scanned invoice")
	item := evidence.NewItem("scan.png", "", content)

	loc, err := store.Put(ctx, item, content)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, item.SHA256[:2], item.SHA256), loc)

	onDisk, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)

	// A second upload of the same bytes keeps the first object.
	again, err := store.Put(ctx, item, content)
	require.NoError(t, err)
	assert.Equal(t, loc, again)

	got, err := store.Get(ctx, item.SHA256)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entries, err := os.ReadDir(filepath.Dir(loc))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	_, err = store.Get(ctx, "0000")
	assert.ErrorIs(t, err, evidence.ErrNotFound)
}
