package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/mvrga/speer/internal/config"
	"github.com/mvrga/speer/internal/gcp"
	"github.com/mvrga/speer/internal/logging"
	"github.com/mvrga/speer/internal/models"
)

// GCSEvent is the subset of a storage object-finalized event the ingest function reads.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	Generation  string `json:"generation"`
	ContentType string `json:"contentType"`
}

// uploadKey identifies one version of an object across redelivered events.
func (e GCSEvent) uploadKey() string {
	return fmt.Sprintf("gs://%s/%s#%s", e.Bucket, e.Name, e.Generation)
}

// objectReader loads an uploaded object.
type objectReader func(ctx context.Context, bucket, name string) ([]byte, error)

// IngestFunction turns every object uploaded as <prefix>/<runId>/<file> into
// one ledger record of that run.
type IngestFunction struct {
	runtime *Runtime
	read    objectReader
	prefix  string
}

func NewIngestFunction(ctx context.Context) (*IngestFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.Logging.Level, "json")
	slog.SetDefault(logger)

	rt, err := NewRuntime(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	if rt.Storage == nil {
		_ = rt.Close()
		return nil, fmt.Errorf("ingest function requires a gcs storage backend")
	}
	f := &IngestFunction{
		runtime: rt,
		read: func(ctx context.Context, bucket, name string) ([]byte, error) {
			return gcp.ReadGCSObject(ctx, rt.Storage.Bucket(bucket), name)
		},
		prefix: gcp.GetEnv("UPLOAD_PREFIX", "uploads"),
	}
	logger.Info("Ingest function initialized.", "uploadPrefix", f.prefix)
	return f, nil
}

// runObject splits <prefix>/<runId>/<file> into its run and file name.
func runObject(prefix, name string) (runID, file string, ok bool) {
	rest, found := strings.CutPrefix(name, strings.Trim(prefix, "/")+"/")
	if !found {
		return "", "", false
	}
	runID, file, found = strings.Cut(rest, "/")
	if !found || runID == "" || file == "" || strings.HasSuffix(file, "/") {
		return "", "", false
	}
	return runID, path.Base(file), true
}

// Process ingests one uploaded object. Objects outside the upload prefix are
// ignored. Only failures that leave the upload without a record are returned,
// so the platform retries them. Redelivered events for the same object
// generation return the record written the first time.
func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) (*models.Record, error) {
	logCtx := f.runtime.Logger.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	runID, name, ok := runObject(f.prefix, e.Name)
	if !ok {
		logCtx.Info("Object is not an upload, skipping.")
		return nil, nil
	}
	logCtx = logCtx.With("runId", runID)

	content, err := f.read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download upload", "error", err)
		return nil, err
	}
	if _, err := f.runtime.Pipeline.OpenRun(ctx, runID); err != nil {
		logCtx.Error("Failed to open run", "error", err)
		return nil, err
	}
	record, err := f.runtime.Pipeline.IngestOnce(ctx, e.uploadKey(), models.Upload{
		RunID:        runID,
		OriginalName: name,
		Content:      content,
		DeclaredType: e.ContentType,
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
