package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mvrga/speer/internal/config"
	"github.com/mvrga/speer/internal/evidence"
	"github.com/mvrga/speer/internal/export"
	"github.com/mvrga/speer/internal/extract"
	"github.com/mvrga/speer/internal/gcp"
	"github.com/mvrga/speer/internal/ledger"
	"github.com/mvrga/speer/internal/metrics"
	"github.com/mvrga/speer/internal/ocr"
	"github.com/mvrga/speer/internal/pipeline"
)

// Runtime holds every component built from a Config. The functions and the
// CLI share it.
type Runtime struct {
	Config   config.Config
	Logger   *slog.Logger
	Pipeline *pipeline.Pipeline
	Ledger   ledger.Ledger
	Evidence evidence.Store
	Exporter *export.Exporter
	// Storage is nil unless a GCS backend is configured.
	Storage *storage.Client

	closers []func() error
}

// NewRuntime wires the configured backends. registerer may be nil to skip metrics.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger}
	if err := rt.build(ctx, registerer); err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("Runtime initialized.",
		"storage", cfg.Storage.Backend,
		"ledger", cfg.Ledger.Backend,
		"export", cfg.Export.Backend,
		"ocr", cfg.OCR.Enabled)
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, registerer prometheus.Registerer) error {
	cfg := rt.Config
	var err error

	if cfg.Storage.Backend == config.BackendGCS || cfg.Export.Backend == config.BackendGCS {
		rt.Storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		rt.closers = append(rt.closers, rt.Storage.Close)
	}

	if rt.Evidence, err = rt.openEvidence(); err != nil {
		return err
	}
	if rt.Ledger, err = rt.openLedger(ctx); err != nil {
		return err
	}
	recognizer, err := rt.openRecognizer(ctx)
	if err != nil {
		return err
	}

	var m *metrics.Pipeline
	if registerer != nil {
		m = metrics.NewPipeline(registerer)
	}

	reports, err := export.WriterFor(strings.ToLower(cfg.Export.Format))
	if err != nil {
		return err
	}
	sink, err := rt.exportSink()
	if err != nil {
		return err
	}
	rt.Exporter = export.NewExporter(rt.Ledger, sink, reports, m, rt.Logger)

	extractor := extract.NewExtractor(extract.ExtractorConfig{
		Recognizer:    recognizer,
		Directory:     extract.NewBankDirectory(cfg.Extraction.BICDirectory),
		PDFFallback:   cfg.OCR.PDFFallback,
		MinConfidence: cfg.OCR.MinConfidence,
		Logger:        rt.Logger,
	})

	rt.Pipeline, err = pipeline.New(pipeline.Config{
		Store:       rt.Evidence,
		Ledger:      rt.Ledger,
		Extractor:   extractor,
		Exporter:    rt.Exporter,
		Metrics:     m,
		Logger:      rt.Logger,
		Concurrency: cfg.Pipeline.Concurrency,
	})
	return err
}

func (rt *Runtime) openEvidence() (evidence.Store, error) {
	cfg := rt.Config.Storage
	switch cfg.Backend {
	case config.BackendMemory:
		return evidence.NewMemoryStore(), nil
	case config.BackendGCS:
		return evidence.NewGCSStore(rt.Storage, cfg.Bucket, cfg.Prefix), nil
	default:
		store, err := evidence.NewFilesystemStore(filepath.Join(rt.Config.DataDir, cfg.Prefix))
		if err != nil {
			return nil, fmt.Errorf("failed to open evidence directory: %w", err)
		}
		return store, nil
	}
}

func (rt *Runtime) openLedger(ctx context.Context) (ledger.Ledger, error) {
	cfg := rt.Config.Ledger
	switch cfg.Backend {
	case config.BackendMemory:
		return ledger.NewMemoryLedger(), nil
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, rt.Config.ProjectID, cfg.DatabaseID)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		return ledger.NewFirestoreLedger(client, cfg.Collection), nil
	default:
		l, err := ledger.NewFileLedger(filepath.Join(rt.Config.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger directory: %w", err)
		}
		return l, nil
	}
}

func (rt *Runtime) openRecognizer(ctx context.Context) (ocr.Recognizer, error) {
	cfg := rt.Config.OCR
	if !cfg.Enabled {
		return ocr.Disabled{}, nil
	}
	client, err := gcp.NewVertexClient(ctx, rt.Config.ProjectID, cfg.Region, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	rt.closers = append(rt.closers, client.Close)
	return ocr.NewVertexRecognizer(client, rt.Logger), nil
}

func (rt *Runtime) exportSink() (export.Sink, error) {
	cfg := rt.Config.Export
	if cfg.Backend == config.BackendGCS {
		return export.NewGCSSink(rt.Storage, cfg.Bucket, cfg.Prefix), nil
	}
	return export.NewDirSink(filepath.Join(rt.Config.DataDir, cfg.Prefix))
}

// Close releases the clients opened by NewRuntime.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
