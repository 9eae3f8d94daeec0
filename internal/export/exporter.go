// Package export derives the evidence report, the payment instruction file,
// the review set and the audit document of a run from its ledger entries.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mvrga/speer/internal/ledger"
	"github.com/mvrga/speer/internal/metrics"
	"github.com/mvrga/speer/internal/models"
)

// ErrRunOpen is returned when writing exports for a run that is not sealed.
var ErrRunOpen = errors.New("run is still open")

const (
	KindAudit    = "audit"
	KindEvidence = "evidence"
	KindPayment  = "payment"
	KindReview   = "review"
)

// FileName is the deterministic artifact name of a run's export kind.
func FileName(kind, runID, ext string) string {
	return fmt.Sprintf("%s-%s.%s", kind, runID, ext)
}

// WriterFor returns the report writer for a configured format.
func WriterFor(format string) (TableWriter, error) {
	switch format {
	case "xlsx":
		return XLSXWriter{}, nil
	case "csv":
		return CSVWriter{}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

type Exporter struct {
	ledger  ledger.Ledger
	sink    Sink
	reports TableWriter
	// payments is always CSV: bank import tools expect it.
	payments TableWriter
	metrics  *metrics.Pipeline
	logger   *slog.Logger
}

// NewExporter writes the evidence report and review set with reports and the
// payment file as CSV. m may be nil.
func NewExporter(l ledger.Ledger, sink Sink, reports TableWriter, m *metrics.Pipeline, logger *slog.Logger) *Exporter {
	if reports == nil {
		reports = XLSXWriter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		ledger:   l,
		sink:     sink,
		reports:  reports,
		payments: CSVWriter{},
		metrics:  m,
		logger:   logger,
	}
}

// Build reads the run from the ledger and derives every artifact. It has no
// side effects; the same ledger state always yields the same bundle.
func (e *Exporter) Build(ctx context.Context, runID string) (Bundle, error) {
	run, err := e.ledger.GetRun(ctx, runID)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	records, err := e.ledger.ListForRun(ctx, runID)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to list records of run %s: %w", runID, err)
	}
	return buildBundle(run, records), nil
}

// Manifest reports where the artifacts of b are (or will be) stored.
func (e *Exporter) Manifest(b Bundle) models.ExportManifest {
	runID := b.Run.RunID
	return models.ExportManifest{
		RunID:        runID,
		AuditURI:     e.sink.Location(FileName(KindAudit, runID, "json")),
		EvidenceURI:  e.sink.Location(FileName(KindEvidence, runID, e.reports.Extension())),
		PaymentURI:   e.sink.Location(FileName(KindPayment, runID, e.payments.Extension())),
		ReviewURI:    e.sink.Location(FileName(KindReview, runID, e.reports.Extension())),
		EvidenceRows: len(b.Evidence.Rows),
		PaymentRows:  len(b.Payment.Rows),
		ReviewRows:   len(b.Review.Rows),
	}
}

// Write renders and stores every artifact of a sealed run.
func (e *Exporter) Write(ctx context.Context, runID string) (models.ExportManifest, error) {
	logCtx := e.logger.With("runId", runID)

	b, err := e.Build(ctx, runID)
	if err != nil {
		return models.ExportManifest{}, err
	}
	if !b.Run.Sealed() {
		return models.ExportManifest{}, fmt.Errorf("export run %s: %w", runID, ErrRunOpen)
	}

	audit, err := json.MarshalIndent(b.Audit, "", "  ")
	if err != nil {
		return models.ExportManifest{}, fmt.Errorf("failed to encode audit document: %w", err)
	}
	if _, err := e.sink.Put(ctx, FileName(KindAudit, runID, "json"), "application/json", audit); err != nil {
		return models.ExportManifest{}, err
	}
	e.metrics.ExportWritten(KindAudit)

	artifacts := []struct {
		kind   string
		table  Table
		writer TableWriter
	}{
		{KindEvidence, b.Evidence, e.reports},
		{KindPayment, b.Payment, e.payments},
		{KindReview, b.Review, e.reports},
	}
	for _, a := range artifacts {
		var buf bytes.Buffer
		if err := a.writer.Write(&buf, a.table); err != nil {
			return models.ExportManifest{}, fmt.Errorf("failed to render %s export: %w", a.kind, err)
		}
		if _, err := e.sink.Put(ctx, FileName(a.kind, runID, a.writer.Extension()), a.writer.ContentType(), buf.Bytes()); err != nil {
			return models.ExportManifest{}, err
		}
		e.metrics.ExportWritten(a.kind)
	}

	manifest := e.Manifest(b)
	logCtx.Info("Exports written",
		"evidenceRows", manifest.EvidenceRows,
		"paymentRows", manifest.PaymentRows,
		"reviewRows", manifest.ReviewRows)
	return manifest, nil
}
