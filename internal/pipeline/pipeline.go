// Package pipeline ties evidence storage, extraction, classification and the
// audit ledger together. Every upload yields exactly one ledger record; only a
// failed ledger write is reported as an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mvrga/speer/internal/classify"
	"github.com/mvrga/speer/internal/evidence"
	"github.com/mvrga/speer/internal/export"
	"github.com/mvrga/speer/internal/extract"
	"github.com/mvrga/speer/internal/ledger"
	"github.com/mvrga/speer/internal/metrics"
	"github.com/mvrga/speer/internal/models"
)

// ErrIncompleteRun is returned when sealing a run that has reserved sequence
// numbers without a record.
var ErrIncompleteRun = errors.New("run has reserved uploads without a record")

// IngestError reports an upload whose record could not be written to the
// ledger. The reserved Seq stays valid, so the upload can be retried.
type IngestError struct {
	RunID string
	Seq   int
	Name  string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s (run %s, seq %d): %v", e.Name, e.RunID, e.Seq, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Extractor is the field extraction capability the pipeline depends on.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input, strategy models.Strategy) models.ExtractionResult
}

// Config wires a Pipeline. Store, Ledger and Extractor are required.
type Config struct {
	Store     evidence.Store
	Ledger    ledger.Ledger
	Extractor Extractor
	// Exporter is optional; without it Close seals the run but writes nothing.
	Exporter    *export.Exporter
	Metrics     *metrics.Pipeline
	Logger      *slog.Logger
	Concurrency int
	Now         func() time.Time
	NewRunID    func() string
}

type Pipeline struct {
	store       evidence.Store
	ledger      ledger.Ledger
	extractor   Extractor
	exporter    *export.Exporter
	metrics     *metrics.Pipeline
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
	newRunID    func() string
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Extractor == nil {
		return nil, errors.New("pipeline needs an evidence store, a ledger and an extractor")
	}
	p := &Pipeline{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		extractor:   cfg.Extractor,
		exporter:    cfg.Exporter,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
		newRunID:    cfg.NewRunID,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newRunID == nil {
		p.newRunID = NewRunID
	}
	return p, nil
}

// NewRunID returns a short random run identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

const runIDAttempts = 3

// StartRun begins a new run under a fresh identifier.
func (p *Pipeline) StartRun(ctx context.Context) (*Batch, error) {
	var lastErr error
	for i := 0; i < runIDAttempts; i++ {
		run := models.Run{RunID: p.newRunID(), Timestamp: p.now().UTC()}
		err := p.ledger.BeginRun(ctx, run)
		if err == nil {
			p.logger.Info("Run started", "runId", run.RunID)
			return newBatch(p, run.RunID), nil
		}
		if !errors.Is(err, ledger.ErrRunExists) {
			return nil, fmt.Errorf("failed to begin run: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to allocate a run id: %w", lastErr)
}

// OpenRun attaches to runID, beginning it when it does not exist yet. Uploads
// arriving one by one for the same run use this.
func (p *Pipeline) OpenRun(ctx context.Context, runID string) (*Batch, error) {
	err := p.ledger.BeginRun(ctx, models.Run{RunID: runID, Timestamp: p.now().UTC()})
	if err != nil && !errors.Is(err, ledger.ErrRunExists) {
		return nil, fmt.Errorf("failed to begin run %s: %w", runID, err)
	}
	return newBatch(p, runID), nil
}

// Ingest processes a single upload synchronously and returns its record.
func (p *Pipeline) Ingest(ctx context.Context, upload models.Upload) (models.Record, error) {
	seq, err := p.ledger.Reserve(ctx, upload.RunID)
	if err != nil {
		p.metrics.IngestFailed()
		return models.Record{}, &IngestError{RunID: upload.RunID, Name: evidence.SafeName(upload.OriginalName), Err: err}
	}
	return p.process(ctx, upload.RunID, seq, upload)
}

// IngestOnce is Ingest for uploads that may be delivered more than once. key
// identifies the upload: a repeated key returns the record already written,
// or processes the upload again under the seq reserved the first time.
func (p *Pipeline) IngestOnce(ctx context.Context, key string, upload models.Upload) (models.Record, error) {
	name := evidence.SafeName(upload.OriginalName)
	res, err := p.ledger.ReserveKey(ctx, upload.RunID, key)
	if err != nil {
		p.metrics.IngestFailed()
		return models.Record{}, &IngestError{RunID: upload.RunID, Name: name, Err: err}
	}
	logCtx := p.logger.With("runId", upload.RunID, "seq", res.Seq, "key", key)
	if res.Record != nil {
		logCtx.Info("Upload already recorded, skipping")
		return *res.Record, nil
	}
	record, err := p.process(ctx, upload.RunID, res.Seq, upload)
	if errors.Is(err, ledger.ErrDuplicateRecord) {
		// A concurrent delivery of the same key won the append.
		if existing, lookupErr := p.recordAt(ctx, upload.RunID, res.Seq); lookupErr == nil {
			logCtx.Info("Upload recorded by a concurrent delivery")
			return existing, nil
		}
	}
	return record, err
}

func (p *Pipeline) recordAt(ctx context.Context, runID string, seq int) (models.Record, error) {
	records, err := p.ledger.ListForRun(ctx, runID)
	if err != nil {
		return models.Record{}, err
	}
	for _, r := range records {
		if r.Seq == seq {
			return r, nil
		}
	}
	return models.Record{}, fmt.Errorf("run %s has no record for seq %d", runID, seq)
}

// Export seals the run when asked to, writes its artifacts and summarizes it.
// Sealing an already sealed run is not an error. An open run is only sealed
// once every reserved seq has its record.
func (p *Pipeline) Export(ctx context.Context, runID string, seal bool) (models.RunSummary, error) {
	if seal {
		if err := p.checkComplete(ctx, runID); err != nil {
			return models.RunSummary{}, err
		}
		if _, err := p.ledger.SealRun(ctx, runID, p.now()); err != nil && !errors.Is(err, ledger.ErrRunSealed) {
			return models.RunSummary{}, fmt.Errorf("failed to seal run %s: %w", runID, err)
		}
	}
	summary, err := p.Summary(ctx, runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	if p.exporter == nil {
		return summary, nil
	}
	manifest, err := p.exporter.Write(ctx, runID)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to export run %s: %w", runID, err)
	}
	summary.Exports = &manifest
	return summary, nil
}

// checkComplete fails with ErrIncompleteRun naming every reserved seq of an
// open run that has no record yet.
func (p *Pipeline) checkComplete(ctx context.Context, runID string) error {
	run, err := p.ledger.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if run.Sealed() {
		return nil
	}
	records, err := p.ledger.ListForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list records of run %s: %w", runID, err)
	}
	missing := missingSeqs(run.RecordCount, records)
	if len(missing) == 0 {
		return nil
	}
	seqs := make([]string, len(missing))
	for i, seq := range missing {
		seqs[i] = strconv.Itoa(seq)
	}
	return fmt.Errorf("%w: run %s is missing seq %s", ErrIncompleteRun, runID, strings.Join(seqs, ", "))
}

// missingSeqs lists the seqs in 1..reserved without a record, ascending.
func missingSeqs(reserved int, records []models.Record) []int {
	seen := make(map[int]bool, len(records))
	for _, r := range records {
		seen[r.Seq] = true
	}
	var missing []int
	for seq := 1; seq <= reserved; seq++ {
		if !seen[seq] {
			missing = append(missing, seq)
		}
	}
	return missing
}

// Summary counts the run's records by status.
func (p *Pipeline) Summary(ctx context.Context, runID string) (models.RunSummary, error) {
	records, err := p.ledger.ListForRun(ctx, runID)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to list records of run %s: %w", runID, err)
	}
	s := models.RunSummary{RunID: runID, Processed: len(records), Records: records}
	for _, r := range records {
		switch r.Status {
		case models.StatusOK:
			s.OK++
		case models.StatusNeedsReview:
			s.NeedsReview++
		}
	}
	return s, nil
}

// process turns one upload into its ledger record under a reserved seq.
func (p *Pipeline) process(ctx context.Context, runID string, seq int, upload models.Upload) (models.Record, error) {
	name := evidence.SafeName(upload.OriginalName)
	logCtx := p.logger.With("runId", runID, "seq", seq, "name", name)

	item := evidence.NewItem(name, upload.DeclaredType, upload.Content)
	var storeErr string
	location, err := p.store.Put(ctx, item, upload.Content)
	if err != nil {
		logCtx.Warn("Evidence store failed, keeping record in memory", "error", err, "sha256", item.SHA256)
		p.metrics.EvidenceStoreFailed()
		item.Location = "memory:" + name
		storeErr = "evidence store: " + err.Error()
	} else {
		item.Location = location
	}

	strategy := extract.ClassifyFormat(name, upload.DeclaredType)
	started := time.Now()
	result := p.extractor.Extract(ctx, extract.Input{Name: name, MediaType: item.MediaType, Content: upload.Content}, strategy)
	p.metrics.ObserveExtraction(string(result.StrategyUsed), time.Since(started))

	verdict := classify.Classify(result)
	errs := verdict.Errors
	if storeErr != "" {
		errs = append([]string{storeErr}, errs...)
		verdict.Status = models.StatusNeedsReview
		verdict.PaymentReady = false
	}
	if errs == nil {
		errs = []string{}
	}
	fields := result.Fields
	if fields == nil {
		fields = models.Fields{}
	}

	record := models.Record{
		RunID:        runID,
		Seq:          seq,
		FilePath:     item.Location,
		SHA256:       item.SHA256,
		OriginalName: name,
		ByteSize:     item.ByteSize,
		MediaType:    item.MediaType,
		StrategyUsed: result.StrategyUsed,
		Fields:       fields,
		Status:       verdict.Status,
		PaymentReady: verdict.PaymentReady,
		Errors:       errs,
		Attempts:     result.Attempts,
		CreatedAt:    p.now().UTC(),
	}

	if err := p.ledger.Append(ctx, record); err != nil {
		logCtx.Error("Failed to append record", "error", err)
		p.metrics.IngestFailed()
		return record, &IngestError{RunID: runID, Seq: seq, Name: name, Err: err}
	}
	p.metrics.RecordWritten(string(record.Status), string(record.StrategyUsed), record.PaymentReady)
	logCtx.Info("Record appended",
		"status", record.Status,
		"paymentReady", record.PaymentReady,
		"strategy", record.StrategyUsed,
		"errors", len(record.Errors))
	return record, nil
}
