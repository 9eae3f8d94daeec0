package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrga/speer/internal/evidence"
	"github.com/mvrga/speer/internal/export"
	"github.com/mvrga/speer/internal/extract"
	"github.com/mvrga/speer/internal/ledger"
	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/pipeline"
)

const scenarioText = "Invoice #123\nIBAN DE89370400440532013000\nTotal 450.00 EUR"

var fixedNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

// textLayer returns a fixed text for every PDF.
type textLayer string

func (l textLayer) Text(context.Context, []byte) (string, error) { return string(l), nil }

// failingStore rejects every write.
type failingStore struct{}

func (failingStore) Put(context.Context, models.EvidenceItem, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, evidence.ErrNotFound }

// flakyLedger fails the first failures appends and the first
// reserveFailures reservations.
type flakyLedger struct {
	*ledger.MemoryLedger
	failures        atomic.Int32
	reserveFailures atomic.Int32
}

func (l *flakyLedger) Reserve(ctx context.Context, runID string) (int, error) {
	if l.reserveFailures.Add(-1) >= 0 {
		return 0, errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Reserve(ctx, runID)
}

func (l *flakyLedger) Append(ctx context.Context, r models.Record) error {
	if l.failures.Add(-1) >= 0 {
		return errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Append(ctx, r)
}

type fixture struct {
	pipeline *pipeline.Pipeline
	ledger   ledger.Ledger
	store    *evidence.MemoryStore
	exports  string
}

func newFixture(t *testing.T, text string, opts ...func(*pipeline.Config)) fixture {
	t.Helper()
	l := ledger.NewMemoryLedger()
	store := evidence.NewMemoryStore()
	dir := t.TempDir()
	sink, err := export.NewDirSink(dir)
	require.NoError(t, err)

	var ids atomic.Int32
	cfg := pipeline.Config{
		Store:       store,
		Ledger:      l,
		Extractor:   extract.NewExtractor(extract.ExtractorConfig{TextLayer: textLayer(text)}),
		Exporter:    export.NewExporter(l, sink, export.CSVWriter{}, nil, nil),
		Concurrency: 3,
		Now:         func() time.Time { return fixedNow },
		NewRunID:    func() string { return fmt.Sprintf("run%d", ids.Add(1)) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := pipeline.New(cfg)
	require.NoError(t, err)
	return fixture{pipeline: p, ledger: cfg.Ledger, store: store, exports: dir}
}

func upload(name string, content string) models.Upload {
	return models.Upload{OriginalName: name, Content: []byte(content)}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{Ledger: ledger.NewMemoryLedger()})
	assert.Error(t, err)
}

func TestBatch_OneRecordPerUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)

	names := []string{"a.pdf", "b.zip", "c.png", "d.pdf", "e.xml", "f.txt", "g.pdf"}
	for i, name := range names {
		require.NoError(t, batch.Submit(ctx, upload(name, fmt.Sprintf("content %d", i))))
	}
	summary, err := batch.Close(ctx)
	require.NoError(t, err)

	assert.Equal(t, len(names), summary.Processed)
	assert.Equal(t, summary.Processed, summary.OK+summary.NeedsReview)
	for i, r := range summary.Records {
		assert.Equal(t, i+1, r.Seq)
		assert.Equal(t, names[i], r.OriginalName, "records keep upload order")
		if r.PaymentReady {
			assert.Equal(t, models.StatusOK, r.Status)
		}
	}
	assert.Equal(t, len(names), f.store.Len())

	run, err := f.ledger.GetRun(ctx, batch.RunID())
	require.NoError(t, err)
	assert.True(t, run.Sealed())
	require.NotNil(t, summary.Exports)
	assert.Equal(t, 3, summary.Exports.PaymentRows)
}

func TestIngest_PDFScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	content := "%PDF-1.4 invoice"
	r, err := f.pipeline.Ingest(ctx, models.Upload{RunID: batch.RunID(), OriginalName: "invoice.pdf", Content: []byte(content)})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyPDFText, r.StrategyUsed)
	assert.Equal(t, "123", r.Fields[models.FieldInvoiceNumber])
	assert.Equal(t, "DE89370400440532013000", r.Fields[models.FieldIBAN])
	assert.Equal(t, "450.00", r.Fields[models.FieldAmount])
	assert.Equal(t, "EUR", r.Fields[models.FieldCurrency])
	assert.Equal(t, models.StatusOK, r.Status)
	assert.True(t, r.PaymentReady)
	assert.Empty(t, r.Errors)
	assert.Equal(t, evidence.Hash([]byte(content)), r.SHA256)
	assert.Equal(t, "application/pdf", r.MediaType)
	assert.Equal(t, fixedNow, r.CreatedAt)

	stored, err := f.store.Get(ctx, r.SHA256)
	require.NoError(t, err)
	assert.Equal(t, content, string(stored))
}

func TestIngest_UnsupportedArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Submit(ctx, upload("archive.zip", "PK\x03\x04")))
	summary, err := batch.Close(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Records, 1)
	r := summary.Records[0]
	assert.Equal(t, models.StrategyNone, r.StrategyUsed)
	assert.Equal(t, models.StatusNeedsReview, r.Status)
	assert.False(t, r.PaymentReady)
	assert.Equal(t, []string{"unsupported format: zip"}, r.Errors)
	assert.Equal(t, 0, summary.Exports.PaymentRows)
	assert.Equal(t, 1, summary.Exports.ReviewRows)
}

func TestIngest_PDFWithoutTextLayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "   ")

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	r, err := f.pipeline.Ingest(ctx, models.Upload{RunID: batch.RunID(), OriginalName: "scan.pdf", Content: []byte("%PDF")})
	require.NoError(t, err)

	assert.Equal(t, models.StatusNeedsReview, r.Status)
	assert.False(t, r.PaymentReady)
	assert.Contains(t, r.Errors, "pdf_text: no extractable text layer")
}

func TestStartRun_DistinctRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	var runIDs []string
	for i := 0; i < 2; i++ {
		batch, err := f.pipeline.StartRun(ctx)
		require.NoError(t, err)
		require.NoError(t, batch.Submit(ctx, upload("invoice.pdf", "%PDF")))
		summary, err := batch.Close(ctx)
		require.NoError(t, err)
		assert.Len(t, summary.Records, 1)
		runIDs = append(runIDs, summary.RunID)
	}
	assert.NotEqual(t, runIDs[0], runIDs[1])

	for _, id := range runIDs {
		records, err := f.ledger.ListForRun(ctx, id)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	}
}

func TestStartRun_RetriesTakenRunID(t *testing.T) {
	ctx := context.Background()
	calls := 0
	f := newFixture(t, scenarioText, func(c *pipeline.Config) {
		c.NewRunID = func() string {
			calls++
			if calls == 1 {
				return "taken"
			}
			return "fresh"
		}
	})
	require.NoError(t, f.ledger.BeginRun(ctx, models.Run{RunID: "taken", Timestamp: fixedNow}))

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", batch.RunID())
}

func TestOpenRun_AttachesToExistingRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	first, err := f.pipeline.OpenRun(ctx, "upload-run")
	require.NoError(t, err)
	require.NoError(t, first.Submit(ctx, upload("a.pdf", "a")))
	require.NoError(t, first.Wait())

	second, err := f.pipeline.OpenRun(ctx, "upload-run")
	require.NoError(t, err)
	require.NoError(t, second.Submit(ctx, upload("b.pdf", "b")))
	require.NoError(t, second.Wait())

	records, err := f.ledger.ListForRun(ctx, "upload-run")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestIngest_EvidenceStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText, func(c *pipeline.Config) { c.Store = failingStore{} })

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	r, err := f.pipeline.Ingest(ctx, models.Upload{RunID: batch.RunID(), OriginalName: "invoice.pdf", Content: []byte("%PDF")})
	require.NoError(t, err)

	assert.Equal(t, "memory:invoice.pdf", r.FilePath)
	assert.Equal(t, models.StatusNeedsReview, r.Status)
	assert.False(t, r.PaymentReady)
	require.NotEmpty(t, r.Errors)
	assert.Equal(t, "evidence store: bucket unavailable", r.Errors[0])
	assert.Equal(t, "123", r.Fields[models.FieldInvoiceNumber], "extraction still runs")
}

func TestBatch_LedgerFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger()}
	flaky.failures.Store(1)
	f := newFixture(t, scenarioText, func(c *pipeline.Config) {
		c.Ledger = flaky
		c.Exporter = nil
	})

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	u := upload("invoice.pdf", "%PDF")
	require.NoError(t, batch.Submit(ctx, u))

	_, err = batch.Close(ctx)
	var ierr *pipeline.IngestError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Seq)
	assert.Equal(t, "invoice.pdf", ierr.Name)
	assert.EqualError(t, errors.Unwrap(ierr), "ledger unavailable")

	run, err := f.ledger.GetRun(ctx, batch.RunID())
	require.NoError(t, err)
	assert.False(t, run.Sealed(), "a run with failed uploads stays open")

	require.NoError(t, batch.Retry(ctx, ierr, u))
	summary, err := batch.Close(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, 1, summary.Records[0].Seq)
	assert.Nil(t, summary.Exports)
}

func TestIngest_UnknownRun(t *testing.T) {
	f := newFixture(t, scenarioText)
	_, err := f.pipeline.Ingest(context.Background(), models.Upload{RunID: "missing", OriginalName: "a.pdf"})

	var ierr *pipeline.IngestError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ledger.ErrRunNotFound)
}

func TestExport_SealedRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Submit(ctx, upload("invoice.pdf", "%PDF")))
	require.NoError(t, batch.Submit(ctx, upload("archive.zip", "PK")))
	first, err := batch.Close(ctx)
	require.NoError(t, err)

	second, err := f.pipeline.Export(ctx, batch.RunID(), true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExport_OpenRunIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	_, err = f.pipeline.Export(ctx, batch.RunID(), false)
	assert.ErrorIs(t, err, export.ErrRunOpen)
}

func TestBatch_RetryBeforeReservation(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger()}
	flaky.reserveFailures.Store(1)
	f := newFixture(t, scenarioText, func(c *pipeline.Config) { c.Ledger = flaky })

	batch, err := f.pipeline.StartRun(ctx)
	require.NoError(t, err)
	u := upload("invoice.pdf", "%PDF")

	err = batch.Submit(ctx, u)
	var ierr *pipeline.IngestError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 0, ierr.Seq)
	require.Error(t, batch.Wait())

	require.NoError(t, batch.Retry(ctx, ierr, u))
	summary, err := batch.Close(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, 1, summary.Records[0].Seq)

	err = batch.Retry(ctx, &pipeline.IngestError{RunID: "other", Seq: 1}, u)
	assert.Error(t, err)
}

func TestIngestOnce(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger()}
	flaky.failures.Store(1)
	f := newFixture(t, scenarioText, func(c *pipeline.Config) { c.Ledger = flaky })
	_, err := f.pipeline.OpenRun(ctx, "events")
	require.NoError(t, err)

	a := models.Upload{RunID: "events", OriginalName: "a.pdf", Content: []byte("%PDF a")}
	b := models.Upload{RunID: "events", OriginalName: "b.pdf", Content: []byte("%PDF b")}

	_, err = f.pipeline.IngestOnce(ctx, "in/uploads/events/a.pdf#1", a)
	var ierr *pipeline.IngestError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Seq)

	tests := []struct {
		name    string
		key     string
		upload  models.Upload
		wantSeq int
	}{
		{"redelivery after failed append reuses seq", "in/uploads/events/a.pdf#1", a, 1},
		{"duplicate delivery returns stored record", "in/uploads/events/a.pdf#1", a, 1},
		{"new key reserves next seq", "in/uploads/events/b.pdf#1", b, 2},
		{"new generation of same object is a new upload", "in/uploads/events/a.pdf#2", a, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := f.pipeline.IngestOnce(ctx, tt.key, tt.upload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeq, r.Seq)
			assert.Equal(t, tt.upload.OriginalName, r.OriginalName)
		})
	}

	records, err := f.ledger.ListForRun(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, records, 3)
	run, err := f.ledger.GetRun(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 3, run.RecordCount)
}

func TestExport_SealRequiresEveryReservedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scenarioText)
	_, err := f.pipeline.OpenRun(ctx, "gappy")
	require.NoError(t, err)

	_, err = f.ledger.Reserve(ctx, "gappy")
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, models.Upload{RunID: "gappy", OriginalName: "invoice.pdf", Content: []byte("%PDF")})
	require.NoError(t, err)
	_, err = f.ledger.Reserve(ctx, "gappy")
	require.NoError(t, err)

	_, err = f.pipeline.Export(ctx, "gappy", true)
	require.ErrorIs(t, err, pipeline.ErrIncompleteRun)
	assert.EqualError(t, err, "run has reserved uploads without a record: run gappy is missing seq 1, 3")

	run, err := f.ledger.GetRun(ctx, "gappy")
	require.NoError(t, err)
	assert.False(t, run.Sealed())
}
