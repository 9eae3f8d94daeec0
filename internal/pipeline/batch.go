package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mvrga/speer/internal/evidence"
	"github.com/mvrga/speer/internal/models"
)

// Batch collects the uploads of one run and processes them in parallel.
// Upload order is fixed when Submit reserves a sequence number, not when
// processing finishes. A failing upload never cancels the others.
type Batch struct {
	p     *Pipeline
	runID string
	group errgroup.Group

	mu   sync.Mutex
	errs []error
}

func newBatch(p *Pipeline, runID string) *Batch {
	b := &Batch{p: p, runID: runID}
	b.group.SetLimit(p.concurrency)
	return b
}

func (b *Batch) RunID() string { return b.runID }

// Submit reserves the next sequence number and schedules the upload. It
// blocks while the concurrency limit is reached. The returned error only
// covers the reservation; processing errors surface from Wait.
func (b *Batch) Submit(ctx context.Context, upload models.Upload) error {
	upload.RunID = b.runID
	seq, err := b.p.ledger.Reserve(ctx, b.runID)
	if err != nil {
		b.p.metrics.IngestFailed()
		ierr := &IngestError{RunID: b.runID, Name: evidence.SafeName(upload.OriginalName), Err: err}
		b.record(ierr)
		return ierr
	}
	b.schedule(ctx, seq, upload)
	return nil
}

// Retry processes an upload again under the sequence number of a failed
// attempt. A failure that never got a sequence number is submitted afresh.
func (b *Batch) Retry(ctx context.Context, failed *IngestError, upload models.Upload) error {
	if failed.RunID != b.runID {
		return fmt.Errorf("cannot retry an upload of run %s in run %s", failed.RunID, b.runID)
	}
	if failed.Seq == 0 {
		return b.Submit(ctx, upload)
	}
	upload.RunID = b.runID
	b.schedule(ctx, failed.Seq, upload)
	return nil
}

func (b *Batch) schedule(ctx context.Context, seq int, upload models.Upload) {
	b.group.Go(func() error {
		if _, err := b.p.process(ctx, b.runID, seq, upload); err != nil {
			b.record(err)
		}
		return nil
	})
}

func (b *Batch) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, err)
}

// Wait blocks until every submitted upload reached the ledger or failed, and
// returns the failures joined. The failures are cleared so that retries can
// be waited for again.
func (b *Batch) Wait() error {
	_ = b.group.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	err := errors.Join(b.errs...)
	b.errs = nil
	return err
}

// Close waits for the batch, seals the run and writes its exports. With
// failed uploads the run stays open so they can be retried.
func (b *Batch) Close(ctx context.Context) (models.RunSummary, error) {
	if err := b.Wait(); err != nil {
		return models.RunSummary{}, err
	}
	return b.p.Export(ctx, b.runID, true)
}
