// Package ledger is the append-only audit trail of ingestion runs. Records are
// only ever appended; a sealed run accepts nothing further.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mvrga/speer/internal/models"
)

var (
	ErrRunExists       = errors.New("run already exists")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunSealed       = errors.New("run is sealed")
	ErrDuplicateRecord = errors.New("record already exists")
	ErrNotReserved     = errors.New("sequence number was not reserved")
)

// Ledger stores runs and their records.
type Ledger interface {
	// BeginRun registers a new, open run.
	BeginRun(ctx context.Context, run models.Run) error
	// Reserve allocates the next upload-order slot of an open run, starting at 1.
	Reserve(ctx context.Context, runID string) (int, error)
	// ReserveKey reserves like Reserve for the upload identified by key. A key
	// seen before gets the seq of its first reservation back, together with
	// its record once that was appended.
	ReserveKey(ctx context.Context, runID, key string) (Reservation, error)
	// Append stores a record under a reserved (RunID, Seq) exactly once.
	Append(ctx context.Context, record models.Record) error
	// ListForRun returns the run's records ordered by Seq.
	ListForRun(ctx context.Context, runID string) ([]models.Record, error)
	GetRun(ctx context.Context, runID string) (models.Run, error)
	// SealRun closes the run for good and returns its final state.
	SealRun(ctx context.Context, runID string, at time.Time) (models.Run, error)
}

// Reservation is the outcome of ReserveKey. Record is nil until the upload
// behind the key reached the ledger.
type Reservation struct {
	Seq    int
	Record *models.Record
}

// checkAppend applies the rules every backend enforces before storing a record.
func checkAppend(run models.Run, seq int) error {
	if run.Sealed() {
		return ErrRunSealed
	}
	if seq < 1 || seq > run.RecordCount {
		return ErrNotReserved
	}
	return nil
}

func sortBySeq(records []models.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
}

// cloneRecord detaches a record from caller-owned maps and slices.
func cloneRecord(r models.Record) models.Record {
	out := r
	if r.Fields != nil {
		out.Fields = r.Fields.Clone()
	}
	out.Errors = append([]string(nil), r.Errors...)
	if r.Attempts != nil {
		out.Attempts = make([]models.Attempt, len(r.Attempts))
		for i, a := range r.Attempts {
			a.Errors = append([]string(nil), a.Errors...)
			out.Attempts[i] = a
		}
	}
	return out
}
