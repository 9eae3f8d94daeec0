package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mvrga/speer/internal/models"
)

type memoryRun struct {
	run     models.Run
	records map[int]models.Record
	keys    map[string]int
}

// MemoryLedger keeps runs in process memory. Used by tests and one-shot CLI runs.
type MemoryLedger struct {
	mu   sync.RWMutex
	runs map[string]*memoryRun
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{runs: make(map[string]*memoryRun)}
}

func (l *MemoryLedger) BeginRun(_ context.Context, run models.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.runs[run.RunID]; ok {
		return ErrRunExists
	}
	run.RecordCount = 0
	run.SealedAt = nil
	l.runs[run.RunID] = &memoryRun{run: run, records: make(map[int]models.Record), keys: make(map[string]int)}
	return nil
}

func (l *MemoryLedger) Reserve(_ context.Context, runID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		return 0, ErrRunNotFound
	}
	if r.run.Sealed() {
		return 0, ErrRunSealed
	}
	r.run.RecordCount++
	return r.run.RecordCount, nil
}

func (l *MemoryLedger) ReserveKey(_ context.Context, runID, key string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		return Reservation{}, ErrRunNotFound
	}
	if seq, ok := r.keys[key]; ok {
		res := Reservation{Seq: seq}
		if rec, ok := r.records[seq]; ok {
			rec = cloneRecord(rec)
			res.Record = &rec
		}
		return res, nil
	}
	if r.run.Sealed() {
		return Reservation{}, ErrRunSealed
	}
	r.run.RecordCount++
	r.keys[key] = r.run.RecordCount
	return Reservation{Seq: r.run.RecordCount}, nil
}

func (l *MemoryLedger) Append(_ context.Context, record models.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[record.RunID]
	if !ok {
		return ErrRunNotFound
	}
	if err := checkAppend(r.run, record.Seq); err != nil {
		return err
	}
	if _, ok := r.records[record.Seq]; ok {
		return ErrDuplicateRecord
	}
	r.records[record.Seq] = cloneRecord(record)
	return nil
}

func (l *MemoryLedger) ListForRun(_ context.Context, runID string) ([]models.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := make([]models.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, cloneRecord(rec))
	}
	sortBySeq(out)
	return out, nil
}

func (l *MemoryLedger) GetRun(_ context.Context, runID string) (models.Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.runs[runID]
	if !ok {
		return models.Run{}, ErrRunNotFound
	}
	return r.run, nil
}

func (l *MemoryLedger) SealRun(_ context.Context, runID string, at time.Time) (models.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		return models.Run{}, ErrRunNotFound
	}
	if r.run.Sealed() {
		return r.run, ErrRunSealed
	}
	sealed := at.UTC()
	r.run.SealedAt = &sealed
	return r.run, nil
}
