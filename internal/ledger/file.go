package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/mvrga/speer/internal/models"
)

const (
	runFileName     = "run.json"
	recordsFileName = "records.jsonl"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// FileLedger keeps one directory per run: run.json with the run metadata and
// records.jsonl with one JSON record per line, in append order. It assumes a
// single writing process.
type FileLedger struct {
	mu   sync.Mutex
	root string
}

func NewFileLedger(root string) (*FileLedger, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileLedger{root: root}, nil
}

func (l *FileLedger) runDir(runID string) (string, error) {
	if !runIDPattern.MatchString(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(l.root, runID), nil
}

// runState is the content of run.json: the run plus the keys reserved by ReserveKey.
type runState struct {
	models.Run
	Keys map[string]int `json:"keys,omitempty"`
}

func (l *FileLedger) BeginRun(_ context.Context, run models.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dir, err := l.runDir(run.RunID)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrRunExists
		}
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	run.RecordCount = 0
	run.SealedAt = nil
	return writeRun(dir, runState{Run: run})
}

func (l *FileLedger) Reserve(_ context.Context, runID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dir, state, err := l.loadRun(runID)
	if err != nil {
		return 0, err
	}
	if state.Sealed() {
		return 0, ErrRunSealed
	}
	state.RecordCount++
	if err := writeRun(dir, state); err != nil {
		return 0, err
	}
	return state.RecordCount, nil
}

func (l *FileLedger) ReserveKey(_ context.Context, runID, key string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dir, state, err := l.loadRun(runID)
	if err != nil {
		return Reservation{}, err
	}
	if seq, ok := state.Keys[key]; ok {
		records, err := readRecords(dir)
		if err != nil {
			return Reservation{}, err
		}
		res := Reservation{Seq: seq}
		for i := range records {
			if records[i].Seq == seq {
				res.Record = &records[i]
				break
			}
		}
		return res, nil
	}
	if state.Sealed() {
		return Reservation{}, ErrRunSealed
	}
	state.RecordCount++
	if state.Keys == nil {
		state.Keys = make(map[string]int)
	}
	state.Keys[key] = state.RecordCount
	if err := writeRun(dir, state); err != nil {
		return Reservation{}, err
	}
	return Reservation{Seq: state.RecordCount}, nil
}

// Append writes the record as one line. A failed write is truncated away so
// the file never keeps a partial line.
func (l *FileLedger) Append(_ context.Context, record models.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dir, state, err := l.loadRun(record.RunID)
	if err != nil {
		return err
	}
	if err := checkAppend(state.Run, record.Seq); err != nil {
		return err
	}
	existing, size, err := readRecordsFile(dir)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.Seq == record.Seq {
			return ErrDuplicateRecord
		}
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, recordsFileName), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()
	// Drops a fragment left by an interrupted append.
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate records file: %w", err)
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek records file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return rollback(f, size, fmt.Errorf("failed to append record: %w", err))
	}
	if err := f.Sync(); err != nil {
		return rollback(f, size, fmt.Errorf("failed to sync records file: %w", err))
	}
	return f.Close()
}

// rollback cuts the records file back to size after a failed append.
func rollback(f *os.File, size int64, cause error) error {
	if err := f.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to truncate records file: %w", err))
	}
	return cause
}

func (l *FileLedger) ListForRun(_ context.Context, runID string) ([]models.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dir, _, err := l.loadRun(runID)
	if err != nil {
		return nil, err
	}
	records, err := readRecords(dir)
	if err != nil {
		return nil, err
	}
	sortBySeq(records)
	return records, nil
}

func (l *FileLedger) GetRun(_ context.Context, runID string) (models.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, state, err := l.loadRun(runID)
	return state.Run, err
}

func (l *FileLedger) SealRun(_ context.Context, runID string, at time.Time) (models.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dir, state, err := l.loadRun(runID)
	if err != nil {
		return models.Run{}, err
	}
	if state.Sealed() {
		return state.Run, ErrRunSealed
	}
	sealed := at.UTC()
	state.SealedAt = &sealed
	if err := writeRun(dir, state); err != nil {
		return models.Run{}, err
	}
	return state.Run, nil
}

func (l *FileLedger) loadRun(runID string) (string, runState, error) {
	dir, err := l.runDir(runID)
	if err != nil {
		return "", runState{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, runFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", runState{}, ErrRunNotFound
		}
		return "", runState{}, fmt.Errorf("failed to read run: %w", err)
	}
	var state runState
	if err := json.Unmarshal(data, &state); err != nil {
		return "", runState{}, fmt.Errorf("failed to decode run: %w", err)
	}
	return dir, state, nil
}

// writeRun replaces run.json through a rename so readers never see a partial file.
func writeRun(dir string, state runState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	tmp, err := os.CreateTemp(dir, runFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp run file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp run file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, runFileName)); err != nil {
		return fmt.Errorf("failed to replace run file: %w", err)
	}
	return nil
}

func readRecords(dir string) ([]models.Record, error) {
	records, _, err := readRecordsFile(dir)
	return records, err
}

// readRecordsFile decodes records.jsonl and returns the byte length of its
// complete lines. A last line without its newline is the remains of an
// interrupted append and is skipped.
func readRecordsFile(dir string) ([]models.Record, int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, recordsFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Record{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read records file: %w", err)
	}
	data = data[:bytes.LastIndexByte(data, '\n')+1]

	records := []models.Record{}
	for lineNo, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var r models.Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, 0, fmt.Errorf("failed to decode record on line %d: %w", lineNo+1, err)
		}
		records = append(records, r)
	}
	return records, int64(len(data)), nil
}
