package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mvrga/speer/internal/models"
)

const (
	recordsCollection = "records"
	keysCollection    = "keys"
)

// keyClaim is the document ReserveKey leaves in the "keys" subcollection.
type keyClaim struct {
	Key string `firestore:"key"`
	Seq int    `firestore:"seq"`
}

// FirestoreLedger stores each run as a document and its records in a
// "records" subcollection keyed by zero-padded sequence number. Keys passed
// to ReserveKey live in a "keys" subcollection under their SHA-256. Every
// mutation runs in a transaction on the run document.
type FirestoreLedger struct {
	client *firestore.Client
	runs   *firestore.CollectionRef
}

func NewFirestoreLedger(client *firestore.Client, collection string) *FirestoreLedger {
	return &FirestoreLedger{client: client, runs: client.Collection(collection)}
}

func recordID(seq int) string {
	return fmt.Sprintf("%08d", seq)
}

func (l *FirestoreLedger) BeginRun(ctx context.Context, run models.Run) error {
	run.RecordCount = 0
	run.SealedAt = nil
	if _, err := l.runs.Doc(run.RunID).Create(ctx, run); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrRunExists
		}
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

func (l *FirestoreLedger) Reserve(ctx context.Context, runID string) (int, error) {
	ref := l.runs.Doc(runID)
	var seq int
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		run, err := getRun(tx, ref)
		if err != nil {
			return err
		}
		if run.Sealed() {
			return ErrRunSealed
		}
		seq = run.RecordCount + 1
		return tx.Update(ref, []firestore.Update{{Path: "recordCount", Value: seq}})
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (l *FirestoreLedger) ReserveKey(ctx context.Context, runID, key string) (Reservation, error) {
	runRef := l.runs.Doc(runID)
	sum := sha256.Sum256([]byte(key))
	keyRef := runRef.Collection(keysCollection).Doc(hex.EncodeToString(sum[:]))
	var res Reservation
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		res = Reservation{}
		run, err := getRun(tx, runRef)
		if err != nil {
			return err
		}
		snap, err := tx.Get(keyRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read key document: %w", err)
		}
		if err == nil && snap.Exists() {
			var claim keyClaim
			if err := snap.DataTo(&claim); err != nil {
				return fmt.Errorf("failed to decode key document: %w", err)
			}
			res.Seq = claim.Seq
			rec, err := tx.Get(runRef.Collection(recordsCollection).Doc(recordID(claim.Seq)))
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return nil
				}
				return fmt.Errorf("failed to read record document: %w", err)
			}
			var r models.Record
			if err := rec.DataTo(&r); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", rec.Ref.ID, err)
			}
			res.Record = &r
			return nil
		}
		if run.Sealed() {
			return ErrRunSealed
		}
		res.Seq = run.RecordCount + 1
		if err := tx.Update(runRef, []firestore.Update{{Path: "recordCount", Value: res.Seq}}); err != nil {
			return err
		}
		return tx.Create(keyRef, keyClaim{Key: key, Seq: res.Seq})
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (l *FirestoreLedger) Append(ctx context.Context, record models.Record) error {
	runRef := l.runs.Doc(record.RunID)
	recRef := runRef.Collection(recordsCollection).Doc(recordID(record.Seq))
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		run, err := getRun(tx, runRef)
		if err != nil {
			return err
		}
		if err := checkAppend(run, record.Seq); err != nil {
			return err
		}
		snap, err := tx.Get(recRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read record document: %w", err)
		}
		if err == nil && snap.Exists() {
			return ErrDuplicateRecord
		}
		return tx.Create(recRef, record)
	})
	if status.Code(err) == codes.AlreadyExists {
		return ErrDuplicateRecord
	}
	return err
}

func (l *FirestoreLedger) ListForRun(ctx context.Context, runID string) ([]models.Record, error) {
	if _, err := l.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	iter := l.runs.Doc(runID).Collection(recordsCollection).OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	records := []models.Record{}
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list records of run %s: %w", runID, err)
		}
		var r models.Record
		if err := doc.DataTo(&r); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", doc.Ref.ID, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (l *FirestoreLedger) GetRun(ctx context.Context, runID string) (models.Run, error) {
	snap, err := l.runs.Doc(runID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.Run{}, ErrRunNotFound
		}
		return models.Run{}, fmt.Errorf("failed to read run document: %w", err)
	}
	var run models.Run
	if err := snap.DataTo(&run); err != nil {
		return models.Run{}, fmt.Errorf("failed to decode run document: %w", err)
	}
	return run, nil
}

func (l *FirestoreLedger) SealRun(ctx context.Context, runID string, at time.Time) (models.Run, error) {
	ref := l.runs.Doc(runID)
	var sealed models.Run
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		run, err := getRun(tx, ref)
		if err != nil {
			return err
		}
		if run.Sealed() {
			sealed = run
			return ErrRunSealed
		}
		sealedAt := at.UTC()
		run.SealedAt = &sealedAt
		sealed = run
		return tx.Update(ref, []firestore.Update{{Path: "sealedAt", Value: sealedAt}})
	})
	return sealed, err
}

func getRun(tx *firestore.Transaction, ref *firestore.DocumentRef) (models.Run, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.Run{}, ErrRunNotFound
		}
		return models.Run{}, fmt.Errorf("failed to read run document: %w", err)
	}
	var run models.Run
	if err := snap.DataTo(&run); err != nil {
		return models.Run{}, fmt.Errorf("failed to decode run document: %w", err)
	}
	return run, nil
}
