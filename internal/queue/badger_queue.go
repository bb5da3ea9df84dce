package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/clock"
	"Mansoor88-6/fieldsync-agent/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Key prefixes for BadgerDB storage
const (
	eventKeyPrefix = "event:"
	orderKeyPrefix = "order:"
	sequenceKey    = "meta:seq"
)

const maxConflictRetries = 5

// badgerWriteBatch bounds the events touched by one bulk-write transaction
var badgerWriteBatch = 1000

// BadgerQueue is the event queue backed by an embedded BadgerDB. Arrival
// order is kept by a secondary index of zero-padded sequence numbers.
type BadgerQueue struct {
	db     *badger.DB
	seq    *badger.Sequence
	clock  clock.Clock
	logger *zap.Logger
}

// badgerRecord is the stored value for one event
type badgerRecord struct {
	Seq   uint64               `json:"seq"`
	Event models.CapturedEvent `json:"event"`
}

// OpenBadgerQueue opens (or creates) a BadgerDB queue in dir. An empty dir
// opens an in-memory store.
func OpenBadgerQueue(dir string, clk clock.Clock, logger *zap.Logger) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sequence: %w", err)
	}

	logger.Info("Badger queue opened",
		zap.String("path", dir),
		zap.Bool("in_memory", dir == ""),
	)

	return &BadgerQueue{
		db:     db,
		seq:    seq,
		clock:  clk,
		logger: logger,
	}, nil
}

func eventKey(id string) []byte {
	return []byte(eventKeyPrefix + id)
}

func orderKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", orderKeyPrefix, seq))
}

func (q *BadgerQueue) Enqueue(ctx context.Context, ev *models.CapturedEvent) error {
	if ev.SyncState != models.StatePending || ev.Attempts != 0 {
		return fmt.Errorf("%w: enqueue requires a new pending event", ErrInvalidTransition)
	}
	if q.db.IsClosed() {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: ErrClosed}
	}

	seq, err := q.seq.Next()
	if err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: fmt.Errorf("failed to allocate sequence: %w", err)}
	}

	rec := badgerRecord{Seq: seq, Event: *ev}
	rec.Event.RawPayload = models.CopyPayload(ev.RawPayload)
	data, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: fmt.Errorf("failed to marshal event: %w", err)}
	}

	err = q.update(func(txn *badger.Txn) error {
		_, err := txn.Get(eventKey(ev.ID))
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(eventKey(ev.ID), data); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		if err := txn.Set(orderKey(seq), []byte(ev.ID)); err != nil {
			return fmt.Errorf("set order index: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateID) {
		return err
	}
	if err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: err}
	}

	q.logger.Debug("Event enqueued",
		zap.String("event_id", ev.ID),
		zap.String("category", string(ev.Category)),
		zap.Uint64("seq", seq),
	)
	return nil
}

// PendingEvents returns pending and failed events in arrival order
func (q *BadgerQueue) PendingEvents(ctx context.Context) ([]models.CapturedEvent, error) {
	var events []models.CapturedEvent

	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(orderKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := readRecord(txn, string(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if isPending(rec.Event.SyncState) {
				events = append(events, rec.Event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}

	return events, nil
}

func (q *BadgerQueue) Get(ctx context.Context, id string) (*models.CapturedEvent, error) {
	var ev models.CapturedEvent

	err := q.db.View(func(txn *badger.Txn) error {
		rec, err := readRecord(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		ev = rec.Event
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

func (q *BadgerQueue) MarkInFlight(ctx context.Context, id string) error {
	return q.apply(id, opInFlight, change{})
}

func (q *BadgerQueue) MarkSynced(ctx context.Context, id string) error {
	return q.apply(id, opSynced, change{})
}

func (q *BadgerQueue) MarkFailed(ctx context.Context, id, reason string) error {
	return q.apply(id, opFailed, change{reason: reason})
}

func (q *BadgerQueue) MarkRetry(ctx context.Context, id, reason string, nextAttemptAt time.Time) error {
	return q.apply(id, opRetry, change{reason: reason, nextAttemptAt: nextAttemptAt})
}

func (q *BadgerQueue) Release(ctx context.Context, id string) error {
	return q.apply(id, opRelease, change{})
}

func (q *BadgerQueue) Rearm(ctx context.Context, id string) error {
	return q.apply(id, opRearm, change{})
}

func (q *BadgerQueue) apply(id string, o op, c change) error {
	c.now = q.clock.Now().UTC()

	var domainErr error
	err := q.update(func(txn *badger.Txn) error {
		domainErr = nil

		rec, err := readRecord(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			domainErr = fmt.Errorf("%w: %s", ErrNotFound, id)
			return nil
		}
		if err != nil {
			return err
		}

		noop, err := transition(&rec.Event, o, c)
		if err != nil {
			domainErr = err
			return nil
		}
		if noop {
			return nil
		}

		return writeRecord(txn, rec)
	})
	if err != nil {
		return &StorageError{Op: o.String(), ID: id, Err: err}
	}
	return domainErr
}

// RecoverInFlight returns every InFlight event to Pending
func (q *BadgerQueue) RecoverInFlight(ctx context.Context) (int, error) {
	now := q.clock.Now().UTC()

	stuck, err := q.collect(func(ev models.CapturedEvent) bool {
		return ev.SyncState == models.StateInFlight
	})
	if err != nil {
		return 0, &StorageError{Op: "recover", Err: err}
	}

	recovered, err := q.rewriteInBatches(ctx, stuck, func(txn *badger.Txn, rec *badgerRecord) (bool, error) {
		if rec.Event.SyncState != models.StateInFlight {
			return false, nil
		}
		if _, err := transition(&rec.Event, opRelease, change{now: now}); err != nil {
			return false, err
		}
		return true, writeRecord(txn, rec)
	})
	if recovered > 0 {
		q.logger.Warn("Recovered interrupted deliveries", zap.Int("count", recovered))
	}
	if err != nil {
		return recovered, &StorageError{Op: "recover", Err: err}
	}
	return recovered, nil
}

// Prune deletes synced events whose sync time is before the cutoff. Deletes
// are committed in batches; on error the count covers the batches already
// committed.
func (q *BadgerQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	prunable := func(ev models.CapturedEvent) bool {
		return ev.SyncState == models.StateSynced && ev.SyncedAt != nil && ev.SyncedAt.Before(before)
	}

	expired, err := q.collect(prunable)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	pruned, err := q.rewriteInBatches(ctx, expired, func(txn *badger.Txn, rec *badgerRecord) (bool, error) {
		if !prunable(rec.Event) {
			return false, nil
		}
		if err := txn.Delete(eventKey(rec.Event.ID)); err != nil {
			return false, fmt.Errorf("delete event: %w", err)
		}
		if err := txn.Delete(orderKey(rec.Seq)); err != nil {
			return false, fmt.Errorf("delete order index: %w", err)
		}
		return true, nil
	})
	if pruned > 0 {
		q.logger.Info("Pruned synced events", zap.Int("count", pruned))
	}
	if err != nil {
		return pruned, fmt.Errorf("failed to prune events: %w", err)
	}
	return pruned, nil
}

// collect returns the ids of stored events matching keep
func (q *BadgerQueue) collect(keep func(ev models.CapturedEvent) bool) ([]string, error) {
	if q.db.IsClosed() {
		return nil, ErrClosed
	}

	var matched []string
	err := q.db.View(func(txn *badger.Txn) error {
		return scanRecords(txn, func(rec *badgerRecord) error {
			if keep(rec.Event) {
				matched = append(matched, rec.Event.ID)
			}
			return nil
		})
	})
	return matched, err
}

// rewriteInBatches re-reads each event and hands it to fn, committing at most
// badgerWriteBatch events per transaction so a large backlog never exceeds
// Badger's transaction size limit. fn reports whether it changed the event.
func (q *BadgerQueue) rewriteInBatches(ctx context.Context, ids []string, fn func(txn *badger.Txn, rec *badgerRecord) (bool, error)) (int, error) {
	done := 0
	for start := 0; start < len(ids); start += badgerWriteBatch {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		batch := ids[start:min(start+badgerWriteBatch, len(ids))]
		changed := 0
		err := q.update(func(txn *badger.Txn) error {
			changed = 0
			for _, id := range batch {
				rec, err := readRecord(txn, id)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				ok, err := fn(txn, rec)
				if err != nil {
					return err
				}
				if ok {
					changed++
				}
			}
			return nil
		})
		if err != nil {
			return done, err
		}
		done += changed
	}
	return done, nil
}

func (q *BadgerQueue) Counts(ctx context.Context) (models.QueueCounts, error) {
	var counts models.QueueCounts

	err := q.db.View(func(txn *badger.Txn) error {
		return scanRecords(txn, func(rec *badgerRecord) error {
			addCount(&counts, rec.Event.SyncState, 1)
			return nil
		})
	})
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("failed to count events: %w", err)
	}

	return counts, nil
}

// Close releases the sequence lease and closes the database
func (q *BadgerQueue) Close() error {
	if q.db.IsClosed() {
		return nil
	}
	if err := q.seq.Release(); err != nil {
		q.logger.Warn("Failed to release sequence", zap.Error(err))
	}
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	q.logger.Info("Badger queue closed")
	return nil
}

// update runs fn in a read-write transaction, retrying on write conflicts
func (q *BadgerQueue) update(fn func(txn *badger.Txn) error) error {
	if q.db.IsClosed() {
		return ErrClosed
	}

	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = q.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readRecord(txn *badger.Txn, id string) (*badgerRecord, error) {
	item, err := txn.Get(eventKey(id))
	if err != nil {
		return nil, err
	}

	var rec badgerRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *badgerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return txn.Set(eventKey(rec.Event.ID), data)
}

// scanRecords calls fn for every stored event. Records are decoded before
// fn runs, so fn may write through txn.
func scanRecords(txn *badger.Txn, fn func(rec *badgerRecord) error) error {
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)

	prefix := []byte(eventKeyPrefix)
	var records []*badgerRecord
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rec badgerRecord
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			it.Close()
			return fmt.Errorf("failed to decode event: %w", err)
		}
		records = append(records, &rec)
	}
	it.Close()

	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
