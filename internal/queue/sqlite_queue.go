package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/clock"
	"Mansoor88-6/fieldsync-agent/internal/models"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const eventColumns = `id, device_id, category, raw_payload, captured_at,
	location_lat, location_lon, location_accuracy, location_sampled_at,
	sync_state, attempts, next_attempt_at, last_error, updated_at, synced_at`

// SQLiteQueue is the durable local event queue backed by SQLite
type SQLiteQueue struct {
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

// NewSQLiteQueue creates a queue over a migrated database
func NewSQLiteQueue(db *sql.DB, clk clock.Clock, logger *zap.Logger) *SQLiteQueue {
	return &SQLiteQueue{
		db:     db,
		clock:  clk,
		logger: logger,
	}
}

// Enqueue appends a new pending event. The row is committed before Enqueue
// returns; any storage failure is returned as *StorageError.
func (q *SQLiteQueue) Enqueue(ctx context.Context, ev *models.CapturedEvent) error {
	if ev.SyncState != models.StatePending || ev.Attempts != 0 {
		return fmt.Errorf("%w: enqueue requires a new pending event", ErrInvalidTransition)
	}

	payload, err := json.Marshal(ev.RawPayload)
	if err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM captured_events WHERE id = ?`, ev.ID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: err}
	}

	lat, lon, acc, sampled := locationColumns(ev.Location)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO captured_events (id, device_id, category, raw_payload, captured_at,
			location_lat, location_lon, location_accuracy, location_sampled_at,
			sync_state, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)
	`, ev.ID, ev.DeviceID, string(ev.Category), string(payload), ev.CapturedAt.UnixNano(),
		lat, lon, acc, sampled, string(models.StatePending), ev.UpdatedAt.UnixNano())
	if err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "enqueue", ID: ev.ID, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}

	q.logger.Debug("Event enqueued",
		zap.String("event_id", ev.ID),
		zap.String("category", string(ev.Category)),
	)
	return nil
}

// PendingEvents returns pending and failed events in arrival order
func (q *SQLiteQueue) PendingEvents(ctx context.Context) ([]models.CapturedEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM captured_events
		WHERE sync_state IN (?, ?)
		ORDER BY seq ASC
	`, string(models.StatePending), string(models.StateFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []models.CapturedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending events: %w", err)
	}

	return events, nil
}

// Get returns the event with the given id in any state
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*models.CapturedEvent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM captured_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (q *SQLiteQueue) MarkInFlight(ctx context.Context, id string) error {
	return q.apply(ctx, id, opInFlight, change{})
}

func (q *SQLiteQueue) MarkSynced(ctx context.Context, id string) error {
	return q.apply(ctx, id, opSynced, change{})
}

// MarkFailed moves an event to the terminal Failed state with a reason
func (q *SQLiteQueue) MarkFailed(ctx context.Context, id, reason string) error {
	return q.apply(ctx, id, opFailed, change{reason: reason})
}

// MarkRetry returns an in-flight event to Pending after a retriable
// failure, counting the attempt. A zero nextAttemptAt leaves the event for
// explicit triggers only.
func (q *SQLiteQueue) MarkRetry(ctx context.Context, id, reason string, nextAttemptAt time.Time) error {
	return q.apply(ctx, id, opRetry, change{reason: reason, nextAttemptAt: nextAttemptAt})
}

// Release returns an in-flight event to Pending without counting an attempt
func (q *SQLiteQueue) Release(ctx context.Context, id string) error {
	return q.apply(ctx, id, opRelease, change{})
}

// Rearm moves a Failed event back to Pending with a fresh attempt budget
func (q *SQLiteQueue) Rearm(ctx context.Context, id string) error {
	return q.apply(ctx, id, opRearm, change{})
}

func (q *SQLiteQueue) apply(ctx context.Context, id string, o op, c change) error {
	c.now = q.clock.Now().UTC()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: o.String(), ID: id, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	ev, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM captured_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return &StorageError{Op: o.String(), ID: id, Err: err}
	}

	noop, err := transition(ev, o, c)
	if err != nil {
		return err
	}
	if noop {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE captured_events
		SET sync_state = ?, attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?, synced_at = ?
		WHERE id = ?
	`, string(ev.SyncState), ev.Attempts, nullTime(ev.NextAttemptAt), ev.LastError, ev.UpdatedAt.UnixNano(), nullTime(ev.SyncedAt), id)
	if err != nil {
		return &StorageError{Op: o.String(), ID: id, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: o.String(), ID: id, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return nil
}

// RecoverInFlight returns every InFlight event to Pending. Called at startup:
// an event found InFlight at rest was interrupted mid-delivery and must be
// delivered again.
func (q *SQLiteQueue) RecoverInFlight(ctx context.Context) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE captured_events SET sync_state = ?, updated_at = ? WHERE sync_state = ?
	`, string(models.StatePending), q.clock.Now().UTC().UnixNano(), string(models.StateInFlight))
	if err != nil {
		return 0, &StorageError{Op: "recover", Err: err}
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		q.logger.Warn("Recovered interrupted deliveries", zap.Int64("count", n))
	}
	return int(n), nil
}

// Prune deletes synced events whose sync time is before the cutoff. Events
// in any other state are never removed.
func (q *SQLiteQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM captured_events WHERE sync_state = ? AND synced_at < ?
	`, string(models.StateSynced), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		q.logger.Info("Pruned synced events", zap.Int64("count", n))
	}
	return int(n), nil
}

// Counts returns the number of events in each state
func (q *SQLiteQueue) Counts(ctx context.Context) (models.QueueCounts, error) {
	var counts models.QueueCounts

	rows, err := q.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM captured_events GROUP BY sync_state`)
	if err != nil {
		return counts, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return counts, fmt.Errorf("failed to scan count: %w", err)
		}
		addCount(&counts, models.SyncState(state), n)
	}
	return counts, rows.Err()
}

func addCount(counts *models.QueueCounts, state models.SyncState, n int) {
	switch state {
	case models.StatePending:
		counts.Pending += n
	case models.StateInFlight:
		counts.InFlight += n
	case models.StateSynced:
		counts.Synced += n
	case models.StateFailed:
		counts.Failed += n
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.CapturedEvent, error) {
	var (
		ev                    models.CapturedEvent
		category, state       string
		payload               string
		capturedAt, updatedAt int64
		lat, lon, acc         sql.NullFloat64
		sampledAt             sql.NullInt64
		nextAttemptAt         sql.NullInt64
		syncedAt              sql.NullInt64
	)

	err := row.Scan(&ev.ID, &ev.DeviceID, &category, &payload, &capturedAt,
		&lat, &lon, &acc, &sampledAt,
		&state, &ev.Attempts, &nextAttemptAt, &ev.LastError, &updatedAt, &syncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &ev.RawPayload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload of %s: %w", ev.ID, err)
	}

	ev.Category = models.Category(category)
	ev.SyncState = models.SyncState(state)
	ev.CapturedAt = time.Unix(0, capturedAt).UTC()
	ev.UpdatedAt = time.Unix(0, updatedAt).UTC()
	ev.NextAttemptAt = fromNullTime(nextAttemptAt)
	ev.SyncedAt = fromNullTime(syncedAt)

	if lat.Valid && lon.Valid {
		ev.Location = &models.LocationFix{
			Latitude:       lat.Float64,
			Longitude:      lon.Float64,
			AccuracyMeters: acc.Float64,
			SampledAt:      time.Unix(0, sampledAt.Int64).UTC(),
		}
	}

	return &ev, nil
}

func locationColumns(loc *models.LocationFix) (lat, lon, acc sql.NullFloat64, sampled sql.NullInt64) {
	if loc == nil {
		return
	}
	return sql.NullFloat64{Float64: loc.Latitude, Valid: true},
		sql.NullFloat64{Float64: loc.Longitude, Valid: true},
		sql.NullFloat64{Float64: loc.AccuracyMeters, Valid: true},
		sql.NullInt64{Int64: loc.SampledAt.UnixNano(), Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
