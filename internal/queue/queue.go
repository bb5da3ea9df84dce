package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"
)

var (
	// ErrNotFound is returned when no event has the requested id
	ErrNotFound = errors.New("event not found")
	// ErrInvalidTransition is returned when a state change is not allowed
	// from the event's current state
	ErrInvalidTransition = errors.New("invalid sync state transition")
	// ErrDuplicateID is returned when an event id is enqueued twice
	ErrDuplicateID = errors.New("duplicate event id")
	// ErrClosed is returned by operations on a closed queue
	ErrClosed = errors.New("queue closed")
)

// Queue is the durable, ordered store of captured events. Every state
// change is committed before the call returns.
type Queue interface {
	Enqueue(ctx context.Context, ev *models.CapturedEvent) error
	PendingEvents(ctx context.Context) ([]models.CapturedEvent, error)
	Get(ctx context.Context, id string) (*models.CapturedEvent, error)
	MarkInFlight(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkRetry(ctx context.Context, id, reason string, nextAttemptAt time.Time) error
	Release(ctx context.Context, id string) error
	Rearm(ctx context.Context, id string) error
	RecoverInFlight(ctx context.Context) (int, error)
	Prune(ctx context.Context, before time.Time) (int, error)
	Counts(ctx context.Context) (models.QueueCounts, error)
}

var (
	_ Queue = (*SQLiteQueue)(nil)
	_ Queue = (*BadgerQueue)(nil)
)

// StorageError reports a durability failure in the local store. On Enqueue
// it means the event was NOT persisted.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// op names a state change requested by the sync engine
type op int

const (
	opInFlight op = iota
	opSynced
	opFailed
	opRetry
	opRelease
	opRearm
)

func (o op) String() string {
	switch o {
	case opInFlight:
		return "mark_in_flight"
	case opSynced:
		return "mark_synced"
	case opFailed:
		return "mark_failed"
	case opRetry:
		return "mark_retry"
	case opRelease:
		return "release"
	case opRearm:
		return "rearm"
	default:
		return "unknown"
	}
}

// change carries the values an op writes besides the new state
type change struct {
	reason        string
	nextAttemptAt time.Time
	now           time.Time
}

// transition applies o to ev in place. It returns noop=true when ev is
// already in the target state, which callers treat as success without
// writing.
func transition(ev *models.CapturedEvent, o op, c change) (noop bool, err error) {
	from := ev.SyncState
	invalid := func() (bool, error) {
		return false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, o, from)
	}

	switch o {
	case opInFlight:
		switch from {
		case models.StateInFlight:
			return true, nil
		case models.StatePending:
			ev.SyncState = models.StateInFlight
		default:
			return invalid()
		}

	case opSynced:
		switch from {
		case models.StateSynced:
			return true, nil
		case models.StateInFlight:
			ev.SyncState = models.StateSynced
			synced := c.now
			ev.SyncedAt = &synced
			ev.NextAttemptAt = nil
			ev.LastError = ""
		default:
			return invalid()
		}

	case opFailed:
		switch from {
		case models.StateFailed:
			return true, nil
		case models.StatePending, models.StateInFlight:
			ev.SyncState = models.StateFailed
			ev.LastError = c.reason
			ev.NextAttemptAt = nil
		default:
			return invalid()
		}

	case opRetry:
		if from != models.StateInFlight {
			return invalid()
		}
		ev.SyncState = models.StatePending
		ev.Attempts++
		ev.LastError = c.reason
		if c.nextAttemptAt.IsZero() {
			ev.NextAttemptAt = nil
		} else {
			next := c.nextAttemptAt
			ev.NextAttemptAt = &next
		}

	case opRelease:
		switch from {
		case models.StatePending:
			return true, nil
		case models.StateInFlight:
			ev.SyncState = models.StatePending
		default:
			return invalid()
		}

	case opRearm:
		switch from {
		case models.StatePending:
			return true, nil
		case models.StateFailed:
			ev.SyncState = models.StatePending
			ev.Attempts = 0
			ev.NextAttemptAt = nil
		default:
			return invalid()
		}

	default:
		return invalid()
	}

	ev.UpdatedAt = c.now
	return false, nil
}

// isPending reports whether an event belongs in PendingEvents
func isPending(s models.SyncState) bool {
	return s == models.StatePending || s == models.StateFailed
}
