package models

import "time"

// Category identifies the kind of field work an event records
type Category string

const (
	CategoryFertilizer  Category = "fertilizer"
	CategoryIrrigation  Category = "irrigation"
	CategoryPestControl Category = "pest_control"
	CategoryPruning     Category = "pruning"
	CategoryEquipment   Category = "equipment"
	CategoryHarvest     Category = "harvest"
)

// KnownCategories returns the closed set of categories the ingestion API accepts
func KnownCategories() []Category {
	return []Category{
		CategoryFertilizer,
		CategoryIrrigation,
		CategoryPestControl,
		CategoryPruning,
		CategoryEquipment,
		CategoryHarvest,
	}
}

// Known reports whether c belongs to the closed category set
func (c Category) Known() bool {
	for _, known := range KnownCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// SyncState is the delivery state of a captured event
type SyncState string

const (
	StatePending  SyncState = "pending"
	StateInFlight SyncState = "in_flight"
	StateSynced   SyncState = "synced"
	StateFailed   SyncState = "failed"
)

// LocationFix is a single geolocation sample
type LocationFix struct {
	Latitude       float64   `json:"latitude" validate:"latitude"`
	Longitude      float64   `json:"longitude" validate:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters" validate:"gte=0"`
	SampledAt      time.Time `json:"sampledAt" validate:"required"`
}

// CapturedEvent is one field-recorded action. Only SyncState, Attempts,
// NextAttemptAt, LastError, UpdatedAt and SyncedAt change after creation,
// and only through the event queue.
type CapturedEvent struct {
	ID            string         `json:"id"`
	DeviceID      string         `json:"deviceId,omitempty"`
	Category      Category       `json:"category"`
	RawPayload    map[string]any `json:"rawPayload"`
	CapturedAt    time.Time      `json:"capturedAt"`
	Location      *LocationFix   `json:"location,omitempty"`
	SyncState     SyncState      `json:"syncState"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt *time.Time     `json:"nextAttemptAt,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	SyncedAt      *time.Time     `json:"syncedAt,omitempty"`
}

// NewCapturedEvent creates a pending event with zero attempts. The raw
// payload is deep-copied so later changes to the caller's map never reach
// the stored event.
func NewCapturedEvent(id, deviceID string, category Category, raw map[string]any, capturedAt time.Time, location *LocationFix) *CapturedEvent {
	var loc *LocationFix
	if location != nil {
		fix := *location
		loc = &fix
	}
	return &CapturedEvent{
		ID:         id,
		DeviceID:   deviceID,
		Category:   category,
		RawPayload: CopyPayload(raw),
		CapturedAt: capturedAt,
		Location:   loc,
		SyncState:  StatePending,
		Attempts:   0,
		UpdatedAt:  capturedAt,
	}
}

// CopyPayload returns a deep copy of a free-form payload
func CopyPayload(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyPayload(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = copyValue(item)
		}
		return items
	default:
		return val
	}
}

// EventFailure describes an event that reached the terminal Failed state
type EventFailure struct {
	EventID  string   `json:"eventId"`
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
}

// DrainSummary reports the outcome of one drain pass
type DrainSummary struct {
	Trigger        string         `json:"trigger"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
	Synced         int            `json:"synced"`
	StillPending   int            `json:"stillPending"`
	FailedTerminal int            `json:"failedTerminal"`
	Failures       []EventFailure `json:"failures,omitempty"`
	Offline        bool           `json:"offline,omitempty"`
	Interrupted    bool           `json:"interrupted,omitempty"`
}

// QueueCounts is the number of queued events per sync state
type QueueCounts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"inFlight"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
}
