// Package translator maps captured field events onto the canonical record
// accepted by the remote ingestion API.
package translator

import (
	"fmt"
	"strings"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"
)

// Unspecified is the placeholder for text fields the operator did not provide
const Unspecified = "unspecified"

// TranslationError reports an event whose category is outside the known set.
// Retrying never fixes it.
type TranslationError struct {
	Category models.Category
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("unknown event category %q", string(e.Category))
}

// Record is the canonical wire record for one event. Exactly one of the
// detail pointers is set, matching EventType.
type Record struct {
	IdempotencyKey string              `json:"idempotencyKey"`
	DeviceID       string              `json:"deviceId,omitempty"`
	EventType      models.Category     `json:"eventType"`
	OccurredAt     time.Time           `json:"occurredAt"`
	Location       *models.LocationFix `json:"location,omitempty"`
	Plot           string              `json:"plot,omitempty"`
	Notes          string              `json:"notes,omitempty"`

	Fertilizer  *FertilizerDetails  `json:"fertilizer,omitempty"`
	Irrigation  *IrrigationDetails  `json:"irrigation,omitempty"`
	PestControl *PestControlDetails `json:"pestControl,omitempty"`
	Pruning     *PruningDetails     `json:"pruning,omitempty"`
	Equipment   *EquipmentDetails   `json:"equipment,omitempty"`
	Harvest     *HarvestDetails     `json:"harvest,omitempty"`

	// DefaultedFields names every detail field filled with a placeholder
	DefaultedFields []string `json:"defaultedFields,omitempty"`
}

// Detail returns the category-specific variant of the record
func (r *Record) Detail() Detail {
	switch {
	case r.Fertilizer != nil:
		return r.Fertilizer
	case r.Irrigation != nil:
		return r.Irrigation
	case r.PestControl != nil:
		return r.PestControl
	case r.Pruning != nil:
		return r.Pruning
	case r.Equipment != nil:
		return r.Equipment
	case r.Harvest != nil:
		return r.Harvest
	default:
		return nil
	}
}

// NormalizeCategory folds case and separators, so "Pest-Control" and
// "pest control" both become pest_control
func NormalizeCategory(c models.Category) models.Category {
	return models.Category(normalizeKey(string(c)))
}

// Translate builds the canonical record for ev. It performs no I/O and does
// not modify ev. Missing fields resolve to placeholders; the only error is
// *TranslationError for an unknown category.
func Translate(ev models.CapturedEvent) (Record, error) {
	category := NormalizeCategory(ev.Category)
	decode, ok := decoders[category]
	if !ok {
		return Record{}, &TranslationError{Category: ev.Category}
	}

	f := newFields(ev.RawPayload)
	detail := decode(f)

	rec := Record{
		IdempotencyKey: ev.ID,
		DeviceID:       ev.DeviceID,
		EventType:      category,
		OccurredAt:     ev.CapturedAt.UTC(),
		Plot:           f.optional("plot", "field", "parcel", "sector", "block"),
		Notes:          strings.TrimSpace(f.optional("notes", "note", "description", "transcript", "comment")),
	}
	if ev.Location != nil {
		fix := *ev.Location
		rec.Location = &fix
	}
	detail.attach(&rec)
	rec.DefaultedFields = f.defaulted

	return rec, nil
}
