package translator

import (
	"testing"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capturedAt = time.Date(2026, 5, 2, 7, 30, 0, 0, time.UTC)

func event(category models.Category, raw map[string]any) models.CapturedEvent {
	return *models.NewCapturedEvent("0192f0c1-7a2b-7c3d-8e4f-5a6b7c8d9e0f", "device-7", category, raw, capturedAt, nil)
}

func TestTranslate_EveryKnownCategoryHasDecoder(t *testing.T) {
	for _, c := range models.KnownCategories() {
		t.Run(string(c), func(t *testing.T) {
			rec, err := Translate(event(c, map[string]any{}))
			require.NoError(t, err)
			require.NotNil(t, rec.Detail())
			assert.Equal(t, c, rec.Detail().Category())
			assert.Equal(t, c, rec.EventType)
		})
	}
	assert.Len(t, decoders, len(models.KnownCategories()))
}

func TestTranslate_Fertilizer(t *testing.T) {
	ev := event(models.CategoryFertilizer, map[string]any{
		"Product":  "NPK 15-15-15",
		"quantity": "20 kg",
		"notes":    "north rows only",
		"plot":     "B4",
	})
	ev.Location = &models.LocationFix{Latitude: 41.1, Longitude: 1.2, AccuracyMeters: 5, SampledAt: capturedAt}

	rec, err := Translate(ev)
	require.NoError(t, err)

	assert.Equal(t, ev.ID, rec.IdempotencyKey)
	assert.Equal(t, "device-7", rec.DeviceID)
	assert.Equal(t, capturedAt, rec.OccurredAt)
	assert.Equal(t, "B4", rec.Plot)
	assert.Equal(t, "north rows only", rec.Notes)
	require.NotNil(t, rec.Location)
	assert.Equal(t, 41.1, rec.Location.Latitude)

	require.NotNil(t, rec.Fertilizer)
	assert.Equal(t, "NPK 15-15-15", rec.Fertilizer.Product)
	assert.Equal(t, Quantity{Value: 20, Unit: "kg"}, rec.Fertilizer.Quantity)
	assert.Equal(t, DefaultFertilizerMethod, rec.Fertilizer.Method)
	assert.Equal(t, []string{"method"}, rec.DefaultedFields)
}

func TestTranslate_MissingFieldsUsePlaceholders(t *testing.T) {
	rec, err := Translate(event(models.CategoryIrrigation, map[string]any{}))
	require.NoError(t, err)

	require.NotNil(t, rec.Irrigation)
	assert.Equal(t, Quantity{Value: 0, Unit: DefaultIrrigationUnit}, rec.Irrigation.Volume)
	assert.Equal(t, Quantity{Value: 0, Unit: "min"}, rec.Irrigation.Duration)
	assert.Equal(t, DefaultIrrigationMethod, rec.Irrigation.Method)
	assert.ElementsMatch(t, []string{"volume", "duration", "method"}, rec.DefaultedFields)
}

func TestTranslate_PestControlAliases(t *testing.T) {
	rec, err := Translate(event(models.CategoryPestControl, map[string]any{
		"pesticide":          "copper oxychloride",
		"pest":               "mildew",
		"dose":               "2,5 L",
		"application-method": "atomizer",
	}))
	require.NoError(t, err)

	require.NotNil(t, rec.PestControl)
	assert.Equal(t, "copper oxychloride", rec.PestControl.Product)
	assert.Equal(t, "mildew", rec.PestControl.Target)
	assert.Equal(t, Quantity{Value: 2.5, Unit: "L"}, rec.PestControl.Quantity)
	assert.Equal(t, "atomizer", rec.PestControl.Method)
	assert.Empty(t, rec.DefaultedFields)
}

func TestTranslate_CategoryNormalisation(t *testing.T) {
	tests := []struct {
		in   models.Category
		want models.Category
	}{
		{"Pest-Control", models.CategoryPestControl},
		{"pest control", models.CategoryPestControl},
		{" HARVEST ", models.CategoryHarvest},
		{"pruning", models.CategoryPruning},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			rec, err := Translate(event(tt.in, map[string]any{}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.EventType)
		})
	}
}

func TestTranslate_UnknownCategory(t *testing.T) {
	_, err := Translate(event("weather_report", map[string]any{"rain": "12 mm"}))

	var translationErr *TranslationError
	require.ErrorAs(t, err, &translationErr)
	assert.Equal(t, models.Category("weather_report"), translationErr.Category)
	assert.Contains(t, err.Error(), "weather_report")
}

func TestTranslate_DoesNotModifyInput(t *testing.T) {
	raw := map[string]any{"crop": "olive", "yield": map[string]any{"value": 340.0, "unit": "kilos"}}
	ev := event(models.CategoryHarvest, raw)

	rec, err := Translate(ev)
	require.NoError(t, err)

	require.NotNil(t, rec.Harvest)
	assert.Equal(t, Quantity{Value: 340, Unit: "kg"}, rec.Harvest.Quantity)
	assert.Equal(t, map[string]any{"crop": "olive", "yield": map[string]any{"value": 340.0, "unit": "kilos"}}, ev.RawPayload)
	assert.Equal(t, models.StatePending, ev.SyncState)
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Quantity
		ok   bool
	}{
		{"float", 12.5, Quantity{Value: 12.5}, true},
		{"int", 3, Quantity{Value: 3}, true},
		{"bare string", "40", Quantity{Value: 40}, true},
		{"glued unit", "20kg", Quantity{Value: 20, Unit: "kg"}, true},
		{"spaced unit", "300 litres", Quantity{Value: 300, Unit: "L"}, true},
		{"decimal comma", "2,5 L", Quantity{Value: 2.5, Unit: "L"}, true},
		{"hours", "1.5 hrs", Quantity{Value: 1.5, Unit: "h"}, true},
		{"comma thousands", "1,200 L", Quantity{Value: 1200, Unit: "L"}, true},
		{"dot thousands", "1.200 L", Quantity{Value: 1200, Unit: "L"}, true},
		{"several groups", "1,250,000 L", Quantity{Value: 1250000, Unit: "L"}, true},
		{"dot thousands decimal comma", "1.200,5 L", Quantity{Value: 1200.5, Unit: "L"}, true},
		{"comma thousands decimal dot", "1,234.5 L", Quantity{Value: 1234.5, Unit: "L"}, true},
		{"leading zero stays decimal", "0,125 L", Quantity{Value: 0.125, Unit: "L"}, true},
		{"four fraction digits", "1,2345 kg", Quantity{Value: 1.2345, Unit: "kg"}, true},
		{"broken grouping", "12,34,567 L", Quantity{}, false},
		{"mixed without groups", "1,2.5 L", Quantity{}, false},
		{"separator only", ", L", Quantity{}, false},
		{"unknown unit kept", "4 sacks", Quantity{Value: 4, Unit: "sacks"}, true},
		{"object", map[string]any{"value": 7.0, "unit": "Tonnes"}, Quantity{Value: 7, Unit: "t"}, true},
		{"negative", -3.0, Quantity{}, false},
		{"words only", "a lot", Quantity{}, false},
		{"bool", true, Quantity{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseQuantity(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTranslate_GroupedVolumeKeepsMagnitude(t *testing.T) {
	rec, err := Translate(event(models.CategoryIrrigation, map[string]any{
		"volume":   "1,200 L",
		"duration": "45 min",
		"method":   "drip",
	}))
	require.NoError(t, err)

	require.NotNil(t, rec.Irrigation)
	assert.Equal(t, Quantity{Value: 1200, Unit: "L"}, rec.Irrigation.Volume)
	assert.Empty(t, rec.DefaultedFields)

	rec, err = Translate(event(models.CategoryIrrigation, map[string]any{
		"volume":   "12,34,567 L",
		"duration": "45 min",
		"method":   "drip",
	}))
	require.NoError(t, err)
	assert.Equal(t, Quantity{Value: 0, Unit: DefaultIrrigationUnit}, rec.Irrigation.Volume)
	assert.Equal(t, []string{"volume"}, rec.DefaultedFields)
}

func TestTranslate_SeparateUnitField(t *testing.T) {
	rec, err := Translate(event(models.CategoryEquipment, map[string]any{
		"machine": "tractor JD 5075E",
		"action":  "oil change",
		"hours":   2.0,
		"unit":    "hours",
	}))
	require.NoError(t, err)

	require.NotNil(t, rec.Equipment)
	assert.Equal(t, "tractor JD 5075E", rec.Equipment.Equipment)
	assert.Equal(t, "oil change", rec.Equipment.Operation)
	assert.Equal(t, Quantity{Value: 2, Unit: "h"}, rec.Equipment.Hours)
}

func TestRecord_WireFormat(t *testing.T) {
	rec, err := Translate(event(models.CategoryPruning, map[string]any{"crop": "vine", "trees": 120}))
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "0192f0c1-7a2b-7c3d-8e4f-5a6b7c8d9e0f", wire["idempotencyKey"])
	assert.Equal(t, "pruning", wire["eventType"])
	assert.NotContains(t, wire, "fertilizer")

	pruning, ok := wire["pruning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vine", pruning["crop"])
	assert.Equal(t, DefaultPruningTechnique, pruning["technique"])
}
