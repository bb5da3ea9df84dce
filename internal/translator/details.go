package translator

import "Mansoor88-6/fieldsync-agent/internal/models"

// Quantity is a measured amount with a normalised unit
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Detail is the category-specific part of a canonical record. The set of
// implementations is closed: one per known category.
type Detail interface {
	Category() models.Category
	attach(rec *Record)
}

type FertilizerDetails struct {
	Product  string   `json:"product"`
	Quantity Quantity `json:"quantity"`
	Method   string   `json:"method"`
}

type IrrigationDetails struct {
	Volume   Quantity `json:"volume"`
	Duration Quantity `json:"duration"`
	Method   string   `json:"method"`
}

type PestControlDetails struct {
	Product  string   `json:"product"`
	Target   string   `json:"target"`
	Quantity Quantity `json:"quantity"`
	Method   string   `json:"method"`
}

type PruningDetails struct {
	Crop      string   `json:"crop"`
	Technique string   `json:"technique"`
	Plants    Quantity `json:"plants"`
}

type EquipmentDetails struct {
	Equipment string   `json:"equipment"`
	Operation string   `json:"operation"`
	Hours     Quantity `json:"hours"`
}

type HarvestDetails struct {
	Crop     string   `json:"crop"`
	Quantity Quantity `json:"quantity"`
	Quality  string   `json:"quality"`
}

func (*FertilizerDetails) Category() models.Category  { return models.CategoryFertilizer }
func (*IrrigationDetails) Category() models.Category  { return models.CategoryIrrigation }
func (*PestControlDetails) Category() models.Category { return models.CategoryPestControl }
func (*PruningDetails) Category() models.Category     { return models.CategoryPruning }
func (*EquipmentDetails) Category() models.Category   { return models.CategoryEquipment }
func (*HarvestDetails) Category() models.Category     { return models.CategoryHarvest }

func (d *FertilizerDetails) attach(rec *Record)  { rec.Fertilizer = d }
func (d *IrrigationDetails) attach(rec *Record)  { rec.Irrigation = d }
func (d *PestControlDetails) attach(rec *Record) { rec.PestControl = d }
func (d *PruningDetails) attach(rec *Record)     { rec.Pruning = d }
func (d *EquipmentDetails) attach(rec *Record)   { rec.Equipment = d }
func (d *HarvestDetails) attach(rec *Record)     { rec.Harvest = d }

// Per-category defaults for fields the operator did not dictate
const (
	DefaultFertilizerUnit    = "kg"
	DefaultFertilizerMethod  = "broadcast"
	DefaultIrrigationUnit    = "L"
	DefaultIrrigationMethod  = "drip"
	DefaultPestControlUnit   = "L"
	DefaultPestControlMethod = "spray"
	DefaultPruningTechnique  = "maintenance"
	DefaultEquipmentAction   = "maintenance"
	DefaultHarvestUnit       = "kg"
)

// decoder builds the detail variant for one category from payload fields
type decoder func(f *fields) Detail

var decoders = map[models.Category]decoder{
	models.CategoryFertilizer: func(f *fields) Detail {
		return &FertilizerDetails{
			Product:  f.text("product", "product", "fertilizer", "name"),
			Quantity: f.quantity("quantity", DefaultFertilizerUnit, "quantity", "amount", "dose", "rate"),
			Method:   f.textOr("method", DefaultFertilizerMethod, "method", "application_method", "application"),
		}
	},
	models.CategoryIrrigation: func(f *fields) Detail {
		return &IrrigationDetails{
			Volume:   f.quantity("volume", DefaultIrrigationUnit, "volume", "water", "quantity", "amount"),
			Duration: f.quantity("duration", "min", "duration", "time", "minutes"),
			Method:   f.textOr("method", DefaultIrrigationMethod, "method", "system", "irrigation_type"),
		}
	},
	models.CategoryPestControl: func(f *fields) Detail {
		return &PestControlDetails{
			Product:  f.text("product", "product", "pesticide", "treatment", "name"),
			Target:   f.text("target", "target", "pest", "disease"),
			Quantity: f.quantity("quantity", DefaultPestControlUnit, "quantity", "amount", "dose"),
			Method:   f.textOr("method", DefaultPestControlMethod, "method", "application_method"),
		}
	},
	models.CategoryPruning: func(f *fields) Detail {
		return &PruningDetails{
			Crop:      f.text("crop", "crop", "variety", "plant"),
			Technique: f.textOr("technique", DefaultPruningTechnique, "technique", "method", "type"),
			Plants:    f.quantity("plants", "plants", "plants", "trees", "count", "quantity"),
		}
	},
	models.CategoryEquipment: func(f *fields) Detail {
		return &EquipmentDetails{
			Equipment: f.text("equipment", "equipment", "machine", "tool", "name"),
			Operation: f.textOr("operation", DefaultEquipmentAction, "operation", "action", "activity", "task"),
			Hours:     f.quantity("hours", "h", "hours", "usage", "duration"),
		}
	},
	models.CategoryHarvest: func(f *fields) Detail {
		return &HarvestDetails{
			Crop:     f.text("crop", "crop", "variety", "product"),
			Quantity: f.quantity("quantity", DefaultHarvestUnit, "quantity", "yield", "weight", "amount"),
			Quality:  f.text("quality", "quality", "grade"),
		}
	},
}
