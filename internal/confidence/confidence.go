// Package confidence combines the per-slot confidences of intent, entity and
// value into one decision confidence and lists the slots still missing.
package confidence

import (
	"github.com/scenepilot/scenepilot/pkg/models"
)

// Weights of each slot in the weighted mean.
type Weights struct {
	Intent float64
	Entity float64
	Value  float64
}

// Config configures aggregation. A slot whose confidence is below its floor
// counts as missing.
type Config struct {
	Weights     Weights
	IntentFloor float64
	EntityFloor float64
	ValueFloor  float64
}

// DefaultConfig weighs every slot equally.
func DefaultConfig() Config {
	return Config{
		Weights:     Weights{Intent: 1, Entity: 1, Value: 1},
		IntentFloor: 0.01,
		EntityFloor: 0.01,
		ValueFloor:  0.01,
	}
}

// Requirement lists the slots an intent needs.
type Requirement struct {
	Required []models.Slot
	Optional []models.Slot
	Sized    bool // the entity must carry height/length ranges
}

var requirements = map[models.IntentLabel]Requirement{
	models.IntentControlOn:      {Required: []models.Slot{models.SlotIntent, models.SlotEntity}},
	models.IntentControlOff:     {Required: []models.Slot{models.SlotIntent, models.SlotEntity}},
	models.IntentControlToggle:  {Required: []models.Slot{models.SlotIntent, models.SlotEntity}},
	models.IntentControlValue:   {Required: []models.Slot{models.SlotIntent, models.SlotEntity, models.SlotValue}},
	models.IntentInfoDefinition: {Required: []models.Slot{models.SlotIntent}, Optional: []models.Slot{models.SlotEntity}},
	models.IntentInfoLocation:   {Required: []models.Slot{models.SlotIntent, models.SlotEntity}},
	models.IntentSizeRequest:    {Required: []models.Slot{models.SlotIntent, models.SlotEntity}, Optional: []models.Slot{models.SlotValue}, Sized: true},
	models.IntentNoteStart:      {Required: []models.Slot{models.SlotIntent}},
	models.IntentNoteAdd:        {Required: []models.Slot{models.SlotIntent}},
	models.IntentNoteEnd:        {Required: []models.Slot{models.SlotIntent}},
	models.IntentNone:           {Required: []models.Slot{models.SlotIntent}},
}

// RequirementFor returns the slot requirement of an intent.
func RequirementFor(label models.IntentLabel) Requirement {
	if r, ok := requirements[label]; ok {
		return r
	}
	return requirements[models.IntentNone]
}

// Aggregation is the aggregator's verdict.
type Aggregation struct {
	Confidence      float64       `json:"confidence"`
	Missing         []models.Slot `json:"missing"`
	OptionalMissing []models.Slot `json:"optional_missing,omitempty"`
}

// Complete reports whether no required slot is missing.
func (a Aggregation) Complete() bool { return len(a.Missing) == 0 }

// Aggregator is stateless apart from its config.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate scores one turn. target is the catalog entry of entity, if any.
// A value that is present but invalid is always reported missing, even where
// the value slot is optional: the user gave one and it cannot be used.
func (a *Aggregator) Aggregate(intent models.ParsedIntent, entity *models.ResolvedEntity, target *models.CanonicalEntity, value models.ParsedValue) Aggregation {
	req := RequirementFor(intent.Label)

	type slot struct {
		conf    float64
		weight  float64
		present bool
	}
	slots := map[models.Slot]slot{
		models.SlotIntent: {
			conf:    intent.Confidence,
			weight:  a.cfg.Weights.Intent,
			present: intent.Label != models.IntentNone && intent.Confidence >= a.cfg.IntentFloor,
		},
		models.SlotEntity: {
			weight:  a.cfg.Weights.Entity,
			present: entity != nil && entity.Confidence >= a.cfg.EntityFloor && (!req.Sized || (target != nil && target.Sized())),
		},
		models.SlotValue: {
			conf:    value.Confidence,
			weight:  a.cfg.Weights.Value,
			present: value.Present() && value.Valid && value.Confidence >= a.cfg.ValueFloor,
		},
	}
	if entity != nil {
		s := slots[models.SlotEntity]
		s.conf = entity.Confidence
		slots[models.SlotEntity] = s
	}

	var agg Aggregation
	var sum, weights float64
	for _, name := range req.Required {
		s := slots[name]
		if !s.present {
			agg.Missing = append(agg.Missing, name)
			continue
		}
		sum += s.conf * s.weight
		weights += s.weight
	}
	// Optional slots never enter the mean; they only gate completeness.
	for _, name := range req.Optional {
		s := slots[name]
		switch {
		case s.present:
		case name == models.SlotValue && value.Present():
			agg.Missing = append(agg.Missing, name)
		default:
			agg.OptionalMissing = append(agg.OptionalMissing, name)
		}
	}
	if value.Present() && !value.Valid && !contains(req.Required, models.SlotValue) && !contains(req.Optional, models.SlotValue) {
		agg.Missing = append(agg.Missing, models.SlotValue)
	}

	models.SortSlots(agg.Missing)
	models.SortSlots(agg.OptionalMissing)
	if len(agg.Missing) > 0 || weights == 0 {
		agg.Confidence = 0
		return agg
	}
	agg.Confidence = sum / weights
	return agg
}

func contains(slots []models.Slot, s models.Slot) bool {
	for _, x := range slots {
		if x == s {
			return true
		}
	}
	return false
}
