package session

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"go-ripple/grid"
)

// recordValidate checks decoded wire records.
// Initialized in init() with the tuning and cells rules.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()
	_ = recordValidate.RegisterValidation("tuning", validateTuning)
	_ = recordValidate.RegisterValidation("cells", validateCells)
}

func validateTuning(fl validator.FieldLevel) bool {
	_, ok := grid.LookupTuning(fl.Field().String())
	return ok
}

func validateCells(fl validator.FieldLevel) bool {
	cells, ok := fl.Field().Interface().([]grid.Cell)
	if !ok {
		return false
	}
	for _, c := range cells {
		if !c.InBounds() {
			return false
		}
	}
	return true
}

// wireRecord mirrors Record with pointers where "present" and "zero" must
// be told apart. JSON decoding rejects wrong types, the tags reject the rest.
type wireRecord struct {
	ID     string          `json:"id" validate:"required"`
	Name   *string         `json:"name" validate:"required"`
	Saves  []wireSave      `json:"saves" validate:"required,dive"`
	Blocks json.RawMessage `json:"blocks"`
}

type wireSave struct {
	ID              string      `json:"id" validate:"required"`
	Name            *string     `json:"name" validate:"required"`
	Tuning          string      `json:"tuning" validate:"required,tuning"`
	Tempo           *float64    `json:"tempo" validate:"required,gt=0"`
	ActiveGridItems []grid.Cell `json:"activeGridItems" validate:"required,cells"`
}

// Parse decodes and validates a replica state. Any structural problem
// yields ErrInvalidRecord.
func Parse(raw []byte) (*Record, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty state", ErrInvalidRecord)
	}

	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := recordValidate.Struct(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	rec := &Record{
		ID:     w.ID,
		Name:   *w.Name,
		Saves:  make([]Save, 0, len(w.Saves)),
		Blocks: decodeBlocks(w.Blocks),
	}
	for _, s := range w.Saves {
		rec.Saves = append(rec.Saves, Save{
			ID:              s.ID,
			Name:            *s.Name,
			Tuning:          s.Tuning,
			Tempo:           *s.Tempo,
			ActiveGridItems: s.ActiveGridItems,
		})
	}
	return rec, nil
}

// Validate reports whether raw is a well-formed record
func Validate(raw []byte) bool {
	_, err := Parse(raw)
	return err == nil
}

// ValidateRecord checks an in-memory record by its wire form
func ValidateRecord(r *Record) bool {
	if r == nil {
		return false
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return false
	}
	return Validate(raw)
}

// decodeBlocks is lenient: older records have no blocks and a malformed
// list is treated as empty
func decodeBlocks(raw json.RawMessage) []Block {
	if len(raw) == 0 {
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	out := blocks[:0]
	for _, b := range blocks {
		if b.Address != "" {
			out = append(out, b)
		}
	}
	return out
}
