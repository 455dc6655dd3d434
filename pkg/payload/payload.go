// Package payload assembles the nested write structures the backend's bulk
// and per-field endpoints expect from the Value Store.
//
// A value of an Options field expands to one Pair per selected option. The
// option id is resolved by matching the literal against the field's options;
// a literal that no longer resolves is still submitted with FieldValueID 0.
// That zero is the backend's free-text fallback for option fields, not an
// error, and values are never dropped because of it.
package payload

import (
	"errors"

	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

// ErrEmptyBatch is returned when no item block holds a usable value. No
// request must be sent in that case.
var ErrEmptyBatch = errors.New("payload: nothing to submit")

// Pair is one value element on the wire.
type Pair struct {
	FieldValueID int64  `json:"field_value_id"`
	Value        string `json:"value"`
}

// Instruction is one field write inside a batch.
type Instruction struct {
	Step     int    `json:"step"`
	StepName string `json:"step_name"`
	FieldID  int64  `json:"field_id"`
	Label    string `json:"label"`
	Value    []Pair `json:"value"`
}

// Batch is the body of the batch item submission.
type Batch struct {
	Items []Instruction `json:"items"`
}

// FieldWrite is the body of an incremental field save.
type FieldWrite struct {
	ParentRecordID int64  `json:"parent_record_id"`
	FieldID        int64  `json:"field_id"`
	Value          []Pair `json:"value"`
}

// Pairs expands a field value into wire pairs. Empty values yield nil.
func Pairs(field schema.FormField, v values.Value) []Pair {
	if v.IsEmpty() {
		return nil
	}
	switch field.ValueType {
	case schema.ValueTypeOptions:
		items := v.Strings()
		out := make([]Pair, 0, len(items))
		for _, literal := range items {
			var id int64
			if opt, ok := field.OptionByValue(literal); ok {
				id = opt.ID
			}
			out = append(out, Pair{FieldValueID: id, Value: literal})
		}
		return out
	default:
		return []Pair{{Value: v.String()}}
	}
}

// NewFieldWrite builds the incremental save body for one linked entry.
func NewFieldWrite(field schema.FormField, parentRecordID int64, v values.Value) FieldWrite {
	pairs := Pairs(field, v)
	if pairs == nil {
		pairs = []Pair{}
	}
	return FieldWrite{
		ParentRecordID: parentRecordID,
		FieldID:        field.ID,
		Value:          pairs,
	}
}
