package values

import (
	"github.com/goliatone/go-stepform/pkg/schema"
)

// DetailRow is one persisted answer of an existing record.
type DetailRow struct {
	RecordID int64      `json:"record_id"`
	FieldID  int64      `json:"field_id"`
	Value    StoredText `json:"value"`
}

// StepDetails groups the persisted rows of one step.
type StepDetails struct {
	Step     int         `json:"step"`
	StepName string      `json:"step_name"`
	Details  []DetailRow `json:"details"`
}

// Hydrate builds a store from the persisted rows of an existing record. Rows
// whose field is not part of steps are ignored. Fields without a row get no
// entry and therefore stay unlinked.
func Hydrate(steps schema.Steps, details []StepDetails) *Store {
	store := NewStore()
	for _, group := range details {
		for _, row := range group.Details {
			field, _, ok := steps.Field(row.FieldID)
			if !ok {
				continue
			}
			hydrateRow(store, field, row)
		}
	}
	return store
}

func hydrateRow(store *Store, field schema.FormField, row DetailRow) {
	decoded := DecodeStored(string(row.Value))
	var linked *int64
	if row.RecordID != 0 {
		id := row.RecordID
		linked = &id
	}

	store.Update(field.ID, func(e *Entry) {
		if linked != nil {
			e.LinkedRecordID = linked
		}

		switch field.ValueType {
		case schema.ValueTypeOptions:
			if field.IsMulti() {
				current := e.Current
				for _, sv := range decoded {
					current = current.With(sv.Value)
				}
				if current.IsNull() {
					current = List()
				}
				e.Current = current
				e.LinkedOptionID = nil
				return
			}
			if len(decoded) == 0 {
				e.Current = Null()
				e.LinkedOptionID = nil
				return
			}
			e.Current = Scalar(decoded[0].Value)
			e.LinkedOptionID = resolveOptionID(field, decoded[0])
		default:
			if len(decoded) == 0 {
				e.Current = Null()
				return
			}
			e.Current = Scalar(decoded[0].Value)
		}
	})
}

// resolveOptionID keeps the stored option id when it still exists in the
// schema, falls back to matching by value, and otherwise reports no link.
func resolveOptionID(field schema.FormField, sv StoredValue) *int64 {
	if opt, ok := field.OptionByID(sv.OptionID); ok {
		id := opt.ID
		return &id
	}
	if opt, ok := field.OptionByValue(sv.Value); ok && opt.ID != 0 {
		id := opt.ID
		return &id
	}
	return nil
}
