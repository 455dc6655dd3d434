package values

import (
	"testing"

	"github.com/goliatone/go-stepform/pkg/schema"
)

func hydrateSchema() schema.Steps {
	return schema.Steps{
		{Step: 1, StepName: "Details", Fields: []schema.FormField{
			{ID: 1, Label: "Colour", ValueType: schema.ValueTypeOptions, Multiplicity: schema.MultiplicitySingle,
				Options: []schema.FieldOption{{ID: 7, Value: "Red"}, {ID: 8, Value: "Blue"}}},
			{ID: 2, Label: "Vehicle Model", ValueType: schema.ValueTypeOptions,
				Options: []schema.FieldOption{{ID: 20, Value: "A"}, {ID: 21, Value: "B"}}},
			{ID: 3, Label: "Notes", ValueType: schema.ValueTypeText},
			{ID: 4, Label: "Due", ValueType: schema.ValueTypeDate},
		}},
	}
}

func TestHydrate_OptionRoundTrip(t *testing.T) {
	store := Hydrate(hydrateSchema(), []StepDetails{
		{Step: 1, Details: []DetailRow{
			{RecordID: 501, FieldID: 1, Value: `[{"value":"Red","form_detail_value_id":7}]`},
		}},
	})

	entry, ok := store.Get(1)
	if !ok {
		t.Fatalf("entry missing")
	}
	if !entry.Current.Equal(Scalar("Red")) {
		t.Fatalf("current mismatch: %q", entry.Current.String())
	}
	if entry.LinkedOptionID == nil || *entry.LinkedOptionID != 7 {
		t.Fatalf("linked option mismatch: %v", entry.LinkedOptionID)
	}
	if entry.LinkedRecordID == nil || *entry.LinkedRecordID != 501 {
		t.Fatalf("linked record mismatch: %v", entry.LinkedRecordID)
	}
}

func TestHydrate_ResolvesStaleOptionIDByValue(t *testing.T) {
	store := Hydrate(hydrateSchema(), []StepDetails{
		{Details: []DetailRow{{RecordID: 9, FieldID: 1, Value: `[{"value":"Blue","field_value_id":999}]`}}},
	})
	entry, _ := store.Get(1)
	if entry.LinkedOptionID == nil || *entry.LinkedOptionID != 8 {
		t.Fatalf("expected option 8 resolved by value, got %v", entry.LinkedOptionID)
	}
}

func TestHydrate_MultiSelectMergesRows(t *testing.T) {
	store := Hydrate(hydrateSchema(), []StepDetails{
		{Details: []DetailRow{
			{RecordID: 9, FieldID: 2, Value: `[{"value":"A","field_value_id":20}]`},
			{RecordID: 9, FieldID: 2, Value: `[{"value":"B","field_value_id":21},{"value":"A","field_value_id":20}]`},
		}},
	})
	entry, _ := store.Get(2)
	if !entry.Current.IsList() {
		t.Fatalf("multi-select should hydrate to a list")
	}
	if !entry.Current.Contains("A") || !entry.Current.Contains("B") || len(entry.Current.Strings()) != 2 {
		t.Fatalf("unexpected multi value: %v", entry.Current.Strings())
	}
}

func TestHydrate_ScalarAndUnlinked(t *testing.T) {
	store := Hydrate(hydrateSchema(), []StepDetails{
		{Details: []DetailRow{
			{RecordID: 3, FieldID: 3, Value: "abc"},
			{RecordID: 0, FieldID: 4, Value: "2024-01-31"},
			{RecordID: 3, FieldID: 99, Value: "ignored"},
		}},
	})

	notes, _ := store.Get(3)
	if notes.Current.String() != "abc" || !notes.Linked() {
		t.Fatalf("notes mismatch: %#v", notes)
	}
	due, _ := store.Get(4)
	if due.Linked() {
		t.Fatalf("record id 0 must stay unlinked")
	}
	if _, ok := store.Get(99); ok {
		t.Fatalf("unknown field should not create an entry")
	}
}
