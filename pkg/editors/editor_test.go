package editors

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"

	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

func linked(v values.Value) values.Entry {
	id := int64(100)
	return values.Entry{Current: v, LinkedRecordID: &id}
}

func colourField() schema.FormField {
	return schema.FormField{
		ID:           1,
		Label:        "Colour",
		ValueType:    schema.ValueTypeOptions,
		Multiplicity: schema.MultiplicitySingle,
		Options:      []schema.FieldOption{{ID: 7, Value: "Red"}, {ID: 8, Value: "Blue"}},
	}
}

func TestDispatch_Kinds(t *testing.T) {
	cases := []struct {
		name      string
		field     schema.FormField
		kind      Kind
		immediate bool
	}{
		{"text", schema.FormField{ValueType: schema.ValueTypeText}, KindText, false},
		{"number", schema.FormField{ValueType: schema.ValueTypeNumber}, KindNumber, false},
		{"date", schema.FormField{ValueType: schema.ValueTypeDate}, KindDate, true},
		{"single select", colourField(), KindSelect, true},
		{"multi select by label", schema.FormField{Label: "Body Type", ValueType: schema.ValueTypeOptions}, KindMultiSelect, true},
		{"unknown", schema.FormField{ValueType: schema.ValueType(42)}, KindUnsupported, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ed := Dispatch(tc.field, linked(values.Null()), ModeRecord)
			if ed.Kind != tc.kind || ed.Immediate != tc.immediate {
				t.Fatalf("want (%s, immediate=%v) got (%s, immediate=%v)", tc.kind, tc.immediate, ed.Kind, ed.Immediate)
			}
		})
	}
}

func TestDispatch_UnsupportedPlaceholder(t *testing.T) {
	ed := Dispatch(schema.FormField{Label: "Sig", ValueType: schema.ValueType(9)}, values.Entry{}, ModeItems)
	if ed.Placeholder == "" || !ed.Disabled {
		t.Fatalf("expected disabled placeholder editor: %#v", ed)
	}
	if _, err := ed.Accept("x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDispatch_UnlinkedDisabledInRecordMode(t *testing.T) {
	field := schema.FormField{ID: 3, ValueType: schema.ValueTypeText}

	ed := Dispatch(field, values.Entry{}, ModeRecord)
	if !ed.Disabled || ed.Note != UnlinkedNote {
		t.Fatalf("expected disabled with note, got %#v", ed)
	}
	if _, err := ed.Accept("x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	ed = Dispatch(field, values.Entry{}, ModeItems)
	if ed.Disabled {
		t.Fatalf("items mode must allow unlinked entries")
	}
}

func TestEditor_NumberStripsAndFormats(t *testing.T) {
	ed := Dispatch(schema.FormField{ValueType: schema.ValueTypeNumber}, linked(values.Scalar("1234567")), ModeRecord)
	if ed.Display != "1,234,567" {
		t.Fatalf("display mismatch: %q", ed.Display)
	}

	change, err := ed.Accept("12,3a4")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if change.Value.String() != "1234" {
		t.Fatalf("expected unformatted digits, got %q", change.Value.String())
	}

	zero, err := ed.Accept("0")
	if err != nil || zero.Value.IsEmpty() {
		t.Fatalf("zero must be a value: %#v %v", zero, err)
	}

	if got := ed.FormatDisplay("9876543"); got != "9,876,543" {
		t.Fatalf("format display mismatch: %q", got)
	}
}

func TestFormatThousands_Locale(t *testing.T) {
	d := New(WithLanguage(language.German))
	if got := d.FormatThousands("1234567"); got != "1.234.567" {
		t.Fatalf("german grouping mismatch: %q", got)
	}
	if got := FormatThousands("123456789012345678901234"); got != "123,456,789,012,345,678,901,234" {
		t.Fatalf("overflow grouping mismatch: %q", got)
	}
	if got := FormatThousands("abc"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestEditor_DateClearsToNull(t *testing.T) {
	ed := Dispatch(schema.FormField{ValueType: schema.ValueTypeDate}, linked(values.Scalar("2024-03-01T10:00:00Z")), ModeRecord)
	if ed.Display != "2024-03-01" {
		t.Fatalf("display mismatch: %q", ed.Display)
	}

	cleared, err := ed.Accept("  ")
	if err != nil {
		t.Fatalf("accept blank: %v", err)
	}
	if !cleared.Value.IsNull() {
		t.Fatalf("clearing must yield null, got %q", cleared.Value.String())
	}

	if _, err := ed.Accept("31/01/2024"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}

	set, err := ed.Accept("2024-01-31")
	if err != nil || set.Value.String() != "2024-01-31" {
		t.Fatalf("unexpected date change: %#v %v", set, err)
	}
}

func TestEditor_SingleSelect(t *testing.T) {
	ed := Dispatch(colourField(), linked(values.Scalar("Blue")), ModeRecord)
	if diff := cmp.Diff([]int{1}, ed.Selected); diff != "" {
		t.Fatalf("selected mismatch (-want +got):\n%s", diff)
	}

	change, err := ed.Accept("Red")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if change.Value.String() != "Red" || change.OptionID == nil || *change.OptionID != 7 {
		t.Fatalf("unexpected change: %#v", change)
	}

	unknown, err := ed.Accept("Green")
	if err != nil {
		t.Fatalf("accept unknown: %v", err)
	}
	if diff := cmp.Diff([]string{"Green"}, unknown.NeedsOptions); diff != "" || unknown.Value.String() != "Blue" {
		t.Fatalf("unknown literal should request creation and keep value: %#v", unknown)
	}
}

func TestEditor_MultiSelect(t *testing.T) {
	field := schema.FormField{
		ID:           2,
		Label:        "Finish",
		ValueType:    schema.ValueTypeOptions,
		Multiplicity: schema.MultiplicityMulti,
		Options:      []schema.FieldOption{{ID: 1, Value: "Matte"}, {ID: 2, Value: "Gloss"}, {ID: 3, Value: "Satin"}},
	}
	ed := Dispatch(field, values.Entry{}, ModeItems)

	change, err := ed.SelectIndices([]int{2, 0})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := change.Value.Strings()
	if len(got) != 2 || !change.Value.Contains("Matte") || !change.Value.Contains("Satin") {
		t.Fatalf("unexpected selection: %v", got)
	}

	mixed, err := ed.Accept("Gloss, Pearl")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if diff := cmp.Diff([]string{"Pearl"}, mixed.NeedsOptions); diff != "" || !mixed.Value.Contains("Gloss") {
		t.Fatalf("unexpected mixed change: %#v", mixed)
	}

	several, err := ed.Accept("Matte,Pearl,Chrome,Pearl")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if diff := cmp.Diff([]string{"Pearl", "Chrome"}, several.NeedsOptions); diff != "" {
		t.Fatalf("every unknown literal should be reported (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Matte"}, several.Value.Strings()); diff != "" {
		t.Fatalf("known part mismatch (-want +got):\n%s", diff)
	}
}

func TestEditor_RequiredAndLength(t *testing.T) {
	limit := 3
	field := schema.FormField{ValueType: schema.ValueTypeText, IsDefault: true, ValueLength: &limit}
	ed := Dispatch(field, values.Entry{}, ModeItems)

	if _, err := ed.Accept(""); !errors.Is(err, ErrRequired) {
		t.Fatalf("expected ErrRequired, got %v", err)
	}
	if _, err := ed.Accept("abcd"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if c, err := ed.Accept("abc"); err != nil || c.Value.String() != "abc" {
		t.Fatalf("unexpected change: %#v %v", c, err)
	}
}
