package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueType tags the editor behaviour a field needs.
type ValueType int

const (
	ValueTypeUnknown ValueType = 0
	ValueTypeText    ValueType = 1
	ValueTypeNumber  ValueType = 2
	ValueTypeOptions ValueType = 3
	ValueTypeDate    ValueType = 4
)

var valueTypeNames = map[ValueType]string{
	ValueTypeText:    "text",
	ValueTypeNumber:  "number",
	ValueTypeOptions: "options",
	ValueTypeDate:    "date",
}

// String reports the lower-case name, or "unknown(N)" for tags outside the
// supported set.
func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Known reports whether t is one of the supported value types.
func (t ValueType) Known() bool {
	_, ok := valueTypeNames[t]
	return ok
}

// ParseValueType accepts the backend numeric tag ("3") or the name
// ("options"). Unrecognised input yields ValueTypeUnknown.
func ParseValueType(raw string) ValueType {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(trimmed); err == nil {
		t := ValueType(n)
		if t.Known() {
			return t
		}
		return ValueTypeUnknown
	}
	for t, name := range valueTypeNames {
		if name == trimmed {
			return t
		}
	}
	return ValueTypeUnknown
}

// MarshalJSON emits the numeric tag the backend expects.
func (t ValueType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(t))), nil
}

// UnmarshalJSON accepts numbers and strings. Unknown tags are kept as
// ValueTypeUnknown rather than failing the whole schema.
func (t *ValueType) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("schema: value_type: %w", err)
	}
	switch v := raw.(type) {
	case float64:
		*t = ParseValueType(strconv.Itoa(int(v)))
	case string:
		*t = ParseValueType(v)
	default:
		*t = ValueTypeUnknown
	}
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for fixture files.
func (t *ValueType) UnmarshalYAML(node *yaml.Node) error {
	*t = ParseValueType(node.Value)
	return nil
}

// Multiplicity tells single-select from multi-select option fields.
type Multiplicity string

const (
	MultiplicityUnset  Multiplicity = ""
	MultiplicitySingle Multiplicity = "single"
	MultiplicityMulti  Multiplicity = "multi"
)

// FieldOption is one selectable value of an Options field. ID is zero until
// the server has assigned one.
type FieldOption struct {
	ID    int64  `json:"id" yaml:"id"`
	Value string `json:"value" yaml:"value"`
}

// FormField is one typed input slot inside a step.
type FormField struct {
	ID           int64         `json:"id" yaml:"id"`
	Label        string        `json:"label" yaml:"label"`
	ValueType    ValueType     `json:"value_type" yaml:"value_type"`
	ValueLength  *int          `json:"value_length,omitempty" yaml:"value_length,omitempty"`
	IsDefault    bool          `json:"is_default" yaml:"is_default"`
	Multiplicity Multiplicity  `json:"multiplicity,omitempty" yaml:"multiplicity,omitempty"`
	Options      []FieldOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// Required reports the "required" marker. The backend overloads is_default
// for it.
func (f FormField) Required() bool {
	return f.IsDefault
}

// IsMulti reports whether an Options field holds a list of values.
func (f FormField) IsMulti() bool {
	m, _ := ResolveMultiplicity(f)
	return m == MultiplicityMulti
}

// OptionByValue returns the option whose Value equals value exactly.
func (f FormField) OptionByValue(value string) (FieldOption, bool) {
	for _, opt := range f.Options {
		if opt.Value == value {
			return opt, true
		}
	}
	return FieldOption{}, false
}

// OptionByID returns the option with the given server id.
func (f FormField) OptionByID(id int64) (FieldOption, bool) {
	if id == 0 {
		return FieldOption{}, false
	}
	for _, opt := range f.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return FieldOption{}, false
}

// OptionValues lists option values in schema order.
func (f FormField) OptionValues() []string {
	out := make([]string, len(f.Options))
	for i, opt := range f.Options {
		out[i] = opt.Value
	}
	return out
}

// FormStep groups fields shown as one tab of a multi-part form.
type FormStep struct {
	Step      int         `json:"step" yaml:"step"`
	StepName  string      `json:"step_name" yaml:"step_name"`
	IsDefault bool        `json:"is_default" yaml:"is_default"`
	Fields    []FormField `json:"fields" yaml:"fields"`
}

// Steps is a form schema. Ordering is defined by FormStep.Step, not by the
// slice position.
type Steps []FormStep

// Sorted returns a copy ordered by step ordinal. Ties keep their input order.
func (s Steps) Sorted() Steps {
	out := append(Steps(nil), s...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Step < out[j].Step
	})
	return out
}

// Field locates a field by id across every step.
func (s Steps) Field(id int64) (FormField, FormStep, bool) {
	for _, step := range s {
		for _, field := range step.Fields {
			if field.ID == id {
				return field, step, true
			}
		}
	}
	return FormField{}, FormStep{}, false
}

// Step returns the step with the given ordinal.
func (s Steps) Step(ordinal int) (FormStep, bool) {
	for _, step := range s {
		if step.Step == ordinal {
			return step, true
		}
	}
	return FormStep{}, false
}

// AppendOption adds opt to the field's option list and returns the updated
// schema. The receiver is not modified; callers swap the result in under
// their own lock. Appending an option whose id already exists is a no-op.
func (s Steps) AppendOption(fieldID int64, opt FieldOption) (Steps, error) {
	out := make(Steps, len(s))
	found := false
	for i, step := range s {
		out[i] = step
		out[i].Fields = append([]FormField(nil), step.Fields...)
		for j, field := range out[i].Fields {
			if field.ID != fieldID {
				continue
			}
			found = true
			if _, exists := field.OptionByID(opt.ID); exists {
				continue
			}
			field.Options = append(append([]FieldOption(nil), field.Options...), opt)
			out[i].Fields[j] = field
		}
	}
	if !found {
		return s, fmt.Errorf("schema: field %d not found", fieldID)
	}
	return out, nil
}

// Validate reports structural problems that make a schema unusable: duplicate
// step ordinals or duplicate field ids. Unknown value types are not errors.
func (s Steps) Validate() error {
	ordinals := make(map[int]struct{}, len(s))
	fields := make(map[int64]struct{})
	for _, step := range s {
		if _, dup := ordinals[step.Step]; dup {
			return fmt.Errorf("schema: duplicate step ordinal %d", step.Step)
		}
		ordinals[step.Step] = struct{}{}
		for _, field := range step.Fields {
			if _, dup := fields[field.ID]; dup {
				return fmt.Errorf("schema: duplicate field id %d (step %d)", field.ID, step.Step)
			}
			fields[field.ID] = struct{}{}
		}
	}
	return nil
}
