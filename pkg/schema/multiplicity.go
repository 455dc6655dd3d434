package schema

import "strings"

// legacyMultiHints are label fragments the original screens treated as
// multi-select markers.
var legacyMultiHints = []string{"type", "model"}

// ResolveMultiplicity returns the field's multiplicity. Non-option fields are
// always single. When the schema does not carry an explicit multiplicity the
// label heuristic is applied and fromLabel is true so callers can log that the
// shim was used.
func ResolveMultiplicity(field FormField) (m Multiplicity, fromLabel bool) {
	if field.ValueType != ValueTypeOptions {
		return MultiplicitySingle, false
	}
	switch field.Multiplicity {
	case MultiplicitySingle, MultiplicityMulti:
		return field.Multiplicity, false
	}
	label := strings.ToLower(field.Label)
	for _, hint := range legacyMultiHints {
		if strings.Contains(label, hint) {
			return MultiplicityMulti, true
		}
	}
	return MultiplicitySingle, true
}
