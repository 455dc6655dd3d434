// Package schema models the server-defined form schema: ordered steps holding
// typed fields, and the option lists of categorical fields. Schemas are
// fetched once per form session and are append-only while the session lives;
// only a field's Options grow, through the option-creation workflow.
//
// ValueType is a closed set. Tags outside it decode to ValueTypeUnknown and
// switches over it treat them as unsupported, so one malformed schema entry
// degrades to a placeholder instead of breaking the form. Multiplicity is a
// first-class field; ResolveMultiplicity keeps the legacy label heuristic
// ("type"/"model" in the label means multi-select) as a compatibility shim for
// schemas that do not send it yet.
package schema
