// Package editors maps a field definition and its current value onto one of a
// fixed set of editor behaviours. It never special-cases field identities;
// the only label-dependent decision is multiplicity, delegated to
// schema.ResolveMultiplicity.
package editors

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

// Kind identifies the editor behaviour selected for a field.
type Kind string

const (
	KindText        Kind = "text"
	KindNumber      Kind = "number"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multi-select"
	KindDate        Kind = "date"
	KindUnsupported Kind = "unsupported"
)

// Mode says how the surrounding form persists edits.
type Mode int

const (
	// ModeRecord edits an existing record field by field; unlinked fields are
	// read-only.
	ModeRecord Mode = iota
	// ModeItems collects new item blocks that are submitted as one batch.
	ModeItems
)

// DateLayout is the wire format of Date fields.
const DateLayout = "2006-01-02"

// UnlinkedNote explains why a field is disabled in record mode.
const UnlinkedNote = "cannot edit: this value has not been saved yet"

var (
	ErrDisabled    = errors.New("editors: field is disabled")
	ErrUnsupported = errors.New("editors: unsupported field type")
	ErrRequired    = errors.New("editors: value is required")
	ErrTooLong     = errors.New("editors: value exceeds maximum length")
	ErrInvalidDate = errors.New("editors: date must be YYYY-MM-DD")
)

// Editor is the configured editor for one field.
type Editor struct {
	Kind      Kind
	Field     schema.FormField
	Label     string
	Required  bool
	MaxLength int
	Current   values.Value
	// Display is the current value formatted for the editor (thousands
	// separators for numbers, comma-joined lists for multi-select).
	Display string
	// Options holds display text for select editors, in schema order.
	Options []string
	// Selected holds indices into Options matching Current.
	Selected []int
	// Immediate is true for discrete editors whose changes are written
	// without debounce.
	Immediate   bool
	Disabled    bool
	Note        string
	Placeholder string

	printer *message.Printer
}

// Change is the outcome of accepting editor input.
type Change struct {
	Value values.Value
	// OptionID is the resolved option for single-select changes.
	OptionID *int64
	// NeedsOptions lists literals that are not among the field options, in
	// input order; the caller must run the option-creation workflow for each
	// of them instead of applying them directly.
	NeedsOptions []string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLanguage selects the locale used for number display.
func WithLanguage(tag language.Tag) Option {
	return func(d *Dispatcher) {
		d.printer = message.NewPrinter(tag)
	}
}

// Dispatcher builds editors. The zero value is not usable; call New.
type Dispatcher struct {
	printer *message.Printer
}

// New returns a Dispatcher using English number formatting unless
// overridden.
func New(options ...Option) *Dispatcher {
	d := &Dispatcher{printer: message.NewPrinter(language.English)}
	for _, opt := range options {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

var defaultDispatcher = New()

// Dispatch configures an editor with the default dispatcher.
func Dispatch(field schema.FormField, entry values.Entry, mode Mode) Editor {
	return defaultDispatcher.Dispatch(field, entry, mode)
}

// Dispatch selects and configures the editor for field. It never panics on
// malformed schema entries; unknown value types get a placeholder editor.
func (d *Dispatcher) Dispatch(field schema.FormField, entry values.Entry, mode Mode) Editor {
	ed := Editor{
		Field:    field,
		Label:    schema.DisplayText(field.Label),
		Required: field.Required(),
		Current:  entry.Current,
		printer:  d.printer,
	}
	if field.ValueLength != nil && *field.ValueLength > 0 {
		ed.MaxLength = *field.ValueLength
	}

	switch field.ValueType {
	case schema.ValueTypeText:
		ed.Kind = KindText
		ed.Display = entry.Current.String()
	case schema.ValueTypeNumber:
		ed.Kind = KindNumber
		ed.Display = d.FormatThousands(DigitsOnly(entry.Current.String()))
	case schema.ValueTypeOptions:
		ed.Kind = KindSelect
		if field.IsMulti() {
			ed.Kind = KindMultiSelect
		}
		ed.Immediate = true
		ed.Options = make([]string, len(field.Options))
		for i, opt := range field.Options {
			ed.Options[i] = schema.DisplayText(opt.Value)
			if entry.Current.Contains(opt.Value) {
				ed.Selected = append(ed.Selected, i)
			}
		}
		ed.Display = entry.Current.String()
	case schema.ValueTypeDate:
		ed.Kind = KindDate
		ed.Immediate = true
		ed.Display = normalizeDate(entry.Current.String())
	default:
		ed.Kind = KindUnsupported
		ed.Disabled = true
		ed.Placeholder = fmt.Sprintf("unsupported field type %s", field.ValueType)
		return ed
	}

	if mode == ModeRecord && !entry.Linked() {
		ed.Disabled = true
		ed.Note = UnlinkedNote
	}
	return ed
}

// Accept converts raw input into a change. Select editors take the option
// literal; multi-select editors take a comma separated list (use
// AcceptSelection when the selection is already split).
func (e Editor) Accept(input string) (Change, error) {
	if err := e.writable(); err != nil {
		return Change{}, err
	}

	switch e.Kind {
	case KindText:
		if e.MaxLength > 0 && utf8.RuneCountInString(input) > e.MaxLength {
			return Change{}, fmt.Errorf("%w (%d)", ErrTooLong, e.MaxLength)
		}
		return e.require(Change{Value: textValue(input)})
	case KindNumber:
		return e.require(Change{Value: textValue(DigitsOnly(input))})
	case KindDate:
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			return e.require(Change{Value: values.Null()})
		}
		date, err := ParseDate(trimmed)
		if err != nil {
			return Change{}, err
		}
		return Change{Value: values.Scalar(date)}, nil
	case KindSelect:
		literal := strings.TrimSpace(input)
		if literal == "" {
			return e.require(Change{Value: values.Null()})
		}
		opt, ok := e.Field.OptionByValue(literal)
		if !ok {
			return Change{Value: e.Current, NeedsOptions: []string{literal}}, nil
		}
		return Change{Value: values.Scalar(opt.Value), OptionID: optionIDPtr(opt.ID)}, nil
	case KindMultiSelect:
		return e.AcceptSelection(splitList(input))
	default:
		return Change{}, ErrUnsupported
	}
}

// AcceptSelection applies a multi-select choice. Unknown literals are
// reported through Change.NeedsOptions; the known part of the selection is
// returned in Change.Value.
func (e Editor) AcceptSelection(selected []string) (Change, error) {
	if err := e.writable(); err != nil {
		return Change{}, err
	}
	if e.Kind != KindMultiSelect {
		if len(selected) == 0 {
			return e.Accept("")
		}
		return e.Accept(selected[0])
	}

	known := make([]string, 0, len(selected))
	var unknown []string
	seen := make(map[string]struct{}, len(selected))
	for _, raw := range selected {
		literal := strings.TrimSpace(raw)
		if literal == "" {
			continue
		}
		if _, dup := seen[literal]; dup {
			continue
		}
		seen[literal] = struct{}{}
		if _, ok := e.Field.OptionByValue(literal); ok {
			known = append(known, literal)
			continue
		}
		unknown = append(unknown, literal)
	}
	change := Change{Value: values.List(known...), NeedsOptions: unknown}
	if len(unknown) > 0 {
		return change, nil
	}
	return e.require(change)
}

// SelectIndices maps option indices (as returned by a select prompt) to a
// change.
func (e Editor) SelectIndices(indices []int) (Change, error) {
	picked := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.Field.Options) {
			picked = append(picked, e.Field.Options[idx].Value)
		}
	}
	return e.AcceptSelection(picked)
}

func (e Editor) writable() error {
	if e.Kind == KindUnsupported {
		return ErrUnsupported
	}
	if e.Disabled {
		return ErrDisabled
	}
	return nil
}

func (e Editor) require(c Change) (Change, error) {
	if e.Required && c.Value.IsEmpty() {
		return Change{}, ErrRequired
	}
	return c, nil
}

func textValue(s string) values.Value {
	if s == "" {
		return values.Null()
	}
	return values.Scalar(s)
}

func optionIDPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func splitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	return strings.Split(input, ",")
}

// ParseDate validates an ISO calendar date. RFC 3339 timestamps are accepted
// and truncated to their date.
func ParseDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if t, err := time.Parse(DateLayout, trimmed); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.Format(DateLayout), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

func normalizeDate(raw string) string {
	if raw == "" {
		return ""
	}
	if date, err := ParseDate(raw); err == nil {
		return date
	}
	return raw
}
