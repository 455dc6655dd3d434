package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-stepform/pkg/editors"
	"github.com/goliatone/go-stepform/pkg/notify"
	"github.com/goliatone/go-stepform/pkg/options"
	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/save"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/session"
)

// NewOptionLabel is appended to select prompts while no option creation is
// pending for the field.
const NewOptionLabel = "+ New option…"

// ClearOptionLabel is appended to single-select prompts of optional fields
// and clears the value.
const ClearOptionLabel = "(none)"

const defaultTextAreaThreshold = 255

// Form is the part of a session the renderer drives.
type Form interface {
	Steps() schema.Steps
	Editor(slot session.Slot, fieldID int64) (editors.Editor, error)
	Apply(ctx context.Context, slot session.Slot, fieldID int64, change editors.Change) error
	OptionPending(fieldID int64) bool
	AddItem() (session.Slot, error)
	Items() int
	Summary() (string, error)
	Submit(ctx context.Context, opts ...payload.AssembleOption) error
}

var _ Form = (*session.Session)(nil)

// Renderer walks a form session in the terminal.
type Renderer struct {
	driver     PromptDriver
	term       *notify.Terminal
	theme      Theme
	pageSize   int
	textAreaAt int

	statusMu sync.Mutex
	status   []string
}

// New constructs a TUI renderer with defaults (survey driver on stdout).
func New(options ...Option) *Renderer {
	r := &Renderer{
		theme:      DefaultTheme,
		textAreaAt: defaultTextAreaThreshold,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(r)
	}
	if r.driver == nil {
		r.driver = NewSurveyDriver(nil)
	}
	return r
}

// Confirmer returns an option-workflow confirmer that asks through the
// renderer's driver.
func (r *Renderer) Confirmer() options.Confirmer {
	return options.ConfirmFunc(func(ctx context.Context, field schema.FormField, literal string) (bool, error) {
		return r.driver.Confirm(ctx, ConfirmConfig{
			Message: fmt.Sprintf("Add %q as a new option for %s?", literal, schema.DisplayText(field.Label)),
			Default: true,
		})
	})
}

// SaveStatus queues save state transitions for session.WithSaveObserver. It
// runs on timer and request goroutines, so the lines are only printed between
// prompts by flushStatus.
func (r *Renderer) SaveStatus(state save.State) {
	if state == save.StateIdle {
		return
	}
	level := notify.LevelInfo
	text := "saving…"
	if state == save.StateSaved {
		level = notify.LevelSuccess
		text = "saved"
	}
	if r.term != nil {
		text = r.term.Status(level, text)
	}
	r.statusMu.Lock()
	r.status = append(r.status, text)
	r.statusMu.Unlock()
}

func (r *Renderer) flushStatus(ctx context.Context) error {
	r.statusMu.Lock()
	pending := r.status
	r.status = nil
	r.statusMu.Unlock()
	for _, line := range pending {
		if err := r.driver.Info(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// EditRecord prompts for every field of an existing record. Each accepted
// change is handed to the session, which saves it incrementally.
func (r *Renderer) EditRecord(ctx context.Context, form Form) error {
	if err := r.walk(ctx, form, session.RecordSlot); err != nil {
		return err
	}
	return r.flushStatus(ctx)
}

// CollectItems gathers item blocks until the user stops, shows a summary
// and submits them as one batch. A failed submission can be retried without
// re-entering any item.
func (r *Renderer) CollectItems(ctx context.Context, form Form) error {
	for {
		add, err := r.driver.Confirm(ctx, ConfirmConfig{
			Message: fmt.Sprintf("Add item %d?", form.Items()+1),
			Default: form.Items() == 0,
		})
		if err != nil {
			return err
		}
		if !add {
			break
		}
		slot, err := form.AddItem()
		if err != nil {
			return err
		}
		if err := r.walk(ctx, form, slot); err != nil {
			return err
		}
	}

	summary, err := form.Summary()
	if err != nil {
		return err
	}
	if err := r.driver.Info(ctx, strings.TrimRight(summary, "\n")); err != nil {
		return err
	}
	if form.Items() == 0 {
		return nil
	}
	submit, err := r.driver.Confirm(ctx, ConfirmConfig{
		Message: fmt.Sprintf("Submit %d item(s)?", form.Items()),
		Default: true,
	})
	if err != nil {
		return err
	}
	if !submit {
		return ErrCancelled
	}

	for {
		err := form.Submit(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, payload.ErrEmptyBatch) {
			return nil
		}
		// the session has already reported the failure; items are kept
		retry, cerr := r.driver.Confirm(ctx, ConfirmConfig{Message: "Retry submission?", Default: true})
		if cerr != nil {
			return cerr
		}
		if !retry {
			return err
		}
	}
}

func (r *Renderer) walk(ctx context.Context, form Form, slot session.Slot) error {
	for _, step := range form.Steps() {
		if err := r.info(ctx, r.theme.StepPrefix+schema.DisplayText(step.StepName)); err != nil {
			return err
		}
		for _, field := range step.Fields {
			if err := r.promptField(ctx, form, slot, field.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Renderer) promptField(ctx context.Context, form Form, slot session.Slot, fieldID int64) error {
	for {
		if err := r.flushStatus(ctx); err != nil {
			return err
		}
		ed, err := form.Editor(slot, fieldID)
		if err != nil {
			return err
		}
		if ed.Kind == editors.KindUnsupported {
			return r.info(ctx, fmt.Sprintf("%s%s: %s", r.theme.DisabledPrefix, ed.Label, ed.Placeholder))
		}
		if ed.Disabled {
			return r.info(ctx, fmt.Sprintf("%s%s: %s (%s)", r.theme.DisabledPrefix, ed.Label, ed.Display, ed.Note))
		}

		change, err := r.ask(ctx, form, ed)
		if err != nil {
			if isInputError(err) {
				if err := r.info(ctx, fmt.Sprintf("%sInvalid %s: %v", r.theme.ErrorPrefix, ed.Label, err)); err != nil {
					return err
				}
				continue
			}
			return err
		}

		err = form.Apply(ctx, slot, fieldID, change)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, options.ErrDeclined):
			// back to the prompt so the user can pick an existing option
			continue
		case errors.Is(err, options.ErrPending), errors.Is(err, options.ErrEmpty):
			if err := r.info(ctx, r.theme.ErrorPrefix+err.Error()); err != nil {
				return err
			}
			continue
		case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
			return err
		default:
			return r.info(ctx, fmt.Sprintf("%s%s: %v", r.theme.ErrorPrefix, ed.Label, err))
		}
	}
}

func isInputError(err error) bool {
	return errors.Is(err, editors.ErrRequired) ||
		errors.Is(err, editors.ErrTooLong) ||
		errors.Is(err, editors.ErrInvalidDate)
}

func (r *Renderer) ask(ctx context.Context, form Form, ed editors.Editor) (editors.Change, error) {
	message := ed.Label
	if ed.Required {
		message += " *"
	}

	switch ed.Kind {
	case editors.KindText:
		var resp string
		var err error
		if ed.MaxLength > r.textAreaAt {
			resp, err = r.driver.TextArea(ctx, TextAreaConfig{Message: message, Default: ed.Display})
		} else {
			resp, err = r.driver.Input(ctx, InputConfig{Message: message, Default: ed.Display, Help: lengthHelp(ed)})
		}
		if err != nil {
			return editors.Change{}, err
		}
		return ed.Accept(resp)

	case editors.KindNumber:
		resp, err := r.driver.Input(ctx, InputConfig{Message: message, Default: ed.Display, Help: "digits only"})
		if err != nil {
			return editors.Change{}, err
		}
		return ed.Accept(resp)

	case editors.KindDate:
		resp, err := r.driver.Input(ctx, InputConfig{
			Message:   message,
			Default:   ed.Display,
			Help:      "YYYY-MM-DD, leave blank to clear",
			Validator: validDate,
		})
		if err != nil {
			return editors.Change{}, err
		}
		return ed.Accept(resp)

	case editors.KindSelect:
		return r.askSelect(ctx, form, ed, message)

	case editors.KindMultiSelect:
		return r.askMultiSelect(ctx, form, ed, message)

	default:
		return editors.Change{}, editors.ErrUnsupported
	}
}

func (r *Renderer) selectOptions(form Form, ed editors.Editor) ([]string, int) {
	opts := append([]string(nil), ed.Options...)
	if form.OptionPending(ed.Field.ID) {
		return opts, -1
	}
	return append(opts, NewOptionLabel), len(opts)
}

func (r *Renderer) askSelect(ctx context.Context, form Form, ed editors.Editor, message string) (editors.Change, error) {
	opts, newIdx := r.selectOptions(form, ed)
	clearIdx := -1
	if !ed.Required {
		clearIdx = len(opts)
		opts = append(opts, ClearOptionLabel)
	}
	defaultIdx := 0
	switch {
	case len(ed.Selected) > 0:
		defaultIdx = ed.Selected[0]
	case clearIdx >= 0 && ed.Current.IsEmpty():
		defaultIdx = clearIdx
	}
	idx, err := r.driver.Select(ctx, SelectConfig{
		Message:      message,
		Options:      opts,
		DefaultIndex: defaultIdx,
		PageSize:     r.pageSize,
	})
	if err != nil {
		return editors.Change{}, err
	}
	switch {
	case newIdx >= 0 && idx == newIdx:
		literal, err := r.askLiteral(ctx, ed)
		if err != nil {
			return editors.Change{}, err
		}
		return ed.Accept(literal)
	case clearIdx >= 0 && idx == clearIdx:
		return ed.Accept("")
	}
	return ed.SelectIndices([]int{idx})
}

func (r *Renderer) askMultiSelect(ctx context.Context, form Form, ed editors.Editor, message string) (editors.Change, error) {
	opts, newIdx := r.selectOptions(form, ed)
	indices, err := r.driver.MultiSelect(ctx, SelectConfig{
		Message:  message,
		Options:  opts,
		Defaults: ed.Selected,
		PageSize: r.pageSize,
	})
	if err != nil {
		return editors.Change{}, err
	}

	var picked []string
	wantsNew := false
	for _, idx := range indices {
		if newIdx >= 0 && idx == newIdx {
			wantsNew = true
			continue
		}
		if idx >= 0 && idx < len(ed.Field.Options) {
			picked = append(picked, ed.Field.Options[idx].Value)
		}
	}
	if wantsNew {
		literal, err := r.askLiteral(ctx, ed)
		if err != nil {
			return editors.Change{}, err
		}
		picked = append(picked, literal)
	}
	return ed.AcceptSelection(picked)
}

func (r *Renderer) askLiteral(ctx context.Context, ed editors.Editor) (string, error) {
	literal, err := r.driver.Input(ctx, InputConfig{
		Message: fmt.Sprintf("New option for %s", ed.Label),
		Validator: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return options.ErrEmpty
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(literal), nil
}

func (r *Renderer) info(ctx context.Context, msg string) error {
	return r.driver.Info(ctx, msg)
}

func lengthHelp(ed editors.Editor) string {
	if ed.MaxLength <= 0 {
		return ""
	}
	return fmt.Sprintf("up to %d characters", ed.MaxLength)
}

func validDate(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := editors.ParseDate(s)
	return err
}
