// Package options runs the confirm → create → apply sequence for select
// literals that are not yet among a field's options.
package options

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/goliatone/go-stepform/pkg/notify"
	"github.com/goliatone/go-stepform/pkg/schema"
)

var (
	ErrPending  = errors.New("options: creation already in progress for field")
	ErrDeclined = errors.New("options: creation declined")
	ErrEmpty    = errors.New("options: option value is empty")
)

// Confirmer asks the user whether literal should become a new option.
type Confirmer interface {
	ConfirmOption(ctx context.Context, field schema.FormField, literal string) (bool, error)
}

// ConfirmFunc adapts a function into a Confirmer.
type ConfirmFunc func(ctx context.Context, field schema.FormField, literal string) (bool, error)

func (f ConfirmFunc) ConfirmOption(ctx context.Context, field schema.FormField, literal string) (bool, error) {
	return f(ctx, field, literal)
}

// AlwaysConfirm accepts every literal without asking.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, schema.FormField, string) (bool, error) {
	return true, nil
})

// Creator persists a new option on the backend.
type Creator interface {
	CreateOption(ctx context.Context, fieldID int64, value string) (schema.FieldOption, error)
}

// Sink applies a created option: it must append the option to the field and
// set the triggering entry's value in one step.
type Sink interface {
	ApplyOption(fieldID int64, option schema.FieldOption) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(fieldID int64, option schema.FieldOption) error

func (f SinkFunc) ApplyOption(fieldID int64, option schema.FieldOption) error {
	return f(fieldID, option)
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithConfirmer sets the confirmation step.
func WithConfirmer(c Confirmer) Option {
	return func(w *Workflow) {
		if c != nil {
			w.confirmer = c
		}
	}
}

// WithNotifier routes creation failures to the user.
func WithNotifier(n notify.Notifier) Option {
	return func(w *Workflow) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Workflow creates options, at most one at a time per field.
type Workflow struct {
	creator   Creator
	confirmer Confirmer
	notifier  notify.Notifier
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[int64]string
}

// New returns a Workflow persisting through creator.
func New(creator Creator, options ...Option) *Workflow {
	w := &Workflow{
		creator:   creator,
		confirmer: AlwaysConfirm,
		notifier:  notify.Discard,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:   make(map[int64]string),
	}
	for _, opt := range options {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Pending reports whether a creation is in flight for fieldID. Renderers use
// it to hide the "new option" affordance.
func (w *Workflow) Pending(fieldID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[fieldID]
	return ok
}

// Create confirms literal with the user, persists it and hands the result to
// sink. On any failure the field options and entry are left unchanged.
func (w *Workflow) Create(ctx context.Context, field schema.FormField, literal string, sink Sink) (schema.FieldOption, error) {
	literal = strings.TrimSpace(literal)
	if literal == "" {
		return schema.FieldOption{}, ErrEmpty
	}
	if existing, ok := field.OptionByValue(literal); ok {
		if err := sink.ApplyOption(field.ID, existing); err != nil {
			return schema.FieldOption{}, fmt.Errorf("options: apply %q: %w", literal, err)
		}
		return existing, nil
	}

	if !w.acquire(field.ID, literal) {
		return schema.FieldOption{}, fmt.Errorf("%w %d", ErrPending, field.ID)
	}
	defer w.release(field.ID)

	ok, err := w.confirmer.ConfirmOption(ctx, field, literal)
	if err != nil {
		return schema.FieldOption{}, fmt.Errorf("options: confirm: %w", err)
	}
	if !ok {
		return schema.FieldOption{}, ErrDeclined
	}

	created, err := w.creator.CreateOption(ctx, field.ID, literal)
	if err != nil {
		w.logger.Error("option create failed", "field_id", field.ID, "error", err)
		w.notifier.Notify(notify.Errorf(field.ID, "could not add option %q: %v", literal, err))
		return schema.FieldOption{}, fmt.Errorf("options: create %q: %w", literal, err)
	}
	if created.Value == "" {
		created.Value = literal
	}

	if err := sink.ApplyOption(field.ID, created); err != nil {
		w.notifier.Notify(notify.Errorf(field.ID, "could not apply option %q: %v", literal, err))
		return schema.FieldOption{}, fmt.Errorf("options: apply %q: %w", literal, err)
	}
	w.logger.Info("option created", "field_id", field.ID, "option_id", created.ID)
	w.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, FieldID: field.ID,
		Message: fmt.Sprintf("added option %q", created.Value)})
	return created, nil
}

func (w *Workflow) acquire(fieldID int64, literal string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.pending[fieldID]; busy {
		return false
	}
	w.pending[fieldID] = literal
	return true
}

func (w *Workflow) release(fieldID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, fieldID)
}
