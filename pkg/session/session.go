// Package session runs one mounted form: it fetches the schema (and, for an
// existing record, its persisted values), hydrates the Value Store, routes
// editor changes to the save coordinator or to item blocks, runs the
// option-creation workflow and submits item batches.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-stepform/pkg/editors"
	"github.com/goliatone/go-stepform/pkg/notify"
	"github.com/goliatone/go-stepform/pkg/options"
	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/save"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

var (
	ErrSchemaFetch = errors.New("session: schema fetch failed")
	ErrRecordFetch = errors.New("session: record fetch failed")
	ErrClosed      = errors.New("session: closed")
	ErrWrongMode   = errors.New("session: operation not available in this mode")
	ErrNoItem      = errors.New("session: no such item")
	ErrNoField     = errors.New("session: field not in schema")
)

// Backend is the HTTP collaborator a session needs.
type Backend interface {
	FetchSchema(ctx context.Context, code string) (schema.Steps, error)
	FetchRecord(ctx context.Context, recordID int64) ([]values.StepDetails, error)
	SaveField(ctx context.Context, write payload.FieldWrite) error
	CreateOption(ctx context.Context, fieldID int64, value string) (schema.FieldOption, error)
	SubmitItems(ctx context.Context, batch payload.Batch) error
}

// Target identifies the form to open. A zero RecordID opens the form for
// item entry; otherwise the record is loaded for incremental editing.
type Target struct {
	Code     string
	RecordID int64
}

// Slot addresses a value store inside a session: the record being edited or
// one item block.
type Slot int

// RecordSlot addresses the record store in record mode.
const RecordSlot Slot = -1

type config struct {
	notifier    notify.Notifier
	logger      *slog.Logger
	confirmer   options.Confirmer
	dispatcher  *editors.Dispatcher
	clock       save.Clock
	debounce    time.Duration
	savedWindow time.Duration
	observer    func(save.State)
}

// Option configures Open.
type Option func(*config)

// WithNotifier routes user-visible notices.
func WithNotifier(n notify.Notifier) Option {
	return func(c *config) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLogger sets the structured logger shared by the session collaborators.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConfirmer sets the confirmation step of the option workflow.
func WithConfirmer(confirmer options.Confirmer) Option {
	return func(c *config) {
		c.confirmer = confirmer
	}
}

// WithDispatcher overrides the editor dispatcher (for number locale).
func WithDispatcher(d *editors.Dispatcher) Option {
	return func(c *config) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithClock sets the clock driving debounce and the saved window.
func WithClock(clock save.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithDebounce sets the quiet window for text and number edits.
func WithDebounce(d time.Duration) Option {
	return func(c *config) {
		c.debounce = d
	}
}

// WithSavedWindow sets how long the saved indicator stays up.
func WithSavedWindow(d time.Duration) Option {
	return func(c *config) {
		c.savedWindow = d
	}
}

// WithSaveObserver registers a callback for save state transitions.
func WithSaveObserver(fn func(save.State)) Option {
	return func(c *config) {
		c.observer = fn
	}
}

// Session is one mounted form instance.
type Session struct {
	backend    Backend
	target     Target
	mode       editors.Mode
	notifier   notify.Notifier
	logger     *slog.Logger
	dispatcher *editors.Dispatcher
	saver      *save.Coordinator
	workflow   *options.Workflow

	mu     sync.RWMutex
	steps  schema.Steps
	record *values.Store
	items  []*values.Store
	closed bool
}

// Open fetches the schema and, for record targets, the persisted values.
// Fetch failures are fatal and wrap ErrSchemaFetch or ErrRecordFetch.
func Open(ctx context.Context, backend Backend, target Target, opts ...Option) (*Session, error) {
	cfg := config{
		notifier:   notify.Discard,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatcher: editors.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := cfg.logger.With("code", target.Code)

	steps, err := backend.FetchSchema(ctx, target.Code)
	if err != nil {
		logger.Error("schema fetch failed", "error", err)
		return nil, fmt.Errorf("%w: %q: %w", ErrSchemaFetch, target.Code, err)
	}
	steps = steps.Sorted()
	if err := steps.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSchemaFetch, target.Code, err)
	}
	logMultiplicityShim(logger, steps)

	s := &Session{
		backend:    backend,
		target:     target,
		mode:       editors.ModeItems,
		notifier:   cfg.notifier,
		logger:     logger,
		dispatcher: cfg.dispatcher,
		steps:      steps,
		record:     values.NewStore(),
	}

	if target.RecordID != 0 {
		details, err := backend.FetchRecord(ctx, target.RecordID)
		if err != nil {
			logger.Error("record fetch failed", "record_id", target.RecordID, "error", err)
			return nil, fmt.Errorf("%w: record %d: %w", ErrRecordFetch, target.RecordID, err)
		}
		s.mode = editors.ModeRecord
		s.record = values.Hydrate(steps, details)
		logger.Info("record hydrated", "record_id", target.RecordID, "entries", s.record.Len())
	}

	saveOpts := []save.Option{
		save.WithNotifier(cfg.notifier),
		save.WithLogger(logger),
		save.WithClock(cfg.clock),
		save.WithDebounce(cfg.debounce),
		save.WithSavedWindow(cfg.savedWindow),
	}
	if cfg.observer != nil {
		saveOpts = append(saveOpts, save.WithObserver(cfg.observer))
	}
	s.saver = save.New(backend, s.Field, s.record, saveOpts...)
	s.workflow = options.New(backend,
		options.WithConfirmer(cfg.confirmer),
		options.WithNotifier(cfg.notifier),
		options.WithLogger(logger))
	return s, nil
}

func logMultiplicityShim(logger *slog.Logger, steps schema.Steps) {
	for _, step := range steps {
		for _, field := range step.Fields {
			if field.ValueType != schema.ValueTypeOptions {
				continue
			}
			if m, fromLabel := schema.ResolveMultiplicity(field); fromLabel {
				logger.Warn("multiplicity inferred from label", "field_id", field.ID, "step", step.Step, "multiplicity", string(m))
			}
		}
	}
}

// Target returns what the session was opened for.
func (s *Session) Target() Target {
	return s.target
}

// Mode reports record or item entry mode.
func (s *Session) Mode() editors.Mode {
	return s.mode
}

// Steps returns the current schema, sorted by ordinal. Options appended
// during the session are included.
func (s *Session) Steps() schema.Steps {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps
}

// Field returns the current definition of fieldID.
func (s *Session) Field(fieldID int64) (schema.FormField, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	field, _, ok := s.steps.Field(fieldID)
	return field, ok
}

// SaveState reports the save indicator.
func (s *Session) SaveState() save.State {
	return s.saver.State()
}

// Saved returns the last value the backend acknowledged for fieldID.
func (s *Session) Saved(fieldID int64) (values.Value, bool) {
	return s.saver.Saved(fieldID)
}

// Record returns the record store. In item mode it is empty and unused.
func (s *Session) Record() *values.Store {
	return s.record
}

// OptionPending reports whether an option is being created for fieldID.
func (s *Session) OptionPending(fieldID int64) bool {
	return s.workflow.Pending(fieldID)
}

// Editor configures the editor of fieldID in slot.
func (s *Session) Editor(slot Slot, fieldID int64) (editors.Editor, error) {
	store, err := s.store(slot)
	if err != nil {
		return editors.Editor{}, err
	}
	field, ok := s.Field(fieldID)
	if !ok {
		return editors.Editor{}, fmt.Errorf("%w: %d", ErrNoField, fieldID)
	}
	entry, _ := store.Get(fieldID)
	return s.dispatcher.Dispatch(field, entry, s.mode), nil
}

// Apply routes an accepted editor change. Record changes go through the save
// coordinator; item changes only update the item block. Literals listed in
// NeedsOptions run the option-creation workflow one at a time; for
// multi-select fields the known part of the selection is applied first. A
// declined literal does not stop the remaining ones, but Apply then reports
// ErrDeclined naming every literal that was left out.
func (s *Session) Apply(ctx context.Context, slot Slot, fieldID int64, change editors.Change) error {
	store, err := s.store(slot)
	if err != nil {
		return err
	}
	field, ok := s.Field(fieldID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoField, fieldID)
	}
	if len(change.NeedsOptions) == 0 {
		return s.set(slot, store, field, change)
	}

	if field.IsMulti() && !change.Value.Equal(store.Value(fieldID)) {
		if err := s.set(slot, store, field, change); err != nil {
			return err
		}
	}
	var declined []string
	for _, literal := range change.NeedsOptions {
		_, err := s.CreateOption(ctx, slot, fieldID, literal)
		switch {
		case err == nil:
		case errors.Is(err, options.ErrDeclined):
			declined = append(declined, literal)
		default:
			return err
		}
	}
	if len(declined) > 0 {
		return fmt.Errorf("%w: %q", options.ErrDeclined, declined)
	}
	return nil
}

func (s *Session) set(slot Slot, store *values.Store, field schema.FormField, change editors.Change) error {
	if slot != RecordSlot {
		store.Update(field.ID, func(e *values.Entry) {
			e.Current = change.Value
			e.LinkedOptionID = change.OptionID
		})
		return nil
	}

	if err := s.saver.Edit(field.ID, change.Value, saveMode(field)); err != nil {
		s.logger.Warn("edit rejected", "field_id", field.ID, "error", err)
		return fmt.Errorf("session: edit field %d: %w", field.ID, err)
	}
	if field.ValueType == schema.ValueTypeOptions && !field.IsMulti() {
		store.Update(field.ID, func(e *values.Entry) {
			e.LinkedOptionID = change.OptionID
		})
	}
	return nil
}

func saveMode(field schema.FormField) save.Mode {
	switch field.ValueType {
	case schema.ValueTypeOptions, schema.ValueTypeDate:
		return save.ModeImmediate
	default:
		return save.ModeDebounced
	}
}

// CreateOption runs the option-creation workflow for literal on fieldID. On
// success the option is appended to the field and the slot's entry is set to
// it in one step; record entries are then saved immediately.
func (s *Session) CreateOption(ctx context.Context, slot Slot, fieldID int64, literal string) (schema.FieldOption, error) {
	store, err := s.store(slot)
	if err != nil {
		return schema.FieldOption{}, err
	}
	field, ok := s.Field(fieldID)
	if !ok {
		return schema.FieldOption{}, fmt.Errorf("%w: %d", ErrNoField, fieldID)
	}
	if field.ValueType != schema.ValueTypeOptions {
		return schema.FieldOption{}, fmt.Errorf("session: field %d does not take options", fieldID)
	}
	if slot == RecordSlot {
		if entry, _ := store.Get(fieldID); !entry.Linked() {
			return schema.FieldOption{}, fmt.Errorf("session: create option for field %d: %w", fieldID, save.ErrNotLinked)
		}
	}

	sink := options.SinkFunc(func(id int64, opt schema.FieldOption) error {
		return s.applyOption(store, id, opt)
	})
	created, err := s.workflow.Create(ctx, field, literal, sink)
	if err != nil {
		return schema.FieldOption{}, err
	}

	if slot == RecordSlot {
		if err := s.saver.Edit(fieldID, store.Value(fieldID), save.ModeImmediate); err != nil {
			return created, fmt.Errorf("session: save new option: %w", err)
		}
	}
	return created, nil
}

// applyOption appends opt to the schema and points the entry at it under the
// session lock, so readers never see the entry referencing an option the
// field does not list.
func (s *Session) applyOption(store *values.Store, fieldID int64, opt schema.FieldOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	steps, err := s.steps.AppendOption(fieldID, opt)
	if err != nil {
		return err
	}
	field, _, _ := steps.Field(fieldID)
	s.steps = steps

	store.Update(fieldID, func(e *values.Entry) {
		if field.IsMulti() {
			e.Current = e.Current.With(opt.Value)
			e.LinkedOptionID = nil
			return
		}
		id := opt.ID
		e.Current = values.Scalar(opt.Value)
		e.LinkedOptionID = &id
	})
	s.logger.Info("option applied", "field_id", fieldID, "option_id", opt.ID)
	return nil
}

// AddItem appends an empty item block and returns its slot.
func (s *Session) AddItem() (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.mode != editors.ModeItems {
		return 0, ErrWrongMode
	}
	s.items = append(s.items, values.NewStore())
	return Slot(len(s.items) - 1), nil
}

// RemoveItem drops an item block. Later slots shift down by one.
func (s *Session) RemoveItem(slot Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || int(slot) >= len(s.items) {
		return fmt.Errorf("%w: %d", ErrNoItem, slot)
	}
	s.items = append(s.items[:slot], s.items[slot+1:]...)
	return nil
}

// Items returns the number of item blocks.
func (s *Session) Items() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Item returns the store of an item block.
func (s *Session) Item(slot Slot) (*values.Store, error) {
	if slot == RecordSlot {
		return nil, fmt.Errorf("%w: %d", ErrNoItem, slot)
	}
	return s.store(slot)
}

// Batch assembles the pending item blocks.
func (s *Session) Batch(opts ...payload.AssembleOption) (payload.Batch, error) {
	steps, items := s.snapshot()
	return payload.NewBatch(steps, items, opts...)
}

// Summary renders the pending item blocks for review.
func (s *Session) Summary() (string, error) {
	steps, items := s.snapshot()
	optionFields := make(map[int64]bool)
	for _, step := range steps {
		for _, field := range step.Fields {
			if field.ValueType == schema.ValueTypeOptions {
				optionFields[field.ID] = true
			}
		}
	}
	return payload.Summary(payload.AssembleItems(steps, items), optionFields)
}

// Submit sends every item block as one batch. Item blocks are kept on any
// failure so the user can retry, and cleared on success.
func (s *Session) Submit(ctx context.Context, opts ...payload.AssembleOption) error {
	if s.mode != editors.ModeItems {
		return ErrWrongMode
	}
	if s.isClosed() {
		return ErrClosed
	}
	batch, err := s.Batch(opts...)
	if err != nil {
		if errors.Is(err, payload.ErrEmptyBatch) {
			s.notifier.Notify(notify.Notice{Level: notify.LevelInfo, Message: "nothing to submit"})
		}
		return err
	}

	if err := s.backend.SubmitItems(ctx, batch); err != nil {
		s.logger.Error("batch submit failed", "instructions", len(batch.Items), "error", err)
		s.notifier.Notify(notify.Errorf(0, "could not submit items: %v", err))
		return fmt.Errorf("session: submit items: %w", err)
	}

	s.mu.Lock()
	submitted := len(s.items)
	s.items = nil
	s.mu.Unlock()

	s.logger.Info("batch submitted", "items", submitted, "instructions", len(batch.Items))
	s.notifier.Notify(notify.Notice{Level: notify.LevelSuccess,
		Message: fmt.Sprintf("submitted %d item(s)", submitted)})
	return nil
}

// Close flushes pending record edits and waits for in-flight saves. The
// session rejects further work afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.saver.Close(ctx); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) store(slot Slot) (*values.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if slot == RecordSlot {
		if s.mode != editors.ModeRecord {
			return nil, ErrWrongMode
		}
		return s.record, nil
	}
	if slot < 0 || int(slot) >= len(s.items) {
		return nil, fmt.Errorf("%w: %d", ErrNoItem, slot)
	}
	return s.items[slot], nil
}

func (s *Session) snapshot() (schema.Steps, []*values.Store) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*values.Store, len(s.items))
	for i, item := range s.items {
		items[i] = item.Clone()
	}
	return s.steps, items
}
