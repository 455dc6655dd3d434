// Package save persists record-mode edits one field at a time.
//
// Free-text and number edits are debounced; discrete edits (select, date) are
// written immediately. Each field has its own lane with at most one request in
// flight. Edits arriving while a request is in flight mark the lane dirty and
// the latest store value is written once the in-flight request returns, so
// responses for one field can never be applied out of order.
package save

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-stepform/pkg/notify"
	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

const (
	DefaultDebounce    = time.Second
	DefaultSavedWindow = 2 * time.Second
)

var (
	ErrNotLinked    = errors.New("save: field has no persisted record")
	ErrUnknownField = errors.New("save: field not in schema")
	ErrClosed       = errors.New("save: coordinator closed")
)

// State is the form-wide save indicator.
type State int

const (
	StateIdle State = iota
	StateSaving
	StateSaved
)

func (s State) String() string {
	switch s {
	case StateSaving:
		return "saving"
	case StateSaved:
		return "saved"
	default:
		return "idle"
	}
}

// Mode selects how an edit is scheduled.
type Mode int

const (
	ModeDebounced Mode = iota
	ModeImmediate
)

// Writer performs the incremental save request.
type Writer interface {
	SaveField(ctx context.Context, write payload.FieldWrite) error
}

// FieldLookup resolves the current definition of a field. Option lists may
// grow during a session so the coordinator never caches definitions.
type FieldLookup func(fieldID int64) (schema.FormField, bool)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the system clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDebounce sets the quiet window for debounced edits.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithSavedWindow sets how long the saved state is shown before reverting to
// idle.
func WithSavedWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.savedWindow = d
		}
	}
}

// WithNotifier routes save failures to the user.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a callback invoked on every state transition. It
// runs with the coordinator lock held and must not call back into the
// Coordinator.
func WithObserver(fn func(State)) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

type lane struct {
	timer Timer
	armed bool
	// gen is bumped whenever the pending timer is replaced or consumed; a
	// callback carrying an older gen is stale.
	gen      uint64
	inFlight bool
	dirty    bool
	seq      uint64
	// base is the value the server holds: the hydrated value until the first
	// acknowledged write.
	base   values.Value
	acked  values.Value
	hasAck bool
}

// Coordinator owns the save lanes of one form instance.
type Coordinator struct {
	writer   Writer
	fields   FieldLookup
	store    *values.Store
	notifier notify.Notifier
	logger   *slog.Logger
	clock    Clock
	observer func(State)

	debounce    time.Duration
	savedWindow time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	inFlight   int
	savedTimer Timer
	lanes      map[int64]*lane
	closed     bool
}

// New builds a Coordinator writing entries of store through writer.
func New(writer Writer, fields FieldLookup, store *values.Store, options ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		writer:      writer,
		fields:      fields,
		store:       store,
		notifier:    notify.Discard,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:       SystemClock(),
		debounce:    DefaultDebounce,
		savedWindow: DefaultSavedWindow,
		ctx:         ctx,
		cancel:      cancel,
		lanes:       make(map[int64]*lane),
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	for _, fieldID := range store.FieldIDs() {
		c.lanes[fieldID] = &lane{base: store.Value(fieldID)}
	}
	return c
}

// State returns the current indicator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Saved returns the last value the server acknowledged for fieldID.
func (c *Coordinator) Saved(fieldID int64) (values.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[fieldID]
	if !ok || !l.hasAck {
		return values.Value{}, false
	}
	return l.acked, true
}

// Edit records v as the field's current value and schedules its save.
// Unlinked entries are rejected and left untouched. An edit back to the value
// the server already holds cancels any pending write instead of sending one.
func (c *Coordinator) Edit(fieldID int64, v values.Value, mode Mode) error {
	if _, ok := c.fields(fieldID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownField, fieldID)
	}
	entry, _ := c.store.Get(fieldID)
	if !entry.Linked() {
		return fmt.Errorf("%w: field %d", ErrNotLinked, fieldID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.store.Set(fieldID, v)
	l := c.lane(fieldID, entry.Current)
	c.disarmLocked(l)

	if !l.inFlight && v.Equal(l.base) {
		c.logger.Debug("save skipped, value unchanged", "field_id", fieldID)
		return nil
	}

	if mode == ModeImmediate {
		c.dispatchLocked(fieldID, l)
		return nil
	}

	l.armed = true
	gen := l.gen
	l.timer = c.clock.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != l.gen || !l.armed || c.closed {
			return
		}
		c.disarmLocked(l)
		c.dispatchLocked(fieldID, l)
	})
	return nil
}

// disarmLocked stops the lane's pending timer and invalidates its callback
// in case it already fired and is waiting for the lock.
func (c *Coordinator) disarmLocked(l *lane) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.armed = false
	l.gen++
}

// Flush dispatches every debounced edit that is still waiting for its quiet
// window.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fieldID, l := range c.lanes {
		if !l.armed {
			continue
		}
		c.disarmLocked(l)
		c.dispatchLocked(fieldID, l)
	}
}

// Wait blocks until no request is in flight or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending edits, waits for them and rejects further edits.
func (c *Coordinator) Close(ctx context.Context) error {
	c.Flush()
	err := c.Wait(ctx)

	c.mu.Lock()
	c.closed = true
	if c.savedTimer != nil {
		c.savedTimer.Stop()
		c.savedTimer = nil
	}
	c.mu.Unlock()
	c.cancel()
	return err
}

func (c *Coordinator) lane(fieldID int64, base values.Value) *lane {
	l, ok := c.lanes[fieldID]
	if !ok {
		l = &lane{base: base}
		c.lanes[fieldID] = l
	}
	return l
}

func (c *Coordinator) dispatchLocked(fieldID int64, l *lane) {
	if l.inFlight {
		l.dirty = true
		return
	}

	field, ok := c.fields(fieldID)
	entry, _ := c.store.Get(fieldID)
	if !ok || !entry.Linked() {
		return
	}

	l.seq++
	l.inFlight = true
	l.dirty = false
	c.inFlight++
	if c.savedTimer != nil {
		c.savedTimer.Stop()
		c.savedTimer = nil
	}
	c.setStateLocked(StateSaving)

	seq := l.seq
	write := payload.NewFieldWrite(field, *entry.LinkedRecordID, entry.Current)
	sent := entry.Current
	c.logger.Debug("save dispatched", "field_id", fieldID, "seq", seq)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.writer.SaveField(c.ctx, write)
		c.complete(fieldID, seq, sent, err)
	}()
}

func (c *Coordinator) complete(fieldID int64, seq uint64, sent values.Value, err error) {
	c.mu.Lock()
	l := c.lane(fieldID, sent)
	l.inFlight = false
	c.inFlight--

	if err == nil && seq == l.seq {
		l.acked = sent
		l.hasAck = true
		l.base = sent
	}
	if l.dirty && c.store.Value(fieldID).Equal(l.base) {
		l.dirty = false
	}
	if l.dirty && !c.closed {
		c.dispatchLocked(fieldID, l)
	}

	if c.inFlight == 0 {
		if err != nil {
			c.setStateLocked(StateIdle)
		} else {
			c.setStateLocked(StateSaved)
			c.savedTimer = c.clock.AfterFunc(c.savedWindow, c.revertSaved)
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("save failed", "field_id", fieldID, "seq", seq, "error", err)
		c.notifier.Notify(notify.Errorf(fieldID, "could not save field: %v", err))
		return
	}
	c.logger.Debug("save acknowledged", "field_id", fieldID, "seq", seq)
}

func (c *Coordinator) revertSaved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSaved && c.inFlight == 0 {
		c.savedTimer = nil
		c.setStateLocked(StateIdle)
	}
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.logger.Debug("save state", "state", s.String())
	if c.observer != nil {
		c.observer(s)
	}
}
