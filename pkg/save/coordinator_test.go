package save_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-stepform/pkg/notify"
	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/save"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

type recordingWriter struct {
	mu      sync.Mutex
	writes  []payload.FieldWrite
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (w *recordingWriter) SaveField(_ context.Context, write payload.FieldWrite) error {
	w.mu.Lock()
	w.writes = append(w.writes, write)
	gate, started, err := w.gate, w.started, w.err
	w.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (w *recordingWriter) Writes() []payload.FieldWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]payload.FieldWrite(nil), w.writes...)
}

type stateLog struct {
	mu     sync.Mutex
	states []save.State
}

func (l *stateLog) observe(s save.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []save.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]save.State(nil), l.states...)
}

func fixtureSteps() schema.Steps {
	return schema.Steps{{Step: 1, StepName: "Details", Fields: []schema.FormField{
		{ID: 1, Label: "Notes", ValueType: schema.ValueTypeText},
		{ID: 2, Label: "Due", ValueType: schema.ValueTypeDate},
		{ID: 3, Label: "Colour", ValueType: schema.ValueTypeOptions, Options: []schema.FieldOption{
			{ID: 7, Value: "Red"}, {ID: 8, Value: "Blue"}, {ID: 9, Value: "Green"},
		}},
		{ID: 4, Label: "Draft", ValueType: schema.ValueTypeText},
	}}}
}

func linkedStore() *values.Store {
	record := int64(501)
	store := values.NewStore()
	for _, id := range []int64{1, 2, 3} {
		store.Put(id, values.Entry{Current: values.Null(), LinkedRecordID: &record})
	}
	store.Put(4, values.Entry{Current: values.Scalar("new")})
	return store
}

func lookup(steps schema.Steps) save.FieldLookup {
	return func(id int64) (schema.FormField, bool) {
		field, _, ok := steps.Field(id)
		return field, ok
	}
}

func waitIdle(t *testing.T, c *save.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestCoordinator_DebouncedTypingWritesOnce(t *testing.T) {
	clock := save.NewManualClock()
	writer := &recordingWriter{}
	states := &stateLog{}
	store := linkedStore()
	c := save.New(writer, lookup(fixtureSteps()), store,
		save.WithClock(clock), save.WithObserver(states.observe))

	for _, text := range []string{"a", "ab", "abc", "abcd", "abcde"} {
		if err := c.Edit(1, values.Scalar(text), save.ModeDebounced); err != nil {
			t.Fatalf("edit %q: %v", text, err)
		}
		clock.Advance(200 * time.Millisecond)
	}
	if got := len(writer.Writes()); got != 0 {
		t.Fatalf("expected no writes inside the quiet window, got %d", got)
	}

	clock.Advance(save.DefaultDebounce)
	waitIdle(t, c)

	want := []payload.FieldWrite{{ParentRecordID: 501, FieldID: 1, Value: []payload.Pair{{Value: "abcde"}}}}
	if diff := cmp.Diff(want, writer.Writes()); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]save.State{save.StateSaving, save.StateSaved}, states.snapshot()); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}

	clock.Advance(save.DefaultSavedWindow)
	if got := c.State(); got != save.StateIdle {
		t.Fatalf("expected idle after saved window, got %s", got)
	}
	if acked, ok := c.Saved(1); !ok || !acked.Equal(values.Scalar("abcde")) {
		t.Fatalf("unexpected acknowledged value %v (%v)", acked, ok)
	}
}

func TestCoordinator_ImmediateDateWrite(t *testing.T) {
	writer := &recordingWriter{}
	c := save.New(writer, lookup(fixtureSteps()), linkedStore(), save.WithClock(save.NewManualClock()))

	if err := c.Edit(2, values.Scalar("2024-03-01"), save.ModeImmediate); err != nil {
		t.Fatalf("edit: %v", err)
	}
	waitIdle(t, c)

	writes := writer.Writes()
	if len(writes) != 1 || writes[0].Value[0].Value != "2024-03-01" {
		t.Fatalf("expected one immediate date write, got %#v", writes)
	}
}

func TestCoordinator_RejectsUnlinkedField(t *testing.T) {
	writer := &recordingWriter{}
	store := linkedStore()
	c := save.New(writer, lookup(fixtureSteps()), store, save.WithClock(save.NewManualClock()))

	err := c.Edit(4, values.Scalar("changed"), save.ModeImmediate)
	if !errors.Is(err, save.ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked, got %v", err)
	}
	c.Flush()
	waitIdle(t, c)

	if got := len(writer.Writes()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
	if got := store.Value(4); !got.Equal(values.Scalar("new")) {
		t.Fatalf("unlinked entry mutated: %v", got)
	}
	if err := c.Edit(99, values.Scalar("x"), save.ModeImmediate); !errors.Is(err, save.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestCoordinator_FailureRevertsToIdleAndNotifies(t *testing.T) {
	writer := &recordingWriter{err: errors.New("boom")}
	states := &stateLog{}
	var notices []notify.Notice
	var mu sync.Mutex
	store := linkedStore()
	c := save.New(writer, lookup(fixtureSteps()), store,
		save.WithClock(save.NewManualClock()),
		save.WithObserver(states.observe),
		save.WithNotifier(notify.Func(func(n notify.Notice) {
			mu.Lock()
			notices = append(notices, n)
			mu.Unlock()
		})))

	if err := c.Edit(3, values.Scalar("Blue"), save.ModeImmediate); err != nil {
		t.Fatalf("edit: %v", err)
	}
	waitIdle(t, c)

	if diff := cmp.Diff([]save.State{save.StateSaving, save.StateIdle}, states.snapshot()); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || notices[0].Level != notify.LevelError || notices[0].FieldID != 3 {
		t.Fatalf("expected one error notice for field 3, got %#v", notices)
	}
	if got := store.Value(3); !got.Equal(values.Scalar("Blue")) {
		t.Fatalf("failed edit should stay in the store, got %v", got)
	}
	if _, ok := c.Saved(3); ok {
		t.Fatalf("failed write must not be acknowledged")
	}
}

func TestCoordinator_SerializesInFlightWrites(t *testing.T) {
	writer := &recordingWriter{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	c := save.New(writer, lookup(fixtureSteps()), linkedStore(), save.WithClock(save.NewManualClock()))

	if err := c.Edit(3, values.Scalar("Red"), save.ModeImmediate); err != nil {
		t.Fatalf("edit: %v", err)
	}
	<-writer.started

	for _, v := range []string{"Blue", "Green"} {
		if err := c.Edit(3, values.Scalar(v), save.ModeImmediate); err != nil {
			t.Fatalf("edit %s: %v", v, err)
		}
	}
	if got := len(writer.Writes()); got != 1 {
		t.Fatalf("expected one request in flight, got %d", got)
	}

	close(writer.gate)
	waitIdle(t, c)

	var got []payload.Pair
	for _, w := range writer.Writes() {
		got = append(got, w.Value...)
	}
	want := []payload.Pair{{FieldValueID: 7, Value: "Red"}, {FieldValueID: 9, Value: "Green"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
	if acked, _ := c.Saved(3); !acked.Equal(values.Scalar("Green")) {
		t.Fatalf("expected Green acknowledged, got %v", acked)
	}
}

// lateClock hands out timers whose Stop always reports the callback as
// already running, the way time.AfterFunc does once it has fired.
type lateClock struct {
	mu  sync.Mutex
	fns []func()
}

type lateTimer struct{}

func (lateTimer) Stop() bool { return false }

func (c *lateClock) AfterFunc(_ time.Duration, f func()) save.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, f)
	return lateTimer{}
}

func (c *lateClock) fire(t *testing.T, i int) {
	t.Helper()
	c.mu.Lock()
	if i >= len(c.fns) {
		c.mu.Unlock()
		t.Fatalf("timer %d was never armed (have %d)", i, len(c.fns))
	}
	f := c.fns[i]
	c.mu.Unlock()
	f()
}

func TestCoordinator_StaleDebounceCallbackIsIgnored(t *testing.T) {
	clock := &lateClock{}
	writer := &recordingWriter{}
	c := save.New(writer, lookup(fixtureSteps()), linkedStore(), save.WithClock(clock))

	for _, text := range []string{"a", "ab"} {
		if err := c.Edit(1, values.Scalar(text), save.ModeDebounced); err != nil {
			t.Fatalf("edit %q: %v", text, err)
		}
	}
	clock.fire(t, 0)
	waitIdle(t, c)
	if got := len(writer.Writes()); got != 0 {
		t.Fatalf("superseded timer wrote %d time(s)", got)
	}

	// the newer timer is still tracked, so a further edit replaces it
	if err := c.Edit(1, values.Scalar("abc"), save.ModeDebounced); err != nil {
		t.Fatalf("edit: %v", err)
	}
	clock.fire(t, 1)
	waitIdle(t, c)
	if got := len(writer.Writes()); got != 0 {
		t.Fatalf("replaced timer wrote %d time(s)", got)
	}

	clock.fire(t, 2)
	waitIdle(t, c)
	want := []payload.FieldWrite{{ParentRecordID: 501, FieldID: 1, Value: []payload.Pair{{Value: "abc"}}}}
	if diff := cmp.Diff(want, writer.Writes()); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestCoordinator_SkipsUnchangedValues(t *testing.T) {
	clock := save.NewManualClock()
	writer := &recordingWriter{}
	c := save.New(writer, lookup(fixtureSteps()), linkedStore(), save.WithClock(clock))

	for i := 0; i < 2; i++ {
		if err := c.Edit(2, values.Scalar("2024-01-01"), save.ModeImmediate); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
		waitIdle(t, c)
	}
	if got := len(writer.Writes()); got != 1 {
		t.Fatalf("expected one write for two identical edits, got %d", got)
	}

	// re-entering the hydrated value sends nothing
	if err := c.Edit(3, values.Null(), save.ModeImmediate); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// typing and then restoring the saved text cancels the pending write
	if err := c.Edit(1, values.Scalar("draft"), save.ModeDebounced); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := c.Edit(1, values.Null(), save.ModeDebounced); err != nil {
		t.Fatalf("edit: %v", err)
	}
	clock.Advance(save.DefaultDebounce)
	waitIdle(t, c)

	if got := len(writer.Writes()); got != 1 {
		t.Fatalf("expected no further writes, got %d", got)
	}
}

func TestCoordinator_CloseFlushesPendingEdits(t *testing.T) {
	writer := &recordingWriter{}
	c := save.New(writer, lookup(fixtureSteps()), linkedStore(), save.WithClock(save.NewManualClock()))

	if err := c.Edit(1, values.Scalar("draft"), save.ModeDebounced); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(writer.Writes()); got != 1 {
		t.Fatalf("expected flushed write, got %d", got)
	}
	if err := c.Edit(1, values.Scalar("late"), save.ModeDebounced); !errors.Is(err, save.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestManualClock(t *testing.T) {
	clock := save.NewManualClock()
	var fired []string
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	stopped := clock.AfterFunc(time.Second, func() { fired = append(fired, "x") })
	clock.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		clock.AfterFunc(500*time.Millisecond, func() { fired = append(fired, "a2") })
	})

	if !stopped.Stop() {
		t.Fatalf("expected stop to succeed")
	}
	clock.Advance(2 * time.Second)

	if diff := cmp.Diff([]string{"a", "a2", "b"}, fired); diff != "" {
		t.Fatalf("fire order mismatch (-want +got):\n%s", diff)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
}
