package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-stepform/pkg/client"
	"github.com/goliatone/go-stepform/pkg/options"
	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/save"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/session"
	"github.com/goliatone/go-stepform/pkg/values"
)

const testToken = "dev-token"

func newServer(t *testing.T) (*Store, *client.Client, string) {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, MemoryDSN)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := Seed(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}

	server := httptest.NewServer(NewRouter(Config{Store: store, Token: testToken}))
	t.Cleanup(server.Close)

	c, err := client.New(server.URL, client.WithTokenSource(client.StaticToken(testToken)))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return store, c, server.URL
}

func TestServer_SchemaRoundTrip(t *testing.T) {
	_, c, _ := newServer(t)

	steps, err := c.FetchSchema(context.Background(), "work-order")
	if err != nil {
		t.Fatalf("fetch schema: %v", err)
	}
	if len(steps) != 2 || steps[0].StepName != "Details" {
		t.Fatalf("unexpected steps: %#v", steps)
	}
	colour, _, ok := steps.Field(3)
	if !ok {
		t.Fatalf("colour field missing")
	}
	want := []schema.FieldOption{{ID: 40, Value: "Red"}, {ID: 41, Value: "Blue"}}
	if diff := cmp.Diff(want, colour.Options); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	notes, _, _ := steps.Field(1)
	if notes.ValueLength == nil || *notes.ValueLength != 200 {
		t.Fatalf("value length lost: %#v", notes.ValueLength)
	}
}

func TestServer_Errors(t *testing.T) {
	_, c, baseURL := newServer(t)
	ctx := context.Background()

	var statusErr *client.StatusError
	if _, err := c.FetchSchema(ctx, "missing"); !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if _, err := c.CreateOption(ctx, 3, "Red"); !errors.As(err, &statusErr) || statusErr.Status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate option, got %v", err)
	}
	if _, err := c.CreateOption(ctx, 1, "x"); !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-options field, got %v", err)
	}

	anon, err := client.New(baseURL)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := anon.FetchRecord(ctx, 501); !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}
}

func TestServer_RecordSessionSavesThroughHTTP(t *testing.T) {
	store, c, _ := newServer(t)
	ctx := context.Background()

	s, err := session.Open(ctx, c, session.Target{Code: "work-order", RecordID: 501},
		session.WithClock(save.NewManualClock()),
		session.WithConfirmer(options.AlwaysConfirm),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ed, err := s.Editor(session.RecordSlot, 3)
	if err != nil {
		t.Fatalf("editor: %v", err)
	}
	change, err := ed.Accept("Green")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.Apply(ctx, session.RecordSlot, 3, change); err != nil {
		t.Fatalf("apply new option: %v", err)
	}
	notes, _ := s.Editor(session.RecordSlot, 1)
	change, _ = notes.Accept("Reworked")
	if err := s.Apply(ctx, session.RecordSlot, 1, change); err != nil {
		t.Fatalf("apply notes: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	details, err := store.RecordDetails(ctx, 501)
	if err != nil {
		t.Fatalf("record details: %v", err)
	}
	hydrated := values.Hydrate(mustSteps(t, store), details)
	if got := hydrated.Value(1).String(); got != "Reworked" {
		t.Fatalf("notes = %q", got)
	}
	entry, _ := hydrated.Get(3)
	if entry.Current.String() != "Green" || entry.LinkedOptionID == nil || *entry.LinkedOptionID <= 41 {
		t.Fatalf("colour entry = %#v", entry)
	}
}

func TestServer_ItemBatch(t *testing.T) {
	store, c, _ := newServer(t)
	ctx := context.Background()

	s, err := session.Open(ctx, c, session.Target{Code: "item-entry"}, session.WithClock(save.NewManualClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close(ctx)

	slot, _ := s.AddItem()
	apply := func(fieldID int64, input string) {
		t.Helper()
		ed, err := s.Editor(slot, fieldID)
		if err != nil {
			t.Fatalf("editor %d: %v", fieldID, err)
		}
		change, err := ed.Accept(input)
		if err != nil {
			t.Fatalf("accept %d: %v", fieldID, err)
		}
		if err := s.Apply(ctx, slot, fieldID, change); err != nil {
			t.Fatalf("apply %d: %v", fieldID, err)
		}
	}
	apply(10, "Blue")
	apply(12, "Matte, Gloss")
	apply(13, "2024-03-01")

	if err := s.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	batches, err := store.Batches(ctx)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	want := []payload.Batch{{Items: []payload.Instruction{
		{Step: 1, StepName: "Items", FieldID: 10, Label: "Type", Value: []payload.Pair{{FieldValueID: 8, Value: "Blue"}}},
		{Step: 1, StepName: "Items", FieldID: 12, Label: "Finish", Value: []payload.Pair{{FieldValueID: 20, Value: "Matte"}, {FieldValueID: 21, Value: "Gloss"}}},
		{Step: 2, StepName: "Shipping", FieldID: 13, Label: "Ship By", Value: []payload.Pair{{Value: "2024-03-01"}}},
	}}}
	if diff := cmp.Diff(want, batches); diff != "" {
		t.Fatalf("stored batch mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeStored(t *testing.T) {
	tests := []struct {
		name  string
		vt    schema.ValueType
		pairs []payload.Pair
		want  string
	}{
		{name: "empty clears", vt: schema.ValueTypeText, want: ""},
		{name: "text keeps literal", vt: schema.ValueTypeText, pairs: []payload.Pair{{Value: "abc"}}, want: "abc"},
		{name: "options as json", vt: schema.ValueTypeOptions, pairs: []payload.Pair{{FieldValueID: 7, Value: "Red"}},
			want: `[{"field_value_id":7,"value":"Red"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeStored(tt.vt, tt.pairs)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("encodeStored() = %q, want %q", got, tt.want)
			}
		})
	}
}

func mustSteps(t *testing.T, store *Store) schema.Steps {
	t.Helper()
	steps, err := store.Steps(context.Background(), "work-order")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	return steps
}
