package testsupport

import (
	"context"
	"errors"
	"sync"

	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

var ErrNotFound = errors.New("testsupport: not found")

// CreatedOption records one option-create call.
type CreatedOption struct {
	FieldID int64
	Value   string
}

// Backend is an in-memory recording implementation of the backend the
// session talks to. Error fields make the matching call fail.
type Backend struct {
	mu sync.Mutex

	Forms   map[string]schema.Steps
	Records map[int64][]values.StepDetails

	SchemaErr error
	RecordErr error
	SaveErr   error
	CreateErr error
	SubmitErr error

	NextOptionID int64

	writes  []payload.FieldWrite
	created []CreatedOption
	batches []payload.Batch
}

// NewBackend returns a Backend serving the fixture forms and the
// work-order record.
func NewBackend() (*Backend, error) {
	store, err := Forms()
	if err != nil {
		return nil, err
	}
	forms := make(map[string]schema.Steps)
	for _, code := range store.Codes() {
		steps, _ := store.Form(code)
		forms[code] = steps
	}
	return &Backend{
		Forms:        forms,
		Records:      map[int64][]values.StepDetails{WorkOrderRecordID: WorkOrderRecord()},
		NextOptionID: 100,
	}, nil
}

func (b *Backend) FetchSchema(_ context.Context, code string) (schema.Steps, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SchemaErr != nil {
		return nil, b.SchemaErr
	}
	steps, ok := b.Forms[code]
	if !ok {
		return nil, ErrNotFound
	}
	return steps, nil
}

func (b *Backend) FetchRecord(_ context.Context, recordID int64) ([]values.StepDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.RecordErr != nil {
		return nil, b.RecordErr
	}
	details, ok := b.Records[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	return details, nil
}

func (b *Backend) SaveField(_ context.Context, write payload.FieldWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, write)
	return b.SaveErr
}

func (b *Backend) CreateOption(_ context.Context, fieldID int64, value string) (schema.FieldOption, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, CreatedOption{FieldID: fieldID, Value: value})
	if b.CreateErr != nil {
		return schema.FieldOption{}, b.CreateErr
	}
	b.NextOptionID++
	return schema.FieldOption{ID: b.NextOptionID, Value: value}, nil
}

func (b *Backend) SubmitItems(_ context.Context, batch payload.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	return b.SubmitErr
}

// Writes returns the recorded field saves.
func (b *Backend) Writes() []payload.FieldWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]payload.FieldWrite(nil), b.writes...)
}

// Created returns the recorded option creations.
func (b *Backend) Created() []CreatedOption {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CreatedOption(nil), b.created...)
}

// Batches returns the recorded batch submissions, failed ones included.
func (b *Backend) Batches() []payload.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]payload.Batch(nil), b.batches...)
}

// SetSubmitErr changes the submit failure under the lock.
func (b *Backend) SetSubmitErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SubmitErr = err
}
