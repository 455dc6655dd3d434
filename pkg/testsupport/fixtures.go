package testsupport

import (
	"context"
	"embed"
	"io/fs"
	"sync"
	"testing"

	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

//go:embed testdata/forms
var formFiles embed.FS

// WorkOrderRecordID is the persisted record used by record-mode fixtures.
const WorkOrderRecordID int64 = 501

var (
	formsOnce  sync.Once
	formsStore *schema.Store
	formsErr   error
)

// Forms returns the fixture schema store (forms "item-entry" and
// "work-order").
func Forms() (*schema.Store, error) {
	formsOnce.Do(func() {
		sub, err := fs.Sub(formFiles, "testdata/forms")
		if err != nil {
			formsErr = err
			return
		}
		formsStore, formsErr = schema.LoadFS(sub)
	})
	return formsStore, formsErr
}

// MustForm returns the steps of a fixture form.
func MustForm(t *testing.T, code string) schema.Steps {
	t.Helper()

	store, err := Forms()
	if err != nil {
		t.Fatalf("load fixture forms: %v", err)
	}
	steps, ok := store.Form(code)
	if !ok {
		t.Fatalf("fixture form %q not found", code)
	}
	return steps
}

// WorkOrderRecord returns the persisted rows of the work-order fixture
// record. Inspector (field 4) has no row and therefore stays unlinked.
func WorkOrderRecord() []values.StepDetails {
	return []values.StepDetails{
		{Step: 1, StepName: "Details", Details: []values.DetailRow{
			{RecordID: WorkOrderRecordID, FieldID: 1, Value: "abc"},
			{RecordID: WorkOrderRecordID, FieldID: 3, Value: `[{"value":"Red","form_detail_value_id":7}]`},
			{RecordID: WorkOrderRecordID, FieldID: 6, Value: "LC-9"},
		}},
		{Step: 2, StepName: "Scheduling", Details: []values.DetailRow{
			{RecordID: WorkOrderRecordID, FieldID: 2, Value: "2024-01-05"},
			{RecordID: WorkOrderRecordID, FieldID: 5, Value: `[{"value":"Lathe","field_value_id":30}]`},
		}},
	}
}

// Context returns a background context for tests.
func Context() context.Context {
	return context.Background()
}
