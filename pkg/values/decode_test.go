package values

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeStored(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []StoredValue
	}{
		{
			name: "legacy detail id key",
			raw:  `[{"value":"Red","form_detail_value_id":7}]`,
			want: []StoredValue{{Value: "Red", OptionID: 7}},
		},
		{
			name: "field value id key",
			raw:  `[{"value":"Red","field_value_id":7},{"value":"Blue","field_value_id":"8"}]`,
			want: []StoredValue{{Value: "Red", OptionID: 7}, {Value: "Blue", OptionID: 8}},
		},
		{
			name: "free text fallback id zero",
			raw:  `[{"value":"Teal","field_value_id":0}]`,
			want: []StoredValue{{Value: "Teal"}},
		},
		{
			name: "array of bare scalars",
			raw:  `["a", 12]`,
			want: []StoredValue{{Value: "a"}, {Value: "12"}},
		},
		{
			name: "object without value skipped",
			raw:  `[{"field_value_id":3},{"value":"x"}]`,
			want: []StoredValue{{Value: "x"}},
		},
		{
			name: "plain scalar",
			raw:  `abc`,
			want: []StoredValue{{Value: "abc"}},
		},
		{
			name: "zero is a value",
			raw:  `0`,
			want: []StoredValue{{Value: "0"}},
		},
		{
			name: "json string",
			raw:  `"hello"`,
			want: []StoredValue{{Value: "hello"}},
		},
		{
			name: "malformed array falls back to raw",
			raw:  `[{"value":"Red"`,
			want: []StoredValue{{Value: `[{"value":"Red"`}},
		},
		{
			name: "blank",
			raw:  "   ",
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeStored(tc.raw)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoredText_UnmarshalJSON(t *testing.T) {
	var row DetailRow
	payload := `{"record_id":5,"field_id":10,"value":[{"value":"Red","field_value_id":7}]}`
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := DecodeStored(string(row.Value)); len(got) != 1 || got[0].OptionID != 7 {
		t.Fatalf("inline array not preserved: %q -> %#v", row.Value, got)
	}

	if err := json.Unmarshal([]byte(`{"value":"plain"}`), &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if row.Value != "plain" {
		t.Fatalf("string value mismatch: %q", row.Value)
	}
}
