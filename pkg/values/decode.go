package values

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StoredValue is one decoded element of a persisted field value.
type StoredValue struct {
	Value    string
	OptionID int64
}

// DecodeStored is the single place where the backend's stored value column is
// coerced. The column is sometimes a JSON array of {value, field_value_id}
// objects (older rows use form_detail_value_id), sometimes a JSON string, and
// sometimes a bare scalar. The contract:
//
//   - "" (after trimming) decodes to nil
//   - a JSON array decodes to one StoredValue per element; elements may be
//     objects or bare strings/numbers, object elements without a value are
//     skipped
//   - a JSON string decodes to that string with OptionID 0
//   - anything else, including malformed JSON, is returned verbatim as a
//     single scalar with OptionID 0
//
// DecodeStored never fails.
func DecodeStored(raw string) []StoredValue {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	switch trimmed[0] {
	case '[':
		if out, ok := decodeArray(trimmed); ok {
			return out
		}
	case '"':
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			if s == "" {
				return nil
			}
			return []StoredValue{{Value: s}}
		}
	}
	return []StoredValue{{Value: raw}}
}

func decodeArray(raw string) ([]StoredValue, bool) {
	var elements []any
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, false
	}
	out := make([]StoredValue, 0, len(elements))
	for _, element := range elements {
		switch typed := element.(type) {
		case map[string]any:
			value, ok := scalarText(typed["value"])
			if !ok {
				continue
			}
			id := optionID(typed["field_value_id"])
			if id == 0 {
				id = optionID(typed["form_detail_value_id"])
			}
			out = append(out, StoredValue{Value: value, OptionID: id})
		default:
			if value, ok := scalarText(typed); ok {
				out = append(out, StoredValue{Value: value})
			}
		}
	}
	return out, true
}

func scalarText(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return "", false
	}
}

func optionID(v any) int64 {
	switch typed := v.(type) {
	case float64:
		return int64(typed)
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0
		}
		return id
	default:
		return 0
	}
}

// StoredText is the raw stored value column of a detail row. The backend
// usually sends it as a JSON string but some endpoints inline the array; both
// are kept as text for DecodeStored.
type StoredText string

// UnmarshalJSON keeps strings as-is and any other JSON as its literal text.
func (t *StoredText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("values: stored value: %w", err)
		}
		*t = StoredText(s)
		return nil
	}
	*t = StoredText(trimmed)
	return nil
}
