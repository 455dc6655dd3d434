// Package values holds the per-session Value Store: the current edited value
// of each field plus the server-side linkage that says which persisted record
// (and which option) the value belongs to.
package values

import (
	"encoding/json"
	"strings"
)

type valueKind uint8

const (
	kindNull valueKind = iota
	kindScalar
	kindList
)

// Value is a field's current value: null, a scalar string, or a list of
// strings (multi-select). The zero Value is null.
type Value struct {
	kind   valueKind
	scalar string
	list   []string
}

// Null returns the null value.
func Null() Value {
	return Value{}
}

// Scalar wraps a single string.
func Scalar(s string) Value {
	return Value{kind: kindScalar, scalar: s}
}

// List wraps a multi-select value. The slice is copied.
func List(items ...string) Value {
	return Value{kind: kindList, list: append([]string{}, items...)}
}

// IsNull reports whether v carries no value at all.
func (v Value) IsNull() bool {
	return v.kind == kindNull
}

// IsList reports whether v is a multi-select value.
func (v Value) IsList() bool {
	return v.kind == kindList
}

// IsEmpty treats null, the empty string, and the empty list as "no value".
// "0" is a value.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case kindScalar:
		return v.scalar == ""
	case kindList:
		for _, item := range v.list {
			if item != "" {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String returns the scalar, the comma-joined list, or "" for null.
func (v Value) String() string {
	switch v.kind {
	case kindScalar:
		return v.scalar
	case kindList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

// Strings returns the value as a list: empty for null, one element for a
// non-empty scalar.
func (v Value) Strings() []string {
	switch v.kind {
	case kindScalar:
		if v.scalar == "" {
			return nil
		}
		return []string{v.scalar}
	case kindList:
		out := make([]string, 0, len(v.list))
		for _, item := range v.list {
			if item != "" {
				out = append(out, item)
			}
		}
		return out
	default:
		return nil
	}
}

// Contains reports list membership (or scalar equality).
func (v Value) Contains(s string) bool {
	for _, item := range v.Strings() {
		if item == s {
			return true
		}
	}
	return false
}

// Equal compares kind and contents. List order matters.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case kindScalar:
		return v.scalar == other.scalar
	case kindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != other.list[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// With returns a list value with s appended when absent. Scalars become
// lists.
func (v Value) With(s string) Value {
	items := v.Strings()
	for _, item := range items {
		if item == s {
			return List(items...)
		}
	}
	return List(append(items, s)...)
}

// MarshalJSON encodes null, a string, or an array of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindScalar:
		return json.Marshal(v.scalar)
	case kindList:
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, a string, or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case string:
		*v = Scalar(typed)
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
		*v = List(items...)
	default:
		*v = Null()
	}
	return nil
}
