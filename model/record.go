package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Record is a single stored row of a record type. ID zero marks a record
// that has not been saved yet.
type Record struct {
	Type   string         `json:"type"`
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// NewRecord returns an unsaved record of the given type.
func NewRecord(typeName string) *Record {
	return &Record{Type: typeName, Fields: map[string]any{}}
}

// IsNew reports whether the record has never been saved.
func (r *Record) IsNew() bool {
	return r.ID == 0
}

// Get returns the value of a field, or nil.
func (r *Record) Get(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// Set assigns a field value.
func (r *Record) Set(name string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = value
}

// Int returns a field as an int64, accepting any numeric representation.
func (r *Record) Int(name string) int64 {
	n, _ := AsInt64(r.Get(name))
	return n
}

// String returns a field formatted for display. Missing fields are empty.
func (r *Record) String(name string) string {
	return FormatValue(r.Get(name))
}

// Title returns the display title of the record using the type's title
// field, falling back to "#<id>".
func (r *Record) Title(td TypeDefinition) string {
	if td.TitleField != "" {
		if s := r.String(td.TitleField); s != "" {
			return s
		}
	}
	return fmt.Sprintf("#%d", r.ID)
}

// Clone returns a deep copy of the record's field map.
func (r *Record) Clone() *Record {
	c := &Record{Type: r.Type, ID: r.ID, Fields: make(map[string]any, len(r.Fields))}
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return c
}

// AsInt64 converts a numeric value of any supported representation.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// FormatValue renders a field value as a form or column string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// ValuesEqual compares two field values, treating numeric representations
// as equal when they hold the same number.
func ValuesEqual(a, b any) bool {
	if ai, ok := AsInt64(a); ok {
		if _, isStr := a.(string); !isStr {
			if bi, ok := AsInt64(b); ok {
				return ai == bi
			}
		}
	}
	return FormatValue(a) == FormatValue(b)
}
