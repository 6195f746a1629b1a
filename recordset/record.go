package recordset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TableNamesKey is the reserved record key naming the table(s) a record
// belongs to. It is metadata, never written to a column.
const TableNamesKey = "_tableNames"

// Record is an ordered mapping of column name to scalar-or-array value.
// Key order is insertion order; lookups are case-insensitive. Records are
// the currency of the facade contract: rows materialize into records, and
// records cross the JSON boundary with date/times normalized to ISO-8601
// UTC strings.
type Record struct {
	keys   []string
	values map[string]any
}

// New returns an empty Record.
func New() *Record {
	return &Record{values: make(map[string]any)}
}

// Set stores the value under the key, preserving first-insertion order.
// Setting an existing key (case-insensitively) overwrites in place.
func (r *Record) Set(key string, value any) *Record {
	lower := strings.ToLower(key)
	if _, ok := r.values[lower]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[lower] = value
	return r
}

// Get returns the value stored under the key, case-insensitively.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[strings.ToLower(key)]
	return v, ok
}

// Has reports if the key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.values[strings.ToLower(key)]
	return ok
}

// Keys returns the record's keys in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of keys.
func (r *Record) Len() int { return len(r.keys) }

// TableNames returns the tables named by the reserved key.
func (r *Record) TableNames() []string {
	v, ok := r.Get(TableNamesKey)
	if !ok {
		return nil
	}
	switch v := v.(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, n := range v {
			names = append(names, fmt.Sprint(n))
		}
		return names
	case string:
		return []string{v}
	default:
		return nil
	}
}

// SetTableNames sets the reserved table-names key.
func (r *Record) SetTableNames(names ...string) *Record {
	return r.Set(TableNamesKey, names)
}

// Clone returns a shallow copy of the record.
func (r *Record) Clone() *Record {
	clone := New()
	for _, k := range r.keys {
		clone.Set(k, r.values[strings.ToLower(k)])
	}
	return clone
}

// MarshalJSON renders the record as a JSON object in key order. Date/time
// values are normalized to ISO-8601 UTC strings; other scalars pass through
// as native JSON primitives or nested arrays.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(normalizeJSON(r.values[strings.ToLower(k)]))
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object preserving its key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	r.keys = nil
	r.values = make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("recordset: expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		r.Set(key, decodeNumbers(value))
	}
	_, err = dec.Token() // closing brace
	return err
}

// normalizeJSON converts values to their boundary representation.
func normalizeJSON(v any) any {
	switch v := v.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(time.RFC3339)
	case []byte:
		return string(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeJSON(e)
		}
		return out
	default:
		return v
	}
}

// decodeNumbers converts json.Number values to int64 where exact, float64
// otherwise, recursively through arrays.
func decodeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i, e := range v {
			v[i] = decodeNumbers(e)
		}
		return v
	case map[string]any:
		for k, e := range v {
			v[k] = decodeNumbers(e)
		}
		return v
	default:
		return v
	}
}
