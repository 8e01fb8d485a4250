package carton

import (
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is an open-ended mapping from field name to value. Fields not
// declared as indexes are stored but not searchable. Records carry no
// schema beyond the indexes declared on their container.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project returns the subset of the record holding only the requested
// fields. Returns nil if none of the requested fields are present.
// An empty field list means no projection and returns the record as is.
func (r Record) Project(fields []string) Record {
	if len(fields) == 0 {
		return r
	}
	var out Record
	for _, f := range fields {
		if v, ok := r[f]; ok {
			if out == nil {
				out = make(Record, len(fields))
			}
			out[f] = v
		}
	}
	return out
}

func encodeRecord(rec Record) ([]byte, error) {
	return msgpack.Marshal(map[string]any(rec))
}

func decodeRecord(raw []byte) (Record, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	rec := Record(m)
	for k, v := range rec {
		rec[k] = normalizeValue(v)
	}
	return rec, nil
}

// normalizeValue collapses numeric types so that values survive a
// msgpack round trip comparably: all signed and unsigned integers
// become int64, floats become float64. Other values pass through.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

// valuesEqual compares two field values after numeric normalization.
// This is the strict-equality used by index lookups and by the
// conditional-update scan.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}
