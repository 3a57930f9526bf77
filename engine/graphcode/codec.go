package graphcode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"time"
)

var (
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrMapProperty     = errors.New("map-valued properties are not supported")
	ErrUnsupported     = errors.New("unsupported property value")
	ErrMixedList       = errors.New("list elements must share one type")
	ErrDigestMismatch  = errors.New("snapshot digest mismatch")
	ErrDangling        = errors.New("relationship endpoint missing")
)

// NormalizeValue converts a property value read from the database or decoded
// from JSON into one of int64, float64, string, bool or a homogeneous []any of
// those. Temporal and spatial driver values become their ISO string form.
// A nil result means the property should be dropped.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrUnsupported, x)
		}
		return f, nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case map[string]any:
		return nil, ErrMapProperty
	case []byte:
		return nil, fmt.Errorf("%w: byte array", ErrUnsupported)
	case []any:
		return normalizeList(x)
	case fmt.Stringer:
		return x.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return normalizeList(items)
	case reflect.Map:
		return nil, ErrMapProperty
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

func normalizeList(items []any) (any, error) {
	out := make([]any, 0, len(items))
	var kind reflect.Type
	for _, item := range items {
		nv, err := NormalizeValue(item)
		if err != nil {
			return nil, err
		}
		if nv == nil {
			continue
		}
		if _, nested := nv.([]any); nested {
			return nil, fmt.Errorf("%w: nested list", ErrUnsupported)
		}
		t := reflect.TypeOf(nv)
		if kind == nil {
			kind = t
		} else if t != kind {
			// JSON cannot tell 2.0 from 2, so integral floats mix with ints.
			if !numeric(t) || !numeric(kind) {
				return nil, ErrMixedList
			}
			kind = reflect.TypeOf(float64(0))
		}
		out = append(out, nv)
	}
	if kind == reflect.TypeOf(float64(0)) {
		for i, v := range out {
			if n, ok := v.(int64); ok {
				out[i] = float64(n)
			}
		}
	}
	return out, nil
}

func numeric(t reflect.Type) bool {
	return t.Kind() == reflect.Int64 || t.Kind() == reflect.Float64
}

// NormalizeProps normalizes every value of props, dropping nulls. The result
// is never nil.
func NormalizeProps(props map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for k, v := range props {
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		if f, ok := nv.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, fmt.Errorf("property %q: %w: non-finite number", k, ErrUnsupported)
		}
		if nv != nil {
			out[k] = nv
		}
	}
	return out, nil
}

// EncodeJSON writes snap as one indented JSON document.
func EncodeJSON(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// DecodeJSON reads a snapshot document. Numbers are kept exact until
// normalization.
func DecodeJSON(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := decodeStrict(r, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return nil
}

func marshalFile(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
