package pipeline

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"reflect"
)

// Sanitize normalizes a decoded value tree into a form that is safe for
// textual JSON serialization:
//
//   - non-finite floats (NaN, +/-Inf) become nil
//   - fixed-width numeric wrapper types collapse to int64 / float64
//   - json.Number is resolved to int64 or float64
//   - strings, booleans, and nils pass through untouched
//
// Collection types are checked before any scalar classification; a value
// that cannot be classified passes through unchanged with a logged caveat
// rather than failing. Sanitizing an already-sanitized tree is a no-op.
//
// The record pipeline produces clean values on its own; Sanitize exists as
// the boundary guard against collaborators that still speak the
// NaN-sentinel convention, and against whatever the vendor put inside the
// retained raw payload.
func Sanitize(v any, log *slog.Logger) any {
	switch val := v.(type) {
	case nil:
		return nil

	// Collections first, before any numeric classification.
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Sanitize(item, log)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Sanitize(item, log)
		}
		return out

	case bool:
		return val
	case string:
		return val

	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return finiteFloat(f)
		}
		// Unparseable number literal; keep the textual form.
		return val.String()

	case float64:
		return finiteFloat(val)
	case float32:
		return finiteFloat(float64(val))

	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		return unsignedToNumber(uint64(val))
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return unsignedToNumber(val)
	}

	// Typed slices and maps that are not []any / map[string]any (e.g. a
	// collaborator handing over []float64) are walked reflectively.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Sanitize(rv.Index(i).Interface(), log)
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			if key.Kind() != reflect.String {
				break
			}
			out[key.String()] = Sanitize(rv.MapIndex(key).Interface(), log)
		}
		if len(out) == rv.Len() {
			return out
		}
	}

	if log != nil {
		log.Debug("sanitizer passing through unclassified value",
			"go_type", reflect.TypeOf(v).String(),
		)
	}
	return v
}

// unsignedToNumber keeps unsigned values as int64 while they fit; anything
// larger falls back to float64 instead of wrapping negative.
func unsignedToNumber(v uint64) any {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}

func finiteFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// SanitizeDocument round-trips a typed record through JSON into a generic
// value tree and sanitizes it. This is how a ProcessedMetricRecord becomes
// the flat key/value document that gets persisted.
func SanitizeDocument(rec any, log *slog.Logger) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}

	sanitized, _ := Sanitize(doc, log).(map[string]any)
	return sanitized, nil
}
