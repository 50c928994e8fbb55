// Package pipeline implements the metrics processing and anomaly detection
// pipeline: extraction of canonical per-day records from raw vendor
// payloads, assembly of the rolling history window, baseline computation
// with flag derivation, and sanitization of the output for serialization.
package pipeline

import (
	"encoding/json"
	"math"

	"vitalwatch/internal/types"
)

// Vendor metric entry tags. Any tag outside this set is skipped, which keeps
// the extractor forward-compatible with vendor schema additions.
const (
	tagHRV           = "hrv"
	tagNightRHR      = "night_rhr"
	tagSleepRHR      = "sleep_rhr"
	tagSteps         = "steps"
	tagSleep         = "Sleep"
	tagMovementIndex = "movement_index"
	tagRecoveryIndex = "recovery_index"
)

// vendorEnvelope is the outer shape of the vendor payload. Each metric entry
// carries a tag and a tag-specific object; the object is kept raw so each
// branch of the dispatch decodes only the variant it understands.
type vendorEnvelope struct {
	Data struct {
		MetricData []metricEntry `json:"metric_data"`
	} `json:"data"`
}

type metricEntry struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// valuesObject is the variant for time-series metrics (hrv, night_rhr,
// sleep_rhr, steps): an array of samples.
type valuesObject struct {
	Values []json.RawMessage `json:"values"`
}

// sleepObject is the variant for the "Sleep" entry: a nested score.
type sleepObject struct {
	SleepScore struct {
		Score *float64 `json:"score"`
	} `json:"sleep_score"`
}

// scalarObject is the variant for direct-scalar metrics (movement_index,
// recovery_index).
type scalarObject struct {
	Value *float64 `json:"value"`
}

// sampleAliases are the keys under which a sample object may carry its
// numeric value, probed in order.
var sampleAliases = [...]string{"value", "val", "data"}

// Extract maps one raw vendor payload into a canonical DailyMetricRecord
// for the target date. A metric whose source data is absent or entirely
// non-numeric yields a nil field, never zero and never an error; only a
// structurally unparseable payload or a zero target date fails.
//
// The raw payload is retained verbatim on the record for audit.
func Extract(raw json.RawMessage, targetDate types.Date) (types.DailyMetricRecord, error) {
	if targetDate.IsZero() {
		return types.DailyMetricRecord{}, types.NewAppError(
			types.ErrCodeValidationMissingDate, "target date is required for extraction", nil)
	}

	var envelope vendorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return types.DailyMetricRecord{}, types.NewAppError(
			types.ErrCodeValidationBadPayload, "raw payload is not valid JSON", err)
	}

	rec := types.DailyMetricRecord{Date: targetDate}

	// Opaque retention of the source payload.
	var rawDoc map[string]any
	if err := json.Unmarshal(raw, &rawDoc); err == nil {
		rec.RawSource = rawDoc
	}

	var sleepRHR *float64

	for _, entry := range envelope.Data.MetricData {
		switch entry.Type {
		case tagHRV:
			rec.HRV = meanOfValues(entry.Object)
		case tagNightRHR:
			rec.RestingHR = meanOfValues(entry.Object)
		case tagSleepRHR:
			sleepRHR = meanOfValues(entry.Object)
		case tagSteps:
			rec.Steps = sumOfValues(entry.Object)
		case tagSleep:
			var obj sleepObject
			if err := json.Unmarshal(entry.Object, &obj); err == nil {
				rec.SleepScore = finiteOrNil(obj.SleepScore.Score)
			}
		case tagMovementIndex:
			var obj scalarObject
			if err := json.Unmarshal(entry.Object, &obj); err == nil {
				rec.MovementIndex = finiteOrNil(obj.Value)
			}
		case tagRecoveryIndex:
			var obj scalarObject
			if err := json.Unmarshal(entry.Object, &obj); err == nil {
				rec.RecoveryIndex = finiteOrNil(obj.Value)
			}
		default:
			// Unrecognized tag: skip.
		}
	}

	// Resting HR fallback priority: night_rhr first, sleep_rhr second.
	if rec.RestingHR == nil && sleepRHR != nil {
		rec.RestingHR = sleepRHR
	}

	return rec, nil
}

// numericValues decodes the values array of a time-series entry, accepting
// both bare numbers and small sample objects carrying the number under one
// of the aliased keys. Non-numeric entries are ignored, not zeroed.
func numericValues(object json.RawMessage) []float64 {
	var obj valuesObject
	if err := json.Unmarshal(object, &obj); err != nil {
		return nil
	}

	out := make([]float64, 0, len(obj.Values))
	for _, item := range obj.Values {
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			out = append(out, n)
			continue
		}

		var sample map[string]json.RawMessage
		if err := json.Unmarshal(item, &sample); err != nil {
			continue
		}
		for _, key := range sampleAliases {
			rawVal, ok := sample[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(rawVal, &n); err == nil {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func meanOfValues(object json.RawMessage) *float64 {
	vals := numericValues(object)
	if len(vals) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return finiteOrNil(types.Float64(sum / float64(len(vals))))
}

func sumOfValues(object json.RawMessage) *float64 {
	vals := numericValues(object)
	if len(vals) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return finiteOrNil(types.Float64(sum))
}

// finiteOrNil enforces the record invariant that every numeric field is
// either a finite number or explicitly absent.
func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
