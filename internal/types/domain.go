// Package types defines the domain model shared across the VitalWatch
// pipeline: the per-day metric records, anomaly enrichment output, the
// invocation envelope, and the application error taxonomy.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// dateLayout is the wire format for calendar dates (ISO-8601 date only).
const dateLayout = "2006-01-02"

// Date is a calendar day, timezone-free. The zero value is invalid for any
// persisted record; ParseDate is the only sanctioned constructor from user
// input.
type Date struct {
	t time.Time
}

// ParseDate parses an ISO-8601 date string (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// DateOf truncates a time.Time to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Yesterday returns the day before the given instant, in UTC.
// This is the default target day for all pipeline invocations: a day's
// vendor data is only complete once the day has ended.
func Yesterday(now time.Time) Date {
	return DateOf(now.UTC().AddDate(0, 0, -1))
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// Equal reports whether two dates name the same calendar day.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// IsZero reports whether the date is the invalid zero value.
func (d Date) IsZero() bool { return d.t.IsZero() }

// String formats the date as YYYY-MM-DD.
func (d Date) String() string { return d.t.Format(dateLayout) }

// MarshalJSON encodes the date as a YYYY-MM-DD JSON string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD JSON string. An empty string or JSON
// null leaves the date zero, so record validation can report the missing
// field instead of a decode failure.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Float64 returns a pointer to v. Convenience constructor for the optional
// metric fields below.
func Float64(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// DailyMetricRecord is one calendar day of a patient's wearable metrics.
// Every metric field is optional: nil means "not measured that day", which
// is distinct from zero. All non-nil values are finite; the extractor and
// sanitizer enforce the no-NaN/Inf invariant at the boundaries.
type DailyMetricRecord struct {
	Date          Date     `json:"date"`
	HRV           *float64 `json:"hrv"`
	RestingHR     *float64 `json:"resting_hr"`
	SleepScore    *float64 `json:"sleep_score"`
	Steps         *float64 `json:"steps"`
	RecoveryIndex *float64 `json:"recovery_index"`
	MovementIndex *float64 `json:"movement_index"`

	// RawSource retains the original vendor payload verbatim for audit and
	// debugging. It is never re-interpreted downstream.
	RawSource map[string]any `json:"raw_data,omitempty"`
}

// Baselines holds the trailing rolling-median baseline for each metric on
// the enriched day. A nil baseline means the metric was absent from the
// entire trailing window. The Go names carry a Baseline prefix so they stay
// distinct from the DailyMetricRecord fields when both are embedded in
// ProcessedMetricRecord.
type Baselines struct {
	BaselineHRV        *float64 `json:"hrv_baseline,omitempty"`
	BaselineRestingHR  *float64 `json:"rhr_baseline,omitempty"`
	BaselineSleepScore *float64 `json:"sleep_baseline,omitempty"`
	BaselineSteps      *float64 `json:"steps_baseline,omitempty"`
	BaselineRecovery   *float64 `json:"recovery_baseline,omitempty"`
	BaselineMovement   *float64 `json:"movement_baseline,omitempty"`
}

// AnomalyFlags is the fixed set of per-day anomaly indicators.
//
// LowRecovery and LowMovement are tri-state: nil means the metric never
// appeared in the evaluation window, so the rule was not evaluated at all
// and the flag is omitted from the persisted record. The remaining flags
// are always evaluated (an absent operand yields false, never an error).
type AnomalyFlags struct {
	LowHRV        bool  `json:"low_hrv_flag"`
	HighRestingHR bool  `json:"high_rhr_flag"`
	LowSleepScore bool  `json:"low_sleep_flag"`
	LowSteps      bool  `json:"low_steps_flag"`
	LowRecovery   *bool `json:"low_recovery_flag,omitempty"`
	LowMovement   *bool `json:"low_movement_flag,omitempty"`
}

// Severity counts the flags that evaluated true.
func (f AnomalyFlags) Severity() int {
	n := 0
	for _, b := range []bool{f.LowHRV, f.HighRestingHR, f.LowSleepScore, f.LowSteps} {
		if b {
			n++
		}
	}
	if f.LowRecovery != nil && *f.LowRecovery {
		n++
	}
	if f.LowMovement != nil && *f.LowMovement {
		n++
	}
	return n
}

// Active returns human-readable names for the raised flags, in a stable
// order. Consumed by the explanation prompt builder.
func (f AnomalyFlags) Active() []string {
	var names []string
	if f.LowHRV {
		names = append(names, "Low HRV")
	}
	if f.HighRestingHR {
		names = append(names, "High Resting HR")
	}
	if f.LowSleepScore {
		names = append(names, "Low Sleep Score")
	}
	if f.LowRecovery != nil && *f.LowRecovery {
		names = append(names, "Low Recovery Index")
	}
	if f.LowMovement != nil && *f.LowMovement {
		names = append(names, "Low Movement Index")
	}
	if f.LowSteps {
		names = append(names, "Low Steps")
	}
	return names
}

// RecordMetadata is the processing provenance attached to every persisted
// record.
type RecordMetadata struct {
	PatientID   string    `json:"patient_id"`
	Date        string    `json:"date"`
	ProcessedAt time.Time `json:"processed_at"`
	Source      string    `json:"source"`
}

// ProcessedMetricRecord is the unit persisted per (patient, date): the day's
// metrics enriched with baselines, anomaly flags, a severity score and
// processing metadata. It is immutable once written; a re-invocation for the
// same date recomputes and overwrites the whole record, because baselines
// shift as history accumulates.
type ProcessedMetricRecord struct {
	DailyMetricRecord
	Baselines
	AnomalyFlags

	IsAnomalous bool           `json:"is_anomalous"`
	Severity    int            `json:"anomaly_severity"`
	Metadata    RecordMetadata `json:"_metadata"`
}
