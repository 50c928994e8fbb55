package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-08-15")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-15", d.String())
	assert.False(t, d.IsZero())

	for _, bad := range []string{"", "15-08-2026", "2026-13-01", "2026-08-15T00:00:00Z", "yesterday"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestYesterday(t *testing.T) {
	// 00:30 UTC on the 16th is still the 16th in UTC; yesterday is the 15th.
	now := time.Date(2026, 8, 16, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-15", Yesterday(now).String())

	// A non-UTC instant is normalized to UTC first.
	loc := time.FixedZone("UTC+10", 10*3600)
	late := time.Date(2026, 8, 16, 8, 0, 0, 0, loc) // 2026-08-15 22:00 UTC
	assert.Equal(t, "2026-08-14", Yesterday(late).String())
}

func TestDateArithmetic(t *testing.T) {
	d, err := ParseDate("2026-03-01")
	require.NoError(t, err)

	assert.Equal(t, "2026-02-28", d.AddDays(-1).String())
	assert.Equal(t, "2026-03-08", d.AddDays(7).String())
	assert.True(t, d.AddDays(-1).Before(d))
	assert.False(t, d.Before(d))
	assert.True(t, d.Equal(d.AddDays(0)))
}

func TestDateJSONRoundTrip(t *testing.T) {
	d, err := ParseDate("2026-08-15")
	require.NoError(t, err)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2026-08-15"`, string(data))

	var back Date
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, d.Equal(back))
}

func TestDateUnmarshalEmptyAndNull(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`""`), &d))
	assert.True(t, d.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.True(t, d.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"not-a-date"`), &d))
}

func TestAnomalyFlagsSeverity(t *testing.T) {
	assert.Equal(t, 0, AnomalyFlags{}.Severity())

	flags := AnomalyFlags{
		LowHRV:        true,
		LowSleepScore: true,
		LowRecovery:   Bool(true),
		LowMovement:   Bool(false),
	}
	assert.Equal(t, 3, flags.Severity())

	all := AnomalyFlags{
		LowHRV:        true,
		HighRestingHR: true,
		LowSleepScore: true,
		LowSteps:      true,
		LowRecovery:   Bool(true),
		LowMovement:   Bool(true),
	}
	assert.Equal(t, 6, all.Severity())
}

func TestAnomalyFlagsActive(t *testing.T) {
	flags := AnomalyFlags{
		LowHRV:      true,
		LowSteps:    true,
		LowRecovery: Bool(true),
	}
	assert.Equal(t, []string{"Low HRV", "Low Recovery Index", "Low Steps"}, flags.Active())

	assert.Empty(t, AnomalyFlags{LowMovement: Bool(false)}.Active())
}

func TestAnomalyFlagsJSONOmitsUnevaluatedRules(t *testing.T) {
	data, err := json.Marshal(AnomalyFlags{LowHRV: true})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, true, doc["low_hrv_flag"])
	assert.Contains(t, doc, "low_steps_flag")
	assert.NotContains(t, doc, "low_recovery_flag")
	assert.NotContains(t, doc, "low_movement_flag")

	data, err = json.Marshal(AnomalyFlags{LowRecovery: Bool(false)})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, false, doc["low_recovery_flag"])
}

func TestProcessedMetricRecordJSONShape(t *testing.T) {
	d, err := ParseDate("2026-08-15")
	require.NoError(t, err)

	rec := ProcessedMetricRecord{
		DailyMetricRecord: DailyMetricRecord{
			Date: d,
			HRV:  Float64(48.5),
		},
		Baselines: Baselines{
			BaselineHRV: Float64(50),
		},
		AnomalyFlags: AnomalyFlags{LowHRV: true},
		IsAnomalous:  true,
		Severity:     1,
		Metadata: RecordMetadata{
			PatientID:   "user@example.com",
			Date:        "2026-08-15",
			ProcessedAt: time.Date(2026, 8, 16, 3, 0, 0, 0, time.UTC),
			Source:      "vitalwatch",
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	// Embedded structs flatten into a single top-level document.
	assert.Equal(t, "2026-08-15", doc["date"])
	assert.Equal(t, 48.5, doc["hrv"])
	assert.Equal(t, 50.0, doc["hrv_baseline"])
	assert.Equal(t, true, doc["low_hrv_flag"])
	assert.Equal(t, true, doc["is_anomalous"])
	assert.Equal(t, 1.0, doc["anomaly_severity"])

	// Absent metrics stay explicit nulls; absent baselines are omitted.
	assert.Contains(t, doc, "steps")
	assert.Nil(t, doc["steps"])
	assert.NotContains(t, doc, "steps_baseline")

	meta := doc["_metadata"].(map[string]any)
	assert.Equal(t, "user@example.com", meta["patient_id"])
	assert.Equal(t, "vitalwatch", meta["source"])
}
