package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/types"
)

func mustDate(t *testing.T, s string) types.Date {
	t.Helper()
	d, err := types.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestExtract_FullPayload(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {
			"metric_data": [
				{"type": "hrv", "object": {"values": [{"value": 40}, {"value": 60}]}},
				{"type": "night_rhr", "object": {"values": [58, 62]}},
				{"type": "steps", "object": {"values": [{"value": 4000}, {"value": 3500}]}},
				{"type": "Sleep", "object": {"sleep_score": {"score": 82}}},
				{"type": "movement_index", "object": {"value": 55}},
				{"type": "recovery_index", "object": {"value": 71}}
			]
		}
	}`)

	rec, err := Extract(raw, mustDate(t, "2026-08-15"))
	require.NoError(t, err)

	require.NotNil(t, rec.HRV)
	assert.Equal(t, 50.0, *rec.HRV)
	require.NotNil(t, rec.RestingHR)
	assert.Equal(t, 60.0, *rec.RestingHR)
	require.NotNil(t, rec.Steps)
	assert.Equal(t, 7500.0, *rec.Steps)
	require.NotNil(t, rec.SleepScore)
	assert.Equal(t, 82.0, *rec.SleepScore)
	require.NotNil(t, rec.MovementIndex)
	assert.Equal(t, 55.0, *rec.MovementIndex)
	require.NotNil(t, rec.RecoveryIndex)
	assert.Equal(t, 71.0, *rec.RecoveryIndex)
	assert.Equal(t, "2026-08-15", rec.Date.String())
	assert.NotNil(t, rec.RawSource)
}

func TestExtract_StepsSkipsNonNumericSamples(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {
			"metric_data": [
				{"type": "steps", "object": {"values": [
					{"value": 100}, {"value": 200}, {"value": "bad"}, {"value": 300}
				]}}
			]
		}
	}`)

	rec, err := Extract(raw, mustDate(t, "2026-08-15"))
	require.NoError(t, err)
	require.NotNil(t, rec.Steps)
	assert.Equal(t, 600.0, *rec.Steps)
}

func TestExtract_SampleValueAliases(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {
			"metric_data": [
				{"type": "hrv", "object": {"values": [
					{"value": 30}, {"val": 50}, {"data": 70}
				]}}
			]
		}
	}`)

	rec, err := Extract(raw, mustDate(t, "2026-08-15"))
	require.NoError(t, err)
	require.NotNil(t, rec.HRV)
	assert.Equal(t, 50.0, *rec.HRV)
}

func TestExtract_SleepRHRFallback(t *testing.T) {
	t.Run("sleep_rhr used when night_rhr absent", func(t *testing.T) {
		raw := json.RawMessage(`{
			"data": {"metric_data": [
				{"type": "sleep_rhr", "object": {"values": [54, 56]}}
			]}
		}`)
		rec, err := Extract(raw, mustDate(t, "2026-08-15"))
		require.NoError(t, err)
		require.NotNil(t, rec.RestingHR)
		assert.Equal(t, 55.0, *rec.RestingHR)
	})

	t.Run("night_rhr wins regardless of entry order", func(t *testing.T) {
		raw := json.RawMessage(`{
			"data": {"metric_data": [
				{"type": "sleep_rhr", "object": {"values": [54]}},
				{"type": "night_rhr", "object": {"values": [60]}}
			]}
		}`)
		rec, err := Extract(raw, mustDate(t, "2026-08-15"))
		require.NoError(t, err)
		require.NotNil(t, rec.RestingHR)
		assert.Equal(t, 60.0, *rec.RestingHR)
	})
}

func TestExtract_SleepScoreOnly(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {"metric_data": [
			{"type": "Sleep", "object": {"sleep_score": {"score": 45}}}
		]}
	}`)

	rec, err := Extract(raw, mustDate(t, "2026-08-15"))
	require.NoError(t, err)
	require.NotNil(t, rec.SleepScore)
	assert.Equal(t, 45.0, *rec.SleepScore)

	assert.Nil(t, rec.HRV)
	assert.Nil(t, rec.RestingHR)
	assert.Nil(t, rec.Steps)
	assert.Nil(t, rec.RecoveryIndex)
	assert.Nil(t, rec.MovementIndex)
}

func TestExtract_AbsentAndEmptyMetricsYieldNil(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty metric list", `{"data": {"metric_data": []}}`},
		{"missing data key", `{}`},
		{"empty values array", `{"data": {"metric_data": [{"type": "hrv", "object": {"values": []}}]}}`},
		{"entirely non-numeric values", `{"data": {"metric_data": [{"type": "hrv", "object": {"values": ["x", {"other": 1}]}}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Extract(json.RawMessage(tt.raw), mustDate(t, "2026-08-15"))
			require.NoError(t, err)
			assert.Nil(t, rec.HRV)
			assert.Nil(t, rec.RestingHR)
			assert.Nil(t, rec.SleepScore)
			assert.Nil(t, rec.Steps)
		})
	}
}

func TestExtract_UnknownTagsSkipped(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {"metric_data": [
			{"type": "temperature", "object": {"values": [36.6]}},
			{"type": "hrv", "object": {"values": [48]}}
		]}
	}`)

	rec, err := Extract(raw, mustDate(t, "2026-08-15"))
	require.NoError(t, err)
	require.NotNil(t, rec.HRV)
	assert.Equal(t, 48.0, *rec.HRV)
}

func TestExtract_UnparseablePayload(t *testing.T) {
	_, err := Extract(json.RawMessage(`{not json`), mustDate(t, "2026-08-15"))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationBadPayload, appErr.Code)
}

func TestExtract_ZeroDateRejected(t *testing.T) {
	_, err := Extract(json.RawMessage(`{}`), types.Date{})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingDate, appErr.Code)
}
