package pipeline

import (
	"sort"
	"time"

	"vitalwatch/internal/types"
)

// DefaultBaselineDays is the trailing window size for rolling medians.
const DefaultBaselineDays = 7

// Anomaly rule thresholds. Relative (baseline-scaled) thresholds are used
// for metrics with strong individual variability; fixed absolute thresholds
// for the bounded 0-100 indices. All comparisons are strict.
const (
	hrvLowFactor    = 0.7
	rhrHighFactor   = 1.15
	stepsLowFactor  = 0.6
	sleepScoreFloor = 60.0
	recoveryFloor   = 50.0
	movementFloor   = 40.0
)

// rollingMedian is a trailing per-metric accumulator: a fixed-size ring of
// day slots, each holding that day's value or nil. The median is taken over
// the present values among the most recent slots; a day with an absent
// value still occupies a slot.
type rollingMedian struct {
	buf []*float64
	pos int
	n   int
}

func newRollingMedian(days int) *rollingMedian {
	return &rollingMedian{buf: make([]*float64, days)}
}

// Push appends one day's value (nil for an absent measurement), evicting
// the oldest day once the window is full.
func (r *rollingMedian) Push(v *float64) {
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// Median returns the median of the present values in the window, or nil if
// every day in the window was absent. Minimum period is 1: a window holding
// a single value is its own median.
func (r *rollingMedian) Median() *float64 {
	vals := make([]float64, 0, r.n)
	for _, v := range r.buf {
		if v != nil {
			vals = append(vals, *v)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return types.Float64(vals[mid])
	}
	return types.Float64((vals[mid-1] + vals[mid]) / 2)
}

// Engine computes rolling baselines over a metric window and derives the
// anomaly flags, severity, and verdict for the target day.
type Engine struct {
	// BaselineDays is the trailing median window size. Zero means
	// DefaultBaselineDays.
	BaselineDays int

	// Source tags the processing provenance on the output record.
	Source string

	// Now is injectable for deterministic tests; nil means time.Now.
	Now func() time.Time
}

func (e *Engine) baselineDays() int {
	if e.BaselineDays > 0 {
		return e.BaselineDays
	}
	return DefaultBaselineDays
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Enrich runs the baseline and flag computation for the current record given
// its history window. The combined sequence is re-sorted defensively; rows
// for past days are scratch state and are discarded, only the target day's
// enriched record is returned.
//
// A record with a zero date is a structural defect and fails with a
// validation error. Absent metrics degrade gracefully: the corresponding
// flags are simply not raised.
func (e *Engine) Enrich(window []types.DailyMetricRecord, current types.DailyMetricRecord, patientID string) (types.ProcessedMetricRecord, error) {
	if current.Date.IsZero() {
		return types.ProcessedMetricRecord{}, types.NewAppError(
			types.ErrCodeValidationMissingDate, "current record has no date", nil)
	}
	for _, rec := range window {
		if rec.Date.IsZero() {
			return types.ProcessedMetricRecord{}, types.NewAppError(
				types.ErrCodeValidationMissingDate, "history record has no date", nil)
		}
	}

	combined := make([]types.DailyMetricRecord, 0, len(window)+1)
	combined = append(combined, window...)
	combined = append(combined, current)
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Date.Before(combined[j].Date)
	})

	days := e.baselineDays()
	accHRV := newRollingMedian(days)
	accRHR := newRollingMedian(days)
	accSleep := newRollingMedian(days)
	accSteps := newRollingMedian(days)
	accRecovery := newRollingMedian(days)
	accMovement := newRollingMedian(days)

	// Optional 0-100 indices are only evaluated when the metric shows up
	// somewhere in the window at all.
	recoveryPresent := false
	movementPresent := false

	var baselines types.Baselines
	var target types.DailyMetricRecord

	for _, rec := range combined {
		accHRV.Push(rec.HRV)
		accRHR.Push(rec.RestingHR)
		accSleep.Push(rec.SleepScore)
		accSteps.Push(rec.Steps)
		accRecovery.Push(rec.RecoveryIndex)
		accMovement.Push(rec.MovementIndex)

		if rec.RecoveryIndex != nil {
			recoveryPresent = true
		}
		if rec.MovementIndex != nil {
			movementPresent = true
		}

		if rec.Date.Equal(current.Date) {
			target = rec
			baselines = types.Baselines{
				BaselineHRV:        accHRV.Median(),
				BaselineRestingHR:  accRHR.Median(),
				BaselineSleepScore: accSleep.Median(),
				BaselineSteps:      accSteps.Median(),
				BaselineRecovery:   accRecovery.Median(),
				BaselineMovement:   accMovement.Median(),
			}
		}
	}

	flags := types.AnomalyFlags{
		LowHRV:        ltScaled(target.HRV, baselines.BaselineHRV, hrvLowFactor),
		HighRestingHR: gtScaled(target.RestingHR, baselines.BaselineRestingHR, rhrHighFactor),
		LowSleepScore: ltAbs(target.SleepScore, sleepScoreFloor),
		LowSteps:      ltScaled(target.Steps, baselines.BaselineSteps, stepsLowFactor),
	}
	if recoveryPresent {
		flags.LowRecovery = types.Bool(ltAbs(target.RecoveryIndex, recoveryFloor))
	}
	if movementPresent {
		flags.LowMovement = types.Bool(ltAbs(target.MovementIndex, movementFloor))
	}

	severity := flags.Severity()

	return types.ProcessedMetricRecord{
		DailyMetricRecord: target,
		Baselines:         baselines,
		AnomalyFlags:      flags,
		IsAnomalous:       severity > 0,
		Severity:          severity,
		Metadata: types.RecordMetadata{
			PatientID:   patientID,
			Date:        current.Date.String(),
			ProcessedAt: e.now(),
			Source:      e.Source,
		},
	}, nil
}

// Nil-safe strict comparisons: a flag is false when either operand is
// absent, never an error.

func ltScaled(v, baseline *float64, factor float64) bool {
	if v == nil || baseline == nil {
		return false
	}
	return *v < *baseline*factor
}

func gtScaled(v, baseline *float64, factor float64) bool {
	if v == nil || baseline == nil {
		return false
	}
	return *v > *baseline*factor
}

func ltAbs(v *float64, floor float64) bool {
	if v == nil {
		return false
	}
	return *v < floor
}
