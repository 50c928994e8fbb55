package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"vitalwatch/internal/types"
)

// RawReader fetches a previously stored raw vendor payload. found=false
// with a nil error means no payload exists for that day, which is a
// distinct terminal outcome, not an error.
type RawReader interface {
	GetRaw(ctx context.Context, patientID string, day types.Date) (json.RawMessage, bool, error)
}

// ProcessedWriter persists the sanitized processed document and returns the
// storage key it was written under.
type ProcessedWriter interface {
	PutProcessed(ctx context.Context, patientID string, day types.Date, doc map[string]any, isAnomalous bool) (key string, bucket string, err error)
}

// ExplanationTrigger enqueues downstream explanation generation after a
// successful write. Implementations must be safe to skip (nil trigger).
type ExplanationTrigger interface {
	TriggerExplanation(ctx context.Context, patientID string, day types.Date) error
}

// TelemetryPublisher emits pipeline observability metrics. Failures are
// logged, never surfaced: telemetry must not fail an otherwise successful
// invocation.
type TelemetryPublisher interface {
	PublishProcessed(ctx context.Context, patientID string, severity int, historyDays int) error
}

// Processor orchestrates one (patient, date) run of the core pipeline:
//
//	raw payload -> Extract -> current record
//	store       -> Assemble -> history window
//	(window ++ current) -> Enrich -> processed record
//	SanitizeDocument -> persisted document
//
// The computation is synchronous and side-effect-free until the final
// write, so a failed invocation can be retried externally without cleanup.
type Processor struct {
	Raw       RawReader
	Store     ProcessedWriter
	Assembler *Assembler
	Engine    *Engine

	Trigger   ExplanationTrigger // optional
	Telemetry TelemetryPublisher // optional

	// DefaultPatientID backs invocations that omit the patient.
	DefaultPatientID string

	Log *slog.Logger
	Now func() time.Time // injectable for tests; nil means time.Now
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Processor) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// ResolveInvocation applies the invocation defaults: a configured fallback
// patient and yesterday (UTC) as the target date. A missing patient or a
// malformed date is a validation error.
func ResolveInvocation(inv types.Invocation, defaultPatientID string, now time.Time) (string, types.Date, error) {
	patientID := inv.PatientID
	if patientID == "" {
		patientID = defaultPatientID
	}
	if patientID == "" {
		return "", types.Date{}, types.NewAppError(types.ErrCodeValidationMissingPatient,
			"patient_id must be provided in the invocation or configured as a default", nil)
	}

	if inv.Date == "" {
		return patientID, types.Yesterday(now), nil
	}
	day, err := types.ParseDate(inv.Date)
	if err != nil {
		return "", types.Date{}, types.NewAppError(types.ErrCodeValidationInvalidDate,
			"date must be an ISO-8601 calendar date (YYYY-MM-DD)", err)
	}
	return patientID, day, nil
}

// Process runs the full pipeline for one invocation and reports a terminal
// InvocationResult. It never panics across the boundary; every failure mode
// maps onto the four result statuses.
func (p *Processor) Process(ctx context.Context, inv types.Invocation) types.InvocationResult {
	patientID, day, err := ResolveInvocation(inv, p.DefaultPatientID, p.now())
	if err != nil {
		return types.ResultFromError(err, inv.PatientID, inv.Date)
	}

	log := p.log().With("patient_id", patientID, "date", day.String())
	log.InfoContext(ctx, "processing metrics")

	raw, found, err := p.Raw.GetRaw(ctx, patientID, day)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}
	if !found {
		log.WarnContext(ctx, "no raw data for day")
		return types.InvocationResult{
			Status:    types.StatusNotFound,
			PatientID: patientID,
			Date:      day.String(),
			Message:   "raw data not found for the requested date",
		}
	}

	current, err := Extract(raw, day)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	history, err := p.Assembler.Assemble(ctx, patientID, day)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	processed, err := p.Engine.Enrich(history, current, patientID)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	doc, err := SanitizeDocument(processed, log)
	if err != nil {
		return types.ResultFromError(types.NewAppError(types.ErrCodeInternalSerialization,
			"failed to build processed document", err), patientID, day.String())
	}

	key, bucket, err := p.Store.PutProcessed(ctx, patientID, day, doc, processed.IsAnomalous)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	log.InfoContext(ctx, "processed record persisted",
		"key", key,
		"is_anomalous", processed.IsAnomalous,
		"severity", processed.Severity,
		"history_days", len(history),
	)

	// Post-write side effects are best-effort.
	if p.Trigger != nil {
		if err := p.Trigger.TriggerExplanation(ctx, patientID, day); err != nil {
			log.ErrorContext(ctx, "failed to enqueue explanation job", "error", err)
		}
	}
	if p.Telemetry != nil {
		if err := p.Telemetry.PublishProcessed(ctx, patientID, processed.Severity, len(history)); err != nil {
			log.WarnContext(ctx, "failed to publish pipeline metrics", "error", err)
		}
	}

	return types.InvocationResult{
		Status:        types.StatusSuccess,
		PatientID:     patientID,
		Date:          day.String(),
		StorageKey:    key,
		StorageBucket: bucket,
		IsAnomalous:   types.Bool(processed.IsAnomalous),
		Severity:      types.Int(processed.Severity),
	}
}
