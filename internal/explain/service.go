package explain

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"vitalwatch/internal/types"
)

// explanationSourceTag labels explanation documents with their origin.
const explanationSourceTag = "bedrock_claude-3-5-sonnet"

// previewRunes is the maximum length of the explanation preview echoed in
// the invocation result.
const previewRunes = 200

// ProcessedSource loads the enriched record the explanation is about.
type ProcessedSource interface {
	GetProcessedRecord(ctx context.Context, patientID string, day types.Date) (*types.ProcessedMetricRecord, bool, error)
}

// ExplanationSink persists the finished explanation document.
type ExplanationSink interface {
	PutExplanation(ctx context.Context, patientID string, day types.Date, doc map[string]any) (key string, bucket string, err error)
}

// Service orchestrates one explanation invocation: load the processed
// record, generate the explanation (model or fallback), and persist the
// explanation document alongside a compact metrics summary.
type Service struct {
	Source    ProcessedSource
	Sink      ExplanationSink
	Generator *Generator

	DefaultPatientID string

	Log *slog.Logger
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// resolveInvocation mirrors the pipeline's invocation defaulting without
// importing the pipeline package (explain sits beside it, not above it).
func (s *Service) resolveInvocation(inv types.Invocation) (string, types.Date, error) {
	patientID := inv.PatientID
	if patientID == "" {
		patientID = s.DefaultPatientID
	}
	if patientID == "" {
		return "", types.Date{}, types.NewAppError(types.ErrCodeValidationMissingPatient,
			"patient_id must be provided in the invocation or configured as a default", nil)
	}
	if inv.Date == "" {
		return patientID, types.Yesterday(s.now()), nil
	}
	day, err := types.ParseDate(inv.Date)
	if err != nil {
		return "", types.Date{}, types.NewAppError(types.ErrCodeValidationInvalidDate,
			"date must be an ISO-8601 calendar date (YYYY-MM-DD)", err)
	}
	return patientID, day, nil
}

// Explain runs one explanation invocation.
func (s *Service) Explain(ctx context.Context, inv types.Invocation) types.InvocationResult {
	patientID, day, err := s.resolveInvocation(inv)
	if err != nil {
		return types.ResultFromError(err, inv.PatientID, inv.Date)
	}

	log := s.log().With("patient_id", patientID, "date", day.String())
	log.InfoContext(ctx, "generating explanation")

	rec, found, err := s.Source.GetProcessedRecord(ctx, patientID, day)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}
	if !found {
		log.WarnContext(ctx, "no processed record for day")
		return types.InvocationResult{
			Status:    types.StatusNotFound,
			PatientID: patientID,
			Date:      day.String(),
			Message:   "processed record not found for the requested date",
		}
	}

	explanation, meta, err := s.Generator.Generate(ctx, rec)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	docMeta := map[string]any{
		"generated_at": s.now().UTC().Format(time.RFC3339),
		"source":       explanationSourceTag,
		"model":        meta.Model,
		"usage":        meta.Usage,
	}
	if meta.Fallback() {
		docMeta["error"] = meta.Error
	}

	doc := map[string]any{
		"patient_id":  patientID,
		"date":        day.String(),
		"explanation": explanation,
		"metrics_summary": map[string]any{
			"hrv":              rec.HRV,
			"resting_hr":       rec.RestingHR,
			"sleep_score":      rec.SleepScore,
			"steps":            rec.Steps,
			"is_anomalous":     rec.IsAnomalous,
			"anomaly_severity": rec.Severity,
		},
		"_metadata": docMeta,
	}

	key, bucket, err := s.Sink.PutExplanation(ctx, patientID, day, doc)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	log.InfoContext(ctx, "explanation persisted",
		"key", key,
		"fallback", meta.Fallback(),
	)

	return types.InvocationResult{
		Status:             types.StatusSuccess,
		PatientID:          patientID,
		Date:               day.String(),
		StorageKey:         key,
		StorageBucket:      bucket,
		ExplanationPreview: preview(explanation),
	}
}

// preview truncates the explanation to a bounded number of runes for the
// invocation result.
func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "..."
}
