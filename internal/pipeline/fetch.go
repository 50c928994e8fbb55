package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"vitalwatch/internal/types"
)

// VendorSource supplies the raw vendor payload for a (patient, day).
// found=false with a nil error means the vendor has no data for that date,
// which must stay distinguishable from a transport error.
type VendorSource interface {
	FetchDay(ctx context.Context, patientID string, day types.Date) (json.RawMessage, bool, error)
}

// RawWriter persists a raw payload document.
type RawWriter interface {
	PutRaw(ctx context.Context, patientID string, day types.Date, doc map[string]any) (key string, bucket string, err error)
}

// fetchSourceTag labels raw documents with their origin.
const fetchSourceTag = "vendor_api"

// Fetcher implements the raw-ingest operation: fetch one day's payload from
// the vendor API, stamp it with fetch provenance, and persist it for the
// processing pipeline to pick up.
type Fetcher struct {
	Source VendorSource
	Store  RawWriter

	DefaultPatientID string

	Log *slog.Logger
	Now func() time.Time
}

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Fetcher) log() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

// Fetch runs one raw-ingest invocation.
func (f *Fetcher) Fetch(ctx context.Context, inv types.Invocation) types.InvocationResult {
	patientID, day, err := ResolveInvocation(inv, f.DefaultPatientID, f.now())
	if err != nil {
		return types.ResultFromError(err, inv.PatientID, inv.Date)
	}

	log := f.log().With("patient_id", patientID, "date", day.String())
	log.InfoContext(ctx, "fetching raw vendor data")

	raw, found, err := f.Source.FetchDay(ctx, patientID, day)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}
	if !found {
		log.WarnContext(ctx, "vendor has no data for day")
		return types.InvocationResult{
			Status:    types.StatusNotFound,
			PatientID: patientID,
			Date:      day.String(),
			Message:   "no vendor data for the specified date",
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.ResultFromError(types.NewAppError(types.ErrCodeValidationBadPayload,
			"vendor payload is not a JSON object", err), patientID, day.String())
	}

	doc["_metadata"] = map[string]any{
		"patient_id": patientID,
		"date":       day.String(),
		"fetched_at": f.now().UTC().Format(time.RFC3339),
		"source":     fetchSourceTag,
	}

	key, bucket, err := f.Store.PutRaw(ctx, patientID, day, doc)
	if err != nil {
		return types.ResultFromError(err, patientID, day.String())
	}

	log.InfoContext(ctx, "raw payload persisted", "key", key)

	return types.InvocationResult{
		Status:        types.StatusSuccess,
		PatientID:     patientID,
		Date:          day.String(),
		StorageKey:    key,
		StorageBucket: bucket,
	}
}
