// Package storage implements the blob store collaborator: JSON documents in
// S3, addressed by the stable key convention {patient_id}/{YYYY-MM-DD}.json,
// split across dedicated buckets for raw, processed, and explanation data.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/zstd"

	"vitalwatch/internal/types"
)

// S3API is the subset of the S3 SDK client used by the store. The interface
// enables testing with a mock client.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Buckets names the three object stores the pipeline writes to.
type Buckets struct {
	Raw          string
	Processed    string
	Explanations string
}

// Store is the S3-backed blob store. Get distinguishes "object absent"
// (found=false, nil error) from transport failures; Put attaches object
// metadata for operational browsing. When Compress is enabled, bodies are
// zstd-encoded with a matching Content-Encoding, and Get transparently
// decodes either form.
type Store struct {
	client   S3API
	buckets  Buckets
	compress bool
	log      *slog.Logger
}

// NewStore creates a Store over the given S3 client.
func NewStore(client S3API, buckets Buckets, compress bool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{client: client, buckets: buckets, compress: compress, log: log}
}

// KeyForDate builds the storage key for a patient and day:
// {patient_id}/{YYYY-MM-DD}.json. The same convention addresses all three
// buckets, so one (patient, date) pair locates its raw payload, processed
// record, and explanation alike.
func KeyForDate(patientID string, day types.Date) string {
	return fmt.Sprintf("%s/%s.json", patientID, day)
}

const contentEncodingZstd = "zstd"

func (s *Store) getJSON(ctx context.Context, bucket, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalStorage,
			fmt.Sprintf("failed to get s3://%s/%s", bucket, key), err)
	}
	defer out.Body.Close()

	var reader io.Reader = out.Body
	if aws.ToString(out.ContentEncoding) == contentEncodingZstd {
		dec, err := zstd.NewReader(out.Body)
		if err != nil {
			return nil, false, types.NewAppError(types.ErrCodeInternalStorage,
				fmt.Sprintf("failed to open zstd stream for s3://%s/%s", bucket, key), err)
		}
		defer dec.Close()
		reader = dec
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalStorage,
			fmt.Sprintf("failed to read s3://%s/%s", bucket, key), err)
	}
	return body, true, nil
}

func (s *Store) putJSON(ctx context.Context, bucket, key string, v any, meta map[string]string) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalSerialization,
			fmt.Sprintf("failed to encode document for s3://%s/%s", bucket, key), err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/json"),
		Metadata:    meta,
	}

	if s.compress {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStorage, "failed to create zstd writer", err)
		}
		if _, err := enc.Write(body); err != nil {
			enc.Close()
			return types.NewAppError(types.ErrCodeInternalStorage, "failed to compress document", err)
		}
		if err := enc.Close(); err != nil {
			return types.NewAppError(types.ErrCodeInternalStorage, "failed to finalize zstd stream", err)
		}
		input.Body = bytes.NewReader(buf.Bytes())
		input.ContentEncoding = aws.String(contentEncodingZstd)
	} else {
		input.Body = bytes.NewReader(body)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage,
			fmt.Sprintf("failed to put s3://%s/%s", bucket, key), err)
	}

	s.log.InfoContext(ctx, "uploaded document", "bucket", bucket, "key", key)
	return nil
}

// isNotFound reports whether the S3 error means the object does not exist.
// Both the modeled NoSuchKey type and the generic "NotFound" API error code
// are checked; some S3-compatible endpoints only return the latter.
func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// GetRaw returns the stored raw vendor payload for a day, if any.
func (s *Store) GetRaw(ctx context.Context, patientID string, day types.Date) (json.RawMessage, bool, error) {
	body, found, err := s.getJSON(ctx, s.buckets.Raw, KeyForDate(patientID, day))
	if err != nil || !found {
		return nil, found, err
	}
	return json.RawMessage(body), true, nil
}

// PutRaw stores a raw vendor payload document.
func (s *Store) PutRaw(ctx context.Context, patientID string, day types.Date, doc map[string]any) (string, string, error) {
	key := KeyForDate(patientID, day)
	err := s.putJSON(ctx, s.buckets.Raw, key, doc, map[string]string{
		"patient_id": patientID,
		"date":       day.String(),
	})
	if err != nil {
		return "", "", err
	}
	return key, s.buckets.Raw, nil
}

// GetProcessed returns the previously persisted day record decoded down to
// its metric fields, for feeding the history window.
func (s *Store) GetProcessed(ctx context.Context, patientID string, day types.Date) (*types.DailyMetricRecord, bool, error) {
	body, found, err := s.getJSON(ctx, s.buckets.Processed, KeyForDate(patientID, day))
	if err != nil || !found {
		return nil, found, err
	}

	var rec types.DailyMetricRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalSerialization,
			fmt.Sprintf("corrupt processed record for %s/%s", patientID, day), err)
	}
	if rec.Date.IsZero() {
		// Stored record predates the date field being mandatory; fall back
		// to the key's date rather than dropping the day.
		rec.Date = day
	}
	return &rec, true, nil
}

// GetProcessedRecord returns the fully enriched record for a day, as
// consumed by the explanation generator.
func (s *Store) GetProcessedRecord(ctx context.Context, patientID string, day types.Date) (*types.ProcessedMetricRecord, bool, error) {
	body, found, err := s.getJSON(ctx, s.buckets.Processed, KeyForDate(patientID, day))
	if err != nil || !found {
		return nil, found, err
	}

	var rec types.ProcessedMetricRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalSerialization,
			fmt.Sprintf("corrupt processed record for %s/%s", patientID, day), err)
	}
	return &rec, true, nil
}

// PutProcessed stores the sanitized processed document.
func (s *Store) PutProcessed(ctx context.Context, patientID string, day types.Date, doc map[string]any, isAnomalous bool) (string, string, error) {
	key := KeyForDate(patientID, day)
	err := s.putJSON(ctx, s.buckets.Processed, key, doc, map[string]string{
		"patient_id":   patientID,
		"date":         day.String(),
		"is_anomalous": fmt.Sprintf("%t", isAnomalous),
	})
	if err != nil {
		return "", "", err
	}
	return key, s.buckets.Processed, nil
}

// PutExplanation stores an explanation document.
func (s *Store) PutExplanation(ctx context.Context, patientID string, day types.Date, doc map[string]any) (string, string, error) {
	key := KeyForDate(patientID, day)
	err := s.putJSON(ctx, s.buckets.Explanations, key, doc, map[string]string{
		"patient_id": patientID,
		"date":       day.String(),
	})
	if err != nil {
		return "", "", err
	}
	return key, s.buckets.Explanations, nil
}
