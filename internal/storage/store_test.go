package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/types"
)

// mockS3 is an in-memory S3API backed by a bucket/key map.
type mockS3 struct {
	objects map[string]mockObject
	getErr  error
	putErr  error

	lastPut *s3.PutObjectInput
}

type mockObject struct {
	body     []byte
	encoding string
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string]mockObject)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	obj, ok := m.objects[objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}
	if obj.encoding != "" {
		out.ContentEncoding = aws.String(obj.encoding)
	}
	return out, nil
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))] = mockObject{
		body:     body,
		encoding: aws.ToString(params.ContentEncoding),
	}
	m.lastPut = params
	return &s3.PutObjectOutput{}, nil
}

func testBuckets() Buckets {
	return Buckets{Raw: "raw", Processed: "processed", Explanations: "explanations"}
}

func mustDate(t *testing.T, s string) types.Date {
	t.Helper()
	d, err := types.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestKeyForDate(t *testing.T) {
	key := KeyForDate("user@example.com", mustDate(t, "2026-08-15"))
	assert.Equal(t, "user@example.com/2026-08-15.json", key)
}

func TestRawRoundTrip(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), false, nil)
	day := mustDate(t, "2026-08-15")

	key, bucket, err := store.PutRaw(context.Background(), "p", day, map[string]any{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, "p/2026-08-15.json", key)
	assert.Equal(t, "raw", bucket)

	assert.Equal(t, "p", client.lastPut.Metadata["patient_id"])
	assert.Equal(t, "application/json", aws.ToString(client.lastPut.ContentType))

	raw, found, err := store.GetRaw(context.Background(), "p", day)
	require.NoError(t, err)
	require.True(t, found)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "world", doc["hello"])
}

func TestGetRaw_Missing(t *testing.T) {
	store := NewStore(newMockS3(), testBuckets(), false, nil)

	raw, found, err := store.GetRaw(context.Background(), "p", mustDate(t, "2026-08-15"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, raw)
}

func TestGetRaw_TransportFailure(t *testing.T) {
	client := newMockS3()
	client.getErr = errors.New("connection reset")
	store := NewStore(client, testBuckets(), false, nil)

	_, _, err := store.GetRaw(context.Background(), "p", mustDate(t, "2026-08-15"))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalStorage, appErr.Code)
}

func TestCompressedRoundTrip(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), true, nil)
	day := mustDate(t, "2026-08-15")

	doc := map[string]any{"hrv": 48.5, "date": "2026-08-15"}
	_, _, err := store.PutProcessed(context.Background(), "p", day, doc, false)
	require.NoError(t, err)

	stored := client.objects["processed/p/2026-08-15.json"]
	assert.Equal(t, "zstd", stored.encoding)

	// The stored body is an actual zstd stream, not plain JSON.
	dec, err := zstd.NewReader(bytes.NewReader(stored.body))
	require.NoError(t, err)
	plain, err := io.ReadAll(dec)
	dec.Close()
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"hrv"`)

	rec, found, err := store.GetProcessed(context.Background(), "p", day)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, rec.HRV)
	assert.Equal(t, 48.5, *rec.HRV)
}

func TestGetProcessed_UncompressedReadableByCompressingStore(t *testing.T) {
	client := newMockS3()
	plain := NewStore(client, testBuckets(), false, nil)
	day := mustDate(t, "2026-08-15")

	_, _, err := plain.PutProcessed(context.Background(), "p", day, map[string]any{"date": "2026-08-15", "steps": 7500.0}, false)
	require.NoError(t, err)

	// A store configured for compression still reads legacy plain objects.
	compressing := NewStore(client, testBuckets(), true, nil)
	rec, found, err := compressing.GetProcessed(context.Background(), "p", day)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, rec.Steps)
	assert.Equal(t, 7500.0, *rec.Steps)
}

func TestGetProcessed_BackfillsDateFromKey(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), false, nil)
	day := mustDate(t, "2026-08-15")

	client.objects["processed/p/2026-08-15.json"] = mockObject{
		body: []byte(`{"hrv": 50}`),
	}

	rec, found, err := store.GetProcessed(context.Background(), "p", day)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026-08-15", rec.Date.String())
}

func TestGetProcessed_CorruptRecord(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), false, nil)
	day := mustDate(t, "2026-08-15")

	client.objects["processed/p/2026-08-15.json"] = mockObject{body: []byte(`{broken`)}

	_, _, err := store.GetProcessed(context.Background(), "p", day)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalSerialization, appErr.Code)
}

func TestGetProcessedRecord_FullRecord(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), false, nil)
	day := mustDate(t, "2026-08-15")

	client.objects["processed/p/2026-08-15.json"] = mockObject{body: []byte(`{
		"date": "2026-08-15",
		"hrv": 30,
		"hrv_baseline": 50,
		"low_hrv_flag": true,
		"is_anomalous": true,
		"anomaly_severity": 1,
		"_metadata": {"patient_id": "p", "date": "2026-08-15"}
	}`)}

	rec, found, err := store.GetProcessedRecord(context.Background(), "p", day)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.IsAnomalous)
	assert.Equal(t, 1, rec.Severity)
	assert.True(t, rec.LowHRV)
	require.NotNil(t, rec.BaselineHRV)
	assert.Equal(t, 50.0, *rec.BaselineHRV)
}

func TestPutProcessed_MetadataCarriesVerdict(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), false, nil)

	_, _, err := store.PutProcessed(context.Background(), "p", mustDate(t, "2026-08-15"), map[string]any{}, true)
	require.NoError(t, err)
	assert.Equal(t, "true", client.lastPut.Metadata["is_anomalous"])
}

func TestPutExplanation(t *testing.T) {
	client := newMockS3()
	store := NewStore(client, testBuckets(), false, nil)

	key, bucket, err := store.PutExplanation(context.Background(), "p", mustDate(t, "2026-08-15"), map[string]any{
		"explanation": "all quiet",
	})
	require.NoError(t, err)
	assert.Equal(t, "p/2026-08-15.json", key)
	assert.Equal(t, "explanations", bucket)
}

func TestPut_TransportFailure(t *testing.T) {
	client := newMockS3()
	client.putErr = errors.New("slowdown")
	store := NewStore(client, testBuckets(), false, nil)

	_, _, err := store.PutRaw(context.Background(), "p", mustDate(t, "2026-08-15"), map[string]any{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalStorage, appErr.Code)
}
