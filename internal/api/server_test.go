package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/types"
)

type fakeOperation struct {
	result  types.InvocationResult
	lastInv types.Invocation
	lastCtx context.Context
	calls   int
}

func (f *fakeOperation) run(ctx context.Context, inv types.Invocation) types.InvocationResult {
	f.calls++
	f.lastInv = inv
	f.lastCtx = ctx
	return f.result
}

func (f *fakeOperation) Fetch(ctx context.Context, inv types.Invocation) types.InvocationResult {
	return f.run(ctx, inv)
}

func (f *fakeOperation) Process(ctx context.Context, inv types.Invocation) types.InvocationResult {
	return f.run(ctx, inv)
}

func (f *fakeOperation) Explain(ctx context.Context, inv types.Invocation) types.InvocationResult {
	return f.run(ctx, inv)
}

func newTestServer(fetch, process, explain *fakeOperation) *httptest.Server {
	handler := NewHandler(fetch, process, explain, nil)
	return httptest.NewServer(NewServer(handler, nil).Router())
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) types.InvocationResult {
	t.Helper()

	var result types.InvocationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func TestHealth(t *testing.T) {
	server := newTestServer(&fakeOperation{}, &fakeOperation{}, &fakeOperation{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestProcess_Success(t *testing.T) {
	process := &fakeOperation{result: types.InvocationResult{
		Status:        types.StatusSuccess,
		PatientID:     "patient-001",
		Date:          "2026-08-15",
		StorageKey:    "patient-001/2026-08-15.json",
		StorageBucket: "vitalwatch-processed",
	}}
	server := newTestServer(&fakeOperation{}, process, &fakeOperation{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/process", `{"patient_id":"patient-001","date":"2026-08-15"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, process.calls)
	assert.Equal(t, types.Invocation{PatientID: "patient-001", Date: "2026-08-15"}, process.lastInv)

	result := decodeResult(t, resp)
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, "patient-001/2026-08-15.json", result.StorageKey)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status types.ResultStatus
		want   int
	}{
		{"success", types.StatusSuccess, http.StatusOK},
		{"not found", types.StatusNotFound, http.StatusNotFound},
		{"validation error", types.StatusValidationError, http.StatusBadRequest},
		{"internal error", types.StatusInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			process := &fakeOperation{result: types.InvocationResult{Status: tt.status}}
			server := newTestServer(&fakeOperation{}, process, &fakeOperation{})
			defer server.Close()

			resp := postJSON(t, server.URL+"/v1/process", `{}`)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestEmptyBodyInvokesDefaults(t *testing.T) {
	fetch := &fakeOperation{result: types.InvocationResult{Status: types.StatusSuccess}}
	server := newTestServer(fetch, &fakeOperation{}, &fakeOperation{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/fetch", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, fetch.calls)
	assert.Equal(t, types.Invocation{}, fetch.lastInv)
}

func TestMalformedBody(t *testing.T) {
	explain := &fakeOperation{}
	server := newTestServer(&fakeOperation{}, &fakeOperation{}, explain)
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/explain", `{"patient_id":`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, explain.calls)

	result := decodeResult(t, resp)
	assert.Equal(t, types.StatusValidationError, result.Status)
}

func TestRequestID_Generated(t *testing.T) {
	process := &fakeOperation{result: types.InvocationResult{Status: types.StatusSuccess}}
	server := newTestServer(&fakeOperation{}, process, &fakeOperation{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/v1/process", `{}`)

	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	require.NotNil(t, process.lastCtx)
	assert.Equal(t, resp.Header.Get("X-Request-Id"), types.GetRequestID(process.lastCtx))
}

func TestRequestID_HonorsInbound(t *testing.T) {
	process := &fakeOperation{result: types.InvocationResult{Status: types.StatusSuccess}}
	server := newTestServer(&fakeOperation{}, process, &fakeOperation{})
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/process", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "trace-abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-abc-123", resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "trace-abc-123", types.GetRequestID(process.lastCtx))
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(&fakeOperation{}, &fakeOperation{}, &fakeOperation{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/process")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRoutesAreIndependent(t *testing.T) {
	fetch := &fakeOperation{result: types.InvocationResult{Status: types.StatusSuccess}}
	process := &fakeOperation{result: types.InvocationResult{Status: types.StatusSuccess}}
	explain := &fakeOperation{result: types.InvocationResult{Status: types.StatusSuccess}}
	server := newTestServer(fetch, process, explain)
	defer server.Close()

	postJSON(t, server.URL+"/v1/fetch", `{}`)
	postJSON(t, server.URL+"/v1/explain", `{}`)

	assert.Equal(t, 1, fetch.calls)
	assert.Equal(t, 0, process.calls)
	assert.Equal(t, 1, explain.calls)
}
