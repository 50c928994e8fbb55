package types

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Invocation is the input envelope accepted by every pipeline operation.
// PatientID may be empty if a default patient is configured; Date may be
// empty, in which case the operation targets yesterday (UTC).
type Invocation struct {
	PatientID string `json:"patient_id"`
	Date      string `json:"date,omitempty"`
}

// DecodeInvocation parses an invocation payload. It accepts either a bare
// Invocation object or an API-Gateway-style envelope whose "body" field is
// a JSON string containing the Invocation.
func DecodeInvocation(payload []byte) (Invocation, error) {
	var envelope struct {
		Invocation
		Body string `json:"body"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Invocation{}, NewAppError(ErrCodeValidationBadPayload, "invocation payload is not valid JSON", err)
	}
	if envelope.Body != "" {
		var inner Invocation
		if err := json.Unmarshal([]byte(envelope.Body), &inner); err == nil {
			return inner, nil
		}
		// Fall through: a non-JSON body is treated as a bare invocation.
	}
	return envelope.Invocation, nil
}

// ResultStatus is the terminal outcome of a pipeline invocation.
type ResultStatus string

const (
	StatusSuccess         ResultStatus = "success"
	StatusNotFound        ResultStatus = "not_found"
	StatusValidationError ResultStatus = "validation_error"
	StatusInternalError   ResultStatus = "internal_error"
)

// HTTPStatus maps the invocation outcome to its HTTP-shaped status code.
func (s ResultStatus) HTTPStatus() int {
	switch s {
	case StatusSuccess:
		return http.StatusOK
	case StatusNotFound:
		return http.StatusNotFound
	case StatusValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// InvocationResult is the structured outcome of a pipeline invocation,
// echoing the patient and date, and on success the storage location plus
// the anomaly summary.
type InvocationResult struct {
	Status    ResultStatus `json:"status"`
	PatientID string       `json:"patient_id,omitempty"`
	Date      string       `json:"date,omitempty"`

	StorageKey    string `json:"s3_key,omitempty"`
	StorageBucket string `json:"s3_bucket,omitempty"`

	IsAnomalous *bool `json:"is_anomalous,omitempty"`
	Severity    *int  `json:"anomaly_severity,omitempty"`

	// ExplanationPreview is populated by the explanation operation only.
	ExplanationPreview string `json:"explanation_preview,omitempty"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResultFromError builds a terminal InvocationResult from an error,
// classifying it via the AppError code when available. Generic errors map
// to internal_error; not-found codes map to the not_found outcome rather
// than an error outcome, matching the pipeline's error taxonomy where
// absent data is a distinct terminal state, not a failure.
func ResultFromError(err error, patientID string, date string) InvocationResult {
	res := InvocationResult{
		PatientID: patientID,
		Date:      date,
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.HTTPStatus() {
		case http.StatusBadRequest:
			res.Status = StatusValidationError
		case http.StatusNotFound:
			res.Status = StatusNotFound
			res.Message = appErr.Message
			return res
		default:
			res.Status = StatusInternalError
		}
		res.Error = appErr.Error()
		return res
	}

	res.Status = StatusInternalError
	res.Error = err.Error()
	return res
}

// LambdaResponse is the Lambda-proxy-style response envelope returned by the
// function entrypoints: a status code plus a JSON-serialized body.
type LambdaResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// NewLambdaResponse wraps an InvocationResult in the Lambda response
// envelope, serializing the result as the body.
func NewLambdaResponse(res InvocationResult) LambdaResponse {
	body, err := json.Marshal(res)
	if err != nil {
		// The result struct contains only marshalable fields; this path is
		// unreachable in practice but kept total.
		return LambdaResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"status":"internal_error","error":"failed to encode result"}`,
		}
	}
	return LambdaResponse{
		StatusCode: res.Status.HTTPStatus(),
		Body:       string(body),
	}
}
