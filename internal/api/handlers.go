package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"vitalwatch/internal/types"
)

// maxBodyBytes bounds request bodies. Invocations are tiny.
const maxBodyBytes = 1 << 20

// FetchService, ProcessService and ExplainService are the operation
// contracts the handler depends on. They are defined locally rather than
// importing the pipeline packages so the handler can be tested against
// plain fakes.
type FetchService interface {
	Fetch(ctx context.Context, inv types.Invocation) types.InvocationResult
}

type ProcessService interface {
	Process(ctx context.Context, inv types.Invocation) types.InvocationResult
}

type ExplainService interface {
	Explain(ctx context.Context, inv types.Invocation) types.InvocationResult
}

// Handler maps HTTP requests to pipeline operations.
type Handler struct {
	fetch   FetchService
	process ProcessService
	explain ExplainService
	log     *slog.Logger
}

func NewHandler(fetch FetchService, process ProcessService, explain ExplainService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{fetch: fetch, process: process, explain: explain, log: log}
}

// decodeInvocation reads and decodes the request body. An empty body is a
// valid invocation: the defaults (configured patient, yesterday) apply.
func decodeInvocation(r *http.Request) (types.Invocation, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return types.Invocation{}, types.NewAppError(types.ErrCodeValidationBadPayload, "reading request body", err)
	}
	if len(body) == 0 {
		return types.Invocation{}, nil
	}
	return types.DecodeInvocation(body)
}

func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	inv, err := decodeInvocation(r)
	if err != nil {
		writeResult(w, types.ResultFromError(err, inv.PatientID, inv.Date))
		return
	}
	writeResult(w, h.fetch.Fetch(r.Context(), inv))
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	inv, err := decodeInvocation(r)
	if err != nil {
		writeResult(w, types.ResultFromError(err, inv.PatientID, inv.Date))
		return
	}
	writeResult(w, h.process.Process(r.Context(), inv))
}

func (h *Handler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	inv, err := decodeInvocation(r)
	if err != nil {
		writeResult(w, types.ResultFromError(err, inv.PatientID, inv.Date))
		return
	}
	writeResult(w, h.explain.Explain(r.Context(), inv))
}
