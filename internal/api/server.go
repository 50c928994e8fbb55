// Package api provides the local/dev HTTP boundary for the pipeline. The
// deployed system is invoked through Lambda events; this server exposes the
// same operations over HTTP for development and smoke testing, mapping each
// POST body to an invocation and the result status to an HTTP status.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"vitalwatch/internal/types"
)

// Server wires the pipeline operations behind a chi router.
type Server struct {
	handler *Handler
	log     *slog.Logger
}

func NewServer(h *Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{handler: h, log: log}
}

// Router builds the middleware chain and mounts the versioned routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.handler.HandleFetch)
		r.Post("/process", s.handler.HandleProcess)
		r.Post("/explain", s.handler.HandleExplain)
	})

	return r
}

// requestID attaches a trace ID to the request context and response,
// honoring an inbound X-Request-Id when present.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := types.WithRequestID(r.Context(), id)
		ctx = types.WithLogger(ctx, s.log.With(slog.String("request_id", id)))
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		types.LoggerFromContext(r.Context()).InfoContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeResult renders an invocation result with the HTTP status implied by
// its pipeline status.
func writeResult(w http.ResponseWriter, result types.InvocationResult) {
	writeJSON(w, result.Status.HTTPStatus(), result)
}
