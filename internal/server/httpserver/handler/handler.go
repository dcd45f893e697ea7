package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// Codes used by the handler itself.
const (
	CodeBadRequest = "MK-HTTP-4000"
	CodeInternal   = "MK-HTTP-5000"
	CodeLoading    = "MK-LOAD-5030"
)

// Handler serves the admin API.
type Handler struct {
	coord  *storage.Coordinator
	sched  *schedule.Scheduler
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler. sched may be nil.
func New(coord *storage.Coordinator, sched *schedule.Scheduler, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	h := &Handler{
		coord:  coord,
		sched:  sched,
		logger: log,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/persistence", h.handleStatus)
	h.mux.HandleFunc("GET /v1/persistence/snapshots", h.handleListSnapshots)
	h.mux.HandleFunc("POST /v1/persistence/save", h.handleSave)
	h.mux.HandleFunc("POST /v1/persistence/load", h.handleLoad)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := getRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message))
}

// getRequestID prefers the ID the middleware put on the response.
func getRequestID(w http.ResponseWriter, r *http.Request) string {
	if id := w.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// handleServiceError converts coordinator errors to responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if code := domain.CodeOf(err); code != "" {
		status := domain.StatusOf(code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		}
		h.writeError(w, r, status, code, err.Error())
		return
	}
	h.logger.Error("internal error", "path", r.URL.Path, "error", err)
	h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
}

