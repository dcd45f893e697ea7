package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/meshkv/internal/infra/buildinfo"
)

// healthBody is the body of both liveness and readiness responses.
type healthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func newHealthBody(status string) healthBody {
	return healthBody{
		Status:  status,
		Version: buildinfo.Get().Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
}

// handleHealth answers GET /health while the process is serving.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, newHealthBody("healthy"))
}

// handleReady answers GET /ready. A dataset load in progress makes the
// server unready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.coord.Loading() {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeLoading, "loading the dataset")
		return
	}
	h.writeJSON(w, r, http.StatusOK, newHealthBody("ready"))
}
