package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
)

// maxBodyBytes bounds request bodies of the persistence endpoints.
const maxBodyBytes = 64 << 10

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleStatus handles GET /v1/persistence.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status: h.coord.Status(),
		Config: PersistenceConfig{
			Dir:        h.coord.Backend().Location().String(),
			DBFilename: h.coord.NamePattern(),
			Format:     string(h.coord.Format()),
		},
	}
	if h.sched != nil {
		if s := h.sched.Spec(); s != nil {
			resp.Config.Schedule = s.String()
		}
		resp.Config.SchedulerRunning = h.sched.Running()
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleListSnapshots handles GET /v1/persistence/snapshots.
func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.coord.NamePattern() == "" {
		h.handleServiceError(w, r, domain.ErrDisabled.WithDetails("dbfilename is empty"))
		return
	}
	cands, err := h.coord.Candidates(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	resp := ListSnapshotsResponse{Snapshots: cands}
	if resp.Snapshots == nil {
		resp.Snapshots = []snapshot.Candidate{}
	}
	if best, ok := snapshot.Newest(cands, h.coord.Format()); ok {
		resp.Newest = best.Name
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleSave handles POST /v1/persistence/save.
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if h.coord.Loading() {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeLoading, "loading the dataset")
		return
	}

	sreq := storage.SaveRequest{Name: req.Name, Format: snapshot.Format(req.Format)}
	if req.Background {
		id, err := h.coord.BackgroundSave(sreq)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		h.logger.Info("background save requested", "op_id", id, "remote", r.RemoteAddr)
		h.writeJSON(w, r, http.StatusAccepted, SaveResponse{OpID: id})
		return
	}

	// The save outlives a client that disconnects.
	sum, err := h.coord.Save(context.WithoutCancel(r.Context()), sreq)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, sum)
}

// handleLoad handles POST /v1/persistence/load.
func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	var (
		sum *storage.LoadSummary
		err error
	)
	if req.Name == "" {
		if h.coord.NamePattern() == "" {
			h.handleServiceError(w, r, domain.ErrDisabled.WithDetails("name the snapshot to load"))
			return
		}
		sum, err = h.coord.Autoload(ctx)
		if err == nil && sum == nil {
			err = domain.ErrNotFound.Detailf("no snapshot matches %q", h.coord.NamePattern())
		}
	} else {
		sum, err = h.coord.Load(ctx, req.Name)
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, sum)
}
