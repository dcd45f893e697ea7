package handler

import (
	"time"

	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
)

// Response is the envelope of every JSON response.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SaveRequest is the body of POST /v1/persistence/save. All fields are
// optional.
type SaveRequest struct {
	Name       string `json:"name,omitempty"`
	Format     string `json:"format,omitempty"`
	Background bool   `json:"background,omitempty"`
}

// SaveResponse is returned by a background save.
type SaveResponse struct {
	OpID string `json:"op_id"`
}

// LoadRequest is the body of POST /v1/persistence/load. An empty name
// loads the newest snapshot matching dbfilename.
type LoadRequest struct {
	Name string `json:"name,omitempty"`
}

// PersistenceConfig is the effective persistence configuration.
type PersistenceConfig struct {
	Dir        string `json:"dir"`
	DBFilename string `json:"dbfilename"`
	Format     string `json:"format"`
	Schedule   string `json:"schedule"`

	SchedulerRunning bool `json:"scheduler_running"`
}

// StatusResponse is returned by GET /v1/persistence.
type StatusResponse struct {
	Status storage.PersistenceStatus `json:"status"`
	Config PersistenceConfig         `json:"config"`
}

// ListSnapshotsResponse is returned by GET /v1/persistence/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []snapshot.Candidate `json:"snapshots"`
	Newest    string               `json:"newest,omitempty"`
}
