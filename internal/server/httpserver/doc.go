// Package httpserver provides the admin HTTP server.
//
// Routes:
//
//   - GET /health, GET /ready: liveness and readiness; /ready fails while loading
//   - GET /metrics: Prometheus exposition
//   - GET /v1/persistence: persistence status and effective settings
//   - GET /v1/persistence/snapshots: snapshots matching dbfilename
//   - POST /v1/persistence/save: foreground or background save
//   - POST /v1/persistence/load: load a named or the newest snapshot
//
// The /v1 routes pass through an optional IP allow list, a per-IP rate
// limit and an audit log.
package httpserver
