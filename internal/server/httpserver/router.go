package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/meshkv/internal/server/httpserver/handler"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Coordinator *storage.Coordinator
	// Scheduler is optional and only reported.
	Scheduler *schedule.Scheduler
	// Metrics is exposed at /metrics (default the global registry).
	Metrics *metric.Registry
	Logger  *slog.Logger

	// AdminAllowList restricts /v1 to these IPs or CIDRs (empty = no restriction).
	AdminAllowList []string

	// RateLimit is requests per second per IP on /v1; zero disables it.
	RateLimit float64

	// EnableAudit logs every /v1 request.
	EnableAudit bool
}

// NewRouter builds the admin API. Health and metrics endpoints skip the
// ACL, the rate limit and the audit log.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	h := handler.New(cfg.Coordinator, cfg.Scheduler, log)

	mux := http.NewServeMux()

	health := Chain(h, Recover(log), RequestID())
	mux.Handle("GET /health", health)
	mux.Handle("GET /ready", health)

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = metric.Global()
	}
	mux.Handle("GET /metrics", Chain(metrics.Handler(), Recover(log)))

	admin := []Middleware{Recover(log), RequestID()}
	if len(cfg.AdminAllowList) > 0 {
		admin = append(admin, NetworkACL(&NetworkACLConfig{AllowList: cfg.AdminAllowList, Logger: log}))
	}
	if cfg.RateLimit > 0 {
		admin = append(admin, RateLimit(cfg.RateLimit))
	}
	if cfg.EnableAudit {
		admin = append(admin, Audit(log))
	}
	mux.Handle("/v1/", Chain(h, admin...))

	return mux
}
