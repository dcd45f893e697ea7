package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// Error codes written by the middlewares.
const (
	CodeTooManyRequests = "MK-HTTP-4290"
	CodeForbidden       = "MK-HTTP-4030"
	CodeInternal        = "MK-HTTP-5000"
)

// Middleware decorates a handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that middlewares[0] sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type requestKey struct{}

type requestInfo struct {
	id      string
	started time.Time
}

// RequestIDFrom returns the id RequestID assigned to the request, or "".
func RequestIDFrom(ctx context.Context) string {
	if ri, ok := ctx.Value(requestKey{}).(requestInfo); ok {
		return ri.id
	}
	return ""
}

func startedAt(ctx context.Context) time.Time {
	if ri, ok := ctx.Value(requestKey{}).(requestInfo); ok {
		return ri.started
	}
	return time.Now()
}

// RequestID tags each request with an id, echoed in X-Request-ID. An id
// supplied by the client is kept. The id doubles as the operation id in
// persistence logs.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = "req-" + ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := context.WithValue(r.Context(), requestKey{}, requestInfo{id: id, started: time.Now()})
			next.ServeHTTP(w, r.WithContext(logger.WithOpID(ctx, id)))
		})
	}
}

// RateLimit allows perSecond requests per client IP, with a burst of the
// same size (at least one).
func RateLimit(perSecond float64) Middleware {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
		burst   = max(1, int(perSecond))
	)
	bucket := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		b := buckets[ip]
		if b == nil {
			b = rate.NewLimiter(rate.Limit(perSecond), burst)
			buckets[ip] = b
		}
		return b
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := bucket(clientIP(r)).Reserve()
			if wait := res.Delay(); wait > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, CodeTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit logs one line per request; the level follows the status class.
func Audit(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "admin request",
				"request_id", RequestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(startedAt(r.Context())).Milliseconds(),
				"client_ip", clientIP(r),
			)
		})
	}
}

// Recover answers 500 when a handler panics.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.Error("handler panic",
						"request_id", RequestIDFrom(r.Context()),
						"path", r.URL.Path,
						"panic", v)
					writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACLConfig configures NetworkACL.
type NetworkACLConfig struct {
	// AllowList holds addresses and CIDR prefixes. Invalid entries are
	// logged and skipped; an empty list admits everyone.
	AllowList []string
	Logger    *slog.Logger
}

// NetworkACL rejects clients whose address is outside the allow list.
func NetworkACL(cfg *NetworkACLConfig) Middleware {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	prefixes := parseAllowList(cfg.AllowList, log)

	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if addr, err := netip.ParseAddr(ip); err == nil {
				addr = addr.Unmap()
				for _, p := range prefixes {
					if p.Contains(addr) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			log.Warn("request denied by allow list", "client_ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, CodeForbidden, "client address not allowed")
		})
	}
}

func parseAllowList(entries []string, log *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				log.Warn("invalid CIDR in allow list", "entry", e, "error", err)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			log.Warn("invalid address in allow list", "entry", e)
			continue
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

// clientIP is the peer address of the connection. Forwarding headers are
// ignored since the allow list is enforced on it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
