package redisserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterRegistry holds one token bucket per client IP.
type limiterRegistry struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterRegistry(perSecond float64, burst int) *limiterRegistry {
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &limiterRegistry{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *limiterRegistry) get(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[ip]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[ip] = l
	}
	return l
}

func (r *limiterRegistry) allow(ip string) bool {
	return r.get(ip).Allow()
}
