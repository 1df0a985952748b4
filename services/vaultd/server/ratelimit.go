package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"epochvault/observability"
)

const (
	visitorIdle     = 5 * time.Minute
	visitorSweepMin = 1024
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and route group.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter returns nil when perSecond is not positive, which disables
// limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

// Middleware throttles requests in the named route group.
func (r *RateLimiter) Middleware(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.obtain(group + "|" + clientID(req)).Allow() {
				observability.Vault().RecordThrottle(group)
				writeError(w, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtain(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if len(r.visitors) >= visitorSweepMin {
		for id, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(r.visitors, id)
			}
		}
	}
	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// clientID relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
