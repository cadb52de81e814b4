package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter holds simple in-memory per-key sliding window counters.
// Good for a single-instance deployment, which is what this service runs
// as; a distributed store would be needed behind a load balancer.
type rateLimiter struct {
	mu   sync.Mutex
	data map[string]rateBucket
}

type rateBucket struct {
	window time.Time
	count  int
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{data: make(map[string]rateBucket)}
}

// allow checks if a request identified by key is within its rate limit.
func (rl *rateLimiter) allow(key string, limit int, per time.Duration, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.data[key]
	win := now.Truncate(per)
	if !ok || b.window.Before(win) {
		rl.data[key] = rateBucket{window: win, count: 1}
		return true
	}
	if b.count >= limit {
		return false
	}
	b.count++
	rl.data[key] = b
	return true
}

// loginRateLimitMiddleware applies a per-IP limit to the login endpoint,
// slowing credential-stuffing attempts. Disabled limits pass everything
// through.
func (s *Server) loginRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.secCfg.RateLimit.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		key := clientIPKey(r)
		if key != "" && !s.limiter.allow(key, s.secCfg.RateLimit.RequestsPerMinute, time.Minute, time.Now()) {
			s.logger.Info("login rate limited", "key", key)
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many login attempts, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIPKey normalises the remote address to just the host, not the
// ephemeral port.
func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return ""
	}
	return "ip:" + host
}
