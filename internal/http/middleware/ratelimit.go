package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit applies a per-client token bucket. Paths in exempt (exact match)
// bypass it so health probes never get throttled.
func RateLimit(rps float64, burst int, exempt ...string) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}

	skip := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		skip[path] = struct{}{}
	}

	var mu sync.Mutex
	visitors := make(map[string]*visitor)
	lastSweep := time.Now()

	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastSweep) > time.Minute {
			for key, item := range visitors {
				if now.Sub(item.lastSeen) > 3*time.Minute {
					delete(visitors, key)
				}
			}
			lastSweep = now
		}

		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		return v.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if !getLimiter(extractIP(r.RemoteAddr)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeEnvelope(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
