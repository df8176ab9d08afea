package middleware

import (
	"net/http"
	"strings"
)

// The browser client only issues GET/POST and polls with Retry-After.
const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Accept, Authorization, Content-Type, Idempotency-Key, X-Request-Id"
	corsExposeHeaders = "Retry-After, X-Request-Id"
	corsMaxAge        = "600"
)

// CORS answers preflights for the listed origins ("*" allows any) and lets
// every other request through untouched when the origin is not listed.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, origin := range origins {
		origin = strings.ToLower(strings.TrimSpace(origin))
		switch origin {
		case "":
		case "*":
			wildcard = true
		default:
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			_, listed := allowed[strings.ToLower(origin)]
			if origin == "" || (!wildcard && !listed) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			if wildcard {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method != http.MethodOptions {
				header.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				next.ServeHTTP(w, r)
				return
			}
			header.Add("Vary", "Access-Control-Request-Method")
			header.Add("Vary", "Access-Control-Request-Headers")
			header.Set("Access-Control-Allow-Methods", corsAllowMethods)
			header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			header.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
