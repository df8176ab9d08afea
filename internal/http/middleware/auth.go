package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires a bearer token on every path under prefix. An empty token
// disables the check.
func Auth(requiredToken, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredToken == "" || !strings.HasPrefix(r.URL.Path, prefix) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const scheme = "Bearer "
			if !strings.HasPrefix(authorization, scheme) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, scheme))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="manga-creator"`)
	writeEnvelope(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
}
