package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	cases := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantStatus int
		wantNext   bool
		wantAllow  string
		wantHeader string
		wantValue  string
	}{
		{
			name:       "preflight from listed origin",
			origins:    []string{"http://localhost:3000"},
			method:     http.MethodOptions,
			origin:     "http://LOCALHOST:3000",
			wantStatus: http.StatusNoContent,
			wantAllow:  "http://LOCALHOST:3000",
			wantHeader: "Access-Control-Allow-Headers",
			wantValue:  "Idempotency-Key",
		},
		{
			name:       "poll from listed origin exposes Retry-After",
			origins:    []string{"http://localhost:3000"},
			method:     http.MethodGet,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusOK,
			wantNext:   true,
			wantAllow:  "http://localhost:3000",
			wantHeader: "Access-Control-Expose-Headers",
			wantValue:  "Retry-After",
		},
		{
			name:       "wildcard",
			origins:    []string{"*"},
			method:     http.MethodPost,
			origin:     "https://reader.example",
			wantStatus: http.StatusOK,
			wantNext:   true,
			wantAllow:  "*",
		},
		{
			name:       "unlisted origin passes through",
			origins:    []string{"http://localhost:3000"},
			method:     http.MethodOptions,
			origin:     "https://evil.example",
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "no origin header",
			origins:    []string{"*"},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nextCalled := false
			handler := CORS(tc.origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			request := httptest.NewRequest(tc.method, "/api/generate/status/job-1", nil)
			if tc.origin != "" {
				request.Header.Set("Origin", tc.origin)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			if recorder.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, recorder.Code)
			}
			if nextCalled != tc.wantNext {
				t.Fatalf("expected next called=%v, got %v", tc.wantNext, nextCalled)
			}
			if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("expected allow origin %q, got %q", tc.wantAllow, got)
			}
			if tc.wantHeader != "" && !strings.Contains(recorder.Header().Get(tc.wantHeader), tc.wantValue) {
				t.Fatalf("expected %s to contain %q, got %q", tc.wantHeader, tc.wantValue, recorder.Header().Get(tc.wantHeader))
			}
		})
	}
}
