package httpserver

import (
	"log"
	"net/http"
	"strings"

	"github.com/iago/manga-creator-back/internal/http/handlers"
	"github.com/iago/manga-creator-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// ImagesDir is served read-only under /images/ when set.
	ImagesDir string
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/api/", deps.API.Root)
	mux.HandleFunc("/api/scripts/parse", deps.API.ParseScript)
	mux.HandleFunc("/api/scripts", deps.API.ListScripts)
	mux.HandleFunc("/api/scripts/", deps.API.Script)
	mux.HandleFunc("/api/generate/manga", deps.API.GenerateManga)
	mux.HandleFunc("/api/generate/panel", deps.API.PreviewPanel)
	mux.HandleFunc("/api/generate/status/", deps.API.GenerationStatus)
	mux.HandleFunc("/api/generate/cancel/", deps.API.CancelGeneration)
	if strings.TrimSpace(deps.ImagesDir) != "" {
		mux.Handle("/images/", http.StripPrefix("/images/", noDirectoryListing(http.FileServer(http.Dir(deps.ImagesDir)))))
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken, "/api/")(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst, "/healthz")(handler)
	handler = middleware.CORS(deps.CORSOrigins)(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
