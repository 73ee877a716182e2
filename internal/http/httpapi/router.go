package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mediaqueue/internal/http/handlers"
	"mediaqueue/internal/middleware"
)

// Options configures the router's cross-cutting middleware.
type Options struct {
	Logger          zerolog.Logger
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir is served under /static when set (local upload storage).
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Get("/healthz", app.Health)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Post("/", app.CreateJob)
			r.Get("/stream", app.StreamJobs)
			r.Post("/cancel", app.CancelAllJobs)
			r.Get("/{id}", app.GetJob)
			r.Post("/{id}/cancel", app.CancelJob)
			r.Delete("/{id}", app.DeleteJob)
		})
		r.Get("/results/last", app.LastResult)
		r.Post("/uploads", app.Upload)
		r.Put("/session", app.PutSession)
		r.Delete("/session", app.DeleteSession)
	})

	if dir := strings.TrimSpace(opts.StaticDir); dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	return r
}
