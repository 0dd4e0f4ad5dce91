package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/optlsnd/helpscout-automation/internal/admin"
	httpmiddleware "github.com/optlsnd/helpscout-automation/internal/http/middleware"
	"github.com/optlsnd/helpscout-automation/internal/webhook"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Webhook        *webhook.Handler
	Admin          *admin.Handler
	MetricsHandler http.Handler

	AdminAuthSecret string
	// AdminRateLimit is requests per second per client IP; zero disables it.
	AdminRateLimit float64
	AdminRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhook, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			// The handler answers non-POST methods itself with 405.
			public.HandleFunc("/", cfg.Webhook.Handle)
		}
	})

	if cfg.Admin != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(middleware.Compress(5))
			api.Use(httpmiddleware.RateLimit(cfg.AdminRateLimit, cfg.AdminRateBurst))
			api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))

			api.Get("/tasks", cfg.Admin.ListTasks)
			api.Get("/tasks/view", cfg.Admin.ViewTasks)
			api.Delete("/tasks/{id}", cfg.Admin.DeleteTask)
			api.Delete("/delete/{id}", cfg.Admin.DeleteTaskLegacy)
			api.Get("/stats", cfg.Admin.GetStats)
		})
	}

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
