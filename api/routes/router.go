package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/webhook-relay/api/controllers"
	"github.com/angelmondragon/webhook-relay/api/middleware"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Readiness   map[string]controllers.Pinger
	DeadLetters controllers.DeadLetterService
	Gatherer    prometheus.Gatherer
}

// NewRouter serves health probes, metrics and, when an admin secret and a dead
// letter service are configured, the operator endpoints.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Readiness))
	})

	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	if params.DeadLetters != nil && cfg.Admin.Enabled() {
		r.Route("/admin/dead-letters", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.Admin, logg))
			r.Get("/", controllers.ListDeadLetters(params.DeadLetters, logg))
			r.Post("/replay", controllers.ReplayDeadLetters(params.DeadLetters, logg))
			r.Get("/{id}", controllers.GetDeadLetter(params.DeadLetters, logg))
			r.Post("/{id}/replay", controllers.ReplayDeadLetter(params.DeadLetters, logg))
		})
	}

	return r
}
