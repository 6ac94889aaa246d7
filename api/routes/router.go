// Package routes assembles the HTTP router.
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tenantbilling-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/tenantbilling-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/api/middleware"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

// RouterParams carries what the API surface needs. Nil pingers are skipped by readiness.
type RouterParams struct {
	Env          string
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	PubSub       controllers.Pinger
	Webhooks     []webhookcontrollers.Ingester
	MaxBodyBytes int64
	Metrics      prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	deps := map[string]controllers.Pinger{}
	for name, dep := range map[string]controllers.Pinger{"db": p.DB, "redis": p.Redis, "pubsub": p.PubSub} {
		if dep != nil {
			deps[name] = dep
		}
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Env))
		r.Get("/ready", controllers.HealthReady(p.Env, p.Logger, deps))
	})

	gatherer := p.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{provider}", webhookcontrollers.Webhook(p.Webhooks, p.MaxBodyBytes, p.Logger))
	})

	return r
}
