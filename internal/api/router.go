package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"seatkeeper/internal/api/handlers"
	"seatkeeper/internal/api/middleware"
	"seatkeeper/internal/pkg/metrics"
)

type Dependencies struct {
	WebhookHandler *handlers.WebhookHandler
	HealthHandler  *handlers.HealthHandler
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	logging := middleware.Logging(deps.Logger)
	recoverer := middleware.Recover(deps.Logger)

	router.POST("/webhooks/stripe",
		chain(deps.Metrics, "/webhooks/stripe", deps.WebhookHandler.Stripe, recoverer, logging))
	router.GET("/health",
		chain(deps.Metrics, "/health", deps.HealthHandler.Check, recoverer))

	if deps.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return router
}

// Helper function to chain middlewares
func chain(m *metrics.Metrics, route string, handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(m.Instrument(route, handler))
}

// Convert http.Handler to httprouter.Handle
func wrap(handler http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		handler.ServeHTTP(w, r)
	}
}
