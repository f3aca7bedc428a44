// Package httpapi exposes the hub over HTTP: message send and status,
// event publish and subscriptions, the service registry, circuit control,
// health, metrics, and a websocket event stream.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dungeonforge/messagehub/internal/hub/breaker"
	"github.com/dungeonforge/messagehub/internal/hub/delivery"
	"github.com/dungeonforge/messagehub/internal/hub/eventbus"
	"github.com/dungeonforge/messagehub/internal/hub/health"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

// Server bundles the hub components behind the HTTP surface. Construct with
// NewServer and mount Router on an http.Server.
type Server struct {
	engine     *delivery.Engine
	bus        *eventbus.Bus
	reg        *registry.Store
	bank       *breaker.Bank
	aggregator *health.Aggregator
	gatherer   prometheus.Gatherer
	keys       map[string]string
	logger     logging.ServiceLogger
}

func NewServer(
	engine *delivery.Engine,
	bus *eventbus.Bus,
	reg *registry.Store,
	bank *breaker.Bank,
	aggregator *health.Aggregator,
	gatherer prometheus.Gatherer,
	keys map[string]string,
	logger logging.ServiceLogger,
) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		engine:     engine,
		bus:        bus,
		reg:        reg,
		bank:       bank,
		aggregator: aggregator,
		gatherer:   gatherer,
		keys:       keys,
		logger:     logger,
	}
}

// Router builds the route tree. Health and metrics stay outside the auth
// gate so probes and scrapers need no service key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(accessLogMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/health/details", s.handleHealthDetails)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.keys))

		r.Post("/message", s.handleSendMessage)
		r.Get("/message/{id}", s.handleMessageStatus)

		r.Post("/event", s.handlePublishEvent)
		r.Post("/subscribe", s.handleSubscribe)
		r.Delete("/subscribe/{id}", s.handleUnsubscribe)
		r.Get("/events", s.handleEventStream)

		r.Post("/registry", s.handleRegister)
		r.Get("/registry", s.handleListServices)
		r.Get("/registry/{service}", s.handleGetService)
		r.Delete("/registry/{service}", s.handleDeregister)

		r.Get("/circuit", s.handleListCircuits)
		r.Get("/circuit/{destination}", s.handleGetCircuit)
		r.Put("/circuit/{destination}", s.handleSetCircuit)
	})

	return r
}
