// Package hub assembles the message hub: registry, circuit bank, delivery
// engine, event bus, health poller, and the HTTP surface, wired together and
// run as one service.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dungeonforge/messagehub/internal/hub/breaker"
	"github.com/dungeonforge/messagehub/internal/hub/config"
	"github.com/dungeonforge/messagehub/internal/hub/delivery"
	"github.com/dungeonforge/messagehub/internal/hub/eventbus"
	"github.com/dungeonforge/messagehub/internal/hub/health"
	"github.com/dungeonforge/messagehub/internal/hub/httpapi"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
	"github.com/dungeonforge/messagehub/internal/hub/metrics"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
	"github.com/dungeonforge/messagehub/internal/hub/transport"
)

// sourceName identifies the hub itself in the events it emits.
const sourceName = "messagehub"

// Dependencies holds optional collaborators. Leave fields nil for the
// production defaults; tests inject fakes here.
type Dependencies struct {
	// DeliveryTransport carries point-to-point messages to their targets.
	DeliveryTransport delivery.Transport

	// CallbackDeliverer pushes events to webhook subscribers.
	CallbackDeliverer eventbus.Deliverer

	// HealthClient performs health-check probes.
	HealthClient health.HTTPDoer

	// Registry scopes the Prometheus collectors. Defaults to a fresh
	// registry per service so instances never collide.
	Registry *prometheus.Registry
}

// Service is the assembled hub. Construct with New, then Run.
type Service struct {
	Conf   config.Config
	Logger logging.ServiceLogger

	reg        *registry.Store
	bank       *breaker.Bank
	engine     *delivery.Engine
	bus        *eventbus.Bus
	poller     *health.Poller
	aggregator *health.Aggregator
	metrics    *metrics.Metrics

	httpServer *http.Server
}

// New wires every component from cfg. The context is used to build the
// event-bus transport; broker-backed transports dial during construction.
func New(ctx context.Context, cfg config.Config, logger logging.ServiceLogger, deps Dependencies) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	promRegistry := deps.Registry
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	m := metrics.New(promRegistry)
	if err := m.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	wmLogger := logging.NewWatermillAdapter(logger)

	reg := registry.NewStore(logger.With(logging.LogFields{"component": "registry"}))
	bank := breaker.NewBank(cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout,
		logger.With(logging.LogFields{"component": "breaker"}))

	tr, err := transport.Build(ctx, &cfg, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build event transport: %w", err)
	}

	deliverer := deps.CallbackDeliverer
	if deliverer == nil {
		deliverer, err = eventbus.NewHTTPDeliverer(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("build callback deliverer: %w", err)
		}
	}

	bus, err := eventbus.NewBus(tr, eventbus.NewSubscriptionStore(), deliverer, m,
		logger.With(logging.LogFields{"component": "eventbus"}))
	if err != nil {
		return nil, fmt.Errorf("build event bus: %w", err)
	}

	deliveryTr := deps.DeliveryTransport
	if deliveryTr == nil {
		deliveryTr, err = delivery.NewHTTPTransport(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("build delivery transport: %w", err)
		}
	}

	engine := delivery.NewEngine(delivery.Config{
		MaxAttempts: cfg.DeliveryMaxAttempts,
		BaseBackoff: cfg.DeliveryBaseBackoff,
		MaxBackoff:  cfg.DeliveryMaxBackoff,
		MaxPending:  cfg.DeliveryMaxPending,
		Concurrency: cfg.DeliveryConcurrency,
		StatusGrace: cfg.DeliveryStatusGrace,
	}, reg, bank, deliveryTr, m, logger.With(logging.LogFields{"component": "delivery"}))

	healthClient := deps.HealthClient
	if healthClient == nil {
		healthClient = &http.Client{}
	}
	poller := health.NewPoller(health.PollerConfig{
		DefaultInterval: cfg.HealthDefaultInterval,
		PollTimeout:     cfg.HealthPollTimeout,
		MaxConcurrent:   cfg.HealthMaxConcurrent,
		SilenceWindow:   cfg.HealthSilenceWindow,
	}, reg, healthClient, logger.With(logging.LogFields{"component": "health"}))

	aggregator := health.NewAggregator(health.Bounds{
		BacklogBound:     cfg.HealthBacklogBound,
		FailureRateBound: cfg.HealthFailureRateBound,
	}, reg, bank, engine, bus, m)

	s := &Service{
		Conf:       cfg,
		Logger:     logger,
		reg:        reg,
		bank:       bank,
		engine:     engine,
		bus:        bus,
		poller:     poller,
		aggregator: aggregator,
		metrics:    m,
	}

	// Registry transitions and forced circuit changes feed back into the
	// event fabric; deregistration drops the service's subscriptions.
	reg.SetChangeSink(s.publishStateChange)
	reg.SetDeregisterHook(bus.CancelOwned)
	bank.SetAuditSink(s.publishCircuitAudit)

	api := httpapi.NewServer(engine, bus, reg, bank, aggregator, promRegistry, cfg.ServiceKeys,
		logger.With(logging.LogFields{"component": "httpapi"}))
	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Registry exposes the service registry for embedding callers.
func (s *Service) Registry() *registry.Store { return s.reg }

// Breakers exposes the circuit bank.
func (s *Service) Breakers() *breaker.Bank { return s.bank }

// Engine exposes the delivery engine.
func (s *Service) Engine() *delivery.Engine { return s.engine }

// Bus exposes the event bus.
func (s *Service) Bus() *eventbus.Bus { return s.bus }

// Health exposes the aggregator.
func (s *Service) Health() *health.Aggregator { return s.aggregator }

// Run starts every component and blocks until ctx is cancelled or the HTTP
// listener fails. Shutdown is graceful: the listener drains, the event bus
// closes, and workers observe cancellation.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.engine.Start(runCtx)

	busErr := make(chan error, 1)
	go func() { busErr <- s.bus.Run(runCtx) }()
	select {
	case <-s.bus.Running():
	case err := <-busErr:
		return fmt.Errorf("event bus failed to start: %w", err)
	}

	go s.poller.Run(runCtx)

	s.publishLifecycle(runCtx, "started")
	s.Logger.Info("hub started", logging.LogFields{
		"addr":      s.Conf.HTTPAddr,
		"event_bus": s.Conf.EventBusSystem,
	})

	httpErr := make(chan error, 1)
	go func() { httpErr <- s.httpServer.ListenAndServe() }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	s.publishLifecycle(context.Background(), "stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}

	cancel()
	if err := s.bus.Close(); err != nil {
		s.Logger.Error("closing event bus", err, nil)
	}
	s.engine.Wait()

	s.Logger.Info("hub stopped", nil)
	return runErr
}

type stateChangePayload struct {
	Service string          `json:"service"`
	From    registry.Status `json:"from"`
	To      registry.Status `json:"to"`
}

func (s *Service) publishStateChange(service string, from, to registry.Status) {
	payload, err := jsoncodec.Marshal(stateChangePayload{Service: service, From: from, To: to})
	if err != nil {
		return
	}
	if _, err := s.bus.Publish(context.Background(), eventbus.Event{
		Source:  sourceName,
		Type:    eventbus.TypeStateChange,
		Payload: payload,
	}); err != nil {
		s.Logger.Error("publishing state change", err, logging.LogFields{"service": service})
	}
}

type circuitAuditPayload struct {
	Destination string        `json:"destination"`
	State       breaker.State `json:"state"`
	Reason      string        `json:"reason"`
}

func (s *Service) publishCircuitAudit(destination string, state breaker.State, reason string) {
	payload, err := jsoncodec.Marshal(circuitAuditPayload{Destination: destination, State: state, Reason: reason})
	if err != nil {
		return
	}
	if _, err := s.bus.Publish(context.Background(), eventbus.Event{
		Source:  sourceName,
		Type:    eventbus.TypeAudit,
		Payload: payload,
	}); err != nil {
		s.Logger.Error("publishing circuit audit", err, logging.LogFields{"destination": destination})
	}
}

func (s *Service) publishLifecycle(ctx context.Context, phase string) {
	payload, err := jsoncodec.Marshal(map[string]string{"phase": phase})
	if err != nil {
		return
	}
	if _, err := s.bus.Publish(ctx, eventbus.Event{
		Source:  sourceName,
		Type:    eventbus.TypeLifecycle,
		Payload: payload,
	}); err != nil {
		s.Logger.Error("publishing lifecycle event", err, logging.LogFields{"phase": phase})
	}
}
