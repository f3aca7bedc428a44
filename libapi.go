package messagehub

import (
	hubpkg "github.com/dungeonforge/messagehub/internal/hub"
	breakerpkg "github.com/dungeonforge/messagehub/internal/hub/breaker"
	configpkg "github.com/dungeonforge/messagehub/internal/hub/config"
	deliverypkg "github.com/dungeonforge/messagehub/internal/hub/delivery"
	errspkg "github.com/dungeonforge/messagehub/internal/hub/errors"
	eventbuspkg "github.com/dungeonforge/messagehub/internal/hub/eventbus"
	healthpkg "github.com/dungeonforge/messagehub/internal/hub/health"
	idspkg "github.com/dungeonforge/messagehub/internal/hub/ids"
	loggingpkg "github.com/dungeonforge/messagehub/internal/hub/logging"
	registrypkg "github.com/dungeonforge/messagehub/internal/hub/registry"
	transportpkg "github.com/dungeonforge/messagehub/internal/hub/transport"
)

type (
	Config       = configpkg.Config
	Service      = hubpkg.Service
	Dependencies = hubpkg.Dependencies

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Point-to-point delivery
	Message       = deliverypkg.Message
	MessageStatus = deliverypkg.Status
	StatusInfo    = deliverypkg.StatusInfo
	FailureReason = deliverypkg.FailureReason

	// Event fabric
	Event        = eventbuspkg.Event
	EventType    = eventbuspkg.Type
	Subscription = eventbuspkg.Subscription

	// Service registry
	ServiceRecord      = registrypkg.Record
	ServiceStatus      = registrypkg.Status
	EndpointDescriptor = registrypkg.EndpointDescriptor
	HealthCheck        = registrypkg.HealthCheck

	// Circuit breakers
	CircuitState = breakerpkg.State
	CircuitInfo  = breakerpkg.Info

	// Aggregate health
	HealthSummary = healthpkg.Summary
	HealthDetails = healthpkg.Details

	// Event-bus transports
	Transport         = transportpkg.Transport
	TransportBuilder  = transportpkg.Builder
	TransportConfig   = transportpkg.Config
	TransportRegistry = transportpkg.Registry

	ConfigValidationError = errspkg.ConfigValidationError
	APIError              = errspkg.APIError
	ErrorCode             = errspkg.Code
)

const (
	StatusAccepted  = deliverypkg.StatusAccepted
	StatusPending   = deliverypkg.StatusPending
	StatusDelivered = deliverypkg.StatusDelivered
	StatusFailed    = deliverypkg.StatusFailed

	EventStateChange = eventbuspkg.TypeStateChange
	EventError       = eventbuspkg.TypeError
	EventLifecycle   = eventbuspkg.TypeLifecycle
	EventBusiness    = eventbuspkg.TypeBusiness
	EventAudit       = eventbuspkg.TypeAudit

	CircuitClosed   = breakerpkg.StateClosed
	CircuitOpen     = breakerpkg.StateOpen
	CircuitHalfOpen = breakerpkg.StateHalfOpen

	ServiceHealthy   = registrypkg.StatusHealthy
	ServiceDegraded  = registrypkg.StatusDegraded
	ServiceUnhealthy = registrypkg.StatusUnhealthy
)

var (
	New = hubpkg.New

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewID = idspkg.New

	EventTypes = eventbuspkg.Types

	// Transport registry hooks for embedding callers that bring their own
	// broker wiring.
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.DefaultRegistry.Register
	BuildTransport           = transportpkg.Build

	ErrServiceNotFound = errspkg.ErrServiceNotFound
	ErrMessageNotFound = errspkg.ErrMessageNotFound
	ErrCircuitOpen     = errspkg.ErrCircuitOpen
	ErrRateLimited     = errspkg.ErrRateLimited
)
