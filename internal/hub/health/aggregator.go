package health

import (
	"time"

	"github.com/dungeonforge/messagehub/internal/hub/breaker"
	"github.com/dungeonforge/messagehub/internal/hub/delivery"
	"github.com/dungeonforge/messagehub/internal/hub/metrics"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

// Bounds configure when the hub reports itself healthy: the delivery backlog
// and the failure rate must both stay inside them.
type Bounds struct {
	BacklogBound     int
	FailureRateBound float64
}

// Summary is the aggregate hub status.
type Summary struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Details is the per-component health view.
type Details struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	Delivery struct {
		Pending     int64   `json:"queue_depth"`
		Delivered   int64   `json:"delivered"`
		Failed      int64   `json:"failed"`
		FailureRate float64 `json:"failure_rate"`
	} `json:"delivery"`

	Registry struct {
		Services  int `json:"registered_services"`
		Healthy   int `json:"healthy"`
		Degraded  int `json:"degraded"`
		Unhealthy int `json:"unhealthy"`
	} `json:"registry"`

	EventBus struct {
		Subscribers int `json:"subscribers"`
	} `json:"event_bus"`

	Circuits []breaker.Info `json:"circuits"`
}

// SubscriberCounter is the slice of the event bus the aggregator reads.
type SubscriberCounter interface {
	SubscriberCount() int
}

// Aggregator reads registry, breaker, delivery, and bus state and derives
// the hub's own health. It never mutates any of them.
type Aggregator struct {
	bounds  Bounds
	reg     *registry.Store
	bank    *breaker.Bank
	engine  *delivery.Engine
	bus     SubscriberCounter
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAggregator wires an aggregator over the components it reports on.
func NewAggregator(bounds Bounds, reg *registry.Store, bank *breaker.Bank, engine *delivery.Engine, bus SubscriberCounter, m *metrics.Metrics) *Aggregator {
	if bounds.BacklogBound <= 0 {
		bounds.BacklogBound = 512
	}
	if bounds.FailureRateBound <= 0 {
		bounds.FailureRateBound = 0.5
	}
	return &Aggregator{
		bounds:  bounds,
		reg:     reg,
		bank:    bank,
		engine:  engine,
		bus:     bus,
		metrics: m,
		now:     time.Now,
	}
}

// Summary computes the aggregate status.
func (a *Aggregator) Summary() Summary {
	return Summary{Status: a.status(), Timestamp: a.now().UTC()}
}

// Details computes the full per-component view and refreshes the gauges that
// are sampled rather than event-driven.
func (a *Aggregator) Details() Details {
	var d Details
	d.Timestamp = a.now().UTC()
	d.Status = a.status()

	stats := a.engine.Stats()
	d.Delivery.Pending = stats.Pending
	d.Delivery.Delivered = stats.Delivered
	d.Delivery.Failed = stats.Failed
	d.Delivery.FailureRate = failureRate(stats)

	counts := a.reg.Count()
	d.Registry.Healthy = counts[registry.StatusHealthy]
	d.Registry.Degraded = counts[registry.StatusDegraded]
	d.Registry.Unhealthy = counts[registry.StatusUnhealthy]
	d.Registry.Services = d.Registry.Healthy + d.Registry.Degraded + d.Registry.Unhealthy

	d.EventBus.Subscribers = a.bus.SubscriberCount()
	d.Circuits = a.bank.Snapshot()

	a.refreshGauges(counts, d.Circuits)
	return d
}

func (a *Aggregator) status() string {
	stats := a.engine.Stats()
	if stats.Pending > int64(a.bounds.BacklogBound) {
		return "unhealthy"
	}
	if failureRate(stats) > a.bounds.FailureRateBound {
		return "degraded"
	}
	return "healthy"
}

func failureRate(stats delivery.Stats) float64 {
	total := stats.Delivered + stats.Failed
	if total == 0 {
		return 0
	}
	return float64(stats.Failed) / float64(total)
}

func (a *Aggregator) refreshGauges(counts map[registry.Status]int, circuits []breaker.Info) {
	if a.metrics == nil {
		return
	}
	for _, status := range []registry.Status{registry.StatusHealthy, registry.StatusDegraded, registry.StatusUnhealthy} {
		a.metrics.RegistryServices.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	for _, c := range circuits {
		var v float64
		switch c.State {
		case breaker.StateHalfOpen:
			v = 1
		case breaker.StateOpen:
			v = 2
		}
		a.metrics.CircuitState.WithLabelValues(c.Destination).Set(v)
	}
}
