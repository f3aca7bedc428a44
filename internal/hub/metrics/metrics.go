// Package metrics owns the hub's Prometheus collectors. Counters are
// label-per-type so /metrics exposes messages by status, attempts by result,
// and events by classification tag.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every hub collector. One instance is shared across
// components; Register is safe to call more than once.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	MessagesTotal    *prometheus.CounterVec
	AttemptsTotal    *prometheus.CounterVec
	MessagesPending  prometheus.Gauge
	EventsTotal      *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec
	RegistryServices *prometheus.GaugeVec
	Subscriptions    prometheus.Gauge
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messagehub",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "messagehub",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "messagehub",
		Name:      name,
		Help:      help,
	})
}

// New creates the collector set. A nil registerer falls back to the default
// one.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:       registerer,
		MessagesTotal:    newCounterVec("messages_total", "Messages by terminal or current status", []string{"status"}),
		AttemptsTotal:    newCounterVec("delivery_attempts_total", "Delivery attempts by result", []string{"result"}),
		MessagesPending:  newGauge("messages_pending", "Messages accepted and awaiting delivery"),
		EventsTotal:      newCounterVec("events_total", "Events published by classification tag", []string{"event_type"}),
		CircuitState:     newGaugeVec("circuit_state", "Circuit state per destination (0 closed, 1 half-open, 2 open)", []string{"destination"}),
		RegistryServices: newGaugeVec("registry_services", "Registered services by health status", []string{"status"}),
		Subscriptions:    newGauge("subscriptions", "Active event subscriptions"),
	}
}

// Register registers every collector. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.MessagesTotal,
		m.AttemptsTotal,
		m.MessagesPending,
		m.EventsTotal,
		m.CircuitState,
		m.RegistryServices,
		m.Subscriptions,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}
