// Package registry tracks registered services, their declared endpoints, and
// their health-check-derived status. Status is mutated only through
// PollResult, which the health poller drives; everything else reads.
package registry

import (
	"fmt"
	"sync"
	"time"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
)

// EndpointDescriptor declares one path a service serves and the methods it
// accepts there.
type EndpointDescriptor struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods,omitempty"`
}

// HealthCheck describes how the poller probes a service.
type HealthCheck struct {
	Endpoint string        `json:"endpoint"`
	Interval time.Duration `json:"interval"`
}

// Record is one registered service. Address is the base URL used both for
// message delivery and health polls.
type Record struct {
	Service      string               `json:"service"`
	Version      string               `json:"version,omitempty"`
	Address      string               `json:"address"`
	Endpoints    []EndpointDescriptor `json:"endpoints"`
	HealthCheck  HealthCheck          `json:"health_check"`
	Status       Status               `json:"status"`
	LastSeen     time.Time            `json:"last_seen"`
	RegisteredAt time.Time            `json:"registered_at"`
}

// ChangeSink receives status transitions so they can be re-published as
// state_change events without the registry importing the event bus.
type ChangeSink func(service string, from, to Status)

// DeregisterHook runs after a record is removed, letting the event bus drop
// the service's subscriptions.
type DeregisterHook func(service string)

type entry struct {
	mu       sync.Mutex
	rec      Record
	failures int
	lastOK   time.Time
}

// Store is the in-memory service registry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	logger       logging.ServiceLogger
	changeSink   ChangeSink
	onDeregister DeregisterHook
}

// NewStore creates an empty registry.
func NewStore(logger logging.ServiceLogger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetChangeSink installs the status-transition sink. Called once during hub
// wiring, before traffic.
func (s *Store) SetChangeSink(sink ChangeSink) { s.changeSink = sink }

// SetDeregisterHook installs the deregistration hook.
func (s *Store) SetDeregisterHook(hook DeregisterHook) { s.onDeregister = hook }

// Register upserts a record keyed by service name. Registration is
// idempotent; re-registering refreshes the declared shape and resets the
// record to healthy.
func (s *Store) Register(rec Record) error {
	if rec.Service == "" {
		return fmt.Errorf("%w: service name is empty", hberrors.ErrInvalidRegistration)
	}
	if len(rec.Endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints declared", hberrors.ErrInvalidRegistration)
	}
	if rec.HealthCheck.Endpoint == "" {
		return fmt.Errorf("%w: health check endpoint is empty", hberrors.ErrInvalidRegistration)
	}
	if rec.HealthCheck.Interval < 0 {
		return fmt.Errorf("%w: negative health check interval", hberrors.ErrInvalidRegistration)
	}

	now := time.Now()
	rec.Status = StatusHealthy
	rec.LastSeen = now

	s.mu.Lock()
	e, existed := s.entries[rec.Service]
	if !existed {
		rec.RegisteredAt = now
		s.entries[rec.Service] = &entry{rec: rec, lastOK: now}
		s.mu.Unlock()
		s.logger.Info("service registered", logging.LogFields{"service": rec.Service, "version": rec.Version})
		return nil
	}
	s.mu.Unlock()

	e.mu.Lock()
	rec.RegisteredAt = e.rec.RegisteredAt
	from := e.rec.Status
	e.rec = rec
	e.failures = 0
	e.lastOK = now
	e.mu.Unlock()

	if from != StatusHealthy {
		s.emitChange(rec.Service, from, StatusHealthy)
	}
	s.logger.Info("service re-registered", logging.LogFields{"service": rec.Service, "version": rec.Version})
	return nil
}

// Lookup returns a copy of the record for name.
func (s *Store) Lookup(name string) (Record, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", hberrors.ErrServiceNotFound, name)
	}

	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	return rec, nil
}

// List returns copies of all records.
func (s *Store) List() []Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out
}

// Deregister removes a record and fires the deregistration hook.
func (s *Store) Deregister(name string) error {
	s.mu.Lock()
	_, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", hberrors.ErrServiceNotFound, name)
	}
	if s.onDeregister != nil {
		s.onDeregister(name)
	}
	s.logger.Info("service deregistered", logging.LogFields{"service": name})
	return nil
}

// PollResult records a health-poll outcome. Called only by the health
// poller. A success resets the failure counter and the status to healthy
// immediately; failures walk the status down the ladder.
func (s *Store) PollResult(name string, success bool, ts time.Time) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", hberrors.ErrServiceNotFound, name)
	}

	e.mu.Lock()
	from := e.rec.Status
	if success {
		e.failures = 0
		e.lastOK = ts
		e.rec.LastSeen = ts
	} else {
		e.failures++
	}
	to := nextStatus(e.failures)
	e.rec.Status = to
	e.mu.Unlock()

	if from != to {
		s.logger.Info("service status changed", logging.LogFields{
			"service": name, "from": string(from), "to": string(to),
		})
		s.emitChange(name, from, to)
	}
	return nil
}

// ReapStale walks records without a successful poll inside the silence
// window: first they are forced unhealthy, and past twice the window they are
// dropped entirely. Returns the names of removed services.
func (s *Store) ReapStale(now time.Time, silence time.Duration) []string {
	if silence <= 0 {
		return nil
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()

	var removed []string
	for _, name := range names {
		s.mu.RLock()
		e, ok := s.entries[name]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		idle := now.Sub(e.lastOK)
		from := e.rec.Status
		drop := idle > 2*silence
		if !drop && idle > silence && from != StatusUnhealthy {
			e.rec.Status = StatusUnhealthy
		}
		to := e.rec.Status
		e.mu.Unlock()

		if drop {
			if err := s.Deregister(name); err == nil {
				removed = append(removed, name)
			}
			continue
		}
		if from != to {
			s.emitChange(name, from, to)
		}
	}
	return removed
}

// Count returns the number of records per status.
func (s *Store) Count() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, rec := range s.List() {
		counts[rec.Status]++
	}
	return counts
}

func (s *Store) emitChange(service string, from, to Status) {
	if s.changeSink != nil {
		s.changeSink(service, from, to)
	}
}
