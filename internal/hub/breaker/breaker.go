// Package breaker implements the per-destination circuit breakers gating
// delivery attempts. One circuit exists per destination service, lazily
// created on the first attempt; destinations never contend on each other's
// locks.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/dungeonforge/messagehub/internal/hub/logging"
)

// State of a circuit.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ValidState reports whether s names a circuit state, for the admin
// override endpoint.
func ValidState(s State) bool {
	switch s {
	case StateClosed, StateOpen, StateHalfOpen:
		return true
	}
	return false
}

// Disposition is the outcome of asking a circuit whether an attempt may
// proceed.
type Disposition int

const (
	// Proceed: the circuit is closed, attempt normally.
	Proceed Disposition = iota
	// Trial: the reset timeout elapsed; this attempt is the single probe
	// permitted in HALF_OPEN.
	Trial
	// Rejected: short-circuit, no network attempt may be made.
	Rejected
)

// Info is a read-only snapshot of one circuit for the API.
type Info struct {
	Destination  string    `json:"destination"`
	State        State     `json:"state"`
	Failures     int       `json:"failures"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	ForcedReason string    `json:"forced_reason,omitempty"`
}

// AuditSink receives administrative overrides so they can be re-published as
// audit events.
type AuditSink func(destination string, state State, reason string)

type circuit struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	trialInFlight bool
	forcedReason  string
}

// Bank owns every circuit. Config is shared; state is per-destination.
type Bank struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu       sync.RWMutex
	circuits map[string]*circuit

	logger logging.ServiceLogger
	audit  AuditSink
}

// NewBank creates a bank with the supplied thresholds. Zero values fall back
// to the defaults (threshold 5, reset timeout 60s).
func NewBank(failureThreshold int, resetTimeout time.Duration, logger logging.ServiceLogger) *Bank {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bank{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		circuits:         make(map[string]*circuit),
		logger:           logger,
	}
}

// SetAuditSink installs the override audit sink. Called once during wiring.
func (b *Bank) SetAuditSink(sink AuditSink) { b.audit = sink }

func (b *Bank) get(dest string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[dest]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[dest]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	b.circuits[dest] = c
	return c
}

// Allow reports whether an attempt to dest may proceed at time now. An OPEN
// circuit whose reset timeout elapsed admits exactly one trial and moves to
// HALF_OPEN; concurrent callers are rejected until the trial resolves.
func (b *Bank) Allow(dest string, now time.Time) Disposition {
	c := b.get(dest)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return Proceed
	case StateOpen:
		if now.Sub(c.openedAt) < b.resetTimeout {
			return Rejected
		}
		c.state = StateHalfOpen
		c.trialInFlight = true
		c.forcedReason = ""
		b.logger.Info("circuit half-open, trial permitted", logging.LogFields{"destination": dest})
		return Trial
	case StateHalfOpen:
		if c.trialInFlight {
			return Rejected
		}
		c.trialInFlight = true
		return Trial
	}
	return Rejected
}

// ReportSuccess records a successful attempt. A trial success closes the
// circuit and clears the failure counter.
func (b *Bank) ReportSuccess(dest string, now time.Time) {
	c := b.get(dest)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateHalfOpen:
		c.state = StateClosed
		c.failures = 0
		c.trialInFlight = false
		c.forcedReason = ""
		b.logger.Info("circuit closed after trial success", logging.LogFields{"destination": dest})
	case StateClosed:
		c.failures = 0
	}
}

// ReportFailure records a failed attempt. In CLOSED it counts toward the
// threshold; a trial failure re-opens immediately with the counter unchanged
// and the open timestamp refreshed.
func (b *Bank) ReportFailure(dest string, now time.Time) {
	c := b.get(dest)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailure = now

	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= b.failureThreshold {
			c.state = StateOpen
			c.openedAt = now
			c.forcedReason = ""
			b.logger.Info("circuit opened", logging.LogFields{
				"destination": dest, "failures": c.failures,
			})
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.trialInFlight = false
		b.logger.Info("circuit re-opened after trial failure", logging.LogFields{"destination": dest})
	case StateOpen:
		// A late failure report from an attempt that raced the trip.
	}
}

// SetState forces a circuit into the supplied state. The override is audited;
// automatic transitions resume on the next natural event.
func (b *Bank) SetState(dest string, state State, reason string, now time.Time) {
	c := b.get(dest)
	c.mu.Lock()
	c.state = state
	c.trialInFlight = false
	c.forcedReason = reason
	switch state {
	case StateOpen:
		c.openedAt = now
	case StateClosed:
		c.failures = 0
	}
	c.mu.Unlock()

	b.logger.Info("circuit state forced", logging.LogFields{
		"destination": dest, "state": string(state), "reason": reason,
	})
	if b.audit != nil {
		b.audit(dest, state, reason)
	}
}

// CancelTrial releases the HALF_OPEN trial slot when the attempt it was
// granted for never reached the network. The circuit stays HALF_OPEN with
// the slot free, so the next attempt is offered the trial instead of being
// rejected until another reset timeout elapses.
func (b *Bank) CancelTrial(dest string) {
	c := b.get(dest)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateHalfOpen && c.trialInFlight {
		c.trialInFlight = false
		b.logger.Debug("circuit trial cancelled", logging.LogFields{"destination": dest})
	}
}

// Rejects reports whether an attempt at time now would be short-circuited,
// without consuming the HALF_OPEN trial slot. The delivery engine uses this
// at admission so a send against an open circuit fails immediately with no
// attempt recorded.
func (b *Bank) Rejects(dest string, now time.Time) bool {
	c := b.get(dest)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		return now.Sub(c.openedAt) < b.resetTimeout
	case StateHalfOpen:
		return c.trialInFlight
	}
	return false
}

// State returns the current state for dest, creating the circuit if needed.
func (b *Bank) State(dest string) State {
	c := b.get(dest)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a stable-ordered view of every circuit.
func (b *Bank) Snapshot() []Info {
	b.mu.RLock()
	names := make([]string, 0, len(b.circuits))
	for name := range b.circuits {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, name := range names {
		c := b.get(name)
		c.mu.Lock()
		out = append(out, Info{
			Destination:  name,
			State:        c.state,
			Failures:     c.failures,
			LastFailure:  c.lastFailure,
			OpenedAt:     c.openedAt,
			ForcedReason: c.forcedReason,
		})
		c.mu.Unlock()
	}
	return out
}
