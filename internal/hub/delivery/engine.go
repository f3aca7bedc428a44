// Package delivery implements the point-to-point delivery engine: admission,
// per-destination priority queues, circuit-gated attempts, and retries with
// full-jitter exponential backoff bounded by attempt count and TTL.
package delivery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dungeonforge/messagehub/internal/hub/breaker"
	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/ids"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
	"github.com/dungeonforge/messagehub/internal/hub/metrics"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

// Config contains the runtime settings the engine relies on to orchestrate
// attempts, retries, and retention.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxPending bounds accepted-but-undelivered messages; past it Send
	// returns ErrRateLimited.
	MaxPending  int
	Concurrency int
	StatusGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 1024
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	if c.StatusGrace <= 0 {
		c.StatusGrace = 5 * time.Minute
	}
	return c
}

// Stats is a point-in-time view of the engine's counters for the health
// aggregator.
type Stats struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

type destState struct {
	mu     sync.Mutex
	q      *destQueue
	notify chan struct{}
	once   sync.Once
}

// Engine accepts messages and drives them to their destinations.
type Engine struct {
	cfg       Config
	reg       *registry.Store
	bank      *breaker.Bank
	transport Transport
	store     *statusStore
	metrics   *metrics.Metrics
	logger    logging.ServiceLogger

	sem *semaphore.Weighted
	now func() time.Time

	randMu sync.Mutex
	rnd    *rand.Rand

	// mu guards the queues map only; each destState carries its own queue
	// lock so destinations never contend on each other's pushes and pops.
	mu     sync.Mutex
	queues map[string]*destState

	pending   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	runCtx context.Context
	wg     sync.WaitGroup
}

// NewEngine wires the engine. Transport is injected so tests run without a
// network.
func NewEngine(cfg Config, reg *registry.Store, bank *breaker.Bank, tr Transport, m *metrics.Metrics, logger logging.ServiceLogger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		cfg:       cfg,
		reg:       reg,
		bank:      bank,
		transport: tr,
		store:     newStatusStore(cfg.StatusGrace),
		metrics:   m,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		queues:    make(map[string]*destState),
	}
}

// Start launches the purge sweeper and binds the engine to ctx; workers exit
// when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		interval := e.cfg.StatusGrace / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := e.store.purge(e.now()); n > 0 {
					e.logger.Debug("purged message records", logging.LogFields{"count": n})
				}
			}
		}
	}()
}

// Wait blocks until every worker observed cancellation.
func (e *Engine) Wait() { e.wg.Wait() }

// Send validates and admits a message. It returns promptly: unknown
// destinations and open circuits produce a terminal failed status in the
// returned info, malformed input and backpressure return an error, and
// everything else is queued for asynchronous delivery.
func (e *Engine) Send(ctx context.Context, msg *Message) (StatusInfo, error) {
	if msg == nil {
		return StatusInfo{}, fmt.Errorf("%w: nil message", hberrors.ErrInvalidMessage)
	}
	if msg.Destination == "" {
		return StatusInfo{}, fmt.Errorf("%w: destination is empty", hberrors.ErrInvalidMessage)
	}
	if msg.TTL <= 0 {
		return StatusInfo{}, fmt.Errorf("%w: ttl must be positive", hberrors.ErrInvalidMessage)
	}
	if msg.ID == "" {
		msg.ID = ids.New()
	}
	now := e.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	if _, err := e.reg.Lookup(msg.Destination); err != nil {
		e.store.create(msg, StatusFailed)
		e.store.finish(msg.ID, StatusFailed, ReasonServiceUnavailable)
		e.countTerminal()
		e.logger.Info("message rejected, destination unknown", logging.LogFields{
			"message_id": msg.ID, "destination": msg.Destination,
		})
		return StatusInfo{ID: msg.ID, Status: StatusFailed, Reason: ReasonServiceUnavailable}, nil
	}

	if e.bank.Rejects(msg.Destination, now) {
		e.store.create(msg, StatusFailed)
		e.store.finish(msg.ID, StatusFailed, ReasonCircuitOpen)
		e.countTerminal()
		return StatusInfo{ID: msg.ID, Status: StatusFailed, Reason: ReasonCircuitOpen}, nil
	}

	if e.pending.Load() >= int64(e.cfg.MaxPending) {
		return StatusInfo{}, hberrors.ErrRateLimited
	}

	e.store.create(msg, StatusAccepted)
	e.pending.Add(1)
	if e.metrics != nil {
		e.metrics.MessagesTotal.WithLabelValues(string(StatusAccepted)).Inc()
		e.metrics.MessagesPending.Set(float64(e.pending.Load()))
	}
	e.enqueue(msg)

	return StatusInfo{ID: msg.ID, Status: StatusAccepted}, nil
}

// Status returns the delivery state for id, or ErrMessageNotFound for
// unknown/purged ids.
func (e *Engine) Status(id string) (StatusInfo, error) {
	return e.store.get(id)
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Pending:   e.pending.Load(),
		Delivered: e.delivered.Load(),
		Failed:    e.failed.Load(),
	}
}

func (e *Engine) enqueue(msg *Message) {
	e.mu.Lock()
	ds, ok := e.queues[msg.Destination]
	if !ok {
		ds = &destState{q: newDestQueue(), notify: make(chan struct{}, 1)}
		e.queues[msg.Destination] = ds
	}
	e.mu.Unlock()

	ds.mu.Lock()
	ds.q.push(msg)
	ds.mu.Unlock()

	ds.once.Do(func() {
		e.wg.Add(1)
		go e.runWorker(msg.Destination, ds)
	})

	select {
	case ds.notify <- struct{}{}:
	default:
	}
}

// runWorker drains one destination's queue, one in-flight attempt at a time,
// so priority ordering is honoured per destination while destinations
// proceed fully in parallel.
func (e *Engine) runWorker(dest string, ds *destState) {
	defer e.wg.Done()

	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		ds.mu.Lock()
		msg := ds.q.pop()
		ds.mu.Unlock()

		if msg == nil {
			select {
			case <-ctx.Done():
				return
			case <-ds.notify:
				continue
			}
		}

		e.process(ctx, dest, msg)
	}
}

func (e *Engine) process(ctx context.Context, dest string, msg *Message) {
	now := e.now()

	if msg.Expired(now) {
		e.finish(msg, ReasonDeliveryFailed)
		e.logger.Info("message expired before attempt", logging.LogFields{"message_id": msg.ID})
		return
	}

	disposition := e.bank.Allow(dest, now)
	if disposition == breaker.Rejected {
		e.finish(msg, ReasonCircuitOpen)
		return
	}

	target, err := e.reg.Lookup(dest)
	if err != nil {
		// The destination disappeared between admission and attempt. No
		// network attempt happened, so a granted trial slot must be handed
		// back or the circuit stays wedged in HALF_OPEN.
		if disposition == breaker.Trial {
			e.bank.CancelTrial(dest)
		}
		e.finish(msg, ReasonServiceUnavailable)
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		if disposition == breaker.Trial {
			e.bank.CancelTrial(dest)
		}
		return
	}
	attempts := e.store.recordAttempt(msg.ID, now)
	err = e.transport.Deliver(ctx, target, msg)
	e.sem.Release(1)

	if e.metrics != nil {
		result := "success"
		if err != nil {
			result = "failure"
		}
		e.metrics.AttemptsTotal.WithLabelValues(result).Inc()
	}

	if err == nil {
		e.bank.ReportSuccess(dest, e.now())
		e.store.setStatus(msg.ID, StatusDelivered)
		e.delivered.Add(1)
		e.decPending()
		if e.metrics != nil {
			e.metrics.MessagesTotal.WithLabelValues(string(StatusDelivered)).Inc()
		}
		e.logger.Info("message delivered", logging.LogFields{
			"message_id": msg.ID, "destination": dest, "attempt": attempts,
		})
		return
	}

	e.bank.ReportFailure(dest, e.now())
	e.logger.Info("delivery attempt failed", logging.LogFields{
		"message_id": msg.ID, "destination": dest, "attempt": attempts, "error": err.Error(),
	})

	if attempts >= e.cfg.MaxAttempts {
		e.finish(msg, ReasonDeliveryFailed)
		return
	}

	backoff := e.computeBackoff(attempts)
	time.AfterFunc(backoff, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.enqueue(msg)
	})
}

// finish marks a terminal failure and releases the pending slot.
func (e *Engine) finish(msg *Message, reason FailureReason) {
	e.store.finish(msg.ID, StatusFailed, reason)
	e.countTerminal()
	e.decPending()
}

func (e *Engine) countTerminal() {
	e.failed.Add(1)
	if e.metrics != nil {
		e.metrics.MessagesTotal.WithLabelValues(string(StatusFailed)).Inc()
	}
}

func (e *Engine) decPending() {
	e.pending.Add(-1)
	if e.metrics != nil {
		e.metrics.MessagesPending.Set(float64(e.pending.Load()))
	}
}

func (e *Engine) computeBackoff(attempt int) time.Duration {
	raw := time.Duration(float64(e.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if raw > e.cfg.MaxBackoff || raw <= 0 {
		raw = e.cfg.MaxBackoff
	}
	return e.fullJitter(raw)
}

func (e *Engine) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return time.Duration(e.rnd.Int63n(int64(max) + 1))
}
