// Package health drives the registry's health polling and aggregates the
// hub's own liveness view. The poller is the only writer of poll results;
// the aggregator only reads.
package health

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dungeonforge/messagehub/internal/hub/logging"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

// HTTPDoer is the slice of http.Client the poller needs; tests inject fakes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PollerConfig tunes the poll loop.
type PollerConfig struct {
	DefaultInterval time.Duration
	PollTimeout     time.Duration
	MaxConcurrent   int
	SilenceWindow   time.Duration
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 15 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = 2 * time.Minute
	}
	return c
}

// Poller probes each registered service's health endpoint on its declared
// interval, feeding outcomes into the registry. Concurrency is bounded and
// at most one poll per service is outstanding at a time.
type Poller struct {
	cfg    PollerConfig
	reg    *registry.Store
	client HTTPDoer
	logger logging.ServiceLogger

	sem *semaphore.Weighted
	now func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	nextPoll map[string]time.Time
}

// NewPoller wires a poller. A nil client falls back to an http.Client with
// the configured poll timeout.
func NewPoller(cfg PollerConfig, reg *registry.Store, client HTTPDoer, logger logging.ServiceLogger) *Poller {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.PollTimeout}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Poller{
		cfg:      cfg,
		reg:      reg,
		client:   client,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
		nextPoll: make(map[string]time.Time),
	}
}

// Run drives the poll scheduler until ctx is cancelled. The tick resolution
// is one second; per-service intervals are honoured on top of it.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	reapEvery := p.cfg.SilenceWindow / 2
	if reapEvery < time.Second {
		reapEvery = time.Second
	}
	lastReap := p.now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
			if now := p.now(); now.Sub(lastReap) >= reapEvery {
				lastReap = now
				if removed := p.reg.ReapStale(now, p.cfg.SilenceWindow); len(removed) > 0 {
					p.logger.Info("reaped stale services", logging.LogFields{"services": strings.Join(removed, ",")})
				}
			}
		}
	}
}

// tick launches polls for every service that is due and not already being
// polled.
func (p *Poller) tick(ctx context.Context) {
	now := p.now()
	for _, rec := range p.reg.List() {
		p.mu.Lock()
		if _, busy := p.inFlight[rec.Service]; busy {
			p.mu.Unlock()
			continue
		}
		if due, ok := p.nextPoll[rec.Service]; ok && now.Before(due) {
			p.mu.Unlock()
			continue
		}
		p.inFlight[rec.Service] = struct{}{}
		p.mu.Unlock()

		rec := rec
		go p.pollOne(ctx, rec)
	}
}

func (p *Poller) pollOne(ctx context.Context, rec registry.Record) {
	defer func() {
		interval := rec.HealthCheck.Interval
		if interval <= 0 {
			interval = p.cfg.DefaultInterval
		}
		p.mu.Lock()
		delete(p.inFlight, rec.Service)
		p.nextPoll[rec.Service] = p.now().Add(interval)
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	success := p.probe(ctx, rec)
	if err := p.reg.PollResult(rec.Service, success, p.now()); err != nil {
		p.logger.Debug("poll result dropped", logging.LogFields{"service": rec.Service, "error": err.Error()})
	}
}

func (p *Poller) probe(ctx context.Context, rec registry.Record) bool {
	url := strings.TrimSuffix(rec.Address, "/") + rec.HealthCheck.Endpoint
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
