// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package balancer spreads work across browser endpoints. It selects among
// healthy endpoints below their concurrency cap, queues callers when none
// qualifies, and quarantines endpoints that keep failing. With a connection
// factory every endpoint owns a pool and Acquire hands out pooled
// connections.
package balancer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tether-dev/tether/internal/endpoint"
	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/pool"
	"github.com/tether-dev/tether/internal/schedule"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

const (
	DefaultStrategy               = StrategyRoundRobin
	DefaultMaxConsecutiveFailures = 3
	DefaultFailureCooldown        = 30 * time.Second
	DefaultProbeInterval          = 30 * time.Second
	DefaultProbeTimeout           = 5 * time.Second
	DefaultMaxQueueSize           = 100
	DefaultQueueTimeout           = 30 * time.Second
	DefaultMaxConcurrent          = 10

	poolShutdownTimeout = 10 * time.Second
)

// Prober checks whether an endpoint can serve sessions.
type Prober interface {
	ProbeEndpoint(ctx context.Context, url string) error
}

// ConnFactory returns the pool factory for one endpoint.
type ConnFactory func(endpointURL string) pool.Factory

// Config tunes selection and failure handling. Zero values take defaults.
type Config struct {
	Strategy               Strategy
	MaxConsecutiveFailures int
	FailureCooldown        time.Duration
	ProbeInterval          time.Duration
	ProbeTimeout           time.Duration
	MaxQueueSize           int
	QueueTimeout           time.Duration
	MaxConcurrent          int
	Pool                   pool.Config
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.FailureCooldown == 0 {
		c.FailureCooldown = DefaultFailureCooldown
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.QueueTimeout == 0 {
		c.QueueTimeout = DefaultQueueTimeout
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Pool == (pool.Config{}) {
		c.Pool = pool.DefaultConfig()
	}
	c.Pool = c.Pool.WithDefaults()
	return c
}

// Validate checks bounds. The strategy name is checked by New.
func (c Config) Validate() error {
	ints := []struct {
		name string
		v    int
	}{
		{"max consecutive failures", c.MaxConsecutiveFailures},
		{"max queue size", c.MaxQueueSize},
		{"max concurrent", c.MaxConcurrent},
	}
	for _, f := range ints {
		if f.v < 1 {
			return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
				"balancer %s must be at least 1, got %d", f.name, f.v)
		}
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"failure cooldown", c.FailureCooldown},
		{"probe interval", c.ProbeInterval},
		{"probe timeout", c.ProbeTimeout},
		{"queue timeout", c.QueueTimeout},
	}
	for _, f := range durations {
		if f.v <= 0 {
			return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
				"balancer %s must be positive, got %s", f.name, f.v)
		}
	}
	return nil
}

// Deps are the balancer's collaborators; all are optional.
type Deps struct {
	Prober      Prober
	Bus         *events.Bus
	ConnFactory ConnFactory
	// IntN replaces the random source of the weighted-random strategy.
	IntN func(int) int
}

// Change is the payload of endpoint health events.
type Change struct {
	URL                 string `json:"url"`
	Reason              string `json:"reason,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

type member struct {
	ep        *endpoint.Endpoint
	pool      *pool.Pool
	reprobing bool
}

type request struct {
	ch   chan string
	done bool
}

// Balancer is safe for concurrent use.
type Balancer struct {
	cfg         Config
	prober      Prober
	bus         *events.Bus
	connFactory ConnFactory
	nowFunc     func() time.Time
	group       *schedule.Group

	mu      sync.Mutex
	members map[string]*member
	order   []string
	picker  picker
	queue   []*request
	started bool
	closed  bool
}

// New validates cfg and returns a balancer with no endpoints.
func New(cfg Config, deps Deps) (*Balancer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pk, err := newPicker(cfg.Strategy, deps.IntN)
	if err != nil {
		return nil, err
	}
	if err := cfg.Pool.Validate(); err != nil {
		return nil, err
	}

	return &Balancer{
		cfg:         cfg,
		prober:      deps.Prober,
		bus:         deps.Bus,
		connFactory: deps.ConnFactory,
		nowFunc:     time.Now,
		group:       schedule.NewGroup("balancer"),
		members:     make(map[string]*member),
		picker:      pk,
	}, nil
}

func (b *Balancer) Config() Config { return b.cfg }

// Start warms every endpoint pool and starts the periodic re-probe.
func (b *Balancer) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return tetherr.New(tetherr.CodeBalancerClosed, "balancer is shut down")
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	var pools []*pool.Pool
	for _, url := range b.order {
		if p := b.members[url].pool; p != nil {
			pools = append(pools, p)
		}
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Start(ctx); err != nil {
				slog.Warn("endpoint pool warm-up failed", "pool", p.Name(), "error", err)
			}
		}()
	}
	wg.Wait()

	if b.prober != nil {
		b.group.Every("probe", b.cfg.ProbeInterval, b.probeAll)
	}
	slog.Info("balancer started", "strategy", b.cfg.Strategy, "endpoints", len(pools))
	return nil
}

// AddEndpoint registers url. In-flight selections are unaffected.
func (b *Balancer) AddEndpoint(url string, weight int) error {
	ep, err := endpoint.New(url, weight)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return tetherr.New(tetherr.CodeBalancerClosed, "balancer is shut down")
	}
	if _, ok := b.members[url]; ok {
		return tetherr.New(tetherr.CodeBalancerEndpointExists, "endpoint already registered",
			tetherr.FieldEndpoint(transport.Redact(url)))
	}

	m := &member{ep: ep}
	if b.connFactory != nil {
		pc := b.cfg.Pool
		pc.Name = transport.Redact(url)
		m.pool, err = pool.New(pc, b.connFactory(url), b.bus)
		if err != nil {
			return err
		}
		if b.started {
			p := m.pool
			b.group.Go("warm", func(ctx context.Context) {
				if err := p.Start(ctx); err != nil {
					slog.Warn("endpoint pool warm-up failed", "pool", p.Name(), "error", err)
				}
			})
		}
	}

	b.members[url] = m
	b.order = append(b.order, url)
	slog.Info("endpoint added", "endpoint", transport.Redact(url), "weight", ep.Weight())
	b.serviceQueueLocked()
	return nil
}

// RemoveEndpoint unregisters url and shuts its pool down in the background.
func (b *Balancer) RemoveEndpoint(url string) error {
	b.mu.Lock()
	m, ok := b.members[url]
	if !ok {
		b.mu.Unlock()
		return b.unknown(url)
	}
	delete(b.members, url)
	for i, u := range b.order {
		if u == url {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if m.pool != nil {
		p := m.pool
		shutdown := func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
			defer cancel()
			if err := p.Shutdown(ctx); err != nil {
				slog.Warn("endpoint pool shutdown failed", "pool", p.Name(), "error", err)
			}
		}
		if !b.group.Go("remove", shutdown) {
			shutdown(context.Background())
		}
	}
	slog.Info("endpoint removed", "endpoint", transport.Redact(url))
	return nil
}

// Endpoints returns snapshots in insertion order.
func (b *Balancer) Endpoints() []health.Metrics {
	b.mu.Lock()
	members := b.membersLocked()
	b.mu.Unlock()

	now := b.nowFunc()
	out := make([]health.Metrics, 0, len(members))
	for _, m := range members {
		out = append(out, m.ep.Snapshot(now))
	}
	return out
}

// Pools returns the stats of every endpoint pool in insertion order.
func (b *Balancer) Pools() []pool.Stats {
	b.mu.Lock()
	members := b.membersLocked()
	b.mu.Unlock()

	var out []pool.Stats
	for _, m := range members {
		if m.pool != nil {
			out = append(out, m.pool.Stats())
		}
	}
	return out
}

// Pool returns the pool bound to url, if any.
func (b *Balancer) Pool(url string) (*pool.Pool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.members[url]
	if !ok || m.pool == nil {
		return nil, false
	}
	return m.pool, true
}

// GetNextEndpoint selects an endpoint and counts it active until
// ReleaseEndpoint. With nothing eligible the caller queues for at most
// QueueTimeout.
func (b *Balancer) GetNextEndpoint(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", tetherr.New(tetherr.CodeBalancerClosed, "balancer is shut down")
	}
	if ep := b.selectLocked(); ep != nil {
		b.mu.Unlock()
		return ep.URL(), nil
	}
	if len(b.queue) >= b.cfg.MaxQueueSize {
		b.mu.Unlock()
		return "", tetherr.New(tetherr.CodeBalancerQueueFull, "endpoint queue is full",
			tetherr.Field("max_queue_size", b.cfg.MaxQueueSize))
	}
	r := &request{ch: make(chan string, 1)}
	b.queue = append(b.queue, r)
	b.mu.Unlock()

	timer := time.NewTimer(b.cfg.QueueTimeout)
	defer timer.Stop()

	var cause error
	select {
	case url := <-r.ch:
		return b.resolved(url)
	case <-timer.C:
	case <-ctx.Done():
		cause = ctx.Err()
	}

	b.mu.Lock()
	if r.done {
		b.mu.Unlock()
		return b.resolved(<-r.ch)
	}
	r.done = true
	b.removeRequestLocked(r)
	b.mu.Unlock()

	if cause != nil {
		return "", tetherr.Wrap(cause, tetherr.CodeBalancerQueueCanceled, "endpoint wait canceled")
	}
	slog.Warn("no endpoint available before queue timeout", "timeout", b.cfg.QueueTimeout)
	return "", tetherr.New(tetherr.CodeBalancerQueueTimeout, "no endpoint available before deadline",
		tetherr.Field("timeout", b.cfg.QueueTimeout.String()))
}

func (b *Balancer) resolved(url string) (string, error) {
	if url == "" {
		return "", tetherr.New(tetherr.CodeBalancerClosed, "balancer is shut down")
	}
	return url, nil
}

// ReleaseEndpoint records the outcome of a selection and hands the freed
// capacity to the oldest queued caller.
func (b *Balancer) ReleaseEndpoint(url string, success bool, latency time.Duration) error {
	b.mu.Lock()
	m, ok := b.members[url]
	if !ok {
		b.mu.Unlock()
		return b.unknown(url)
	}

	now := b.nowFunc()
	transition := m.ep.End(success, latency, "request failed",
		b.cfg.MaxConsecutiveFailures, b.cfg.FailureCooldown, now)
	if transition == endpoint.Quarantined {
		b.scheduleReprobeLocked(url, m)
	}
	failures := m.ep.ConsecutiveFailures()
	b.serviceQueueLocked()
	b.mu.Unlock()

	switch transition {
	case endpoint.Recovered:
		slog.Info("endpoint recovered after cooldown", "endpoint", transport.Redact(url))
		b.bus.Emit(events.EndpointHealthy, transport.Redact(url), Change{
			URL:    transport.Redact(url),
			Reason: "request succeeded after cooldown",
		})
	case endpoint.Quarantined:
		slog.Warn("endpoint quarantined",
			"endpoint", transport.Redact(url),
			"consecutive_failures", failures,
			"cooldown", b.cfg.FailureCooldown)
		b.bus.Emit(events.EndpointUnhealthy, transport.Redact(url), Change{
			URL:                 transport.Redact(url),
			Reason:              "consecutive failures",
			ConsecutiveFailures: failures,
		})
	}
	return nil
}

// MarkEndpointHealthy clears failures and quarantine for url.
func (b *Balancer) MarkEndpointHealthy(url string) error {
	return b.ApplyCheck(url, true, "", b.nowFunc())
}

// MarkEndpointUnhealthy excludes url until a passing check.
func (b *Balancer) MarkEndpointUnhealthy(url, reason string) error {
	return b.ApplyCheck(url, false, reason, b.nowFunc())
}

// ApplyCheck records a health check that completed at checkedAt. The most
// recently completed check wins.
func (b *Balancer) ApplyCheck(url string, ok bool, reason string, checkedAt time.Time) error {
	b.mu.Lock()
	m, found := b.members[url]
	if !found {
		b.mu.Unlock()
		return b.unknown(url)
	}
	changed := m.ep.Apply(ok, reason, checkedAt)
	failures := m.ep.ConsecutiveFailures()
	if ok {
		b.serviceQueueLocked()
	}
	b.mu.Unlock()

	if !changed {
		return nil
	}
	change := Change{URL: transport.Redact(url), Reason: reason, ConsecutiveFailures: failures}
	if ok {
		slog.Info("endpoint healthy", "endpoint", change.URL)
		b.bus.Emit(events.EndpointHealthy, change.URL, change)
	} else {
		slog.Warn("endpoint unhealthy", "endpoint", change.URL, "reason", reason)
		b.bus.Emit(events.EndpointUnhealthy, change.URL, change)
	}
	return nil
}

// Acquire selects an endpoint and checks out a pooled connection from it.
// Endpoints whose pool cannot create a connection count a failure and the
// next endpoint is tried.
func (b *Balancer) Acquire(ctx context.Context) (*Lease, error) {
	if b.connFactory == nil {
		return nil, tetherr.New(tetherr.CodeConfigValidateInvalidValue,
			"balancer has no connection factory")
	}

	b.mu.Lock()
	attempts := max(len(b.members), 1)
	b.mu.Unlock()

	var lastErr error
	for range attempts {
		url, err := b.GetNextEndpoint(ctx)
		if err != nil {
			return nil, err
		}
		p, ok := b.Pool(url)
		if !ok {
			b.abandon(url)
			lastErr = b.unknown(url)
			continue
		}

		started := b.nowFunc()
		h, err := p.Acquire(ctx)
		if err == nil {
			return &Lease{url: url, handle: h, balancer: b, started: started}, nil
		}
		lastErr = err
		if !tetherr.HasCode(err, tetherr.CodePoolCreateFailure) {
			b.abandon(url)
			return nil, err
		}
		slog.Warn("endpoint failed to open a connection, trying next",
			"endpoint", transport.Redact(url), "error", err)
		_ = b.ReleaseEndpoint(url, false, 0)
	}
	return nil, lastErr
}

// Shutdown stops every timer, rejects queued callers and shuts down the
// endpoint pools. Later calls are no-ops.
func (b *Balancer) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, r := range b.queue {
		r.done = true
		r.ch <- ""
	}
	b.queue = nil
	members := b.membersLocked()
	b.mu.Unlock()

	b.group.Stop()

	var errs []error
	for _, m := range members {
		if m.pool == nil {
			continue
		}
		if err := m.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return tetherr.Join(errs...)
	}
	slog.Info("balancer shut down", "endpoints", len(members))
	return nil
}

// selectLocked applies the strategy to eligible endpoints and counts the
// pick active.
func (b *Balancer) selectLocked() *endpoint.Endpoint {
	now := b.nowFunc()
	candidates := make([]*endpoint.Endpoint, 0, len(b.order))
	for _, url := range b.order {
		ep := b.members[url].ep
		if ep.Available(now) && ep.Active() < int64(b.cfg.MaxConcurrent) {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	ep := b.picker.pick(candidates)
	ep.Begin()
	return ep
}

// serviceQueueLocked hands eligible endpoints to queued callers in FIFO
// order.
func (b *Balancer) serviceQueueLocked() {
	for len(b.queue) > 0 {
		r := b.queue[0]
		if r.done {
			b.queue = b.queue[1:]
			continue
		}
		ep := b.selectLocked()
		if ep == nil {
			return
		}
		b.queue = b.queue[1:]
		r.done = true
		r.ch <- ep.URL()
	}
}

func (b *Balancer) removeRequestLocked(r *request) {
	for i, cand := range b.queue {
		if cand == r {
			b.queue = append(b.queue[:i:i], b.queue[i+1:]...)
			return
		}
	}
}

func (b *Balancer) abandon(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.members[url]; ok {
		m.ep.Abandon()
		b.serviceQueueLocked()
	}
}

// scheduleReprobeLocked re-probes url once its quarantine elapses. Without
// a prober the endpoint simply becomes eligible again.
func (b *Balancer) scheduleReprobeLocked(url string, m *member) {
	if b.prober == nil || m.reprobing || b.closed {
		return
	}
	m.reprobing = true
	b.group.After("reprobe", b.cfg.FailureCooldown, func(ctx context.Context) {
		b.reprobe(ctx, url, m)
	})
}

func (b *Balancer) reprobe(ctx context.Context, url string, m *member) {
	ok := b.check(ctx, url)

	b.mu.Lock()
	defer b.mu.Unlock()
	m.reprobing = false
	if ok || b.members[url] != m {
		return
	}
	m.ep.Quarantine(b.nowFunc().Add(b.cfg.FailureCooldown), "")
	b.scheduleReprobeLocked(url, m)
	slog.Warn("endpoint still failing after cooldown", "endpoint", transport.Redact(url))
}

// probeAll checks every endpoint concurrently.
func (b *Balancer) probeAll(ctx context.Context) {
	b.mu.Lock()
	urls := append([]string(nil), b.order...)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.check(ctx, url)
		}()
	}
	wg.Wait()
}

// check probes url and applies the result at its completion time.
func (b *Balancer) check(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()

	err := b.prober.ProbeEndpoint(ctx, url)
	if err != nil && ctx.Err() == context.Canceled {
		return false
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	_ = b.ApplyCheck(url, err == nil, reason, b.nowFunc())
	return err == nil
}

func (b *Balancer) membersLocked() []*member {
	out := make([]*member, 0, len(b.order))
	for _, url := range b.order {
		out = append(out, b.members[url])
	}
	return out
}

func (b *Balancer) unknown(url string) error {
	return tetherr.New(tetherr.CodeBalancerEndpointUnknown, "endpoint is not registered",
		tetherr.FieldEndpoint(transport.Redact(url)))
}

// Lease is an endpoint selection plus a pooled connection from it.
type Lease struct {
	url      string
	handle   *pool.Handle
	balancer *Balancer
	started  time.Time
	once     sync.Once
}

func (l *Lease) URL() string { return l.url }

func (l *Lease) Conn() pool.Conn { return l.handle.Conn() }

func (l *Lease) Handle() *pool.Handle { return l.handle }

// Release returns the connection to its pool and records the outcome
// against the endpoint. Later calls are no-ops.
func (l *Lease) Release(success bool) {
	l.once.Do(func() {
		l.handle.Release()
		_ = l.balancer.ReleaseEndpoint(l.url, success, l.balancer.nowFunc().Sub(l.started))
	})
}
