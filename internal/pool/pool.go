// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package pool keeps a bounded set of healing connections against one
// endpoint. Acquire hands out an idle connection, creates one while below
// MaxTotal, or queues the caller until a connection is released. Waiters are
// served strictly in arrival order.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/schedule"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

const (
	DefaultMinIdle             = 1
	DefaultMaxTotal            = 5
	DefaultIdleTimeout         = 5 * time.Minute
	DefaultMaxLifetime         = 30 * time.Minute
	DefaultAcquireTimeout      = 30 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultMaintenanceInterval = 10 * time.Second

	pingTimeout = 5 * time.Second
)

// Conn is the part of a healing connection the pool manages.
type Conn interface {
	ID() string
	IsHealthy() bool
	Ping(ctx context.Context) error
	Close() error
}

// Factory opens a connected Conn.
type Factory func(ctx context.Context) (Conn, error)

// Config bounds a pool. MinIdle is taken as given; zero durations and a zero
// MaxTotal take the defaults.
type Config struct {
	Name                string
	MinIdle             int
	MaxTotal            int
	IdleTimeout         time.Duration
	MaxLifetime         time.Duration
	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration
	MaintenanceInterval time.Duration
}

// DefaultConfig returns the stock pool bounds.
func DefaultConfig() Config {
	return Config{
		MinIdle:             DefaultMinIdle,
		MaxTotal:            DefaultMaxTotal,
		IdleTimeout:         DefaultIdleTimeout,
		MaxLifetime:         DefaultMaxLifetime,
		AcquireTimeout:      DefaultAcquireTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
		MaintenanceInterval: DefaultMaintenanceInterval,
	}
}

// WithDefaults fills zero durations and a zero MaxTotal.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxTotal == 0 {
		c.MaxTotal = d.MaxTotal
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = d.MaxLifetime
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	return c
}

// Validate checks the pool bounds.
func (c Config) Validate() error {
	if c.MaxTotal < 1 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"pool max total must be at least 1, got %d", c.MaxTotal)
	}
	if c.MinIdle < 0 || c.MinIdle > c.MaxTotal {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"pool min idle must be between 0 and max total %d, got %d", c.MaxTotal, c.MinIdle)
	}

	for name, d := range map[string]time.Duration{
		"idle timeout":          c.IdleTimeout,
		"max lifetime":          c.MaxLifetime,
		"acquire timeout":       c.AcquireTimeout,
		"health check interval": c.HealthCheckInterval,
		"maintenance interval":  c.MaintenanceInterval,
	} {
		if d <= 0 {
			return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
				"pool %s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Idle      int    `json:"idle"`
	InUse     int    `json:"in_use"`
	Pending   int    `json:"pending"`
	Creating  int    `json:"creating"`
	Acquires  int64  `json:"acquires"`
	Releases  int64  `json:"releases"`
	Errors    int64  `json:"errors"`
	Created   int64  `json:"created"`
	Destroyed int64  `json:"destroyed"`
	Timeouts  int64  `json:"timeouts"`
}

// Handle is one checkout of a pooled connection. Releasing it twice is a
// no-op.
type Handle struct {
	slotID   string
	conn     Conn
	pool     *Pool
	released atomic.Bool
}

// ID identifies the pooled slot.
func (h *Handle) ID() string { return h.slotID }

// Conn returns the checked-out connection.
func (h *Handle) Conn() Conn { return h.conn }

// Release returns the connection to its pool.
func (h *Handle) Release() {
	_ = h.pool.Release(h)
}

type slot struct {
	id         string
	conn       Conn
	createdAt  time.Time
	lastUsedAt time.Time
	inUse      bool
}

type result struct {
	handle *Handle
	err    error
}

type waiter struct {
	ch       chan result
	enqueued time.Time
	done     bool
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg     Config
	factory Factory
	bus     *events.Bus
	nowFunc func() time.Time
	group   *schedule.Group

	mu       sync.Mutex
	slots    map[string]*slot
	idle     []*slot
	waiters  []*waiter
	creating int
	closing  int
	started  bool
	closed   bool

	acquires  int64
	releases  int64
	errors    int64
	created   int64
	destroyed int64
	timeouts  int64
}

// New validates cfg and returns a pool that has not been warmed yet.
func New(cfg Config, factory Factory, bus *events.Bus) (*Pool, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, tetherr.New(tetherr.CodeConfigValidateInvalidValue, "pool factory is required")
	}

	return &Pool{
		cfg:     cfg,
		factory: factory,
		bus:     bus,
		nowFunc: time.Now,
		group:   schedule.NewGroup("pool"),
		slots:   make(map[string]*slot),
	}, nil
}

func (p *Pool) Name() string { return p.cfg.Name }

func (p *Pool) Config() Config { return p.cfg }

// Start creates MinIdle connections concurrently and starts the maintenance
// sweep. Warm-up failures are returned joined; the sweep keeps topping up.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.closedErr()
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	n := min(p.cfg.MinIdle, p.cfg.MaxTotal-p.totalLocked())
	p.creating += max(n, 0)
	p.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.newSlot(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			p.mu.Lock()
			p.handOffLocked(s)
			p.mu.Unlock()
		}()
	}
	wg.Wait()

	p.group.Every("sweep", p.cfg.MaintenanceInterval, func(context.Context) { p.sweep() })

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		slog.Warn("pool warm-up incomplete", "pool", p.cfg.Name, "failed", len(failed), "wanted", n)
		return tetherr.Join(failed...)
	}
	slog.Info("pool started", "pool", p.cfg.Name, "idle", n, "max_total", p.cfg.MaxTotal)
	return nil
}

// Acquire returns a healthy connection, waiting at most AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, p.closedErr()
		}
		h, suspect, stale := p.takeIdleLocked(p.nowFunc())
		if h != nil {
			p.mu.Unlock()
			p.closeRetired(stale)
			if !suspect || p.revalidate(ctx, h) {
				return h, nil
			}
			p.mu.Lock()
			continue
		}
		if len(stale) == 0 {
			break
		}
		p.mu.Unlock()
		p.closeRetired(stale)
		p.mu.Lock()
	}
	now := p.nowFunc()

	if p.totalLocked() < p.cfg.MaxTotal {
		p.creating++
		p.mu.Unlock()

		s, err := p.newSlot(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.acquires++
		h := p.handleLocked(s)
		p.mu.Unlock()
		return h, nil
	}

	w := &waiter{ch: make(chan result, 1), enqueued: now}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case r := <-w.ch:
		return r.handle, r.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if w.done {
		p.mu.Unlock()
		r := <-w.ch
		return r.handle, r.err
	}
	w.done = true
	p.removeWaiterLocked(w)
	p.errors++
	timedOut := ctx.Err() == context.DeadlineExceeded
	if timedOut {
		p.timeouts++
	}
	stats := p.statsLocked()
	p.mu.Unlock()

	if !timedOut {
		return nil, tetherr.Wrap(ctx.Err(), tetherr.CodePoolAcquireCancel, "acquire canceled",
			tetherr.FieldEndpoint(p.cfg.Name))
	}
	slog.Warn("pool exhausted", "pool", p.cfg.Name, "waited", p.nowFunc().Sub(w.enqueued), "pending", stats.Pending)
	p.bus.Emit(events.PoolExhausted, p.cfg.Name, stats)
	return nil, tetherr.New(tetherr.CodePoolAcquireTimeout, "no connection available before deadline",
		tetherr.FieldEndpoint(p.cfg.Name),
		tetherr.Field("timeout", p.cfg.AcquireTimeout.String()),
		tetherr.Field("max_total", p.cfg.MaxTotal),
	)
}

// Release returns a checked-out connection. A healthy connection goes to the
// oldest waiter or back to idle; an unhealthy or expired one is destroyed and
// replaced when callers are waiting.
func (p *Pool) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	if h.pool != p {
		return tetherr.New(tetherr.CodePoolHandleNotFound, "handle belongs to another pool",
			tetherr.FieldEndpoint(p.cfg.Name))
	}
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	s, ok := p.slots[h.slotID]
	if !ok || !s.inUse || s.conn != h.conn {
		p.mu.Unlock()
		return nil
	}
	p.releases++

	now := p.nowFunc()
	if p.expiredLocked(s, now) || !s.conn.IsHealthy() {
		p.retireLocked(s)
		p.mu.Unlock()
		p.closeRetired([]Conn{s.conn})
		return nil
	}

	s.lastUsedAt = now
	p.handOffLocked(s)
	p.mu.Unlock()
	return nil
}

// DrainIdle destroys every idle connection and returns how many were closed.
// In-use connections are untouched.
func (p *Pool) DrainIdle() int {
	p.mu.Lock()
	drained := make([]Conn, 0, len(p.idle))
	for _, s := range p.idle {
		p.retireLocked(s)
		drained = append(drained, s.conn)
	}
	p.idle = nil
	p.mu.Unlock()

	p.closeRetired(drained)
	if len(drained) > 0 {
		slog.Info("pool drained idle connections", "pool", p.cfg.Name, "closed", len(drained))
	}
	return len(drained)
}

// Shutdown stops maintenance, rejects every waiter and closes every
// connection. Later calls are no-ops.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for _, w := range p.waiters {
		w.done = true
		w.ch <- result{err: p.closedErr()}
	}
	p.waiters = nil

	conns := make([]Conn, 0, len(p.slots))
	for _, s := range p.slots {
		conns = append(conns, s.conn)
	}
	p.slots = make(map[string]*slot)
	p.idle = nil
	p.mu.Unlock()

	p.group.Stop()

	done := make(chan struct{})
	go func() {
		closeAll(conns)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("pool shut down", "pool", p.cfg.Name, "closed", len(conns))
		return nil
	case <-ctx.Done():
		return tetherr.Wrap(ctx.Err(), tetherr.CodeServerShutdownFailure, "closing pool connections",
			tetherr.FieldEndpoint(p.cfg.Name))
	}
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// sweep runs one maintenance pass.
func (p *Pool) sweep() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	now := p.nowFunc()
	var doomed []Conn
	var suspect []*slot

	kept := p.idle[:0]
	for _, s := range p.idle {
		switch {
		case now.Sub(s.createdAt) > p.cfg.MaxLifetime:
			p.retireLocked(s)
			doomed = append(doomed, s.conn)
		case !s.conn.IsHealthy() && now.Sub(s.lastUsedAt) > p.cfg.HealthCheckInterval:
			s.inUse = true
			suspect = append(suspect, s)
		default:
			kept = append(kept, s)
		}
	}
	clear(p.idle[len(kept):])
	p.idle = kept

	// idle is ordered by release time, oldest first
	surplus := len(p.idle) - p.cfg.MinIdle
	kept = p.idle[:0]
	for _, s := range p.idle {
		if surplus > 0 && now.Sub(s.lastUsedAt) > p.cfg.IdleTimeout {
			p.retireLocked(s)
			doomed = append(doomed, s.conn)
			surplus--
			continue
		}
		kept = append(kept, s)
	}
	clear(p.idle[len(kept):])
	p.idle = kept
	p.mu.Unlock()

	p.closeRetired(doomed)
	if len(doomed) > 0 {
		slog.Info("pool evicted connections", "pool", p.cfg.Name, "evicted", len(doomed))
	}

	for _, s := range suspect {
		p.recheck(s)
	}

	p.mu.Lock()
	p.topUpLocked()
	p.replenishLocked()
	p.mu.Unlock()
}

// recheck pings a suspect idle connection and destroys it on failure.
func (p *Pool) recheck(s *slot) {
	ctx, cancel := context.WithTimeout(p.group.Context(), pingTimeout)
	err := s.conn.Ping(ctx)
	cancel()

	p.mu.Lock()
	if _, ok := p.slots[s.id]; !ok {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.retireLocked(s)
		p.mu.Unlock()
		slog.Warn("pool health check failed", "pool", p.cfg.Name, "conn", s.conn.ID(), "error", err)
		p.closeRetired([]Conn{s.conn})
		return
	}
	p.handOffLocked(s)
	p.mu.Unlock()
}

// topUpLocked starts background creation until idle plus in-flight creations
// reach MinIdle.
func (p *Pool) topUpLocked() {
	want := p.cfg.MinIdle - len(p.idle) - p.creating
	room := p.cfg.MaxTotal - p.totalLocked()
	for range max(min(want, room), 0) {
		p.growLocked()
	}
}

// replenishLocked creates a connection for queued waiters while capacity
// allows.
func (p *Pool) replenishLocked() {
	want := len(p.waiters) - p.creating
	room := p.cfg.MaxTotal - p.totalLocked()
	for range max(min(want, room), 0) {
		p.growLocked()
	}
}

func (p *Pool) growLocked() {
	if p.closed {
		return
	}
	p.creating++
	ok := p.group.Go("grow", func(ctx context.Context) {
		s, err := p.newSlot(ctx)
		if err != nil {
			slog.Warn("pool failed to create connection", "pool", p.cfg.Name, "error", err)
			return
		}
		p.mu.Lock()
		p.handOffLocked(s)
		p.mu.Unlock()
	})
	if !ok {
		p.creating--
	}
}

// newSlot calls the factory outside the lock. The caller must already have
// counted the creation in p.creating.
func (p *Pool) newSlot(ctx context.Context) (*slot, error) {
	c, err := p.factory(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creating--

	if err != nil {
		p.errors++
		return nil, tetherr.With(
			tetherr.Errorf(tetherr.CodePoolCreateFailure, "creating connection: %v", err),
			tetherr.FieldEndpoint(p.cfg.Name),
		)
	}
	if p.closed {
		_ = c.Close()
		return nil, p.closedErr()
	}

	now := p.nowFunc()
	s := &slot{
		id:         uuid.NewString(),
		conn:       c,
		createdAt:  now,
		lastUsedAt: now,
		inUse:      true,
	}
	p.slots[s.id] = s
	p.created++
	return s, nil
}

// handOffLocked gives s to the oldest waiter, or parks it idle.
func (p *Pool) handOffLocked(s *slot) {
	if p.closed {
		return
	}
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.done {
			continue
		}
		w.done = true
		h := p.checkoutLocked(s, p.nowFunc())
		w.ch <- result{handle: h}
		return
	}
	s.inUse = false
	p.idle = append(p.idle, s)
}

func (p *Pool) checkoutLocked(s *slot, now time.Time) *Handle {
	s.inUse = true
	s.lastUsedAt = now
	p.acquires++
	return p.handleLocked(s)
}

func (p *Pool) handleLocked(s *slot) *Handle {
	return &Handle{slotID: s.id, conn: s.conn, pool: p}
}

// takeIdleLocked checks out the most recently released unexpired idle slot.
// A slot whose connection reports unhealthy is still checked out but flagged
// suspect so the caller pings it before use. Expired slots met on the way are
// retired and returned for closing.
func (p *Pool) takeIdleLocked(now time.Time) (*Handle, bool, []Conn) {
	var stale []Conn
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.expiredLocked(s, now) {
			p.retireLocked(s)
			stale = append(stale, s.conn)
			continue
		}
		return p.checkoutLocked(s, now), !s.conn.IsHealthy(), stale
	}
	return nil, false, stale
}

// revalidate pings a suspect checked-out connection outside the lock. On
// failure the slot is retired and the handle is spent.
func (p *Pool) revalidate(ctx context.Context, h *Handle) bool {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := h.conn.Ping(pctx)
	cancel()
	if err == nil && h.conn.IsHealthy() {
		return true
	}

	h.released.Store(true)
	p.mu.Lock()
	s, ok := p.slots[h.slotID]
	retired := ok && s.conn == h.conn
	if retired {
		p.retireLocked(s)
	}
	p.acquires--
	p.mu.Unlock()

	slog.Warn("pool discarded stale idle connection", "pool", p.cfg.Name, "conn", h.conn.ID(), "error", err)
	if retired {
		p.closeRetired([]Conn{h.conn})
	}
	return false
}

// retireLocked removes s from the pool. Its connection still counts against
// MaxTotal until closeRetired has closed it.
func (p *Pool) retireLocked(s *slot) {
	if _, ok := p.slots[s.id]; !ok {
		return
	}
	delete(p.slots, s.id)
	p.destroyed++
	p.closing++
}

// closeRetired closes retired connections outside the lock, then uses the
// freed capacity for queued waiters.
func (p *Pool) closeRetired(conns []Conn) {
	if len(conns) == 0 {
		return
	}
	closeAll(conns)

	p.mu.Lock()
	p.closing -= len(conns)
	p.replenishLocked()
	p.mu.Unlock()
}

func (p *Pool) removeWaiterLocked(w *waiter) {
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) expiredLocked(s *slot, now time.Time) bool {
	return now.Sub(s.createdAt) > p.cfg.MaxLifetime
}

func (p *Pool) totalLocked() int {
	return len(p.slots) + p.creating + p.closing
}

func (p *Pool) statsLocked() Stats {
	inUse := 0
	for _, s := range p.slots {
		if s.inUse {
			inUse++
		}
	}
	pending := 0
	for _, w := range p.waiters {
		if !w.done {
			pending++
		}
	}
	return Stats{
		Name:      p.cfg.Name,
		Total:     len(p.slots),
		Idle:      len(p.idle),
		InUse:     inUse,
		Pending:   pending,
		Creating:  p.creating,
		Acquires:  p.acquires,
		Releases:  p.releases,
		Errors:    p.errors,
		Created:   p.created,
		Destroyed: p.destroyed,
		Timeouts:  p.timeouts,
	}
}

func (p *Pool) closedErr() error {
	return tetherr.New(tetherr.CodePoolAcquireClosed, "pool is shut down", tetherr.FieldEndpoint(p.cfg.Name))
}

func closeAll(conns []Conn) {
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()
}
