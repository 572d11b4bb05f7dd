// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package gateway composes regions, the endpoint balancer, connection pools
// and the health monitor behind a single Acquire.
package gateway

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tether-dev/tether/internal/balancer"
	"github.com/tether-dev/tether/internal/conn"
	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/monitor"
	"github.com/tether-dev/tether/internal/pool"
	"github.com/tether-dev/tether/internal/region"
	"github.com/tether-dev/tether/internal/schedule"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

// Endpoint is one balanced browser endpoint.
type Endpoint struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// Region is one named browser location.
type Region struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Config assembles every component. Token applies wherever a component's
// own token is empty. Monitor.Endpoint defaults to the first endpoint, or the
// first region when there are no endpoints.
type Config struct {
	Token     string
	Endpoints []Endpoint
	Regions   []Region
	Conn      conn.Config
	Pool      pool.Config
	Balancer  balancer.Config
	Region    region.Config
	Monitor   monitor.Config
}

// Validate checks that there is something to connect to.
func (c Config) Validate() error {
	if len(c.Endpoints) == 0 && len(c.Regions) == 0 {
		return tetherr.New(tetherr.CodeConfigValidateInvalidValue,
			"at least one endpoint or region is required")
	}
	return nil
}

// Deps are the shared transport and sinks. ConnFactory replaces the healing
// connection factory and RegionProber the handshake latency prober.
type Deps struct {
	Dialer       transport.Dialer
	Prober       transport.Prober
	Bus          *events.Bus
	ConnFactory  balancer.ConnFactory
	RegionProber region.LatencyProber

	// ProbeDuration observes monitor checks.
	ProbeDuration prometheus.ObserverVec
}

// Gateway owns the lifecycle of every component it builds.
type Gateway struct {
	cfg        Config
	bus        *events.Bus
	ownBus     bool
	balancer   *balancer.Balancer
	regions    *region.Selector
	monitor    *monitor.Monitor
	regionPool map[string]*pool.Pool
	group      *schedule.Group
	unsubs     []func()

	mu      sync.Mutex
	started bool
	closed  bool
}

// New validates cfg and builds an idle gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Dialer == nil {
		deps.Dialer = transport.NewWebSocketDialer()
	}
	if deps.Prober == nil {
		deps.Prober = transport.NewHTTPProber(monitor.DefaultTimeout)
	}

	g := &Gateway{
		cfg:        cfg,
		bus:        deps.Bus,
		regionPool: make(map[string]*pool.Pool),
		group:      schedule.NewGroup("gateway"),
	}
	if g.bus == nil {
		g.bus = events.New(0, 0)
		g.ownBus = true
	}

	factory := deps.ConnFactory
	if factory == nil {
		factory = g.dial(deps)
	}

	if err := g.build(cfg, deps, factory); err != nil {
		if g.ownBus {
			g.bus.Close()
		}
		return nil, err
	}

	g.unsubs = append(g.unsubs,
		g.bus.On(events.RegionChanged, g.onRegionChanged),
		g.bus.On(events.HealthReport, g.onHealthReport),
	)
	return g, nil
}

// MonitorConfig is Monitor with the shared token and the default endpoint
// filled in.
func (c Config) MonitorConfig() monitor.Config {
	mcfg := c.Monitor
	if mcfg.Token == "" {
		mcfg.Token = c.Token
	}
	if mcfg.Endpoint == "" {
		switch {
		case len(c.Endpoints) > 0:
			mcfg.Endpoint = c.Endpoints[0].URL
		case len(c.Regions) > 0:
			mcfg.Endpoint = c.Regions[0].URL
		}
	}
	return mcfg
}

func (g *Gateway) build(cfg Config, deps Deps, factory balancer.ConnFactory) error {
	m, err := monitor.New(cfg.MonitorConfig(), monitor.Deps{
		Prober:        deps.Prober,
		Dialer:        deps.Dialer,
		Bus:           g.bus,
		ProbeDuration: deps.ProbeDuration,
	})
	if err != nil {
		return err
	}
	g.monitor = m

	bcfg := cfg.Balancer
	if bcfg.Pool == (pool.Config{}) {
		bcfg.Pool = cfg.Pool
	}
	b, err := balancer.New(bcfg, balancer.Deps{Prober: m, Bus: g.bus, ConnFactory: factory})
	if err != nil {
		return err
	}
	for _, ep := range cfg.Endpoints {
		if err := b.AddEndpoint(ep.URL, ep.Weight); err != nil {
			return err
		}
	}
	g.balancer = b

	if len(cfg.Regions) == 0 {
		return nil
	}

	prober := deps.RegionProber
	if prober == nil {
		prober = &region.HandshakeProber{Dialer: deps.Dialer, Prober: deps.Prober, Token: cfg.Token}
	}
	s, err := region.New(cfg.Region, prober, g.bus)
	if err != nil {
		return err
	}
	pcfg := cfg.Pool
	if pcfg == (pool.Config{}) {
		pcfg = pool.DefaultConfig()
	}
	for _, r := range cfg.Regions {
		if err := s.AddRegion(r.Name, r.URL); err != nil {
			return err
		}
		rc := pcfg
		rc.Name = r.Name
		p, err := pool.New(rc, factory(r.URL), g.bus)
		if err != nil {
			return err
		}
		g.regionPool[r.Name] = p
	}
	g.regions = s
	return nil
}

// dial opens healing connections against one endpoint.
func (g *Gateway) dial(deps Deps) balancer.ConnFactory {
	return func(endpointURL string) pool.Factory {
		return func(ctx context.Context) (pool.Conn, error) {
			cfg := g.cfg.Conn
			cfg.Endpoint = endpointURL
			if cfg.Token == "" {
				cfg.Token = g.cfg.Token
			}
			c, err := conn.New(cfg, conn.Deps{Dialer: deps.Dialer, Prober: deps.Prober, Bus: g.bus})
			if err != nil {
				return nil, err
			}
			if err := c.Connect(ctx); err != nil {
				_ = c.Close()
				return nil, err
			}
			return c, nil
		}
	}
}

// Start warms pools and starts region probing, endpoint re-probes and health
// monitoring.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return tetherr.New(tetherr.CodeBalancerClosed, "gateway is shut down")
	}
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = true
	g.mu.Unlock()

	if g.regions != nil {
		g.regions.Start(ctx)
		var wg sync.WaitGroup
		for name, p := range g.regionPool {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.Start(ctx); err != nil {
					slog.Warn("region pool warm-up failed", "region", name, "error", err)
				}
			}()
		}
		wg.Wait()
	}
	if err := g.balancer.Start(ctx); err != nil {
		return err
	}
	g.monitor.Start()

	slog.Info("gateway started",
		"endpoints", len(g.cfg.Endpoints),
		"regions", len(g.cfg.Regions),
	)
	return nil
}

// Acquire checks out a connection. With regions configured it tries the
// best region, then every other healthy region, then the balancer's
// endpoints; without regions the balancer chooses directly.
func (g *Gateway) Acquire(ctx context.Context) (*Lease, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, tetherr.New(tetherr.CodeBalancerClosed, "gateway is shut down")
	}

	if g.regions == nil {
		return g.acquireEndpoint(ctx)
	}
	lease, err := g.acquireRegion(ctx)
	if err == nil || ctx.Err() != nil || len(g.balancer.Endpoints()) == 0 {
		return lease, err
	}

	slog.Warn("no region could serve, falling back to endpoints", "error", err)
	lease, berr := g.acquireEndpoint(ctx)
	if berr != nil {
		return nil, tetherr.Wrap(stderrors.Join(err, berr), tetherr.CodeRegionAllUnavailable,
			"every region and endpoint failed")
	}
	return lease, nil
}

func (g *Gateway) acquireEndpoint(ctx context.Context) (*Lease, error) {
	l, err := g.balancer.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{url: l.URL(), handle: l.Handle(), endpoint: l}, nil
}

func (g *Gateway) acquireRegion(ctx context.Context) (*Lease, error) {
	var (
		tried   []string
		lastErr error
	)
	info, ok := g.regions.GetBestRegion()
	if !ok {
		info, ok = g.regions.GetHealthyRegion()
	}
	for ok {
		tried = append(tried, info.Name)
		h, err := g.regionPool[info.Name].Acquire(ctx)
		if err == nil {
			url, _ := g.regions.Endpoint(info.Name)
			return &Lease{region: info.Name, url: url, handle: h, gateway: g}, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if tetherr.HasCode(err, tetherr.CodePoolCreateFailure) {
			_ = g.regions.ReportFailure(info.Name, err)
		}
		slog.Warn("region unavailable, trying next",
			"region", info.Name, "error", err)
		info, ok = g.regions.GetHealthyRegion(tried...)
	}

	if lastErr == nil {
		return nil, tetherr.New(tetherr.CodeRegionAllUnavailable, "no healthy region")
	}
	return nil, tetherr.Errorf(tetherr.CodeRegionAllUnavailable,
		"all %d regions failed: %v", len(tried), lastErr)
}

// Shutdown stops every component. No background task runs after it returns.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	for _, unsub := range g.unsubs {
		unsub()
	}
	g.monitor.Stop()
	if g.regions != nil {
		g.regions.Stop()
	}
	g.group.Stop()

	var errs []error
	if err := g.balancer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, p := range g.regionPool {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if g.ownBus {
		g.bus.Close()
	}
	slog.Info("gateway stopped")
	if len(errs) > 0 {
		return tetherr.Join(errs...)
	}
	return nil
}

// AddEndpoint registers a balanced endpoint at runtime.
func (g *Gateway) AddEndpoint(url string, weight int) error {
	return g.balancer.AddEndpoint(url, weight)
}

// RemoveEndpoint unregisters a balanced endpoint and shuts its pool down.
func (g *Gateway) RemoveEndpoint(url string) error {
	return g.balancer.RemoveEndpoint(url)
}

// MarkEndpointHealthy lifts a quarantine by operator request.
func (g *Gateway) MarkEndpointHealthy(url string) error {
	return g.balancer.MarkEndpointHealthy(url)
}

// CheckHealth takes a health report now.
func (g *Gateway) CheckHealth(ctx context.Context) health.Report {
	return g.monitor.Report(ctx)
}

// HealthHistory returns up to limit recent reports, oldest first.
func (g *Gateway) HealthHistory(limit int) []health.Report {
	return g.monitor.History(limit)
}

func (g *Gateway) Balancer() *balancer.Balancer { return g.balancer }

// Regions returns the region selector, or nil when none are configured.
func (g *Gateway) Regions() *region.Selector { return g.regions }

func (g *Gateway) Monitor() *monitor.Monitor { return g.monitor }

func (g *Gateway) Bus() *events.Bus { return g.bus }

// Pools returns the stats of every endpoint and region pool.
func (g *Gateway) Pools() []pool.Stats {
	stats := g.balancer.Pools()
	if g.regions == nil {
		return stats
	}
	for _, info := range g.regions.Rankings() {
		if p, ok := g.regionPool[info.Name]; ok {
			stats = append(stats, p.Stats())
		}
	}
	return stats
}

// Status is a point-in-time view of every component.
type Status struct {
	Pools     []pool.Stats     `json:"pools"`
	Endpoints []health.Metrics `json:"endpoints"`
	Regions   []region.Info    `json:"regions,omitempty"`
	Best      string           `json:"best_region,omitempty"`
	Health    *health.Report   `json:"health,omitempty"`
}

// Status collects the current state of pools, endpoints, regions and the
// latest health report.
func (g *Gateway) Status() Status {
	st := Status{
		Pools:     g.Pools(),
		Endpoints: g.balancer.Endpoints(),
	}
	if g.regions != nil {
		st.Regions = g.regions.Rankings()
		if best, ok := g.regions.GetBestRegion(); ok {
			st.Best = best.Name
		}
	}
	if r, ok := g.monitor.Latest(); ok {
		st.Health = &r
	}
	return st
}

func (g *Gateway) onRegionChanged(e events.Event) {
	change, ok := e.Payload.(region.Change)
	if !ok {
		return
	}
	p, ok := g.regionPool[change.From]
	if !ok {
		return
	}
	g.group.Go("drain", func(context.Context) {
		n := p.DrainIdle()
		slog.Info("drained idle connections of previous region",
			"from", change.From, "to", change.To, "closed", n)
	})
}

// onHealthReport feeds monitor results for a balanced endpoint into its
// health state.
func (g *Gateway) onHealthReport(e events.Event) {
	report, ok := e.Payload.(health.Report)
	if !ok {
		return
	}
	endpoint := g.monitor.Config().Endpoint
	if e.Source != transport.Redact(endpoint) {
		return
	}
	err := g.balancer.ApplyCheck(endpoint, monitor.Usable(report), monitor.Reason(report), report.Timestamp)
	if err != nil && !tetherr.IsNotFound(err) {
		slog.Debug("health report not applied", "error", err)
	}
}

// Lease is one checked-out connection.
type Lease struct {
	region   string
	url      string
	handle   *pool.Handle
	endpoint *balancer.Lease
	gateway  *Gateway
	once     sync.Once
}

// Region names the serving region, empty when the balancer chose.
func (l *Lease) Region() string { return l.region }

func (l *Lease) URL() string { return l.url }

func (l *Lease) Conn() pool.Conn { return l.handle.Conn() }

// Session returns the healing connection behind the lease.
func (l *Lease) Session() (*conn.Conn, bool) {
	c, ok := l.handle.Conn().(*conn.Conn)
	return c, ok
}

// Release returns the connection and records the outcome. A failed region
// lease counts against the region. Later calls are no-ops.
func (l *Lease) Release(success bool) {
	l.once.Do(func() {
		if l.endpoint != nil {
			l.endpoint.Release(success)
			return
		}
		l.handle.Release()
		if !success {
			_ = l.gateway.regions.ReportFailure(l.region,
				tetherr.New(tetherr.CodeConnSocketClosed, "session released as failed",
					tetherr.FieldRegion(l.region)))
		}
	})
}
