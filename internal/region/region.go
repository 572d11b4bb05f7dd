// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package region ranks geographically distinct endpoints by measured
// latency and tracks which of them are reachable.
package region

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/ring"
	"github.com/tether-dev/tether/internal/schedule"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

const (
	DefaultProbeInterval    = 30 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultWindowSize       = 10
	DefaultSmoothingSamples = 3
	DefaultFailureThreshold = 3
)

// Unreachable is the latency recorded for a failed probe.
const Unreachable = time.Duration(math.MaxInt64)

// Config tunes probing and ranking. Zero values take defaults.
type Config struct {
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	WindowSize       int
	SmoothingSamples int
	FailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.SmoothingSamples == 0 {
		c.SmoothingSamples = min(DefaultSmoothingSamples, c.WindowSize)
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return c
}

// Validate checks bounds.
func (c Config) Validate() error {
	if c.ProbeInterval <= 0 || c.ProbeTimeout <= 0 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"region probe interval and timeout must be positive, got %s and %s", c.ProbeInterval, c.ProbeTimeout)
	}
	if c.WindowSize < 1 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"region window size must be at least 1, got %d", c.WindowSize)
	}
	if c.SmoothingSamples < 1 || c.SmoothingSamples > c.WindowSize {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"region smoothing samples must be between 1 and window size %d, got %d", c.WindowSize, c.SmoothingSamples)
	}
	if c.FailureThreshold < 1 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"region failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	return nil
}

// LatencyProber measures the round trip to a region endpoint.
type LatencyProber interface {
	Measure(ctx context.Context, url string) (time.Duration, error)
}

// ProberFunc adapts a function to LatencyProber.
type ProberFunc func(ctx context.Context, url string) (time.Duration, error)

func (f ProberFunc) Measure(ctx context.Context, url string) (time.Duration, error) {
	return f(ctx, url)
}

// HandshakeProber times a bare open/close of the browser-level socket. The
// socket URL is resolved once per endpoint and looked up again after a
// failed handshake.
type HandshakeProber struct {
	Dialer transport.Dialer
	Prober transport.Prober
	Token  string

	mu       sync.Mutex
	resolved map[string]string
}

func (p *HandshakeProber) Measure(ctx context.Context, url string) (time.Duration, error) {
	p.mu.Lock()
	target, ok := p.resolved[url]
	p.mu.Unlock()

	if !ok {
		var err error
		target, err = transport.BrowserURL(ctx, p.Prober, url, p.Token)
		if err != nil {
			return 0, err
		}
		p.mu.Lock()
		if p.resolved == nil {
			p.resolved = make(map[string]string)
		}
		p.resolved[url] = target
		p.mu.Unlock()
	}

	rtt, err := transport.HandshakeRTT(ctx, p.Dialer, target)
	if err != nil {
		p.mu.Lock()
		delete(p.resolved, url)
		p.mu.Unlock()
		return 0, err
	}
	return rtt, nil
}

// Info is a point-in-time view of one region.
type Info struct {
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	Healthy     bool          `json:"healthy"`
	AvgLatency  time.Duration `json:"avg_latency"`
	Reachable   bool          `json:"reachable"`
	Failures    int           `json:"failures"`
	Samples     int           `json:"samples"`
	LastError   string        `json:"last_error,omitempty"`
	LastProbeAt *time.Time    `json:"last_probe_at,omitempty"`
}

// Change is the payload of regionChanged.
type Change struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Status is the payload of regionDown and regionUp.
type Status struct {
	Name     string `json:"name"`
	Failures int    `json:"failures"`
	Reason   string `json:"reason,omitempty"`
}

type region struct {
	name      string
	url       string
	samples   *ring.Buffer[time.Duration]
	failures  int
	down      bool
	lastErr   string
	lastProbe time.Time
}

// avg averages the last k samples. Any failed sample in the window makes
// the region unreachable for ranking.
func (r *region) avg(k int) time.Duration {
	last := r.samples.Last(k)
	if len(last) == 0 {
		return Unreachable
	}
	var sum time.Duration
	for _, s := range last {
		if s == Unreachable {
			return Unreachable
		}
		sum += s
	}
	return sum / time.Duration(len(last))
}

type emission struct {
	name    events.Name
	source  string
	payload any
}

// Selector is safe for concurrent use.
type Selector struct {
	cfg     Config
	prober  LatencyProber
	bus     *events.Bus
	nowFunc func() time.Time
	group   *schedule.Group

	mu      sync.Mutex
	regions map[string]*region
	order   []string
	best    string
	allDown bool
	started bool
}

// New validates cfg and returns a selector without regions.
func New(cfg Config, prober LatencyProber, bus *events.Bus) (*Selector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prober == nil {
		return nil, tetherr.New(tetherr.CodeConfigValidateInvalidValue, "region latency prober is required")
	}
	return &Selector{
		cfg:     cfg,
		prober:  prober,
		bus:     bus,
		nowFunc: time.Now,
		group:   schedule.NewGroup("region"),
		regions: make(map[string]*region),
	}, nil
}

func (s *Selector) Config() Config { return s.cfg }

// AddRegion registers a region. It is healthy until probes say otherwise.
func (s *Selector) AddRegion(name, url string) error {
	if name == "" {
		return tetherr.New(tetherr.CodeConfigValidateInvalidValue, "region name is required")
	}
	if _, err := transport.HTTPURL(url, "", ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[name]; ok {
		return tetherr.New(tetherr.CodeRegionExists, "region already registered", tetherr.FieldRegion(name))
	}
	s.regions[name] = &region{
		name:    name,
		url:     url,
		samples: ring.New[time.Duration](s.cfg.WindowSize),
	}
	s.order = append(s.order, name)
	slog.Info("region added", "region", name, "endpoint", transport.Redact(url))
	return nil
}

// Len returns the number of regions.
func (s *Selector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Start takes a first measurement of every region and starts the periodic
// probe.
func (s *Selector) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.ProbeAll(ctx)
	s.group.Every("probe", s.cfg.ProbeInterval, s.ProbeAll)
}

// Stop cancels probing and waits for a probe in progress.
func (s *Selector) Stop() {
	s.group.Stop()
}

// ProbeAll measures every region concurrently and applies the results.
func (s *Selector) ProbeAll(ctx context.Context) {
	s.mu.Lock()
	targets := make(map[string]string, len(s.order))
	for _, name := range s.order {
		targets[name] = s.regions[name].url
	}
	s.mu.Unlock()

	type sample struct {
		name    string
		latency time.Duration
		err     error
	}
	results := make(chan sample, len(targets))
	var wg sync.WaitGroup
	for name, url := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
			defer cancel()
			latency, err := s.prober.Measure(pctx, url)
			results <- sample{name: name, latency: latency, err: err}
		}()
	}
	wg.Wait()
	close(results)

	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	now := s.nowFunc()
	var out []emission
	for r := range results {
		reg, ok := s.regions[r.name]
		if !ok {
			continue
		}
		reg.lastProbe = now
		if r.err != nil {
			out = append(out, s.failLocked(reg, r.err.Error())...)
		} else {
			out = append(out, s.succeedLocked(reg, r.latency)...)
		}
	}
	out = append(out, s.evaluateLocked()...)
	s.mu.Unlock()

	s.emit(out)
}

// ReportFailure records a failure observed by a caller using the region.
func (s *Selector) ReportFailure(name string, err error) error {
	reason := "reported failure"
	if err != nil {
		reason = err.Error()
	}
	return s.report(name, func(reg *region) []emission { return s.failLocked(reg, reason) })
}

// ReportSuccess records a latency observed by a caller using the region.
func (s *Selector) ReportSuccess(name string, latency time.Duration) error {
	return s.report(name, func(reg *region) []emission { return s.succeedLocked(reg, latency) })
}

func (s *Selector) report(name string, apply func(*region) []emission) error {
	s.mu.Lock()
	reg, ok := s.regions[name]
	if !ok {
		s.mu.Unlock()
		return notFound(name)
	}
	out := apply(reg)
	out = append(out, s.evaluateLocked()...)
	s.mu.Unlock()

	s.emit(out)
	return nil
}

// GetBestRegion returns the healthy region with the lowest smoothed latency.
// Ties go to the lexically smallest name.
func (s *Selector) GetBestRegion() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.bestLocked()
	if reg == nil {
		return Info{}, false
	}
	return s.infoLocked(reg), true
}

// GetHealthyRegion returns any healthy region not named in exclude, in
// registration order.
func (s *Selector) GetHealthyRegion(exclude ...string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		reg := s.regions[name]
		if reg.down || slices.Contains(exclude, name) {
			continue
		}
		return s.infoLocked(reg), true
	}
	return Info{}, false
}

// Region looks a region up by name.
func (s *Selector) Region(name string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regions[name]
	if !ok {
		return Info{}, notFound(name)
	}
	return s.infoLocked(reg), nil
}

// Rankings returns every region, healthy ones first by smoothed latency.
func (s *Selector) Rankings() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.infoLocked(s.regions[name]))
	}
	s.mu.Unlock()

	slices.SortFunc(out, compareInfo)
	return out
}

func compareInfo(a, b Info) int {
	if a.Healthy != b.Healthy {
		if a.Healthy {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.AvgLatency, b.AvgLatency); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

func (s *Selector) failLocked(reg *region, reason string) []emission {
	reg.samples.Push(Unreachable)
	reg.failures++
	reg.lastErr = reason
	if reg.down || reg.failures < s.cfg.FailureThreshold {
		slog.Debug("region probe failed", "region", reg.name, "failures", reg.failures, "error", reason)
		return nil
	}
	reg.down = true
	slog.Warn("region down", "region", reg.name, "failures", reg.failures, "error", reason)
	return []emission{{events.RegionDown, reg.name, Status{Name: reg.name, Failures: reg.failures, Reason: reason}}}
}

func (s *Selector) succeedLocked(reg *region, latency time.Duration) []emission {
	reg.samples.Push(latency)
	reg.failures = 0
	reg.lastErr = ""
	if !reg.down {
		return nil
	}
	reg.down = false
	slog.Info("region up", "region", reg.name, "latency", latency)
	return []emission{{events.RegionUp, reg.name, Status{Name: reg.name}}}
}

// evaluateLocked fires allRegionsDown on the transition into total outage
// and regionChanged when an established best pick moves.
func (s *Selector) evaluateLocked() []emission {
	var out []emission

	all := len(s.order) > 0
	for _, reg := range s.regions {
		if !reg.down {
			all = false
			break
		}
	}
	if all && !s.allDown {
		slog.Error("all regions down", "regions", len(s.order))
		out = append(out, emission{events.AllRegionsDown, "region", len(s.order)})
	}
	s.allDown = all

	best := s.bestLocked()
	if best == nil {
		return out
	}
	if s.best != "" && s.best != best.name {
		slog.Info("best region changed", "from", s.best, "to", best.name)
		out = append(out, emission{events.RegionChanged, best.name, Change{From: s.best, To: best.name}})
	}
	s.best = best.name
	return out
}

func (s *Selector) bestLocked() *region {
	var best *region
	var bestAvg time.Duration
	for _, name := range s.order {
		reg := s.regions[name]
		if reg.down {
			continue
		}
		a := reg.avg(s.cfg.SmoothingSamples)
		if best == nil || a < bestAvg || (a == bestAvg && reg.name < best.name) {
			best, bestAvg = reg, a
		}
	}
	return best
}

func (s *Selector) infoLocked(reg *region) Info {
	a := reg.avg(s.cfg.SmoothingSamples)
	info := Info{
		Name:       reg.name,
		URL:        transport.Redact(reg.url),
		Healthy:    !reg.down,
		AvgLatency: a,
		Reachable:  a != Unreachable,
		Failures:   reg.failures,
		Samples:    reg.samples.Len(),
		LastError:  reg.lastErr,
	}
	if !reg.lastProbe.IsZero() {
		t := reg.lastProbe
		info.LastProbeAt = &t
	}
	return info
}

// Endpoint returns the unredacted endpoint URL of a region.
func (s *Selector) Endpoint(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regions[name]
	if !ok {
		return "", notFound(name)
	}
	return reg.url, nil
}

func (s *Selector) emit(out []emission) {
	for _, e := range out {
		s.bus.Emit(e.name, e.source, e.payload)
	}
}

func notFound(name string) error {
	return tetherr.New(tetherr.CodeRegionNotFound, "region is not registered", tetherr.FieldRegion(name))
}
