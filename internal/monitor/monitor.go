// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package monitor probes a browser endpoint out of band and classifies it as
// healthy, degraded or unhealthy.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/ring"
	"github.com/tether-dev/tether/internal/schedule"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultHistorySize  = 50
	DefaultInterval     = 30 * time.Second
	DefaultPollInterval = time.Second
)

// Config describes the monitored endpoint. AuxURL defaults to the target
// list of Endpoint.
type Config struct {
	Endpoint    string
	Token       string
	AuxURL      string
	Timeout     time.Duration
	HistorySize int
	Interval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Validate checks the endpoint and bounds.
func (c Config) Validate() error {
	if _, err := transport.HTTPURL(c.Endpoint, "", ""); err != nil {
		return err
	}
	if c.AuxURL != "" {
		if _, err := transport.HTTPURL(c.AuxURL, "", ""); err != nil {
			return err
		}
	}
	if c.Timeout <= 0 || c.Interval <= 0 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"monitor timeout and interval must be positive, got %s and %s", c.Timeout, c.Interval)
	}
	if c.HistorySize < 1 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"monitor history size must be at least 1, got %d", c.HistorySize)
	}
	return nil
}

// Deps are the monitor's transport and sinks. Prober and Dialer default to
// the HTTP and WebSocket implementations.
type Deps struct {
	Prober transport.Prober
	Dialer transport.Dialer
	Bus    *events.Bus
	// ProbeDuration observes each check, labelled by check name.
	ProbeDuration prometheus.ObserverVec
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg       Config
	prober    transport.Prober
	dialer    transport.Dialer
	bus       *events.Bus
	durations prometheus.ObserverVec
	nowFunc   func() time.Time
	startedAt time.Time
	history   *ring.Buffer[health.Report]
	group     *schedule.Group

	mu       sync.Mutex
	haveLast bool
	lastOK   bool
	running  bool
	// resolved holds the last browser socket URL each endpoint advertised.
	resolved map[string]string
}

// New validates cfg and returns an idle monitor.
func New(cfg Config, deps Deps) (*Monitor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Prober == nil {
		deps.Prober = transport.NewHTTPProber(cfg.Timeout)
	}
	if deps.Dialer == nil {
		deps.Dialer = transport.NewWebSocketDialer()
	}

	return &Monitor{
		cfg:       cfg,
		prober:    deps.Prober,
		dialer:    deps.Dialer,
		bus:       deps.Bus,
		durations: deps.ProbeDuration,
		nowFunc:   time.Now,
		startedAt: time.Now(),
		history:   ring.New[health.Report](cfg.HistorySize),
		group:     schedule.NewGroup("monitor"),
	}, nil
}

func (m *Monitor) Config() Config { return m.cfg }

// Report probes the configured endpoint, records the report in history and
// emits healthReport. healthy and unhealthy fire when the endpoint enters
// or leaves the healthy classification.
func (m *Monitor) Report(ctx context.Context) health.Report {
	report, _ := m.probe(ctx, m.cfg.Endpoint, m.cfg.AuxURL, m.durations)
	m.history.Push(report)

	ok := report.Overall == health.StatusHealthy
	m.mu.Lock()
	changed := !m.haveLast || m.lastOK != ok
	m.haveLast, m.lastOK = true, ok
	m.mu.Unlock()

	source := transport.Redact(m.cfg.Endpoint)
	if changed {
		if ok {
			slog.Info("endpoint healthy", "endpoint", source)
			m.bus.Emit(events.Healthy, source, report)
		} else {
			slog.Warn("endpoint not healthy", "endpoint", source, "overall", report.Overall)
			m.bus.Emit(events.Unhealthy, source, report)
		}
	}
	m.bus.Emit(events.HealthReport, source, report)
	return report
}

// Latest returns the most recent report.
func (m *Monitor) Latest() (health.Report, bool) {
	return m.history.Latest()
}

// History returns up to limit reports, oldest first. A limit of zero or less
// returns everything retained.
func (m *Monitor) History(limit int) []health.Report {
	if limit <= 0 {
		return m.history.Items()
	}
	return m.history.Last(limit)
}

// WaitForHealthy polls until a report is healthy or maxWait elapses.
func (m *Monitor) WaitForHealthy(ctx context.Context, maxWait, pollInterval time.Duration) (health.Report, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		report := m.Report(ctx)
		if report.Overall == health.StatusHealthy {
			return report, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return report, tetherr.Wrap(ctx.Err(), tetherr.CodeHealthWaitTimeout, "endpoint not healthy before deadline",
				tetherr.FieldEndpoint(transport.Redact(m.cfg.Endpoint)),
				tetherr.Field("overall", string(report.Overall)),
				tetherr.Field("max_wait", maxWait.String()),
			)
		}
	}
}

// Start takes a report now and then every Interval until Stop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.group.Go("report", func(ctx context.Context) { m.Report(ctx) })
	m.group.Every("report", m.cfg.Interval, func(ctx context.Context) { m.Report(ctx) })
}

// Stop ends periodic monitoring and waits for a report in progress.
func (m *Monitor) Stop() {
	m.group.Stop()
}

// ProbeEndpoint checks an arbitrary endpoint without touching history. It
// passes when the socket handshake succeeds and the endpoint is not
// unhealthy overall.
func (m *Monitor) ProbeEndpoint(ctx context.Context, url string) error {
	report, timedOut := m.probe(ctx, url, "", nil)
	if Usable(report) {
		return nil
	}

	code := tetherr.CodeHealthProbeFailure
	if timedOut {
		code = tetherr.CodeHealthProbeTimeout
	}

	return tetherr.New(code, Reason(report),
		tetherr.FieldEndpoint(transport.Redact(url)),
		tetherr.Field("overall", string(report.Overall)),
	)
}

// Usable reports whether an endpoint described by r can serve sessions: its
// socket handshake passed and it is not unhealthy overall.
func Usable(r health.Report) bool {
	ws, ok := r.Check(health.CheckWebSocket)
	return ok && ws.Healthy && r.Overall != health.StatusUnhealthy
}

// Reason summarises the failing checks of r.
func Reason(r health.Report) string {
	var failed []string
	for _, c := range r.Checks {
		if !c.Healthy {
			failed = append(failed, c.Name+": "+c.Error)
		}
	}
	return strings.Join(failed, "; ")
}

// probe runs the three checks against endpoint concurrently under the
// overall timeout and reports whether that timeout expired.
func (m *Monitor) probe(ctx context.Context, endpoint, auxURL string, durations prometheus.ObserverVec) (health.Report, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	checks := []struct {
		name string
		run  func(context.Context) error
	}{
		{health.CheckControlHTTP, func(ctx context.Context) error {
			_, err := transport.BrowserURL(ctx, m.prober, endpoint, m.cfg.Token)
			return err
		}},
		{health.CheckAuxHTTP, func(ctx context.Context) error {
			target := auxURL
			if target == "" {
				target = endpoint
			}
			path := ""
			if auxURL == "" {
				path = transport.PathList
			}
			u, err := transport.HTTPURL(target, path, m.cfg.Token)
			if err != nil {
				return err
			}
			return m.prober.Check(ctx, u)
		}},
		{health.CheckWebSocket, func(ctx context.Context) error {
			return m.checkSocket(ctx, endpoint)
		}},
	}

	results := make([]health.CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var timer *prometheus.Timer
			if durations != nil {
				timer = prometheus.NewTimer(durations.WithLabelValues(c.name))
			}
			start := time.Now()
			err := c.run(ctx)
			res := health.CheckResult{Name: c.name, Healthy: err == nil, ResponseTime: time.Since(start)}
			if timer != nil {
				timer.ObserveDuration()
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	now := m.nowFunc()
	report := health.Report{
		Overall:   health.Classify(results),
		Checks:    results,
		Timestamp: now,
		Uptime:    now.Sub(m.startedAt),
	}
	return report, ctx.Err() == context.DeadlineExceeded
}

// checkSocket handshakes with the browser socket of endpoint. When the
// control request fails the last advertised socket URL is used instead, so
// the check measures the socket and not the HTTP side. A failed handshake on
// a remembered URL forgets it.
func (m *Monitor) checkSocket(ctx context.Context, endpoint string) error {
	u, err := transport.BrowserURL(ctx, m.prober, endpoint, m.cfg.Token)
	cached := false
	if err != nil {
		m.mu.Lock()
		last, ok := m.resolved[endpoint]
		m.mu.Unlock()
		if !ok {
			return err
		}
		u, cached = last, true
	}

	_, herr := transport.HandshakeRTT(ctx, m.dialer, u)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case herr == nil && !cached:
		if m.resolved == nil {
			m.resolved = make(map[string]string)
		}
		m.resolved[endpoint] = u
	case herr != nil && cached && m.resolved[endpoint] == u:
		delete(m.resolved, endpoint)
	}
	return herr
}
