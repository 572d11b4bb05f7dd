// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/cdptest"
	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/monitor"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

func newMonitor(t *testing.T, b *cdptest.Browser, cfg monitor.Config, deps monitor.Deps) *monitor.Monitor {
	t.Helper()
	cfg.Endpoint = b.URL()
	m, err := monitor.New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func newBrowser(t *testing.T) *cdptest.Browser {
	t.Helper()
	b := cdptest.NewBrowser()
	t.Cleanup(b.Close)
	return b
}

func TestReportClassification(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(b *cdptest.Browser)
		overall health.Status
		failing []string
	}{
		{
			name:    "all checks pass",
			setup:   func(*cdptest.Browser) {},
			overall: health.StatusHealthy,
		},
		{
			name:    "aux endpoint failing",
			setup:   func(b *cdptest.Browser) { b.SetAuxFailing(true) },
			overall: health.StatusDegraded,
			failing: []string{health.CheckAuxHTTP},
		},
		{
			name:    "socket upgrades rejected",
			setup:   func(b *cdptest.Browser) { b.RejectNextUpgrades(1) },
			overall: health.StatusDegraded,
			failing: []string{health.CheckWebSocket},
		},
		{
			name:    "endpoint down",
			setup:   func(b *cdptest.Browser) { b.SetDown(true) },
			overall: health.StatusUnhealthy,
			failing: []string{health.CheckControlHTTP, health.CheckAuxHTTP, health.CheckWebSocket},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBrowser(t)
			tt.setup(b)
			m := newMonitor(t, b, monitor.Config{}, monitor.Deps{})

			r := m.Report(context.Background())
			assert.Equal(t, tt.overall, r.Overall)
			require.Len(t, r.Checks, 3)

			for _, c := range r.Checks {
				shouldFail := false
				for _, name := range tt.failing {
					if c.Name == name {
						shouldFail = true
					}
				}
				assert.Equal(t, !shouldFail, c.Healthy, c.Name)
				if shouldFail {
					assert.NotEmpty(t, c.Error, c.Name)
				}
			}
			assert.False(t, r.Timestamp.IsZero())
			assert.GreaterOrEqual(t, r.Uptime, time.Duration(0))
		})
	}
}

func TestReportCarriesToken(t *testing.T) {
	b := newBrowser(t)
	b.SetToken("s3cret")

	m := newMonitor(t, b, monitor.Config{Token: "s3cret"}, monitor.Deps{})
	assert.Equal(t, health.StatusHealthy, m.Report(context.Background()).Overall)

	anon := newMonitor(t, b, monitor.Config{}, monitor.Deps{})
	assert.Equal(t, health.StatusUnhealthy, anon.Report(context.Background()).Overall)
}

func TestSocketCheckUsesLastResolvedURLWhenControlFails(t *testing.T) {
	b := newBrowser(t)
	m := newMonitor(t, b, monitor.Config{}, monitor.Deps{})
	require.Equal(t, health.StatusHealthy, m.Report(context.Background()).Overall)

	b.FailNextVersions(2)
	r := m.Report(context.Background())
	assert.Equal(t, health.StatusDegraded, r.Overall)

	control, ok := r.Check(health.CheckControlHTTP)
	require.True(t, ok)
	assert.False(t, control.Healthy)
	ws, ok := r.Check(health.CheckWebSocket)
	require.True(t, ok)
	assert.True(t, ws.Healthy, ws.Error)
}

func TestSocketCheckFailsWithoutResolvedURL(t *testing.T) {
	b := newBrowser(t)
	b.FailNextVersions(2)
	m := newMonitor(t, b, monitor.Config{}, monitor.Deps{})

	r := m.Report(context.Background())
	ws, ok := r.Check(health.CheckWebSocket)
	require.True(t, ok)
	assert.False(t, ws.Healthy)
}

func TestHistoryIsBounded(t *testing.T) {
	b := newBrowser(t)
	m := newMonitor(t, b, monitor.Config{HistorySize: 2}, monitor.Deps{})

	_, ok := m.Latest()
	assert.False(t, ok)

	b.SetDown(true)
	m.Report(context.Background())
	b.SetDown(false)
	m.Report(context.Background())
	m.Report(context.Background())

	h := m.History(0)
	require.Len(t, h, 2)
	assert.Equal(t, health.StatusHealthy, h[0].Overall)
	assert.Len(t, m.History(1), 1)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, h[1].Timestamp, latest.Timestamp)
}

func TestOverallTimeoutBoundsProbes(t *testing.T) {
	b := newBrowser(t)
	b.SetLatency(300 * time.Millisecond)
	m := newMonitor(t, b, monitor.Config{Timeout: 50 * time.Millisecond}, monitor.Deps{})

	start := time.Now()
	r := m.Report(context.Background())
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, health.StatusUnhealthy, r.Overall)

	err := m.ProbeEndpoint(context.Background(), b.URL())
	assert.True(t, tetherr.HasCode(err, tetherr.CodeHealthProbeTimeout))
}

func TestWaitForHealthy(t *testing.T) {
	b := newBrowser(t)
	b.FailNextVersions(2)
	m := newMonitor(t, b, monitor.Config{}, monitor.Deps{})

	r, err := m.WaitForHealthy(context.Background(), 2*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, r.Overall)
	assert.GreaterOrEqual(t, len(m.History(0)), 2)
}

func TestWaitForHealthyTimesOut(t *testing.T) {
	b := newBrowser(t)
	b.SetDown(true)
	m := newMonitor(t, b, monitor.Config{}, monitor.Deps{})

	start := time.Now()
	r, err := m.WaitForHealthy(context.Background(), 60*time.Millisecond, 10*time.Millisecond)
	assert.True(t, tetherr.IsTimeout(err))
	assert.True(t, tetherr.HasCode(err, tetherr.CodeHealthWaitTimeout))
	assert.Equal(t, health.StatusUnhealthy, r.Overall)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestProbeEndpoint(t *testing.T) {
	b := newBrowser(t)
	m := newMonitor(t, b, monitor.Config{}, monitor.Deps{})
	ctx := context.Background()

	assert.NoError(t, m.ProbeEndpoint(ctx, b.URL()))

	b.SetAuxFailing(true)
	assert.NoError(t, m.ProbeEndpoint(ctx, b.URL()), "degraded still serves sessions")

	b.SetAuxFailing(false)
	b.RejectNextUpgrades(1)
	err := m.ProbeEndpoint(ctx, b.URL())
	assert.True(t, tetherr.HasCode(err, tetherr.CodeHealthProbeFailure))
	assert.Contains(t, err.Error(), health.CheckWebSocket)

	other := newBrowser(t)
	other.SetDown(true)
	assert.Error(t, m.ProbeEndpoint(ctx, other.URL()))
	assert.Empty(t, m.History(0), "endpoint probes are not recorded")
}

func TestStartEmitsTransitionsAndReports(t *testing.T) {
	b := newBrowser(t)
	bus := events.New(0, 0)
	t.Cleanup(bus.Close)

	m := newMonitor(t, b, monitor.Config{Interval: 10 * time.Millisecond}, monitor.Deps{Bus: bus})
	m.Start()
	m.Start()

	count := func(name events.Name) int {
		n := 0
		for _, e := range bus.History(0) {
			if e.Name == name {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool { return count(events.HealthReport) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, count(events.Healthy))
	assert.Equal(t, 0, count(events.Unhealthy))

	b.SetDown(true)
	require.Eventually(t, func() bool { return count(events.Unhealthy) == 1 }, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	n := len(m.History(0))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, len(m.History(0)), "no report after Stop")
}

func TestProbeDurationObserved(t *testing.T) {
	b := newBrowser(t)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_probe_duration_seconds",
		Help: "probe duration",
	}, []string{"check"})

	m := newMonitor(t, b, monitor.Config{}, monitor.Deps{ProbeDuration: vec})
	m.Report(context.Background())
	assert.Equal(t, 3, testutil.CollectAndCount(vec))
}

func TestConfigValidation(t *testing.T) {
	_, err := monitor.New(monitor.Config{Endpoint: "nope"}, monitor.Deps{})
	assert.True(t, tetherr.IsInvalidInput(err))

	_, err = monitor.New(monitor.Config{Endpoint: "ws://a", HistorySize: -1}, monitor.Deps{})
	assert.True(t, tetherr.IsInvalidInput(err))

	_, err = monitor.New(monitor.Config{Endpoint: "ws://a", Timeout: -time.Second}, monitor.Deps{})
	assert.True(t, tetherr.IsInvalidInput(err))
}
