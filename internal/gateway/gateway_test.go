// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package gateway_test

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/cdptest"
	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/internal/pool"
	"github.com/tether-dev/tether/internal/region"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

const (
	urlA = "ws://region-a.test:9222"
	urlB = "ws://region-b.test:9222"
	e1   = "ws://e1.test:9222"
)

type fakeConn struct {
	id     string
	closed atomic.Bool
}

func (c *fakeConn) ID() string                 { return c.id }
func (c *fakeConn) IsHealthy() bool            { return !c.closed.Load() }
func (c *fakeConn) Ping(context.Context) error { return nil }
func (c *fakeConn) Close() error               { c.closed.Store(true); return nil }

// dialer hands out fake connections and refuses URLs marked down.
type dialer struct {
	mu     sync.Mutex
	down   map[string]bool
	opened map[string][]*fakeConn
}

func newDialer() *dialer {
	return &dialer{down: map[string]bool{}, opened: map[string][]*fakeConn{}}
}

func (d *dialer) SetDown(url string, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[url] = down
}

func (d *dialer) Opened(url string) []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.opened[url]...)
}

func (d *dialer) Factory(url string) pool.Factory {
	return func(context.Context) (pool.Conn, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.down[url] {
			return nil, stderrors.New("connection refused")
		}
		c := &fakeConn{id: url}
		d.opened[url] = append(d.opened[url], c)
		return c, nil
	}
}

type latencies struct {
	mu    sync.Mutex
	byURL map[string]time.Duration
}

func (l *latencies) Set(url string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byURL == nil {
		l.byURL = map[string]time.Duration{}
	}
	l.byURL[url] = d
}

func (l *latencies) Measure(_ context.Context, url string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byURL[url], nil
}

func newGateway(t *testing.T, cfg gateway.Config, deps gateway.Deps) *gateway.Gateway {
	t.Helper()
	g, err := gateway.New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

func regionConfig() gateway.Config {
	return gateway.Config{
		Regions: []gateway.Region{{Name: "A", URL: urlA}, {Name: "B", URL: urlB}},
		Pool:    pool.Config{MaxTotal: 2, AcquireTimeout: time.Second},
		Region:  region.Config{WindowSize: 1, SmoothingSamples: 1},
	}
}

func TestAcquireWithoutRegionsUsesBalancer(t *testing.T) {
	d := newDialer()
	g := newGateway(t, gateway.Config{
		Endpoints: []gateway.Endpoint{{URL: e1, Weight: 1}},
		Pool:      pool.Config{MaxTotal: 1, AcquireTimeout: time.Second},
	}, gateway.Deps{ConnFactory: d.Factory})

	assert.Nil(t, g.Regions())

	l, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, e1, l.URL())
	assert.Empty(t, l.Region())
	assert.Equal(t, e1, l.Conn().ID())
	_, ok := l.Session()
	assert.False(t, ok, "fake connections are not healing sessions")

	l.Release(true)
	l.Release(true)

	eps := g.Balancer().Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, int64(0), eps[0].Active)
	assert.Equal(t, int64(1), eps[0].Total)
}

func TestAcquirePrefersFastestRegion(t *testing.T) {
	d := newDialer()
	l := &latencies{}
	l.Set(urlA, 40*time.Millisecond)
	l.Set(urlB, 5*time.Millisecond)

	g := newGateway(t, regionConfig(), gateway.Deps{ConnFactory: d.Factory, RegionProber: l})
	g.Regions().ProbeAll(context.Background())

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", lease.Region())
	assert.Equal(t, urlB, lease.URL())
	lease.Release(true)
}

func TestAcquireFallsBackAcrossRegions(t *testing.T) {
	d := newDialer()
	l := &latencies{}
	l.Set(urlA, 40*time.Millisecond)
	l.Set(urlB, 5*time.Millisecond)
	d.SetDown(urlB, true)

	g := newGateway(t, regionConfig(), gateway.Deps{ConnFactory: d.Factory, RegionProber: l})
	g.Regions().ProbeAll(context.Background())

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", lease.Region())
	lease.Release(true)

	info, err := g.Regions().Region("B")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Failures)
	assert.False(t, info.Reachable)
}

func TestAcquireFailsWhenEveryRegionFails(t *testing.T) {
	d := newDialer()
	d.SetDown(urlA, true)
	d.SetDown(urlB, true)
	l := &latencies{}

	g := newGateway(t, regionConfig(), gateway.Deps{ConnFactory: d.Factory, RegionProber: l})
	g.Regions().ProbeAll(context.Background())

	_, err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, tetherr.HasCode(err, tetherr.CodeRegionAllUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAcquireFallsBackToEndpointsWhenRegionsFail(t *testing.T) {
	d := newDialer()
	d.SetDown(urlA, true)
	d.SetDown(urlB, true)

	cfg := regionConfig()
	cfg.Endpoints = []gateway.Endpoint{{URL: e1, Weight: 1}}
	g := newGateway(t, cfg, gateway.Deps{ConnFactory: d.Factory, RegionProber: &latencies{}})
	g.Regions().ProbeAll(context.Background())

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, e1, lease.URL())
	assert.Empty(t, lease.Region())
	assert.Len(t, d.Opened(e1), 1)
	lease.Release(true)

	assert.Equal(t, int64(1), g.Balancer().Endpoints()[0].Total)
}

func TestAcquireFailsWhenRegionsAndEndpointsFail(t *testing.T) {
	d := newDialer()
	d.SetDown(urlA, true)
	d.SetDown(urlB, true)
	d.SetDown(e1, true)

	cfg := regionConfig()
	cfg.Endpoints = []gateway.Endpoint{{URL: e1, Weight: 1}}
	g := newGateway(t, cfg, gateway.Deps{ConnFactory: d.Factory, RegionProber: &latencies{}})
	g.Regions().ProbeAll(context.Background())

	_, err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, tetherr.HasCode(err, tetherr.CodeRegionAllUnavailable), "got %s", tetherr.CodeOf(err))
	assert.Contains(t, err.Error(), "every region and endpoint failed")
	assert.Contains(t, err.Error(), "all 2 regions failed")
}

func TestFailedRegionLeaseCountsAgainstRegion(t *testing.T) {
	d := newDialer()
	l := &latencies{}
	l.Set(urlA, time.Millisecond)
	l.Set(urlB, time.Millisecond)

	g := newGateway(t, regionConfig(), gateway.Deps{ConnFactory: d.Factory, RegionProber: l})
	g.Regions().ProbeAll(context.Background())

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(false)

	info, err := g.Regions().Region(lease.Region())
	require.NoError(t, err)
	assert.Equal(t, 1, info.Failures)
}

func TestRegionChangeDrainsPreviousPool(t *testing.T) {
	d := newDialer()
	l := &latencies{}
	l.Set(urlA, 40*time.Millisecond)
	l.Set(urlB, 5*time.Millisecond)

	g := newGateway(t, regionConfig(), gateway.Deps{ConnFactory: d.Factory, RegionProber: l})
	ctx := context.Background()
	g.Regions().ProbeAll(ctx)

	lease, err := g.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "B", lease.Region())
	lease.Release(true)

	l.Set(urlB, 80*time.Millisecond)
	g.Regions().ProbeAll(ctx)

	require.Eventually(t, func() bool {
		opened := d.Opened(urlB)
		return len(opened) == 1 && opened[0].closed.Load()
	}, 2*time.Second, 5*time.Millisecond)

	for _, s := range g.Pools() {
		if s.Name == "B" {
			assert.Equal(t, 0, s.Idle)
		}
	}

	lease, err = g.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", lease.Region())
	lease.Release(true)
}

func TestHealthReportsFeedTheBalancer(t *testing.T) {
	b := cdptest.NewBrowser()
	t.Cleanup(b.Close)
	d := newDialer()

	g := newGateway(t, gateway.Config{
		Endpoints: []gateway.Endpoint{{URL: b.URL()}},
	}, gateway.Deps{ConnFactory: d.Factory})

	healthy := func() bool {
		eps := g.Balancer().Endpoints()
		return len(eps) == 1 && eps[0].Healthy
	}

	b.SetDown(true)
	g.Monitor().Report(context.Background())
	require.Eventually(t, func() bool { return !healthy() }, 2*time.Second, 5*time.Millisecond)

	b.SetDown(false)
	g.Monitor().Report(context.Background())
	require.Eventually(t, healthy, 2*time.Second, 5*time.Millisecond)
}

func TestStartServesHealingSessions(t *testing.T) {
	b := cdptest.NewBrowser()
	t.Cleanup(b.Close)

	bus := events.New(0, 0)
	t.Cleanup(bus.Close)

	g := newGateway(t, gateway.Config{
		Endpoints: []gateway.Endpoint{{URL: b.URL(), Weight: 2}},
		Pool:      pool.Config{MinIdle: 1, MaxTotal: 2},
	}, gateway.Deps{Bus: bus})
	assert.Same(t, bus, g.Bus())

	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	require.NoError(t, g.Start(ctx))

	lease, err := g.Acquire(ctx)
	require.NoError(t, err)
	session, ok := lease.Session()
	require.True(t, ok)
	assert.True(t, session.IsHealthy())
	require.NoError(t, session.Ping(ctx))
	lease.Release(true)

	require.NoError(t, g.Shutdown(ctx))
	require.NoError(t, g.Shutdown(ctx))

	_, err = g.Acquire(ctx)
	assert.True(t, tetherr.IsClosed(err))
	assert.True(t, tetherr.IsClosed(g.Start(ctx)))
	assert.Eventually(t, func() bool { return b.OpenSockets() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownClosesOwnBus(t *testing.T) {
	g, err := gateway.New(gateway.Config{
		Endpoints: []gateway.Endpoint{{URL: e1}},
	}, gateway.Deps{ConnFactory: newDialer().Factory})
	require.NoError(t, err)

	require.NoError(t, g.Shutdown(context.Background()))
	g.Bus().Emit(events.Healthy, "test", nil)
}

func TestConfigValidation(t *testing.T) {
	_, err := gateway.New(gateway.Config{}, gateway.Deps{})
	assert.True(t, tetherr.IsInvalidInput(err))

	_, err = gateway.New(gateway.Config{
		Endpoints: []gateway.Endpoint{{URL: e1}, {URL: e1}},
	}, gateway.Deps{ConnFactory: newDialer().Factory})
	assert.True(t, tetherr.IsConflict(err))

	_, err = gateway.New(gateway.Config{
		Regions: []gateway.Region{{Name: "A", URL: "mailto:x"}},
	}, gateway.Deps{ConnFactory: newDialer().Factory})
	assert.True(t, tetherr.IsInvalidInput(err))
}

func TestRuntimeEndpointOperations(t *testing.T) {
	b := cdptest.NewBrowser()
	t.Cleanup(b.Close)
	d := newDialer()

	g := newGateway(t, gateway.Config{
		Endpoints: []gateway.Endpoint{{URL: b.URL()}},
		Pool:      pool.Config{MaxTotal: 1, AcquireTimeout: time.Second},
	}, gateway.Deps{ConnFactory: d.Factory})

	require.NoError(t, g.AddEndpoint(e1, 3))
	assert.True(t, tetherr.IsConflict(g.AddEndpoint(e1, 1)))
	assert.Len(t, g.Status().Endpoints, 2)

	require.NoError(t, g.MarkEndpointHealthy(e1))
	require.NoError(t, g.RemoveEndpoint(e1))
	assert.True(t, tetherr.IsNotFound(g.RemoveEndpoint(e1)))

	r := g.CheckHealth(context.Background())
	assert.Equal(t, health.StatusHealthy, r.Overall)
	assert.Len(t, g.HealthHistory(0), 1)

	st := g.Status()
	require.NotNil(t, st.Health)
	assert.Equal(t, health.StatusHealthy, st.Health.Overall)
	assert.Len(t, st.Pools, 1)
	assert.Empty(t, st.Regions)
}
