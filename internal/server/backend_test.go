// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/internal/pool"
	"github.com/tether-dev/tether/internal/region"
	"github.com/tether-dev/tether/internal/server"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

// fakeBackend serves a fixed snapshot and records mutations.
type fakeBackend struct {
	mu        sync.Mutex
	status    gateway.Status
	history   []health.Report
	checks    int
	removed   []string
	bus       *events.Bus
	addErr    error
	removeErr error
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	bus := events.New(16, 16)
	t.Cleanup(bus.Close)
	return &fakeBackend{
		bus: bus,
		status: gateway.Status{
			Pools: []pool.Stats{{Name: "ws://e1:9222", Total: 2, Idle: 1, InUse: 1, Acquires: 5}},
			Endpoints: []health.Metrics{
				{URL: "ws://e1:9222", Weight: 1, Healthy: true, Available: true},
			},
			Regions: []region.Info{
				{Name: "eu", URL: "ws://eu:9222", Healthy: true, Reachable: true, AvgLatency: 20 * time.Millisecond},
				{Name: "us", URL: "ws://us:9222", Healthy: false},
			},
			Best: "eu",
		},
	}
}

func (f *fakeBackend) Status() gateway.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.Endpoints = append([]health.Metrics(nil), f.status.Endpoints...)
	return st
}

func (f *fakeBackend) CheckHealth(context.Context) health.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return health.Report{
		Overall:   health.StatusHealthy,
		Checks:    []health.CheckResult{{Name: health.CheckWebSocket, Healthy: true}},
		Timestamp: time.Now(),
	}
}

func (f *fakeBackend) HealthHistory(limit int) []health.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit >= len(f.history) {
		return f.history
	}
	return f.history[len(f.history)-limit:]
}

func (f *fakeBackend) AddEndpoint(url string, weight int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	for _, m := range f.status.Endpoints {
		if m.URL == url {
			return tetherr.New(tetherr.CodeBalancerEndpointExists, "endpoint already registered")
		}
	}
	if weight == 0 {
		weight = 1
	}
	f.status.Endpoints = append(f.status.Endpoints, health.Metrics{URL: url, Weight: weight, Healthy: true, Available: true})
	return nil
}

func (f *fakeBackend) RemoveEndpoint(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for i, m := range f.status.Endpoints {
		if m.URL == url {
			f.status.Endpoints = append(f.status.Endpoints[:i], f.status.Endpoints[i+1:]...)
			f.removed = append(f.removed, url)
			return nil
		}
	}
	return tetherr.New(tetherr.CodeBalancerEndpointUnknown, "endpoint not registered")
}

func (f *fakeBackend) MarkEndpointHealthy(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.status.Endpoints {
		if m.URL == url {
			f.status.Endpoints[i].Healthy = true
			f.status.Endpoints[i].ConsecutiveFailures = 0
			f.status.Endpoints[i].QuarantinedUntil = nil
			return nil
		}
	}
	return tetherr.New(tetherr.CodeBalancerEndpointUnknown, "endpoint not registered")
}

func (f *fakeBackend) Bus() *events.Bus { return f.bus }

func (f *fakeBackend) setHealth(r *health.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Health = r
}

func newTestServer(t *testing.T, b server.Backend, opts ...func(*server.Config)) *server.Server {
	t.Helper()
	cfg := server.Config{ListenAddr: "127.0.0.1:0"}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := server.New(cfg, server.Deps{Backend: b})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}
