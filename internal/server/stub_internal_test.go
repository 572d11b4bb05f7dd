// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"context"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/pkg/health"
)

// stubBackend is an empty gateway for middleware tests.
type stubBackend struct{}

func (stubBackend) Status() gateway.Status { return gateway.Status{} }
func (stubBackend) CheckHealth(context.Context) health.Report { return health.Report{} }
func (stubBackend) HealthHistory(int) []health.Report { return nil }
func (stubBackend) AddEndpoint(string, int) error { return nil }
func (stubBackend) RemoveEndpoint(string) error { return nil }
func (stubBackend) MarkEndpointHealthy(string) error { return nil }
func (stubBackend) Bus() *events.Bus { return nil }
