// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"context"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/pkg/health"
)

// Backend is the gateway surface the ops API reads and drives.
type Backend interface {
	Status() gateway.Status
	CheckHealth(ctx context.Context) health.Report
	HealthHistory(limit int) []health.Report
	AddEndpoint(url string, weight int) error
	RemoveEndpoint(url string) error
	MarkEndpointHealthy(url string) error
	Bus() *events.Bus
}

var _ Backend = (*gateway.Gateway)(nil)
