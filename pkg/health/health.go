// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package health

import "time"

// Status classifies reachability of a browser endpoint.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check names reported by the health monitor.
const (
	CheckControlHTTP = "control_http"
	CheckAuxHTTP     = "aux_http"
	CheckWebSocket   = "websocket"
)

// CheckResult is the outcome of a single probe.
type CheckResult struct {
	Name         string        `json:"name"`
	Healthy      bool          `json:"healthy"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
}

// Report is an immutable aggregate of probe results taken at one point in time.
type Report struct {
	Overall   Status        `json:"overall"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
}

// Check returns the named check result, if present.
func (r Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Classify derives the overall status from individual results: healthy iff
// every check passed, unhealthy iff none did, degraded otherwise.
func Classify(checks []CheckResult) Status {
	if len(checks) == 0 {
		return StatusUnhealthy
	}

	passed := 0
	for _, c := range checks {
		if c.Healthy {
			passed++
		}
	}

	switch passed {
	case len(checks):
		return StatusHealthy
	case 0:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}

// Metrics exposes the health and load state of an endpoint for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	URL                 string        `json:"url"`
	Weight              int           `json:"weight"`
	Healthy             bool          `json:"healthy"`
	Available           bool          `json:"available"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailureReason   string        `json:"last_failure_reason,omitempty"`
	LastCheckedAt       *time.Time    `json:"last_checked_at,omitempty"`
	LastFailureAt       *time.Time    `json:"last_failure_at,omitempty"`
	QuarantinedUntil    *time.Time    `json:"quarantined_until,omitempty"`
	Active              int64         `json:"active"`
	Total               int64         `json:"total"`
	Failed              int64         `json:"failed"`
	AvgLatency          time.Duration `json:"avg_latency"`
	SuccessRate         float64       `json:"success_rate"`
}
