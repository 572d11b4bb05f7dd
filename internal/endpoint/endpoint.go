// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package endpoint tracks the health and load of one browser endpoint.
package endpoint

import (
	"sync"
	"time"

	"github.com/tether-dev/tether/internal/ring"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

// LatencyWindow is the number of recent latencies averaged.
const LatencyWindow = 20

// Endpoint is created at configuration time and only ever marked unhealthy,
// never deleted, on failure. A failed endpoint's counters survive
// quarantine so recovery can be tracked.
type Endpoint struct {
	url    string
	weight int

	mu                  sync.RWMutex
	healthy             bool
	consecutiveFailures int
	lastCheckedAt       time.Time
	lastFailureAt       time.Time
	lastFailureReason   string
	quarantinedUntil    time.Time
	active              int64
	total               int64
	failed              int64
	succeeded           int64
	latencies           *ring.Buffer[time.Duration]
}

// New returns a healthy endpoint. A zero weight means 1.
func New(url string, weight int) (*Endpoint, error) {
	if _, err := transport.HTTPURL(url, "", ""); err != nil {
		return nil, err
	}
	if weight == 0 {
		weight = 1
	}
	if weight < 1 {
		return nil, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"endpoint weight must be at least 1, got %d", weight)
	}
	return &Endpoint{
		url:       url,
		weight:    weight,
		healthy:   true,
		latencies: ring.New[time.Duration](LatencyWindow),
	}, nil
}

func (e *Endpoint) URL() string { return e.url }

func (e *Endpoint) Weight() int { return e.weight }

// Available reports whether the endpoint may be selected: it is healthy, or
// its quarantine cooldown has elapsed.
func (e *Endpoint) Available(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.availableLocked(now)
}

func (e *Endpoint) availableLocked(now time.Time) bool {
	if e.healthy {
		return true
	}
	return !e.quarantinedUntil.IsZero() && !now.Before(e.quarantinedUntil)
}

// Active returns the number of in-flight selections.
func (e *Endpoint) Active() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Begin records a selection.
func (e *Endpoint) Begin() {
	e.mu.Lock()
	e.active++
	e.total++
	e.mu.Unlock()
}

// Transition is the health change caused by one recorded outcome.
type Transition int

const (
	Unchanged Transition = iota
	// Quarantined means the failure streak reached the limit.
	Quarantined
	// Recovered means a success landed after the quarantine cooldown.
	Recovered
)

// End records the outcome of a selection and reports the resulting health
// transition. An endpoint whose cooldown elapsed is quarantined again on its
// next failure streak, or recovers on its first success.
func (e *Endpoint) End(success bool, latency time.Duration, reason string, maxFailures int, cooldown time.Duration, now time.Time) Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active > 0 {
		e.active--
	}
	if latency > 0 {
		e.latencies.Push(latency)
	}

	if success {
		e.succeeded++
		e.consecutiveFailures = 0
		if !e.healthy && e.availableLocked(now) {
			e.healthy = true
			e.quarantinedUntil = time.Time{}
			return Recovered
		}
		return Unchanged
	}

	e.failed++
	e.consecutiveFailures++
	e.lastFailureAt = now
	e.lastFailureReason = reason
	if now.After(e.lastCheckedAt) {
		e.lastCheckedAt = now
	}

	if maxFailures > 0 && e.consecutiveFailures >= maxFailures && e.availableLocked(now) {
		e.healthy = false
		e.quarantinedUntil = now.Add(cooldown)
		return Quarantined
	}
	return Unchanged
}

// Quarantine marks the endpoint unhealthy until the given time.
func (e *Endpoint) Quarantine(until time.Time, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = false
	e.quarantinedUntil = until
	if reason != "" {
		e.lastFailureReason = reason
	}
}

// Apply records a health check completed at checkedAt. Checks older than
// the latest recorded one are ignored. It reports whether the healthy flag
// changed.
func (e *Endpoint) Apply(ok bool, reason string, checkedAt time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if checkedAt.Before(e.lastCheckedAt) {
		return false
	}
	e.lastCheckedAt = checkedAt

	was := e.healthy
	if ok {
		e.healthy = true
		e.consecutiveFailures = 0
		e.quarantinedUntil = time.Time{}
		return !was
	}

	e.healthy = false
	e.lastFailureAt = checkedAt
	e.lastFailureReason = reason
	if !e.quarantinedUntil.After(checkedAt) {
		e.quarantinedUntil = time.Time{}
	}
	return was
}

// Abandon drops a selection that never reached the endpoint.
func (e *Endpoint) Abandon() {
	e.mu.Lock()
	if e.active > 0 {
		e.active--
	}
	e.mu.Unlock()
}

// Healthy reports the healthy flag.
func (e *Endpoint) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// ConsecutiveFailures returns the current failure streak.
func (e *Endpoint) ConsecutiveFailures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consecutiveFailures
}

// AvgLatency averages the recent latency window.
func (e *Endpoint) AvgLatency() time.Duration {
	samples := e.latencies.Items()
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

// Snapshot returns a point-in-time view safe to serialize.
func (e *Endpoint) Snapshot(now time.Time) health.Metrics {
	avg := e.AvgLatency()

	e.mu.RLock()
	defer e.mu.RUnlock()

	m := health.Metrics{
		URL:                 transport.Redact(e.url),
		Weight:              e.weight,
		Healthy:             e.healthy,
		Available:           e.availableLocked(now),
		ConsecutiveFailures: e.consecutiveFailures,
		LastFailureReason:   e.lastFailureReason,
		Active:              e.active,
		Total:               e.total,
		Failed:              e.failed,
		AvgLatency:          avg,
		SuccessRate:         1,
	}
	if finished := e.succeeded + e.failed; finished > 0 {
		m.SuccessRate = float64(e.succeeded) / float64(finished)
	}
	if !e.lastCheckedAt.IsZero() {
		t := e.lastCheckedAt
		m.LastCheckedAt = &t
	}
	if !e.lastFailureAt.IsZero() {
		t := e.lastFailureAt
		m.LastFailureAt = &t
	}
	if !e.healthy && !e.quarantinedUntil.IsZero() {
		t := e.quarantinedUntil
		m.QuarantinedUntil = &t
	}
	return m
}
