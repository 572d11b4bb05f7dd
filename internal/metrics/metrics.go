// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package metrics exposes gateway state in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/pkg/health"
)

const namespace = "tether"

// Source supplies the snapshot read on every scrape.
type Source interface {
	Status() gateway.Status
}

// Metrics owns a registry with the process collectors, the probe histogram
// and any registered snapshot sources.
type Metrics struct {
	registry      *prometheus.Registry
	probeDuration *prometheus.HistogramVec
}

// New builds a registry with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	probe := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "probe_duration_seconds",
		Help:      "Duration of endpoint health checks.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"check"})
	reg.MustRegister(probe)

	return &Metrics{registry: reg, probeDuration: probe}
}

// ProbeDuration is the histogram monitor checks are timed into.
func (m *Metrics) ProbeDuration() prometheus.ObserverVec { return m.probeDuration }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Register adds a collector that reads src on every scrape.
func (m *Metrics) Register(src Source) error {
	return m.registry.Register(NewCollector(src))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var (
	poolConnections = desc("pool", "connections", "Connections per pool by state.", "pool", "state")
	poolAcquires    = desc("pool", "acquires_total", "Successful checkouts.", "pool")
	poolReleases    = desc("pool", "releases_total", "Returned checkouts.", "pool")
	poolErrors      = desc("pool", "errors_total", "Connection creation failures.", "pool")
	poolTimeouts    = desc("pool", "timeouts_total", "Checkouts that timed out.", "pool")
	poolCreated     = desc("pool", "created_total", "Connections opened.", "pool")
	poolDestroyed   = desc("pool", "destroyed_total", "Connections closed.", "pool")

	endpointHealthy   = desc("endpoint", "healthy", "Whether the endpoint is healthy.", "endpoint")
	endpointAvailable = desc("endpoint", "available", "Whether the endpoint can be selected.", "endpoint")
	endpointActive    = desc("endpoint", "active", "In-flight selections.", "endpoint")
	endpointFailures  = desc("endpoint", "consecutive_failures", "Current failure streak.", "endpoint")
	endpointLatency   = desc("endpoint", "latency_seconds", "Rolling average request latency.", "endpoint")
	endpointRequests  = desc("endpoint", "requests_total", "Selections made.", "endpoint")
	endpointFailed    = desc("endpoint", "failed_total", "Selections released as failed.", "endpoint")

	regionUp      = desc("region", "up", "Whether the region is healthy.", "region")
	regionLatency = desc("region", "latency_seconds", "Smoothed handshake latency.", "region")
	regionBest    = desc("region", "best", "Whether the region is the current best pick.", "region")

	healthCheck   = desc("health", "check_healthy", "Latest result per health check.", "check")
	healthOverall = desc("health", "overall", "Latest overall classification, one series per status.", "status")
)

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

// Collector turns a gateway snapshot into constant metrics.
type Collector struct {
	src Source
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		poolConnections, poolAcquires, poolReleases, poolErrors, poolTimeouts, poolCreated, poolDestroyed,
		endpointHealthy, endpointAvailable, endpointActive, endpointFailures, endpointLatency,
		endpointRequests, endpointFailed,
		regionUp, regionLatency, regionBest,
		healthCheck, healthOverall,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()

	for _, p := range st.Pools {
		for state, v := range map[string]int{
			"total":   p.Total,
			"idle":    p.Idle,
			"in_use":  p.InUse,
			"pending": p.Pending,
		} {
			ch <- prometheus.MustNewConstMetric(poolConnections, prometheus.GaugeValue, float64(v), p.Name, state)
		}
		counter(ch, poolAcquires, p.Acquires, p.Name)
		counter(ch, poolReleases, p.Releases, p.Name)
		counter(ch, poolErrors, p.Errors, p.Name)
		counter(ch, poolTimeouts, p.Timeouts, p.Name)
		counter(ch, poolCreated, p.Created, p.Name)
		counter(ch, poolDestroyed, p.Destroyed, p.Name)
	}

	for _, e := range st.Endpoints {
		gauge(ch, endpointHealthy, boolean(e.Healthy), e.URL)
		gauge(ch, endpointAvailable, boolean(e.Available), e.URL)
		gauge(ch, endpointActive, float64(e.Active), e.URL)
		gauge(ch, endpointFailures, float64(e.ConsecutiveFailures), e.URL)
		gauge(ch, endpointLatency, e.AvgLatency.Seconds(), e.URL)
		counter(ch, endpointRequests, e.Total, e.URL)
		counter(ch, endpointFailed, e.Failed, e.URL)
	}

	for _, r := range st.Regions {
		gauge(ch, regionUp, boolean(r.Healthy), r.Name)
		gauge(ch, regionBest, boolean(r.Name == st.Best), r.Name)
		if r.Reachable {
			gauge(ch, regionLatency, r.AvgLatency.Seconds(), r.Name)
		}
	}

	if st.Health != nil {
		for _, check := range st.Health.Checks {
			gauge(ch, healthCheck, boolean(check.Healthy), check.Name)
		}
		for _, s := range []health.Status{health.StatusHealthy, health.StatusDegraded, health.StatusUnhealthy} {
			gauge(ch, healthOverall, boolean(st.Health.Overall == s), string(s))
		}
	}
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, label string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, label)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v int64, label string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), label)
}

func boolean(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
