// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/tether-dev/tether/internal/balancer"
	"github.com/tether-dev/tether/internal/conn"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/internal/monitor"
	"github.com/tether-dev/tether/internal/pool"
	"github.com/tether-dev/tether/internal/region"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. TETHER_POOL_MAX_TOTAL.
const EnvPrefix = "TETHER"

// DefaultEndpoint is a locally started browser with remote debugging on.
const DefaultEndpoint = "ws://127.0.0.1:9222"

// Config is the top-level Tether configuration.
type Config struct {
	Token      string           `mapstructure:"token"`
	Endpoints  []EndpointConfig `mapstructure:"endpoints"`
	Regions    []RegionConfig   `mapstructure:"regions"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Balancer   BalancerConfig   `mapstructure:"balancer"`
	Region     SelectionConfig  `mapstructure:"region"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `mapstructure:"-"`
}

// EndpointConfig is one balanced browser endpoint.
type EndpointConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// RegionConfig is one named browser location.
type RegionConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// ConnectionConfig tunes every healing connection.
type ConnectionConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	LivenessInterval   time.Duration `mapstructure:"liveness_interval"`
	NavigateTimeout    time.Duration `mapstructure:"navigate_timeout"`
	Domains            []string      `mapstructure:"domains"`
	ReconnectPerSecond float64       `mapstructure:"reconnect_per_second"`
	ReconnectBurst     int           `mapstructure:"reconnect_burst"`
}

// PoolConfig bounds each connection pool.
type PoolConfig struct {
	MinIdle             int           `mapstructure:"min_idle"`
	MaxTotal            int           `mapstructure:"max_total"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime         time.Duration `mapstructure:"max_lifetime"`
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// BalancerConfig controls endpoint selection and quarantine.
type BalancerConfig struct {
	Strategy               string        `mapstructure:"strategy"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	FailureCooldown        time.Duration `mapstructure:"failure_cooldown"`
	ProbeInterval          time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout           time.Duration `mapstructure:"probe_timeout"`
	MaxQueueSize           int           `mapstructure:"max_queue_size"`
	QueueTimeout           time.Duration `mapstructure:"queue_timeout"`
	MaxConcurrent          int           `mapstructure:"max_concurrent"`
}

// SelectionConfig controls latency-based region selection.
type SelectionConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	WindowSize       int           `mapstructure:"window_size"`
	SmoothingSamples int           `mapstructure:"smoothing_samples"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

// MonitorConfig controls the out-of-band health monitor.
type MonitorConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	AuxURL      string        `mapstructure:"aux_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HistorySize int           `mapstructure:"history_size"`
	Interval    time.Duration `mapstructure:"interval"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// APIToken guards the mutating endpoints. Empty leaves them open.
	APIToken string `mapstructure:"api_token"`
	// TrustedProxies are CIDRs whose X-Forwarded-For header is honored.
	TrustedProxies []string        `mapstructure:"trusted_proxies"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket. A rate of zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so environment overrides
// resolve and the effective configuration can be printed in full.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("token", "")
	v.SetDefault("endpoints", []map[string]any{{"url": DefaultEndpoint, "weight": 1}})
	v.SetDefault("regions", []map[string]any{})

	v.SetDefault("connection.max_retries", conn.DefaultMaxRetries)
	v.SetDefault("connection.base_delay", conn.DefaultBaseDelay.String())
	v.SetDefault("connection.max_delay", conn.DefaultMaxDelay.String())
	v.SetDefault("connection.command_timeout", conn.DefaultCommandTimeout.String())
	v.SetDefault("connection.stale_after", conn.DefaultStaleAfter.String())
	v.SetDefault("connection.liveness_interval", conn.DefaultLivenessInterval.String())
	v.SetDefault("connection.navigate_timeout", conn.DefaultNavigateTimeout.String())
	v.SetDefault("connection.domains", conn.DefaultDomains)
	v.SetDefault("connection.reconnect_per_second", float64(conn.DefaultReconnectLimit))
	v.SetDefault("connection.reconnect_burst", conn.DefaultReconnectBurst)

	v.SetDefault("pool.min_idle", pool.DefaultMinIdle)
	v.SetDefault("pool.max_total", pool.DefaultMaxTotal)
	v.SetDefault("pool.idle_timeout", pool.DefaultIdleTimeout.String())
	v.SetDefault("pool.max_lifetime", pool.DefaultMaxLifetime.String())
	v.SetDefault("pool.acquire_timeout", pool.DefaultAcquireTimeout.String())
	v.SetDefault("pool.health_check_interval", pool.DefaultHealthCheckInterval.String())
	v.SetDefault("pool.maintenance_interval", pool.DefaultMaintenanceInterval.String())

	v.SetDefault("balancer.strategy", string(balancer.DefaultStrategy))
	v.SetDefault("balancer.max_consecutive_failures", balancer.DefaultMaxConsecutiveFailures)
	v.SetDefault("balancer.failure_cooldown", balancer.DefaultFailureCooldown.String())
	v.SetDefault("balancer.probe_interval", balancer.DefaultProbeInterval.String())
	v.SetDefault("balancer.probe_timeout", balancer.DefaultProbeTimeout.String())
	v.SetDefault("balancer.max_queue_size", balancer.DefaultMaxQueueSize)
	v.SetDefault("balancer.queue_timeout", balancer.DefaultQueueTimeout.String())
	v.SetDefault("balancer.max_concurrent", balancer.DefaultMaxConcurrent)

	v.SetDefault("region.enabled", true)
	v.SetDefault("region.probe_interval", region.DefaultProbeInterval.String())
	v.SetDefault("region.probe_timeout", region.DefaultProbeTimeout.String())
	v.SetDefault("region.window_size", region.DefaultWindowSize)
	v.SetDefault("region.smoothing_samples", region.DefaultSmoothingSamples)
	v.SetDefault("region.failure_threshold", region.DefaultFailureThreshold)

	v.SetDefault("monitor.endpoint", "")
	v.SetDefault("monitor.aux_url", "")
	v.SetDefault("monitor.timeout", monitor.DefaultTimeout.String())
	v.SetDefault("monitor.history_size", monitor.DefaultHistorySize)
	v.SetDefault("monitor.interval", monitor.DefaultInterval.String())

	v.SetDefault("server.listen", "127.0.0.1:9300")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.rate_limit.requests_per_second", 20.0)
	v.SetDefault("server.rate_limit.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// SetupEnv maps TETHER_ prefixed variables onto config keys.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// SearchPaths are the directories tether.yaml is discovered in.
func SearchPaths() []string {
	paths := []string{"."}
	if dir, err := configDir(); err == nil {
		paths = append(paths, dir)
	}
	return append(paths, "/etc/tether")
}

// New returns a viper instance with defaults, environment overrides and the
// file at path. An empty path searches SearchPaths for tether.yaml and is
// not an error when none exists.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tetherr.Errorf(tetherr.CodeConfigLoadReadFailure, "reading config %s: %v", path, err)
		}
		return v, nil
	}

	v.SetConfigName("tether")
	v.SetConfigType("yaml")
	for _, p := range SearchPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, tetherr.Errorf(tetherr.CodeConfigParseInvalidFormat, "reading discovered config: %v", err)
		}
	}
	return v, nil
}

// Load reads, unmarshals and validates the configuration.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper unmarshals and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tetherr.Errorf(tetherr.CodeConfigParseInvalidFormat, "unmarshalling config: %v", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue, "validating config: %v", errors.Join(errs...))
	}
	if cfg.Path != "" {
		WarnInsecurePermissions(cfg.Path)
	}
	return &cfg, nil
}

// Dump renders the effective settings of v as YAML with tokens masked.
func Dump(v *viper.Viper) ([]byte, error) {
	settings := v.AllSettings()
	if tok, _ := settings["token"].(string); tok != "" {
		settings["token"] = "****"
	}
	if srv, ok := settings["server"].(map[string]any); ok {
		if tok, _ := srv["api_token"].(string); tok != "" {
			srv["api_token"] = "****"
		}
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return nil, tetherr.Errorf(tetherr.CodeConfigParseInvalidFormat, "encoding config: %v", err)
	}
	return out, nil
}

// Validate checks the configuration for logical errors.
// It returns every problem found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateTargets()...)
	errs = append(errs, c.validateConnection()...)
	errs = append(errs, c.validatePool()...)
	errs = append(errs, c.validateBalancer()...)
	errs = append(errs, c.validateRegion()...)
	errs = append(errs, c.validateMonitor()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return true
	}
	return false
}

func (c *Config) validateTargets() []error {
	var errs []error

	if len(c.Endpoints) == 0 && len(c.Regions) == 0 {
		errs = append(errs, invalid("at least one of endpoints or regions must be set"))
	} else if len(c.Endpoints) == 0 && !c.Region.Enabled {
		errs = append(errs, invalid("region.enabled is false and no endpoints are set"))
	}

	seen := make(map[string]bool)
	for i, ep := range c.Endpoints {
		if !validURL(ep.URL) {
			errs = append(errs, invalid("endpoints[%d].url must be a ws, wss, http or https URL, got %q", i, ep.URL))
		}
		if ep.Weight < 0 {
			errs = append(errs, invalid("endpoints[%d].weight must not be negative, got %d", i, ep.Weight))
		}
		if seen[ep.URL] {
			errs = append(errs, invalid("endpoints[%d].url %q is listed twice", i, ep.URL))
		}
		seen[ep.URL] = true
	}

	names := make(map[string]bool)
	for i, r := range c.Regions {
		if r.Name == "" {
			errs = append(errs, invalid("regions[%d].name must not be empty", i))
		} else if names[r.Name] {
			errs = append(errs, invalid("regions[%d].name %q is listed twice", i, r.Name))
		}
		names[r.Name] = true
		if !validURL(r.URL) {
			errs = append(errs, invalid("regions[%d].url must be a ws, wss, http or https URL, got %q", i, r.URL))
		}
	}

	return errs
}

func positive(errs []error, key string, d time.Duration) []error {
	if d <= 0 {
		return append(errs, invalid("%s must be a positive duration, got %s", key, d))
	}
	return errs
}

func (c *Config) validateConnection() []error {
	var errs []error
	cc := c.Connection

	if cc.MaxRetries < 0 {
		errs = append(errs, invalid("connection.max_retries must not be negative, got %d", cc.MaxRetries))
	}
	errs = positive(errs, "connection.base_delay", cc.BaseDelay)
	errs = positive(errs, "connection.max_delay", cc.MaxDelay)
	errs = positive(errs, "connection.command_timeout", cc.CommandTimeout)
	errs = positive(errs, "connection.stale_after", cc.StaleAfter)
	errs = positive(errs, "connection.liveness_interval", cc.LivenessInterval)
	errs = positive(errs, "connection.navigate_timeout", cc.NavigateTimeout)
	if cc.MaxDelay > 0 && cc.BaseDelay > cc.MaxDelay {
		errs = append(errs, invalid("connection.base_delay %s exceeds connection.max_delay %s", cc.BaseDelay, cc.MaxDelay))
	}
	if cc.ReconnectPerSecond <= 0 {
		errs = append(errs, invalid("connection.reconnect_per_second must be greater than 0, got %g", cc.ReconnectPerSecond))
	}
	if cc.ReconnectBurst < 1 {
		errs = append(errs, invalid("connection.reconnect_burst must be at least 1, got %d", cc.ReconnectBurst))
	}

	return errs
}

func (c *Config) validatePool() []error {
	var errs []error
	p := c.Pool

	if p.MaxTotal < 1 {
		errs = append(errs, invalid("pool.max_total must be at least 1, got %d", p.MaxTotal))
	}
	if p.MinIdle < 0 || p.MinIdle > p.MaxTotal {
		errs = append(errs, invalid("pool.min_idle must be between 0 and pool.max_total (%d), got %d", p.MaxTotal, p.MinIdle))
	}
	errs = positive(errs, "pool.idle_timeout", p.IdleTimeout)
	errs = positive(errs, "pool.max_lifetime", p.MaxLifetime)
	errs = positive(errs, "pool.acquire_timeout", p.AcquireTimeout)
	errs = positive(errs, "pool.health_check_interval", p.HealthCheckInterval)
	errs = positive(errs, "pool.maintenance_interval", p.MaintenanceInterval)

	return errs
}

func (c *Config) validateBalancer() []error {
	var errs []error
	b := c.Balancer

	if !slices.Contains(balancer.Strategies(), balancer.Strategy(b.Strategy)) {
		names := make([]string, 0, len(balancer.Strategies()))
		for _, s := range balancer.Strategies() {
			names = append(names, string(s))
		}
		errs = append(errs, invalid("balancer.strategy must be one of [%s], got %q", strings.Join(names, ", "), b.Strategy))
	}
	if b.MaxConsecutiveFailures < 1 {
		errs = append(errs, invalid("balancer.max_consecutive_failures must be at least 1, got %d", b.MaxConsecutiveFailures))
	}
	errs = positive(errs, "balancer.failure_cooldown", b.FailureCooldown)
	errs = positive(errs, "balancer.probe_interval", b.ProbeInterval)
	errs = positive(errs, "balancer.probe_timeout", b.ProbeTimeout)
	errs = positive(errs, "balancer.queue_timeout", b.QueueTimeout)
	if b.MaxQueueSize < 1 {
		errs = append(errs, invalid("balancer.max_queue_size must be at least 1, got %d", b.MaxQueueSize))
	}
	if b.MaxConcurrent < 1 {
		errs = append(errs, invalid("balancer.max_concurrent must be at least 1, got %d", b.MaxConcurrent))
	}

	return errs
}

func (c *Config) validateRegion() []error {
	var errs []error
	r := c.Region

	errs = positive(errs, "region.probe_interval", r.ProbeInterval)
	errs = positive(errs, "region.probe_timeout", r.ProbeTimeout)
	if r.WindowSize < 1 {
		errs = append(errs, invalid("region.window_size must be at least 1, got %d", r.WindowSize))
	}
	if r.SmoothingSamples < 1 || r.SmoothingSamples > r.WindowSize {
		errs = append(errs, invalid("region.smoothing_samples must be between 1 and region.window_size (%d), got %d",
			r.WindowSize, r.SmoothingSamples))
	}
	if r.FailureThreshold < 1 {
		errs = append(errs, invalid("region.failure_threshold must be at least 1, got %d", r.FailureThreshold))
	}

	return errs
}

func (c *Config) validateMonitor() []error {
	var errs []error
	m := c.Monitor

	if m.Endpoint != "" && !validURL(m.Endpoint) {
		errs = append(errs, invalid("monitor.endpoint must be a ws, wss, http or https URL, got %q", m.Endpoint))
	}
	if m.AuxURL != "" && !validURL(m.AuxURL) {
		errs = append(errs, invalid("monitor.aux_url must be an http or https URL, got %q", m.AuxURL))
	}
	errs = positive(errs, "monitor.timeout", m.Timeout)
	errs = positive(errs, "monitor.interval", m.Interval)
	if m.HistorySize < 1 {
		errs = append(errs, invalid("monitor.history_size must be at least 1, got %d", m.HistorySize))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %v", c.Server.Listen, err))
		} else if port, err := strconv.Atoi(portStr); err != nil {
			errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
		} else if port < 1 || port > 65535 {
			errs = append(errs, invalid("server.listen port must be between 1 and 65535, got %d", port))
		}
	}

	for i, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			errs = append(errs, invalid("server.trusted_proxies[%d] must be a CIDR range, got %q", i, cidr))
		}
	}

	rl := c.Server.RateLimit
	if rl.RequestsPerSecond < 0 {
		errs = append(errs, invalid("server.rate_limit.requests_per_second must not be negative, got %g", rl.RequestsPerSecond))
	}
	if rl.RequestsPerSecond > 0 && rl.Burst < 1 {
		errs = append(errs, invalid("server.rate_limit.burst must be at least 1 when rate limiting is enabled, got %d", rl.Burst))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}

// Gateway translates the configuration into component settings. Regions are
// dropped when region selection is disabled.
func (c *Config) Gateway() gateway.Config {
	p := pool.Config{
		MinIdle:             c.Pool.MinIdle,
		MaxTotal:            c.Pool.MaxTotal,
		IdleTimeout:         c.Pool.IdleTimeout,
		MaxLifetime:         c.Pool.MaxLifetime,
		AcquireTimeout:      c.Pool.AcquireTimeout,
		HealthCheckInterval: c.Pool.HealthCheckInterval,
		MaintenanceInterval: c.Pool.MaintenanceInterval,
	}

	g := gateway.Config{
		Token: c.Token,
		Conn: conn.Config{
			MaxRetries:       c.Connection.MaxRetries,
			BaseDelay:        c.Connection.BaseDelay,
			MaxDelay:         c.Connection.MaxDelay,
			CommandTimeout:   c.Connection.CommandTimeout,
			StaleAfter:       c.Connection.StaleAfter,
			LivenessInterval: c.Connection.LivenessInterval,
			NavigateTimeout:  c.Connection.NavigateTimeout,
			Domains:          c.Connection.Domains,
			ReconnectLimit:   rate.Limit(c.Connection.ReconnectPerSecond),
			ReconnectBurst:   c.Connection.ReconnectBurst,
		},
		Pool: p,
		Balancer: balancer.Config{
			Strategy:               balancer.Strategy(c.Balancer.Strategy),
			MaxConsecutiveFailures: c.Balancer.MaxConsecutiveFailures,
			FailureCooldown:        c.Balancer.FailureCooldown,
			ProbeInterval:          c.Balancer.ProbeInterval,
			ProbeTimeout:           c.Balancer.ProbeTimeout,
			MaxQueueSize:           c.Balancer.MaxQueueSize,
			QueueTimeout:           c.Balancer.QueueTimeout,
			MaxConcurrent:          c.Balancer.MaxConcurrent,
			Pool:                   p,
		},
		Region: region.Config{
			ProbeInterval:    c.Region.ProbeInterval,
			ProbeTimeout:     c.Region.ProbeTimeout,
			WindowSize:       c.Region.WindowSize,
			SmoothingSamples: c.Region.SmoothingSamples,
			FailureThreshold: c.Region.FailureThreshold,
		},
		Monitor: monitor.Config{
			Endpoint:    c.Monitor.Endpoint,
			Token:       c.Token,
			AuxURL:      c.Monitor.AuxURL,
			Timeout:     c.Monitor.Timeout,
			HistorySize: c.Monitor.HistorySize,
			Interval:    c.Monitor.Interval,
		},
	}
	for _, ep := range c.Endpoints {
		g.Endpoints = append(g.Endpoints, gateway.Endpoint{URL: ep.URL, Weight: ep.Weight})
	}
	if c.Region.Enabled {
		for _, r := range c.Regions {
			g.Regions = append(g.Regions, gateway.Region{Name: r.Name, URL: r.URL})
		}
	}
	return g
}
