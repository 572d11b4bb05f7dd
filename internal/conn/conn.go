// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package conn implements the healing connection: one two-level CDP session
// (a browser-level socket that owns target creation and a page-level socket
// that carries commands) which reconnects itself with exponential backoff
// when either socket drops.
package conn

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tether-dev/tether/internal/cdp"
	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/schedule"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

const (
	DefaultMaxRetries       = 3
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultMaxDelay         = 10 * time.Second
	DefaultCommandTimeout   = 10 * time.Second
	DefaultStaleAfter       = 60 * time.Second
	DefaultLivenessInterval = 15 * time.Second
	DefaultNavigateTimeout  = 30 * time.Second
	DefaultReconnectBurst   = 3

	blankPage        = "about:blank"
	closeTargetGrace = time.Second
)

// DefaultDomains are enabled on every page socket.
var DefaultDomains = []string{"Page", "Runtime"}

// DefaultReconnectLimit caps background reconnect cycles once the burst is
// spent.
var DefaultReconnectLimit = rate.Every(time.Second)

// Config configures one healing connection. Zero values take the defaults;
// a negative MaxRetries disables retries.
type Config struct {
	Endpoint         string
	Token            string
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	CommandTimeout   time.Duration
	StaleAfter       time.Duration
	LivenessInterval time.Duration
	NavigateTimeout  time.Duration
	Domains          []string
	ReconnectLimit   rate.Limit
	ReconnectBurst   int
}

func (c Config) withDefaults() Config {
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.LivenessInterval == 0 {
		c.LivenessInterval = DefaultLivenessInterval
	}
	if c.NavigateTimeout == 0 {
		c.NavigateTimeout = DefaultNavigateTimeout
	}
	if c.Domains == nil {
		c.Domains = DefaultDomains
	}
	if c.ReconnectLimit == 0 {
		c.ReconnectLimit = DefaultReconnectLimit
	}
	if c.ReconnectBurst == 0 {
		c.ReconnectBurst = DefaultReconnectBurst
	}
	return c
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := transport.HTTPURL(c.Endpoint, "", ""); err != nil {
		return err
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"base delay", c.BaseDelay},
		{"max delay", c.MaxDelay},
		{"command timeout", c.CommandTimeout},
		{"stale after", c.StaleAfter},
		{"liveness interval", c.LivenessInterval},
		{"navigate timeout", c.NavigateTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
				"connection %s must be positive, got %s", p.name, p.value)
		}
	}
	if c.MaxDelay < c.BaseDelay {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"connection max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.ReconnectBurst < 1 {
		return tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"connection reconnect burst must be at least 1, got %d", c.ReconnectBurst)
	}
	return nil
}

// Deps are the injected collaborators of a connection.
type Deps struct {
	Dialer transport.Dialer
	Prober transport.Prober
	Bus    *events.Bus
	Now    func() time.Time
}

// Change is the payload of connection lifecycle events.
type Change struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
}

// Info is a point-in-time view of a connection.
type Info struct {
	ID           string    `json:"id"`
	Endpoint     string    `json:"endpoint"`
	State        string    `json:"state"`
	TargetID     string    `json:"target_id,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Pending      int       `json:"pending"`
}

// link is one established pair of sockets.
type link struct {
	browser  *session
	page     *session
	targetID string
}

func (l *link) close() {
	if l == nil {
		return
	}
	if l.page != nil {
		l.page.close()
	}
	if l.browser != nil {
		l.browser.close()
	}
}

func (l *link) dead() bool {
	for _, s := range []*session{l.browser, l.page} {
		select {
		case <-s.done:
			return true
		default:
		}
	}
	return false
}

// Conn is a self-healing CDP session against one endpoint.
type Conn struct {
	id      string
	cfg     Config
	dialer  transport.Dialer
	prober  transport.Prober
	bus     *events.Bus
	nowFunc func() time.Time
	limiter *rate.Limiter
	group   *schedule.Group
	ids     atomic.Int64

	mu           sync.Mutex
	state        State
	link         *link
	ready        chan struct{}
	lastErr      error
	lastActivity time.Time
	closed       bool
}

// New builds an idle connection and starts its liveness check.
func New(cfg Config, deps Deps) (*Conn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Dialer == nil {
		deps.Dialer = transport.NewWebSocketDialer()
	}
	if deps.Prober == nil {
		deps.Prober = transport.NewHTTPProber(cfg.CommandTimeout)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Conn{
		id:      uuid.NewString(),
		cfg:     cfg,
		dialer:  deps.Dialer,
		prober:  deps.Prober,
		bus:     deps.Bus,
		nowFunc: deps.Now,
		limiter: rate.NewLimiter(cfg.ReconnectLimit, cfg.ReconnectBurst),
		group:   schedule.NewGroup("conn"),
		state:   StateIdle,
	}
	c.group.Every("liveness", cfg.LivenessInterval, c.checkLiveness)
	return c, nil
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Endpoint() string { return c.cfg.Endpoint }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsHealthy reports whether the connection is connected and has seen traffic
// within the staleness window.
func (c *Conn) IsHealthy() bool {
	return c.State() == StateHealthy
}

// Info returns a snapshot for reporting.
func (c *Conn) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		ID:           c.id,
		Endpoint:     transport.Redact(c.cfg.Endpoint),
		State:        c.state.String(),
		LastActivity: c.lastActivity,
	}
	if c.link != nil {
		info.TargetID = c.link.targetID
		info.Pending = c.link.page.pendingCount() + c.link.browser.pendingCount()
	}
	return info
}

// Connect performs the two-level handshake, retrying with backoff. It
// returns nil at once when already connected and joins an in-flight attempt
// when one is running.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closedErr()
	}
	switch {
	case c.state.Connected():
		c.mu.Unlock()
		return nil
	case c.state == StateConnecting:
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return tetherr.Wrap(ctx.Err(), tetherr.CodeConnConnectFailure, "waiting for connect",
				tetherr.FieldConnID(c.id))
		}
		return c.connectResult()
	}
	c.transitionLocked(StateConnecting)
	c.ready = make(chan struct{})
	c.mu.Unlock()

	ctx, cancel := c.bind(ctx)
	defer cancel()

	l, err := c.establish(ctx)
	return c.finish(l, err)
}

// SendCommand issues a page-level command and returns its result payload.
// Commands are not replayed across a reconnect; a command in flight when the
// socket drops fails with conn.socket.closed.
func (c *Conn) SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s, err := c.awaitSession(ctx, false)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, method, params, c.cfg.CommandTimeout)
}

// BrowserCommand issues a browser-level command.
func (c *Conn) BrowserCommand(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s, err := c.awaitSession(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, method, params, c.cfg.CommandTimeout)
}

// Navigate loads url and waits for the load event. Transient failures heal
// the connection and retry; a load error reported by the browser does not.
func (c *Conn) Navigate(ctx context.Context, url string) (cdp.NavigateResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		res, err := c.navigateOnce(ctx, url)
		if err == nil {
			return res, nil
		}
		if !tetherr.IsTransient(err) || ctx.Err() != nil {
			return res, err
		}

		lastErr = err
		slog.Warn("navigation failed",
			"conn", c.id,
			"endpoint", transport.Redact(c.cfg.Endpoint),
			"attempt", attempt+1,
			"error", err,
		)
		if attempt < c.cfg.MaxRetries {
			c.heal(ctx)
		}
	}

	return cdp.NavigateResult{}, tetherr.With(
		tetherr.Errorf(tetherr.CodeConnRetryExhausted, "navigating after %d attempts: %v", c.cfg.MaxRetries+1, lastErr),
		tetherr.FieldConnID(c.id),
		tetherr.Field("url", url),
	)
}

// Evaluate runs expr in the page and returns its value.
func (c *Conn) Evaluate(ctx context.Context, expr string) (cdp.RemoteObject, error) {
	raw, err := c.SendCommand(ctx, cdp.MethodEvaluate, cdp.EvaluateParams{Expression: expr, ReturnByValue: true})
	if err != nil {
		return cdp.RemoteObject{}, err
	}
	res, err := cdp.DecodeResult[cdp.EvaluateResult](raw)
	if err != nil {
		return cdp.RemoteObject{}, err
	}
	if res.ExceptionDetails != nil {
		return res.Result, tetherr.New(tetherr.CodeCDPCommandProtocol, res.ExceptionDetails.Text,
			tetherr.FieldMethod(cdp.MethodEvaluate))
	}
	return res.Result, nil
}

// Ping proves the session is alive with a round trip through the page.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Evaluate(ctx, "1")
	return err
}

// Close is terminal. It closes the page target, both sockets and the
// background loops. Later calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.link = nil
	if c.state != StateDisconnected {
		c.transitionLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if l != nil {
		c.closeTarget(l)
		l.close()
	}
	c.group.Stop()
	c.emit(events.Disconnected, "closed")
	return nil
}

func (c *Conn) navigateOnce(ctx context.Context, url string) (cdp.NavigateResult, error) {
	s, err := c.awaitSession(ctx, false)
	if err != nil {
		return cdp.NavigateResult{}, err
	}

	loaded, stop := s.waitEvent(cdp.EventLoadEventFired)
	defer stop()

	raw, err := s.send(ctx, cdp.MethodNavigate, cdp.NavigateParams{URL: url}, c.cfg.CommandTimeout)
	if err != nil {
		return cdp.NavigateResult{}, err
	}
	res, err := cdp.DecodeResult[cdp.NavigateResult](raw)
	if err != nil {
		return cdp.NavigateResult{}, err
	}
	if res.ErrorText != "" {
		return res, tetherr.New(tetherr.CodeConnNavigateFailure, res.ErrorText,
			tetherr.FieldConnID(c.id), tetherr.Field("url", url))
	}

	timer := time.NewTimer(c.cfg.NavigateTimeout)
	defer timer.Stop()

	select {
	case <-loaded:
		return res, nil
	case <-s.done:
		return res, s.closedErr()
	case <-timer.C:
		return res, tetherr.New(tetherr.CodeConnNavigateTimeout, "load event not received",
			tetherr.FieldConnID(c.id), tetherr.Field("url", url))
	case <-ctx.Done():
		return res, contextErr(ctx, cdp.MethodNavigate)
	}
}

// heal replaces a connected link or restarts a terminal connection.
func (c *Conn) heal(ctx context.Context) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
	case c.state.Connected():
		l := c.link
		c.mu.Unlock()
		c.drop(l, "healing after command failure")
	case c.state == StateDisconnected:
		c.mu.Unlock()
		_ = c.Connect(ctx)
	default:
		c.mu.Unlock()
	}
}

// awaitSession returns the live page (or browser) session, waiting for an
// in-flight reconnect for at most the command timeout.
func (c *Conn) awaitSession(ctx context.Context, browser bool) (*session, error) {
	wait := time.NewTimer(c.cfg.CommandTimeout)
	defer wait.Stop()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, c.closedErr()
		}
		if c.state.Connected() {
			s := c.link.page
			if browser {
				s = c.link.browser
			}
			c.mu.Unlock()
			return s, nil
		}
		if c.state != StateConnecting {
			state, cause := c.state, c.lastErr
			c.mu.Unlock()
			err := tetherr.New(tetherr.CodeConnNotConnected, "connection is "+state.String(),
				tetherr.FieldConnID(c.id))
			if cause != nil {
				err = tetherr.Errorf(tetherr.CodeConnNotConnected, "connection is %s: %v", state, cause)
			}
			return nil, err
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-wait.C:
			return nil, tetherr.New(tetherr.CodeConnCommandTimeout, "timed out waiting for reconnect",
				tetherr.FieldConnID(c.id))
		case <-ctx.Done():
			return nil, contextErr(ctx, "")
		}
	}
}

// establish runs the handshake up to MaxRetries+1 times.
func (c *Conn) establish(ctx context.Context) (*link, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, tetherr.Wrap(err, tetherr.CodeConnConnectFailure, "connect aborted",
					tetherr.FieldConnID(c.id))
			}
		}

		l, err := c.dial(ctx)
		if err == nil {
			return l, nil
		}
		lastErr = err
		slog.Warn("connect attempt failed",
			"conn", c.id,
			"endpoint", transport.Redact(c.cfg.Endpoint),
			"attempt", attempt+1,
			"error", err,
		)
		if ctx.Err() != nil {
			return nil, tetherr.Wrap(ctx.Err(), tetherr.CodeConnConnectFailure, "connect aborted",
				tetherr.FieldConnID(c.id))
		}
	}

	return nil, tetherr.With(
		tetherr.Errorf(tetherr.CodeConnRetryExhausted, "connect failed after %d attempts: %v", c.cfg.MaxRetries+1, lastErr),
		tetherr.FieldConnID(c.id),
		tetherr.FieldEndpoint(transport.Redact(c.cfg.Endpoint)),
	)
}

// dial performs one handshake: capabilities probe, browser socket, target
// creation, page socket and domain enablement. Any failure closes what was
// opened.
func (c *Conn) dial(ctx context.Context) (*link, error) {
	browserURL, err := transport.BrowserURL(ctx, c.prober, c.cfg.Endpoint, c.cfg.Token)
	if err != nil {
		return nil, err
	}
	bsock, err := c.dialer.Dial(ctx, browserURL)
	if err != nil {
		return nil, err
	}
	l := &link{browser: newSession("browser", bsock, &c.ids)}
	if !c.spawn(l.browser) {
		l.close()
		return nil, c.closedErr()
	}

	raw, err := l.browser.send(ctx, cdp.MethodCreateTarget, cdp.CreateTargetParams{URL: blankPage}, c.cfg.CommandTimeout)
	if err != nil {
		l.close()
		return nil, err
	}
	target, err := cdp.DecodeResult[cdp.CreateTargetResult](raw)
	if err == nil && target.TargetID == "" {
		err = tetherr.New(tetherr.CodeConnHandshakeFailure, "create target returned no id")
	}
	if err != nil {
		l.close()
		return nil, err
	}
	l.targetID = target.TargetID

	pageURL, err := transport.WSURL(c.cfg.Endpoint, transport.PagePath(l.targetID), c.cfg.Token)
	if err != nil {
		c.closeTarget(l)
		l.close()
		return nil, err
	}
	psock, err := c.dialer.Dial(ctx, pageURL)
	if err != nil {
		c.closeTarget(l)
		l.close()
		return nil, err
	}
	l.page = newSession("page", psock, &c.ids)
	if !c.spawn(l.page) {
		l.close()
		return nil, c.closedErr()
	}

	for _, domain := range c.cfg.Domains {
		if _, err := l.page.send(ctx, cdp.EnableMethod(domain), nil, c.cfg.CommandTimeout); err != nil {
			c.closeTarget(l)
			l.close()
			return nil, err
		}
	}
	return l, nil
}

// finish installs an established link or records the terminal failure.
func (c *Conn) finish(l *link, err error) error {
	c.mu.Lock()
	if c.closed {
		c.closeReadyLocked()
		c.mu.Unlock()
		l.close()
		return c.closedErr()
	}
	if err == nil && l.dead() {
		l.close()
		err = tetherr.New(tetherr.CodeConnSocketClosed, "socket closed during handshake",
			tetherr.FieldConnID(c.id))
	}
	if err != nil {
		c.lastErr = err
		c.transitionLocked(StateDisconnected)
		c.closeReadyLocked()
		c.mu.Unlock()
		slog.Warn("connection gave up",
			"conn", c.id,
			"endpoint", transport.Redact(c.cfg.Endpoint),
			"error", err,
		)
		c.emit(events.Disconnected, "retries exhausted")
		return err
	}

	c.link = l
	c.lastErr = nil
	c.lastActivity = c.nowFunc()
	c.transitionLocked(StateHealthy)
	c.closeReadyLocked()
	c.mu.Unlock()

	slog.Info("connection established",
		"conn", c.id,
		"endpoint", transport.Redact(c.cfg.Endpoint),
		"target", l.targetID,
	)
	c.emit(events.Connected, "")
	return nil
}

// connectResult reports the outcome of an attempt another caller ran.
func (c *Conn) connectResult() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return c.closedErr()
	case c.state.Connected():
		return nil
	case c.lastErr != nil:
		return c.lastErr
	default:
		return tetherr.New(tetherr.CodeConnNotConnected, "connection is "+c.state.String(),
			tetherr.FieldConnID(c.id))
	}
}

// onSocketClosed is called from a read loop when its socket fails.
func (c *Conn) onSocketClosed(s *session, err error) {
	c.mu.Lock()
	l := c.link
	installed := l != nil && (l.browser == s || l.page == s)
	c.mu.Unlock()

	if installed {
		c.drop(l, err.Error())
	}
}

// drop tears down l if it is still the live link and starts a background
// reconnect.
func (c *Conn) drop(l *link, reason string) {
	c.mu.Lock()
	if c.closed || c.link != l || l == nil {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.transitionLocked(StateConnecting)
	c.ready = make(chan struct{})
	c.mu.Unlock()

	l.close()
	slog.Warn("connection dropped, reconnecting",
		"conn", c.id,
		"endpoint", transport.Redact(c.cfg.Endpoint),
		"reason", reason,
	)
	c.emit(events.Disconnected, reason)

	if !c.group.Go("reconnect", c.reconnect) {
		_ = c.finish(nil, c.closedErr())
	}
}

func (c *Conn) reconnect(ctx context.Context) {
	if err := c.limiter.Wait(ctx); err != nil {
		_ = c.finish(nil, tetherr.Wrap(err, tetherr.CodeConnConnectFailure, "reconnect aborted",
			tetherr.FieldConnID(c.id)))
		return
	}
	l, err := c.establish(ctx)
	_ = c.finish(l, err)
}

// checkLiveness flags a connected session unhealthy once no inbound traffic
// was seen for StaleAfter.
func (c *Conn) checkLiveness(context.Context) {
	c.mu.Lock()
	if c.state != StateHealthy || c.nowFunc().Sub(c.lastActivity) <= c.cfg.StaleAfter {
		c.mu.Unlock()
		return
	}
	idle := c.nowFunc().Sub(c.lastActivity)
	c.transitionLocked(StateUnhealthy)
	c.mu.Unlock()

	slog.Warn("connection stale",
		"conn", c.id,
		"endpoint", transport.Redact(c.cfg.Endpoint),
		"idle", idle,
	)
	c.emit(events.Unhealthy, "no traffic within staleness window")
}

// touch records inbound traffic.
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = c.nowFunc()
	recovered := c.state == StateUnhealthy
	if recovered {
		c.transitionLocked(StateHealthy)
	}
	c.mu.Unlock()

	if recovered {
		c.emit(events.Healthy, "traffic observed")
	}
}

func (c *Conn) spawn(s *session) bool {
	ok := c.group.Go(s.level+"-reader", func(context.Context) {
		s.run(c.touch, c.onSocketClosed)
	})
	return ok
}

func (c *Conn) closeTarget(l *link) {
	if l.browser == nil || l.targetID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTargetGrace)
	defer cancel()
	_, _ = l.browser.send(ctx, cdp.MethodCloseTarget, cdp.CloseTargetParams{TargetID: l.targetID}, closeTargetGrace)
}

func (c *Conn) backoff(attempt int) time.Duration {
	d := c.cfg.BaseDelay
	for range attempt {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return min(d, c.cfg.MaxDelay)
}

// bind derives a context that is also cancelled when the connection closes.
func (c *Conn) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.group.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Conn) transitionLocked(to State) {
	if !ValidTransition(c.state, to) {
		slog.Error("invalid connection state transition", "conn", c.id, "from", c.state, "to", to)
		return
	}
	c.state = to
}

func (c *Conn) closeReadyLocked() {
	if c.ready != nil {
		close(c.ready)
		c.ready = nil
	}
}

func (c *Conn) closedErr() error {
	return tetherr.New(tetherr.CodeConnStateClosed, "connection closed", tetherr.FieldConnID(c.id))
}

func (c *Conn) emit(name events.Name, reason string) {
	c.bus.Emit(name, c.id, Change{
		ID:       c.id,
		Endpoint: transport.Redact(c.cfg.Endpoint),
		State:    c.State().String(),
		Reason:   reason,
	})
}

func (s *session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return tetherr.New(tetherr.CodeConnSocketClosed, s.level+" socket closed")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
