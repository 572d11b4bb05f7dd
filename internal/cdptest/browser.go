// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package cdptest runs a fake CDP browser on an httptest server. It speaks
// the capabilities handshake over HTTP and the browser and page sockets over
// real WebSockets, with knobs for injecting faults.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tether-dev/tether/internal/cdp"
)

// Browser is a fake remote browser.
type Browser struct {
	Server *httptest.Server

	browserID string
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	targets  map[string]cdp.TargetInfo
	commands map[string]int
	latency  time.Duration
	token    string

	down            atomic.Bool
	silent          atomic.Bool
	auxFailing      atomic.Bool
	failVersion     atomic.Int64
	rejectUpgrades  atomic.Int64
	versionHits     atomic.Int64
	browserSockets  atomic.Int64
	pageSockets     atomic.Int64
}

// NewBrowser starts a fake browser. Callers must Close it.
func NewBrowser() *Browser {
	b := &Browser{
		browserID: uuid.NewString(),
		conns:     make(map[*websocket.Conn]struct{}),
		targets:   make(map[string]cdp.TargetInfo),
		commands:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", b.handleVersion)
	mux.HandleFunc("/json/list", b.handleList)
	mux.HandleFunc("/devtools/browser/", b.handleBrowserSocket)
	mux.HandleFunc("/devtools/page/", b.handlePageSocket)
	b.Server = httptest.NewServer(mux)
	return b
}

// URL returns the endpoint address in ws:// form.
func (b *Browser) URL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http")
}

// HTTPURL returns the endpoint address in http:// form.
func (b *Browser) HTTPURL() string {
	return b.Server.URL
}

// BrowserSocketURL returns the browser-level socket address.
func (b *Browser) BrowserSocketURL() string {
	return b.URL() + "/devtools/browser/" + b.browserID
}

// Close drops every socket and stops the server.
func (b *Browser) Close() {
	b.DropConnections()
	b.Server.Close()
}

// SetDown makes every HTTP request and upgrade fail with 503.
func (b *Browser) SetDown(down bool) { b.down.Store(down) }

// SetSilent stops the page socket from answering commands.
func (b *Browser) SetSilent(silent bool) { b.silent.Store(silent) }

// SetAuxFailing makes /json/list answer 500.
func (b *Browser) SetAuxFailing(failing bool) { b.auxFailing.Store(failing) }

// FailNextVersions makes the next n capabilities requests answer 503.
func (b *Browser) FailNextVersions(n int) { b.failVersion.Store(int64(n)) }

// RejectNextUpgrades makes the next n WebSocket upgrades answer 503.
func (b *Browser) RejectNextUpgrades(n int) { b.rejectUpgrades.Store(int64(n)) }

// SetToken requires token as the token query parameter on every request.
func (b *Browser) SetToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

// SetLatency delays every HTTP request and upgrade by d.
func (b *Browser) SetLatency(d time.Duration) {
	b.mu.Lock()
	b.latency = d
	b.mu.Unlock()
}

// DropConnections closes every open socket without a close frame.
func (b *Browser) DropConnections() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// VersionHits counts capabilities requests.
func (b *Browser) VersionHits() int { return int(b.versionHits.Load()) }

// BrowserSockets counts accepted browser-level sockets.
func (b *Browser) BrowserSockets() int { return int(b.browserSockets.Load()) }

// PageSockets counts accepted page-level sockets.
func (b *Browser) PageSockets() int { return int(b.pageSockets.Load()) }

// OpenSockets counts sockets currently open.
func (b *Browser) OpenSockets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Targets returns the number of live page targets.
func (b *Browser) Targets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.targets)
}

// Commands returns how many times method was received.
func (b *Browser) Commands(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commands[method]
}

func (b *Browser) gate(w http.ResponseWriter, r *http.Request) bool {
	b.mu.Lock()
	latency := b.latency
	token := b.token
	b.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	if b.down.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return false
	}
	if token != "" && r.URL.Query().Get("token") != token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (b *Browser) handleVersion(w http.ResponseWriter, r *http.Request) {
	b.versionHits.Add(1)
	if !b.gate(w, r) {
		return
	}
	if consume(&b.failVersion) {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, cdp.VersionInfo{
		Browser:              "HeadlessChrome/126.0.0.0",
		ProtocolVersion:      "1.3",
		UserAgent:            "Mozilla/5.0 HeadlessChrome/126.0.0.0",
		WebSocketDebuggerURL: b.BrowserSocketURL(),
	})
}

func (b *Browser) handleList(w http.ResponseWriter, r *http.Request) {
	if !b.gate(w, r) {
		return
	}
	if b.auxFailing.Load() {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}

	b.mu.Lock()
	list := make([]cdp.TargetInfo, 0, len(b.targets))
	for _, t := range b.targets {
		list = append(list, t)
	}
	b.mu.Unlock()
	writeJSON(w, list)
}

func (b *Browser) handleBrowserSocket(w http.ResponseWriter, r *http.Request) {
	if !b.gate(w, r) {
		return
	}
	if strings.TrimPrefix(r.URL.Path, "/devtools/browser/") != b.browserID {
		http.NotFound(w, r)
		return
	}
	c, ok := b.upgrade(w, r)
	if !ok {
		return
	}
	b.browserSockets.Add(1)
	go b.serve(c, b.browserCommand)
}

func (b *Browser) handlePageSocket(w http.ResponseWriter, r *http.Request) {
	if !b.gate(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/devtools/page/")
	b.mu.Lock()
	_, known := b.targets[id]
	b.mu.Unlock()
	if !known {
		http.NotFound(w, r)
		return
	}
	c, ok := b.upgrade(w, r)
	if !ok {
		return
	}
	b.pageSockets.Add(1)
	go b.serve(c, b.pageCommand)
}

func (b *Browser) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if consume(&b.rejectUpgrades) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return nil, false
	}
	c, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, false
	}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	return c, true
}

type inbound struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type outbound struct {
	ID     *int64     `json:"id,omitempty"`
	Method string     `json:"method,omitempty"`
	Params any        `json:"params,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *cdp.Error `json:"error,omitempty"`
}

type replyFunc func(req inbound) []outbound

func (b *Browser) serve(c *websocket.Conn, handle replyFunc) {
	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = c.Close()
	}()

	var writeMu sync.Mutex
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req inbound
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		b.mu.Lock()
		b.commands[req.Method]++
		b.mu.Unlock()

		for _, msg := range handle(req) {
			writeMu.Lock()
			err := c.WriteJSON(msg)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *Browser) browserCommand(req inbound) []outbound {
	switch req.Method {
	case cdp.MethodCreateTarget:
		id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		var params cdp.CreateTargetParams
		_ = json.Unmarshal(req.Params, &params)

		b.mu.Lock()
		b.targets[id] = cdp.TargetInfo{
			ID:                   id,
			Type:                 "page",
			URL:                  params.URL,
			WebSocketDebuggerURL: b.URL() + "/devtools/page/" + id,
		}
		b.mu.Unlock()
		return []outbound{reply(req.ID, cdp.CreateTargetResult{TargetID: id})}
	case cdp.MethodCloseTarget:
		var params cdp.CloseTargetParams
		_ = json.Unmarshal(req.Params, &params)
		b.mu.Lock()
		delete(b.targets, params.TargetID)
		b.mu.Unlock()
		return []outbound{reply(req.ID, map[string]bool{"success": true})}
	default:
		return []outbound{unknown(req)}
	}
}

func (b *Browser) pageCommand(req inbound) []outbound {
	if b.silent.Load() {
		return nil
	}

	switch {
	case strings.HasSuffix(req.Method, ".enable"):
		return []outbound{reply(req.ID, struct{}{})}
	case req.Method == cdp.MethodNavigate:
		var params cdp.NavigateParams
		_ = json.Unmarshal(req.Params, &params)
		if strings.Contains(params.URL, "unreachable") {
			return []outbound{reply(req.ID, cdp.NavigateResult{FrameID: "F1", ErrorText: "net::ERR_NAME_NOT_RESOLVED"})}
		}
		return []outbound{
			reply(req.ID, cdp.NavigateResult{FrameID: "F1", LoaderID: "L1"}),
			{Method: cdp.EventLoadEventFired, Params: map[string]float64{"timestamp": float64(time.Now().Unix())}},
		}
	case req.Method == cdp.MethodEvaluate:
		return []outbound{reply(req.ID, cdp.EvaluateResult{Result: cdp.RemoteObject{
			Type:  "number",
			Value: json.RawMessage("1"),
		}})}
	default:
		return []outbound{unknown(req)}
	}
}

func reply(id int64, result any) outbound {
	return outbound{ID: &id, Result: result}
}

func unknown(req inbound) outbound {
	id := req.ID
	return outbound{ID: &id, Error: &cdp.Error{Code: -32601, Message: "'" + req.Method + "' wasn't found"}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func consume(counter *atomic.Int64) bool {
	for {
		n := counter.Load()
		if n <= 0 {
			return false
		}
		if counter.CompareAndSwap(n, n-1) {
			return true
		}
	}
}
