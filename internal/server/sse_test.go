// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/server"
)

type sseFrame struct {
	event string
	data  string
}

// openStream connects to the event stream and returns parsed frames.
func openStream(t *testing.T, srv *server.Server, query string) <-chan sseFrame {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events/stream"+query, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan sseFrame, 16)
	go func() {
		defer close(frames)
		sc := bufio.NewScanner(resp.Body)
		var cur sseFrame
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			case line == "" && cur.event != "":
				frames <- cur
				cur = sseFrame{}
			}
		}
	}()
	return frames
}

func next(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseFrame{}
	}
}

func TestEventStream_DeliversEvents(t *testing.T) {
	b := newFakeBackend(t)
	frames := openStream(t, newTestServer(t, b), "")

	b.bus.Emit(events.RegionChanged, "eu", map[string]string{"from": "us", "to": "eu"})

	f := next(t, frames)
	assert.Equal(t, string(events.RegionChanged), f.event)

	var e struct {
		Name    string            `json:"name"`
		Source  string            `json:"source"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.data), &e))
	assert.Equal(t, "eu", e.Source)
	assert.Equal(t, "us", e.Payload["from"])
}

func TestEventStream_FiltersByName(t *testing.T) {
	b := newFakeBackend(t)
	frames := openStream(t, newTestServer(t, b), "?name=endpointHealthy,%20endpointUnhealthy")

	b.bus.Emit(events.Connected, "ws://e1:9222", nil)
	b.bus.Emit(events.EndpointUnhealthy, "ws://e1:9222", nil)
	b.bus.Emit(events.PoolExhausted, "ws://e1:9222", nil)
	b.bus.Emit(events.EndpointHealthy, "ws://e1:9222", nil)

	assert.Equal(t, string(events.EndpointUnhealthy), next(t, frames).event)
	assert.Equal(t, string(events.EndpointHealthy), next(t, frames).event)
}

func TestEventStream_WithoutBus(t *testing.T) {
	b := newFakeBackend(t)
	b.bus = nil
	srv := newTestServer(t, b)

	w := do(t, srv, http.MethodGet, "/api/v1/events/stream", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
