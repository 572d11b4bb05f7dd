// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package transport holds the network dependencies injected into the
// connection, region and health components: a WebSocket dialer, an HTTP
// capabilities prober and URL helpers.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// DefaultHandshakeTimeout bounds a WebSocket opening handshake.
const DefaultHandshakeTimeout = 5 * time.Second

// Socket is one message-oriented, full-duplex connection. Read must be
// called from a single goroutine; Write is safe for concurrent use.
type Socket interface {
	Read() ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Socket, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewWebSocketDialer returns a dialer with the default handshake timeout.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: DefaultHandshakeTimeout}
}

// Dial opens a WebSocket. Network failures map to conn.connect.failure and a
// rejected upgrade maps to conn.handshake.failure.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	c, resp, err := dialer.DialContext(ctx, rawURL, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return nil, tetherr.New(tetherr.CodeConnHandshakeFailure, "websocket upgrade rejected",
				tetherr.FieldEndpoint(Redact(rawURL)),
				tetherr.Field("status", status),
			)
		}
		return nil, tetherr.Wrapf(err, tetherr.CodeConnConnectFailure, "dialing %s", Redact(rawURL))
	}

	return &wsSocket{conn: c}, nil
}

type wsSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *wsSocket) Read() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, tetherr.Errorf(tetherr.CodeConnSocketClosed, "reading message: %v", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return tetherr.Errorf(tetherr.CodeConnSocketClosed, "setting write deadline: %v", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return tetherr.Errorf(tetherr.CodeConnSocketClosed, "writing message: %v", err)
	}
	return nil
}

// Close sends a close frame when possible and releases the connection once.
func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// HandshakeRTT opens and immediately closes a socket, returning the round
// trip of the opening handshake.
func HandshakeRTT(ctx context.Context, d Dialer, rawURL string) (time.Duration, error) {
	start := time.Now()
	s, err := d.Dial(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	_ = s.Close()
	return rtt, nil
}
