// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/cdp"
	"github.com/tether-dev/tether/internal/cdptest"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func TestURLHelpers(t *testing.T) {
	u, err := transport.HTTPURL("wss://eu.example.com:443/", transport.PathVersion, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "https://eu.example.com:443/json/version?token=s3cret", u)

	u, err = transport.WSURL("http://127.0.0.1:9222", transport.PagePath("ABC"), "")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/page/ABC", u)

	u, err = transport.WithToken("ws://h/devtools/browser/x?token=old", "new")
	require.NoError(t, err)
	assert.Equal(t, "ws://h/devtools/browser/x?token=new", u)

	_, err = transport.HTTPURL("ftp://h", "", "")
	assert.True(t, tetherr.IsInvalidInput(err))

	_, err = transport.WSURL("ws://", "", "")
	assert.True(t, tetherr.IsInvalidInput(err))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "wss://h/x?token=REDACTED", transport.Redact("wss://h/x?token=abc"))
	assert.Equal(t, "ws://user:REDACTED@h/", transport.Redact("ws://user:pw@h/"))
	assert.Equal(t, "ws://h/plain", transport.Redact("ws://h/plain"))
}

func TestHTTPProberVersionAndTargets(t *testing.T) {
	b := cdptest.NewBrowser()
	defer b.Close()

	p := transport.NewHTTPProber(time.Second)
	ctx := context.Background()

	info, err := p.Version(ctx, b.HTTPURL()+transport.PathVersion)
	require.NoError(t, err)
	assert.Equal(t, b.BrowserSocketURL(), info.WebSocketDebuggerURL)

	targets, err := p.Targets(ctx, b.HTTPURL()+transport.PathList)
	require.NoError(t, err)
	assert.Empty(t, targets)

	assert.NoError(t, p.Check(ctx, b.HTTPURL()+transport.PathList))
}

func TestHTTPProberErrors(t *testing.T) {
	b := cdptest.NewBrowser()
	defer b.Close()
	p := transport.NewHTTPProber(time.Second)

	b.FailNextVersions(1)
	_, err := p.Version(context.Background(), b.HTTPURL()+transport.PathVersion)
	assert.Equal(t, tetherr.CodeConnCapabilityInvalid, tetherr.CodeOf(err))

	b.SetToken("t")
	err = p.Check(context.Background(), b.HTTPURL()+transport.PathList)
	assert.Equal(t, 401, tetherr.FieldsOf(err)["status"])

	b.Close()
	_, err = p.Version(context.Background(), b.HTTPURL()+transport.PathVersion)
	assert.Equal(t, tetherr.CodeConnConnectFailure, tetherr.CodeOf(err))
	assert.True(t, tetherr.IsTransient(err))
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	b := cdptest.NewBrowser()
	defer b.Close()

	ctx := context.Background()
	sock, err := transport.NewWebSocketDialer().Dial(ctx, b.BrowserSocketURL())
	require.NoError(t, err)
	defer sock.Close()

	data, err := cdp.Encode(1, cdp.MethodCreateTarget, cdp.CreateTargetParams{URL: "about:blank"})
	require.NoError(t, err)
	require.NoError(t, sock.Write(ctx, data))

	raw, err := sock.Read()
	require.NoError(t, err)
	frame, err := cdp.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), frame.ID)
	assert.Equal(t, 1, b.Targets())
}

func TestWebSocketDialerRejectedUpgrade(t *testing.T) {
	b := cdptest.NewBrowser()
	defer b.Close()

	b.RejectNextUpgrades(1)
	_, err := transport.NewWebSocketDialer().Dial(context.Background(), b.BrowserSocketURL())
	assert.Equal(t, tetherr.CodeConnHandshakeFailure, tetherr.CodeOf(err))
	assert.Equal(t, 503, tetherr.FieldsOf(err)["status"])
}

func TestSocketReadFailsAfterDrop(t *testing.T) {
	b := cdptest.NewBrowser()
	defer b.Close()

	sock, err := transport.NewWebSocketDialer().Dial(context.Background(), b.BrowserSocketURL())
	require.NoError(t, err)
	defer sock.Close()

	assert.Eventually(t, func() bool { return b.OpenSockets() == 1 }, time.Second, 5*time.Millisecond)
	b.DropConnections()

	_, err = sock.Read()
	assert.Equal(t, tetherr.CodeConnSocketClosed, tetherr.CodeOf(err))
}

func TestHandshakeRTT(t *testing.T) {
	b := cdptest.NewBrowser()
	defer b.Close()

	rtt, err := transport.HandshakeRTT(context.Background(), transport.NewWebSocketDialer(), b.BrowserSocketURL())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}
