// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func TestParseTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		cidrs   []string
		want    int
		wantErr string
	}{
		{"ipv4", []string{"10.0.0.0/8", "192.168.1.0/24"}, 2, ""},
		{"ipv6 mixed", []string{"fd00::/8", "10.0.0.0/8"}, 2, ""},
		{"skips blanks", []string{"10.0.0.0/8", "  ", ""}, 1, ""},
		{"invalid", []string{"not-a-cidr"}, 0, "invalid trusted proxy CIDR"},
		{"all blank", []string{"", " "}, 0, "at least one CIDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nets, err := parseTrustedProxies(tt.cidrs)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, tetherr.HasCode(err, tetherr.CodeServerConfigInvalid))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, nets, tt.want)
		})
	}
}

func TestIsTrustedProxy(t *testing.T) {
	nets, err := parseTrustedProxies([]string{"10.0.0.0/8", "fd00::/8"})
	require.NoError(t, err)

	assert.True(t, isTrustedProxy(netip.MustParseAddr("10.1.2.3"), nets))
	assert.True(t, isTrustedProxy(netip.MustParseAddr("fd00::1"), nets))
	assert.False(t, isTrustedProxy(netip.MustParseAddr("127.0.0.1"), nets))
	assert.False(t, isTrustedProxy(netip.MustParseAddr("8.8.8.8"), nets))
	assert.True(t, isTrustedProxy(netip.MustParseAddr("::ffff:10.0.0.7"), nets))
}

func TestTrustedProxyRealIP(t *testing.T) {
	nets, err := parseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"trusted uses leftmost forwarded", "10.0.0.1:12345",
			map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.1"}, "203.0.113.50:0"},
		{"untrusted ignores forwarded", "203.0.113.99:54321",
			map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.99:54321"},
		{"trusted without headers", "10.0.0.1:12345", nil, "10.0.0.1:12345"},
		{"trusted invalid forwarded", "10.0.0.1:12345",
			map[string]string{"X-Forwarded-For": "garbage"}, "10.0.0.1:12345"},
		{"trusted falls back to real ip", "10.0.0.1:12345",
			map[string]string{"X-Real-IP": " 198.51.100.7 "}, "198.51.100.7:0"},
		{"trusted ipv6 client", "10.0.0.1:12345",
			map[string]string{"X-Forwarded-For": "2001:db8::1"}, "[2001:db8::1]:0"},
		{"unparseable peer", "not-an-ip",
			map[string]string{"X-Forwarded-For": "1.2.3.4"}, "not-an-ip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := trustedProxyRealIP(nets)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServer_TrustedProxiesFeedRateLimiter(t *testing.T) {
	srv, err := New(Config{
		ListenAddr:     "127.0.0.1:0",
		TrustedProxies: []string{"10.0.0.0/8"},
		RateLimit:      RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
	}, Deps{Backend: stubBackend{}})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"), "clients behind one proxy get separate buckets")
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, 2, srv.VisitorCount())
}
