// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tether-dev/tether/internal/server"
)

func withToken(c *server.Config) { c.APIToken = "0ps-t0ken" }

func TestAuth_MutatingRoutesRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"add", http.MethodPost, "/api/v1/endpoints", `{"url":"ws://e2:9222"}`},
		{"remove", http.MethodDelete, "/api/v1/endpoints?url=ws://e1:9222", ""},
		{"mark healthy", http.MethodPost, "/api/v1/endpoints/healthy", `{"url":"ws://e1:9222"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend(t)
			srv := newTestServer(t, b, withToken)

			w := do(t, srv, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w = do(t, srv, tt.method, tt.target, tt.body, "Authorization", "Bearer wrong")
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w = do(t, srv, tt.method, tt.target, tt.body, "Authorization", "0ps-t0ken")
			assert.Equal(t, http.StatusUnauthorized, w.Code, "scheme is required")

			w = do(t, srv, tt.method, tt.target, tt.body, "Authorization", "Bearer 0ps-t0ken")
			assert.Less(t, w.Code, 300, w.Body.String())
		})
	}
}

func TestAuth_ReadRoutesStayOpen(t *testing.T) {
	srv := newTestServer(t, newFakeBackend(t), withToken)

	for _, target := range []string{"/health", "/api/v1/status", "/api/v1/endpoints", "/api/v1/regions"} {
		w := do(t, srv, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
	}
}

func TestAuth_NoTokenConfigured(t *testing.T) {
	srv := newTestServer(t, newFakeBackend(t))

	w := do(t, srv, http.MethodPost, "/api/v1/endpoints", `{"url":"ws://e2:9222"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAuth_RejectedRequestDoesNotMutate(t *testing.T) {
	b := newFakeBackend(t)
	srv := newTestServer(t, b, withToken)

	do(t, srv, http.MethodDelete, "/api/v1/endpoints?url=ws://e1:9222", "")
	assert.Empty(t, b.removed)
	assert.Len(t, b.Status().Endpoints, 1)
}
