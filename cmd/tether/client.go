// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// defaultHTTPClient is the HTTP client used by commands that talk to a
// running ops server. Tests replace it.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// opsClient provides HTTP access to a running tether ops server.
type opsClient struct {
	baseURL string
	http    *http.Client
}

// newOpsClient targets addr, a host:port or an http(s) URL.
func newOpsClient(addr string) *opsClient {
	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &opsClient{baseURL: base, http: defaultHTTPClient}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *opsClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return tetherr.Wrap(err, tetherr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return tetherr.New(tetherr.CodeCLIGatewayNotRunning,
				"tether is not running (connection refused)", tetherr.Field("address", c.baseURL))
		}
		return tetherr.Wrap(err, tetherr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return tetherr.Errorf(tetherr.CodeCLIRequestFailure,
			"ops server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return tetherr.Wrap(err, tetherr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
