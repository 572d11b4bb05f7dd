// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tether-dev/tether/internal/cdp"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

const (
	PathVersion = "/json/version"
	PathList    = "/json/list"

	maxBodyBytes = 1 << 20
)

// Prober issues the HTTP requests of the capabilities handshake and plain
// reachability checks.
type Prober interface {
	Version(ctx context.Context, rawURL string) (cdp.VersionInfo, error)
	Targets(ctx context.Context, rawURL string) ([]cdp.TargetInfo, error)
	Check(ctx context.Context, rawURL string) error
}

// HTTPProber implements Prober over net/http.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns a prober whose client times out after timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{Client: &http.Client{Timeout: timeout}}
}

// Version fetches the capabilities document.
func (p *HTTPProber) Version(ctx context.Context, rawURL string) (cdp.VersionInfo, error) {
	var info cdp.VersionInfo
	if err := p.getJSON(ctx, rawURL, &info); err != nil {
		return cdp.VersionInfo{}, err
	}
	if info.WebSocketDebuggerURL == "" {
		return cdp.VersionInfo{}, tetherr.New(tetherr.CodeConnCapabilityInvalid,
			"capabilities document has no browser websocket url",
			tetherr.FieldEndpoint(Redact(rawURL)))
	}
	return info, nil
}

// BrowserURL resolves the browser-level socket URL of endpoint through its
// capabilities document, with token appended.
func BrowserURL(ctx context.Context, p Prober, endpoint, token string) (string, error) {
	versionURL, err := HTTPURL(endpoint, PathVersion, token)
	if err != nil {
		return "", err
	}
	info, err := p.Version(ctx, versionURL)
	if err != nil {
		return "", err
	}
	return WithToken(info.WebSocketDebuggerURL, token)
}

// Targets lists the browser's debuggable targets.
func (p *HTTPProber) Targets(ctx context.Context, rawURL string) ([]cdp.TargetInfo, error) {
	var targets []cdp.TargetInfo
	if err := p.getJSON(ctx, rawURL, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// Check succeeds when rawURL answers with a 2xx status.
func (p *HTTPProber) Check(ctx context.Context, rawURL string) error {
	resp, err := p.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return nil
}

func (p *HTTPProber) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := p.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return tetherr.Wrap(err, tetherr.CodeConnCapabilityInvalid, "decoding response",
			tetherr.FieldEndpoint(Redact(rawURL)))
	}
	return nil
}

func (p *HTTPProber) get(ctx context.Context, rawURL string) (*http.Response, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeConfigValidateInvalidValue, "building request",
			tetherr.FieldEndpoint(Redact(rawURL)))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, tetherr.Errorf(tetherr.CodeConnConnectFailure, "GET %s: %v", Redact(rawURL), redactErr(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, tetherr.New(tetherr.CodeConnCapabilityInvalid,
			fmt.Sprintf("GET %s: unexpected status %d", Redact(rawURL), resp.StatusCode),
			tetherr.Field("status", resp.StatusCode))
	}
	return resp, nil
}
