// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// parseTrustedProxies parses CIDR strings, skipping blanks.
func parseTrustedProxies(cidrs []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, raw := range cidrs {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, tetherr.Errorf(tetherr.CodeServerConfigInvalid,
				"invalid trusted proxy CIDR %q: %v", raw, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	if len(prefixes) == 0 {
		return nil, tetherr.New(tetherr.CodeServerConfigInvalid,
			"trusted proxies must contain at least one CIDR range")
	}
	return prefixes, nil
}

func isTrustedProxy(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr extracts the connecting address from r.RemoteAddr, with or
// without a port.
func peerAddr(remote string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr(), true
	}
	addr, err := netip.ParseAddr(remote)
	return addr, err == nil
}

// trustedProxyRealIP rewrites r.RemoteAddr from X-Forwarded-For or X-Real-IP
// only when the connecting peer is inside a trusted range. Headers from any
// other peer are ignored.
func trustedProxyRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			peer, ok := peerAddr(r.RemoteAddr)
			if ok && isTrustedProxy(peer, trusted) {
				switch client, found := forwardedClient(r.Header); {
				case found:
					r.RemoteAddr = net.JoinHostPort(client, "0")
				case r.Header.Get("X-Forwarded-For") != "":
					slog.Warn("invalid X-Forwarded-For from trusted proxy, using peer address", "peer", peer)
				}
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// forwardedClient returns the leftmost X-Forwarded-For entry, falling back
// to X-Real-IP.
func forwardedClient(h http.Header) (string, bool) {
	candidate := h.Get("X-Forwarded-For")
	if candidate != "" {
		candidate, _, _ = strings.Cut(candidate, ",")
	} else {
		candidate = h.Get("X-Real-IP")
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(candidate)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
