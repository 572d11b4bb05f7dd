// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package transport

import (
	"errors"
	"net/url"
	"strings"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// TokenParam is the query parameter carrying the bearer-style token.
const TokenParam = "token"

const redacted = "REDACTED"

// HTTPURL resolves path against endpoint using an http or https scheme and
// appends token when set.
func HTTPURL(endpoint, path, token string) (string, error) {
	return build(endpoint, path, token, map[string]string{"ws": "http", "wss": "https"})
}

// WSURL resolves path against endpoint using a ws or wss scheme and appends
// token when set.
func WSURL(endpoint, path, token string) (string, error) {
	return build(endpoint, path, token, map[string]string{"http": "ws", "https": "wss"})
}

// PagePath returns the target-level socket path for targetID.
func PagePath(targetID string) string {
	return "/devtools/page/" + url.PathEscape(targetID)
}

// WithToken appends token to rawURL, replacing any existing token.
func WithToken(rawURL, token string) (string, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set(TokenParam, token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Redact masks the token and any userinfo password in rawURL for logging.
// Unparseable input is returned with everything after the first '?' removed.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexByte(rawURL, '?'); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	q := u.Query()
	if q.Has(TokenParam) {
		q.Set(TokenParam, redacted)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func build(endpoint, path, token string, schemes map[string]string) (string, error) {
	u, err := parse(endpoint)
	if err != nil {
		return "", err
	}
	if mapped, ok := schemes[u.Scheme]; ok {
		u.Scheme = mapped
	}
	if path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + path
	}
	u.Fragment = ""
	if token != "" {
		q := u.Query()
		q.Set(TokenParam, token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeConfigValidateInvalidValue, "parsing url")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, tetherr.New(tetherr.CodeConfigValidateInvalidValue,
			"url scheme must be one of http, https, ws, wss",
			tetherr.FieldEndpoint(Redact(rawURL)))
	}
	if u.Host == "" {
		return nil, tetherr.New(tetherr.CodeConfigValidateInvalidValue, "url has no host",
			tetherr.FieldEndpoint(Redact(rawURL)))
	}
	return u, nil
}

// redactErr drops the request URL that net/http embeds in client errors.
func redactErr(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}
	return err.Error()
}
