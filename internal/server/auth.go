// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// requireToken rejects requests without the configured bearer token. With no
// token configured every request passes.
func (s *Server) requireToken(ctx context.Context, authorization string) error {
	if s.cfg.APIToken == "" {
		return nil
	}
	got, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIToken)) != 1 {
		slog.WarnContext(ctx, "rejected ops request without valid token")
		return huma.Error401Unauthorized("missing or invalid bearer token")
	}
	return nil
}
