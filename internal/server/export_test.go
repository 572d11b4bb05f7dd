// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import "time"

// VisitorCount reports how many client IPs the rate limiter tracks.
func (s *Server) VisitorCount() int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.len()
}

// RunVisitorCleanup runs the rate limiter sweep as if at now.
func (s *Server) RunVisitorCleanup(now time.Time) {
	if s.limiter != nil {
		s.limiter.cleanup(now)
	}
}
