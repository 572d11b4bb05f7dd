// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package conn

import "time"

// Backoff exposes the retry delay schedule for testing.
func (c *Conn) Backoff(attempt int) time.Duration {
	return c.backoff(attempt)
}
