// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package pool

import "time"

// Sweep runs one maintenance pass now.
func (p *Pool) Sweep() {
	p.sweep()
}

// SetNowFunc overrides the time source (for testing).
func (p *Pool) SetNowFunc(fn func() time.Time) {
	p.mu.Lock()
	p.nowFunc = fn
	p.mu.Unlock()
}
