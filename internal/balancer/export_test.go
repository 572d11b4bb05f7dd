// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package balancer

import (
	"context"
	"time"
)

// SetNowFunc overrides the time source (for testing). Call it before the
// balancer is shared between goroutines.
func (b *Balancer) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	b.nowFunc = fn
	b.mu.Unlock()
}

// ProbeAll runs one background probe pass now.
func (b *Balancer) ProbeAll(ctx context.Context) {
	b.probeAll(ctx)
}

// QueueLen reports the number of queued callers.
func (b *Balancer) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
