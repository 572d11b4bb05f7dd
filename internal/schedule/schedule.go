// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package schedule runs fixed-interval background tasks that can be stopped
// deterministically. Stop cancels every loop and waits for any tick in
// progress, so no task body runs after Stop returns.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Func is one tick of a background task. The context is cancelled when the
// owning group stops.
type Func func(ctx context.Context)

// Group owns a set of ticking loops and one-shot timers.
type Group struct {
	name   string
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	timers map[*time.Timer]struct{}
	done   bool
}

// NewGroup returns a running group. The name appears in log lines.
func NewGroup(name string) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Every runs fn every interval until the group stops. It reports false when
// the group is already stopped or the interval is not positive.
func (g *Group) Every(task string, interval time.Duration, fn Func) bool {
	if interval <= 0 || fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if g.ctx.Err() != nil {
					return
				}
				g.run(task, fn)
			case <-g.ctx.Done():
				return
			}
		}
	}()
	return true
}

// After runs fn once after delay unless the group stops first.
func (g *Group) After(task string, delay time.Duration, fn Func) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return false
	}

	g.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer g.wg.Done()

		g.mu.Lock()
		_, pending := g.timers[t]
		delete(g.timers, t)
		g.mu.Unlock()

		if !pending || g.ctx.Err() != nil {
			return
		}
		g.run(task, fn)
	})
	g.timers[t] = struct{}{}
	return true
}

// Go runs fn once in the background, tracked by the group.
func (g *Group) Go(task string, fn Func) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.run(task, fn)
	}()
	return true
}

// Context returns the group's context, cancelled on Stop.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Stop cancels every task and waits for running ticks to finish. Later calls
// are no-ops.
func (g *Group) Stop() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		g.wg.Wait()
		return
	}
	g.done = true
	g.cancel()
	for t := range g.timers {
		if t.Stop() {
			g.wg.Done()
		}
		delete(g.timers, t)
	}
	g.mu.Unlock()

	g.wg.Wait()
}

// Stopped reports whether Stop has been called.
func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

func (g *Group) run(task string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled task panicked", "group", g.name, "task", task, "panic", r)
		}
	}()
	fn(g.ctx)
}
