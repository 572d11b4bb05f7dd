// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tether-dev/tether/internal/schedule"
)

func TestEveryTicksUntilStop(t *testing.T) {
	g := schedule.NewGroup("test")

	var ticks atomic.Int64
	assert.True(t, g.Every("tick", 5*time.Millisecond, func(context.Context) { ticks.Add(1) }))

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	g.Stop()

	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no tick may run after Stop returns")
}

func TestStopWaitsForRunningTick(t *testing.T) {
	g := schedule.NewGroup("test")

	started := make(chan struct{})
	var finished atomic.Bool
	g.Every("slow", time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
			return
		}
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	g.Stop()
	assert.True(t, finished.Load())
}

func TestAfterCancelledByStop(t *testing.T) {
	g := schedule.NewGroup("test")

	var fired atomic.Bool
	assert.True(t, g.After("later", time.Hour, func(context.Context) { fired.Store(true) }))
	g.Stop()
	assert.False(t, fired.Load())
}

func TestAfterFires(t *testing.T) {
	g := schedule.NewGroup("test")
	defer g.Stop()

	var fired atomic.Bool
	g.After("soon", time.Millisecond, func(context.Context) { fired.Store(true) })
	assert.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestStoppedGroupRejectsTasks(t *testing.T) {
	g := schedule.NewGroup("test")
	g.Stop()
	g.Stop()

	assert.True(t, g.Stopped())
	assert.False(t, g.Every("x", time.Millisecond, func(context.Context) {}))
	assert.False(t, g.After("x", time.Millisecond, func(context.Context) {}))
	assert.False(t, g.Go("x", func(context.Context) {}))
	assert.Error(t, g.Context().Err())
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	g := schedule.NewGroup("test")
	defer g.Stop()
	assert.False(t, g.Every("x", 0, func(context.Context) {}))
}
