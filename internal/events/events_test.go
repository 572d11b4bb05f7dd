// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package events_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/events"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := events.New(0, 0)
	defer bus.Close()

	var mu sync.Mutex
	var order []string
	record := func(tag string) events.Handler {
		return func(events.Event) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	bus.On(events.Connected, record("first"))
	bus.On(events.Connected, record("second"))
	bus.On(events.Disconnected, record("other"))

	bus.Emit(events.Connected, "conn-1", nil)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBusUnregister(t *testing.T) {
	bus := events.New(0, 0)

	calls := 0
	off := bus.On(events.Healthy, func(events.Event) { calls++ })
	off()

	bus.Emit(events.Healthy, "x", nil)
	bus.Close()
	assert.Equal(t, 0, calls)
}

func TestBusHistoryIsBounded(t *testing.T) {
	bus := events.New(16, 2)
	bus.Emit(events.RegionUp, "a", nil)
	bus.Emit(events.RegionUp, "b", nil)
	bus.Emit(events.RegionUp, "c", nil)
	bus.Close()

	history := bus.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].Source)
	assert.Equal(t, "c", history[1].Source)
	assert.Len(t, bus.History(1), 1)
}

func TestBusSubscribe(t *testing.T) {
	bus := events.New(0, 0)
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Emit(events.PoolExhausted, "ws://a", map[string]int{"pending": 3})

	select {
	case e := <-ch:
		assert.Equal(t, events.PoolExhausted, e.Name)
		assert.Equal(t, "ws://a", e.Source)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusHandlerPanicDoesNotStopDispatch(t *testing.T) {
	bus := events.New(0, 0)

	delivered := false
	bus.On(events.RegionDown, func(events.Event) { panic("boom") })
	bus.On(events.RegionDown, func(events.Event) { delivered = true })

	bus.Emit(events.RegionDown, "eu", nil)
	bus.Close()
	assert.True(t, delivered)
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *events.Bus
	bus.Emit(events.Connected, "x", nil)
	off := bus.On(events.Connected, func(events.Event) {})
	off()
	assert.Nil(t, bus.History(0))
	bus.Close()
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	bus := events.New(0, 0)
	bus.Close()
	bus.Emit(events.Connected, "late", nil)
	bus.Close()
	assert.Empty(t, bus.History(0))
}
