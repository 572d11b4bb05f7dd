// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package events implements the observer registration sink shared by every
// reliability component. Handlers are registered per event name and invoked
// in registration order on a single dispatcher goroutine, so emitting never
// blocks the caller.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tether-dev/tether/internal/ring"
)

// Name identifies an event kind.
type Name string

const (
	Connected         Name = "connected"
	Disconnected      Name = "disconnected"
	Unhealthy         Name = "unhealthy"
	Healthy           Name = "healthy"
	RegionChanged     Name = "regionChanged"
	RegionDown        Name = "regionDown"
	RegionUp          Name = "regionUp"
	AllRegionsDown    Name = "allRegionsDown"
	PoolExhausted     Name = "poolExhausted"
	EndpointUnhealthy Name = "endpointUnhealthy"
	EndpointHealthy   Name = "endpointHealthy"
	HealthReport      Name = "healthReport"
)

const (
	DefaultBufferSize  = 256
	DefaultHistorySize = 100
)

// Event is one emitted notification.
type Event struct {
	Name      Name      `json:"name"`
	Source    string    `json:"source,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. Return values are not expected.
type Handler func(Event)

type registration struct {
	id      uint64
	handler Handler
}

// Bus fans events out to registered handlers. A nil *Bus is valid and drops
// every event.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]registration
	any      []registration
	nextID   uint64
	closed   bool

	queue   chan Event
	done    chan struct{}
	history *ring.Buffer[Event]
	nowFunc func() time.Time
}

// New starts a bus with the given queue and history capacities. Values below
// one fall back to the defaults.
func New(bufferSize, historySize int) *Bus {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if historySize < 1 {
		historySize = DefaultHistorySize
	}

	b := &Bus{
		handlers: make(map[Name][]registration),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
		history:  ring.New[Event](historySize),
		nowFunc:  time.Now,
	}
	go b.dispatch()
	return b
}

// On registers handler for name and returns a function that removes it.
func (b *Bus) On(name Name, handler Handler) func() {
	if b == nil || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], registration{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[name] = remove(b.handlers[name], id)
	}
}

// OnAny registers handler for every event name.
func (b *Bus) OnAny(handler Handler) func() {
	if b == nil || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.any = append(b.any, registration{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.any = remove(b.any, id)
	}
}

// Subscribe returns a channel receiving every event until cancel is called.
// Events are dropped for a subscriber whose buffer is full.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	if b == nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	var chMu sync.Mutex
	closed := false

	off := b.OnAny(func(e Event) {
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			slog.Warn("event subscriber full, dropping event", "event", e.Name)
		}
	})

	return ch, func() {
		once.Do(func() {
			off()
			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}
}

// Emit queues an event for delivery. It never blocks; when the queue is full
// the event is dropped and logged.
func (b *Bus) Emit(name Name, source string, payload any) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	e := Event{Name: name, Source: source, Payload: payload, Timestamp: b.nowFunc()}
	select {
	case b.queue <- e:
	default:
		slog.Warn("event queue full, dropping event", "event", name, "source", source)
	}
}

// History returns up to limit of the most recently delivered events, oldest
// first. A limit of zero or less returns everything retained.
func (b *Bus) History(limit int) []Event {
	if b == nil {
		return nil
	}
	if limit <= 0 {
		return b.history.Items()
	}
	return b.history.Last(limit)
}

// Close delivers every queued event, then stops the dispatcher. Later calls
// are no-ops.
func (b *Bus) Close() {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for e := range b.queue {
		b.history.Push(e)

		b.mu.RLock()
		targets := make([]registration, 0, len(b.handlers[e.Name])+len(b.any))
		targets = append(targets, b.handlers[e.Name]...)
		targets = append(targets, b.any...)
		b.mu.RUnlock()

		for _, r := range targets {
			invoke(r.handler, e)
		}
	}
}

func invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", e.Name, "panic", r)
		}
	}()
	h(e)
}

func remove(regs []registration, id uint64) []registration {
	out := regs[:0:0]
	for _, r := range regs {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}
