// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package conn

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tether-dev/tether/internal/cdp"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

type reply struct {
	frame cdp.Frame
	err   error
}

// session multiplexes commands over one socket. Replies are matched by id;
// events are handed to one-shot waiters.
type session struct {
	level string
	sock  transport.Socket
	ids   *atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan reply
	waiters map[string][]chan cdp.Frame
	err     error
	done    chan struct{}

	closeOnce sync.Once
}

func newSession(level string, sock transport.Socket, ids *atomic.Int64) *session {
	return &session{
		level:   level,
		sock:    sock,
		ids:     ids,
		pending: make(map[int64]chan reply),
		waiters: make(map[string][]chan cdp.Frame),
		done:    make(chan struct{}),
	}
}

// run reads frames until the socket fails. onFrame is called for every
// inbound frame; onClose once with the terminal read error.
func (s *session) run(onFrame func(), onClose func(*session, error)) {
	for {
		data, err := s.sock.Read()
		if err != nil {
			s.fail(err)
			if onClose != nil {
				onClose(s, err)
			}
			return
		}

		frame, err := cdp.Decode(data)
		if err != nil {
			slog.Warn("dropping malformed frame", "level", s.level, "error", err)
			continue
		}
		if onFrame != nil {
			onFrame()
		}
		s.deliver(frame)
	}
}

func (s *session) deliver(frame cdp.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frame.Kind {
	case cdp.KindReply:
		ch, ok := s.pending[frame.ID]
		if !ok {
			return
		}
		delete(s.pending, frame.ID)
		ch <- reply{frame: frame}
	case cdp.KindEvent:
		for _, ch := range s.waiters[frame.Method] {
			ch <- frame
		}
		delete(s.waiters, frame.Method)
	}
}

// fail rejects every pending command and marks the session done.
func (s *session) fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	s.err = tetherr.Errorf(tetherr.CodeConnSocketClosed, "%s socket closed: %v", s.level, cause)
	for id, ch := range s.pending {
		ch <- reply{err: s.err}
		delete(s.pending, id)
	}
	close(s.done)
}

// close shuts the socket. The read loop observes the failure and calls fail.
func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.sock.Close()
	})
}

// waitEvent registers a one-shot waiter for method.
func (s *session) waitEvent(method string) (<-chan cdp.Frame, func()) {
	ch := make(chan cdp.Frame, 1)

	s.mu.Lock()
	s.waiters[method] = append(s.waiters[method], ch)
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.waiters[method]
		for i, w := range list {
			if w == ch {
				s.waiters[method] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// send writes one command and waits for its reply, the timeout, ctx or the
// socket closing, whichever comes first.
func (s *session) send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.ids.Add(1)
	data, err := cdp.Encode(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan reply, 1)
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.pending[id] = ch
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	err = s.sock.Write(writeCtx, data)
	cancel()
	if err != nil {
		s.forget(id)
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if perr := r.frame.Err(method); perr != nil {
			return nil, perr
		}
		return r.frame.Result, nil
	case <-timer.C:
		s.forget(id)
		return nil, tetherr.New(tetherr.CodeConnCommandTimeout, "command timed out",
			tetherr.FieldMethod(method),
			tetherr.Field("timeout", timeout.String()),
		)
	case <-ctx.Done():
		s.forget(id)
		return nil, contextErr(ctx, method)
	}
}

func (s *session) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func contextErr(ctx context.Context, method string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return tetherr.Wrap(ctx.Err(), tetherr.CodeConnCommandTimeout, "command deadline exceeded",
			tetherr.FieldMethod(method))
	}
	return tetherr.Wrap(ctx.Err(), tetherr.CodeConnCommandCanceled, "command canceled",
		tetherr.FieldMethod(method))
}
