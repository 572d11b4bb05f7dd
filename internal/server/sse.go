// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tether-dev/tether/internal/events"
)

const (
	eventStreamPath   = "/api/v1/events/stream"
	eventStreamBuffer = 64
	heartbeatInterval = 15 * time.Second
)

func (s *Server) registerEventStream() {
	s.router.Get(eventStreamPath, s.handleEventStream)

	// The stream writes to the raw ResponseWriter, so the route lives on chi
	// and only its description is added to the OpenAPI document.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        eventStreamPath,
		Summary:     "Stream lifecycle events via SSE",
		Description: "Emits every gateway event as it is delivered. Comment lines are sent as heartbeats.",
		Tags:        []string{"events"},
		Parameters: []*huma.Param{{
			Name:        "name",
			In:          "query",
			Description: "Comma-separated event names to include; all when empty",
			Schema:      &huma.Schema{Type: "string"},
		}},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
				},
			},
			"503": {Description: "Event bus not available"},
		},
	})
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	bus := s.backend.Bus()
	if bus == nil {
		http.Error(w, `{"error":"event bus not available"}`, http.StatusServiceUnavailable)
		return
	}

	filter := parseEventFilter(r.URL.Query().Get("name"))
	ch, cancel := bus.Subscribe(eventStreamBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil && !filter[e.Name] {
				continue
			}
			if err := writeEvent(w, e); err != nil {
				slog.Debug("event stream closed", "error", err)
				return
			}
			flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		data, _ = json.Marshal(events.Event{Name: e.Name, Source: e.Source, Timestamp: e.Timestamp})
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	return err
}

func parseEventFilter(raw string) map[events.Name]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	filter := make(map[events.Name]bool)
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			filter[events.Name(name)] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}
