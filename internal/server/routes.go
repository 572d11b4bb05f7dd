// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/internal/pool"
	"github.com/tether-dev/tether/internal/region"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness of the ops server",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Pools, endpoints, regions and the latest health report",
		Tags:        []string{"system"},
	}, s.handleStatus)

	// Health endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "health-report",
		Method:      http.MethodGet,
		Path:        "/api/v1/health/report",
		Summary:     "Latest health report",
		Description: "Returns the most recent report, or runs the checks when fresh is set or none has been taken.",
		Tags:        []string{"health"},
	}, s.handleHealthReport)

	huma.Register(s.api, huma.Operation{
		OperationID: "health-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/health/history",
		Summary:     "Recent health reports, oldest first",
		Tags:        []string{"health"},
	}, s.handleHealthHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-pools",
		Method:      http.MethodGet,
		Path:        "/api/v1/pools",
		Summary:     "Connection pool statistics",
		Tags:        []string{"pools"},
	}, s.handleListPools)

	// Endpoint endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-endpoints",
		Method:      http.MethodGet,
		Path:        "/api/v1/endpoints",
		Summary:     "Balancer endpoints with health and load",
		Tags:        []string{"endpoints"},
	}, s.handleListEndpoints)

	huma.Register(s.api, huma.Operation{
		OperationID:   "add-endpoint",
		Method:        http.MethodPost,
		Path:          "/api/v1/endpoints",
		Summary:       "Add a balancer endpoint",
		Tags:          []string{"endpoints"},
		DefaultStatus: http.StatusCreated,
	}, s.handleAddEndpoint)

	huma.Register(s.api, huma.Operation{
		OperationID:   "remove-endpoint",
		Method:        http.MethodDelete,
		Path:          "/api/v1/endpoints",
		Summary:       "Remove a balancer endpoint and close its pool",
		Tags:          []string{"endpoints"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleRemoveEndpoint)

	huma.Register(s.api, huma.Operation{
		OperationID: "mark-endpoint-healthy",
		Method:      http.MethodPost,
		Path:        "/api/v1/endpoints/healthy",
		Summary:     "Clear an endpoint's failures and quarantine",
		Tags:        []string{"endpoints"},
	}, s.handleMarkEndpointHealthy)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-regions",
		Method:      http.MethodGet,
		Path:        "/api/v1/regions",
		Summary:     "Regions ranked by latency",
		Tags:        []string{"regions"},
	}, s.handleListRegions)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/events",
		Summary:     "Recent lifecycle events, oldest first",
		Tags:        []string{"events"},
	}, s.handleListEvents)
}

// apiError maps a coded error to its HTTP status.
func apiError(err error) error {
	return huma.NewError(tetherr.HTTPStatus(err), err.Error())
}

// --- Request/Response types for huma ---

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

type statusOutput struct {
	Body gateway.Status
}

type healthReportInput struct {
	Fresh bool `query:"fresh" doc:"Run the checks now instead of returning the latest report"`
}

type healthReportOutput struct {
	Body health.Report
}

type limitInput struct {
	Limit int `query:"limit" minimum:"0" default:"20" doc:"Maximum number of entries, 0 for all retained"`
}

type healthHistoryOutput struct {
	Body struct {
		Reports []health.Report `json:"reports"`
	}
}

type listPoolsOutput struct {
	Body struct {
		Pools []pool.Stats `json:"pools"`
	}
}

type listEndpointsOutput struct {
	Body struct {
		Endpoints []health.Metrics `json:"endpoints"`
	}
}

type addEndpointInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		URL    string `json:"url" minLength:"1" doc:"CDP WebSocket URL"`
		Weight int    `json:"weight,omitempty" minimum:"0" doc:"Selection weight, defaults to 1"`
	}
}

type endpointOutput struct {
	Body health.Metrics
}

type endpointURLInput struct {
	Authorization string `header:"Authorization"`
	URL           string `query:"url" required:"true" minLength:"1" doc:"Endpoint URL"`
}

type markHealthyInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		URL string `json:"url" minLength:"1" doc:"Endpoint URL"`
	}
}

type listRegionsOutput struct {
	Body struct {
		Regions []region.Info `json:"regions"`
		Best    string        `json:"best_region,omitempty"`
	}
}

type listEventsOutput struct {
	Body struct {
		Events []events.Event `json:"events"`
	}
}

// --- Handlers ---

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*HealthResponse, error) {
	return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
}

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	return &statusOutput{Body: s.backend.Status()}, nil
}

func (s *Server) handleHealthReport(ctx context.Context, input *healthReportInput) (*healthReportOutput, error) {
	if !input.Fresh {
		if latest := s.backend.Status().Health; latest != nil {
			return &healthReportOutput{Body: *latest}, nil
		}
	}
	return &healthReportOutput{Body: s.backend.CheckHealth(ctx)}, nil
}

func (s *Server) handleHealthHistory(_ context.Context, input *limitInput) (*healthHistoryOutput, error) {
	out := &healthHistoryOutput{}
	out.Body.Reports = nonNil(s.backend.HealthHistory(input.Limit))
	return out, nil
}

func (s *Server) handleListPools(_ context.Context, _ *struct{}) (*listPoolsOutput, error) {
	out := &listPoolsOutput{}
	out.Body.Pools = nonNil(s.backend.Status().Pools)
	return out, nil
}

func (s *Server) handleListEndpoints(_ context.Context, _ *struct{}) (*listEndpointsOutput, error) {
	out := &listEndpointsOutput{}
	out.Body.Endpoints = nonNil(s.backend.Status().Endpoints)
	return out, nil
}

func (s *Server) handleAddEndpoint(ctx context.Context, input *addEndpointInput) (*endpointOutput, error) {
	if err := s.requireToken(ctx, input.Authorization); err != nil {
		return nil, err
	}
	if err := s.backend.AddEndpoint(input.Body.URL, input.Body.Weight); err != nil {
		return nil, apiError(err)
	}
	m, ok := s.endpoint(input.Body.URL)
	if !ok {
		return nil, apiError(tetherr.Errorf(tetherr.CodeServerInternalFailure,
			"endpoint %s missing after add", input.Body.URL))
	}
	return &endpointOutput{Body: m}, nil
}

func (s *Server) handleRemoveEndpoint(ctx context.Context, input *endpointURLInput) (*struct{}, error) {
	if err := s.requireToken(ctx, input.Authorization); err != nil {
		return nil, err
	}
	if err := s.backend.RemoveEndpoint(input.URL); err != nil {
		return nil, apiError(err)
	}
	return &struct{}{}, nil
}

func (s *Server) handleMarkEndpointHealthy(ctx context.Context, input *markHealthyInput) (*endpointOutput, error) {
	if err := s.requireToken(ctx, input.Authorization); err != nil {
		return nil, err
	}
	if err := s.backend.MarkEndpointHealthy(input.Body.URL); err != nil {
		return nil, apiError(err)
	}
	m, _ := s.endpoint(input.Body.URL)
	return &endpointOutput{Body: m}, nil
}

func (s *Server) handleListRegions(_ context.Context, _ *struct{}) (*listRegionsOutput, error) {
	st := s.backend.Status()
	out := &listRegionsOutput{}
	out.Body.Regions = nonNil(st.Regions)
	out.Body.Best = st.Best
	return out, nil
}

func (s *Server) handleListEvents(_ context.Context, input *limitInput) (*listEventsOutput, error) {
	out := &listEventsOutput{}
	out.Body.Events = nonNil(s.backend.Bus().History(input.Limit))
	return out, nil
}

// endpoint finds the current snapshot of url.
func (s *Server) endpoint(url string) (health.Metrics, bool) {
	for _, m := range s.backend.Status().Endpoints {
		if m.URL == url {
			return m, true
		}
	}
	return health.Metrics{}, false
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
