// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tether-dev/tether/internal/events"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/internal/server"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

const defaultOutput = "api/openapi/tether.json"

func main() {
	out := defaultOutput
	if len(os.Args) > 1 {
		out = os.Args[1]
	}
	if err := write(out); err != nil {
		fmt.Fprintln(os.Stderr, "openapi-gen:", err)
		os.Exit(1)
	}
	fmt.Println("wrote", out)
}

func write(path string) error {
	doc, err := generateSpec()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tetherr.Wrapf(err, tetherr.CodeCLISetupFailure, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, append(doc, '\n'), 0o644); err != nil {
		return tetherr.Wrapf(err, tetherr.CodeCLISetupFailure, "writing %s", path)
	}
	return nil
}

// generateSpec builds a server with every route registered and extracts the
// OpenAPI document huma derives from the Go types.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.Deps{Backend: stubBackend{}})
	if err != nil {
		return nil, tetherr.Wrap(err, tetherr.CodeCLISetupFailure, "creating server")
	}
	defer srv.Close()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// stubBackend is never called during spec generation.
type stubBackend struct{}

func (stubBackend) Status() gateway.Status { return gateway.Status{} }

func (stubBackend) CheckHealth(context.Context) health.Report { return health.Report{} }

func (stubBackend) HealthHistory(int) []health.Report { return nil }

func (stubBackend) AddEndpoint(string, int) error { return nil }

func (stubBackend) RemoveEndpoint(string) error { return nil }

func (stubBackend) MarkEndpointHealthy(string) error { return nil }

func (stubBackend) Bus() *events.Bus { return nil }
