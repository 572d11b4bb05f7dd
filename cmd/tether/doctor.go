// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether/internal/config"
	"github.com/tether-dev/tether/internal/monitor"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the configuration, the ops server and every configured endpoint and region.",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "", "ops server address (defaults to server.listen)")

	return cmd
}

type diagnostic struct {
	name string
	fn   func() string
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		_, _ = fmt.Fprintf(w, "%-24s %s\n", "Config:", err)
		return err
	}

	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = cfg.Server.Listen
	}

	checks := []diagnostic{
		{"Binary", checkBinary},
		{"Config", func() string { return checkConfig(cfg) }},
		{"Ops server", func() string { return checkOpsServer(cmd.Context(), addr) }},
	}
	checks = append(checks, targetChecks(cmd.Context(), cfg)...)

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-24s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}
	return nil
}

func checkBinary() string {
	return fmt.Sprintf("tether %s (%s/%s, %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfg *config.Config) string {
	if cfg.Path != "" {
		return fmt.Sprintf("loaded from %s", cfg.Path)
	}
	return "using defaults (no config file found)"
}

func checkOpsServer(ctx context.Context, addr string) string {
	var body struct {
		Status string `json:"status"`
	}
	if err := newOpsClient(addr).getJSON(ctx, "/health", &body); err != nil {
		if tetherr.HasCode(err, tetherr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'tether start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

// targetChecks probes every endpoint and region with the monitor's checks.
func targetChecks(ctx context.Context, cfg *config.Config) []diagnostic {
	gcfg := cfg.Gateway()
	mon, err := monitor.New(gcfg.MonitorConfig(), monitor.Deps{})
	if err != nil {
		return []diagnostic{{"Monitor", func() string { return fmt.Sprintf("error: %s", err) }}}
	}

	var checks []diagnostic
	probe := func(name, url string) {
		checks = append(checks, diagnostic{name, func() string {
			if err := mon.ProbeEndpoint(ctx, url); err != nil {
				return fmt.Sprintf("%s unreachable: %s", transport.Redact(url), err)
			}
			return fmt.Sprintf("%s ok", transport.Redact(url))
		}})
	}
	for i, e := range gcfg.Endpoints {
		probe(fmt.Sprintf("Endpoint %d", i+1), e.URL)
	}
	for _, r := range gcfg.Regions {
		probe("Region "+r.Name, r.URL)
	}
	return checks
}
