// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether/internal/monitor"
	"github.com/tether-dev/tether/internal/transport"
	tetherr "github.com/tether-dev/tether/pkg/errors"
	"github.com/tether-dev/tether/pkg/health"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run the health checks against an endpoint",
		Long: "Probe the control HTTP, auxiliary HTTP and WebSocket checks of one endpoint and print the report. " +
			"With --wait, poll until the endpoint is healthy or the wait elapses.",
		Args: cobra.NoArgs,
		RunE: runProbe,
	}

	cmd.Flags().String("url", "", "endpoint to probe (defaults to the first configured endpoint or region)")
	cmd.Flags().Duration("wait", 0, "poll until healthy for at most this long")
	cmd.Flags().Duration("poll-interval", monitor.DefaultPollInterval, "interval between polls with --wait")
	cmd.Flags().Bool("json", false, "print the report as JSON")

	return cmd
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mcfg := cfg.Gateway().MonitorConfig()
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		mcfg.Endpoint = url
		mcfg.AuxURL = ""
	}

	mon, err := monitor.New(mcfg, monitor.Deps{})
	if err != nil {
		return err
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	poll, _ := cmd.Flags().GetDuration("poll-interval")
	asJSON, _ := cmd.Flags().GetBool("json")

	var report health.Report
	var probeErr error
	if wait > 0 {
		report, probeErr = mon.WaitForHealthy(cmd.Context(), wait, poll)
	} else {
		report = mon.Report(cmd.Context())
		if report.Overall != health.StatusHealthy {
			probeErr = tetherr.New(tetherr.CodeHealthEndpointState,
				"endpoint is "+string(report.Overall), tetherr.FieldEndpoint(transport.Redact(mcfg.Endpoint)))
		}
	}

	if err := printReport(cmd.OutOrStdout(), transport.Redact(mcfg.Endpoint), report, asJSON); err != nil {
		return err
	}
	return probeErr
}

func printReport(w io.Writer, target string, r health.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if _, err := fmt.Fprintf(w, "%s: %s\n", target, r.Overall); err != nil {
		return err
	}
	for _, c := range r.Checks {
		mark := "ok"
		if !c.Healthy {
			mark = "FAIL"
		}
		line := fmt.Sprintf("  %-14s %-4s %s", c.Name, mark, c.ResponseTime.Round(time.Millisecond))
		if c.Error != "" {
			line += "  " + c.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
