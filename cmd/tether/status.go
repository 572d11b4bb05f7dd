// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether/internal/gateway"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running gateway",
		Long:  "Query a running ops server and display its pools, endpoints, regions and latest health report.",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "", "ops server address (defaults to server.listen)")
	cmd.Flags().Bool("json", false, "print the raw status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		addr = cfg.Server.Listen
	}
	out := cmd.OutOrStdout()

	var st gateway.Status
	if err := newOpsClient(addr).getJSON(cmd.Context(), "/api/v1/status", &st); err != nil {
		if tetherr.HasCode(err, tetherr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "tether at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return printStatus(out, addr, st)
}

func printStatus(out io.Writer, addr string, st gateway.Status) error {
	overall := "no report yet"
	if st.Health != nil {
		overall = string(st.Health.Overall)
	}
	_, _ = fmt.Fprintf(out, "tether at %s: %s\n", addr, overall)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if len(st.Endpoints) > 0 {
		_, _ = fmt.Fprintln(tw, "\nENDPOINT\tHEALTHY\tAVAILABLE\tACTIVE\tFAILURES\tLATENCY")
		for _, e := range st.Endpoints {
			_, _ = fmt.Fprintf(tw, "%s\t%t\t%t\t%d\t%d\t%s\n",
				e.URL, e.Healthy, e.Available, e.Active, e.ConsecutiveFailures, e.AvgLatency.Round(time.Millisecond))
		}
	}

	if len(st.Regions) > 0 {
		_, _ = fmt.Fprintln(tw, "\nREGION\tHEALTHY\tLATENCY\tFAILURES\tBEST")
		for _, r := range st.Regions {
			latency := "-"
			if r.Reachable {
				latency = r.AvgLatency.Round(time.Millisecond).String()
			}
			best := ""
			if r.Name == st.Best {
				best = "*"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", r.Name, r.Healthy, latency, r.Failures, best)
		}
	}

	if len(st.Pools) > 0 {
		_, _ = fmt.Fprintln(tw, "\nPOOL\tTOTAL\tIDLE\tIN USE\tPENDING")
		for _, p := range st.Pools {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", p.Name, p.Total, p.Idle, p.InUse, p.Pending)
		}
	}

	return tw.Flush()
}
