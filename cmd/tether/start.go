// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether/internal/config"
	"github.com/tether-dev/tether/internal/gateway"
	"github.com/tether-dev/tether/internal/metrics"
	"github.com/tether-dev/tether/internal/server"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

const shutdownTimeout = 15 * time.Second

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway and ops server",
		Long:  "Load configuration, warm the pools, start probing and serve the ops API until SIGINT or SIGTERM.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override the ops server listen address (host:port)")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeServerStartFailure, "listening on %s", cfg.Server.Listen)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, ln, cmd.OutOrStdout())
}

// serve runs the gateway behind the ops server on ln until ctx is done, then
// shuts both down.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, out io.Writer) (err error) {
	m := metrics.New()

	gw, err := gateway.New(cfg.Gateway(), gateway.Deps{ProbeDuration: m.ProbeDuration()})
	if err != nil {
		_ = ln.Close()
		return tetherr.Wrap(err, tetherr.CodeCLISetupFailure, "building gateway")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := gw.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("gateway shutdown incomplete", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	if err := m.Register(gw); err != nil {
		_ = ln.Close()
		return tetherr.Wrap(err, tetherr.CodeCLISetupFailure, "registering metrics")
	}

	srv, err := server.New(serverConfig(cfg), server.Deps{Backend: gw, Metrics: m.Handler()})
	if err != nil {
		_ = ln.Close()
		return tetherr.Wrap(err, tetherr.CodeCLISetupFailure, "building ops server")
	}

	if err := gw.Start(ctx); err != nil {
		_ = ln.Close()
		srv.Close()
		return tetherr.Wrap(err, tetherr.CodeCLISetupFailure, "starting gateway")
	}

	_, _ = fmt.Fprintf(out, "tether %s: %d endpoint(s), %d region(s), ops API on http://%s\n",
		version, len(cfg.Endpoints), len(cfg.Gateway().Regions), ln.Addr())

	return srv.Serve(ctx, ln)
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		ListenAddr:     cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		APIToken:       cfg.Server.APIToken,
		TrustedProxies: cfg.Server.TrustedProxies,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		Version: version,
	}
}
