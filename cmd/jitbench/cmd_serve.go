// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jitbench/services/harness/server"
	"github.com/AleutianAI/jitbench/services/harness/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history over HTTP",
		Long: `Serve exposes stored runs, rendered reports and run diffs as a
read-only HTTP API, plus /healthz and /metrics.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Server
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if cfg.Addr == "" {
				return usageError(fmt.Errorf("--addr must not be empty"))
			}
			cfg.Logger = a.logger.Slog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					a.logger.Warn("telemetry shutdown failed", "error", err)
				}
			}()
			if h := telemetry.MetricsHandler(); h != nil {
				cfg.Metrics = h
			}

			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := server.New(store, cfg)
			if err != nil {
				return err
			}
			a.logger.Info("serving history", "addr", cfg.Addr, "path", a.cfg.History.Path)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default "+server.DefaultConfig().Addr+")")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every request")
	return cmd
}
