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
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jitbench/pkg/logging"
	"github.com/AleutianAI/jitbench/services/cases"
	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/isolation"
)

// newWorkerCmd is the entry point of job processes. The parent writes one
// request to stdin and reads records from stdout; logs go to stderr as
// JSON. It is hidden because it is not meant to be run by hand.
func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    isolation.WorkerCommand,
		Short:  "Measure one job's series (internal)",
		Hidden: true,
		Args:   usageArgs(cobra.NoArgs),
		// Workers never read the config file; everything they need is
		// in the request.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(a.logLevel)
			if err != nil {
				return usageError(err)
			}
			cfg := logging.WorkerConfig(level)
			cfg.Output = a.stderr
			logger, err := logging.New(cfg)
			if err != nil {
				return err
			}
			a.logger = logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			reg := harness.NewRegistry()
			if err := cases.Register(reg); err != nil {
				return err
			}
			return isolation.Serve(ctx, reg, a.stdin, a.stdout, logger.Slog())
		},
	}
}
