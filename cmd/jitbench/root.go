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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jitbench/cmd/jitbench/config"
	"github.com/AleutianAI/jitbench/pkg/logging"
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "jitbench/skip-config"

// app holds the state shared by one command invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// --- Global Flags ---
	configPath string
	logLevel   string
	logJSON    bool

	cfg    *config.Config
	logger *logging.Logger
}

// newRootCmd builds the command tree bound to a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "jitbench",
		Short: "Compare micro-benchmarks across isolated runtime environments",
		Long: `jitbench runs a catalogue of small code paths under several job
environments, each in its own process, and reports the measurements
side by side against the first job.`,
		Args:          usageArgs(cobra.ArbitraryArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations:   map[string]string{skipConfig: "true"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] != "" {
				return nil
			}
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath()))
			}
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default "+config.DefaultPath+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(
		newRunCmd(a),
		newListCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
	)
	return root
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(fn(cmd, args))
	}
}

// setup loads the configuration and starts the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return usageError(err)
	}
	if cmd.Flags().Changed("log-level") {
		level, err := logging.ParseLevel(a.logLevel)
		if err != nil {
			return usageError(err)
		}
		cfg.Logging.Level = level
	}
	if a.logJSON {
		cfg.Logging.JSON = true
	}
	cfg.Logging.Output = a.stderr

	logger, err := logging.New(cfg.Logging)
	logger.Install()
	if err != nil {
		logger.Warn("file logging disabled", "error", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// close releases what setup acquired.
func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// report prints err, unless it is silent, and returns the exit code.
func (a *app) report(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Silent {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}
