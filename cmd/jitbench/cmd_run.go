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
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/jitbench/cmd/jitbench/config"
	"github.com/AleutianAI/jitbench/services/cases"
	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/history"
	"github.com/AleutianAI/jitbench/services/harness/isolation"
	"github.com/AleutianAI/jitbench/services/harness/report"
	"github.com/AleutianAI/jitbench/services/harness/runner"
	"github.com/AleutianAI/jitbench/services/harness/telemetry"
)

// runFlags override the run section of the configuration.
type runFlags struct {
	filter      string
	format      string
	columns     string
	metricsFile string
	verbose     bool
	noHistory   bool
	timeout     time.Duration
	parallel    int
	batches     int
	pinCPU      int
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark catalogue under every configured job",
		Long: `Run measures every selected case under every job and prints the
comparison table. The first job is the baseline for ratios.

Exits 1 when a series fails fatally and 2 on a configuration error.`,
		Example: `  jitbench run
  jitbench run --filter '^Vector' --format markdown
  jitbench run -c bench.yaml --batches 40 --parallel 2`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBenchmarks(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.filter, "filter", "f", "", "regular expression selecting case names")
	flags.StringVar(&f.format, "format", "", "report format: console, json, markdown")
	flags.StringVar(&f.columns, "columns", "", "comma-separated report columns")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "show dispersion columns and every warning")
	flags.DurationVar(&f.timeout, "timeout", 0, "abort the remaining series after this long")
	flags.IntVarP(&f.parallel, "parallel", "p", 1, "jobs to run at once")
	flags.IntVar(&f.batches, "batches", 0, "measured batches per series")
	flags.IntVar(&f.pinCPU, "pin-cpu", -1, "pin the measuring thread to this CPU")
	flags.BoolVar(&f.noHistory, "no-history", false, "do not save the run")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "write a Prometheus textfile here after the run")
	return cmd
}

// apply copies the flags the user set over cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("filter") {
		cfg.Run.Filter = f.filter
	}
	if flags.Changed("format") {
		cfg.Run.Format = f.format
	}
	if flags.Changed("columns") {
		cfg.Run.Columns = f.columns
	}
	if flags.Changed("verbose") {
		cfg.Run.Verbose = f.verbose
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout = f.timeout
	}
	if flags.Changed("parallel") {
		cfg.Run.Parallelism = f.parallel
	}
	if flags.Changed("batches") {
		cfg.Engine.Batches = f.batches
	}
	if flags.Changed("pin-cpu") {
		cfg.Engine.PinCPU = f.pinCPU
	}
	if flags.Changed("metrics-file") {
		cfg.Run.MetricsFile = f.metricsFile
	}
	if f.noHistory {
		cfg.History.Enabled = false
	}
}

// runBenchmarks is the body of `jitbench run`.
func (a *app) runBenchmarks(cmd *cobra.Command, f *runFlags) error {
	cfg := a.cfg
	f.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	var filter *regexp.Regexp
	if cfg.Run.Filter != "" {
		re, err := regexp.Compile(cfg.Run.Filter)
		if err != nil {
			return usageError(fmt.Errorf("filter: %w", err))
		}
		filter = re
	}
	opts := report.Options{Verbose: cfg.Run.Verbose}
	if cfg.Run.Columns != "" {
		cols, err := report.ParseColumns(cfg.Run.Columns)
		if err != nil {
			return usageError(err)
		}
		opts.Columns = cols
	}
	rep, err := report.New(report.Format(cfg.Run.Format), a.stdout, opts)
	if err != nil {
		return usageError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
	if err != nil {
		return fmt.Errorf("create metrics sink: %w", err)
	}
	sink.SetLogger(a.logger.Slog())
	defer sink.Close()

	meter, err := telemetry.NewMeterObserver(otel.Meter("jitbench"))
	if err != nil {
		return fmt.Errorf("create meter observer: %w", err)
	}

	reg := harness.NewRegistry()
	if err := cases.Register(reg); err != nil {
		return fmt.Errorf("register cases: %w", err)
	}

	iso := isolation.NewProcessIsolator()
	iso.SetLogger(a.logger.Slog())
	iso.Stderr = a.stderr
	iso.Args = []string{isolation.WorkerCommand, "--log-level", cfg.Logging.Level.String()}

	r, err := runner.New(reg, iso,
		runner.WithFilter(filter),
		runner.WithParallelism(cfg.Run.Parallelism),
		runner.WithTimeout(cfg.Run.Timeout),
		runner.WithEngineConfig(&cfg.Engine),
		runner.WithObserver(sink),
		runner.WithObserver(meter),
		runner.WithLogger(a.logger.Slog()),
	)
	if err != nil {
		return usageError(err)
	}

	res, err := r.Run(ctx, cfg.JobSet())
	if err != nil {
		if isUsageError(err) {
			return usageError(err)
		}
		return fmt.Errorf("run: %w", err)
	}
	if err := rep.Report(res); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if cfg.Run.MetricsFile != "" {
		if err := sink.WriteTextfile(cfg.Run.MetricsFile); err != nil {
			a.logger.Warn("metrics textfile not written", "path", cfg.Run.MetricsFile, "error", err)
		}
	}
	if cfg.History.Enabled {
		a.saveRun(ctx, res)
	}

	if code := res.ExitCode(); code != ExitOK {
		return &ExitError{Code: code, Wrapped: errFatalSeries, Silent: true}
	}
	return nil
}

// saveRun stores res in the history. Failures are logged; the run's
// report is already out.
func (a *app) saveRun(ctx context.Context, res *runner.Result) {
	store, err := a.openHistory()
	if err != nil {
		a.logger.Warn("run not saved", "run", res.ID, "error", err)
		return
	}
	defer store.Close()

	if err := store.Save(ctx, res); err != nil {
		a.logger.Warn("run not saved", "run", res.ID, "error", err)
		return
	}
	a.logger.Info("run saved", "run", res.ID, "path", a.cfg.History.Path)
}

// openHistory opens the configured history store.
func (a *app) openHistory() (*history.Store, error) {
	hc := a.cfg.History.Config
	if hc.Path == "" && !hc.InMemory {
		return nil, usageError(fmt.Errorf("%w: history.path is not set", config.ErrInvalidConfig))
	}
	hc.Logger = a.logger.Slog()
	return history.Open(hc)
}
