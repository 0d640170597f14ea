// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner orchestrates a complete comparison: it expands the
// registry into a plan, runs every job in its own isolated context, collects
// the streamed series results and builds the comparison table.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/aggregate"
	"github.com/AleutianAI/jitbench/services/harness/isolation"
)

const tracerName = "jitbench.harness.runner"

var (
	// ErrEmptyPlan is returned when the filter selects no case.
	ErrEmptyPlan = errors.New("no cases selected")

	// ErrNilRegistry is returned by New for a nil registry.
	ErrNilRegistry = errors.New("registry must not be nil")

	// ErrNilIsolator is returned by New for a nil isolator.
	ErrNilIsolator = errors.New("isolator must not be nil")
)

// Observer receives results as a run progresses.
//
// Calls are serialized: an Observer never sees two calls at once.
type Observer interface {
	// ObserveSeries is called once per (case, variant, job) triple.
	ObserveSeries(ctx context.Context, result *harness.SeriesResult)

	// ObserveRun is called once with the finished run.
	ObserveRun(ctx context.Context, result *Result)
}

// Result is the outcome of one run.
type Result struct {
	ID         string                     `json:"id"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Filter     string                     `json:"filter,omitempty"`
	Table      *aggregate.ComparisonTable `json:"table"`
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode returns 1 if any triple ended in a fatal status, else 0.
//
// Work failures, instability, skips and unavailable jobs are reported but
// do not fail the run.
func (r *Result) ExitCode() int {
	if r == nil || r.Table == nil {
		return 0
	}
	for _, res := range r.Table.Results() {
		if res.Status.Fatal() {
			return 1
		}
	}
	return 0
}

// Runner runs job comparisons over one registry.
//
// Thread Safety: Run may be called concurrently; each call owns its
// collector and workers.
type Runner struct {
	reg       *harness.Registry
	isolator  isolation.Isolator
	cfg       RunConfig
	observers []Observer
	logger    *slog.Logger
}

// New creates a Runner.
//
// Inputs:
//   - reg: The case catalogue. Frozen by the first Run.
//   - isolator: Launches one isolated context per job.
//   - opts: Configuration options.
//
// Outputs:
//   - *Runner: The runner.
//   - error: ErrNilRegistry, ErrNilIsolator or an engine.ErrInvalidConfig.
func New(reg *harness.Registry, isolator isolation.Isolator, opts ...Option) (*Runner, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if isolator == nil {
		return nil, ErrNilIsolator
	}
	r := &Runner{
		reg:      reg,
		isolator: isolator,
		cfg:      DefaultRunConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Config returns a copy of the run configuration.
func (r *Runner) Config() RunConfig {
	return r.cfg
}

// Run executes every selected series on every job.
//
// Description:
//
//	Validates the job set, freezes the registry and expands it into the
//	plan. Jobs run through the isolator with at most Parallelism running at
//	once; inside a job series are measured sequentially. Every triple ends
//	with a result: triples of an unavailable job become JobUnavailable,
//	triples cut off by cancellation or the timeout become Skipped, and
//	triples lost to a crashed worker become Fault.
//
// Inputs:
//   - ctx: Cancelling it aborts the remaining queue.
//   - jobs: The job configurations to compare.
//
// Outputs:
//   - *Result: The run, with a complete comparison table.
//   - error: harness.ErrInvalidJob or ErrEmptyPlan. Execution failures are
//     recorded in the table, never returned.
//
// Example:
//
//	res, err := r.Run(ctx, harness.NewJobSet(
//	    harness.JobConfig{ID: "go-default", Env: map[string]string{"GOGC": "100"}},
//	    harness.JobConfig{ID: "gc-off", Env: map[string]string{"GOGC": "off"}},
//	))
func (r *Runner) Run(ctx context.Context, jobs *harness.JobSet) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if jobs == nil {
		jobs = harness.NewJobSet()
	}
	if err := jobs.Validate(); err != nil {
		return nil, err
	}

	r.reg.Freeze()
	plan := r.reg.Plan(r.cfg.Filter)
	if len(plan) == 0 {
		if r.cfg.Filter != nil {
			return nil, fmt.Errorf("%w: filter %q matches nothing", ErrEmptyPlan, r.cfg.Filter)
		}
		return nil, ErrEmptyPlan
	}

	res := &Result{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	if r.cfg.Filter != nil {
		res.Filter = r.cfg.Filter.String()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "runner.Runner.Run",
		trace.WithAttributes(
			attribute.String("harness.run_id", res.ID),
			attribute.Int("harness.jobs", jobs.Len()),
			attribute.Int("harness.series", len(plan)),
			attribute.Int("harness.parallelism", r.cfg.Parallelism),
		),
	)
	defer span.End()

	logger := r.logger.With(slog.String("run", res.ID))
	logger.Info("run started",
		slog.Int("jobs", jobs.Len()),
		slog.Int("series", len(plan)),
		slog.Int("parallelism", r.cfg.Parallelism),
	)

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	configs := jobs.Jobs()
	col := NewCollector(plan, jobs.IDs(), func(sr *harness.SeriesResult) {
		r.observeSeries(ctx, sr)
	})

	outcomes := make([]jobOutcome, len(configs))
	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for i, job := range configs {
		g.Go(func() error {
			outcomes[i] = r.runJob(runCtx, logger, job, plan, col)
			return nil
		})
	}
	_ = g.Wait()

	slots := col.Close()
	results := make([]*harness.SeriesResult, 0, len(slots))
	for k, key := range plan {
		for j, job := range configs {
			sr := slots[k*len(configs)+j]
			if sr == nil {
				sr = missing(key, job.ID, outcomes[j].err)
				r.observeSeries(ctx, sr)
			}
			results = append(results, sr)
		}
	}

	columns := make([]aggregate.JobInfo, len(configs))
	for j, job := range configs {
		columns[j] = outcomes[j].info(job.ID)
	}

	res.Table = aggregate.Compare(plan, columns, results)
	res.FinishedAt = time.Now().UTC()

	counts := res.Table.Counts()
	span.SetAttributes(
		attribute.Int("harness.measured", counts[harness.StatusOK]+counts[harness.StatusUnstable]),
		attribute.Int("harness.exit_code", res.ExitCode()),
	)
	if res.ExitCode() != 0 {
		span.SetStatus(codes.Error, "run has fatal results")
	} else {
		span.SetStatus(codes.Ok, "run completed")
	}

	attrs := []any{slog.Duration("duration", res.Duration())}
	for _, s := range []harness.Status{
		harness.StatusOK, harness.StatusUnstable, harness.StatusWorkFailed,
		harness.StatusSetupFailed, harness.StatusSkipped, harness.StatusJobUnavailable,
		harness.StatusFault,
	} {
		if n := counts[s]; n > 0 {
			attrs = append(attrs, slog.Int(string(s), n))
		}
	}
	logger.Info("run finished", attrs...)

	for _, o := range r.observers {
		o.ObserveRun(ctx, res)
	}
	return res, nil
}

func (r *Runner) observeSeries(ctx context.Context, sr *harness.SeriesResult) {
	for _, o := range r.observers {
		o.ObserveSeries(ctx, sr)
	}
}

// jobOutcome is what one isolated job context reported.
type jobOutcome struct {
	hello *isolation.Hello
	err   error
}

func (o jobOutcome) info(id string) aggregate.JobInfo {
	info := aggregate.JobInfo{ID: id, Available: true}
	var ue *harness.UnavailableError
	if errors.As(o.err, &ue) {
		info.Available = false
		info.Reason = ue.Reason
	}
	if o.hello != nil {
		info.Runtime = o.hello.Runtime()
	}
	return info
}

func (r *Runner) runJob(ctx context.Context, logger *slog.Logger, job harness.JobConfig, plan []harness.SeriesKey, col *Collector) jobOutcome {
	logger = logger.With(slog.String("job", job.ID))
	start := time.Now()

	req := isolation.Request{Keys: plan, Engine: r.cfg.Engine}
	emit := func(rec isolation.Record) {
		switch rec.Type {
		case isolation.RecordSeries:
			if err := col.Submit(rec.Series); err != nil {
				logger.Warn("series result rejected", slog.String("error", err.Error()))
			}
		case isolation.RecordFatal:
			logger.Error("worker reported fatal error", slog.String("error", rec.Fatal))
		}
	}

	hello, err := r.isolator.Run(ctx, job, req, emit)

	var ue *harness.UnavailableError
	switch {
	case err == nil:
		logger.Info("job finished", slog.Duration("duration", time.Since(start)))
	case errors.As(err, &ue):
		logger.Warn("job unavailable", slog.String("reason", ue.Reason))
	case errors.Is(err, harness.ErrSkipped):
		logger.Warn("job cut short", slog.String("error", err.Error()))
	default:
		logger.Error("job failed", slog.String("error", err.Error()))
	}
	return jobOutcome{hello: hello, err: err}
}

// missing fabricates the result of a triple its job never reported.
func missing(key harness.SeriesKey, jobID string, jobErr error) *harness.SeriesResult {
	var ue *harness.UnavailableError
	switch {
	case errors.As(jobErr, &ue):
		r := harness.Failed(key, jobID, harness.StatusJobUnavailable, jobErr)
		r.Error = ue.Reason
		return r
	case errors.Is(jobErr, harness.ErrSkipped):
		return harness.Failed(key, jobID, harness.StatusSkipped, jobErr)
	case jobErr == nil:
		return harness.Failed(key, jobID, harness.StatusFault, errors.New("worker finished without reporting this series"))
	default:
		return harness.Failed(key, jobID, harness.StatusFault, jobErr)
	}
}
