// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// MeterObserver records series results through an OTel meter.
//
// Description:
//
//	Use it when metrics go to an OTel backend instead of, or in addition
//	to, the Prometheus sink. Instruments are created once in NewMeterObserver.
//
// Thread Safety: Safe for concurrent use.
type MeterObserver struct {
	seriesTotal metric.Int64Counter
	seriesMean  metric.Float64Histogram
	bytesPerOp  metric.Float64Histogram
	runsTotal   metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewMeterObserver creates the instruments on meter.
//
// Example:
//
//	obs, err := telemetry.NewMeterObserver(otel.Meter("jitbench"))
func NewMeterObserver(meter metric.Meter) (*MeterObserver, error) {
	m := &MeterObserver{}
	var err error

	m.seriesTotal, err = meter.Int64Counter(
		"jitbench_series_total",
		metric.WithDescription("Series results by job and status"),
		metric.WithUnit("{series}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create series_total: %w", err)
	}

	m.seriesMean, err = meter.Float64Histogram(
		"jitbench_series_mean",
		metric.WithDescription("Measured mean time per call"),
		metric.WithUnit("ns"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 5, 10, 50, 100, 500, 1000, 10000, 100000, 1e6),
	)
	if err != nil {
		return nil, fmt.Errorf("create series_mean: %w", err)
	}

	m.bytesPerOp, err = meter.Float64Histogram(
		"jitbench_series_bytes_per_op",
		metric.WithDescription("Bytes allocated per call"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(0, 8, 16, 32, 64, 128, 256, 1024, 4096, 65536),
	)
	if err != nil {
		return nil, fmt.Errorf("create series_bytes_per_op: %w", err)
	}

	m.runsTotal, err = meter.Int64Counter(
		"jitbench_runs_total",
		metric.WithDescription("Completed runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.runDuration, err = meter.Float64Histogram(
		"jitbench_run_duration_seconds",
		metric.WithDescription("Run wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	return m, nil
}

// ObserveSeries implements runner.Observer.
func (m *MeterObserver) ObserveSeries(ctx context.Context, r *harness.SeriesResult) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job", r.JobID),
		attribute.String("status", string(r.Status)),
	)
	m.seriesTotal.Add(ctx, 1, attrs)
	if !r.Status.Measured() {
		return
	}
	series := metric.WithAttributes(
		attribute.String("job", r.JobID),
		attribute.String("case", r.Case),
	)
	m.seriesMean.Record(ctx, r.Mean, series)
	m.bytesPerOp.Record(ctx, r.BytesPerOp, series)
}

// ObserveRun implements runner.Observer.
func (m *MeterObserver) ObserveRun(ctx context.Context, res *runner.Result) {
	if res == nil {
		return
	}
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("exit_code", res.ExitCode())))
	m.runDuration.Record(ctx, res.Duration().Seconds())
}

var _ runner.Observer = (*MeterObserver)(nil)
