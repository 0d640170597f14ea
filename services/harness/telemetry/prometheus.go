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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

var (
	// ErrInvalidConfig indicates an invalid Prometheus configuration.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed indicates a collector could not be registered.
	ErrRegistrationFailed = errors.New("metric registration failed")

	// ErrSinkClosed is returned when recording to a closed sink.
	ErrSinkClosed = errors.New("sink is closed")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is passed.
	ErrNilData = errors.New("data must not be nil")
)

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	// Namespace is the metric namespace. Default: "jitbench"
	Namespace string

	// Subsystem is the metric subsystem. Default: "harness"
	Subsystem string

	// Registry receives the collectors. Nil creates a private registry,
	// so several sinks can coexist in one process.
	Registry *prometheus.Registry

	// LatencyBuckets are the ns/op histogram buckets, in seconds.
	LatencyBuckets []float64

	// MaxLabelCardinality limits distinct values per label; further values
	// collapse into "_other". Default: 1000
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns the default sink configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace: "jitbench",
		Subsystem: "harness",
		LatencyBuckets: []float64{
			1e-10, 1e-9, 5e-9, 1e-8, 5e-8, 1e-7, 5e-7, 1e-6, 1e-5, 1e-4, 1e-3,
		},
		MaxLabelCardinality: 1000,
	}
}

// Validate checks the configuration.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// PrometheusSink exports series and run results as Prometheus metrics.
//
// Description:
//
//	Per-series gauges hold the latest statistics for each (case, variant,
//	job) triple; counters accumulate statuses and runs. The sink implements
//	runner.Observer, so attaching it to a Runner is enough to populate it.
//	Metrics are exposed through Handler() or written to a node-exporter
//	textfile with WriteTextfile.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	config   *PrometheusConfig
	registry *prometheus.Registry
	logger   *slog.Logger

	seriesTotal   *prometheus.CounterVec
	seriesLatency *prometheus.HistogramVec
	meanNs        *prometheus.GaugeVec
	stderrNs      *prometheus.GaugeVec
	bytesPerOp    *prometheus.GaugeVec
	allocsPerOp   *prometheus.GaugeVec
	ratio         *prometheus.GaugeVec
	rank          *prometheus.GaugeVec
	jobAvailable  *prometheus.GaugeVec
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge

	mu     sync.RWMutex
	closed bool

	collectors []prometheus.Collector

	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{}
	maxCardinality int
}

// NewPrometheusSink creates a sink and registers its collectors.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *PrometheusSink: The sink.
//   - error: ErrInvalidConfig or ErrRegistrationFailed.
//
// Example:
//
//	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
//	r, _ := runner.New(reg, iso, runner.WithObserver(sink))
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.LatencyBuckets == nil {
		cfg.LatencyBuckets = DefaultPrometheusConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	maxCard := cfg.MaxLabelCardinality
	if maxCard <= 0 {
		maxCard = 1000
	}

	s := &PrometheusSink{
		config:         &cfg,
		registry:       registry,
		logger:         slog.Default(),
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: maxCard,
	}

	series := []string{"case", "variant", "job"}
	gauge := func(name, help string, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	s.seriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "series_total",
		Help:      "Series results by job and status",
	}, []string{"job", "status"})

	s.seriesLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "series_mean_seconds",
		Help:      "Distribution of measured per-call means in seconds",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"job"})

	s.meanNs = gauge("series_mean_nanoseconds", "Mean time per call of the latest measurement", series)
	s.stderrNs = gauge("series_stderr_nanoseconds", "Standard error of the mean of the latest measurement", series)
	s.bytesPerOp = gauge("series_bytes_per_op", "Bytes allocated per call", series)
	s.allocsPerOp = gauge("series_allocs_per_op", "Heap allocations per call", series)
	s.ratio = gauge("series_ratio", "Mean relative to the row baseline job", series)
	s.rank = gauge("series_rank", "Rank within the row, 1 is fastest", series)
	s.jobAvailable = gauge("job_available", "Whether the job's isolated context could be created", []string{"job"})

	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "runs_total",
		Help:      "Completed runs by exit code",
	}, []string{"exit_code"})

	s.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the latest run",
	})
	s.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the latest run finished",
	})

	s.collectors = []prometheus.Collector{
		s.seriesTotal, s.seriesLatency,
		s.meanNs, s.stderrNs, s.bytesPerOp, s.allocsPerOp, s.ratio, s.rank,
		s.jobAvailable, s.runsTotal, s.runDuration, s.lastRun,
	}
	for _, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			var alreadyErr prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyErr) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}
	return s, nil
}

// SetLogger sets the logger. Nil values are ignored.
func (s *PrometheusSink) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Registry returns the registry holding the sink's collectors.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns an HTTP handler serving the sink's registry.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// WriteTextfile writes the current metrics in text exposition format, for
// the node exporter's textfile collector. The file is replaced atomically.
func (s *PrometheusSink) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// RecordSeries records one series result.
//
// Outputs:
//   - error: ErrNilContext, ErrNilData or ErrSinkClosed.
func (s *PrometheusSink) RecordSeries(ctx context.Context, r *harness.SeriesResult) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r == nil {
		return ErrNilData
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	job := s.sanitizeLabel("job", r.JobID)
	s.seriesTotal.WithLabelValues(job, string(r.Status)).Inc()
	if !r.Status.Measured() {
		return nil
	}

	labels := s.seriesLabels(r.SeriesKey, job)
	s.seriesLatency.WithLabelValues(job).Observe(r.Mean / 1e9)
	s.meanNs.WithLabelValues(labels...).Set(r.Mean)
	s.stderrNs.WithLabelValues(labels...).Set(r.StdErr)
	s.bytesPerOp.WithLabelValues(labels...).Set(r.BytesPerOp)
	s.allocsPerOp.WithLabelValues(labels...).Set(r.AllocsPerOp)
	return nil
}

// RecordRun records the comparison of a finished run.
//
// Outputs:
//   - error: ErrNilContext, ErrNilData or ErrSinkClosed.
func (s *PrometheusSink) RecordRun(ctx context.Context, res *runner.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	if res == nil || res.Table == nil {
		return ErrNilData
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	for _, col := range res.Table.Columns {
		v := 0.0
		if col.Available {
			v = 1
		}
		s.jobAvailable.WithLabelValues(s.sanitizeLabel("job", col.ID)).Set(v)
	}
	for _, row := range res.Table.Rows {
		for _, cell := range row.Cells {
			if !cell.HasRatio {
				continue
			}
			labels := s.seriesLabels(row.Key, s.sanitizeLabel("job", cell.JobID))
			s.ratio.WithLabelValues(labels...).Set(cell.Ratio)
			s.rank.WithLabelValues(labels...).Set(float64(cell.Rank))
		}
	}
	s.runsTotal.WithLabelValues(strconv.Itoa(res.ExitCode())).Inc()
	s.runDuration.Set(res.Duration().Seconds())
	s.lastRun.Set(float64(res.FinishedAt.Unix()))
	return nil
}

// ObserveSeries implements runner.Observer.
func (s *PrometheusSink) ObserveSeries(ctx context.Context, r *harness.SeriesResult) {
	if err := s.RecordSeries(ctx, r); err != nil {
		s.logger.Debug("series metric dropped", slog.String("error", err.Error()))
	}
}

// ObserveRun implements runner.Observer.
func (s *PrometheusSink) ObserveRun(ctx context.Context, res *runner.Result) {
	if err := s.RecordRun(ctx, res); err != nil {
		s.logger.Debug("run metric dropped", slog.String("error", err.Error()))
	}
}

// Close unregisters the collectors. Further records return ErrSinkClosed.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	return nil
}

func (s *PrometheusSink) seriesLabels(key harness.SeriesKey, job string) []string {
	return []string{
		s.sanitizeLabel("case", key.Case),
		s.sanitizeLabel("variant", key.Variant),
		job,
	}
}

// sanitizeLabel protects against label cardinality explosion.
//
// Description:
//
//	Tracks unique label values per label name and replaces values
//	beyond MaxLabelCardinality with "_other".
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) sanitizeLabel(labelName, labelValue string) string {
	s.labelMu.RLock()
	seen := s.seenLabels[labelName]
	if seen != nil {
		if _, exists := seen[labelValue]; exists {
			s.labelMu.RUnlock()
			return labelValue
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return "_other"
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	// Double-check after acquiring write lock
	if s.seenLabels[labelName] == nil {
		s.seenLabels[labelName] = make(map[string]struct{})
	}
	if _, exists := s.seenLabels[labelName][labelValue]; exists {
		return labelValue
	}
	if len(s.seenLabels[labelName]) >= s.maxCardinality {
		return "_other"
	}
	s.seenLabels[labelName][labelValue] = struct{}{}
	return labelValue
}

var _ runner.Observer = (*PrometheusSink)(nil)
