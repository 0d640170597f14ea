// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs one benchmark series: setup, warm-up, pilot and
// measurement of a (case, variant) pair inside a single job process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/aggregate"
)

const tracerName = "jitbench.harness.engine"

var (
	// ErrInvalidConfig indicates an invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrConcurrentRun is returned when Run is called while another series
	// is in progress on the same engine.
	ErrConcurrentRun = errors.New("engine is already measuring a series")

	// ErrUnknownVariant is returned for a variant index the case does not declare.
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrPinUnsupported is returned when CPU pinning is unavailable on this platform.
	ErrPinUnsupported = errors.New("cpu pinning not supported on this platform")
)

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine measures series for one job process.
//
// Description:
//
//	An Engine remembers which case setups already ran, so a case's setup
//	callback is invoked at most once per Engine no matter how many of its
//	variants are measured. Exactly one Engine should exist per job process.
//	Timer resolution is estimated once, on the first Run.
//
// Thread Safety: Run refuses concurrent calls with ErrConcurrentRun.
// Measurement is strictly sequential by contract.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	running atomic.Bool
	setups  map[string]error

	resOnce    sync.Once
	resolution time.Duration

	// sink keeps the last work result reachable.
	sink any
}

// New creates an Engine.
//
// Inputs:
//   - opts: Optional configuration options applied over DefaultConfig().
//
// Outputs:
//   - *Engine: The engine. Nil on error.
//   - error: ErrInvalidConfig (wrapped) if the resulting config is invalid.
//
// Example:
//
//	eng, err := engine.New(engine.WithBatches(30), engine.WithMinBatchTime(5*time.Millisecond))
func New(opts ...RunOption) (*Engine, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    *cfg,
		logger: slog.Default(),
		setups: make(map[string]error),
	}, nil
}

// SetLogger replaces the engine's logger. Nil values are ignored.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Resolution returns the estimated timer resolution, estimating it if needed.
func (e *Engine) Resolution() time.Duration {
	e.resOnce.Do(func() {
		e.resolution = EstimateResolution()
	})
	return e.resolution
}

// Run measures one series.
//
// Description:
//
//	Runs the case's setup (once per engine), then warm-up, pilot and
//	measurement phases, and aggregates the samples. The returned result is
//	non-nil for every outcome except ErrConcurrentRun and ErrUnknownVariant;
//	it carries the failure status when err is non-nil.
//
// Inputs:
//   - ctx: Checked between batches. Cancellation yields ErrSkipped.
//   - c: The case to measure. Must not be nil.
//   - caseIndex: Registration index of the case, used for result identity.
//   - variantIndex: Index into c.Variants().
//
// Outputs:
//   - *harness.SeriesResult: The series result.
//   - error: nil on a stable series, *harness.MeasurementError when warm-up
//     did not converge (result still valid, status Unstable),
//     *harness.SetupError, *harness.WorkError, or an error wrapping
//     harness.ErrSkipped.
//
// Thread Safety: Not safe for concurrent use; a second concurrent call
// returns ErrConcurrentRun.
func (e *Engine) Run(ctx context.Context, c *harness.Case, caseIndex, variantIndex int) (*harness.SeriesResult, error) {
	if c == nil {
		return nil, harness.ErrNilCase
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrConcurrentRun
	}
	defer e.running.Store(false)

	variant, ok := c.Variant(variantIndex)
	if !ok {
		return nil, fmt.Errorf("%w: case %s has no variant %d", ErrUnknownVariant, c.Name(), variantIndex)
	}
	key := harness.SeriesKey{
		Case:         c.Name(),
		Variant:      variant.Label,
		CaseIndex:    caseIndex,
		VariantIndex: variantIndex,
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "engine.Engine.Run",
		trace.WithAttributes(
			attribute.String("harness.case", key.Case),
			attribute.String("harness.variant", key.Variant),
		),
	)
	defer span.End()

	if e.cfg.PinCPU >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := pinThread(e.cfg.PinCPU); err != nil {
			e.logger.Warn("cpu pinning failed, measuring unpinned",
				slog.Int("cpu", e.cfg.PinCPU),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %w", harness.ErrSkipped, err)
		return harness.Failed(key, "", harness.StatusSkipped, err), err
	}

	if err := e.ensureSetup(c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "setup failed")
		return harness.Failed(key, "", harness.StatusSetupFailed, err), err
	}

	s := &series{
		engine: e,
		key:    key,
		work:   c.Work(),
		args:   variant.Args,
	}

	result, err := s.run(ctx)
	if result == nil {
		result = s.failure(err)
	}

	span.SetAttributes(
		attribute.String("harness.status", string(result.Status)),
		attribute.Int64("harness.calls", s.calls),
		attribute.Int64("harness.ops_per_batch", result.OpsPerBatch),
		attribute.Float64("harness.mean_ns", result.Mean),
	)
	if err != nil && !result.Status.Measured() {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.Status))
	} else {
		span.SetStatus(codes.Ok, "series measured")
	}

	e.logger.Debug("series finished",
		slog.String("case", key.Case),
		slog.String("variant", key.Variant),
		slog.String("status", string(result.Status)),
		slog.Int64("calls", s.calls),
		slog.Float64("mean_ns", result.Mean),
	)

	return result, err
}

// ensureSetup runs the case's setup the first time the case is seen and
// replays the recorded outcome afterwards.
func (e *Engine) ensureSetup(c *harness.Case) error {
	if !c.HasSetup() {
		return nil
	}
	if err, done := e.setups[c.Name()]; done {
		return err
	}

	err := runSetup(c.Setup())
	if err != nil {
		err = &harness.SetupError{Case: c.Name(), Err: err}
	}
	e.setups[c.Name()] = err
	return err
}

func runSetup(fn harness.SetupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// -----------------------------------------------------------------------------
// Series
// -----------------------------------------------------------------------------

// series carries the state of one Run call.
type series struct {
	engine *Engine
	key    harness.SeriesKey
	work   harness.WorkFunc
	args   harness.Args

	// calls counts every call of the work function in this series.
	calls int64
	phase harness.Phase
}

type warmupOutcome struct {
	stable bool
	cv     float64

	// ops is the last warm-up batch size, used as the pilot's first guess.
	ops int64
	// spent is the number of calls made during warm-up.
	spent int64
}

func (s *series) run(ctx context.Context) (*harness.SeriesResult, error) {
	cfg := &s.engine.cfg

	wu, err := s.warmup(ctx)
	if err != nil {
		return nil, err
	}

	ops, err := s.pilot(ctx, wu.ops)
	if err != nil {
		return nil, err
	}

	samples, err := s.measure(ctx, ops)
	if err != nil {
		return nil, err
	}

	stats, err := aggregate.Aggregate(samples, cfg.OutlierThreshold)
	if err != nil {
		return nil, err
	}

	result := &harness.SeriesResult{
		SeriesKey:   s.key,
		Status:      harness.StatusOK,
		OpsPerBatch: ops,
	}
	stats.Apply(result)

	if !wu.stable {
		merr := &harness.MeasurementError{
			Case:    s.key.Case,
			Variant: s.key.Variant,
			Reason:  wu.reason(cfg.WarmupCV),
		}
		result.Status = harness.StatusUnstable
		result.Warnings = append(result.Warnings, merr.Reason)
		return result, merr
	}
	return result, nil
}

// failure converts a phase error into a failed result.
func (s *series) failure(err error) *harness.SeriesResult {
	var we *harness.WorkError
	switch {
	case errors.As(err, &we):
		r := harness.Failed(s.key, "", harness.StatusWorkFailed, err)
		r.FailedIteration = we.Iteration
		return r
	case errors.Is(err, harness.ErrSkipped):
		return harness.Failed(s.key, "", harness.StatusSkipped, err)
	default:
		return harness.Failed(s.key, "", harness.StatusFault, err)
	}
}

// warmup ramps the batch size until a batch lasts WarmupBatchTime, then
// keeps running batches until the last WarmupWindow per-call means have a
// coefficient of variation <= WarmupCV or the budget runs out.
func (s *series) warmup(ctx context.Context) (warmupOutcome, error) {
	cfg := &s.engine.cfg
	s.phase = harness.PhaseWarmup

	out := warmupOutcome{ops: 1}
	if cfg.MaxWarmupIterations == 0 {
		out.stable = true
		return out, nil
	}

	deadline := time.Now().Add(cfg.MaxWarmupTime)
	exhausted := func(next int64) bool {
		return s.calls+next > cfg.MaxWarmupIterations || time.Now().After(deadline)
	}

	n := int64(1)
	for {
		if err := s.checkContext(ctx); err != nil {
			return out, err
		}
		elapsed, err := s.batch(n)
		if err != nil {
			return out, err
		}
		out.ops = n
		if elapsed >= cfg.WarmupBatchTime || n >= cfg.MaxOpsPerBatch {
			break
		}
		n = min(n*2, cfg.MaxOpsPerBatch)
		if exhausted(n) {
			out.cv = math.NaN()
			out.spent = s.calls
			return out, nil
		}
	}

	window := make([]float64, 0, cfg.WarmupWindow)
	for !exhausted(n) {
		if err := s.checkContext(ctx); err != nil {
			return out, err
		}
		elapsed, err := s.batch(n)
		if err != nil {
			return out, err
		}

		if len(window) == cfg.WarmupWindow {
			copy(window, window[1:])
			window = window[:len(window)-1]
		}
		window = append(window, float64(elapsed)/float64(n))
		if len(window) < cfg.WarmupWindow {
			continue
		}
		out.cv = aggregate.CoefficientOfVariation(window)
		if out.cv <= cfg.WarmupCV {
			out.stable = true
			out.spent = s.calls
			return out, nil
		}
	}

	if len(window) < cfg.WarmupWindow {
		out.cv = math.NaN()
	}
	out.spent = s.calls
	return out, nil
}

func (w warmupOutcome) reason(threshold float64) string {
	if math.IsNaN(w.cv) {
		return fmt.Sprintf("warm-up budget exhausted after %d calls before a full window", w.spent)
	}
	return fmt.Sprintf("warm-up budget exhausted after %d calls (cv %.3f > %.3f)", w.spent, w.cv, threshold)
}

// pilot grows the batch size until one batch lasts at least the larger of
// MinBatchTime and TimerResolutionFactor timer ticks.
func (s *series) pilot(ctx context.Context, hint int64) (int64, error) {
	cfg := &s.engine.cfg
	s.phase = harness.PhasePilot

	target := max(cfg.MinBatchTime, s.engine.Resolution()*time.Duration(cfg.TimerResolutionFactor))

	n := min(max(hint, 1), cfg.MaxOpsPerBatch)
	for round := 0; round < maxPilotRounds; round++ {
		if err := s.checkContext(ctx); err != nil {
			return 0, err
		}
		elapsed, err := s.batch(n)
		if err != nil {
			return 0, err
		}
		if elapsed >= target || n >= cfg.MaxOpsPerBatch {
			return n, nil
		}
		n = nextBatchSize(n, elapsed, target, cfg.MaxOpsPerBatch)
	}
	return n, nil
}

const maxPilotRounds = 16

// nextBatchSize predicts the ops needed to reach target from one
// observation, overshooting by 20% and growing at most 100x per step.
func nextBatchSize(n int64, elapsed, target time.Duration, limit int64) int64 {
	var next int64
	if elapsed <= 0 {
		next = n * 100
	} else {
		next = int64(float64(n) * float64(target) / float64(elapsed) * 1.2)
	}
	next = min(next, n*100)
	next = max(next, n+1)
	return min(next, limit)
}

// measure runs the fixed number of batches and normalizes each to per-call
// units. Allocation counters are read outside the timed region.
func (s *series) measure(ctx context.Context, ops int64) ([]harness.Sample, error) {
	cfg := &s.engine.cfg
	s.phase = harness.PhaseMeasure

	runtime.GC()

	samples := make([]harness.Sample, 0, cfg.Batches)
	var before, after runtime.MemStats
	for b := 0; b < cfg.Batches; b++ {
		if err := s.checkContext(ctx); err != nil {
			return nil, err
		}
		if cfg.CollectAllocs {
			runtime.ReadMemStats(&before)
		}
		elapsed, err := s.batch(ops)
		if err != nil {
			return nil, err
		}
		sample := harness.Sample{
			NsPerOp: float64(elapsed.Nanoseconds()) / float64(ops),
			Ops:     ops,
		}
		if cfg.CollectAllocs {
			runtime.ReadMemStats(&after)
			sample.BytesPerOp = float64(after.TotalAlloc-before.TotalAlloc) / float64(ops)
			sample.AllocsPerOp = float64(after.Mallocs-before.Mallocs) / float64(ops)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// batch times n consecutive calls of the work function.
//
// A returned error or a panic stops the batch and is reported as a
// *harness.WorkError carrying the 1-based call index within the series.
func (s *series) batch(n int64) (elapsed time.Duration, err error) {
	var i int64
	defer func() {
		if r := recover(); r != nil {
			s.calls += i + 1
			err = s.workError(fmt.Errorf("panic: %v", r))
		}
	}()

	work, args := s.work, s.args
	var last any
	start := time.Now()
	for i = 0; i < n; i++ {
		v, werr := work(args)
		if werr != nil {
			s.calls += i + 1
			return time.Since(start), s.workError(werr)
		}
		last = v
	}
	elapsed = time.Since(start)

	s.calls += n
	s.engine.sink = last
	return elapsed, nil
}

func (s *series) workError(err error) *harness.WorkError {
	return &harness.WorkError{
		Case:      s.key.Case,
		Variant:   s.key.Variant,
		Phase:     s.phase,
		Iteration: s.calls,
		Err:       err,
	}
}

func (s *series) checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", harness.ErrSkipped, err)
	}
	return nil
}
