// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/jitbench/services/harness/aggregate"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls warm-up, pilot and measurement of a series.
//
// Description:
//
//	Use DefaultConfig() for sensible defaults and RunOption values to
//	override specific fields. A Config is copied into the Engine at
//	construction and never mutated afterwards.
//
// Thread Safety: Safe for concurrent read access after initialization.
type Config struct {
	// WarmupBatchTime is the batch duration the warm-up ramp grows to
	// before stability is evaluated.
	// Default: 1ms
	WarmupBatchTime time.Duration `json:"warmup_batch_time" yaml:"warmup_batch_time"`

	// WarmupWindow is the number of consecutive warm-up batches whose
	// per-call means must agree.
	// Default: 5
	WarmupWindow int `json:"warmup_window" yaml:"warmup_window"`

	// WarmupCV is the coefficient of variation at or below which the
	// warm-up window counts as stable.
	// Default: 0.05
	WarmupCV float64 `json:"warmup_cv" yaml:"warmup_cv"`

	// MaxWarmupIterations is the call budget of the warm-up phase.
	// Zero disables warm-up.
	// Default: 10,000,000
	MaxWarmupIterations int64 `json:"max_warmup_iterations" yaml:"max_warmup_iterations"`

	// MaxWarmupTime bounds the wall-clock time of the warm-up phase.
	// Default: 2s
	MaxWarmupTime time.Duration `json:"max_warmup_time" yaml:"max_warmup_time"`

	// MinBatchTime is the minimum duration of one measured batch.
	// Default: 2ms
	MinBatchTime time.Duration `json:"min_batch_time" yaml:"min_batch_time"`

	// TimerResolutionFactor makes a batch last at least this many timer
	// ticks so that clock granularity is negligible.
	// Default: 1000
	TimerResolutionFactor int `json:"timer_resolution_factor" yaml:"timer_resolution_factor"`

	// MaxOpsPerBatch caps the calls in one batch.
	// Default: 1,000,000,000
	MaxOpsPerBatch int64 `json:"max_ops_per_batch" yaml:"max_ops_per_batch"`

	// Batches is the number of measured batches per series.
	// Default: 20
	Batches int `json:"batches" yaml:"batches"`

	// OutlierThreshold is the IQR multiplier for outlier exclusion.
	// Zero disables exclusion.
	// Default: 1.5
	OutlierThreshold float64 `json:"outlier_threshold" yaml:"outlier_threshold"`

	// CollectAllocs reads allocation counters around each batch.
	// Default: true
	CollectAllocs bool `json:"collect_allocs" yaml:"collect_allocs"`

	// PinCPU pins the measuring thread to one CPU. Negative disables.
	// Default: -1
	PinCPU int `json:"pin_cpu" yaml:"pin_cpu"`
}

// DefaultConfig returns a configuration with default values.
//
// Outputs:
//   - *Config: Configuration with default values. Never nil.
func DefaultConfig() *Config {
	return &Config{
		WarmupBatchTime:       time.Millisecond,
		WarmupWindow:          5,
		WarmupCV:              0.05,
		MaxWarmupIterations:   10_000_000,
		MaxWarmupTime:         2 * time.Second,
		MinBatchTime:          2 * time.Millisecond,
		TimerResolutionFactor: 1000,
		MaxOpsPerBatch:        1_000_000_000,
		Batches:               20,
		OutlierThreshold:      aggregate.DefaultOutlierThreshold,
		CollectAllocs:         true,
		PinCPU:                -1,
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Non-nil if any field is out of range. Every problem is
//     reported, joined, and wrapped with ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	if c.WarmupBatchTime <= 0 {
		errs = append(errs, errors.New("warmup batch time must be positive"))
	}
	if c.WarmupWindow < 2 {
		errs = append(errs, errors.New("warmup window must be at least 2"))
	}
	if c.WarmupCV < 0 {
		errs = append(errs, errors.New("warmup cv must be non-negative"))
	}
	if c.MaxWarmupIterations < 0 {
		errs = append(errs, errors.New("max warmup iterations must be non-negative"))
	}
	if c.MaxWarmupTime <= 0 {
		errs = append(errs, errors.New("max warmup time must be positive"))
	}
	if c.MinBatchTime <= 0 {
		errs = append(errs, errors.New("min batch time must be positive"))
	}
	if c.TimerResolutionFactor <= 0 {
		errs = append(errs, errors.New("timer resolution factor must be positive"))
	}
	if c.MaxOpsPerBatch <= 0 {
		errs = append(errs, errors.New("max ops per batch must be positive"))
	}
	if c.Batches <= 0 {
		errs = append(errs, errors.New("batches must be positive"))
	}
	if c.OutlierThreshold < 0 {
		errs = append(errs, errors.New("outlier threshold must be non-negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// RunOption configures an Engine.
//
// Options are applied in order, so later options override earlier ones.
// Out-of-range values are ignored and the previous value is kept.
type RunOption func(*Config)

// WithConfig replaces the whole configuration. A nil config is ignored.
func WithConfig(cfg *Config) RunOption {
	return func(c *Config) {
		if cfg != nil {
			*c = *cfg
		}
	}
}

// WithBatches sets the number of measured batches.
//
// Inputs:
//   - n: Batch count. Must be positive; non-positive values are ignored.
//
// Example:
//
//	eng, _ := engine.New(engine.WithBatches(30))
func WithBatches(n int) RunOption {
	return func(c *Config) {
		if n > 0 {
			c.Batches = n
		}
	}
}

// WithWarmupBatchTime sets the warm-up ramp target duration.
func WithWarmupBatchTime(d time.Duration) RunOption {
	return func(c *Config) {
		if d > 0 {
			c.WarmupBatchTime = d
		}
	}
}

// WithWarmupWindow sets the stability window size. Values below 2 are ignored.
func WithWarmupWindow(n int) RunOption {
	return func(c *Config) {
		if n >= 2 {
			c.WarmupWindow = n
		}
	}
}

// WithWarmupCV sets the stability threshold. Negative values are ignored.
func WithWarmupCV(cv float64) RunOption {
	return func(c *Config) {
		if cv >= 0 {
			c.WarmupCV = cv
		}
	}
}

// WithMaxWarmupIterations sets the warm-up call budget. Zero disables
// warm-up; negative values are ignored.
func WithMaxWarmupIterations(n int64) RunOption {
	return func(c *Config) {
		if n >= 0 {
			c.MaxWarmupIterations = n
		}
	}
}

// WithMaxWarmupTime bounds the warm-up wall-clock time.
func WithMaxWarmupTime(d time.Duration) RunOption {
	return func(c *Config) {
		if d > 0 {
			c.MaxWarmupTime = d
		}
	}
}

// WithMinBatchTime sets the minimum measured batch duration.
//
// Description:
//
//	Longer batches reduce the relative cost of timing but take longer to
//	collect. The effective minimum is never below TimerResolutionFactor
//	timer ticks.
//
// Inputs:
//   - d: Minimum batch duration. Must be positive; non-positive values are ignored.
func WithMinBatchTime(d time.Duration) RunOption {
	return func(c *Config) {
		if d > 0 {
			c.MinBatchTime = d
		}
	}
}

// WithTimerResolutionFactor sets the ticks-per-batch floor.
func WithTimerResolutionFactor(n int) RunOption {
	return func(c *Config) {
		if n > 0 {
			c.TimerResolutionFactor = n
		}
	}
}

// WithMaxOpsPerBatch caps the calls per batch.
func WithMaxOpsPerBatch(n int64) RunOption {
	return func(c *Config) {
		if n > 0 {
			c.MaxOpsPerBatch = n
		}
	}
}

// WithOutlierThreshold sets the IQR multiplier. Zero disables exclusion;
// negative values are ignored.
func WithOutlierThreshold(threshold float64) RunOption {
	return func(c *Config) {
		if threshold >= 0 {
			c.OutlierThreshold = threshold
		}
	}
}

// WithAllocs enables or disables allocation collection.
func WithAllocs(enabled bool) RunOption {
	return func(c *Config) {
		c.CollectAllocs = enabled
	}
}

// WithPinCPU pins the measuring thread to cpu. Negative disables pinning.
func WithPinCPU(cpu int) RunOption {
	return func(c *Config) {
		c.PinCPU = cpu
	}
}
