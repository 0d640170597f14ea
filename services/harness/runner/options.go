// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"log/slog"
	"regexp"
	"time"

	"github.com/AleutianAI/jitbench/services/harness/engine"
)

// RunConfig controls one orchestrated run.
type RunConfig struct {
	// Filter selects cases by name. Nil selects every case.
	Filter *regexp.Regexp

	// Parallelism is how many job processes may run at once. Default: 1
	Parallelism int

	// Timeout aborts the remaining queue. Zero means no timeout.
	Timeout time.Duration

	// Engine is forwarded to every worker.
	Engine engine.Config
}

// DefaultRunConfig returns the defaults: every case, one job at a time,
// no timeout, engine.DefaultConfig.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Parallelism: 1,
		Engine:      *engine.DefaultConfig(),
	}
}

// -----------------------------------------------------------------------------
// Runner Options
// -----------------------------------------------------------------------------

// Option configures a Runner.
//
// Description:
//
//	Options are applied in order, so later options override earlier ones.
//	Invalid values are ignored and the previous setting is kept.
type Option func(*Runner)

// WithFilter restricts the run to cases whose name matches re.
//
// Example:
//
//	runner.New(reg, iso, runner.WithFilter(regexp.MustCompile("^Vector")))
func WithFilter(re *regexp.Regexp) Option {
	return func(r *Runner) {
		r.cfg.Filter = re
	}
}

// WithParallelism sets how many jobs may run concurrently.
//
// Inputs:
//   - n: Number of concurrent job processes. Must be positive; non-positive
//     values are ignored.
//
// Example:
//
//	runner.New(reg, iso, runner.WithParallelism(2))
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.cfg.Parallelism = n
		}
	}
}

// WithTimeout bounds the whole run. Triples still queued or in flight when
// it expires are reported as skipped.
//
// Inputs:
//   - d: Run timeout. Negative values are ignored; zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.cfg.Timeout = d
		}
	}
}

// WithEngineConfig sets the engine configuration sent to workers. Nil is
// ignored.
func WithEngineConfig(cfg *engine.Config) Option {
	return func(r *Runner) {
		if cfg != nil {
			r.cfg.Engine = *cfg
		}
	}
}

// WithObserver adds an observer. Nil is ignored.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}
