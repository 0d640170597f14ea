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
	"regexp/syntax"

	"github.com/AleutianAI/jitbench/cmd/jitbench/config"
	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/engine"
	"github.com/AleutianAI/jitbench/services/harness/report"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

const (
	// ExitOK means the run completed without fatal series.
	ExitOK = 0

	// ExitFailures means at least one series ended fatally.
	ExitFailures = 1

	// ExitUsage means the configuration, flags or arguments were rejected.
	ExitUsage = 2
)

// errFatalSeries is reported when a run finishes with fatal series. The
// report already names them, so it is not printed again.
var errFatalSeries = errors.New("one or more series failed fatally")

// ExitError carries a process exit code through cobra's error return.
//
// # Example
//
//	return usageError(fmt.Errorf("--parallel must be >= 1"))
//
//	var exitErr *ExitError
//	if errors.As(err, &exitErr) {
//	    os.Exit(exitErr.Code)
//	}
type ExitError struct {
	// Code is the process exit code.
	Code int

	// Wrapped is the underlying error.
	Wrapped error

	// Silent suppresses the "Error:" line on stderr.
	Silent bool
}

// Error returns the wrapped message with the exit code.
func (e *ExitError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Wrapped.Error()
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Wrapped
}

// usageError marks err as a configuration or usage problem.
func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: ExitUsage, Wrapped: err}
}

// isUsageError reports whether err is one of the configuration failures
// the harness packages return before any series runs.
func isUsageError(err error) bool {
	var syntaxErr *syntax.Error
	switch {
	case errors.As(err, &syntaxErr),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, harness.ErrInvalidJob),
		errors.Is(err, runner.ErrEmptyPlan),
		errors.Is(err, report.ErrUnknownFormat),
		errors.Is(err, report.ErrUnknownColumn):
		return true
	}
	return false
}

// exitCode maps a command error to a process exit code.
//
// Errors without an explicit code are usage errors when they are one of
// the known configuration failures, else ExitFailures. Cobra's own flag and
// argument errors carry no type, so commands wrap them with usageError
// through the root FlagErrorFunc and Args validators.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if isUsageError(err) {
		return ExitUsage
	}
	return ExitFailures
}
