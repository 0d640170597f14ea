// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"errors"
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateName is returned when a case name is registered twice.
	ErrDuplicateName = errors.New("duplicate case name")

	// ErrNilCase is returned when attempting to register nil.
	ErrNilCase = errors.New("case must not be nil")

	// ErrInvalidCase is returned when a case definition is malformed.
	ErrInvalidCase = errors.New("invalid case definition")

	// ErrRegistryFrozen is returned when registering after the run began.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrInvalidJob is returned when the job configuration set is malformed.
	ErrInvalidJob = errors.New("invalid job configuration")

	// ErrJobUnavailable is returned when a job's execution context cannot be created.
	ErrJobUnavailable = errors.New("job unavailable")

	// ErrSetupFailed is returned when a case's one-time setup fails.
	ErrSetupFailed = errors.New("setup failed")

	// ErrWorkFailed is returned when the measured function fails.
	ErrWorkFailed = errors.New("work failed")

	// ErrUnstable is returned when warm-up did not converge.
	ErrUnstable = errors.New("measurement did not stabilize")

	// ErrSkipped is returned for series abandoned by a run-level cancellation.
	ErrSkipped = errors.New("series skipped")
)

// SetupError reports a failed setup callback for one case in one job.
type SetupError struct {
	Case string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("case %s: %v: %v", e.Case, ErrSetupFailed, e.Err)
}

// Unwrap returns both the sentinel and the cause so errors.Is matches either.
func (e *SetupError) Unwrap() []error { return []error{ErrSetupFailed, e.Err} }

// WorkError reports a failure of the work function during a series.
//
// Iteration is the 1-based index of the failing call counted from the first
// call of the series, across warm-up, pilot and measurement.
type WorkError struct {
	Case      string
	Variant   string
	Phase     Phase
	Iteration int64
	Err       error
}

func (e *WorkError) Error() string {
	return fmt.Sprintf("case %s%s: %v at call %d (%s): %v",
		e.Case, variantSuffix(e.Variant), ErrWorkFailed, e.Iteration, e.Phase, e.Err)
}

func (e *WorkError) Unwrap() []error { return []error{ErrWorkFailed, e.Err} }

// MeasurementError flags a series whose statistics are low-confidence.
// The accompanying SeriesResult is still valid and carries a warning.
type MeasurementError struct {
	Case    string
	Variant string
	Reason  string
}

func (e *MeasurementError) Error() string {
	return fmt.Sprintf("case %s%s: %v: %s", e.Case, variantSuffix(e.Variant), ErrUnstable, e.Reason)
}

func (e *MeasurementError) Unwrap() error { return ErrUnstable }

// UnavailableError records why a job's isolated context could not be created.
type UnavailableError struct {
	JobID  string
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s: %v: %s: %v", e.JobID, ErrJobUnavailable, e.Reason, e.Err)
	}
	return fmt.Sprintf("job %s: %v: %s", e.JobID, ErrJobUnavailable, e.Reason)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrJobUnavailable}
	}
	return []error{ErrJobUnavailable, e.Err}
}

func variantSuffix(label string) string {
	if label == "" {
		return ""
	}
	return "(" + label + ")"
}

// -----------------------------------------------------------------------------
// Phases and statuses
// -----------------------------------------------------------------------------

// Phase identifies the engine stage a call belongs to.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseWarmup
	PhasePilot
	PhaseMeasure
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseWarmup:
		return "warmup"
	case PhasePilot:
		return "pilot"
	case PhaseMeasure:
		return "measure"
	default:
		return fmt.Sprintf("phase(%d)", p)
	}
}

// Status is the outcome of one (case, variant, job) series.
type Status string

const (
	// StatusOK indicates a stable, fully aggregated series.
	StatusOK Status = "ok"

	// StatusUnstable indicates an aggregated series flagged as low-confidence.
	StatusUnstable Status = "unstable"

	// StatusWorkFailed indicates the work function failed mid-series.
	StatusWorkFailed Status = "work_failed"

	// StatusSetupFailed indicates the case setup failed in this job.
	StatusSetupFailed Status = "setup_failed"

	// StatusSkipped indicates the series was abandoned by cancellation.
	StatusSkipped Status = "skipped"

	// StatusJobUnavailable indicates the job's context could not be created.
	StatusJobUnavailable Status = "job_unavailable"

	// StatusFault indicates an engine-internal failure (e.g. worker crash).
	StatusFault Status = "fault"
)

// Measured reports whether the status carries usable statistics.
func (s Status) Measured() bool {
	return s == StatusOK || s == StatusUnstable
}

// Fatal reports whether the status must produce a non-zero run exit code.
func (s Status) Fatal() bool {
	return s == StatusSetupFailed || s == StatusFault
}

// -----------------------------------------------------------------------------
// Arguments
// -----------------------------------------------------------------------------

// Args is the tuple of literal values bound to a case for one series.
type Args []any

// String returns the i-th argument as a string, or "" if absent or mistyped.
func (a Args) String(i int) string {
	if i < len(a) {
		if s, ok := a[i].(string); ok {
			return s
		}
	}
	return ""
}

// Int returns the i-th argument as an int, or 0.
func (a Args) Int(i int) int {
	if i < len(a) {
		switch v := a[i].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case uint64:
			return int(v)
		}
	}
	return 0
}

// Uint64 returns the i-th argument as a uint64, or 0.
func (a Args) Uint64(i int) uint64 {
	if i < len(a) {
		switch v := a[i].(type) {
		case uint64:
			return v
		case int:
			return uint64(v)
		case int64:
			return uint64(v)
		}
	}
	return 0
}

// Label renders the arguments the way reports display them.
func (a Args) Label() string {
	if len(a) == 0 {
		return ""
	}
	parts := make([]string, len(a))
	for i, v := range a {
		if s, ok := v.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
		} else {
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ", ")
}

// -----------------------------------------------------------------------------
// Samples and results
// -----------------------------------------------------------------------------

// Sample is one measured batch normalized to per-call units.
type Sample struct {
	NsPerOp     float64
	BytesPerOp  float64
	AllocsPerOp float64
	Ops         int64
}

// SeriesKey identifies one (case, variant) group in registry order.
type SeriesKey struct {
	Case         string `json:"case"`
	Variant      string `json:"variant,omitempty"`
	CaseIndex    int    `json:"case_index"`
	VariantIndex int    `json:"variant_index"`
}

// Less orders keys by registration order then declaration order.
func (k SeriesKey) Less(o SeriesKey) bool {
	if k.CaseIndex != o.CaseIndex {
		return k.CaseIndex < o.CaseIndex
	}
	return k.VariantIndex < o.VariantIndex
}

// SeriesResult is the aggregated outcome for one (case, variant, job) triple.
//
// Statistics are in nanoseconds per call and are only populated when
// Status.Measured() is true.
//
// Thread Safety: Immutable after aggregation.
type SeriesResult struct {
	SeriesKey
	JobID  string `json:"job_id"`
	Status Status `json:"status"`

	Count    int     `json:"count"`
	Mean     float64 `json:"mean_ns"`
	StdDev   float64 `json:"stddev_ns"`
	StdErr   float64 `json:"stderr_ns"`
	Median   float64 `json:"median_ns"`
	Min      float64 `json:"min_ns"`
	Max      float64 `json:"max_ns"`
	Outliers int     `json:"outliers"`

	BytesPerOp  float64 `json:"bytes_per_op"`
	AllocsPerOp float64 `json:"allocs_per_op"`
	OpsPerBatch int64   `json:"ops_per_batch"`

	Warnings        []string `json:"warnings,omitempty"`
	FailedIteration int64    `json:"failed_iteration,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Failed returns a result carrying only identity and a failure status.
func Failed(key SeriesKey, jobID string, status Status, err error) *SeriesResult {
	r := &SeriesResult{SeriesKey: key, JobID: jobID, Status: status}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
