// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"fmt"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

// DefaultDiffThreshold is the relative mean change, in percent, below
// which a series is reported as unchanged.
const DefaultDiffThreshold = 5.0

// Change classifies one diff entry.
type Change string

const (
	ChangeUnchanged Change = "unchanged"
	ChangeFaster    Change = "faster"
	ChangeSlower    Change = "slower"
	ChangeAdded     Change = "added"
	ChangeRemoved   Change = "removed"
	ChangeFailed    Change = "not_comparable"
)

// DiffEntry compares one (case, variant, job) across two runs.
type DiffEntry struct {
	Case    string `json:"case"`
	Variant string `json:"variant,omitempty"`
	Job     string `json:"job"`

	Old *harness.SeriesResult `json:"old,omitempty"`
	New *harness.SeriesResult `json:"new,omitempty"`

	// Percentage changes, new relative to old. Zero when old is zero.
	MeanDiff   float64 `json:"mean_diff_pct"`
	BytesDiff  float64 `json:"bytes_diff_pct"`
	AllocsDiff float64 `json:"allocs_diff_pct"`

	Change Change `json:"change"`
}

// String renders the entry on one line.
func (e DiffEntry) String() string {
	name := e.Case
	if e.Variant != "" {
		name += "(" + e.Variant + ")"
	}
	switch e.Change {
	case ChangeAdded, ChangeRemoved, ChangeFailed:
		return fmt.Sprintf("%s on %s: %s", name, e.Job, e.Change)
	}
	return fmt.Sprintf("%s on %s: %+.2f%% ns/op (%s)", name, e.Job, e.MeanDiff, e.Change)
}

// RunDiff is the comparison of two runs.
type RunDiff struct {
	OldID     string      `json:"old_id"`
	NewID     string      `json:"new_id"`
	Threshold float64     `json:"threshold_pct"`
	Entries   []DiffEntry `json:"entries"`
}

// Count returns the number of entries with the given change.
func (d *RunDiff) Count(c Change) int {
	n := 0
	for _, e := range d.Entries {
		if e.Change == c {
			n++
		}
	}
	return n
}

type diffKey struct {
	caseName, variant, job string
}

// Diff compares two runs series by series.
//
// Description:
//
//	Series are matched by case name, variant label and job ID, so runs
//	taken with different catalogues or filters still line up. Entries
//	follow the new run's order, then series present only in the old run.
//	A matched pair where either side is not measured is not comparable.
//
// Inputs:
//   - old, new: The runs to compare. Must have tables.
//   - threshold: Percent change treated as noise. Negative uses
//     DefaultDiffThreshold.
func Diff(old, new *runner.Result, threshold float64) *RunDiff {
	if threshold < 0 {
		threshold = DefaultDiffThreshold
	}
	d := &RunDiff{OldID: old.ID, NewID: new.ID, Threshold: threshold}

	prev := make(map[diffKey]*harness.SeriesResult)
	var prevOrder []diffKey
	for _, r := range old.Table.Results() {
		k := diffKey{r.Case, r.Variant, r.JobID}
		prev[k] = r
		prevOrder = append(prevOrder, k)
	}

	seen := make(map[diffKey]bool)
	for _, r := range new.Table.Results() {
		k := diffKey{r.Case, r.Variant, r.JobID}
		seen[k] = true
		e := DiffEntry{Case: r.Case, Variant: r.Variant, Job: r.JobID, New: r}
		p, ok := prev[k]
		switch {
		case !ok:
			e.Change = ChangeAdded
		case !p.Status.Measured() || !r.Status.Measured():
			e.Old = p
			e.Change = ChangeFailed
		default:
			e.Old = p
			e.MeanDiff = pctChange(p.Mean, r.Mean)
			e.BytesDiff = pctChange(p.BytesPerOp, r.BytesPerOp)
			e.AllocsDiff = pctChange(p.AllocsPerOp, r.AllocsPerOp)
			switch {
			case e.MeanDiff > threshold:
				e.Change = ChangeSlower
			case e.MeanDiff < -threshold:
				e.Change = ChangeFaster
			default:
				e.Change = ChangeUnchanged
			}
		}
		d.Entries = append(d.Entries, e)
	}

	for _, k := range prevOrder {
		if !seen[k] {
			d.Entries = append(d.Entries, DiffEntry{
				Case: k.caseName, Variant: k.variant, Job: k.job,
				Old: prev[k], Change: ChangeRemoved,
			})
		}
	}
	return d
}

func pctChange(old, new float64) float64 {
	if old <= 0 {
		return 0
	}
	return (new - old) / old * 100
}
