// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"slices"

	"github.com/AleutianAI/jitbench/services/harness"
)

// JobInfo describes one comparison column.
type JobInfo struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`

	// Runtime is the version string reported by the job's worker, if any.
	Runtime string `json:"runtime,omitempty"`
}

// Cell is one job's entry in a comparison row.
//
// Ratio and Rank are only meaningful when the row has at least two measured
// jobs; otherwise HasRatio is false and Rank is 0.
type Cell struct {
	JobID    string                `json:"job_id"`
	Result   *harness.SeriesResult `json:"result,omitempty"`
	Ratio    float64               `json:"ratio,omitempty"`
	HasRatio bool                  `json:"has_ratio"`
	Rank     int                   `json:"rank,omitempty"`
}

// Status returns the cell's result status, StatusSkipped when absent.
func (c Cell) Status() harness.Status {
	if c.Result == nil {
		return harness.StatusSkipped
	}
	return c.Result.Status
}

// Measured reports whether the cell carries usable statistics.
func (c Cell) Measured() bool {
	return c.Result != nil && c.Result.Status.Measured()
}

// Row joins one (case, variant) group across jobs.
type Row struct {
	Key harness.SeriesKey `json:"key"`

	// Baseline is the job the ratios are relative to, empty when the row
	// has fewer than two measured jobs.
	Baseline string `json:"baseline,omitempty"`

	// Cells has one entry per column, in column order.
	Cells []Cell `json:"cells"`
}

// Cell returns the cell for a job.
func (r Row) Cell(jobID string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.JobID == jobID {
			return c, true
		}
	}
	return Cell{}, false
}

// Measured returns the number of cells with usable statistics.
func (r Row) Measured() int {
	n := 0
	for _, c := range r.Cells {
		if c.Measured() {
			n++
		}
	}
	return n
}

// ComparisonTable is the read-only cross-job view of a run.
//
// Columns follow job order and rows follow registration then declaration
// order, so rendering is deterministic for identical inputs.
type ComparisonTable struct {
	Columns []JobInfo `json:"columns"`
	Rows    []Row     `json:"rows"`
}

// Compare builds the comparison table.
//
// Description:
//
//	Rows are produced for every key in plan, in plan order. Each row has one
//	cell per job in jobs order. The baseline of a row is the first job in
//	jobs order with a measured result in that row; each measured job's
//	ratio is its mean divided by the baseline mean. Measured jobs are ranked
//	by mean ascending using competition ranking (equal means share a rank,
//	the next rank skips). Rows with fewer than two measured jobs carry no
//	ratio or rank. Results whose key is not in plan are ignored.
//
// Inputs:
//   - plan: The series keys in report order.
//   - jobs: Column descriptors in job order.
//   - results: Every series result of the run.
//
// Outputs:
//   - *ComparisonTable: The table. Never nil.
//
// Thread Safety: Safe for concurrent use; inputs are not modified.
func Compare(plan []harness.SeriesKey, jobs []JobInfo, results []*harness.SeriesResult) *ComparisonTable {
	type triple struct {
		key harness.SeriesKey
		job string
	}
	byTriple := make(map[triple]*harness.SeriesResult, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		byTriple[triple{r.SeriesKey, r.JobID}] = r
	}

	table := &ComparisonTable{
		Columns: slices.Clone(jobs),
		Rows:    make([]Row, 0, len(plan)),
	}

	for _, key := range plan {
		row := Row{Key: key, Cells: make([]Cell, len(jobs))}
		for i, j := range jobs {
			row.Cells[i] = Cell{JobID: j.ID, Result: byTriple[triple{key, j.ID}]}
		}
		rankRow(&row)
		table.Rows = append(table.Rows, row)
	}

	return table
}

func rankRow(row *Row) {
	var measured []int
	for i, c := range row.Cells {
		if c.Measured() {
			measured = append(measured, i)
		}
	}
	if len(measured) < 2 {
		return
	}

	base := row.Cells[measured[0]].Result
	row.Baseline = base.JobID

	for _, i := range measured {
		c := &row.Cells[i]
		if base.Mean > 0 {
			c.Ratio = c.Result.Mean / base.Mean
			c.HasRatio = true
		}

		rank := 1
		for _, j := range measured {
			if row.Cells[j].Result.Mean < c.Result.Mean {
				rank++
			}
		}
		c.Rank = rank
	}
}

// Find returns the row for a (case, variant) pair.
func (t *ComparisonTable) Find(caseName, variant string) (Row, bool) {
	for _, r := range t.Rows {
		if r.Key.Case == caseName && r.Key.Variant == variant {
			return r, true
		}
	}
	return Row{}, false
}

// Results returns every non-nil cell result in row then column order.
func (t *ComparisonTable) Results() []*harness.SeriesResult {
	var out []*harness.SeriesResult
	for _, r := range t.Rows {
		for _, c := range r.Cells {
			if c.Result != nil {
				out = append(out, c.Result)
			}
		}
	}
	return out
}

// Counts tallies results by status.
func (t *ComparisonTable) Counts() map[harness.Status]int {
	counts := make(map[harness.Status]int)
	for _, r := range t.Rows {
		for _, c := range r.Cells {
			counts[c.Status()]++
		}
	}
	return counts
}
