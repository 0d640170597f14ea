// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/aggregate"
)

// ErrUnknownColumn is returned by ParseColumns for an unrecognised name.
var ErrUnknownColumn = errors.New("unknown column")

// Column is one statistic column of a tabular report.
type Column string

const (
	ColumnMean      Column = "mean"
	ColumnError     Column = "error"
	ColumnStdDev    Column = "stddev"
	ColumnMedian    Column = "median"
	ColumnMin       Column = "min"
	ColumnMax       Column = "max"
	ColumnRatio     Column = "ratio"
	ColumnRank      Column = "rank"
	ColumnAllocated Column = "allocated"
	ColumnAllocs    Column = "allocs"
	ColumnN         Column = "n"
	ColumnOutliers  Column = "outliers"
)

// DefaultColumns are shown unless a report asks for others.
var DefaultColumns = []Column{ColumnMean, ColumnError, ColumnRatio, ColumnRank, ColumnAllocated}

// VerboseColumns add dispersion and sample detail to DefaultColumns.
var VerboseColumns = []Column{
	ColumnMean, ColumnError, ColumnStdDev, ColumnMedian, ColumnMin, ColumnMax,
	ColumnRatio, ColumnRank, ColumnAllocated, ColumnAllocs, ColumnN, ColumnOutliers,
}

var allColumns = map[Column]string{
	ColumnMean:      "Mean",
	ColumnError:     "Error",
	ColumnStdDev:    "StdDev",
	ColumnMedian:    "Median",
	ColumnMin:       "Min",
	ColumnMax:       "Max",
	ColumnRatio:     "Ratio",
	ColumnRank:      "Rank",
	ColumnAllocated: "Allocated",
	ColumnAllocs:    "Allocs/op",
	ColumnN:         "N",
	ColumnOutliers:  "Outliers",
}

// Title returns the column header.
func (c Column) Title() string {
	if t, ok := allColumns[c]; ok {
		return t
	}
	return string(c)
}

// ParseColumns parses a comma separated column list such as
// "mean,ratio,rank". Names are case-insensitive; blanks are skipped.
func ParseColumns(s string) ([]Column, error) {
	var cols []Column
	var errs []error
	for _, part := range strings.Split(s, ",") {
		name := Column(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		if _, ok := allColumns[name]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownColumn, part))
			continue
		}
		cols = append(cols, name)
	}
	return cols, errors.Join(errs...)
}

// Options control what a report shows.
type Options struct {
	// Columns overrides the statistic columns. Nil uses DefaultColumns,
	// or VerboseColumns when Verbose is set.
	Columns []Column

	// Verbose selects VerboseColumns and lists every warning.
	Verbose bool
}

func (o Options) columns() []Column {
	switch {
	case len(o.Columns) > 0:
		return o.Columns
	case o.Verbose:
		return VerboseColumns
	default:
		return DefaultColumns
	}
}

// cellValue renders one statistic of a cell. Unmeasured cells show the
// status in the first column and "-" elsewhere.
func cellValue(col Column, c aggregate.Cell) string {
	r := c.Result
	if !c.Measured() {
		if col == ColumnMean {
			return string(c.Status())
		}
		return "-"
	}
	switch col {
	case ColumnMean:
		return FormatNs(r.Mean)
	case ColumnError:
		return FormatNs(r.StdErr)
	case ColumnStdDev:
		return FormatNs(r.StdDev)
	case ColumnMedian:
		return FormatNs(r.Median)
	case ColumnMin:
		return FormatNs(r.Min)
	case ColumnMax:
		return FormatNs(r.Max)
	case ColumnRatio:
		if !c.HasRatio {
			return "-"
		}
		return strconv.FormatFloat(c.Ratio, 'f', 2, 64)
	case ColumnRank:
		if c.Rank == 0 {
			return "-"
		}
		return strconv.Itoa(c.Rank)
	case ColumnAllocated:
		return FormatBytes(r.BytesPerOp)
	case ColumnAllocs:
		return strconv.FormatFloat(r.AllocsPerOp, 'f', -1, 64)
	case ColumnN:
		return strconv.Itoa(r.Count)
	case ColumnOutliers:
		return strconv.Itoa(r.Outliers)
	}
	return ""
}

// FormatNs renders a nanosecond quantity with four significant digits in
// the largest unit that keeps it at or above one.
//
// Example:
//
//	FormatNs(0.4512)  // "0.4512 ns"
//	FormatNs(1534.2)  // "1.534 μs"
func FormatNs(ns float64) string {
	if math.IsNaN(ns) || math.IsInf(ns, 0) {
		return "NaN"
	}
	units := []struct {
		name  string
		scale float64
	}{{"s", 1e9}, {"ms", 1e6}, {"μs", 1e3}, {"ns", 1}}
	for _, u := range units {
		if math.Abs(ns) >= u.scale {
			return sig4(ns/u.scale) + " " + u.name
		}
	}
	return sig4(ns) + " ns"
}

// FormatBytes renders bytes per call; zero is shown as "-".
func FormatBytes(b float64) string {
	if b < 0.5 {
		return "-"
	}
	switch {
	case b >= 1<<30:
		return sig4(b/(1<<30)) + " GB"
	case b >= 1<<20:
		return sig4(b/(1<<20)) + " MB"
	case b >= 1<<10:
		return sig4(b/(1<<10)) + " KB"
	}
	return strconv.FormatFloat(math.Round(b), 'f', 0, 64) + " B"
}

func sig4(v float64) string {
	if v == 0 {
		return "0"
	}
	digits := 3 - int(math.Floor(math.Log10(math.Abs(v))))
	if digits < 0 {
		digits = 0
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

// seriesLabel is the variant text shown next to the case name.
func seriesLabel(k harness.SeriesKey) string {
	if k.Variant == "" {
		return "-"
	}
	return k.Variant
}

// notes collects the warnings and failures worth printing under a table.
func notes(t *aggregate.ComparisonTable, verbose bool) []string {
	var out []string
	for _, col := range t.Columns {
		if !col.Available {
			out = append(out, fmt.Sprintf("job %s unavailable: %s", col.ID, col.Reason))
		}
	}
	for _, row := range t.Rows {
		for _, c := range row.Cells {
			r := c.Result
			if r == nil {
				continue
			}
			name := r.Case
			if r.Variant != "" {
				name += "(" + r.Variant + ")"
			}
			switch r.Status {
			case harness.StatusOK:
				if verbose {
					for _, w := range r.Warnings {
						out = append(out, fmt.Sprintf("%s on %s: %s", name, r.JobID, w))
					}
				}
			case harness.StatusUnstable:
				msg := "did not stabilise"
				if len(r.Warnings) > 0 {
					msg = r.Warnings[0]
				}
				out = append(out, fmt.Sprintf("%s on %s is unstable: %s", name, r.JobID, msg))
			case harness.StatusWorkFailed:
				out = append(out, fmt.Sprintf("%s on %s failed at call %d: %s", name, r.JobID, r.FailedIteration, r.Error))
			case harness.StatusSetupFailed, harness.StatusFault:
				out = append(out, fmt.Sprintf("%s on %s: %s: %s", name, r.JobID, r.Status, r.Error))
			case harness.StatusSkipped:
				if verbose && r.Error != "" {
					out = append(out, fmt.Sprintf("%s on %s skipped: %s", name, r.JobID, r.Error))
				}
			}
		}
	}
	return out
}
