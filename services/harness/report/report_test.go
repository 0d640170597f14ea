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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/aggregate"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

func sampleRun() *runner.Result {
	plan := []harness.SeriesKey{
		{Case: "Equals", Variant: `"abcd"`, CaseIndex: 0, VariantIndex: 0},
		{Case: "Equals", Variant: `"abcg"`, CaseIndex: 0, VariantIndex: 1},
		{Case: "VectorHash", CaseIndex: 1},
	}
	jobs := []aggregate.JobInfo{
		{ID: "go-default", Available: true, Runtime: "go1.25.3 linux/amd64"},
		{ID: "gc-off", Available: true, Runtime: "go1.25.3 linux/amd64"},
		{ID: "next", Reason: `runtime "jitbench-next" not found`},
	}
	ok := func(key harness.SeriesKey, job string, mean, bytes float64) *harness.SeriesResult {
		return &harness.SeriesResult{
			SeriesKey: key, JobID: job, Status: harness.StatusOK,
			Count: 20, Mean: mean, StdErr: mean / 50, StdDev: mean / 10, Median: mean,
			Min: mean * 0.9, Max: mean * 1.2, BytesPerOp: bytes,
		}
	}
	unstable := ok(plan[2], "gc-off", 2.2e6, 0)
	unstable.Status = harness.StatusUnstable
	unstable.Warnings = []string{"warm-up did not converge: cv 0.31 after 5000 calls"}

	failed := harness.Failed(plan[1], "gc-off", harness.StatusWorkFailed, errors.New("index out of range"))
	failed.FailedIteration = 3

	results := []*harness.SeriesResult{
		ok(plan[0], "go-default", 1.25, 0), ok(plan[0], "gc-off", 2.5, 0),
		ok(plan[1], "go-default", 1.3, 32), failed,
		ok(plan[2], "go-default", 1.1e6, 0), unstable,
	}
	for _, key := range plan {
		results = append(results, harness.Failed(key, "next", harness.StatusJobUnavailable, errors.New(jobs[2].Reason)))
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &runner.Result{
		ID:         "3f1c2a9e-0000-4000-8000-000000000001",
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
		Table:      aggregate.Compare(plan, jobs, results),
	}
}

func TestFormatNs(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 ns"},
		{0.4512, "0.4512 ns"},
		{12.5, "12.50 ns"},
		{1534.2, "1.534 μs"},
		{2.2e6, "2.200 ms"},
		{3.5e9, "3.500 s"},
	}
	for _, tt := range tests {
		if got := FormatNs(tt.in); got != tt.want {
			t.Errorf("FormatNs(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "-"},
		{0.2, "-"},
		{24, "24 B"},
		{1536, "1.500 KB"},
		{1 << 20, "1.000 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseColumns(t *testing.T) {
	cols, err := ParseColumns(" Mean, ratio,,rank ")
	if err != nil {
		t.Fatalf("ParseColumns failed: %v", err)
	}
	want := []Column{ColumnMean, ColumnRatio, ColumnRank}
	if len(cols) != len(want) {
		t.Fatalf("cols = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("cols[%d] = %q, want %q", i, cols[i], want[i])
		}
	}

	if _, err := ParseColumns("mean,p99"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("ParseColumns(p99) = %v, want ErrUnknownColumn", err)
	}
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewConsoleReporter(&buf, Options{}).Report(sampleRun()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"go-default", "go1.25.3 linux/amd64",
		`unavailable: runtime "jitbench-next" not found`,
		"Mean", "Error", "Ratio", "Rank", "Allocated",
		"1.250 ns", "2.00", "32 B",
		"job_unavailable", "work_failed",
		"failed at call 3", "is unstable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "StdDev") {
		t.Error("StdDev column should be hidden by default")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("non-terminal output should carry no escape codes")
	}
}

func TestConsoleReporter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	if err := NewConsoleReporter(&buf, Options{Verbose: true}).Report(sampleRun()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	for _, want := range []string{"StdDev", "Median", "Min", "Max", "Outliers"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("verbose output missing %q", want)
		}
	}
}

func TestReporters_Deterministic(t *testing.T) {
	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			render := func() string {
				var buf bytes.Buffer
				rep, err := New(format, &buf, Options{})
				if err != nil {
					t.Fatalf("New failed: %v", err)
				}
				if err := rep.Report(sampleRun()); err != nil {
					t.Fatalf("Report failed: %v", err)
				}
				return buf.String()
			}
			if a, b := render(), render(); a != b {
				t.Errorf("two renders differ:\n%s\n---\n%s", a, b)
			}
		})
	}
}

func TestMarkdownReporter_RowOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := NewMarkdownReporter(&buf, Options{Columns: []Column{ColumnMean, ColumnRank}}).Report(sampleRun()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	var rows []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "| ") && !strings.HasPrefix(line, "| Case") {
			rows = append(rows, line)
		}
	}
	if len(rows) != 9 {
		t.Fatalf("got %d table rows, want 9:\n%s", len(rows), buf.String())
	}
	want := []string{
		`| Equals | "abcd" | go-default | 1.250 ns | 1 |`,
		`| Equals | "abcd" | gc-off | 2.500 ns | 2 |`,
		`| Equals | "abcd" | next | job_unavailable | - |`,
	}
	for i, w := range want {
		if rows[i] != w {
			t.Errorf("row %d = %q, want %q", i, rows[i], w)
		}
	}
	if !strings.HasPrefix(rows[6], "| VectorHash | - | go-default |") {
		t.Errorf("row 6 = %q", rows[6])
	}
	if !strings.Contains(buf.String(), "|---|---|---|---:|---:|") {
		t.Error("missing alignment row")
	}
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONReporter(&buf, true).Report(sampleRun()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	var decoded struct {
		ID    string `json:"id"`
		Table struct {
			Columns []aggregate.JobInfo `json:"columns"`
			Rows    []aggregate.Row     `json:"rows"`
		} `json:"table"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.ID != "3f1c2a9e-0000-4000-8000-000000000001" {
		t.Errorf("id = %q", decoded.ID)
	}
	if len(decoded.Table.Columns) != 3 || len(decoded.Table.Rows) != 3 {
		t.Fatalf("decoded %d columns, %d rows", len(decoded.Table.Columns), len(decoded.Table.Rows))
	}
	cell := decoded.Table.Rows[0].Cells[1]
	if cell.Ratio != 2 || cell.Rank != 2 || cell.Result == nil || cell.Result.Mean != 2.5 {
		t.Errorf("cell = %+v", cell)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("pretty output should be indented")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("xml", &bytes.Buffer{}, Options{}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("New(xml) = %v, want ErrUnknownFormat", err)
	}
	for _, format := range Formats {
		rep, _ := New(format, &bytes.Buffer{}, Options{})
		if err := rep.Report(nil); !errors.Is(err, ErrNilResult) {
			t.Errorf("%s Report(nil) = %v, want ErrNilResult", format, err)
		}
	}
}
