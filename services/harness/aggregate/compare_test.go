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
	"testing"

	"github.com/AleutianAI/jitbench/services/harness"
)

var loopKey = harness.SeriesKey{Case: "Loop", CaseIndex: 0}

func measured(key harness.SeriesKey, job string, mean float64) *harness.SeriesResult {
	return &harness.SeriesResult{SeriesKey: key, JobID: job, Status: harness.StatusOK, Count: 20, Mean: mean}
}

func jobsOf(ids ...string) []JobInfo {
	out := make([]JobInfo, len(ids))
	for i, id := range ids {
		out[i] = JobInfo{ID: id, Available: true}
	}
	return out
}

func TestCompare_RanksAndRatios(t *testing.T) {
	results := []*harness.SeriesResult{
		measured(loopKey, "c", 30),
		measured(loopKey, "a", 10),
		measured(loopKey, "b", 20),
	}

	table := Compare([]harness.SeriesKey{loopKey}, jobsOf("a", "b", "c"), results)
	if len(table.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
	}
	row := table.Rows[0]
	if row.Baseline != "a" {
		t.Errorf("Baseline = %q, want a", row.Baseline)
	}

	wantRank := map[string]int{"a": 1, "b": 2, "c": 3}
	wantRatio := map[string]float64{"a": 1.0, "b": 2.0, "c": 3.0}
	for i, c := range row.Cells {
		if c.JobID != table.Columns[i].ID {
			t.Errorf("cell %d job = %s, column = %s", i, c.JobID, table.Columns[i].ID)
		}
		if c.Rank != wantRank[c.JobID] {
			t.Errorf("%s rank = %d, want %d", c.JobID, c.Rank, wantRank[c.JobID])
		}
		if !c.HasRatio || !approx(c.Ratio, wantRatio[c.JobID]) {
			t.Errorf("%s ratio = %v (has=%v), want %v", c.JobID, c.Ratio, c.HasRatio, wantRatio[c.JobID])
		}
	}
}

func TestCompare_RankIsByMeanNotOrder(t *testing.T) {
	results := []*harness.SeriesResult{
		measured(loopKey, "a", 30),
		measured(loopKey, "b", 10),
	}
	row := Compare([]harness.SeriesKey{loopKey}, jobsOf("a", "b"), results).Rows[0]

	a, _ := row.Cell("a")
	b, _ := row.Cell("b")
	if a.Rank != 2 || b.Rank != 1 {
		t.Errorf("ranks = a:%d b:%d, want a:2 b:1", a.Rank, b.Rank)
	}
	if !approx(b.Ratio, 1.0/3.0) {
		t.Errorf("b ratio = %v, want 1/3", b.Ratio)
	}
}

func TestCompare_Ties(t *testing.T) {
	results := []*harness.SeriesResult{
		measured(loopKey, "a", 10),
		measured(loopKey, "b", 10),
		measured(loopKey, "c", 12),
	}
	row := Compare([]harness.SeriesKey{loopKey}, jobsOf("a", "b", "c"), results).Rows[0]

	got := []int{row.Cells[0].Rank, row.Cells[1].Rank, row.Cells[2].Rank}
	want := []int{1, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ranks = %v, want %v", got, want)
			break
		}
	}
}

func TestCompare_FewerThanTwoMeasured(t *testing.T) {
	failed := &harness.SeriesResult{SeriesKey: loopKey, JobID: "b", Status: harness.StatusWorkFailed}
	results := []*harness.SeriesResult{measured(loopKey, "a", 10), failed}

	row := Compare([]harness.SeriesKey{loopKey}, jobsOf("a", "b"), results).Rows[0]
	if row.Baseline != "" {
		t.Errorf("Baseline = %q, want empty", row.Baseline)
	}
	for _, c := range row.Cells {
		if c.HasRatio || c.Rank != 0 {
			t.Errorf("%s: ratio/rank should be omitted, got ratio=%v rank=%d", c.JobID, c.Ratio, c.Rank)
		}
	}
	if !row.Cells[0].Measured() {
		t.Error("row should still report the measured job")
	}
	if row.Cells[1].Status() != harness.StatusWorkFailed {
		t.Errorf("status = %s, want work_failed", row.Cells[1].Status())
	}
}

func TestCompare_BaselineFallsBackToFirstMeasured(t *testing.T) {
	results := []*harness.SeriesResult{
		{SeriesKey: loopKey, JobID: "a", Status: harness.StatusSetupFailed},
		measured(loopKey, "b", 20),
		measured(loopKey, "c", 40),
	}
	row := Compare([]harness.SeriesKey{loopKey}, jobsOf("a", "b", "c"), results).Rows[0]

	if row.Baseline != "b" {
		t.Errorf("Baseline = %q, want b", row.Baseline)
	}
	c, _ := row.Cell("c")
	if !approx(c.Ratio, 2) || c.Rank != 2 {
		t.Errorf("c = ratio %v rank %d, want 2 and 2", c.Ratio, c.Rank)
	}
	a, _ := row.Cell("a")
	if a.Rank != 0 || a.HasRatio {
		t.Errorf("failed job should not be ranked: %+v", a)
	}
}

func TestCompare_StableOrdering(t *testing.T) {
	k1 := harness.SeriesKey{Case: "Equals", Variant: `"abcd"`, CaseIndex: 0, VariantIndex: 0}
	k2 := harness.SeriesKey{Case: "Equals", Variant: `"abcg"`, CaseIndex: 0, VariantIndex: 1}
	k3 := harness.SeriesKey{Case: "Loop", CaseIndex: 1}
	plan := []harness.SeriesKey{k1, k2, k3}

	results := []*harness.SeriesResult{
		measured(k3, "b", 1), measured(k2, "b", 1), measured(k1, "a", 1),
		measured(k3, "a", 1), measured(k1, "b", 1), measured(k2, "a", 1),
	}
	table := Compare(plan, jobsOf("b", "a"), results)

	for i, r := range table.Rows {
		if r.Key != plan[i] {
			t.Errorf("row %d = %+v, want %+v", i, r.Key, plan[i])
		}
		if r.Cells[0].JobID != "b" || r.Cells[1].JobID != "a" {
			t.Errorf("row %d columns = %s,%s, want b,a", i, r.Cells[0].JobID, r.Cells[1].JobID)
		}
	}
	if len(table.Results()) != 6 {
		t.Errorf("Results() = %d, want 6", len(table.Results()))
	}
	if _, ok := table.Find("Equals", `"abcg"`); !ok {
		t.Error("Find(Equals, abcg) failed")
	}
}

func TestCompare_MissingCellCountsAsSkipped(t *testing.T) {
	table := Compare([]harness.SeriesKey{loopKey}, jobsOf("a", "b"), []*harness.SeriesResult{measured(loopKey, "a", 5)})
	counts := table.Counts()
	if counts[harness.StatusOK] != 1 || counts[harness.StatusSkipped] != 1 {
		t.Errorf("Counts = %v", counts)
	}
}
