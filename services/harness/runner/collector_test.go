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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/AleutianAI/jitbench/services/harness"
)

func testPlan(n int) []harness.SeriesKey {
	plan := make([]harness.SeriesKey, n)
	for i := range plan {
		plan[i] = harness.SeriesKey{Case: fmt.Sprintf("Case%02d", i), CaseIndex: i}
	}
	return plan
}

func TestCollector_ConcurrentSubmitters(t *testing.T) {
	plan := testPlan(40)
	jobs := []string{"a", "b", "c"}

	var accepted int
	col := NewCollector(plan, jobs, func(*harness.SeriesResult) { accepted++ })

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, key := range plan {
				if err := col.Submit(&harness.SeriesResult{SeriesKey: key, JobID: job, Status: harness.StatusOK}); err != nil {
					t.Errorf("Submit(%s, %s) failed: %v", key.Case, job, err)
				}
			}
		}()
	}
	wg.Wait()
	slots := col.Close()

	if accepted != len(plan)*len(jobs) {
		t.Errorf("onAccept called %d times, want %d", accepted, len(plan)*len(jobs))
	}
	for k, key := range plan {
		for j, job := range jobs {
			r := slots[k*len(jobs)+j]
			if r == nil || r.Case != key.Case || r.JobID != job {
				t.Fatalf("slot (%d,%d) = %+v", k, j, r)
			}
		}
	}
}

func TestCollector_Rejections(t *testing.T) {
	plan := testPlan(2)
	col := NewCollector(plan, []string{"a"}, nil)
	defer col.Close()

	first := &harness.SeriesResult{SeriesKey: plan[0], JobID: "a", Mean: 1}
	if err := col.Submit(first); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	tests := []struct {
		name   string
		result *harness.SeriesResult
		want   error
	}{
		{"duplicate", &harness.SeriesResult{SeriesKey: plan[0], JobID: "a", Mean: 2}, ErrDuplicateTriple},
		{"unknown key", &harness.SeriesResult{SeriesKey: harness.SeriesKey{Case: "Other"}, JobID: "a"}, ErrUnknownTriple},
		{"unknown job", &harness.SeriesResult{SeriesKey: plan[1], JobID: "z"}, ErrUnknownTriple},
		{"nil", nil, ErrUnknownTriple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := col.Submit(tt.result); !errors.Is(err, tt.want) {
				t.Errorf("Submit = %v, want %v", err, tt.want)
			}
		})
	}

	slots := col.Close()
	if slots[0].Mean != 1 {
		t.Errorf("duplicate overwrote the first result: mean %v", slots[0].Mean)
	}
	if slots[1] != nil {
		t.Errorf("slot 1 = %+v, want nil", slots[1])
	}
}

func TestCollector_SubmitAfterClose(t *testing.T) {
	plan := testPlan(1)
	col := NewCollector(plan, []string{"a"}, nil)
	col.Close()
	col.Close()

	err := col.Submit(&harness.SeriesResult{SeriesKey: plan[0], JobID: "a"})
	if !errors.Is(err, ErrCollectorClosed) {
		t.Errorf("Submit after Close = %v, want ErrCollectorClosed", err)
	}
}
