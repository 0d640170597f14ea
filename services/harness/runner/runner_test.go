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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/engine"
	"github.com/AleutianAI/jitbench/services/harness/isolation"
)

// fakeIsolator reports a scripted result for every key, per job.
type fakeIsolator struct {
	// means[job][case] is the mean reported; missing entries report 1.
	means map[string]map[string]float64

	// statuses overrides the status of a (job, case) pair.
	statuses map[string]map[string]harness.Status

	// behave overrides the whole run for a job.
	behave map[string]func(ctx context.Context, req isolation.Request, emit func(isolation.Record)) (*isolation.Hello, error)

	delay time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	mu        sync.Mutex
	requests  []isolation.Request
}

func (f *fakeIsolator) Run(ctx context.Context, job harness.JobConfig, req isolation.Request, emit func(isolation.Record)) (*isolation.Hello, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if b, ok := f.behave[job.ID]; ok {
		return b(ctx, req, emit)
	}

	hello := &isolation.Hello{JobID: job.ID, GoVersion: "go1.25.3", GOOS: "linux", GOARCH: "amd64"}
	for _, key := range req.Keys {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return hello, fmt.Errorf("%w: %w", harness.ErrSkipped, ctx.Err())
			}
		}
		status := harness.StatusOK
		if s, ok := f.statuses[job.ID][key.Case]; ok {
			status = s
		}
		mean := 1.0
		if m, ok := f.means[job.ID][key.Case]; ok {
			mean = m
		}
		sr := &harness.SeriesResult{SeriesKey: key, JobID: job.ID, Status: status}
		if status.Measured() {
			sr.Mean, sr.Count = mean, 5
		}
		emit(isolation.Record{Type: isolation.RecordSeries, Series: sr})
	}
	return hello, nil
}

type countingObserver struct {
	series int
	runs   int
	last   *Result
}

func (o *countingObserver) ObserveSeries(context.Context, *harness.SeriesResult) { o.series++ }
func (o *countingObserver) ObserveRun(_ context.Context, r *Result) { o.runs++; o.last = r }

func newTestRegistry() *harness.Registry {
	reg := harness.NewRegistry()
	for _, name := range []string{"A", "B", "C"} {
		reg.MustRegister(harness.NewCase(name).Func(func() any { return nil }).MustBuild())
	}
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threeJobs() *harness.JobSet {
	return harness.NewJobSet(
		harness.JobConfig{ID: "j1"},
		harness.JobConfig{ID: "j2"},
		harness.JobConfig{ID: "j3"},
	)
}

func TestRunner_RanksJobs(t *testing.T) {
	iso := &fakeIsolator{means: map[string]map[string]float64{
		"j1": {"A": 10, "B": 30},
		"j2": {"A": 20, "B": 20},
		"j3": {"A": 30, "B": 10},
	}}
	obs := &countingObserver{}
	r, err := New(newTestRegistry(), iso, WithLogger(quietLogger()), WithObserver(obs), WithParallelism(3))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := r.Run(context.Background(), threeJobs())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ID == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Errorf("result identity = %q %v..%v", res.ID, res.StartedAt, res.FinishedAt)
	}
	if len(res.Table.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(res.Table.Rows))
	}

	row, ok := res.Table.Find("A", "")
	if !ok {
		t.Fatal("row A missing")
	}
	for i, want := range []struct {
		ratio float64
		rank  int
	}{{1, 1}, {2, 2}, {3, 3}} {
		c := row.Cells[i]
		if !c.HasRatio || c.Ratio != want.ratio || c.Rank != want.rank {
			t.Errorf("A cell %s = ratio %v rank %d, want %v %d", c.JobID, c.Ratio, c.Rank, want.ratio, want.rank)
		}
	}
	rowB, _ := res.Table.Find("B", "")
	if rowB.Cells[2].Rank != 1 || rowB.Cells[0].Rank != 3 {
		t.Errorf("B ranks = %d, %d", rowB.Cells[2].Rank, rowB.Cells[0].Rank)
	}

	for i, col := range res.Table.Columns {
		if want := fmt.Sprintf("j%d", i+1); col.ID != want || !col.Available || col.Runtime != "go1.25.3 linux/amd64" {
			t.Errorf("column %d = %+v", i, col)
		}
	}
	if obs.series != 9 || obs.runs != 1 || obs.last != res {
		t.Errorf("observer saw %d series, %d runs", obs.series, obs.runs)
	}
	if res.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", res.ExitCode())
	}
}

func TestRunner_Parallelism(t *testing.T) {
	tests := []struct {
		name string
		n    int
	}{
		{"sequential by default", 0},
		{"two at a time", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iso := &fakeIsolator{delay: 5 * time.Millisecond}
			opts := []Option{WithLogger(quietLogger())}
			if tt.n > 0 {
				opts = append(opts, WithParallelism(tt.n))
			}
			r, err := New(newTestRegistry(), iso, opts...)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if _, err := r.Run(context.Background(), threeJobs()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			limit := int32(max(tt.n, 1))
			if got := iso.maxActive.Load(); got > limit {
				t.Errorf("max concurrent jobs = %d, limit %d", got, limit)
			}
		})
	}
}

func TestRunner_UnavailableJobIsExcluded(t *testing.T) {
	iso := &fakeIsolator{
		means: map[string]map[string]float64{"j1": {"A": 10}, "j3": {"A": 40}},
		behave: map[string]func(context.Context, isolation.Request, func(isolation.Record)) (*isolation.Hello, error){
			"j2": func(context.Context, isolation.Request, func(isolation.Record)) (*isolation.Hello, error) {
				return nil, &harness.UnavailableError{JobID: "j2", Reason: `runtime "go1.99" not found`}
			},
		},
	}
	r, _ := New(newTestRegistry(), iso, WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), threeJobs())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	col := res.Table.Columns[1]
	if col.Available || col.Reason != `runtime "go1.99" not found` {
		t.Errorf("column j2 = %+v", col)
	}
	row, _ := res.Table.Find("A", "")
	c := row.Cells[1]
	if c.Status() != harness.StatusJobUnavailable || c.Result.Error != col.Reason {
		t.Errorf("j2 cell = %+v", c.Result)
	}
	if row.Cells[2].Ratio != 4 || row.Cells[2].Rank != 2 {
		t.Errorf("j3 cell = ratio %v rank %d, want 4 and 2", row.Cells[2].Ratio, row.Cells[2].Rank)
	}
	if res.ExitCode() != 0 {
		t.Errorf("an unavailable job must not fail the run, ExitCode() = %d", res.ExitCode())
	}
}

func TestRunner_TimeoutSkipsRemaining(t *testing.T) {
	iso := &fakeIsolator{delay: 40 * time.Millisecond}
	r, _ := New(newTestRegistry(), iso, WithLogger(quietLogger()), WithTimeout(60*time.Millisecond))

	res, err := r.Run(context.Background(), threeJobs())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts := res.Table.Counts()
	if counts[harness.StatusOK] == 0 {
		t.Error("the first series finished before the timeout and should keep its result")
	}
	if counts[harness.StatusSkipped] == 0 {
		t.Error("expected skipped series after the timeout")
	}
	if counts[harness.StatusOK]+counts[harness.StatusSkipped] != 9 {
		t.Errorf("counts = %v, want only ok and skipped", counts)
	}
	if res.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", res.ExitCode())
	}
}

func TestRunner_CrashedWorkerIsFault(t *testing.T) {
	iso := &fakeIsolator{
		behave: map[string]func(context.Context, isolation.Request, func(isolation.Record)) (*isolation.Hello, error){
			"j1": func(_ context.Context, req isolation.Request, emit func(isolation.Record)) (*isolation.Hello, error) {
				emit(isolation.Record{Type: isolation.RecordSeries, Series: &harness.SeriesResult{
					SeriesKey: req.Keys[0], JobID: "j1", Status: harness.StatusOK, Mean: 1, Count: 1,
				}})
				return &isolation.Hello{JobID: "j1"}, fmt.Errorf("%w: exit status 2", isolation.ErrWorkerFailed)
			},
		},
	}
	r, _ := New(newTestRegistry(), iso, WithLogger(quietLogger()))

	res, err := r.Run(context.Background(), harness.NewJobSet(harness.JobConfig{ID: "j1"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	counts := res.Table.Counts()
	if counts[harness.StatusOK] != 1 || counts[harness.StatusFault] != 2 {
		t.Errorf("counts = %v, want 1 ok and 2 fault", counts)
	}
	if res.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", res.ExitCode())
	}
}

func TestRunner_ExitCode(t *testing.T) {
	tests := []struct {
		status harness.Status
		want   int
	}{
		{harness.StatusWorkFailed, 0},
		{harness.StatusUnstable, 0},
		{harness.StatusSetupFailed, 1},
		{harness.StatusFault, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			iso := &fakeIsolator{statuses: map[string]map[string]harness.Status{"j1": {"B": tt.status}}}
			r, _ := New(newTestRegistry(), iso, WithLogger(quietLogger()))
			res, err := r.Run(context.Background(), harness.NewJobSet(harness.JobConfig{ID: "j1"}))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := res.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunner_DuplicateResultsRejected(t *testing.T) {
	iso := &fakeIsolator{
		behave: map[string]func(context.Context, isolation.Request, func(isolation.Record)) (*isolation.Hello, error){
			"j1": func(_ context.Context, req isolation.Request, emit func(isolation.Record)) (*isolation.Hello, error) {
				for _, mean := range []float64{5, 500} {
					for _, key := range req.Keys {
						emit(isolation.Record{Type: isolation.RecordSeries, Series: &harness.SeriesResult{
							SeriesKey: key, JobID: "j1", Status: harness.StatusOK, Mean: mean, Count: 1,
						}})
					}
				}
				return &isolation.Hello{JobID: "j1"}, nil
			},
		},
	}
	r, _ := New(newTestRegistry(), iso, WithLogger(quietLogger()))
	res, err := r.Run(context.Background(), harness.NewJobSet(harness.JobConfig{ID: "j1"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, sr := range res.Table.Results() {
		if sr.Mean != 5 {
			t.Errorf("%s mean = %v, want the first submission", sr.Case, sr.Mean)
		}
	}
}

func TestRunner_FilterAndRequest(t *testing.T) {
	iso := &fakeIsolator{}
	cfg := engine.DefaultConfig()
	cfg.Batches = 7
	r, _ := New(newTestRegistry(), iso,
		WithLogger(quietLogger()),
		WithFilter(regexp.MustCompile("^[AC]$")),
		WithEngineConfig(cfg),
	)

	res, err := r.Run(context.Background(), harness.NewJobSet(harness.JobConfig{ID: "j1"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Table.Rows) != 2 || res.Table.Rows[1].Key.Case != "C" || res.Table.Rows[1].Key.CaseIndex != 2 {
		t.Errorf("rows = %+v", res.Table.Rows)
	}
	if res.Filter != "^[AC]$" {
		t.Errorf("Filter = %q", res.Filter)
	}
	if len(iso.requests) != 1 || iso.requests[0].Engine.Batches != 7 || len(iso.requests[0].Keys) != 2 {
		t.Errorf("requests = %+v", iso.requests)
	}
}

func TestRunner_Errors(t *testing.T) {
	reg := newTestRegistry()
	iso := &fakeIsolator{}

	if _, err := New(nil, iso); !errors.Is(err, ErrNilRegistry) {
		t.Errorf("New(nil registry) = %v", err)
	}
	if _, err := New(reg, nil); !errors.Is(err, ErrNilIsolator) {
		t.Errorf("New(nil isolator) = %v", err)
	}
	bad := engine.DefaultConfig()
	bad.Batches = 0
	if _, err := New(reg, iso, WithEngineConfig(bad)); !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("New(bad engine config) = %v", err)
	}

	r, _ := New(reg, iso, WithLogger(quietLogger()))
	if _, err := r.Run(context.Background(), harness.NewJobSet()); !errors.Is(err, harness.ErrInvalidJob) {
		t.Errorf("Run(no jobs) = %v, want ErrInvalidJob", err)
	}
	dup := harness.NewJobSet(harness.JobConfig{ID: "x"}, harness.JobConfig{ID: "x"})
	if _, err := r.Run(context.Background(), dup); !errors.Is(err, harness.ErrInvalidJob) {
		t.Errorf("Run(duplicate jobs) = %v, want ErrInvalidJob", err)
	}

	none, _ := New(reg, iso, WithLogger(quietLogger()), WithFilter(regexp.MustCompile("^Nope$")))
	if _, err := none.Run(context.Background(), threeJobs()); !errors.Is(err, ErrEmptyPlan) {
		t.Errorf("Run(empty plan) = %v, want ErrEmptyPlan", err)
	}
	if !reg.Frozen() {
		t.Error("Run should freeze the registry")
	}
}
