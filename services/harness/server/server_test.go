// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/jitbench/services/harness"
	"github.com/AleutianAI/jitbench/services/harness/aggregate"
	"github.com/AleutianAI/jitbench/services/harness/history"
	"github.com/AleutianAI/jitbench/services/harness/runner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func storedRun(id string, minute int, mean float64) *runner.Result {
	plan := []harness.SeriesKey{{Case: "Loop"}}
	jobs := []aggregate.JobInfo{{ID: "go-default", Available: true}}
	results := []*harness.SeriesResult{
		{SeriesKey: plan[0], JobID: "go-default", Status: harness.StatusOK, Count: 10, Mean: mean},
	}
	finished := base.Add(time.Duration(minute) * time.Minute)
	return &runner.Result{
		ID:         id,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Table:      aggregate.Compare(plan, jobs, results),
	}
}

func setupTestServer(t *testing.T, runs ...*runner.Result) http.Handler {
	t.Helper()
	store, err := history.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, r := range runs {
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	probe := prometheus.NewCounter(prometheus.CounterOpts{Name: "jitbench_probe_total", Help: "probe"})
	reg.MustRegister(probe)
	probe.Inc()

	cfg := DefaultConfig()
	cfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	srv, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_NilStore(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err != ErrNilStore {
		t.Errorf("New(nil) = %v, want ErrNilStore", err)
	}
}

func TestHandleHealth(t *testing.T) {
	w := get(t, setupTestServer(t), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
}

func TestMetrics(t *testing.T) {
	w := get(t, setupTestServer(t), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "jitbench_probe_total 1") {
		t.Errorf("metrics body missing probe:\n%s", w.Body.String())
	}
}

func TestHandleListRuns(t *testing.T) {
	h := setupTestServer(t, storedRun("r1", 0, 10), storedRun("r2", 1, 11), storedRun("r3", 2, 12))

	tests := []struct {
		name    string
		query   string
		status  int
		wantIDs []string
	}{
		{"default", "", http.StatusOK, []string{"r3", "r2", "r1"}},
		{"limited", "?limit=2", http.StatusOK, []string{"r3", "r2"}},
		{"all", "?limit=0", http.StatusOK, []string{"r3", "r2", "r1"}},
		{"negative", "?limit=-1", http.StatusBadRequest, nil},
		{"garbage", "?limit=abc", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, "/v1/runs"+tt.query)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp RunsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Count != len(tt.wantIDs) {
				t.Fatalf("count = %d, want %d", resp.Count, len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Runs[i].ID != id {
					t.Errorf("runs[%d] = %q, want %q", i, resp.Runs[i].ID, id)
				}
			}
		})
	}
}

func TestHandleListRuns_Empty(t *testing.T) {
	w := get(t, setupTestServer(t), "/v1/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"runs":[]`) {
		t.Errorf("empty history should list an empty array: %s", w.Body.String())
	}
}

func TestHandleGetRun(t *testing.T) {
	h := setupTestServer(t, storedRun("aaa-1", 0, 10), storedRun("aaa-2", 1, 20), storedRun("bbb-1", 2, 30))

	tests := []struct {
		name   string
		path   string
		status int
		wantID string
		code   string
	}{
		{"full id", "/v1/runs/aaa-2", http.StatusOK, "aaa-2", ""},
		{"prefix", "/v1/runs/bbb", http.StatusOK, "bbb-1", ""},
		{"latest", "/v1/runs/latest", http.StatusOK, "bbb-1", ""},
		{"unknown", "/v1/runs/zzz", http.StatusNotFound, "", "NOT_FOUND"},
		{"ambiguous", "/v1/runs/aaa", http.StatusConflict, "", "AMBIGUOUS_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.path)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.code != "" {
				var resp ErrorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal error: %v", err)
				}
				if resp.Code != tt.code {
					t.Errorf("code = %q, want %q", resp.Code, tt.code)
				}
				return
			}
			var res runner.Result
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("failed to unmarshal run: %v", err)
			}
			if res.ID != tt.wantID {
				t.Errorf("id = %q, want %q", res.ID, tt.wantID)
			}
		})
	}
}

func TestHandleLatest_Empty(t *testing.T) {
	w := get(t, setupTestServer(t), "/v1/runs/latest")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleReport(t *testing.T) {
	h := setupTestServer(t, storedRun("r1", 0, 12.5))

	tests := []struct {
		format      string
		status      int
		contentType string
		contains    string
	}{
		{"", http.StatusOK, "text/markdown", "| Loop | - | go-default |"},
		{"markdown", http.StatusOK, "text/markdown", "12.50 ns"},
		{"json", http.StatusOK, "application/json", `"id": "r1"`},
		{"console", http.StatusOK, "text/plain", "12.50 ns"},
		{"xml", http.StatusBadRequest, "application/json", "INVALID_FORMAT"},
	}
	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			path := "/v1/runs/r1/report"
			if tt.format != "" {
				path += "?format=" + tt.format
			}
			w := get(t, h, path)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("content type = %q, want prefix %q", ct, tt.contentType)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("body missing %q:\n%s", tt.contains, w.Body.String())
			}
		})
	}

	if w := get(t, h, "/v1/runs/nope/report"); w.Code != http.StatusNotFound {
		t.Errorf("unknown run report: expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleDiff(t *testing.T) {
	h := setupTestServer(t, storedRun("r1", 0, 100), storedRun("r2", 1, 150), storedRun("r3", 2, 90))

	tests := []struct {
		name   string
		query  string
		status int
		oldID  string
		newID  string
		change history.Change
	}{
		{"latest pair", "", http.StatusOK, "r2", "r3", history.ChangeFaster},
		{"explicit", "?old=r1&new=r2", http.StatusOK, "r1", "r2", history.ChangeSlower},
		{"wide threshold", "?old=r1&new=r2&threshold=60", http.StatusOK, "r1", "r2", history.ChangeUnchanged},
		{"half given", "?old=r1", http.StatusBadRequest, "", "", ""},
		{"bad threshold", "?threshold=-3", http.StatusBadRequest, "", "", ""},
		{"unknown run", "?old=r1&new=zzz", http.StatusNotFound, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, "/v1/diff"+tt.query)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var d history.RunDiff
			if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
				t.Fatalf("failed to unmarshal diff: %v", err)
			}
			if d.OldID != tt.oldID || d.NewID != tt.newID {
				t.Errorf("diff %s..%s, want %s..%s", d.OldID, d.NewID, tt.oldID, tt.newID)
			}
			if len(d.Entries) != 1 || d.Entries[0].Change != tt.change {
				t.Errorf("entries = %+v, want one %s entry", d.Entries, tt.change)
			}
		})
	}
}

func TestHandleDiff_SingleRun(t *testing.T) {
	w := get(t, setupTestServer(t, storedRun("only", 0, 1)), "/v1/diff")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestServer_RunShutsDown(t *testing.T) {
	store, err := history.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	defer store.Close()

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
