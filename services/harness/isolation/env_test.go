// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package isolation

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/AleutianAI/jitbench/services/harness"
)

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/bin", "GOGC=100", "HOME=/root", "BROKEN", "GOGC=dup"}
	snapshot := slices.Clone(base)

	got := MergeEnv(base,
		map[string]string{"GOGC": "50", "FROM_FILE": "1"},
		map[string]string{"GOGC": "off", "A_NEW": "x"},
	)
	want := []string{"PATH=/bin", "GOGC=off", "HOME=/root", "A_NEW=x", "FROM_FILE=1"}
	if !slices.Equal(got, want) {
		t.Errorf("MergeEnv = %v, want %v", got, want)
	}
	if !slices.Equal(base, snapshot) {
		t.Error("MergeEnv modified base")
	}
}

func TestMergeEnv_NoLayers(t *testing.T) {
	base := []string{"A=1", "B=2"}
	if got := MergeEnv(base); !slices.Equal(got, base) {
		t.Errorf("MergeEnv = %v, want %v", got, base)
	}
}

func TestJobEnv_EnvFileBeneathOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.env")
	content := "# tuning\nGOGC=200\nGOMEMLIMIT=1GiB\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	env, err := JobEnv([]string{"PATH=/bin"}, harness.JobConfig{
		ID:      "tuned",
		EnvFile: path,
		Env:     map[string]string{"GOGC": "off"},
	})
	if err != nil {
		t.Fatalf("JobEnv failed: %v", err)
	}

	if v, _ := Lookup(env, "GOGC"); v != "off" {
		t.Errorf("GOGC = %q, want off (overlay wins)", v)
	}
	if v, _ := Lookup(env, "GOMEMLIMIT"); v != "1GiB" {
		t.Errorf("GOMEMLIMIT = %q, want 1GiB", v)
	}
	if _, ok := Lookup(env, "MISSING"); ok {
		t.Error("Lookup(MISSING) should report absent")
	}
}

func TestJobEnv_MissingFile(t *testing.T) {
	_, err := JobEnv(nil, harness.JobConfig{ID: "x", EnvFile: filepath.Join(t.TempDir(), "nope.env")})
	if err == nil {
		t.Error("expected error for missing env file")
	}
}
