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
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/jitbench/services/harness"
)

// MergeEnv overlays layers onto a KEY=VALUE environment.
//
// Description:
//
//	Layers are applied in order, later layers winning. Keys present in base
//	keep their position; new keys are appended in sorted order so the
//	result is deterministic. Base entries without '=' are dropped. The
//	inputs are never modified.
//
// Inputs:
//   - base: Environment in os.Environ() form.
//   - layers: Maps applied over base.
//
// Outputs:
//   - []string: The merged environment.
func MergeEnv(base []string, layers ...map[string]string) []string {
	overlay := make(map[string]string)
	for _, l := range layers {
		maps.Copy(overlay, l)
	}

	out := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]struct{}, len(base))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if ov, has := overlay[k]; has {
			v = ov
		}
		out = append(out, k+"="+v)
	}

	for _, k := range slices.Sorted(maps.Keys(overlay)) {
		if _, ok := seen[k]; !ok {
			out = append(out, k+"="+overlay[k])
		}
	}
	return out
}

// JobEnv builds the complete environment for a job's process.
//
// Description:
//
//	Starts from base, applies the job's env file (if any), then the job's
//	overlay. The caller's process environment is not touched.
//
// Outputs:
//   - []string: The child environment.
//   - error: Non-nil if the env file cannot be read.
func JobEnv(base []string, job harness.JobConfig) ([]string, error) {
	var fileVals map[string]string
	if job.EnvFile != "" {
		vals, err := godotenv.Read(job.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", job.EnvFile, err)
		}
		fileVals = vals
	}
	return MergeEnv(base, fileVals, job.Env), nil
}

// Lookup returns the value of key in a KEY=VALUE environment.
func Lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, prefix); ok {
			return v, true
		}
	}
	return "", false
}
