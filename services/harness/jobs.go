// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RuntimeSelf is the runtime descriptor meaning "the current executable".
const RuntimeSelf = "self"

// JobConfig describes one execution environment to compare.
//
// Jobs are inert descriptors; launching a process under one is the
// isolation package's responsibility.
type JobConfig struct {
	// ID names the job and labels its column in reports.
	ID string `json:"id" yaml:"id"`

	// Runtime is an opaque descriptor of the binary to launch. Empty or
	// RuntimeSelf means the running executable; anything else is a path or
	// a $PATH lookup of an alternative build.
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty"`

	// Env is the environment overlay applied only inside the job's process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// EnvFile is an optional dotenv file merged beneath Env.
	EnvFile string `json:"env_file,omitempty" yaml:"env_file,omitempty"`
}

// IsSelf reports whether the job runs the current executable.
func (j JobConfig) IsSelf() bool {
	return j.Runtime == "" || j.Runtime == RuntimeSelf
}

// EnvKeys returns the overlay keys in sorted order.
func (j JobConfig) EnvKeys() []string {
	return slices.Sorted(maps.Keys(j.Env))
}

func (j JobConfig) clone() JobConfig {
	j.Env = maps.Clone(j.Env)
	return j
}

// validate reports every problem with this job's own fields.
func (j JobConfig) validate() []error {
	var errs []error
	if strings.TrimSpace(j.ID) == "" {
		errs = append(errs, errors.New("job id must not be empty"))
	}
	for _, k := range j.EnvKeys() {
		switch {
		case k == "":
			errs = append(errs, fmt.Errorf("job %s: empty environment key", j.ID))
		case strings.ContainsAny(k, "=\x00"):
			errs = append(errs, fmt.Errorf("job %s: malformed environment key %q", j.ID, k))
		}
		if strings.ContainsRune(j.Env[k], 0) {
			errs = append(errs, fmt.Errorf("job %s: environment value for %q contains NUL", j.ID, k))
		}
	}
	return errs
}

// JobSet is the ordered set of jobs compared in one run.
//
// Order is the column order of the comparison table; the first job is the
// designated baseline.
//
// Thread Safety: Not safe for concurrent mutation. Build it once before the
// run and treat it as read-only afterwards.
type JobSet struct {
	jobs []JobConfig
}

// NewJobSet creates a job set from the given jobs in order.
func NewJobSet(jobs ...JobConfig) *JobSet {
	s := &JobSet{}
	for _, j := range jobs {
		s.jobs = append(s.jobs, j.clone())
	}
	return s
}

// Add appends a job. Duplicates are accepted here and reported by Validate.
func (s *JobSet) Add(j JobConfig) {
	s.jobs = append(s.jobs, j.clone())
}

// Jobs returns a copy of the jobs in order.
func (s *JobSet) Jobs() []JobConfig {
	out := make([]JobConfig, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.clone()
	}
	return out
}

// IDs returns the job identifiers in order.
func (s *JobSet) IDs() []string {
	ids := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		ids[i] = j.ID
	}
	return ids
}

// Get returns the job with the given ID.
func (s *JobSet) Get(id string) (JobConfig, bool) {
	for _, j := range s.jobs {
		if j.ID == id {
			return j.clone(), true
		}
	}
	return JobConfig{}, false
}

// Len returns the number of jobs.
func (s *JobSet) Len() int { return len(s.jobs) }

// Baseline returns the first job.
func (s *JobSet) Baseline() (JobConfig, bool) {
	if len(s.jobs) == 0 {
		return JobConfig{}, false
	}
	return s.jobs[0].clone(), true
}

// Validate checks the set for configuration errors.
//
// Outputs:
//   - error: nil if valid, otherwise an error wrapping ErrInvalidJob that
//     joins every problem found (empty set, empty or duplicate IDs, empty
//     or malformed overlay keys).
func (s *JobSet) Validate() error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("%w: at least one job is required", ErrInvalidJob)
	}

	var errs []error
	seen := make(map[string]struct{}, len(s.jobs))
	for _, j := range s.jobs {
		errs = append(errs, j.validate()...)
		if j.ID == "" {
			continue
		}
		if _, dup := seen[j.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate job id %q", j.ID))
		}
		seen[j.ID] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidJob, errors.Join(errs...))
	}
	return nil
}
